package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"storefront-live/internal/auth"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	claimsContextKey = "claims"
)

type RevocationChecker interface {
	IsRevoked(jti string) bool
}

func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil && claims.UserID != ""
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		return "", false
	}
	return claims.UserID, true
}

// accessToken reads the access cookie, falling back to a bearer header.
func accessToken(c *gin.Context) string {
	if tok, err := c.Cookie(AccessCookie); err == nil && tok != "" {
		return tok
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func RequireAuth(cfg auth.TokenConfig, revoked RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := accessToken(c)
		if tok == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(tok, auth.AccessToken, cfg)
		if err != nil || (revoked != nil && revoked.IsRevoked(claims.ID)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			c.Abort()
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		c.Abort()
	}
}

// RequireSecret guards server-to-server endpoints with a shared secret header.
func RequireSecret(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader(header) != secret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
			c.Abort()
			return
		}
		c.Next()
	}
}
