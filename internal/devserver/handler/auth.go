package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"storefront-live/internal/auth"
	"storefront-live/internal/devserver/middleware"
	"storefront-live/internal/devserver/store"
	"storefront-live/internal/model"
)

const (
	codePendingVerification = "PENDING_VERIFICATION"
	codeAccountDisabled     = "ACCOUNT_DISABLED"
)

type AuthHandler struct {
	Store        *store.Store
	TokenConfig  auth.TokenConfig
	SecureCookie bool
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	acc, err := h.Store.Authenticate(body.Email, body.Password)
	switch {
	case errors.Is(err, store.ErrPendingVerification):
		c.JSON(http.StatusForbidden, gin.H{"error": "Seller account pending verification", "code": codePendingVerification})
		return
	case errors.Is(err, store.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "Account disabled", "code": codeAccountDisabled})
		return
	case err != nil:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := h.issueTokens(c, acc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": acc.Identity()})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if tok, err := c.Cookie(middleware.RefreshCookie); err == nil && tok != "" {
		if claims, err := auth.VerifyToken(tok, auth.RefreshToken, h.TokenConfig); err == nil {
			h.Store.RevokeToken(claims.ID, claims.ExpiresAt.Time)
		}
	}
	if tok, err := c.Cookie(middleware.AccessCookie); err == nil && tok != "" {
		if claims, err := auth.VerifyToken(tok, auth.AccessToken, h.TokenConfig); err == nil {
			h.Store.RevokeToken(claims.ID, claims.ExpiresAt.Time)
		}
	}
	h.clearCookies(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Refresh rotates both tokens. The presented refresh token is single use.
func (h *AuthHandler) Refresh(c *gin.Context) {
	tok, err := c.Cookie(middleware.RefreshCookie)
	if err != nil || tok == "" {
		h.rejectRefresh(c)
		return
	}
	claims, err := auth.VerifyToken(tok, auth.RefreshToken, h.TokenConfig)
	if err != nil || h.Store.IsRevoked(claims.ID) {
		h.rejectRefresh(c)
		return
	}
	acc, ok := h.Store.Get(claims.UserID)
	if !ok || !acc.IsActive {
		h.rejectRefresh(c)
		return
	}

	h.Store.RevokeToken(claims.ID, claims.ExpiresAt.Time)
	if err := h.issueTokens(c, acc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": acc.Identity()})
}

func (h *AuthHandler) rejectRefresh(c *gin.Context) {
	h.clearCookies(c)
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
}

func (h *AuthHandler) Profile(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	acc, ok := h.Store.Get(userID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": acc.Identity()})
}

func (h *AuthHandler) Register(c *gin.Context) {
	h.register(c, model.RoleUser)
}

func (h *AuthHandler) RegisterSeller(c *gin.Context) {
	h.register(c, model.RoleSeller)
}

func (h *AuthHandler) register(c *gin.Context, role model.Role) {
	var body store.Registration
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	body.Role = role

	acc, err := h.Store.CreateAccount(body)
	if err != nil {
		field, ok := store.FieldError(err)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
			return
		}
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrUserExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "fields": gin.H{field: err.Error()}})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": acc.Identity()})
}

func (h *AuthHandler) issueTokens(c *gin.Context, acc store.Account) error {
	access, err := auth.CreateToken(auth.AccessToken, acc.ID, string(acc.Role), h.TokenConfig)
	if err != nil {
		return err
	}
	refresh, err := auth.CreateToken(auth.RefreshToken, acc.ID, string(acc.Role), h.TokenConfig)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookie, access, seconds(h.TokenConfig.AccessTTL), "/", "", h.SecureCookie, true)
	c.SetCookie(middleware.RefreshCookie, refresh, seconds(h.TokenConfig.RefreshTTL), "/", "", h.SecureCookie, true)
	return nil
}

func (h *AuthHandler) clearCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookie, "", -1, "/", "", h.SecureCookie, true)
	c.SetCookie(middleware.RefreshCookie, "", -1, "/", "", h.SecureCookie, true)
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
