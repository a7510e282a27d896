package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"storefront-live/internal/auth"
	"storefront-live/internal/config"
	"storefront-live/internal/devserver/handler"
	"storefront-live/internal/devserver/hub"
	"storefront-live/internal/devserver/middleware"
	"storefront-live/internal/devserver/socket"
	"storefront-live/internal/devserver/store"
)

const RealtimeSecretHeader = "X-Realtime-Secret"

// Deps carries everything the dev server router needs.
type Deps struct {
	Store           *store.Store
	TokenConfig     auth.TokenConfig
	Socket          *socket.Server
	RealtimeKey     string
	RealtimeSecret  string
	RealtimeCluster string
	PingInterval    time.Duration
	PingTimeout     time.Duration
	SecureCookie    bool
	LoginLimit      int
	Logger          *slog.Logger
}

// DepsFromConfig derives token and realtime settings from cfg.
func DepsFromConfig(cfg config.DevServerConfig, st *store.Store, logger *slog.Logger) Deps {
	tokens := auth.DefaultTokenConfig(cfg.MasterSecret)
	tokens.AccessTTL = cfg.AccessTokenTTL
	tokens.RefreshTTL = cfg.RefreshTokenTTL
	return Deps{
		Store:           st,
		TokenConfig:     tokens,
		RealtimeKey:     cfg.RealtimeKey,
		RealtimeSecret:  cfg.RealtimeSecret,
		RealtimeCluster: cfg.RealtimeCluster,
		SecureCookie:    cfg.TLSCertFile != "",
		Logger:          logger,
	}
}

// NewSocket builds the realtime socket server the router mounts.
func NewSocket(deps Deps) *socket.Server {
	return socket.NewServer(hub.New(), socket.Options{
		Key:          deps.RealtimeKey,
		Secret:       deps.RealtimeSecret,
		Cluster:      deps.RealtimeCluster,
		PingInterval: deps.PingInterval,
		PingTimeout:  deps.PingTimeout,
		Logger:       deps.Logger,
	})
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Socket == nil {
		deps.Socket = NewSocket(deps)
	}
	if deps.LoginLimit <= 0 {
		deps.LoginLimit = 10
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	loginLimiter := middleware.NewRateLimiter(deps.LoginLimit, time.Minute)
	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, SecureCookie: deps.SecureCookie}
	requireAuth := middleware.RequireAuth(deps.TokenConfig, deps.Store)

	r.POST("/login", middleware.RateLimitMiddleware(loginLimiter), authHandler.Login)
	r.POST("/logout", authHandler.Logout)
	r.POST("/refresh", authHandler.Refresh)
	r.POST("/register", middleware.RateLimitMiddleware(loginLimiter), authHandler.Register)
	r.POST("/register-seller", middleware.RateLimitMiddleware(loginLimiter), authHandler.RegisterSeller)
	r.GET("/profile", requireAuth, authHandler.Profile)

	rt := &handler.RealtimeHandler{Socket: deps.Socket, Key: deps.RealtimeKey, Secret: deps.RealtimeSecret}
	r.GET("/realtime", rt.Serve)
	r.POST("/realtime/auth", requireAuth, rt.Auth)
	internal := r.Group("/realtime")
	internal.Use(middleware.RequireSecret(RealtimeSecretHeader, deps.RealtimeSecret))
	internal.POST("/publish", rt.Publish)
	internal.POST("/disconnect", rt.Disconnect)

	admin := r.Group("/admin")
	admin.Use(requireAuth, middleware.RequireRole("ADMIN"))
	adminHandler := &handler.AdminHandler{Store: deps.Store, Socket: deps.Socket}
	admin.GET("/users", adminHandler.ListAccounts)
	admin.POST("/sellers/:id/verify", adminHandler.VerifySeller)

	return r
}
