package handler

import (
	"merchant-wallet-ledger/internal/adapter/http/middleware"
	"merchant-wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc           ports.AuthService
	AddressSvc        ports.AddressService
	DepositSvc        ports.DepositService
	LedgerSvc         ports.LedgerService
	ReconciliationSvc ports.ReconciliationService
	RateSvc           ports.RateService
	SettingsSvc       ports.SettingsService
	MerchantRepo      ports.MerchantRepository
	EncSvc            ports.EncryptionService
	SigSvc            ports.SignatureService
	NonceStore        ports.NonceStore
	TokenSvc          ports.TokenService
	RateLimiter       middleware.Limiter // nil = rate limiting disabled
	HealthCheckers    []ports.HealthChecker
	AuditSvc          ports.AuditService // nil = audit logging disabled
	Logger            zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimiter == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- HMAC-authenticated storefront plugin API ---
	hmacAuth := middleware.HMACAuth(deps.MerchantRepo, deps.EncSvc, deps.SigSvc, deps.NonceStore, deps.Logger)
	storefrontHandler := NewStorefrontHandler(deps.AddressSvc, deps.RateSvc, deps.LedgerSvc)
	storefront := v1.Group("/storefront", hmacAuth, rl("storefront"))
	{
		storefront.POST("/deposit-address", storefrontHandler.DepositAddress)
		storefront.GET("/wallet", storefrontHandler.WalletSummary)
	}

	// --- JWT-authenticated dashboard ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc)
	walletHandler := NewWalletHandler(deps.LedgerSvc)
	wallets := v1.Group("/wallets", jwtAuth, rl("dashboard"))
	{
		wallets.GET("", walletHandler.ListWallets)
		wallets.GET("/transactions", walletHandler.ListTransactions)
	}

	// --- Admin console (JWT with ADMIN role) ---
	adminHandler := NewAdminHandler(deps.ReconciliationSvc, deps.AddressSvc, deps.DepositSvc, deps.SettingsSvc)
	admin := v1.Group("/admin", jwtAuth, middleware.RequireAdmin())
	{
		admin.GET("/reconciliation", rl("admin"), adminHandler.Reconciliation)

		admin.GET("/addresses", rl("admin"), adminHandler.ListAddresses)
		admin.POST("/addresses/rotate", rl("admin"), adminHandler.RotateAddress)

		admin.GET("/deposits", rl("admin"), adminHandler.ListDeposits)
		admin.POST("/deposits/observations", rl("admin_ingest"), adminHandler.IngestObservations)

		admin.POST("/wallets/:id/adjust", rl("admin"), walletHandler.Adjust)
		admin.POST("/wallets/:id/reserve", rl("admin"), walletHandler.Reserve)

		admin.PUT("/settings/extended-key", rl("admin"), adminHandler.SetExtendedKey)
		admin.PUT("/settings/confirmation-threshold", rl("admin"), adminHandler.SetConfirmationThreshold)
	}

	return r
}
