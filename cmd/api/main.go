package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"merchant-wallet-ledger/config"
	httpHandler "merchant-wallet-ledger/internal/adapter/http/handler"
	"merchant-wallet-ledger/internal/adapter/pricefeed"
	pgStorage "merchant-wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "merchant-wallet-ledger/internal/adapter/storage/redis"
	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/internal/service"
	"merchant-wallet-ledger/internal/worker"
	"merchant-wallet-ledger/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Getenv("MWL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("network", cfg.Bitcoin.Network).
		Msg("Starting merchant wallet ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := pgStorage.ApplyMigrations(pool, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	// Redis
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	addressRepo := pgStorage.NewAddressRepo(pool)
	counterRepo := pgStorage.NewCounterRepo(pool)
	depositRepo := pgStorage.NewDepositRepo(pool)
	settingsRepo := pgStorage.NewSettingsRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateCache := redisStorage.NewRateCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	observations := redisStorage.NewObservationStream(rdb, cfg.Deposits.Stream, cfg.Deposits.Group)

	// Core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	deriver := service.NewHDAddressDeriver()
	auditSvc := service.NewAuditService(auditRepo, log)

	rateSources, err := pricefeed.New(cfg.Rates.Sources, pricefeed.Options{
		HTTPClient:        &http.Client{Timeout: cfg.Rates.Timeout},
		RequestsPerSecond: cfg.Rates.RequestsPerSecond,
		CoinbaseURL:       cfg.Rates.CoinbaseURL,
		CoinGeckoURL:      cfg.Rates.CoinGeckoURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid rate source configuration")
	}

	// Business services
	settingsSvc := service.NewSettingsService(settingsRepo, counterRepo, encSvc, deriver, cfg.Deposits.ConfirmationThreshold, log)
	ledgerSvc := service.NewLedgerService(walletRepo, ledgerRepo, depositRepo, idempotencyCache, log)
	addressSvc := service.NewAddressService(addressRepo, counterRepo, settingsSvc, deriver,
		domain.Network(cfg.Bitcoin.Network), cfg.Allocator.MaxAttempts, log)
	depositSvc := service.NewDepositService(addressRepo, depositRepo, settingsSvc, ledgerSvc, log)
	reconciliationSvc := service.NewReconciliationService(depositRepo, ledgerRepo, walletRepo, log)
	rateSvc := service.NewRateService(rateSources, rateCache, cfg.Rates.Timeout, cfg.Rates.FreshTTL, log)
	authSvc := service.NewAuthService(merchantRepo, walletRepo, transactor, hashSvc, encSvc, tokenSvc, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:           authSvc,
		AddressSvc:        addressSvc,
		DepositSvc:        depositSvc,
		LedgerSvc:         ledgerSvc,
		ReconciliationSvc: reconciliationSvc,
		RateSvc:           rateSvc,
		SettingsSvc:       settingsSvc,
		MerchantRepo:      merchantRepo,
		EncSvc:            encSvc,
		SigSvc:            sigSvc,
		NonceStore:        nonceStore,
		TokenSvc:          tokenSvc,
		RateLimiter:       rateLimitStore,
		HealthCheckers:    []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		AuditSvc:          auditSvc,
		Logger:            log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Deposits.WorkerEnabled {
		observer := worker.NewObservationWorker(observations, depositSvc, worker.Options{
			Consumer:  cfg.Deposits.Consumer,
			BatchSize: cfg.Deposits.BatchSize,
			Block:     cfg.Deposits.Block,
			ClaimIdle: cfg.Deposits.ClaimIdle,
		}, log)
		g.Go(func() error { return observer.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := auditSvc.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Pending audit entries dropped")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited")
}
