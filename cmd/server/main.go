package main // Entry point package

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/auth"
	"github.com/offsetpool/offsetpool/internal/batch"
	"github.com/offsetpool/offsetpool/internal/config"
	"github.com/offsetpool/offsetpool/internal/dashboard"
	"github.com/offsetpool/offsetpool/internal/database"
	"github.com/offsetpool/offsetpool/internal/gateway"
	"github.com/offsetpool/offsetpool/internal/handler"
	"github.com/offsetpool/offsetpool/internal/ledger"
	"github.com/offsetpool/offsetpool/internal/middleware"
	"github.com/offsetpool/offsetpool/internal/payment"
	"github.com/offsetpool/offsetpool/internal/pool"
	"github.com/offsetpool/offsetpool/internal/prepaid"
	"github.com/offsetpool/offsetpool/internal/queue"
	"github.com/offsetpool/offsetpool/internal/retirement"
	"github.com/offsetpool/offsetpool/internal/router"
	"github.com/offsetpool/offsetpool/internal/selector"
	"github.com/offsetpool/offsetpool/internal/subsync"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments use the environment

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()

	// Wallet is optional: without one every retirement falls back to the
	// marketplace link.
	var wallet *ledger.Wallet
	if cfg.HasWallet() {
		w, err := ledger.NewWallet(cfg.WalletMnemonic, cfg.WalletDerivationPath, cfg.Bech32Prefix)
		if err != nil {
			log.Fatal().Err(err).Msg("wallet derivation failed")
		}
		wallet = w
		log.Info().Str("address", w.Address()).Msg("wallet ready")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unavailable; rate limiting and ledger cache disabled")
	}

	ledgerClient := ledger.New(cfg, wallet, rdb, log)
	sel := selector.New(ledgerClient, cfg.NativeDenom)

	// Stores.
	poolStore, err := pool.Open(cfg.PoolStatePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("pool store open failed")
	}
	batchStore, err := batch.OpenStore(cfg.BatchStatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("batch store open failed")
	}
	reconStore, err := batch.OpenReconStore(cfg.ReconStatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("reconciliation store open failed")
	}
	authStore, err := auth.OpenStore(cfg.AuthStatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("auth store open failed")
	}

	// Prepaid store (optional).
	var (
		userRepo    *prepaid.UserRepo
		balanceRepo *prepaid.BalanceRepo
	)
	if cfg.HasPrepaidStore() {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal().Err(err).Msg("prepaid database open failed")
		}
		userRepo = prepaid.NewUserRepo(db, cfg.BcryptCost)
		balanceRepo = prepaid.NewBalanceRepo(db)
	}

	// Payment gateway (optional).
	var gw *gateway.Client
	if cfg.StripeSecretKey != "" {
		gw = gateway.New(cfg.StripeAPIURL, cfg.StripeSecretKey, log)
	}

	publisher := queue.NewPublisher(log)

	usdcDenom := ""
	if len(cfg.USDCDenoms) > 0 {
		usdcDenom = cfg.USDCDenoms[0]
	}

	// Payment provider per config.
	var provider payment.Provider
	fiat := false
	switch cfg.PaymentProvider {
	case "stripe":
		if gw == nil {
			log.Fatal().Msg("PAYMENT_PROVIDER=stripe requires STRIPE_SECRET_KEY")
		}
		provider = payment.NewStripeProvider(gw,
			os.Getenv("STRIPE_CUSTOMER_ID"), os.Getenv("STRIPE_PAYMENT_METHOD_ID"),
			cfg.IsUSDCDenom, log)
		fiat = true
	default:
		provider = payment.NewCryptoProvider(ledgerClient, log)
	}

	retireSvc := retirement.New(retirement.Options{
		Ledger:         ledgerClient,
		Selector:       sel,
		Provider:       provider,
		Prepaid:        balanceRepo,
		Notifier:       publisher,
		MarketplaceURL: cfg.MarketplaceURL,
		Fiat:           fiat,
		USDCDenom:      usdcDenom,
		IsUSDC:         cfg.IsUSDCDenom,
		Log:            log,
	})

	var syncSvc *subsync.Service
	if gw != nil {
		syncSvc = subsync.New(gw, poolStore, cfg.PriceTierTable, log)
	}

	driver := batch.NewDriver(batch.DriverOptions{
		Pool:           poolStore,
		Orders:         sel,
		Executor:       retireSvc,
		Store:          batchStore,
		Recon:          reconStore,
		Syncer:         syncSvc,
		FeeBasisPoints: cfg.FeeBasisPoints,
		USDCDenom:      usdcDenom,
		Jurisdiction:   cfg.Jurisdiction,
		BaseReason:     cfg.BatchReason,
		Log:            log,
	})

	authSvc := auth.New(auth.Options{
		Store:       authStore,
		Secret:      cfg.AuthSecret,
		Providers:   cfg.OAuthProviders,
		SessionTTL:  time.Duration(cfg.SessionTTLMin) * time.Minute,
		RecoveryTTL: time.Duration(cfg.RecoveryTTLHours) * time.Hour,
		MaxAttempts: cfg.MaxVerifyAttempts,
		Log:         log,
	})

	projection := dashboard.New(poolStore, batchStore, ledgerClient)

	// Background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.StartRetirementConsumer(log)
	if cfg.MonthlyBatch {
		go batch.NewScheduler(driver, 0, log).Run(ctx, cfg.CreditType)
	}

	// HTTP surface.
	e := echo.New()
	e.HideBanner = true
	h := router.Handlers{
		Retirement: handler.NewRetirementHandler(retireSvc),
		Pool:       handler.NewPoolHandler(poolStore, syncSvc, publisher),
		Batch:      handler.NewBatchHandler(driver, batchStore, reconStore),
		Auth: handler.NewAuthHandler(authSvc, cfg.AuthSecret,
			time.Duration(cfg.DashboardTokenTTLMin)*time.Minute),
		Dashboard: handler.NewDashboardHandler(projection),
	}
	var usage middleware.UsageRecorder
	if balanceRepo != nil {
		usage = balanceRepo
		h.Account = handler.NewAccountHandler(balanceRepo)
		h.Webhook = handler.NewWebhookHandler(cfg.StripeWebhookSecret, userRepo, balanceRepo, poolStore, publisher, log)
	}
	router.Register(e, h, userRepo, usage, rdb, log)

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Str("env", cfg.Env).Bool("wallet", cfg.HasWallet()).
		Bool("crosschain", cfg.CrossChainEnabled).Msg("listening")
	if err := e.Start(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
