// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gym-membership/internal/config"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	payAdapters "gym-membership/internal/infra/adapters/payment"
	"gym-membership/internal/infra/api"
	"gym-membership/internal/infra/db/migrate"
	pg "gym-membership/internal/infra/db/postgres"
	"gym-membership/internal/infra/events"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"
	red "gym-membership/internal/infra/redis"
	"gym-membership/internal/infra/sched"
	"gym-membership/internal/infra/worker"
	"gym-membership/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop gateway, console logs)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	if cfg.Database.MigrationsPath != "" {
		if err := migrate.Run(cfg.Database.URL, cfg.Database.MigrationsPath, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	verifyLimiter := red.NewRateLimiter(redisClient, cfg.Verify.RateLimit, cfg.Verify.RateWindow)

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	purchaseRepo := pg.NewPurchaseRepo(pool)
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewUserRepo(pool), redisClient, cfg.Redis.TTL, logger)

	// ---- Plans ----
	plans, err := buildPlans(cfg.Billing.Plans)
	if err != nil {
		logger.Fatal().Err(err).Msg("billing plans")
	}

	// ---- Payment gateway ----
	var (
		gateway  adapter.PaymentGateway
		verifier adapter.WebhookVerifier
		devPayer api.DevPayer
	)
	switch strings.ToLower(cfg.Payment.Gateway) {
	case "noop":
		noop := payAdapters.NewNoopPaymentGateway(strings.TrimRight(cfg.HTTP.PublicBaseURL, "/") + "/dev/pay/")
		gateway, verifier, devPayer = noop, noop, noop
		logger.Warn().Msg("payment gateway: noop (webhook signatures are not checked)")
	default:
		stripe, err := payAdapters.NewStripeGateway(cfg.Payment.APIKey, cfg.Payment.APIBase, cfg.Payment.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
		sig, err := payAdapters.NewSignatureVerifier(cfg.Payment.WebhookSecret, cfg.Payment.WebhookTolerance)
		if err != nil {
			logger.Fatal().Err(err).Msg("webhook verifier")
		}
		gateway, verifier = stripe, sig
		logger.Info().Str("api_base", cfg.Payment.APIBase).Msg("payment gateway: stripe")
	}

	// ---- Settlement events ----
	var sink adapter.EventPublisher = events.NewNoopPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		sink = kp
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher")
	}
	eventPool := worker.NewPool(cfg.Kafka.Workers, logger)
	eventPool.Start(ctx)
	publisher := events.NewAsyncPublisher(sink, eventPool, logger)

	// ---- Use cases ----
	checkoutUC := usecase.NewCheckoutUseCase(userRepo, purchaseRepo, plans, gateway, usecase.CheckoutURLs{
		BaseURL:     cfg.HTTP.PublicBaseURL,
		SuccessPath: cfg.Payment.SuccessPath,
		CancelPath:  cfg.Payment.CancelPath,
	}, logger)
	reconcileUC := usecase.NewReconcileUseCase(purchaseRepo, userRepo, txManager, plans, publisher, logger)
	settlementUC := usecase.NewSettlementUseCase(reconcileUC, gateway, verifier, purchaseRepo, userRepo, logger)

	// ---- Orphan sweeper ----
	sweeper := sched.NewOrphanSweeper(checkoutUC, cfg.Payment.OrphanSweepInterval, cfg.Payment.OrphanAfter, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP ----
	auth := api.NewAuthManager(cfg.Auth.JWTSecret)
	srv := api.NewServer(cfg.HTTP, checkoutUC, settlementUC, auth, verifyLimiter, cfg.Runtime.Dev, logger)
	if cfg.Runtime.Dev && devPayer != nil {
		srv.WithDevPayer(devPayer)
	}
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	eventPool.Stop()
	cancel()
}

func buildPlans(cfgs []config.PlanConfig) (*usecase.PlanRegistry, error) {
	plans := make([]*model.Plan, 0, len(cfgs))
	for _, pc := range cfgs {
		role, err := model.ParseRole(pc.Role)
		if err != nil {
			return nil, err
		}
		p, err := model.NewPlan(pc.PriceID, pc.Name, role, pc.Amount, pc.Currency)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return usecase.NewPlanRegistry(plans...)
}
