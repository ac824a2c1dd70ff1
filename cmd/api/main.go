package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prepdeck/prepdeck/pkg/billing"
	"github.com/prepdeck/prepdeck/pkg/config"
	"github.com/prepdeck/prepdeck/pkg/httpserver"
	"github.com/prepdeck/prepdeck/pkg/logger"
	"github.com/prepdeck/prepdeck/pkg/pg"
	"github.com/prepdeck/prepdeck/pkg/redis"
	billinghttp "github.com/prepdeck/prepdeck/svc/billing"
)

type appConfig struct {
	AppName     string `env:"APP_NAME" envDefault:"prepdeck-api"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	// Provider selects the billing backend: stripe, paddle or direct.
	Provider string `env:"BILLING_PROVIDER" envDefault:"direct"`

	// CatalogPath overrides the built-in plan catalog with a YAML file.
	// Provider-backed deployments need it for real price IDs.
	CatalogPath string `env:"BILLING_CATALOG_PATH"`

	// DatabaseURL enables the Postgres entitlement store. Empty keeps the
	// in-memory store, which only suits local development.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisURL enables cross-replica webhook deduplication.
	RedisURL string `env:"REDIS_URL"`

	WebhookDedupeTTL time.Duration `env:"BILLING_WEBHOOK_DEDUPE_TTL" envDefault:"24h"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New(logger.WithEnvironment(cfg.Environment, cfg.AppName))
	logger.SetAsDefault(log)

	catalog := billing.DefaultCatalog()
	if cfg.CatalogPath != "" {
		var err error
		catalog, err = billing.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("load plan catalog: %w", err)
		}
	}

	var probes []func(context.Context) error

	store := billing.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			return err
		}

		store = billing.NewPGStore(pool)
		probes = append(probes, pg.Healthcheck(pool))
		log.InfoContext(ctx, "using postgres entitlement store")
	} else {
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory entitlement store")
	}

	var dedupe billing.Deduper = billing.NewMemoryDeduper(cfg.WebhookDedupeTTL)
	if cfg.RedisURL != "" {
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = client.Close() }()

		dedupe = billing.NewRedisDeduper(client, cfg.WebhookDedupeTTL)
		probes = append(probes, redis.Healthcheck(client))
		log.InfoContext(ctx, "using redis webhook deduplication")
	}

	notifier := billing.Notifier(billing.NewLogNotifier(log))
	var emailCfg billing.EmailNotifierConfig
	if err := config.Load(&emailCfg); err == nil && emailCfg.Configured() {
		n, err := billing.NewEmailNotifier(emailCfg)
		if err != nil {
			return fmt.Errorf("init email notifier: %w", err)
		}
		notifier = n
		log.InfoContext(ctx, "payment failure notices go out via postmark")
	}

	var provider billing.Provider
	mode := billing.ModeDirect
	signatureHeader := ""

	switch strings.ToLower(cfg.Provider) {
	case "stripe":
		var stripeCfg billing.StripeConfig
		config.MustLoad(&stripeCfg)
		p, err := billing.NewStripeProvider(stripeCfg, catalog)
		if err != nil {
			return fmt.Errorf("init stripe provider: %w", err)
		}
		provider = p
		mode = billing.ModeProvider
		signatureHeader = "Stripe-Signature"
	case "paddle":
		var paddleCfg billing.PaddleConfig
		config.MustLoad(&paddleCfg)
		p, err := billing.NewPaddleProvider(paddleCfg, catalog)
		if err != nil {
			return fmt.Errorf("init paddle provider: %w", err)
		}
		provider = p
		mode = billing.ModeProvider
		signatureHeader = "Paddle-Signature"
	case "direct", "":
		log.InfoContext(ctx, "billing runs in direct mode, no payment provider")
	default:
		return fmt.Errorf("unknown billing provider %q", cfg.Provider)
	}

	svc, err := billing.NewService(catalog, store, provider, mode,
		billing.WithLogger(log),
		billing.WithDeduper(dedupe),
		billing.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}

	routerOpts := []billinghttp.RouterOption{billinghttp.WithLogger(log)}
	if signatureHeader != "" {
		routerOpts = append(routerOpts, billinghttp.WithSignatureHeader(signatureHeader))
	}

	r := chi.NewRouter()
	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log, probes...))
	r.Mount("/billing", billinghttp.Router(svc, routerOpts...))

	var srvCfg httpserver.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}
	srv := httpserver.New(srvCfg, httpserver.WithLogger(log))

	log.InfoContext(ctx, "starting api",
		slog.String("env", cfg.Environment),
		slog.String("billing_provider", cfg.Provider),
	)
	return srv.Run(ctx, r)
}
