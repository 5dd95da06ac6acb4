package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eol-uchile/uchileedxlogin/internal/audit"
	enrollhandler "github.com/eol-uchile/uchileedxlogin/internal/enrollment/handler"
	enrollmetrics "github.com/eol-uchile/uchileedxlogin/internal/enrollment/metrics"
	enrollservice "github.com/eol-uchile/uchileedxlogin/internal/enrollment/service"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/store/enrollments"
	"github.com/eol-uchile/uchileedxlogin/internal/enrollment/store/pending"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/emails"
	identityhandler "github.com/eol-uchile/uchileedxlogin/internal/identity/handler"
	identitymetrics "github.com/eol-uchile/uchileedxlogin/internal/identity/metrics"
	identityservice "github.com/eol-uchile/uchileedxlogin/internal/identity/service"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/accounts"
	"github.com/eol-uchile/uchileedxlogin/internal/identity/store/identities"
	"github.com/eol-uchile/uchileedxlogin/internal/jwttoken"
	"github.com/eol-uchile/uchileedxlogin/internal/notify"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/config"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/httpserver"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/kafka"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/logger"
	platformmetrics "github.com/eol-uchile/uchileedxlogin/internal/platform/metrics"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/postgres"
	"github.com/eol-uchile/uchileedxlogin/internal/platform/redis"
	"github.com/eol-uchile/uchileedxlogin/internal/provider"
)

const auditInboxSize = 1024

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var providerClient provider.Client = provider.NewHTTPClient(provider.HTTPConfig{
		BaseURL: cfg.Provider.BaseURL,
		AppKey:  cfg.Provider.AppKey,
		Origin:  cfg.Provider.Origin,
		Timeout: cfg.Provider.Timeout,
	}, log)
	if redisClient != nil {
		providerClient = provider.NewCachingClient(providerClient, redisClient.Client, cfg.Redis.CacheTTL, log)
	}

	httpMetrics := platformmetrics.New()
	idMetrics := identitymetrics.New()
	enMetrics := enrollmetrics.New()

	identityOpts := []identityservice.Option{
		identityservice.WithLogger(log),
		identityservice.WithMetrics(idMetrics),
	}
	enrollOpts := []enrollservice.Option{
		enrollservice.WithLogger(log),
		enrollservice.WithMetrics(enMetrics),
		enrollservice.WithMailer(notify.NewLogMailer(log)),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers}, log)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.AuditTopic, 3); err != nil {
			log.Error("failed to create audit topic", "error", err)
			os.Exit(1)
		}
		worker := audit.NewWorker(audit.NewPublisher(producer, cfg.Kafka.AuditTopic), auditInboxSize, log)
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("audit worker stopped", "error", err)
			}
		}()
		identityOpts = append(identityOpts, identityservice.WithAuditPublisher(worker))
		enrollOpts = append(enrollOpts, enrollservice.WithAuditPublisher(worker))
	}

	accountStore := accounts.NewPostgres(db)
	identityStore := identities.NewPostgres(db)

	identitySvc := identityservice.New(
		accountStore,
		identityStore,
		providerClient,
		emails.NewSelector(cfg.Auth.InstitutionalDomain),
		identityOpts...,
	)
	enrollSvc := enrollservice.New(
		pending.NewPostgres(db),
		enrollments.NewPostgres(db),
		accountStore,
		identitySvc,
		providerClient,
		postgres.NewRunner(db),
		enrollOpts...,
	)
	// Logins drain pending registrations through the enrollment service.
	identitySvc.SetDrainer(enrollSvc)

	tokenValidator := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)

	router := chi.NewRouter()
	enrollhandler.New(enrollSvc, providerClient, enrollhandler.AllowAllOracle{}, log, httpMetrics, tokenValidator).Register(router)
	identityhandler.New(identitySvc, log, httpMetrics, tokenValidator).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	go func() {
		log.Info("starting uchileedxlogin", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
