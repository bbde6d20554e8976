package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"certo/internal/audit"
	audithandler "certo/internal/audit/handler"
	"certo/internal/audit/outbox"
	auditstore "certo/internal/audit/store"
	certhandler "certo/internal/certificate/handler"
	"certo/internal/certificate/service"
	"certo/internal/certificate/store"
	"certo/internal/idempotency"
	idemstore "certo/internal/idempotency/store"
	"certo/internal/issuer"
	"certo/internal/jobs"
	"certo/internal/platform/config"
	"certo/internal/platform/httpserver"
	"certo/internal/platform/kafka"
	"certo/internal/platform/logger"
	"certo/internal/platform/metrics"
	"certo/internal/platform/postgres"
	"certo/internal/platform/redis"
	"certo/internal/registry"
	"certo/internal/registry/cache"
	"certo/pkg/platform/bulkhead"
	"certo/pkg/platform/circuit"
	"certo/pkg/platform/middleware/admin"
	"certo/pkg/platform/middleware/auth"
	"certo/pkg/platform/middleware/metadata"
	"certo/pkg/platform/middleware/requesttime"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("certo stopped", "error", err)
		os.Exit(1)
	}
}

// stores groups the persistence chosen at startup.
type stores struct {
	db           *sql.DB
	certificates service.Store
	audit        audit.Store
	outbox       outbox.Store
	idempotency  idempotency.Store
}

func openStores(ctx context.Context, cfg config.Database, log *slog.Logger) (*stores, error) {
	if cfg.DSN == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		auditLog := auditstore.NewInMemory()
		return &stores{
			certificates: store.NewInMemory(auditLog),
			audit:        auditLog,
			idempotency:  idemstore.NewInMemory(),
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	auditLog := auditstore.NewPostgres(db)
	return &stores{
		db:           db,
		certificates: store.NewPostgres(db),
		audit:        auditLog,
		outbox:       auditLog,
		idempotency:  idemstore.NewPostgres(db),
	}, nil
}

func newBreaker(name string, cfg config.Upstream, isFailure func(error) bool, m *metrics.Metrics, log *slog.Logger) *circuit.Breaker {
	return circuit.New(name,
		circuit.WithTimeout(cfg.Timeout),
		circuit.WithErrorThresholdPercentage(cfg.ErrorThresholdPct),
		circuit.WithMinimumRequests(cfg.MinimumRequests),
		circuit.WithResetTimeout(cfg.ResetTimeout),
		circuit.WithIsFailure(isFailure),
		circuit.WithObserver(func(name string, from, to circuit.State) {
			m.SetBreakerState(name, int(to))
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	st, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	registryBreaker := newBreaker("registry", cfg.Registry, registry.CountsAsFailure, m, log)
	registryOpts := []registry.Option{
		registry.WithBulkhead(bulkhead.New("registry", cfg.Registry.MaxConcurrent)),
		registry.WithMetrics(m),
		registry.WithLogger(log),
	}
	if rdb != nil {
		defer rdb.Close()
		registryOpts = append(registryOpts, registry.WithCache(cache.NewRedisCache(rdb, cfg.Redis.CacheTTL)))
	}
	registryService := registry.NewService(
		registry.NewHTTPClient(cfg.Registry.BaseURL, cfg.Registry.Timeout),
		registry.Credentials{Username: cfg.Registry.Username, Password: cfg.Registry.Password},
		registryBreaker,
		registryOpts...,
	)

	issuerBreaker := newBreaker("issuer", cfg.Issuer, issuer.CountsAsFailure, m, log)
	issuerClient := issuer.NewHTTPClient(cfg.Issuer.BaseURL, cfg.Issuer.Timeout)
	gateway := issuer.NewGateway(
		issuerClient,
		issuer.NewLoginSource(issuerClient, issuer.Credentials{Username: cfg.Issuer.Username, Password: cfg.Issuer.Password}),
		issuerBreaker,
		issuer.WithBulkhead(bulkhead.New("issuer", cfg.Issuer.MaxConcurrent)),
		issuer.WithMetrics(m),
		issuer.WithLogger(log),
	)

	guard := idempotency.NewGuard(st.idempotency,
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(log),
		idempotency.WithMetrics(m),
	)
	certificates := service.New(st.certificates, registryService, gateway, guard, audit.NewWriter(),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithMaxRetries(cfg.Issuance.MaxRetries),
		service.WithReconcileAfter(cfg.Issuance.ReconcileAfter),
		service.WithBatchSize(cfg.Issuance.BatchSize),
	)
	auditService := audit.NewService(st.audit, audit.WithLogger(log))

	scheduler := jobs.New(jobs.WithLogger(log), jobs.WithMetrics(m))
	schedule := []jobs.Job{
		jobs.IdempotencySweep(cfg.Jobs.IdempotencySweep, guard),
		jobs.AuditRetention(cfg.Jobs.AuditRetention, auditService, cfg.Jobs.AuditRetentionPeriod, time.Now),
		jobs.Reconcile(cfg.Jobs.Reconcile, certificates),
		jobs.TransientRetry(cfg.Jobs.TransientRetry, certificates),
	}

	var producer *kafka.Producer
	switch {
	case len(cfg.Kafka.Brokers) == 0:
		log.Info("KAFKA_BROKERS not set, audit outbox relay disabled")
	case st.outbox == nil:
		log.Warn("audit outbox relay needs PostgreSQL, relay disabled")
	default:
		producer, err = kafka.NewProducer(kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			ClientID:          cfg.Kafka.ClientID,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		})
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		relay := outbox.NewRelay(st.outbox, outbox.NewKafkaPublisher(producer),
			outbox.WithBatchSize(cfg.Issuance.BatchSize),
			outbox.WithLogger(log),
			outbox.WithMetrics(m),
		)
		schedule = append(schedule, jobs.OutboxRelay(cfg.Jobs.OutboxRelay, relay))
	}
	for _, job := range schedule {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}

	health := &healthHandler{
		breakers: []*circuit.Breaker{registryBreaker, issuerBreaker},
	}
	if st.db != nil {
		health.checks = append(health.checks, check{name: "postgres", critical: true, fn: st.db.PingContext})
	}
	if rdb != nil {
		health.checks = append(health.checks, check{name: "redis", fn: rdb.Health})
	}
	if producer != nil {
		health.checks = append(health.checks, check{name: "kafka", fn: producer.Ping})
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Get("/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	validator := auth.NewValidator(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator(validator, log))
		certhandler.New(certificates, guard, log).Register(r)
		audithandler.New(auditService, log).Register(r)
	})
	if cfg.Auth.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.Auth.AdminToken, log))
			jobs.NewHandler(scheduler, log).Register(r)
		})
	}

	srv := httpserver.New(cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting certo", "addr", cfg.Server.Addr)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		scheduler.Start(gctx)
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return scheduler.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("certo stopped cleanly")
	return nil
}
