package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/expensetracker/internal/authz"
	"github.com/example/expensetracker/internal/budget"
	"github.com/example/expensetracker/internal/config"
	"github.com/example/expensetracker/internal/events"
	"github.com/example/expensetracker/internal/guard"
	"github.com/example/expensetracker/internal/password"
	"github.com/example/expensetracker/internal/session"
	"github.com/example/expensetracker/internal/store"
	"github.com/example/expensetracker/internal/telemetry"
	"github.com/example/expensetracker/internal/token"
)

type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	store    store.Store
	codec    *token.Codec
	hasher   *password.Hasher
	sessions *session.Manager
	guard    *guard.Guard
	budgets  *budget.Service
	producer *budget.Producer
	limiter  *RateLimiter
	proxies  []netip.Prefix
}

// NewApp wires the request path on top of an open store and publisher.
func NewApp(c *config.Config, logger *slog.Logger, m *telemetry.Metrics, st store.Store, codec *token.Codec, pub events.Publisher) *App {
	hasher := password.NewHasher(password.Params{
		Memory:      c.Argon2Memory,
		Iterations:  c.Argon2Iterations,
		Parallelism: c.Argon2Parallelism,
		SaltLength:  password.DefaultParams.SaltLength,
		KeyLength:   password.DefaultParams.KeyLength,
	})
	budgets := budget.NewService(st, logger, m.BudgetBreaches)
	var proxies []netip.Prefix
	for _, raw := range c.TrustedProxies {
		p, err := config.ParseProxy(raw)
		if err != nil {
			logger.Warn("ignoring trusted proxy", "value", raw, "error", err)
			continue
		}
		proxies = append(proxies, p)
	}
	return &App{
		cfg:     c,
		logger:  logger,
		metrics: m,
		store:   st,
		codec:   codec,
		hasher:  hasher,
		sessions: session.NewManager(st, codec, hasher, session.Options{
			AccessTTL:  c.AccessTokenTTL,
			RefreshTTL: c.RefreshTokenTTL,
			Logger:     logger,
			Operations: m.AuthOperations,
		}),
		guard:    guard.New(codec, st, authz.NewEngine(c.AuthzStrictSubjects, logger), logger),
		budgets:  budgets,
		producer: budget.NewProducer(pub, logger, m.EventFailures),
		limiter:  NewRateLimiter(c.RateLimitPerMinute),
		proxies:  proxies,
	}
}

// Router builds the HTTP surface. Route templates name the request in logs,
// metrics and spans, so the per-route middleware sits on the mux itself.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.Tracing)
	r.Use(a.Logging)

	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.Use(a.RateLimit)
	auth.HandleFunc("/login", a.HandleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh-token", a.HandleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", a.HandleLogout).Methods(http.MethodPost)
	auth.Handle("/me", a.guard.ProtectFunc(a.HandleMe)).Methods(http.MethodGet)

	r.Handle("/users", a.guard.ProtectFunc(a.HandleCreateUser,
		authz.Require(authz.ActionCreate, authz.SubjectUser))).Methods(http.MethodPost)
	r.Handle("/users/{id:[0-9]+}", a.guard.ProtectFunc(a.HandleDeleteUser,
		authz.Require(authz.ActionDelete, authz.SubjectUser))).Methods(http.MethodDelete)

	r.Handle("/categories", a.guard.ProtectFunc(a.HandleCreateCategory,
		authz.Require(authz.ActionCreate, authz.SubjectCategory))).Methods(http.MethodPost)
	r.Handle("/transactions", a.guard.ProtectFunc(a.HandleCreateTransaction,
		authz.Require(authz.ActionCreate, authz.SubjectTransaction))).Methods(http.MethodPost)

	b := r.PathPrefix("/budgets").Subrouter()
	b.Handle("/set", a.guard.ProtectFunc(a.HandleSetBudget,
		authz.Require(authz.ActionCreate, authz.SubjectBudget))).Methods(http.MethodPost)
	b.Handle("/status/{categoryId:[0-9]+}", a.guard.ProtectFunc(a.HandleBudgetStatus,
		authz.Require(authz.ActionView, authz.SubjectBudget))).Methods(http.MethodGet)
	b.Handle("/user/{userId:[0-9]+}", a.guard.ProtectFunc(a.HandleUserBudgets,
		authz.Require(authz.ActionListOwn, authz.SubjectBudget))).Methods(http.MethodGet)

	// CORS answers preflights for routes that only register POST, so it
	// wraps the router instead of running as route middleware.
	var h http.Handler = r
	h = a.CORS(h)
	h = SecurityHeaders(h)
	h = a.Recovery(h)
	h = RequestID(h)
	return h
}

func openStore(ctx context.Context, c *config.Config, logger *slog.Logger) (store.Store, error) {
	switch c.DBAdapter {
	case "sqlite":
		if dir := filepath.Dir(c.SQLiteFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite data dir: %w", err)
			}
		}
		s, err := store.NewSQLite(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, nil
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres config error: %w", err)
		}
		if c.AutoMigrate {
			logger.Info("applying database migrations")
			m, err := store.NewMigrator(dsn, logger)
			if err != nil {
				return nil, err
			}
			err = m.Up()
			m.Close()
			if err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		p, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		logger.Info("connected to postgres")
		return p, nil
	case "memory":
		logger.Warn("using in-memory store (not recommended for production)")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}

func openBus(c *config.Config, logger *slog.Logger) (events.Publisher, events.Subscriber, error) {
	switch c.EventBus {
	case "kafka":
		pub, err := events.NewKafkaProducer(c.KafkaBrokers, logger)
		if err != nil {
			return nil, nil, err
		}
		sub, err := events.NewKafkaConsumer(c.KafkaBrokers, c.KafkaGroupID, logger)
		if err != nil {
			pub.Close()
			return nil, nil, err
		}
		return pub, sub, nil
	default:
		bus := events.NewMemory(c.EventBuffer, logger)
		return bus, bus, nil
	}
}

func run() error {
	c, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := telemetry.NewLogger(c.LogLevel, c.ServiceName, c.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, c.OTLPEndpoint, c.ServiceName, c.Env)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(tctx); err != nil {
			logger.Error("tracer shutdown", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	metrics.RegisterRuntime()

	codec, err := token.LoadCodec(c.JWTPrivateKeyPath, c.JWTPublicKeyPath, c.JWTIssuer)
	if err != nil {
		return fmt.Errorf("jwt keys: %w", err)
	}

	st, err := openStore(ctx, c, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	pub, sub, err := openBus(c, logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}

	app := NewApp(c, logger, metrics, st, codec, pub)
	consumer := budget.NewConsumer(app.budgets, logger, metrics.EventFailures)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		err := sub.Consume(ctx, []string{events.TopicTransactionCreated}, consumer)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event consumer stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Handler:      app.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", c.Port, "db_adapter", c.DBAdapter, "event_bus", c.EventBus)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		return fmt.Errorf("server error: %w", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	app.producer.Wait()
	if err := pub.Close(); err != nil {
		logger.Error("close publisher", "error", err)
	}
	if err := sub.Close(); err != nil {
		logger.Error("close subscriber", "error", err)
	}
	<-consumerDone
	logger.Info("server exited properly")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
