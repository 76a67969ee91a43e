package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradevault/journal-engine/internal/auth"
	"github.com/tradevault/journal-engine/internal/config"
	"github.com/tradevault/journal-engine/internal/journal"
	"github.com/tradevault/journal-engine/internal/metrics"
	"github.com/tradevault/journal-engine/internal/relay"
	"github.com/tradevault/journal-engine/internal/store"
	"github.com/tradevault/journal-engine/internal/tracing"
	"github.com/tradevault/journal-engine/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if cfg.Auth.Secret == "" {
		slog.Error("auth.secret (AUTH_SECRET) is required")
		os.Exit(1)
	}

	ctx := context.Background()
	var cleanup []func()

	// --- Tracing ---
	tracer, shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Endpoint)
	if err != nil {
		slog.Error("tracing setup failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(sctx)
	})

	// --- Stores ---
	var tradeStore store.TradeStore
	var userStore auth.UserStore

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		tradeStore = store.NewPostgresStore(pool)
		userStore = auth.NewPostgresUserStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database.url not set, using in-memory stores (data will not persist)")
		tradeStore = store.NewMemoryStore()
		userStore = auth.NewMemoryUserStore()
	}

	// The store adapter retries mutations independently of the consumer's
	// apply retry.
	tradeStore = store.NewRetryingStore(tradeStore)

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Broker clients (process-wide, explicit lifecycle) ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Broker.Address})
	cleanup = append(cleanup, func() { rdb.Close() })

	producer := relay.NewProducer(rdb, cfg.Broker.Stream, tracer)
	if err := producer.Connect(ctx); err != nil {
		// No traffic without a working producer.
		slog.Error("producer connect failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	hub := ws.NewHub()
	go hub.Run()

	// --- Consumer ---
	consumer := relay.NewConsumer(rdb, tradeStore,
		cfg.Broker.Stream, cfg.Broker.Group, cfg.Broker.Consumer, tracer)
	consumer.OnApplied(hub.NotifyApplied)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Run(consumerCtx)
	}()

	// --- Services ---
	authSvc := auth.NewService(userStore, []byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	journalSvc := journal.NewService(tradeStore, producer)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"journal-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/signup", authSvc.Signup)
		r.Post("/auth/login", authSvc.Login)

		// WebSocket endpoint for real-time applied-trade notifications.
		r.Get("/ws", hub.HandleWS)

		// Trade CRUD, authenticated.
		r.Group(func(r chi.Router) {
			r.Use(authSvc.Middleware)
			r.Get("/trades", journalSvc.ListTrades)
			r.Post("/trades", journalSvc.CreateTrade)
			r.Get("/trades/closed", journalSvc.ListClosedTrades)
			r.Get("/trades/{tradeID}", journalSvc.GetTrade)
			r.Patch("/trades/{tradeID}", journalSvc.UpdateTrade)
			r.Delete("/trades/{tradeID}", journalSvc.DeleteTrade)
			r.Post("/trades/{tradeID}/close", journalSvc.CloseTrade)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("journal-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown, or crash-and-restart on a fatal consumer failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-consumerErr:
		// Unacked entries are redelivered after supervision restarts us.
		slog.Error("consumer failed, exiting for restart", "err", err)
		os.Exit(1)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down journal-engine...")
	stopConsumer()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("journal-engine stopped")
}
