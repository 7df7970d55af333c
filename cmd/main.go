package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	adledgerv1 "github.com/kkkkikiki/adledger/internal/api/adledgerv1"
	"github.com/kkkkikiki/adledger/internal/auth"
	"github.com/kkkkikiki/adledger/internal/config"
	"github.com/kkkkikiki/adledger/internal/database"
	"github.com/kkkkikiki/adledger/internal/events"
	"github.com/kkkkikiki/adledger/internal/ledger"
	"github.com/kkkkikiki/adledger/internal/observability"
	"github.com/kkkkikiki/adledger/internal/ratelimit"
	"github.com/kkkkikiki/adledger/internal/repository"
	"github.com/kkkkikiki/adledger/internal/repository/memory"
	"github.com/kkkkikiki/adledger/internal/service"
)

// devJWTSecret signs tokens when AUTH_JWT_SECRET is unset outside production
const devJWTSecret = "adledger-development-secret"

type store interface {
	ledger.Store
	Ping(ctx context.Context) error
}

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.New(cfg.App.LogLevel, cfg.App.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info(ctx, "starting adledger service",
		observability.Field{Key: "environment", Value: cfg.App.Environment},
		observability.Field{Key: "db_driver", Value: cfg.Database.Driver},
	)

	// Select the storage backend
	var st store
	if cfg.Database.Driver == "memory" {
		logger.Warn(ctx, "using in-memory store, data is lost on restart")
		st = memory.New(cfg.Ledger.LockTimeout)
	} else {
		db, err := database.NewDB(ctx, cfg, logger)
		if err != nil {
			logger.Fatal(ctx, "failed to connect to database", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error(ctx, "error closing database connections", err)
			}
		}()
		st = repository.NewPostgresStore(db.Postgres, cfg.Ledger.LockTimeout)
	}

	publisher, err := events.New(ctx, cfg.Events, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to create event publisher", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error(ctx, "error closing event publisher", err)
		}
	}()

	var limiter *ratelimit.Service
	if cfg.RateLimit.Enabled {
		redisClient, err := ratelimit.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal(ctx, "failed to connect to redis", err)
		}
		if redisClient != nil {
			defer redisClient.Close()
		}
		limiter = ratelimit.NewService(redisClient, cfg.RateLimit.RequestsPerMinute, logger)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		logger.Warn(ctx, "AUTH_JWT_SECRET is not set, using the development secret")
		secret = devJWTSecret
	}
	verifier, err := auth.NewVerifier(secret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal(ctx, "failed to create token verifier", err)
	}

	l := ledger.New(st, publisher, logger, ledger.Options{
		SimilarityThreshold: cfg.Ledger.SimilarityThreshold,
		DefaultPageSize:     cfg.Ledger.DefaultPageSize,
		MaxPageSize:         cfg.Ledger.MaxPageSize,
	})
	ledgerService := service.NewLedgerServer(l, limiter, logger)

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register ledger service handler; Search is the only public procedure
	path, handler := adledgerv1.NewLedgerServiceHandler(ledgerService,
		connect.WithInterceptors(
			service.NewLoggingInterceptor(logger),
			auth.NewInterceptor(verifier, adledgerv1.LedgerServiceSearchProcedure),
		),
	)
	mux.Handle(path, handler)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "adledger",
			"hostname": hostname,
		})
	})

	mux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "error",
				"message": "store unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"store":  cfg.Database.Driver,
		})
	})

	// Add Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	go func() {
		logger.Info(ctx, "listening", observability.Field{Key: "addr", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "failed to start server", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", err)
		return
	}

	logger.Info(ctx, "server exited gracefully")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
