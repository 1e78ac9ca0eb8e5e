// Command consulta-idp is the development identity backend the consulta
// client logs in against.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/consulta/internal/config"
	"github.com/and161185/consulta/internal/limiter"
	"github.com/and161185/consulta/internal/logging"
	"github.com/and161185/consulta/internal/migrate"
	"github.com/and161185/consulta/internal/repository/postgres"
	"github.com/and161185/consulta/internal/server/httpapi"
	"github.com/and161185/consulta/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main reads configuration, runs migrations, seeds accounts and serves HTTP.
func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	// flags override the environment
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN")
	flag.StringVar(&cfg.JWTKey, "jwt-key", cfg.JWTKey, "HS256 signing key, at least 16 bytes (required)")
	flag.DurationVar(&cfg.AccessTTL, "access-ttl", cfg.AccessTTL, "access token TTL")
	flag.StringVar(&cfg.SeedFile, "seed", cfg.SeedFile, "YAML file of development accounts to create at start")
	flag.IntVar(&cfg.LoginRate, "login-rate", cfg.LoginRate, "login requests per minute per IP")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.Parse()

	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("env", cfg.Env),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer db.Close()

	accounts := postgres.NewAccountRepo(db)
	lim := limiter.NewPG(db.Pool, limiter.DefaultPolicy)
	authSvc := service.NewAuthService(accounts, []byte(cfg.JWTKey), cfg.AccessTTL, lim)

	if cfg.SeedFile != "" {
		seed, err := service.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			logger.Fatal("load seed", zap.Error(err))
		}
		n, err := service.Seed(ctx, authSvc, seed, logger)
		if err != nil {
			logger.Fatal("seed accounts", zap.Error(err))
		}
		logger.Info("seed applied", zap.Int("created", n), zap.Int("declared", len(seed)))
	}

	handler := httpapi.NewRouter(authSvc, logger, httpapi.NewMetrics(), httpapi.Options{
		CORSOrigins: cfg.CORSOrigins,
		LoginRate:   cfg.LoginRate,
		Health:      db.Ping,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown timed out", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
