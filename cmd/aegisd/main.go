package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"aegisd/internal/auth"
	"aegisd/internal/config"
	"aegisd/internal/httpserver"
	"aegisd/internal/logging"
	"aegisd/internal/probes"
	"aegisd/internal/ratelimit"
	"aegisd/internal/stream"
)

func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("init sentry", "err", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	policy := auth.StorePolicy{
		MaxFailedAttempts: cfg.MaxFailedLogins,
		LockoutDuration:   cfg.LockoutDuration,
	}

	var store auth.UserStore
	if cfg.DBDSN != "" {
		pg, err := auth.OpenPostgresStore(ctx, cfg.DBDSN, policy)
		if err != nil {
			log.Fatalf("open user store: %v", err)
		}
		defer pg.Close()
		store = pg
	} else {
		store = auth.NewMemoryStore(policy)
	}

	if cfg.Development() {
		if err := auth.SeedFromFile(ctx, store, cfg.UsersPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Fatalf("seed users: %v", err)
			}
			if err := auth.SeedDefaultAdmin(ctx, store); err != nil {
				log.Fatalf("seed default admin: %v", err)
			}
		}
		logger.Info("development seed identities created")
	}

	tokenSvc := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, store, logger)
	authHandler := auth.NewHandler(tokenSvc, store, logger)

	authLimiter := ratelimit.New(cfg.AuthRateMax, cfg.AuthRateWindow, logger)
	apiLimiter := ratelimit.New(cfg.APIRateMax, cfg.APIRateWindow, logger)

	collectors := probes.NewRegistry()
	streamMgr := stream.NewManager(tokenSvc, collectors, logger, stream.DefaultOptions())

	handler := httpserver.NewRouter(logger, authHandler, tokenSvc, streamMgr, collectors, authLimiter, apiLimiter)
	server := httpserver.New(cfg.HTTPAddr, handler, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	streamMgr.CloseAll(ctxShutdown)
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
