package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"propman/internal/auth"
	"propman/internal/config"
	"propman/internal/database"
	"propman/internal/email"
	"propman/internal/logging"
	"propman/internal/metrics"
	redisx "propman/internal/redis"
	"propman/internal/server"
)

const auditMaxLen = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}

	logger, logFile, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		logrus.Fatalf("log setup error: %v", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database error: %v", err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err = database.ApplyMigrations(migrateCtx, db)
	cancel()
	if err != nil {
		logger.Fatalf("migration error: %v", err)
	}

	redisClient, err := redisx.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatalf("redis error: %v", err)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	m.RegisterPool(db)

	users := auth.NewUserRepository(db)
	hasher := auth.NewBcryptHasher()
	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.Issuer)
	notifier := &email.Notifier{
		Mailer:   email.NewSender(cfg.Email),
		BaseURL:  cfg.BaseURL,
		ResetTTL: cfg.PasswordResetTTL,
	}
	if !cfg.Email.Enabled() {
		logger.Warn("email: SMTP not configured, password reset emails will fail")
	}

	svc := auth.NewService(users, hasher, auth.NewTOTPService(cfg.TOTPIssuer), tokens, notifier, logger, cfg.PasswordResetTTL)
	accounts := auth.NewAccounts(users, hasher, logger)

	if cfg.Admin.Init {
		created, err := auth.SeedAdmin(ctx, users, hasher, auth.AdminSeed{
			Email:     cfg.Admin.Email,
			Password:  cfg.Admin.Password,
			FirstName: cfg.Admin.FirstName,
			LastName:  cfg.Admin.LastName,
		}, logger)
		if err != nil {
			logger.Fatalf("admin seed error: %v", err)
		}
		if created {
			logger.WithField("email", cfg.Admin.Email).Warn("seed: default administrator created, change its password")
		}
	}

	api := server.NewServer(cfg, svc, accounts,
		&auth.RateLimiter{Redis: redisClient},
		&auth.AuditLogger{Redis: redisClient, MaxLen: auditMaxLen},
		m, logger)
	api.Checks["database"] = db.Ping
	api.Checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
	}
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 2)
	go serve(logger, "metrics", metricsSrv, serveErr)
	go serve(logger, "api", srv, serveErr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.WithError(err).Error("server stopped, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api shutdown failed")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("metrics shutdown failed")
	}
}

func serve(logger *logrus.Logger, name string, srv *http.Server, errc chan<- error) {
	logger.WithField("addr", srv.Addr).Infof("%s listening", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errc <- fmt.Errorf("%s server: %w", name, err)
	}
}
