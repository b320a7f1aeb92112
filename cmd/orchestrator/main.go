package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	app "github.com/vaulted-markets/orchestrator/internal/app"
	"github.com/vaulted-markets/orchestrator/internal/app/httpapi"
	"github.com/vaulted-markets/orchestrator/internal/storage/postgres"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

func main() {
	log := logger.NewDefault("orchestrator")
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded")
	}

	cfg := app.Config{
		RPCURL:            envOr("LEDGER_RPC_URL", "http://localhost:8899"),
		Program:           os.Getenv("ESCROW_PROGRAM"),
		NativeMint:        os.Getenv("NATIVE_MINT"),
		Admins:            splitList(os.Getenv("ADMIN_ACCOUNTS")),
		MasterSecret:      os.Getenv("SIGNER_MASTER_SECRET"),
		ContentPinURL:     os.Getenv("CONTENT_PIN_URL"),
		ContentGatewayURL: os.Getenv("CONTENT_GATEWAY_URL"),
		ContentAPIKey:     os.Getenv("CONTENT_API_KEY"),
		LiquidityURL:      os.Getenv("LIQUIDITY_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		SweepSchedule:     os.Getenv("RECONCILE_SCHEDULE"),
	}

	stores := app.Stores{}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if err := runMigrations(dsn); err != nil {
			log.WithError(err).Fatal("run migrations")
		}
		store, err := postgres.Open(dsn)
		if err != nil {
			log.WithError(err).Fatal("open postgres store")
		}
		stores = app.Stores{Sales: store, Pools: store, Metadata: store, Requests: store}
		log.Info("using postgres record store")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory record store")
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start background services")
	}

	authSecret := []byte(envOr("AUTH_SECRET", cfg.MasterSecret))
	server := &http.Server{
		Addr:              envOr("LISTEN_ADDR", ":8080"),
		Handler:           httpapi.NewHandler(application, authSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("service shutdown")
	}
}

func runMigrations(dsn string) error {
	src := envOr("MIGRATIONS_PATH", "file://db/migrations")
	m, err := migrate.New(src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
