// Command forwarder drains the transactional outbox into the Users
// store's auth_events projection.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nimbusid/authgateway/outbox"
	"github.com/nimbusid/authgateway/pkg/log"
	"github.com/nimbusid/authgateway/storage/postgres"
	"github.com/nimbusid/authgateway/storage/usersclient"
)

const destinationAuthEvents = "users_store.auth_events"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	logger := log.NewLogrusLogger(logrus.New())

	databaseURL := os.Getenv("DATABASE_URL")
	usersStoreURL := os.Getenv("MAIN_SUPABASE_URL")
	usersStoreKey := os.Getenv("MAIN_SUPABASE_SERVICE_ROLE_KEY")
	telemetryAddr := getenv("TELEMETRY_ADDR", ":8082")
	if databaseURL == "" || usersStoreURL == "" || usersStoreKey == "" {
		return fmt.Errorf("forwarder: DATABASE_URL, MAIN_SUPABASE_URL and MAIN_SUPABASE_SERVICE_ROLE_KEY are required")
	}

	conn, err := postgres.OpenURL(databaseURL, logger)
	if err != nil {
		return fmt.Errorf("forwarder: connect storage: %w", err)
	}
	defer conn.Close()

	users := usersclient.New(usersStoreURL, usersStoreKey, nil)
	deliverers := map[string]outbox.Deliverer{
		destinationAuthEvents: outbox.NewUsersStoreDeliverer(users),
	}

	registry := prometheus.NewRegistry()
	outbox.MustRegister(registry)

	f := outbox.New(conn, deliverers, logger)
	if err := f.Preflight([]string{destinationAuthEvents}); err != nil {
		return fmt.Errorf("forwarder: preflight: %w", err)
	}

	telemetrySrv := &http.Server{Addr: telemetryAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
	go func() {
		if err := telemetrySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err.Error()).Error("telemetry server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("forwarder started")
	err = f.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = telemetrySrv.Shutdown(shutdownCtx)

	return err
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
