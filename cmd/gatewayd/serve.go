package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nimbusid/authgateway/pkg/log"
)

func commandServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			return runServe()
		},
	}
}

// serverRunner wraps one http.Server so it can be registered with an
// oklog/run.Group: the run function blocks serving, the interrupt
// function drains it with a bounded grace period.
type serverRunner struct {
	name   string
	srv    *http.Server
	logger log.Logger
}

func (s *serverRunner) RunAndShutdownGracefully(gr *run.Group) error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %w", s.name, s.srv.Addr, err)
	}
	gr.Add(func() error {
		s.logger.WithField("addr", s.srv.Addr).Info("listening (" + s.name + ")")
		return s.srv.Serve(listener)
	}, func(err error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if shutdownErr := s.srv.Shutdown(ctx); shutdownErr != nil {
			s.logger.WithField("error", shutdownErr.Error()).Error("graceful shutdown (" + s.name + ") failed")
		}
	})
	return nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	telemetry := http.NewServeMux()
	telemetry.Handle("/metrics", promhttp.Handler())

	var gr run.Group
	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	httpRunner := &serverRunner{name: "http", srv: &http.Server{Addr: cfg.HTTPAddr, Handler: a.router}, logger: a.logger}
	if err := httpRunner.RunAndShutdownGracefully(&gr); err != nil {
		return err
	}

	telemetryRunner := &serverRunner{name: "telemetry", srv: &http.Server{Addr: cfg.TelemetryAddr, Handler: telemetry}, logger: a.logger}
	if err := telemetryRunner.RunAndShutdownGracefully(&gr); err != nil {
		return err
	}

	return gr.Run()
}
