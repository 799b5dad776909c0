// Package cmd implements the llmcache command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PauloHFS/llmcache/internal/config"
	"github.com/PauloHFS/llmcache/internal/logging"
	"github.com/PauloHFS/llmcache/internal/metrics"
	"github.com/PauloHFS/llmcache/internal/telemetry"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// app holds what PersistentPreRunE prepared for the running command.
type app struct {
	envFiles    []string
	logLevel    string
	metricsAddr string

	cfg      *config.Config
	logger   *slog.Logger
	shutdown []func(context.Context) error
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "llmcache",
		Short:         "Cached chat completions against OpenAI-compatible services",
		Long:          "llmcache sends chat completion requests through a fingerprinted response cache and inspects that cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringSliceVar(&a.envFiles, "env", nil, "env files to load (default .env)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	root.AddCommand(
		newAskCmd(a),
		newEmbedCmd(a),
		newCacheCmd(a),
		newFingerprintCmd(a),
		newVersionCmd(),
	)

	return root
}

// Execute runs the root command and releases what it set up.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if terr := a.teardown(); terr != nil && a.logger != nil {
		a.logger.Warn("shutdown incomplete", "error", terr)
	}
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	a.cfg = cfg

	logging.Init(logging.ParseLevel(cfg.LogLevel))
	a.logger = logging.Get()

	_, shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     appVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	a.shutdown = append(a.shutdown, shutdownTracing)

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	a.shutdown = append(a.shutdown, srv.Shutdown)
	return nil
}

func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdown = nil
	return errors.Join(errs...)
}
