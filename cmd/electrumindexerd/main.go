package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"electrumindexer/pkg/config"
	"electrumindexer/tracker"
)

func main() {
	var env string
	var logLevel string

	root := &cobra.Command{
		Use:   "electrumindexerd",
		Short: "Maintains an Electrum-protocol index over a Bitcoin-family daemon",
	}
	root.PersistentFlags().StringVar(&env, "env", "", "configuration overlay to merge (testnet, regtest, ...)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(serveCmd(&env, &logLevel))
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.Version)
		},
	}
}

func serveCmd(env, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "connect to the daemon and keep the index synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *env, *logLevel)
		},
	}
}

func runServe(ctx context.Context, env, logLevelOverride string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("electrumindexerd: load config: %w", err)
	}

	log := newLogger(cfg, logLevelOverride)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithFields(logrus.Fields{
		"network":  cfg.Network.Name,
		"db_path":  cfg.Storage.DBPath,
		"p2p_addr": cfg.Network.DaemonP2PAddr,
		"rpc_addr": cfg.Network.DaemonRPCAddr,
	}).Info("starting electrumindexerd")

	tr, err := tracker.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("electrumindexerd: init tracker: %w", err)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			log.WithError(err).Warn("error closing tracker")
		}
	}()

	if cfg.Network.MonitoringAddr != "" {
		go serveMetrics(cfg.Network.MonitoringAddr, log)
	}

	return syncLoop(ctx, tr, cfg.Sync.PollInterval, log)
}

// syncLoop calls tracker.Sync on a fixed interval until ctx is cancelled,
// logging but not aborting on transient daemon errors.
func syncLoop(ctx context.Context, tr *tracker.Tracker, interval time.Duration, log *logrus.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := tr.Sync(ctx); err != nil {
			log.WithError(err).Warn("sync failed, will retry")
		}

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Warn("metrics server stopped")
	}
}

func newLogger(cfg *config.Config, override string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := cfg.Logging.Level
	if override != "" {
		level = override
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.WithError(err).Warn("failed to open log file, logging to stderr only")
		} else {
			log.SetOutput(f)
		}
	}
	return log
}
