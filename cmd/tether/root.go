package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/tether/internal/api"
	"github.com/hyperengineering/tether/internal/channel"
	"github.com/hyperengineering/tether/internal/config"
	"github.com/hyperengineering/tether/internal/netstatus"
	"github.com/hyperengineering/tether/internal/outbox"
	"github.com/hyperengineering/tether/internal/report"
	"github.com/hyperengineering/tether/internal/store"
	"github.com/hyperengineering/tether/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

// backlogRetryInterval is how often a halted drain pass is retried
// while the agent stays online.
const backlogRetryInterval = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - resilient connectivity agent",
	Long: "Tether keeps a UI usable across network loss: it queues mutations " +
		"while offline, replays them in order when connectivity returns, " +
		"maintains the real-time channel, and ships error reports upstream.",
	RunE: run,
}

func main() {
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statusCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("configuration loaded")

	// Durable action store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// Error-reporting pipeline
	reports := report.New(
		&report.HTTPSender{
			Endpoint:  cfg.Report.Endpoint,
			AuthToken: cfg.Sync.AuthToken,
			Timeout:   time.Duration(cfg.Sync.Timeout),
		},
		report.Options{
			MaxQueued:   cfg.Report.MaxQueued,
			BatchSize:   cfg.Report.BatchSize,
			MaxRetries:  cfg.Report.MaxRetries,
			FlushDelay:  time.Duration(cfg.Report.FlushDelay),
			DedupWindow: time.Duration(cfg.Report.DedupWindow),
			Version:     Version,
		},
		logger,
	)
	defer reports.Close()

	// Offline action queue over the upstream sync API
	queue := outbox.New(db,
		&outbox.HTTPSender{
			BaseURL:   cfg.Sync.BaseURL,
			AuthToken: cfg.Sync.AuthToken,
			Timeout:   time.Duration(cfg.Sync.Timeout),
			Faults:    reports,
		},
		reports,
		outbox.Options{MaxAge: time.Duration(cfg.Outbox.MaxAge)},
	)

	// Connectivity detector probing the sync API
	detector := netstatus.NewDetector(
		&netstatus.HTTPProbe{
			URL:     cfg.Sync.BaseURL,
			Timeout: time.Duration(cfg.Probe.Timeout),
		},
		time.Duration(cfg.Probe.Interval),
	)

	// Real-time channel
	liveState := channel.NewLiveState()
	manager := channel.NewManager(channel.Options{
		URL:               cfg.Channel.BaseURL,
		BackoffFloor:      time.Duration(cfg.Channel.BackoffFloor),
		BackoffCeiling:    time.Duration(cfg.Channel.BackoffCeiling),
		HeartbeatInterval: time.Duration(cfg.Channel.HeartbeatInterval),
		Logger:            logger,
	}, channel.StaticToken(cfg.Sync.AuthToken), liveState)
	manager.Connect()
	defer manager.Disconnect()

	// Local HTTP surface for the UI
	handler := api.NewHandler(queue, manager, reports, detector, liveState, Version)
	router := api.NewRouter(handler, reports)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// Background workers
	var wg sync.WaitGroup
	drainer := worker.NewDrainCoordinator(queue, detector, backlogRetryInterval)
	startWorker(ctx, &wg, "connectivity-probe", detector.Run)
	startWorker(ctx, &wg, "drain-coordinator", drainer.Run)

	// Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is
		// called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// Graceful shutdown sequence: stop the server, wait for workers,
	// tear down the channel, close the store.
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	manager.Disconnect()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
