package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldharbour/proxy-console/internal/config"
	"github.com/coldharbour/proxy-console/pkg/credstore"
	"github.com/coldharbour/proxy-console/pkg/events"
	"github.com/coldharbour/proxy-console/pkg/history"
	"github.com/coldharbour/proxy-console/pkg/logbridge"
	"github.com/coldharbour/proxy-console/pkg/logbuffer"
	"github.com/coldharbour/proxy-console/pkg/logfiles"
	"github.com/coldharbour/proxy-console/pkg/natsutil"
)

const logPrefix = "server:server"

// Version is stamped at build time.
var Version = "dev"

// logFileCleanupInterval is how often expired log files are swept.
const logFileCleanupInterval = time.Hour

// Run starts the console server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	// Log capture pipeline: buffer, record publisher, slog bridge. The
	// publisher fans records out to NATS, the websocket hub, and the
	// history store, so it is assembled before logging is configured.
	buffer := logbuffer.New(cfg.LogCapacity)
	metrics := NewMetrics()
	hub := NewStreamHub(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to NATS for the log record push channel.
	nc, err := natsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	defer nc.Close()

	// History store: Postgres when DATABASE_URL is set, in-memory otherwise.
	var store history.Store
	if cfg.DatabaseURL != "" {
		pool, err := history.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		defer pool.Close()
		store, err = history.NewPostgresStore(ctx, pool, cfg.LogCapacity)
		if err != nil {
			return fmt.Errorf("%s - failed to prepare log history: %w", logPrefix, err)
		}
	} else {
		store = history.NewMemoryStore(cfg.LogCapacity)
	}

	natsOpts := &events.NATSPublisherOpts{}
	if cfg.LogSubject != "" {
		natsOpts.Subject = cfg.LogSubject
	}
	natsPublisher := events.NewNATSPublisher(nc, natsOpts)
	publisher := events.NewCallbackPublisher(func(pctx context.Context, rec *logbuffer.Record) error {
		metrics.RecordsCaptured.Inc()
		hub.Broadcast(rec)
		if err := store.Append(pctx, *rec); err != nil {
			return err
		}
		return natsPublisher.PublishRecord(pctx, rec)
	})
	bridge := logbridge.NewBridge(buffer, publisher)

	// Structured logging, routed through the capture bridge.
	base := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logbridge.ParseLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(bridge.Handler(base)))

	slog.Info(fmt.Sprintf("%s - Starting proxy-console %s", logPrefix, Version))
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))
	slog.Info(fmt.Sprintf("%s - Log records publish on %s", logPrefix, publishSubject(cfg)))

	// Sweep stale log files now and on an interval.
	if cfg.LogDir != "" {
		if err := logfiles.Cleanup(cfg.LogDir, cfg.LogMaxAge); err != nil {
			slog.Warn(fmt.Sprintf("%s - log file cleanup: %v", logPrefix, err))
		}
		go func() {
			ticker := time.NewTicker(logFileCleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := logfiles.Cleanup(cfg.LogDir, cfg.LogMaxAge); err != nil {
						slog.Warn(fmt.Sprintf("%s - log file cleanup: %v", logPrefix, err))
					}
				}
			}
		}()
	}

	svc := NewService(ServiceParams{
		Version:       Version,
		CLIVersion:    cfg.CLIVersion,
		CLIConstraint: cfg.CLIConstraint,
		ProxyPort:     cfg.HTTPPort,
		LogDir:        cfg.LogDir,
		Bridge:        bridge,
		History:       store,
		Metrics:       metrics,
	})

	// Carry the previous run's tail into the live buffer before any new
	// record is captured.
	if err := svc.RestoreHistory(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
	}

	apiKey := ""
	if token, ok := credstore.Load().Token(); ok {
		apiKey = token
	}

	router := NewRouter(RouterParams{
		Service:       svc,
		Hub:           hub,
		Metrics:       metrics,
		APIKey:        apiKey,
		HealthTimeout: cfg.HealthCheckTimeout,
	})

	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	httpServer := &http.Server{Addr: httpAddr, Handler: router.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP admin API listening on %s", logPrefix, httpAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Proxy-console is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	httpServer.Shutdown(ctx)
	hub.Close()
	nc.Drain()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// publishSubject returns the subject records are pushed on.
func publishSubject(cfg *config.Config) string {
	if cfg.LogSubject != "" {
		return cfg.LogSubject
	}
	return natsutil.SubjectLogRecords
}
