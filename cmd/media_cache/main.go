package main

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

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_cache/internal/config"
	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/dc/rqbit"
	"github.com/italolelis/media_cache/internal/evict"
	"github.com/italolelis/media_cache/internal/http/rest"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/italolelis/media_cache/internal/notifier"
	"github.com/italolelis/media_cache/internal/storage/sqlite"
	"github.com/italolelis/media_cache/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("media cache starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedContentRepository(database, tel)

	// =========================================================================
	// Start Torrent Daemon Client
	daemon := rqbit.NewClient(cfg.RqbitBaseURL, cfg.DownloadDir, tel, cfg.DaemonTimeout)

	// =========================================================================
	// Start Eviction Scheduler
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	scheduler := evict.NewScheduler(ctx, cfg.RetainFor, func(ctx context.Context, key content.Key) error {
		return tel.InstrumentEviction(ctx, "ttl", func(ctx context.Context) error {
			err := expireContent(ctx, ledger, daemon, key)
			if err != nil && notif != nil {
				if notifyErr := notif.Notify("❌ Failed to evict content " + key.String() + ": " + err.Error()); notifyErr != nil {
					logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", notifyErr)
				}
			}

			return err
		})
	})
	defer scheduler.Shutdown()

	// Re-arm countdowns for content that survived a restart. Rows already
	// past their TTL get a full countdown again; best effort is fine here.
	if err := rearmTimers(ctx, ledger, scheduler); err != nil {
		return fmt.Errorf("failed to re-arm eviction timers: %w", err)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, ledger, daemon, scheduler, tel, cfg)

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		logger.Info("Initializing API support",
			"host", cfg.Web.BindAddress,
			"download_dir", cfg.DownloadDir,
			"retention", cfg.RetainFor.String(),
		)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	wg.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return wg.Wait()
}

// expireContent is the scheduler's TTL callback: daemon and disk teardown
// first, ledger row last.
func expireContent(ctx context.Context, ledger content.Ledger, daemon *rqbit.Client, key content.Key) error {
	logger := logctx.LoggerFromContext(ctx).With("content_key", key.String())

	rec, err := ledger.Get(ctx, key)
	if errors.Is(err, content.ErrNotFound) {
		// Already deleted explicitly; nothing to tear down.
		return nil
	}

	if err != nil {
		return err
	}

	if err := daemon.Delete(ctx, rec.TorrentID, rec.FilePath); err != nil {
		var cleanupErr *content.CleanupError
		if !errors.As(err, &cleanupErr) {
			return err
		}

		logger.Warn("disk cleanup failed after daemon delete, continuing", "err", err)
	}

	if err := ledger.Delete(ctx, key); err != nil && !errors.Is(err, content.ErrNotFound) {
		return err
	}

	logger.Info("content evicted")

	return nil
}

func rearmTimers(ctx context.Context, ledger content.Ledger, scheduler *evict.Scheduler) error {
	logger := logctx.LoggerFromContext(ctx)

	records, err := ledger.All(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		scheduler.Schedule(rec.Key)
	}

	logger.Info("re-armed eviction timers", "count", len(records))

	return nil
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	ledger content.Ledger,
	daemon *rqbit.Client,
	scheduler *evict.Scheduler,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewContentHandler(ledger, daemon, scheduler, cfg.DownloadDir, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
