package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/browser_downloader/internal/browsing"
	"github.com/italolelis/browser_downloader/internal/cleanup"
	"github.com/italolelis/browser_downloader/internal/config"
	"github.com/italolelis/browser_downloader/internal/http/rest"
	"github.com/italolelis/browser_downloader/internal/logctx"
	"github.com/italolelis/browser_downloader/internal/notifier"
	"github.com/italolelis/browser_downloader/internal/remote"
	"github.com/italolelis/browser_downloader/internal/storage/sqlite"
	"github.com/italolelis/browser_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

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

	slog.Info("browser downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("DB error: %w", err)
	}
	defer database.Close()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	repo := sqlite.NewInstrumentedArtifactRepository(database, tel)

	// =========================================================================
	// Connect to Browser Backend
	client := remote.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendInsecure)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}

	// =========================================================================
	// Start Session
	session := browsing.NewSession(client, repo, tel, !cfg.RemoteArtifacts)

	setupNotifications(ctx, session, cfg)

	events, streamErrs, err := client.StreamEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}

	sessionErrors := make(chan error, 1)

	go func() {
		sessionErrors <- session.Run(ctx, events, streamErrs)
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, session, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("tracking downloads...",
		"backend", cfg.BackendURL,
		"session_id", client.SessionID(),
		"retention", cfg.KeepArtifactsFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg)

	// =========================================================================
	// Wait for Shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case err := <-sessionErrors:
		if err != nil {
			return fmt.Errorf("session error: %w", err)
		}

		return nil
	case <-ctx.Done():
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

		if err := session.Close(logctx.WithLogger(shutdownCtx, logger)); err != nil {
			logger.Error("failed to close session", "err", err)
		}

		return nil
	}
}

func setupNotifications(ctx context.Context, session *browsing.Session, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	go func() {
		for status := range session.OnDownloadFailed {
			logger.Error("download failed", "download_id", status.ID, "reason", status.Reason)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(notifier.Notification{
				DownloadID:        status.ID,
				SuggestedFilename: status.SuggestedFilename,
				Reason:            status.Reason,
			}); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", status.ID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for status := range session.OnDownloadFinished {
			logger.Info("download finished", "download_id", status.ID, "suggested_filename", status.SuggestedFilename)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(notifier.Notification{
				DownloadID:        status.ID,
				SuggestedFilename: status.SuggestedFilename,
				Succeeded:         true,
			}); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", status.ID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, session *browsing.Session, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	dh := rest.NewDownloadsHandler(cfg.API.Username, cfg.API.Password, session)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", dh.Routes())
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "browser_downloader"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo *sqlite.InstrumentedArtifactRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down")

				return
			case <-cleanupTicker.C:
				tracked, err := repo.GetArtifacts()
				if err != nil {
					logger.Error("failed to get tracked artifacts for cleanup", "err", err)

					continue
				}

				if err := cleanup.DeleteExpiredArtifacts(ctx, tracked, cfg.KeepArtifactsFor); err != nil {
					logger.Error("failed to delete expired artifacts", "err", err)
				}
			}
		}
	}()
}
