package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-limiter/memorystore"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/tolmanw/strava-auth-link/internal/adapter/driven/github"
	"github.com/tolmanw/strava-auth-link/internal/adapter/driven/jsonfile"
	sqliteadapter "github.com/tolmanw/strava-auth-link/internal/adapter/driven/sqlite"
	"github.com/tolmanw/strava-auth-link/internal/adapter/driven/strava"
	httphandler "github.com/tolmanw/strava-auth-link/internal/adapter/driving/http"
	"github.com/tolmanw/strava-auth-link/internal/application"
	"github.com/tolmanw/strava-auth-link/internal/config"
	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"data_file", cfg.DataFile,
		"db_path", cfg.DBPath,
		"persist_policy", cfg.PersistPolicy,
		"sync_attempts", cfg.SyncAttempts,
		"mirror_enabled", cfg.MirrorEnabled(),
		"admin_enabled", cfg.AdminEnabled(),
		"write_timeout", cfg.WriteTimeout(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the audit database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	clock := clockwork.NewRealClock()
	localStore := jsonfile.NewStore(cfg.DataFile)
	auditStore := sqliteadapter.NewSyncAttemptRepo(db)

	// The remote stays a nil interface when the mirror is not configured.
	var remote driven.RemoteMirror
	if cfg.MirrorEnabled() {
		ghClient, err := githubadapter.NewClient(cfg.GitHubToken, githubadapter.Target{
			Repo:   cfg.GitHubRepo,
			Path:   cfg.GitHubPath,
			Branch: cfg.GitHubBranch,
		})
		if err != nil {
			return err
		}
		remote = ghClient
		slog.Info("github mirror configured", "location", ghClient.Location())
	} else {
		slog.Info("no github mirror configured, credentials are kept in the local file only")
	}

	stravaClient := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		RedirectURL:  cfg.StravaRedirectURL,
		HTTPClient:   &http.Client{Timeout: config.StravaTimeout},
	})

	// 6. Create the synchronizer.
	syncer := application.NewSynchronizer(localStore, remote, auditStore, clock, application.SyncOptions{
		Policy:           cfg.PersistPolicy,
		Attempts:         cfg.SyncAttempts,
		RemoteTimeout:    cfg.RemoteTimeout,
		RecordTimestamps: cfg.RecordTimestamps,
	})

	// 7. Start the persist worker for the deferred policy. It gets its own
	// context so it drains only after the HTTP server has stopped.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})

	var queue application.PersistQueue
	if cfg.PersistPolicy == model.PersistDeferred {
		worker := application.NewPersistWorker(syncer, 0, 0)
		queue = worker
		go func() {
			defer close(workerDone)
			worker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	exchangeSvc := application.NewExchangeService(stravaClient, syncer, queue, cfg.PersistPolicy, clock)

	// 8. Create the admin gate and HTTP handler.
	failures, err := memorystore.New(&memorystore.Config{
		Tokens:   uint64(cfg.AdminFailuresPerMinute), //nolint:gosec // validated positive in config
		Interval: time.Minute,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := failures.Close(context.Background()); closeErr != nil {
			slog.Error("error closing limiter", "error", closeErr)
		}
	}()

	gate := httphandler.NewAdminGate(cfg.AdminUser, cfg.AdminPass, failures, clock, slog.Default())
	apiHandler := httphandler.NewHandler(exchangeSvc, syncer, auditStore, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, gate, cfg.FrontendURL, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 9. Log startup complete.
	slog.Info("stravalink started",
		"listen_addr", cfg.ListenAddr,
		"persist_policy", exchangeSvc.Policy(),
	)

	// 10. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		slog.Error("http server error", "error", err)
		stop()
	}

	// 11. Graceful shutdown: drain in-flight requests, then pending persists.
	// In-flight exchanges may still be syncing, so allow a full write deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	stopWorker()
	<-workerDone

	slog.Info("shutdown complete")
	return nil
}
