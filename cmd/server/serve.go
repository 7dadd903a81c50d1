package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/csvmodels/internal/admin"
	"github.com/rpattn/csvmodels/internal/auth"
	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/dynmodel"
	"github.com/rpattn/csvmodels/internal/fetch"
	"github.com/rpattn/csvmodels/internal/ingestion"
	"github.com/rpattn/csvmodels/internal/middleware"
	"github.com/rpattn/csvmodels/internal/repository"
	"github.com/rpattn/csvmodels/internal/web"
	"github.com/rpattn/csvmodels/internal/wizard"
)

const sessionPurgeInterval = time.Hour

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the data source wizard and admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	cfg := a.loader.Config()
	logger := a.logger

	if migrate {
		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			return err
		}
	}

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Repositories
	models := repository.NewDynamicModelRepository(conn)
	records := repository.NewRecordRepository(conn)
	users := repository.NewUserRepository(conn.Pool)
	sessions := repository.NewSessionRepository(conn.Pool)
	runs := repository.NewImportRunRepository(conn.Pool)

	// Outbound fetchers
	client := fetch.NewHTTPClient(cfg.Fetch.Timeout)
	oauth := fetch.NewGoogleOAuth(a.loader, client)
	dispatcher := &fetch.Dispatcher{
		CSV:        fetch.NewCSVFetcher(client, logger),
		OAuth:      oauth,
		Sheets:     fetch.NewPrivateSheetImporter(client, logger),
		Screendoor: fetch.NewScreendoorImporter(client, cfg.Screendoor.BaseURL, logger),
	}

	renderer, err := web.NewRenderer(logger)
	if err != nil {
		return err
	}

	authService := auth.NewService(users, sessions, cfg.Session.TTL, cfg.Session.CookieSecure, logger)
	authHandlers := auth.NewHandlers(authService, renderer, logger)

	wizardHandlers := &wizard.Handlers{
		Models:   models,
		Records:  records,
		Runs:     runs,
		Factory:  dynmodel.NewFactory(models, dispatcher, oauth, logger),
		Fetcher:  dispatcher,
		Importer: ingestion.NewImporter(records, logger),
		Settings: a.loader,
		OAuth:    oauth,
		Renderer: renderer,
		Logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/login", authHandlers.Login)
	mux.HandleFunc("/logout", authHandlers.Logout)
	mux.Handle("GET /{$}", http.RedirectHandler("/begin", http.StatusFound))
	wizardHandlers.Register(mux, auth.RequireLogin)
	admin.NewHandlers(models, records, runs, renderer, logger).Register(mux, auth.RequireLogin)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(logger)(
			middleware.Recover(logger)(
				authService.Middleware(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Settings reload is best effort; the server runs without it.
		if err := a.loader.Watch(gctx); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := authService.PurgeExpired(gctx); err != nil {
					logger.Warn("failed to purge sessions", zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
