// Package server initializes and runs the calvault server: it opens the
// database, runs migrations, wires services, and serves the HTTP API with
// graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkarpov/calvault/internal/logging"
	"github.com/dkarpov/calvault/internal/server/config"
	"github.com/dkarpov/calvault/internal/server/httpapi"
	"github.com/dkarpov/calvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/calvault/internal/server/services"
	"github.com/dkarpov/calvault/internal/server/sharecipher"
	"github.com/dkarpov/calvault/internal/server/sharetoken"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	keyService   *services.KeyRegistryService
	shareService *services.ShareService
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	tokens, err := sharetoken.NewService([]byte(c.TokenSecret), c.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token service init error: %w", err)
	}

	cipher := sharecipher.New([]byte(c.ShareLegacySalt))

	return &App{
		config:       c,
		logger:       logger,
		db:           db,
		keyService:   services.NewKeyRegistryService(db, rm),
		shareService: services.NewShareService(db, rm, cipher, tokens),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	router := httpapi.NewRouter(app.logger, app.keyService, app.shareService)
	srv := &http.Server{Addr: app.config.EndpointAddr, Handler: router}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "shutdown error", "error", err.Error())
		}
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close error", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
