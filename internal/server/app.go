// Package server wires and runs the reference remote store: storage,
// services and the gRPC and REST transports.
package server

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/ledgersync/internal/server/rest"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/ledgersync/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	repos         repomanager.RepositoryManager
	userService   *services.UserService
	recordService *services.RecordService
}

// openRepositories is a seam for tests.
var openRepositories = func(ctx context.Context, dsn string) (repomanager.RepositoryManager, error) {
	if dsn == "" {
		return repomanager.NewMemoryRepositoryManager(), nil
	}
	return repomanager.OpenPostgres(ctx, dsn)
}

// NewApp opens storage, applies migrations and builds the services. Logs go
// to w as JSON.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	if w == nil {
		w = os.Stdout
	}
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(w, "json", level)

	repos, err := openRepositories(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := repos.RunMigrations(ctx); err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "No database configured, data is kept in memory")
	}

	return &App{
		config:        c,
		logger:        logger,
		repos:         repos,
		userService:   services.NewUserService(repos, c),
		recordService: services.NewRecordService(repos, services.NewRegistry(services.DefaultTables...)),
	}, nil
}

// Run serves gRPC and, when configured, REST until ctx is done or either
// server fails.
func (app *App) Run(ctx context.Context) error {
	defer func() {
		if err := app.repos.Close(); err != nil {
			app.logger.Error(ctx, "closing storage", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.userService, app.recordService).Run(ctx)
	})

	if app.config.EndpointAddrHTTP != "" {
		g.Go(func() error {
			return rest.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger, app.userService, app.recordService).Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, err.Error())
	}
	app.logger.Info(ctx, "App stopped")
	return err
}
