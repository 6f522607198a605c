package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/internal/database"
	"github.com/shotasten/union-board/pkg/diff_sync"
	log "github.com/sirupsen/logrus"
)

// Application wires configuration, database, router, and server lifecycle.
type Application struct {
	cfg  config.Application
	db   *pgxpool.Pool
	deps *Dependencies
	jobs *diff_sync.Jobs
	srv  *http.Server
}

// Open connects to the database, migrates it and builds the dependency graph.
// CLI commands use it without starting the server.
func Open(ctx context.Context, cfg config.Application) (*pgxpool.Pool, *Dependencies, error) {
	if err := database.Migrate(cfg.Database); err != nil {
		return nil, nil, err
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, BuildDependencies(db, cfg), nil
}

// NewApplication constructs the full HTTP application, ready to Run().
func NewApplication(ctx context.Context, cfg config.Application) (*Application, error) {
	db, deps, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jobs, err := diff_sync.NewJobs(deps.DiffScheduler, deps.SyncService, cfg.Sync.Location(), cfg.Sync.DiffCron, cfg.Sync.RollupCron)
	if err != nil {
		db.Close()
		return nil, err
	}

	r := mux.NewRouter()

	// Middleware chain
	SetupMiddleware(r)

	// Routes
	RegisterRoutes(r, deps)

	srv := &http.Server{
		Handler: r,
		Addr:    cfg.Listen,
		// A full sync can take a while against the calendar API.
		WriteTimeout: 5 * time.Minute,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, db: db, deps: deps, jobs: jobs, srv: srv}, nil
}

// Run starts the cron jobs and the HTTP server and blocks until SIGINT or SIGTERM.
func (a *Application) Run() error {
	defer a.db.Close()

	a.jobs.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		a.jobs.Stop(context.Background())
		return err
	case sig := <-stop:
		log.Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.jobs.Stop(ctx)
	return a.srv.Shutdown(ctx)
}
