package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/internal/event_bus"
	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar_provider"
	"github.com/shotasten/union-board/pkg/calendar_sync"
	"github.com/shotasten/union-board/pkg/diff_sync"
	"github.com/shotasten/union-board/pkg/google"
	"github.com/shotasten/union-board/pkg/ledger"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	GoogleAuth    *google.GoogleAuth
	GoogleService google.Service
	GoogleHandler *google.Handler

	LedgerRepository ledger.Repository
	Ledger           ledger.Ledger

	CalendarProvider *calendar_provider.CalendarProvider

	SyncService *calendar_sync.ServiceImpl
	SyncHandler *calendar_sync.Handler

	DiffScheduler   *diff_sync.Scheduler
	DiffSyncHandler *diff_sync.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *pgxpool.Pool, cfg config.Application) *Dependencies {
	deps := &Dependencies{}

	deps.Clock = &utils.SystemClock{}
	deps.EventBus = event_bus.NewEventBus()
	location := cfg.Sync.Location()

	deps.GoogleAuth = google.NewGoogleAuth(db, cfg)
	deps.GoogleService = google.NewService(deps.GoogleAuth, cfg)
	deps.GoogleHandler = google.NewHandler(deps.GoogleService)

	deps.LedgerRepository = ledger.NewRepository(db)
	deps.Ledger = ledger.NewService(deps.LedgerRepository, deps.EventBus, deps.Clock, location)

	deps.CalendarProvider = calendar_provider.NewCalendarProvider(deps.GoogleService)

	deps.SyncService = calendar_sync.NewService(deps.Ledger, deps.CalendarProvider, deps.Clock, cfg.Sync)
	deps.SyncService.Subscribe(deps.EventBus)
	deps.SyncHandler = calendar_sync.NewHandler(deps.SyncService)

	deps.DiffScheduler = diff_sync.NewScheduler(deps.Ledger, deps.Ledger, deps.SyncService, deps.Clock, cfg.Sync.DiffMinInterval)
	deps.DiffSyncHandler = diff_sync.NewHandler(deps.DiffScheduler)

	return deps
}
