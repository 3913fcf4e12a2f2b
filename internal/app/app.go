package app

import (
	"context"
	"net/http"
	"time"

	"clipvault-go/internal/config"
	"clipvault-go/internal/db"
	devicedomain "clipvault-go/internal/domain/device"
	syncdomain "clipvault-go/internal/domain/sync"
	devicerepo "clipvault-go/internal/repository/postgres/device"
	syncrepo "clipvault-go/internal/repository/postgres/sync"
	"clipvault-go/internal/transport/httpserver"
	"clipvault-go/internal/transport/httpserver/handler"
	"clipvault-go/internal/transport/ws"
	"clipvault-go/pkg/logger"
	"gorm.io/gorm"
)

type App struct {
	cfg        config.Config
	httpServer *http.Server
	db         *gorm.DB
	hub        *ws.Hub
	log        logger.Logger

	cancelWorkers context.CancelFunc
}

func New(log logger.Logger) (*App, error) {
	log.Info("app: loading config")
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}

	log.Info("app: initializing database")
	dbConn, err := db.NewPostgres(cfg.DB, log)
	if err != nil {
		return nil, err
	}

	log.Info("app: running migrations")
	if err := db.Migrate(dbConn); err != nil {
		return nil, err
	}

	devices := devicedomain.NewService(devicerepo.NewPostgres(dbConn))
	itemStore := syncrepo.NewPostgresItemStore(dbConn)

	var hub *ws.Hub
	var notifier syncdomain.Notifier
	if cfg.WS.Enabled {
		hub = ws.NewHub(cfg.WS.AllowedOrigins, log)
		notifier = hub
	} else {
		notifier = syncdomain.NoopNotifier()
	}

	syncService := syncdomain.NewService(
		syncrepo.NewPostgres(dbConn),
		itemStore,
		devices,
		notifier,
		syncdomain.Config{
			MinBatchSize:      cfg.Sync.MinBatchSize,
			MaxBatchSize:      cfg.Sync.MaxBatchSize,
			InactivityTimeout: cfg.Sync.InactivityTimeout,
			DefaultPolicy:     syncdomain.ConflictPolicy(cfg.Sync.DefaultPolicy),
		},
		log,
	)

	handlers := handler.New(syncService, devices, log)
	router := httpserver.NewRouter(cfg, handlers, hub, log)
	srv := httpserver.New(cfg, router)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	go syncService.RunSweeper(workerCtx, cfg.Sync.SweepInterval)
	go runPruner(workerCtx, itemStore, cfg.Sync.RetentionWindow, cfg.Sync.PruneInterval, log)

	return &App{
		cfg:           cfg,
		httpServer:    srv,
		db:            dbConn,
		hub:           hub,
		log:           log,
		cancelWorkers: cancelWorkers,
	}, nil
}

// runPruner drops change-log rows older than the retention window. A
// device whose cursor predates the pruned range is forced onto the
// snapshot path on its next pull.
func runPruner(ctx context.Context, store *syncrepo.PostgresItemStore, window, interval time.Duration, log logger.Logger) {
	if window <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.Prune(ctx, time.Now().UTC().Add(-window))
			if err != nil {
				log.InternalError("prune: failed", err)
				continue
			}
			if pruned > 0 {
				log.Info("prune: removed old change rows", "rows", pruned)
			}
		}
	}
}

func (a *App) HTTPServer() *http.Server {
	return a.httpServer
}

func (a *App) Close() error {
	a.cancelWorkers()
	if a.hub != nil {
		a.hub.Close()
	}
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
