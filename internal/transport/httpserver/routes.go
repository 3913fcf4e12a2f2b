package httpserver

import (
	"net/http"
	"time"

	"clipvault-go/internal/config"
	"clipvault-go/internal/transport/httpserver/handler"
	authmw "clipvault-go/internal/transport/httpserver/middleware"
	"clipvault-go/internal/transport/ws"
	"clipvault-go/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg config.Config, handlers *handler.Handlers, hub *ws.Hub, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(authmw.NewCORS(cfg.WS.AllowedOrigins))

	auth := authmw.NewTokenAuth(cfg.Auth, log)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/devices", handlers.RegisterDevice)
			r.Get("/devices", handlers.ListDevices)

			r.Post("/sync/pull", handlers.SyncPull)
			r.Post("/sync/push", handlers.SyncPush)
			r.Post("/sync/resolve", handlers.SyncResolve)
			r.Get("/sync/sessions/{session_id}", handlers.SyncSessionStatus)
			r.Get("/sync/sessions/{session_id}/stats", handlers.SyncSessionStats)
			r.Post("/sync/sessions/{session_id}/cancel", handlers.SyncSessionCancel)
			r.Get("/sync/snapshot", handlers.SyncSnapshot)
			r.Post("/sync/snapshot", handlers.SyncSnapshotApply)
		})
	})

	if cfg.WS.Enabled && hub != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Get("/ws", hub.Handler)
		})
	}

	return r
}
