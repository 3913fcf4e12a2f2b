package handler

import (
	"net/http"

	devicedomain "clipvault-go/internal/domain/device"
	syncdomain "clipvault-go/internal/domain/sync"
	"clipvault-go/pkg/logger"
)

type Handlers struct {
	Sync    *syncdomain.Service
	Devices *devicedomain.Service
	log     logger.Logger
}

func New(syncService *syncdomain.Service, devices *devicedomain.Service, log logger.Logger) *Handlers {
	return &Handlers{
		Sync:    syncService,
		Devices: devices,
		log:     log,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
