package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	devicedomain "clipvault-go/internal/domain/device"
	"clipvault-go/internal/transport/httpserver/middleware"
)

type registerDeviceRequest struct {
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
}

type deviceView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Platform   string     `json:"platform,omitempty"`
	Token      string     `json:"token,omitempty"`
	CursorSeq  int64      `json:"cursor_seq"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func deviceResponse(d *devicedomain.Device) deviceView {
	return deviceView{
		ID:         d.ID,
		Name:       d.Name,
		Platform:   d.Platform,
		Token:      d.Token,
		CursorSeq:  d.CursorSeq,
		LastSeenAt: d.LastSeenAt,
		CreatedAt:  d.CreatedAt,
	}
}

func (h *Handlers) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	device, err := h.Devices.Register(r.Context(), user.ID, req.Name, req.Platform)
	if err != nil {
		h.log.InternalError("devices.register: failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	h.log.Info("devices: registered", "device_id", device.ID, "user_id", user.ID, "platform", device.Platform)
	writeJSON(w, http.StatusCreated, deviceResponse(device))
}

func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	devices, err := h.Devices.List(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, devicedomain.ErrDeviceNotFound) {
			writeJSON(w, http.StatusOK, []deviceView{})
			return
		}
		h.log.InternalError("devices.list: failed", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		views = append(views, deviceResponse(&devices[i]))
	}
	writeJSON(w, http.StatusOK, views)
}
