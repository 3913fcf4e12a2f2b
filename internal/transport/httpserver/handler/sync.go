package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	syncdomain "clipvault-go/internal/domain/sync"
	"clipvault-go/internal/transport/httpserver/middleware"
	"github.com/go-chi/chi/v5"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

func isUUID(value string) bool {
	return uuidRegex.MatchString(value)
}

type syncChangeRequest struct {
	EntityKind      string          `json:"entity_kind"`
	EntityID        string          `json:"entity_id"`
	Op              string          `json:"op"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	BaseRevision    int64           `json:"base_revision"`
	ClientTimestamp *time.Time      `json:"client_timestamp,omitempty"`
	ContentHash     string          `json:"content_hash,omitempty"`
}

type syncPullRequest struct {
	DeviceID    string   `json:"device_id"`
	Cursor      string   `json:"cursor"`
	EntityKinds []string `json:"entity_kinds,omitempty"`
	Mode        string   `json:"mode,omitempty"`
}

type syncPushRequest struct {
	DeviceID       string              `json:"device_id"`
	SessionID      string              `json:"session_id,omitempty"`
	Direction      string              `json:"direction,omitempty"`
	Policy         string              `json:"policy,omitempty"`
	NetworkQuality float64             `json:"network_quality,omitempty"`
	Changes        []syncChangeRequest `json:"changes"`
}

type syncResolutionRequest struct {
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id"`
	Strategy      string          `json:"strategy"`
	MergedPayload json.RawMessage `json:"merged_payload,omitempty"`
}

type syncResolveRequest struct {
	SessionID   string                  `json:"session_id"`
	Resolutions []syncResolutionRequest `json:"resolutions"`
}

type snapshotApplyRequest struct {
	DeviceID string              `json:"device_id"`
	Cursor   string              `json:"cursor"`
	Policy   string              `json:"policy,omitempty"`
	Changes  []syncChangeRequest `json:"changes,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) SyncPull(w http.ResponseWriter, r *http.Request) {
	var req syncPullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if !isUUID(strings.TrimSpace(req.DeviceID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_id must be a uuid")
		return
	}

	kinds, err := parseEntityKinds(req.EntityKinds)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mode := syncdomain.PullModeIncremental
	if strings.EqualFold(req.Mode, string(syncdomain.PullModeFull)) {
		mode = syncdomain.PullModeFull
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	result, err := h.Sync.Pull(r.Context(), user.ID, syncdomain.PullRequest{
		DeviceID:    req.DeviceID,
		CursorToken: req.Cursor,
		EntityKinds: kinds,
		Mode:        mode,
	})
	if err != nil {
		h.writeSyncError(w, "sync.pull", err, "user_id", user.ID, "device_id", req.DeviceID)
		return
	}

	h.log.Info("sync: pull served",
		"user_id", user.ID,
		"device_id", req.DeviceID,
		"changes", len(result.Changes),
		"conflicts", len(result.Conflicts),
		"cursor", result.Cursor,
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SyncPush(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()

	var req syncPushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if !isUUID(strings.TrimSpace(req.DeviceID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_id must be a uuid")
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "changes are required")
		return
	}
	if len(req.Changes) > syncdomain.MaxPushChanges {
		writeError(w, http.StatusRequestEntityTooLarge, "push_too_large", "too many changes in one push")
		return
	}

	changes, err := parseChanges(req.Changes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	result, err := h.Sync.Push(r.Context(), user.ID, syncdomain.PushRequest{
		DeviceID:  req.DeviceID,
		SessionID: strings.TrimSpace(req.SessionID),
		Changes:   changes,
		Options: syncdomain.Options{
			Direction:      syncdomain.Direction(strings.ToLower(strings.TrimSpace(req.Direction))),
			Policy:         syncdomain.ConflictPolicy(strings.ToLower(strings.TrimSpace(req.Policy))),
			NetworkQuality: req.NetworkQuality,
		},
	})
	if err != nil {
		h.writeSyncError(w, "sync.push", err,
			"user_id", user.ID,
			"device_id", req.DeviceID,
			"changes", len(req.Changes),
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	h.log.Info("sync: push processed",
		"session_id", result.SessionID,
		"user_id", user.ID,
		"device_id", req.DeviceID,
		"status", result.Status,
		"applied", result.Applied,
		"no_ops", result.NoOps,
		"conflicts", len(result.Conflicts),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SyncResolve(w http.ResponseWriter, r *http.Request) {
	var req syncResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if !isUUID(strings.TrimSpace(req.SessionID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a uuid")
		return
	}
	if len(req.Resolutions) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "resolutions are required")
		return
	}

	resolutions := make([]syncdomain.Resolution, 0, len(req.Resolutions))
	for i, res := range req.Resolutions {
		kind := syncdomain.EntityKind(strings.ToLower(strings.TrimSpace(res.EntityKind)))
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid entity kind at index "+strconv.Itoa(i))
			return
		}
		strategy := syncdomain.ResolutionStrategy(strings.ToLower(strings.TrimSpace(res.Strategy)))
		if !strategy.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid strategy at index "+strconv.Itoa(i))
			return
		}
		if strings.TrimSpace(res.EntityID) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "entity_id is required at index "+strconv.Itoa(i))
			return
		}
		resolutions = append(resolutions, syncdomain.Resolution{
			EntityKind:    kind,
			EntityID:      strings.TrimSpace(res.EntityID),
			Strategy:      strategy,
			MergedPayload: res.MergedPayload,
		})
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	result, err := h.Sync.ResolveConflicts(r.Context(), user.ID, req.SessionID, resolutions)
	if err != nil {
		h.writeSyncError(w, "sync.resolve", err, "user_id", user.ID, "session_id", req.SessionID)
		return
	}

	h.log.Info("sync: conflicts resolved",
		"session_id", req.SessionID,
		"user_id", user.ID,
		"resolved", result.Resolved,
		"remaining", len(result.Remaining),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SyncSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if !isUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a uuid")
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	session, err := h.Sync.Status(r.Context(), sessionID)
	if err != nil {
		h.writeSyncError(w, "sync.status", err, "user_id", user.ID, "session_id", sessionID)
		return
	}
	if session.UserID != user.ID {
		writeError(w, http.StatusNotFound, "session_not_found", "sync session not found")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func (h *Handlers) SyncSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if !isUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a uuid")
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	session, err := h.Sync.Status(r.Context(), sessionID)
	if err != nil {
		h.writeSyncError(w, "sync.stats", err, "user_id", user.ID, "session_id", sessionID)
		return
	}
	if session.UserID != user.ID {
		writeError(w, http.StatusNotFound, "session_not_found", "sync session not found")
		return
	}

	stats, err := h.Sync.Stats(r.Context(), sessionID)
	if err != nil {
		h.writeSyncError(w, "sync.stats", err, "user_id", user.ID, "session_id", sessionID)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) SyncSessionCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if !isUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a uuid")
		return
	}

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
			return
		}
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	session, err := h.Sync.Status(r.Context(), sessionID)
	if err != nil {
		h.writeSyncError(w, "sync.cancel", err, "user_id", user.ID, "session_id", sessionID)
		return
	}
	if session.UserID != user.ID {
		writeError(w, http.StatusNotFound, "session_not_found", "sync session not found")
		return
	}

	cancelled, err := h.Sync.CancelSession(r.Context(), sessionID, req.Reason)
	if err != nil {
		h.writeSyncError(w, "sync.cancel", err, "user_id", user.ID, "session_id", sessionID)
		return
	}

	h.log.Info("sync: session cancelled", "session_id", sessionID, "user_id", user.ID, "reason", req.Reason)
	writeJSON(w, http.StatusOK, sessionResponse(cancelled))
}

func (h *Handlers) SyncSnapshot(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if !isUUID(deviceID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_id must be a uuid")
		return
	}

	var kindNames []string
	if raw := strings.TrimSpace(r.URL.Query().Get("entity_kinds")); raw != "" {
		kindNames = strings.Split(raw, ",")
	}
	kinds, err := parseEntityKinds(kindNames)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	pkg, err := h.Sync.BuildSnapshot(r.Context(), user.ID, deviceID, kinds)
	if err != nil {
		h.writeSyncError(w, "sync.snapshot", err, "user_id", user.ID, "device_id", deviceID)
		return
	}

	h.log.Info("sync: snapshot built", "user_id", user.ID, "device_id", deviceID, "items", len(pkg.Items))
	writeJSON(w, http.StatusOK, pkg)
}

func (h *Handlers) SyncSnapshotApply(w http.ResponseWriter, r *http.Request) {
	var req snapshotApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if !isUUID(strings.TrimSpace(req.DeviceID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_id must be a uuid")
		return
	}

	changes, err := parseChanges(req.Changes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return
	}

	result, err := h.Sync.ApplySnapshot(r.Context(), user.ID, syncdomain.PushRequest{
		DeviceID: req.DeviceID,
		Changes:  changes,
		Options: syncdomain.Options{
			Policy: syncdomain.ConflictPolicy(strings.ToLower(strings.TrimSpace(req.Policy))),
		},
	}, req.Cursor)
	if err != nil {
		h.writeSyncError(w, "sync.snapshot_apply", err, "user_id", user.ID, "device_id", req.DeviceID)
		return
	}

	h.log.Info("sync: snapshot applied",
		"session_id", result.SessionID,
		"user_id", user.ID,
		"device_id", req.DeviceID,
		"applied", result.Applied,
		"conflicts", len(result.Conflicts),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) writeSyncError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, syncdomain.ErrDeviceNotOwned):
		h.log.BusinessError(op+": device not owned", err, attrs...)
		writeError(w, http.StatusForbidden, "device_not_owned", "device does not belong to user")
	case errors.Is(err, syncdomain.ErrSessionConflict):
		h.log.BusinessError(op+": session in progress", err, attrs...)
		writeError(w, http.StatusConflict, "session_in_progress", "another sync session is in progress for this device")
	case errors.Is(err, syncdomain.ErrSessionNotFound):
		h.log.BusinessError(op+": session not found", err, attrs...)
		writeError(w, http.StatusNotFound, "session_not_found", "sync session not found")
	case errors.Is(err, syncdomain.ErrInvalidTransition):
		h.log.BusinessError(op+": invalid transition", err, attrs...)
		writeError(w, http.StatusConflict, "invalid_transition", "session is not in a state allowing this operation")
	case errors.Is(err, syncdomain.ErrUnresolvedConflicts):
		h.log.BusinessError(op+": unresolved conflicts", err, attrs...)
		writeError(w, http.StatusConflict, "unresolved_conflicts", "session has unresolved conflicts")
	case errors.Is(err, syncdomain.ErrCursorInvalid):
		h.log.BusinessError(op+": cursor invalid", err, attrs...)
		writeError(w, http.StatusGone, "cursor_invalid", "cursor is invalid or expired; request a full snapshot")
	case errors.Is(err, syncdomain.ErrMergeDataRequired):
		h.log.BusinessError(op+": merge payload missing", err, attrs...)
		writeError(w, http.StatusBadRequest, "merge_data_required", "merge strategy requires merged_payload")
	case errors.Is(err, syncdomain.ErrPushTooLarge):
		h.log.BusinessError(op+": push too large", err, attrs...)
		writeError(w, http.StatusRequestEntityTooLarge, "push_too_large", "too many changes in one push")
	case errors.Is(err, syncdomain.ErrConflictNotFound):
		h.log.BusinessError(op+": conflict not found", err, attrs...)
		writeError(w, http.StatusNotFound, "conflict_not_found", "conflict not found")
	case errors.Is(err, syncdomain.ErrConflictAlreadyResolved):
		h.log.BusinessError(op+": conflict already resolved", err, attrs...)
		writeError(w, http.StatusConflict, "conflict_already_resolved", "conflict was already resolved")
	default:
		h.log.InternalError(op+": failed", err, attrs...)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

type sessionView struct {
	ID              string                    `json:"id"`
	DeviceID        string                    `json:"device_id"`
	Direction       syncdomain.Direction      `json:"direction"`
	Policy          syncdomain.ConflictPolicy `json:"policy"`
	Status          syncdomain.SessionStatus  `json:"status"`
	BatchSize       int                       `json:"batch_size"`
	ProgressPercent int                       `json:"progress_percent"`
	StartedAt       time.Time                 `json:"started_at"`
	EndedAt         *time.Time                `json:"ended_at,omitempty"`
}

func sessionResponse(session *syncdomain.Session) sessionView {
	return sessionView{
		ID:              session.ID,
		DeviceID:        session.DeviceID,
		Direction:       session.Direction,
		Policy:          session.Policy,
		Status:          session.Status,
		BatchSize:       session.BatchSize,
		ProgressPercent: session.ProgressPercent,
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
	}
}

func parseEntityKinds(names []string) ([]syncdomain.EntityKind, error) {
	kinds := make([]syncdomain.EntityKind, 0, len(names))
	for _, name := range names {
		kind := syncdomain.EntityKind(strings.ToLower(strings.TrimSpace(name)))
		if kind == "" {
			continue
		}
		if !kind.Valid() {
			return nil, errors.New("unknown entity kind " + strconv.Quote(string(kind)))
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func parseChanges(requests []syncChangeRequest) ([]syncdomain.ItemChange, error) {
	changes := make([]syncdomain.ItemChange, 0, len(requests))
	for i, req := range requests {
		kind := syncdomain.EntityKind(strings.ToLower(strings.TrimSpace(req.EntityKind)))
		if !kind.Valid() {
			return nil, errors.New("invalid entity kind at index " + strconv.Itoa(i))
		}
		op := syncdomain.Operation(strings.ToLower(strings.TrimSpace(req.Op)))
		switch op {
		case syncdomain.OperationCreate, syncdomain.OperationUpdate, syncdomain.OperationDelete:
		default:
			return nil, errors.New("invalid op at index " + strconv.Itoa(i))
		}
		entityID := strings.TrimSpace(req.EntityID)
		if entityID == "" {
			return nil, errors.New("entity_id is required at index " + strconv.Itoa(i))
		}
		if op != syncdomain.OperationDelete && len(req.Payload) == 0 {
			return nil, errors.New("payload is required at index " + strconv.Itoa(i))
		}
		if req.BaseRevision < 0 {
			return nil, errors.New("base_revision must not be negative at index " + strconv.Itoa(i))
		}

		change := syncdomain.ItemChange{
			EntityKind:   kind,
			EntityID:     entityID,
			Op:           op,
			Payload:      req.Payload,
			BaseRevision: req.BaseRevision,
			ContentHash:  strings.TrimSpace(req.ContentHash),
		}
		if req.ClientTimestamp != nil {
			change.ClientTimestamp = *req.ClientTimestamp
		}
		changes = append(changes, change)
	}
	return changes, nil
}
