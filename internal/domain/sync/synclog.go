package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"clipvault-go/pkg/logger"
)

// logRecorder appends session events to the audit log. Failing to write
// an audit entry never fails the session; it is reported and dropped.
type logRecorder struct {
	repo Repository
	log  logger.Logger
}

func newLogRecorder(repo Repository, log logger.Logger) *logRecorder {
	return &logRecorder{repo: repo, log: log}
}

func (r *logRecorder) Record(ctx context.Context, sessionID string, event LogEvent, detail any) {
	var encoded json.RawMessage
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			r.log.InternalError("synclog: encode detail failed", err, "session_id", sessionID, "event", event)
			return
		}
		encoded = data
	}

	entry := &LogEntry{
		SessionID: sessionID,
		Event:     event,
		Detail:    encoded,
	}
	if err := r.repo.AppendLog(ctx, entry); err != nil {
		r.log.InternalError("synclog: append failed", err, "session_id", sessionID, "event", event)
	}
}

type batchDetail struct {
	Batch     int `json:"batch"`
	Size      int `json:"size"`
	Applied   int `json:"applied"`
	NoOps     int `json:"no_ops"`
	Conflicts int `json:"conflicts"`
}

type endDetail struct {
	Reason string `json:"reason,omitempty"`
}

type pullDetail struct {
	Changes int    `json:"changes"`
	Cursor  string `json:"cursor"`
}

type snapshotDetail struct {
	Items  int    `json:"items"`
	Cursor string `json:"cursor"`
}

type conflictDetail struct {
	ConflictID string             `json:"conflict_id"`
	EntityKind EntityKind         `json:"entity_kind"`
	EntityID   string             `json:"entity_id"`
	Strategy   ResolutionStrategy `json:"strategy,omitempty"`
}

// Stats replays a session's log into aggregate counters.
func (r *logRecorder) Stats(ctx context.Context, session *Session) (*SessionStats, error) {
	entries, err := r.repo.SessionLog(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("session log: %w", err)
	}

	stats := &SessionStats{
		SessionID: session.ID,
		Status:    session.Status,
		Events:    len(entries),
		StartedAt: session.StartedAt,
		EndedAt:   session.EndedAt,
	}

	for _, entry := range entries {
		switch entry.Event {
		case LogEventBatchApplied:
			var detail batchDetail
			if err := json.Unmarshal(entry.Detail, &detail); err != nil {
				continue
			}
			stats.Applied += detail.Applied
			stats.NoOps += detail.NoOps
			stats.ConflictsDetected += detail.Conflicts
		case LogEventConflictDetected:
			stats.ConflictsDetected++
		case LogEventConflictResolved:
			stats.ConflictsResolved++
		}
	}

	return stats, nil
}
