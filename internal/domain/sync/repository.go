package sync

import (
	"context"
	"time"
)

// Repository persists the engine's own state: sessions, conflicts and
// the append-only sync log.
type Repository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// TransitionSession moves a session from one of the given statuses to
	// the target status. Returns false when the session was not in any of
	// the expected statuses (the compare-and-set failed).
	TransitionSession(ctx context.Context, id string, from []SessionStatus, to SessionStatus, endedAt *time.Time) (bool, error)
	UpdateSessionProgress(ctx context.Context, id string, percent int) error
	ActiveSession(ctx context.Context, deviceID string) (*Session, error)
	// StaleSessions lists non-terminal sessions with no progress update
	// since the given time.
	StaleSessions(ctx context.Context, before time.Time) ([]Session, error)

	CreateConflict(ctx context.Context, conflict *Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	OpenConflict(ctx context.Context, sessionID string, kind EntityKind, entityID string) (*Conflict, error)
	OpenConflicts(ctx context.Context, sessionID string) ([]Conflict, error)
	OpenConflictsForUser(ctx context.Context, userID string) ([]Conflict, error)
	MarkConflictResolved(ctx context.Context, id string, strategy ResolutionStrategy, at time.Time) error

	AppendLog(ctx context.Context, entry *LogEntry) error
	SessionLog(ctx context.Context, sessionID string) ([]LogEntry, error)
}

// ItemStore is the repository adapter the engine requires from entity
// storage. Implementations must provide read-committed isolation and a
// conditional apply keyed on the expected current revision.
type ItemStore interface {
	// ChangedSince returns the user's changes after the cursor, ordered by
	// (server timestamp, entity id) ascending, together with the cursor
	// covering them. Deletes are returned as tombstone changes. Fails with
	// ErrCursorInvalid when the cursor predates the retention horizon.
	ChangedSince(ctx context.Context, userID string, cursor Cursor, kinds []EntityKind) ([]ItemChange, Cursor, error)
	// CurrentState returns the current state of one entity, or nil when the
	// entity has never existed.
	CurrentState(ctx context.Context, userID string, kind EntityKind, entityID string) (*ItemState, error)
	// ApplyConditional applies one change if the entity's current revision
	// equals expectedRevision (0 for a new entity) and returns the new
	// revision. Fails with ErrRevisionMismatch otherwise.
	ApplyConditional(ctx context.Context, userID string, change ItemChange, expectedRevision int64) (int64, error)
	// All returns the current state of every live entity of the user,
	// ordered by (entity kind, entity id).
	All(ctx context.Context, userID string, kinds []EntityKind) ([]ItemState, error)
	// Head returns the cursor covering the user's entire change history.
	Head(ctx context.Context, userID string) (Cursor, error)
	// Transaction runs fn against a transactional view of the store. All
	// applies inside fn commit together or not at all.
	Transaction(ctx context.Context, fn func(tx ItemStore) error) error
}

// DeviceRegistry is the consumed device capability: ownership checks
// and the per-device sync cursor.
type DeviceRegistry interface {
	IsOwnedBy(ctx context.Context, deviceID, userID string) (bool, error)
	Cursor(ctx context.Context, deviceID string) (Cursor, error)
	// AdvanceCursor persists a new cursor for the device. Implementations
	// must keep the cursor monotonically non-decreasing.
	AdvanceCursor(ctx context.Context, deviceID string, cursor Cursor) error
}

// Notifier receives "entities changed" notifications produced by push,
// resolve and snapshot application. Delivery is an external concern.
type Notifier interface {
	EntitiesChanged(userID, originDeviceID string, notes []ChangeNote)
}

type noopNotifier struct{}

func (noopNotifier) EntitiesChanged(string, string, []ChangeNote) {}

// NoopNotifier is used when no notification collaborator is wired.
func NoopNotifier() Notifier {
	return noopNotifier{}
}
