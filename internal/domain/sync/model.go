package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultMinBatchSize = 10
	DefaultMaxBatchSize = 200

	MaxPushChanges = 1000
)

type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
	DirectionBoth Direction = "both"
)

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusConflicted SessionStatus = "conflicted"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

type ConflictPolicy string

const (
	PolicyAuto   ConflictPolicy = "auto"
	PolicyStrict ConflictPolicy = "strict"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

type EntityKind string

const (
	EntityKindClip   EntityKind = "clip"
	EntityKindFolder EntityKind = "folder"
	EntityKindTag    EntityKind = "tag"
	EntityKindSet    EntityKind = "set"
)

var knownEntityKinds = map[EntityKind]struct{}{
	EntityKindClip:   {},
	EntityKindFolder: {},
	EntityKindTag:    {},
	EntityKindSet:    {},
}

func (k EntityKind) Valid() bool {
	_, ok := knownEntityKinds[k]
	return ok
}

func AllEntityKinds() []EntityKind {
	return []EntityKind{EntityKindClip, EntityKindFolder, EntityKindTag, EntityKindSet}
}

type ResolutionStrategy string

const (
	StrategyUseServer ResolutionStrategy = "use_server"
	StrategyUseClient ResolutionStrategy = "use_client"
	StrategyMerge     ResolutionStrategy = "merge"
	StrategyKeepBoth  ResolutionStrategy = "keep_both"
)

func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyUseServer, StrategyUseClient, StrategyMerge, StrategyKeepBoth:
		return true
	}
	return false
}

type PullMode string

const (
	PullModeFull        PullMode = "full"
	PullModeIncremental PullMode = "incremental"
)

// Options configure one sync session. NetworkQuality is a client-declared
// hint in [0,1] used to pick the batch size for the whole session.
type Options struct {
	Direction      Direction
	Policy         ConflictPolicy
	NetworkQuality float64
}

// Session is the persisted record of one sync attempt by one device.
// At most one session per device may be in_progress at a time.
type Session struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	UserID          string         `gorm:"type:uuid;not null;index"`
	DeviceID        string         `gorm:"type:uuid;not null;index:idx_sync_sessions_device_status"`
	Direction       Direction      `gorm:"not null"`
	Policy          ConflictPolicy `gorm:"not null"`
	Status          SessionStatus  `gorm:"not null;index:idx_sync_sessions_device_status"`
	BatchSize       int            `gorm:"not null"`
	ProgressPercent int            `gorm:"not null"`
	StartedAt       time.Time      `gorm:"not null"`
	EndedAt         *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Session) TableName() string {
	return "sync_sessions"
}

// ItemChange is one unit of change for one entity. Payload is opaque to
// the engine; ContentHash is the idempotence key over it.
type ItemChange struct {
	EntityKind      EntityKind      `json:"entity_kind"`
	EntityID        string          `json:"entity_id"`
	Op              Operation       `json:"op"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	BaseRevision    int64           `json:"base_revision"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
	ContentHash     string          `json:"content_hash"`
}

// ItemState is the current server-side state of one entity as reported
// by the item store. A deleted entity keeps its row as a tombstone.
type ItemState struct {
	EntityKind EntityKind      `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Hash       string          `json:"hash"`
	Revision   int64           `json:"revision"`
	Deleted    bool            `json:"deleted"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Conflict records a detected divergence between a client change and the
// server state of the same entity. Kept for audit, never auto-deleted.
type Conflict struct {
	ID               string              `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID        string              `gorm:"type:uuid;not null;index" json:"session_id"`
	UserID           string              `gorm:"type:uuid;not null;index" json:"-"`
	EntityKind       EntityKind          `gorm:"not null" json:"entity_kind"`
	EntityID         string              `gorm:"not null" json:"entity_id"`
	LocalPayload     json.RawMessage     `gorm:"type:jsonb" json:"local_payload,omitempty"`
	RemotePayload    json.RawMessage     `gorm:"type:jsonb" json:"remote_payload,omitempty"`
	LocalRevision    int64               `gorm:"not null" json:"local_revision"`
	RemoteRevision   int64               `gorm:"not null" json:"remote_revision"`
	LocalHash        string              `gorm:"not null" json:"-"`
	LocalOp          Operation           `gorm:"not null" json:"local_op"`
	ResolvedStrategy *ResolutionStrategy `gorm:"column:resolved_strategy" json:"resolved_strategy,omitempty"`
	Resolved         bool                `gorm:"not null" json:"resolved"`
	ResolvedAt       *time.Time          `json:"resolved_at,omitempty"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"-"`
}

func (Conflict) TableName() string {
	return "sync_conflicts"
}

// Cursor is the per-device watermark over the user's change history.
// Seq is the last consumed change sequence number; the wire form is the
// opaque token produced by Token.
type Cursor struct {
	Seq          int64
	LastSyncedAt time.Time
}

func (c Cursor) Token() string {
	return strconv.FormatInt(c.Seq, 10)
}

func (c Cursor) Before(other Cursor) bool {
	return c.Seq < other.Seq
}

func ParseCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	seq, err := strconv.ParseInt(token, 10, 64)
	if err != nil || seq < 0 {
		return Cursor{}, ErrCursorInvalid
	}
	return Cursor{Seq: seq}, nil
}

type LogEvent string

const (
	LogEventSessionStarted   LogEvent = "session_started"
	LogEventPullServed       LogEvent = "pull_served"
	LogEventBatchApplied     LogEvent = "batch_applied"
	LogEventConflictDetected LogEvent = "conflict_detected"
	LogEventConflictResolved LogEvent = "conflict_resolved"
	LogEventSnapshotBuilt    LogEvent = "snapshot_built"
	LogEventSnapshotApplied  LogEvent = "snapshot_applied"
	LogEventSessionCompleted LogEvent = "session_completed"
	LogEventSessionFailed    LogEvent = "session_failed"
	LogEventSessionCancelled LogEvent = "session_cancelled"
)

// LogEntry is one append-only audit record for a session.
type LogEntry struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string          `gorm:"type:uuid;not null;index" json:"session_id"`
	Event     LogEvent        `gorm:"not null" json:"event"`
	Detail    json.RawMessage `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LogEntry) TableName() string {
	return "sync_log"
}

// ChangeNote tells other devices of the same user that server-side
// entity state changed.
type ChangeNote struct {
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	Op         Operation  `json:"op"`
}

type PullRequest struct {
	DeviceID    string
	CursorToken string
	EntityKinds []EntityKind
	Mode        PullMode
}

type PullResult struct {
	SessionID string       `json:"session_id"`
	Cursor    string       `json:"cursor"`
	Changes   []ItemChange `json:"changes"`
	Conflicts []Conflict   `json:"conflicts"`
}

type PushRequest struct {
	DeviceID  string
	SessionID string
	Changes   []ItemChange
	Options   Options
}

type PushResult struct {
	SessionID     string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	Applied       int           `json:"applied"`
	NoOps         int           `json:"no_ops"`
	Conflicts     []Conflict    `json:"conflicts"`
	ServerChanges []ItemChange  `json:"server_changes,omitempty"`
	Cursor        string        `json:"cursor,omitempty"`
	// ForkedEntities maps an original entity id to the new id created by a
	// keep_both resolution, so the device can relabel its local copy.
	ForkedEntities map[string]string `json:"forked_entities,omitempty"`
}

type Resolution struct {
	EntityKind    EntityKind
	EntityID      string
	Strategy      ResolutionStrategy
	MergedPayload json.RawMessage
}

type ResolveResult struct {
	AllResolved    bool              `json:"all_resolved"`
	Resolved       int               `json:"resolved"`
	Remaining      []Conflict        `json:"remaining"`
	ForkedEntities map[string]string `json:"forked_entities,omitempty"`
}

// SnapshotPackage is the full-state fallback for devices whose cursor
// fell behind the differential retention horizon.
type SnapshotPackage struct {
	Cursor  string      `json:"cursor"`
	Items   []ItemState `json:"items"`
	BuiltAt time.Time   `json:"built_at"`
}

// SessionStats aggregates a session's sync log for troubleshooting.
type SessionStats struct {
	SessionID         string        `json:"session_id"`
	Status            SessionStatus `json:"status"`
	Events            int           `json:"events"`
	Applied           int           `json:"applied"`
	NoOps             int           `json:"no_ops"`
	ConflictsDetected int           `json:"conflicts_detected"`
	ConflictsResolved int           `json:"conflicts_resolved"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
}

// HashPayload is the deterministic content digest used as the
// idempotence key: two changes for the same entity with equal hashes are
// the same revision.
func HashPayload(payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
