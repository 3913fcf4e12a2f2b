package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	stdsync "sync"
	"time"

	"clipvault-go/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.New(io.Discard, slog.LevelError, "json")
}

type fakeRepo struct {
	mu        stdsync.Mutex
	sessions  map[string]*Session
	conflicts map[string]*Conflict
	logs      []LogEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:  make(map[string]*Session),
		conflicts: make(map[string]*Conflict),
	}
}

func (r *fakeRepo) CreateSession(ctx context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeRepo) GetSession(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	clone := *session
	return &clone, nil
}

func (r *fakeRepo) TransitionSession(ctx context.Context, id string, from []SessionStatus, to SessionStatus, endedAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, status := range from {
		if session.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	session.Status = to
	session.EndedAt = endedAt
	session.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRepo) UpdateSessionProgress(ctx context.Context, id string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	session.ProgressPercent = percent
	session.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) ActiveSession(ctx context.Context, deviceID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.DeviceID == deviceID && !session.Status.Terminal() {
			clone := *session
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) StaleSessions(ctx context.Context, before time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []Session
	for _, session := range r.sessions {
		if !session.Status.Terminal() && session.UpdatedAt.Before(before) {
			stale = append(stale, *session)
		}
	}
	return stale, nil
}

// backdate fakes inactivity by pushing the session's last update into
// the past.
func (r *fakeRepo) backdate(sessionID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		session.UpdatedAt = session.UpdatedAt.Add(-d)
	}
}

func (r *fakeRepo) CreateConflict(ctx context.Context, conflict *Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *conflict
	clone.CreatedAt = time.Now()
	r.conflicts[conflict.ID] = &clone
	return nil
}

func (r *fakeRepo) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conflict, ok := r.conflicts[id]
	if !ok {
		return nil, nil
	}
	clone := *conflict
	return &clone, nil
}

func (r *fakeRepo) OpenConflict(ctx context.Context, sessionID string, kind EntityKind, entityID string) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Conflict
	for _, conflict := range r.conflicts {
		if conflict.SessionID != sessionID || conflict.EntityKind != kind || conflict.EntityID != entityID || conflict.Resolved {
			continue
		}
		if latest == nil || conflict.CreatedAt.After(latest.CreatedAt) {
			latest = conflict
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (r *fakeRepo) OpenConflicts(ctx context.Context, sessionID string) ([]Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []Conflict
	for _, conflict := range r.conflicts {
		if conflict.SessionID == sessionID && !conflict.Resolved {
			open = append(open, *conflict)
		}
	}
	return open, nil
}

func (r *fakeRepo) OpenConflictsForUser(ctx context.Context, userID string) ([]Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []Conflict
	for _, conflict := range r.conflicts {
		if conflict.UserID == userID && !conflict.Resolved {
			open = append(open, *conflict)
		}
	}
	return open, nil
}

func (r *fakeRepo) MarkConflictResolved(ctx context.Context, id string, strategy ResolutionStrategy, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conflict, ok := r.conflicts[id]
	if !ok || conflict.Resolved {
		return ErrConflictAlreadyResolved
	}
	conflict.Resolved = true
	conflict.ResolvedStrategy = &strategy
	conflict.ResolvedAt = &at
	return nil
}

func (r *fakeRepo) AppendLog(ctx context.Context, entry *LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *entry
	clone.ID = int64(len(r.logs) + 1)
	clone.CreatedAt = time.Now()
	r.logs = append(r.logs, clone)
	return nil
}

func (r *fakeRepo) SessionLog(ctx context.Context, sessionID string) ([]LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []LogEntry
	for _, entry := range r.logs {
		if entry.SessionID == sessionID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *fakeRepo) events(sessionID string) []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []LogEvent
	for _, entry := range r.logs {
		if entry.SessionID == sessionID {
			events = append(events, entry.Event)
		}
	}
	return events
}

type itemKey struct {
	kind EntityKind
	id   string
}

type storedChange struct {
	seq    int64
	change ItemChange
}

// fakeStore is an in-memory ItemStore with sequence-numbered history and
// snapshot-rollback transactions. failNext injects one apply failure per
// entity id.
type fakeStore struct {
	mu       stdsync.Mutex
	items    map[itemKey]*ItemState
	changes  []storedChange
	seq      int64
	minSeq   int64
	failNext map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:    make(map[itemKey]*ItemState),
		minSeq:   1,
		failNext: make(map[string]error),
	}
}

// prune simulates retention-horizon pruning of the change history.
func (s *fakeStore) prune(keepAfterSeq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.changes[:0]
	for _, c := range s.changes {
		if c.seq > keepAfterSeq {
			kept = append(kept, c)
		}
	}
	s.changes = kept
	s.minSeq = keepAfterSeq + 1
}

func (s *fakeStore) failOnce(entityID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[entityID] = err
}

func (s *fakeStore) ChangedSince(ctx context.Context, userID string, cursor Cursor, kinds []EntityKind) ([]ItemChange, Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor.Seq > s.seq {
		return nil, Cursor{}, ErrCursorInvalid
	}
	if s.minSeq > cursor.Seq+1 {
		return nil, Cursor{}, ErrCursorInvalid
	}

	wanted := make(map[EntityKind]struct{}, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = struct{}{}
	}

	next := cursor
	skipped := int64(0)
	var changes []ItemChange
	for _, c := range s.changes {
		if c.seq <= cursor.Seq {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[c.change.EntityKind]; !ok {
				if skipped == 0 || c.seq < skipped {
					skipped = c.seq
				}
				continue
			}
		}
		if c.seq > next.Seq {
			next.Seq = c.seq
		}
		changes = append(changes, c.change)
	}
	// The cursor stops short of the first change a kind filter withheld.
	if skipped > 0 && next.Seq >= skipped {
		next.Seq = skipped - 1
	}
	return changes, next, nil
}

func (s *fakeStore) CurrentState(ctx context.Context, userID string, kind EntityKind, entityID string) (*ItemState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.items[itemKey{kind: kind, id: entityID}]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

func (s *fakeStore) ApplyConditional(ctx context.Context, userID string, change ItemChange, expectedRevision int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failNext[change.EntityID]; ok {
		delete(s.failNext, change.EntityID)
		return 0, err
	}

	key := itemKey{kind: change.EntityKind, id: change.EntityID}
	current, exists := s.items[key]

	if expectedRevision == 0 {
		if exists {
			return 0, ErrRevisionMismatch
		}
	} else {
		if !exists || current.Revision != expectedRevision {
			return 0, ErrRevisionMismatch
		}
	}

	revision := expectedRevision + 1
	s.items[key] = &ItemState{
		EntityKind: change.EntityKind,
		EntityID:   change.EntityID,
		Payload:    change.Payload,
		Hash:       change.ContentHash,
		Revision:   revision,
		Deleted:    change.Op == OperationDelete,
		UpdatedAt:  change.ServerTimestamp,
	}

	s.seq++
	recorded := change
	recorded.BaseRevision = revision
	s.changes = append(s.changes, storedChange{seq: s.seq, change: recorded})
	return revision, nil
}

func (s *fakeStore) All(ctx context.Context, userID string, kinds []EntityKind) ([]ItemState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[EntityKind]struct{}, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = struct{}{}
	}

	var states []ItemState
	for _, state := range s.items {
		if state.Deleted {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[state.EntityKind]; !ok {
				continue
			}
		}
		states = append(states, *state)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].EntityKind != states[j].EntityKind {
			return states[i].EntityKind < states[j].EntityKind
		}
		return states[i].EntityID < states[j].EntityID
	})
	return states, nil
}

func (s *fakeStore) Head(ctx context.Context, userID string) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Cursor{Seq: s.seq}, nil
}

func (s *fakeStore) Transaction(ctx context.Context, fn func(tx ItemStore) error) error {
	s.mu.Lock()
	itemsBackup := make(map[itemKey]*ItemState, len(s.items))
	for key, state := range s.items {
		clone := *state
		itemsBackup[key] = &clone
	}
	changesBackup := append([]storedChange(nil), s.changes...)
	seqBackup := s.seq
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.items = itemsBackup
		s.changes = changesBackup
		s.seq = seqBackup
		s.mu.Unlock()
		return err
	}
	return nil
}

type fakeRegistry struct {
	mu      stdsync.Mutex
	owners  map[string]string
	cursors map[string]Cursor
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		owners:  make(map[string]string),
		cursors: make(map[string]Cursor),
	}
}

func (r *fakeRegistry) register(deviceID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[deviceID] = userID
}

func (r *fakeRegistry) IsOwnedBy(ctx context.Context, deviceID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[deviceID] == userID, nil
}

func (r *fakeRegistry) Cursor(ctx context.Context, deviceID string) (Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[deviceID], nil
}

func (r *fakeRegistry) AdvanceCursor(ctx context.Context, deviceID string, cursor Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cursor.Seq < r.cursors[deviceID].Seq {
		return nil
	}
	r.cursors[deviceID] = cursor
	return nil
}

type notification struct {
	userID   string
	deviceID string
	notes    []ChangeNote
}

type fakeNotifier struct {
	mu    stdsync.Mutex
	calls []notification
}

func (n *fakeNotifier) EntitiesChanged(userID, originDeviceID string, notes []ChangeNote) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{userID: userID, deviceID: originDeviceID, notes: notes})
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type testEnv struct {
	repo     *fakeRepo
	store    *fakeStore
	registry *fakeRegistry
	notifier *fakeNotifier
	svc      *Service
}

func newTestEnv(cfg Config) *testEnv {
	repo := newFakeRepo()
	store := newFakeStore()
	registry := newFakeRegistry()
	notifier := &fakeNotifier{}
	return &testEnv{
		repo:     repo,
		store:    store,
		registry: registry,
		notifier: notifier,
		svc:      NewService(repo, store, registry, notifier, cfg, testLogger()),
	}
}

// seed writes one live entity directly into the store and returns its
// revision.
func (e *testEnv) seed(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, userID string, kind EntityKind, entityID, payload string) int64 {
	t.Helper()
	revision, err := e.store.ApplyConditional(context.Background(), userID, ItemChange{
		EntityKind:      kind,
		EntityID:        entityID,
		Op:              OperationCreate,
		Payload:         []byte(payload),
		ContentHash:     HashPayload([]byte(payload)),
		ServerTimestamp: time.Now().UTC(),
	}, 0)
	if err != nil {
		t.Fatalf("seed %s: %v", entityID, err)
	}
	return revision
}
