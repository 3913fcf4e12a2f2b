package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clipvault-go/pkg/logger"
	"github.com/google/uuid"
)

// Config carries the engine's tunables. Zero values fall back to the
// package defaults.
type Config struct {
	MinBatchSize      int
	MaxBatchSize      int
	InactivityTimeout time.Duration
	DefaultPolicy     ConflictPolicy
}

const defaultInactivityTimeout = 5 * time.Minute

// Service is the sync session manager. It orchestrates a session end to
// end: start, pull, push, conflict handling, completion. The per-device
// lock serializes sessions of one device; concurrent sessions of other
// devices are coordinated only through base-revision checks.
type Service struct {
	repo      Repository
	store     ItemStore
	devices   DeviceRegistry
	notifier  Notifier
	detector  *ChangeDetector
	resolver  *ConflictResolver
	processor *BatchProcessor
	snapshots *SnapshotBuilder
	audit     *logRecorder
	locks     *deviceLocks
	log       logger.Logger

	inactivityTimeout time.Duration
	defaultPolicy     ConflictPolicy

	now func() time.Time
	ids func() string
}

func NewService(repo Repository, store ItemStore, devices DeviceRegistry, notifier Notifier, cfg Config, log logger.Logger) *Service {
	if notifier == nil {
		notifier = NoopNotifier()
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = PolicyAuto
	}

	now := func() time.Time { return time.Now().UTC() }
	ids := uuid.NewString

	resolver := NewConflictResolver(store, ids, now)
	processor := NewBatchProcessor(repo, store, resolver, cfg.MinBatchSize, cfg.MaxBatchSize, ids, now)

	return &Service{
		repo:              repo,
		store:             store,
		devices:           devices,
		notifier:          notifier,
		detector:          NewChangeDetector(store),
		resolver:          resolver,
		processor:         processor,
		snapshots:         NewSnapshotBuilder(store, processor, now),
		audit:             newLogRecorder(repo, log),
		locks:             newDeviceLocks(),
		log:               log,
		inactivityTimeout: cfg.InactivityTimeout,
		defaultPolicy:     cfg.DefaultPolicy,
		now:               now,
		ids:               ids,
	}
}

// StartSession opens a sync session for a device. Fails with
// ErrSessionConflict while another session of the same device is in
// progress.
func (s *Service) StartSession(ctx context.Context, userID, deviceID string, opts Options) (*Session, error) {
	session, _, err := s.begin(ctx, userID, deviceID, opts)
	return session, err
}

func (s *Service) begin(ctx context.Context, userID, deviceID string, opts Options) (*Session, *lease, error) {
	if err := s.ensureOwned(ctx, deviceID, userID); err != nil {
		return nil, nil, err
	}

	if opts.Direction == "" {
		opts.Direction = DirectionBoth
	}
	if opts.Policy == "" {
		opts.Policy = s.defaultPolicy
	}

	id := s.ids()
	held, ok := s.locks.Acquire(deviceID, id)
	if !ok {
		return nil, nil, ErrSessionConflict
	}

	session, err := s.createSession(ctx, id, userID, deviceID, opts)
	if err != nil {
		s.locks.Release(deviceID, id)
		return nil, nil, err
	}

	return session, held, nil
}

func (s *Service) createSession(ctx context.Context, id, userID, deviceID string, opts Options) (*Session, error) {
	// A lingering in_progress record can survive a process restart; the
	// in-memory lock would not know about it. A stale one is failed here,
	// a live one keeps its exclusivity.
	active, err := s.repo.ActiveSession(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("active session lookup: %w", err)
	}
	if active != nil {
		if s.now().Sub(active.UpdatedAt) < s.inactivityTimeout {
			return nil, ErrSessionConflict
		}
		if err := s.forceFail(ctx, active, "inactivity timeout"); err != nil {
			return nil, err
		}
	}

	now := s.now()
	session := &Session{
		ID:        id,
		UserID:    userID,
		DeviceID:  deviceID,
		Direction: opts.Direction,
		Policy:    opts.Policy,
		Status:    SessionStatusPending,
		BatchSize: s.processor.SizeFor(opts.NetworkQuality),
		StartedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	ok, err := s.repo.TransitionSession(ctx, id, []SessionStatus{SessionStatusPending}, SessionStatusInProgress, nil)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	session.Status = SessionStatusInProgress

	s.audit.Record(ctx, id, LogEventSessionStarted, map[string]any{
		"device_id": deviceID,
		"direction": opts.Direction,
		"policy":    opts.Policy,
		"batch":     session.BatchSize,
	})

	return session, nil
}

// EndSession moves an in_progress or conflicted session to a terminal
// status. Completing a strict-policy session with open conflicts fails
// with ErrUnresolvedConflicts.
func (s *Service) EndSession(ctx context.Context, sessionID string, final SessionStatus) (*Session, error) {
	if !final.Terminal() {
		return nil, ErrInvalidTransition
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case SessionStatusInProgress:
	case SessionStatusConflicted:
		if final == SessionStatusCompleted && session.Policy == PolicyStrict {
			open, err := s.repo.OpenConflicts(ctx, sessionID)
			if err != nil {
				return nil, fmt.Errorf("open conflicts: %w", err)
			}
			if len(open) > 0 {
				return nil, ErrUnresolvedConflicts
			}
		}
	default:
		return nil, ErrInvalidTransition
	}

	endedAt := s.now()
	ok, err := s.repo.TransitionSession(ctx, sessionID, []SessionStatus{SessionStatusInProgress, SessionStatusConflicted}, final, &endedAt)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	s.locks.Release(session.DeviceID, sessionID)
	s.audit.Record(ctx, sessionID, endEvent(final), nil)

	session.Status = final
	session.EndedAt = &endedAt
	return session, nil
}

// CancelSession cancels any non-terminal session. Batches already handed
// to the item store finish; further dispatch stops at the next batch
// boundary via the lease's cancellation flag.
func (s *Service) CancelSession(ctx context.Context, sessionID, reason string) (*Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	if held, ok := s.locks.Lease(session.DeviceID); ok && held.sessionID == sessionID {
		held.Cancel()
	}

	endedAt := s.now()
	ok, err := s.repo.TransitionSession(ctx, sessionID,
		[]SessionStatus{SessionStatusPending, SessionStatusInProgress, SessionStatusConflicted},
		SessionStatusCancelled, &endedAt)
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	s.locks.Release(session.DeviceID, sessionID)
	s.audit.Record(ctx, sessionID, LogEventSessionCancelled, endDetail{Reason: reason})

	session.Status = SessionStatusCancelled
	session.EndedAt = &endedAt
	return session, nil
}

// Status returns the current session projection.
func (s *Service) Status(ctx context.Context, sessionID string) (*Session, error) {
	return s.getSession(ctx, sessionID)
}

// Stats aggregates the session's audit log.
func (s *Service) Stats(ctx context.Context, sessionID string) (*SessionStats, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.audit.Stats(ctx, session)
}

// Pull serves a device the changes it has not yet consumed. In
// incremental mode an expired cursor fails with ErrCursorInvalid and the
// device must fall back to BuildSnapshot. The device cursor advances
// only when the session completes.
func (s *Service) Pull(ctx context.Context, userID string, req PullRequest) (*PullResult, error) {
	cursor, err := ParseCursor(req.CursorToken)
	if err != nil {
		return nil, err
	}

	session, _, err := s.begin(ctx, userID, req.DeviceID, Options{Direction: DirectionPull, Policy: s.defaultPolicy})
	if err != nil {
		return nil, err
	}

	var changes []ItemChange
	var next Cursor

	if req.Mode == PullModeFull {
		pkg, err := s.snapshots.Build(ctx, userID, req.EntityKinds)
		if err != nil {
			s.fail(ctx, session, "snapshot build failed")
			return nil, err
		}
		for i := range pkg.Items {
			changes = append(changes, *serverStateChange(&pkg.Items[i]))
		}
		next, _ = ParseCursor(pkg.Cursor)
	} else {
		changes, next, err = s.detector.ChangesSince(ctx, userID, cursor, req.EntityKinds)
		if err != nil {
			s.fail(ctx, session, "differential failed")
			return nil, err
		}
	}

	conflicts, err := s.repo.OpenConflictsForUser(ctx, userID)
	if err != nil {
		s.fail(ctx, session, "conflict lookup failed")
		return nil, fmt.Errorf("open conflicts: %w", err)
	}

	s.audit.Record(ctx, session.ID, LogEventPullServed, pullDetail{Changes: len(changes), Cursor: next.Token()})

	if err := s.complete(ctx, session, &next); err != nil {
		return nil, err
	}

	return &PullResult{
		SessionID: session.ID,
		Cursor:    next.Token(),
		Changes:   changes,
		Conflicts: conflicts,
	}, nil
}

// Push applies a client-submitted change set. Changes are stamped with
// the server receipt time, ordered deterministically, partitioned into
// session-sized batches and applied with idempotent semantics. The
// result always reports what applied cleanly plus the conflicts; a push
// is never all-or-nothing beyond the per-batch atomicity boundary.
func (s *Service) Push(ctx context.Context, userID string, req PushRequest) (*PushResult, error) {
	if len(req.Changes) == 0 {
		return nil, fmt.Errorf("changes are required")
	}
	if len(req.Changes) > MaxPushChanges {
		return nil, ErrPushTooLarge
	}
	if err := validateChanges(req.Changes); err != nil {
		return nil, err
	}

	session, held, err := s.resumeOrBegin(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	receivedAt := s.now()
	changes := make([]ItemChange, len(req.Changes))
	copy(changes, req.Changes)
	for i := range changes {
		changes[i].ServerTimestamp = receivedAt
		if changes[i].ContentHash == "" {
			changes[i].ContentHash = HashPayload(changes[i].Payload)
		}
	}
	OrderChanges(changes)

	batches := s.processor.Partition(changes, session.BatchSize)
	total := &BatchResult{}
	cancelled := false

	for i, batch := range batches {
		if held.Cancelled() {
			cancelled = true
			break
		}

		result, err := s.processor.Apply(ctx, userID, session.ID, batch, session.Policy)
		if err != nil {
			// Transient by taxonomy: surfaced retryable, session kept open so
			// the idempotent batch can be resubmitted.
			s.log.InternalError("sync: batch apply failed", err, "session_id", session.ID, "batch", i)
			return nil, err
		}

		total.Applied += result.Applied
		total.NoOps += result.NoOps
		total.Conflicts = append(total.Conflicts, result.Conflicts...)
		total.Notes = append(total.Notes, result.Notes...)

		percent := (i + 1) * 100 / len(batches)
		if err := s.repo.UpdateSessionProgress(ctx, session.ID, percent); err != nil {
			s.log.InternalError("sync: progress update failed", err, "session_id", session.ID)
		}

		s.audit.Record(ctx, session.ID, LogEventBatchApplied, batchDetail{
			Batch:     i + 1,
			Size:      len(batch),
			Applied:   result.Applied,
			NoOps:     result.NoOps,
			Conflicts: len(result.Conflicts),
		})
	}

	result := &PushResult{
		SessionID: session.ID,
		Applied:   total.Applied,
		NoOps:     total.NoOps,
		Conflicts: total.Conflicts,
	}

	if len(total.Notes) > 0 {
		s.notifier.EntitiesChanged(userID, session.DeviceID, total.Notes)
	}

	if cancelled {
		result.Status = SessionStatusCancelled
		return result, nil
	}

	if openCount(total.Conflicts) > 0 {
		ok, err := s.repo.TransitionSession(ctx, session.ID, []SessionStatus{SessionStatusInProgress}, SessionStatusConflicted, nil)
		if err != nil {
			return nil, fmt.Errorf("mark conflicted: %w", err)
		}
		if ok {
			result.Status = SessionStatusConflicted
		}
		return result, nil
	}

	if session.Direction == DirectionBoth {
		cursor, err := s.devices.Cursor(ctx, session.DeviceID)
		if err != nil {
			s.fail(ctx, session, "cursor lookup failed")
			return nil, fmt.Errorf("device cursor: %w", err)
		}
		serverChanges, next, err := s.detector.ChangesSince(ctx, userID, cursor, nil)
		if err != nil {
			s.fail(ctx, session, "differential failed")
			return nil, err
		}
		result.ServerChanges = serverChanges
		result.Cursor = next.Token()
		if err := s.complete(ctx, session, &next); err != nil {
			return nil, err
		}
	} else {
		if err := s.complete(ctx, session, nil); err != nil {
			return nil, err
		}
	}

	result.Status = SessionStatusCompleted
	return result, nil
}

// ResolveConflicts applies explicit resolutions to a session's open
// conflicts. When the last conflict of a conflicted session resolves,
// the session completes.
func (s *Service) ResolveConflicts(ctx context.Context, userID, sessionID string, resolutions []Resolution) (*ResolveResult, error) {
	if len(resolutions) == 0 {
		return nil, fmt.Errorf("resolutions are required")
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if session.Status != SessionStatusConflicted && session.Status != SessionStatusInProgress {
		return nil, ErrInvalidTransition
	}

	result := &ResolveResult{ForkedEntities: make(map[string]string)}
	var notes []ChangeNote

	for _, res := range resolutions {
		if !res.Strategy.Valid() {
			return nil, fmt.Errorf("unknown resolution strategy %q", res.Strategy)
		}

		conflict, err := s.repo.OpenConflict(ctx, sessionID, res.EntityKind, res.EntityID)
		if err != nil {
			return nil, fmt.Errorf("conflict lookup: %w", err)
		}
		if conflict == nil {
			return nil, ErrConflictNotFound
		}

		applied, forkID, err := s.resolver.Resolve(ctx, conflict, res.Strategy, res.MergedPayload)
		if err != nil {
			return nil, err
		}

		if err := s.repo.MarkConflictResolved(ctx, conflict.ID, res.Strategy, s.now()); err != nil {
			return nil, fmt.Errorf("mark resolved: %w", err)
		}
		result.Resolved++

		s.audit.Record(ctx, sessionID, LogEventConflictResolved, conflictDetail{
			ConflictID: conflict.ID,
			EntityKind: conflict.EntityKind,
			EntityID:   conflict.EntityID,
			Strategy:   res.Strategy,
		})

		if forkID != "" {
			result.ForkedEntities[res.EntityID] = forkID
		}
		if applied != nil && res.Strategy != StrategyUseServer {
			notes = append(notes, ChangeNote{EntityKind: applied.EntityKind, EntityID: applied.EntityID, Op: applied.Op})
		}
	}

	remaining, err := s.repo.OpenConflicts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open conflicts: %w", err)
	}
	result.Remaining = remaining
	result.AllResolved = len(remaining) == 0

	if result.AllResolved && session.Status == SessionStatusConflicted {
		if _, err := s.EndSession(ctx, sessionID, SessionStatusCompleted); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
	}

	if len(notes) > 0 {
		s.notifier.EntitiesChanged(userID, session.DeviceID, notes)
	}

	return result, nil
}

// BuildSnapshot produces the full-state package for a device whose
// cursor is expired or that syncs for the first time.
func (s *Service) BuildSnapshot(ctx context.Context, userID, deviceID string, kinds []EntityKind) (*SnapshotPackage, error) {
	session, _, err := s.begin(ctx, userID, deviceID, Options{Direction: DirectionPull, Policy: s.defaultPolicy})
	if err != nil {
		return nil, err
	}

	pkg, err := s.snapshots.Build(ctx, userID, kinds)
	if err != nil {
		s.fail(ctx, session, "snapshot build failed")
		return nil, err
	}

	s.audit.Record(ctx, session.ID, LogEventSnapshotBuilt, snapshotDetail{Items: len(pkg.Items), Cursor: pkg.Cursor})

	next, _ := ParseCursor(pkg.Cursor)
	if err := s.complete(ctx, session, &next); err != nil {
		return nil, err
	}

	return pkg, nil
}

// ApplySnapshot replays the local changes a device accumulated while
// offline against current server state, then advances its cursor to the
// snapshot it consumed. Offline edits surface as conflicts when they
// genuinely diverge; they are never dropped.
func (s *Service) ApplySnapshot(ctx context.Context, userID string, req PushRequest, snapshotCursor string) (*PushResult, error) {
	cursor, err := ParseCursor(snapshotCursor)
	if err != nil {
		return nil, err
	}
	if err := validateChanges(req.Changes); err != nil {
		return nil, err
	}

	// The cursor must come from a snapshot this deployment built; one
	// pointing past the known history would be persisted and strand the
	// device on repeated snapshot round trips.
	head, err := s.store.Head(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	if cursor.Seq > head.Seq {
		return nil, ErrCursorInvalid
	}

	session, _, err := s.begin(ctx, userID, req.DeviceID, Options{
		Direction:      DirectionBoth,
		Policy:         req.Options.Policy,
		NetworkQuality: req.Options.NetworkQuality,
	})
	if err != nil {
		return nil, err
	}

	receivedAt := s.now()
	changes := make([]ItemChange, len(req.Changes))
	copy(changes, req.Changes)
	for i := range changes {
		changes[i].ServerTimestamp = receivedAt
		if changes[i].ContentHash == "" {
			changes[i].ContentHash = HashPayload(changes[i].Payload)
		}
	}

	total, err := s.snapshots.Replay(ctx, userID, session.ID, changes, session.Policy)
	if err != nil {
		s.log.InternalError("sync: snapshot replay failed", err, "session_id", session.ID)
		return nil, err
	}

	s.audit.Record(ctx, session.ID, LogEventSnapshotApplied, batchDetail{
		Size:      len(changes),
		Applied:   total.Applied,
		NoOps:     total.NoOps,
		Conflicts: len(total.Conflicts),
	})

	result := &PushResult{
		SessionID: session.ID,
		Applied:   total.Applied,
		NoOps:     total.NoOps,
		Conflicts: total.Conflicts,
	}

	if len(total.Notes) > 0 {
		s.notifier.EntitiesChanged(userID, session.DeviceID, total.Notes)
	}

	if openCount(total.Conflicts) > 0 {
		if _, err := s.repo.TransitionSession(ctx, session.ID, []SessionStatus{SessionStatusInProgress}, SessionStatusConflicted, nil); err != nil {
			return nil, fmt.Errorf("mark conflicted: %w", err)
		}
		result.Status = SessionStatusConflicted
		return result, nil
	}

	if err := s.complete(ctx, session, &cursor); err != nil {
		return nil, err
	}
	result.Status = SessionStatusCompleted
	result.Cursor = cursor.Token()
	return result, nil
}

// SweepInactiveSessions fails every non-terminal session with no
// progress update inside the inactivity window, releasing its device
// lock so a new session can start. Device cursors are left untouched.
func (s *Service) SweepInactiveSessions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.inactivityTimeout)
	stale, err := s.repo.StaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("stale sessions: %w", err)
	}

	swept := 0
	for i := range stale {
		if err := s.forceFail(ctx, &stale[i], "inactivity timeout"); err != nil {
			s.log.InternalError("sync: sweep failed", err, "session_id", stale[i].ID)
			continue
		}
		swept++
	}
	return swept, nil
}

// RunSweeper runs the inactivity sweep until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.SweepInactiveSessions(ctx)
			if err != nil {
				s.log.InternalError("sync: inactivity sweep failed", err)
				continue
			}
			if swept > 0 {
				s.log.Info("sync: swept inactive sessions", "count", swept)
			}
		}
	}
}

func (s *Service) resumeOrBegin(ctx context.Context, userID string, req PushRequest) (*Session, *lease, error) {
	if req.SessionID == "" {
		opts := req.Options
		if opts.Direction == "" {
			opts.Direction = DirectionPush
		}
		return s.begin(ctx, userID, req.DeviceID, opts)
	}

	session, err := s.getSession(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.UserID != userID || session.DeviceID != req.DeviceID {
		return nil, nil, ErrSessionNotFound
	}
	if session.Status != SessionStatusInProgress {
		return nil, nil, ErrInvalidTransition
	}

	held, ok := s.locks.Lease(req.DeviceID)
	if !ok {
		// Lock lost across a restart; retake it for the surviving session.
		held, ok = s.locks.Acquire(req.DeviceID, session.ID)
		if !ok {
			return nil, nil, ErrSessionConflict
		}
	} else if held.sessionID != session.ID {
		return nil, nil, ErrSessionConflict
	}

	return session, held, nil
}

func (s *Service) complete(ctx context.Context, session *Session, cursor *Cursor) error {
	if _, err := s.EndSession(ctx, session.ID, SessionStatusCompleted); err != nil {
		return err
	}
	if cursor == nil {
		return nil
	}

	advanced := *cursor
	advanced.LastSyncedAt = s.now()
	if err := s.devices.AdvanceCursor(ctx, session.DeviceID, advanced); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, session *Session, reason string) {
	if err := s.forceFail(ctx, session, reason); err != nil {
		s.log.InternalError("sync: fail session", err, "session_id", session.ID)
	}
}

func (s *Service) forceFail(ctx context.Context, session *Session, reason string) error {
	endedAt := s.now()
	ok, err := s.repo.TransitionSession(ctx, session.ID,
		[]SessionStatus{SessionStatusPending, SessionStatusInProgress, SessionStatusConflicted},
		SessionStatusFailed, &endedAt)
	if err != nil {
		return err
	}
	if ok {
		s.locks.Release(session.DeviceID, session.ID)
		s.audit.Record(ctx, session.ID, LogEventSessionFailed, endDetail{Reason: reason})
	}
	return nil
}

func (s *Service) getSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) ensureOwned(ctx context.Context, deviceID, userID string) error {
	owned, err := s.devices.IsOwnedBy(ctx, deviceID, userID)
	if err != nil {
		return fmt.Errorf("device ownership: %w", err)
	}
	if !owned {
		return ErrDeviceNotOwned
	}
	return nil
}

func validateChanges(changes []ItemChange) error {
	for i, change := range changes {
		if !change.EntityKind.Valid() {
			return fmt.Errorf("change %d: unknown entity kind %q", i, change.EntityKind)
		}
		if change.EntityID == "" {
			return fmt.Errorf("change %d: entity id is required", i)
		}
		switch change.Op {
		case OperationCreate, OperationUpdate, OperationDelete:
		default:
			return fmt.Errorf("change %d: unknown operation %q", i, change.Op)
		}
	}
	return nil
}

func openCount(conflicts []Conflict) int {
	open := 0
	for _, c := range conflicts {
		if !c.Resolved {
			open++
		}
	}
	return open
}

func endEvent(status SessionStatus) LogEvent {
	switch status {
	case SessionStatusCompleted:
		return LogEventSessionCompleted
	case SessionStatusCancelled:
		return LogEventSessionCancelled
	default:
		return LogEventSessionFailed
	}
}
