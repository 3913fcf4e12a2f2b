package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"
)

const (
	testUser    = "user-1"
	testDevice  = "device-1"
	otherDevice = "device-2"
)

func newServiceEnv(cfg Config) *testEnv {
	env := newTestEnv(cfg)
	env.registry.register(testDevice, testUser)
	env.registry.register(otherDevice, testUser)
	return env
}

func TestStartSessionConcurrentSingleWinner(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	const attempts = 8
	var wg stdsync.WaitGroup
	wg.Add(attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		idx := i
		go func() {
			defer wg.Done()
			_, errs[idx] = env.svc.StartSession(ctx, testUser, testDevice, Options{})
		}()
	}
	wg.Wait()

	started := 0
	conflicted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrSessionConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if started != 1 {
		t.Fatalf("expected exactly one started session, got %d", started)
	}
	if conflicted != attempts-1 {
		t.Fatalf("expected %d conflicts, got %d", attempts-1, conflicted)
	}
}

func TestStartSessionDeviceNotOwned(t *testing.T) {
	env := newServiceEnv(Config{})
	if _, err := env.svc.StartSession(context.Background(), "user-2", testDevice, Options{}); !errors.Is(err, ErrDeviceNotOwned) {
		t.Fatalf("expected ErrDeviceNotOwned, got %v", err)
	}
}

func TestStartSessionAfterEndSucceeds(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Status != SessionStatusInProgress {
		t.Fatalf("expected in_progress, got %s", session.Status)
	}
	if _, err := env.svc.EndSession(ctx, session.ID, SessionStatusCompleted); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := env.svc.StartSession(ctx, testUser, testDevice, Options{}); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
}

func TestEndSessionRejectsInvalidTransitions(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.svc.EndSession(ctx, session.ID, SessionStatusInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("non-terminal target: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := env.svc.EndSession(ctx, session.ID, SessionStatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.svc.EndSession(ctx, session.ID, SessionStatusFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal session: expected ErrInvalidTransition, got %v", err)
	}
}

func TestEndSessionUnknownSession(t *testing.T) {
	env := newServiceEnv(Config{})
	if _, err := env.svc.EndSession(context.Background(), "missing", SessionStatusCompleted); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPushBothDirectionAdvancesCursor(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	result, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{"text":"a"}`)},
			{EntityKind: EntityKindClip, EntityID: "clip-2", Op: OperationCreate, Payload: []byte(`{"text":"b"}`)},
		},
		Options: Options{Direction: DirectionBoth},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Status != SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Applied != 2 {
		t.Fatalf("expected 2 applied, got %d", result.Applied)
	}
	if result.Cursor != "2" {
		t.Fatalf("expected cursor token 2, got %q", result.Cursor)
	}
	// The device's own changes come back in the differential of a
	// both-direction session; its cursor covers them afterwards.
	if len(result.ServerChanges) != 2 {
		t.Fatalf("expected 2 server changes, got %d", len(result.ServerChanges))
	}

	cursor, _ := env.registry.Cursor(ctx, testDevice)
	if cursor.Seq != 2 {
		t.Fatalf("device cursor not advanced: %d", cursor.Seq)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", env.notifier.count())
	}
}

func TestPushOnlyDirectionLeavesCursorAlone(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	result, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{"text":"a"}`)},
		},
		Options: Options{Direction: DirectionPush},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Status != SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Cursor != "" {
		t.Fatalf("push-only session must not hand out a cursor, got %q", result.Cursor)
	}
	cursor, _ := env.registry.Cursor(ctx, testDevice)
	if cursor.Seq != 0 {
		t.Fatalf("push-only session must not advance the cursor, got %d", cursor.Seq)
	}
}

func TestPushValidation(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	if _, err := env.svc.Push(ctx, testUser, PushRequest{DeviceID: testDevice}); err == nil {
		t.Fatal("expected error for empty changes")
	}

	tooMany := make([]ItemChange, MaxPushChanges+1)
	for i := range tooMany {
		tooMany[i] = ItemChange{EntityKind: EntityKindClip, EntityID: "clip", Op: OperationCreate, Payload: []byte(`{}`)}
	}
	if _, err := env.svc.Push(ctx, testUser, PushRequest{DeviceID: testDevice, Changes: tooMany}); !errors.Is(err, ErrPushTooLarge) {
		t.Fatalf("expected ErrPushTooLarge, got %v", err)
	}

	if _, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes:  []ItemChange{{EntityKind: "widget", EntityID: "x", Op: OperationCreate}},
	}); err == nil {
		t.Fatal("expected error for unknown entity kind")
	}
}

func TestPushStrictConflictLifecycle(t *testing.T) {
	env := newServiceEnv(Config{DefaultPolicy: PolicyStrict})
	ctx := context.Background()

	// The entity moved to revision 2 through another device.
	env.seed(t, testUser, EntityKindClip, "clip-1", `{"text":"v1"}`)
	if _, err := env.store.ApplyConditional(ctx, testUser, ItemChange{
		EntityKind:      EntityKindClip,
		EntityID:        "clip-1",
		Op:              OperationUpdate,
		Payload:         []byte(`{"text":"other"}`),
		ContentHash:     HashPayload([]byte(`{"text":"other"}`)),
		ServerTimestamp: time.Now().UTC(),
	}, 1); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	result, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationUpdate, Payload: []byte(`{"text":"stale"}`), BaseRevision: 1},
		},
		Options: Options{Direction: DirectionBoth, Policy: PolicyStrict},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Status != SessionStatusConflicted {
		t.Fatalf("expected conflicted, got %s", result.Status)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}

	// Completing with open conflicts is rejected.
	if _, err := env.svc.EndSession(ctx, result.SessionID, SessionStatusCompleted); !errors.Is(err, ErrUnresolvedConflicts) {
		t.Fatalf("expected ErrUnresolvedConflicts, got %v", err)
	}

	// Resolving the last conflict completes the session.
	resolved, err := env.svc.ResolveConflicts(ctx, testUser, result.SessionID, []Resolution{
		{EntityKind: EntityKindClip, EntityID: "clip-1", Strategy: StrategyUseClient},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.AllResolved || len(resolved.Remaining) != 0 {
		t.Fatalf("expected all resolved, got %+v", resolved)
	}

	session, err := env.svc.Status(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if session.Status != SessionStatusCompleted {
		t.Fatalf("expected completed after last resolution, got %s", session.Status)
	}

	state, _ := env.store.CurrentState(ctx, testUser, EntityKindClip, "clip-1")
	if string(state.Payload) != `{"text":"stale"}` {
		t.Fatalf("use_client resolution must apply, got %s", state.Payload)
	}
}

func TestResolveConflictsUnknownConflict(t *testing.T) {
	env := newServiceEnv(Config{DefaultPolicy: PolicyStrict})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{Policy: PolicyStrict})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.svc.ResolveConflicts(ctx, testUser, session.ID, []Resolution{
		{EntityKind: EntityKindClip, EntityID: "nope", Strategy: StrategyUseServer},
	})
	if !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("expected ErrConflictNotFound, got %v", err)
	}
}

func TestResolveConflictsKeepBothReportsFork(t *testing.T) {
	env := newServiceEnv(Config{DefaultPolicy: PolicyStrict})
	ctx := context.Background()

	env.seed(t, testUser, EntityKindClip, "clip-1", `{"text":"v1"}`)
	if _, err := env.store.ApplyConditional(ctx, testUser, ItemChange{
		EntityKind:      EntityKindClip,
		EntityID:        "clip-1",
		Op:              OperationUpdate,
		Payload:         []byte(`{"text":"other"}`),
		ContentHash:     HashPayload([]byte(`{"text":"other"}`)),
		ServerTimestamp: time.Now().UTC(),
	}, 1); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	result, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationUpdate, Payload: []byte(`{"text":"mine"}`), BaseRevision: 1},
		},
		Options: Options{Direction: DirectionPush, Policy: PolicyStrict},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	resolved, err := env.svc.ResolveConflicts(ctx, testUser, result.SessionID, []Resolution{
		{EntityKind: EntityKindClip, EntityID: "clip-1", Strategy: StrategyKeepBoth},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	forkID, ok := resolved.ForkedEntities["clip-1"]
	if !ok || forkID == "" {
		t.Fatalf("expected a fork id, got %+v", resolved.ForkedEntities)
	}

	server, _ := env.store.CurrentState(ctx, testUser, EntityKindClip, "clip-1")
	if string(server.Payload) != `{"text":"other"}` {
		t.Fatalf("server copy must survive keep_both, got %s", server.Payload)
	}
	fork, _ := env.store.CurrentState(ctx, testUser, EntityKindClip, forkID)
	if fork == nil || string(fork.Payload) != `{"text":"mine"}` {
		t.Fatalf("expected client fork, got %+v", fork)
	}
}

func TestPushTransientFailureKeepsSessionResumable(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{Direction: DirectionPush})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	req := PushRequest{
		DeviceID:  testDevice,
		SessionID: session.ID,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{"text":"a"}`)},
		},
	}

	env.store.failOnce("clip-1", errors.New("connection reset"))
	if _, err := env.svc.Push(ctx, testUser, req); err == nil {
		t.Fatal("expected push to fail")
	}

	got, err := env.svc.Status(ctx, session.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != SessionStatusInProgress {
		t.Fatalf("session must stay open after a transient failure, got %s", got.Status)
	}

	// Identical resubmission into the same session succeeds.
	result, err := env.svc.Push(ctx, testUser, req)
	if err != nil {
		t.Fatalf("retry push: %v", err)
	}
	if result.Applied != 1 || result.Status != SessionStatusCompleted {
		t.Fatalf("retry: got applied %d status %s", result.Applied, result.Status)
	}
}

func TestPushIntoForeignSession(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = env.svc.Push(ctx, testUser, PushRequest{
		DeviceID:  otherDevice,
		SessionID: session.ID,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{}`)},
		},
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for wrong device, got %v", err)
	}
}

func TestCancelSessionBlocksFurtherPush(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cancelled, err := env.svc.CancelSession(ctx, session.ID, "user request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != SessionStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	_, err = env.svc.Push(ctx, testUser, PushRequest{
		DeviceID:  testDevice,
		SessionID: session.ID,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{}`)},
		},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := env.svc.CancelSession(ctx, session.ID, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel of terminal session: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelStopsDispatchBetweenBatches(t *testing.T) {
	env := newServiceEnv(Config{MinBatchSize: 1, MaxBatchSize: 1})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{Direction: DirectionPush})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Flag the lease before dispatch: the loop must stop at the first
	// batch boundary without touching the store.
	held, ok := env.svc.locks.Lease(testDevice)
	if !ok {
		t.Fatal("expected a held lease")
	}
	held.Cancel()

	result, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID:  testDevice,
		SessionID: session.ID,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{"n":1}`)},
			{EntityKind: EntityKindClip, EntityID: "clip-2", Op: OperationCreate, Payload: []byte(`{"n":2}`)},
		},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Status != SessionStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", result.Status)
	}
	if result.Applied != 0 {
		t.Fatalf("no batch should apply after cancellation, got %d", result.Applied)
	}
	state, _ := env.store.CurrentState(ctx, testUser, EntityKindClip, "clip-1")
	if state != nil {
		t.Fatalf("store must be untouched, found %+v", state)
	}
}

func TestSweepInactiveSessions(t *testing.T) {
	env := newServiceEnv(Config{InactivityTimeout: time.Minute})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.repo.backdate(session.ID, 2*time.Minute)

	swept, err := env.svc.SweepInactiveSessions(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}

	got, _ := env.svc.Status(ctx, session.ID)
	if got.Status != SessionStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	// The device lock is released; a new session can start.
	if _, err := env.svc.StartSession(ctx, testUser, testDevice, Options{}); err != nil {
		t.Fatalf("start after sweep: %v", err)
	}

	// The cursor never moved for the failed session.
	cursor, _ := env.registry.Cursor(ctx, testDevice)
	if cursor.Seq != 0 {
		t.Fatalf("failed session must not advance the cursor, got %d", cursor.Seq)
	}
}

func TestStaleDatabaseSessionIsFailedOnStart(t *testing.T) {
	env := newServiceEnv(Config{InactivityTimeout: time.Minute})
	ctx := context.Background()

	session, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Simulate a restart: the in-memory lock is gone, the row is stale.
	env.svc.locks.Release(testDevice, session.ID)
	env.repo.backdate(session.ID, 2*time.Minute)

	next, err := env.svc.StartSession(ctx, testUser, testDevice, Options{})
	if err != nil {
		t.Fatalf("start over stale session: %v", err)
	}
	if next.ID == session.ID {
		t.Fatal("expected a fresh session")
	}

	old, _ := env.svc.Status(ctx, session.ID)
	if old.Status != SessionStatusFailed {
		t.Fatalf("stale session must be failed, got %s", old.Status)
	}
}

func TestPullIncrementalServesOtherDevicesChanges(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	if _, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{"text":"a"}`)},
			{EntityKind: EntityKindTag, EntityID: "tag-1", Op: OperationCreate, Payload: []byte(`{"name":"work"}`)},
		},
		Options: Options{Direction: DirectionPush},
	}); err != nil {
		t.Fatalf("push: %v", err)
	}

	result, err := env.svc.Pull(ctx, testUser, PullRequest{DeviceID: otherDevice})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(result.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(result.Changes))
	}
	if result.Cursor != "2" {
		t.Fatalf("expected cursor 2, got %q", result.Cursor)
	}

	cursor, _ := env.registry.Cursor(ctx, otherDevice)
	if cursor.Seq != 2 {
		t.Fatalf("pull must advance the puller's cursor, got %d", cursor.Seq)
	}

	// Nothing new on the next pull.
	again, err := env.svc.Pull(ctx, testUser, PullRequest{DeviceID: otherDevice, CursorToken: result.Cursor})
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(again.Changes) != 0 {
		t.Fatalf("expected empty differential, got %d changes", len(again.Changes))
	}
}

func TestPullExpiredCursorFallsBackToSnapshot(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	for _, id := range []string{"clip-1", "clip-2", "clip-3"} {
		env.seed(t, testUser, EntityKindClip, id, `{"id":"`+id+`"}`)
	}
	env.store.prune(2)

	_, err := env.svc.Pull(ctx, testUser, PullRequest{DeviceID: testDevice, CursorToken: "0"})
	if !errors.Is(err, ErrCursorInvalid) {
		t.Fatalf("expected ErrCursorInvalid, got %v", err)
	}

	// The failed pull released the device lock; snapshot is the fallback.
	pkg, err := env.svc.BuildSnapshot(ctx, testUser, testDevice, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(pkg.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(pkg.Items))
	}
	if pkg.Cursor != "3" {
		t.Fatalf("expected snapshot cursor 3, got %q", pkg.Cursor)
	}

	cursor, _ := env.registry.Cursor(ctx, testDevice)
	if cursor.Seq != 3 {
		t.Fatalf("snapshot must advance the cursor, got %d", cursor.Seq)
	}

	// Differential sync resumes from the snapshot cursor.
	result, err := env.svc.Pull(ctx, testUser, PullRequest{DeviceID: testDevice, CursorToken: pkg.Cursor})
	if err != nil {
		t.Fatalf("pull after snapshot: %v", err)
	}
	if len(result.Changes) != 0 {
		t.Fatalf("expected empty differential after snapshot, got %d", len(result.Changes))
	}
}

func TestPullFullMode(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	env.seed(t, testUser, EntityKindClip, "clip-1", `{"text":"a"}`)
	env.seed(t, testUser, EntityKindFolder, "folder-1", `{"name":"inbox"}`)

	result, err := env.svc.Pull(ctx, testUser, PullRequest{DeviceID: testDevice, Mode: PullModeFull})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(result.Changes) != 2 {
		t.Fatalf("expected full state as changes, got %d", len(result.Changes))
	}
	for _, change := range result.Changes {
		if change.Op != OperationUpdate {
			t.Fatalf("full-state entries are served as updates, got %s", change.Op)
		}
	}
}

func TestSessionStatsAggregatesLog(t *testing.T) {
	env := newServiceEnv(Config{})
	ctx := context.Background()

	result, err := env.svc.Push(ctx, testUser, PushRequest{
		DeviceID: testDevice,
		Changes: []ItemChange{
			{EntityKind: EntityKindClip, EntityID: "clip-1", Op: OperationCreate, Payload: []byte(`{"text":"a"}`)},
			{EntityKind: EntityKindClip, EntityID: "clip-2", Op: OperationCreate, Payload: []byte(`{"text":"b"}`)},
		},
		Options: Options{Direction: DirectionPush},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	stats, err := env.svc.Stats(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Applied != 2 {
		t.Fatalf("expected 2 applied in stats, got %d", stats.Applied)
	}
	if stats.Events == 0 {
		t.Fatal("expected audit events")
	}

	events := env.repo.events(result.SessionID)
	if events[0] != LogEventSessionStarted || events[len(events)-1] != LogEventSessionCompleted {
		t.Fatalf("unexpected event envelope: %v", events)
	}
}

func TestDeviceLocksAcquireRelease(t *testing.T) {
	locks := newDeviceLocks()

	first, ok := locks.Acquire("device-1", "session-1")
	if !ok || first == nil {
		t.Fatal("expected first acquire to succeed")
	}
	if _, ok := locks.Acquire("device-1", "session-2"); ok {
		t.Fatal("second acquire must fail while held")
	}

	// Release by a non-holder is ignored.
	locks.Release("device-1", "session-2")
	if _, held := locks.Lease("device-1"); !held {
		t.Fatal("lock must survive a foreign release")
	}

	locks.Release("device-1", "session-1")
	if _, ok := locks.Acquire("device-1", "session-2"); !ok {
		t.Fatal("acquire after release must succeed")
	}
}
