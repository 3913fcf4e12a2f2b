package sync

import (
	"context"
	"fmt"
	"time"
)

// ConflictResolver decides whether a client change diverges from the
// current server state and applies resolution strategies.
type ConflictResolver struct {
	store ItemStore
	ids   func() string
	now   func() time.Time
}

func NewConflictResolver(store ItemStore, ids func() string, now func() time.Time) *ConflictResolver {
	return &ConflictResolver{store: store, ids: ids, now: now}
}

// Detect compares a client change against the current server state of
// the same entity. It returns the current state plus a conflict record
// when the change diverges.
//
// The rule: a change whose declared base revision matches the server's
// current revision is never a conflict, whatever the hashes say, because
// no intervening change occurred. A change whose content hash equals the
// stored hash is the same revision arriving again and is never a
// conflict either (the idempotent retry case). Everything else means the
// client edited a revision the server has since moved past.
func (r *ConflictResolver) Detect(ctx context.Context, userID, sessionID string, local ItemChange) (*ItemState, *Conflict, error) {
	current, err := r.store.CurrentState(ctx, userID, local.EntityKind, local.EntityID)
	if err != nil {
		return nil, nil, fmt.Errorf("current state: %w", err)
	}

	if current == nil {
		return nil, nil, nil
	}
	if current.Hash == local.ContentHash {
		return current, nil, nil
	}
	if local.BaseRevision == current.Revision {
		return current, nil, nil
	}

	conflict := &Conflict{
		ID:             r.ids(),
		SessionID:      sessionID,
		UserID:         userID,
		EntityKind:     local.EntityKind,
		EntityID:       local.EntityID,
		LocalPayload:   local.Payload,
		RemotePayload:  current.Payload,
		LocalRevision:  local.BaseRevision,
		RemoteRevision: current.Revision,
		LocalHash:      local.ContentHash,
		LocalOp:        local.Op,
	}
	return current, conflict, nil
}

// Resolve applies a resolution strategy to a detected conflict and
// returns the change that ended up applied, if any. With keep_both the
// second return value carries the new entity id minted for the client's
// fork; the server entity is left untouched.
func (r *ConflictResolver) Resolve(ctx context.Context, conflict *Conflict, strategy ResolutionStrategy, merged []byte) (*ItemChange, string, error) {
	switch strategy {
	case StrategyUseServer:
		// The client discards its edit; report server state back.
		current, err := r.store.CurrentState(ctx, conflict.UserID, conflict.EntityKind, conflict.EntityID)
		if err != nil {
			return nil, "", fmt.Errorf("current state: %w", err)
		}
		if current == nil {
			return nil, "", nil
		}
		return serverStateChange(current), "", nil

	case StrategyUseClient:
		applied, err := r.overwrite(ctx, conflict, conflict.LocalOp, conflict.LocalPayload)
		return applied, "", err

	case StrategyMerge:
		if len(merged) == 0 {
			return nil, "", ErrMergeDataRequired
		}
		applied, err := r.overwrite(ctx, conflict, OperationUpdate, merged)
		return applied, "", err

	case StrategyKeepBoth:
		forkID := r.ids()
		change := ItemChange{
			EntityKind:      conflict.EntityKind,
			EntityID:        forkID,
			Op:              OperationCreate,
			Payload:         conflict.LocalPayload,
			ContentHash:     HashPayload(conflict.LocalPayload),
			ServerTimestamp: r.now(),
		}
		if _, err := r.store.ApplyConditional(ctx, conflict.UserID, change, 0); err != nil {
			return nil, "", fmt.Errorf("apply fork: %w", err)
		}
		return &change, forkID, nil

	default:
		return nil, "", fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// overwrite replaces server state with the given payload regardless of
// how the entity moved since the conflict was recorded. The resolution
// is itself the latest write, so it wins over any revision found now.
func (r *ConflictResolver) overwrite(ctx context.Context, conflict *Conflict, op Operation, payload []byte) (*ItemChange, error) {
	current, err := r.store.CurrentState(ctx, conflict.UserID, conflict.EntityKind, conflict.EntityID)
	if err != nil {
		return nil, fmt.Errorf("current state: %w", err)
	}

	var expected int64
	if current != nil {
		expected = current.Revision
	}
	if op == OperationCreate && current != nil {
		op = OperationUpdate
	}

	change := ItemChange{
		EntityKind:      conflict.EntityKind,
		EntityID:        conflict.EntityID,
		Op:              op,
		Payload:         payload,
		BaseRevision:    expected,
		ContentHash:     HashPayload(payload),
		ServerTimestamp: r.now(),
	}
	if _, err := r.store.ApplyConditional(ctx, conflict.UserID, change, expected); err != nil {
		return nil, fmt.Errorf("apply resolution: %w", err)
	}

	return &change, nil
}

// serverStateChange projects an item state into the change shape the
// device consumes on its next pull.
func serverStateChange(state *ItemState) *ItemChange {
	op := OperationUpdate
	if state.Deleted {
		op = OperationDelete
	}
	return &ItemChange{
		EntityKind:      state.EntityKind,
		EntityID:        state.EntityID,
		Op:              op,
		Payload:         state.Payload,
		BaseRevision:    state.Revision,
		ContentHash:     state.Hash,
		ServerTimestamp: state.UpdatedAt,
	}
}
