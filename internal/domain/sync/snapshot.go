package sync

import (
	"context"
	"fmt"
	"time"
)

// SnapshotBuilder produces and consumes full-state packages for devices
// that cannot be served a differential: first-ever sync, or a cursor
// that fell behind the retention horizon.
type SnapshotBuilder struct {
	store     ItemStore
	processor *BatchProcessor
	now       func() time.Time
}

func NewSnapshotBuilder(store ItemStore, processor *BatchProcessor, now func() time.Time) *SnapshotBuilder {
	return &SnapshotBuilder{store: store, processor: processor, now: now}
}

// Build serializes the user's complete live state plus the cursor
// covering it, so the device resumes differential sync from there.
func (b *SnapshotBuilder) Build(ctx context.Context, userID string, kinds []EntityKind) (*SnapshotPackage, error) {
	kinds, err := normalizeKinds(kinds)
	if err != nil {
		return nil, err
	}

	head, err := b.store.Head(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("head cursor: %w", err)
	}

	items, err := b.store.All(ctx, userID, kinds)
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}

	return &SnapshotPackage{
		Cursor:  head.Token(),
		Items:   items,
		BuiltAt: b.now(),
	}, nil
}

// Replay pushes the local changes a device accumulated while offline
// through conflict detection, one entity at a time, before its cursor is
// allowed to advance. Offline edits are never dropped silently: each
// either applies, is a no-op, or surfaces as a conflict.
func (b *SnapshotBuilder) Replay(ctx context.Context, userID, sessionID string, changes []ItemChange, policy ConflictPolicy) (*BatchResult, error) {
	OrderChanges(changes)

	total := &BatchResult{}
	for _, change := range changes {
		result, err := b.processor.Apply(ctx, userID, sessionID, []ItemChange{change}, policy)
		if err != nil {
			return nil, err
		}
		total.Applied += result.Applied
		total.NoOps += result.NoOps
		total.Conflicts = append(total.Conflicts, result.Conflicts...)
		total.Notes = append(total.Notes, result.Notes...)
	}

	return total, nil
}
