package sync

import (
	"context"
	"fmt"
	"sort"
)

// ChangeDetector computes the differential between a device cursor and
// the server's change history.
type ChangeDetector struct {
	store ItemStore
}

func NewChangeDetector(store ItemStore) *ChangeDetector {
	return &ChangeDetector{store: store}
}

// ChangesSince returns the user's changes after the cursor, restricted
// to the requested entity kinds (all kinds when empty). The result is
// ordered by (server timestamp, entity id) ascending so that creates are
// applied before later updates and deletes, and so that repeated calls
// over the same history are byte-for-byte reproducible. Deletes appear
// as tombstone changes. Fails with ErrCursorInvalid when the cursor
// predates the retention horizon; the caller must fall back to a full
// snapshot.
func (d *ChangeDetector) ChangesSince(ctx context.Context, userID string, cursor Cursor, kinds []EntityKind) ([]ItemChange, Cursor, error) {
	kinds, err := normalizeKinds(kinds)
	if err != nil {
		return nil, Cursor{}, err
	}

	changes, next, err := d.store.ChangedSince(ctx, userID, cursor, kinds)
	if err != nil {
		return nil, Cursor{}, fmt.Errorf("changed since: %w", err)
	}

	OrderChanges(changes)

	if next.Before(cursor) {
		next = cursor
	}

	return changes, next, nil
}

// OrderChanges sorts changes into the engine's canonical apply order:
// server timestamp ascending, entity id as the deterministic tie-break.
func OrderChanges(changes []ItemChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if !a.ServerTimestamp.Equal(b.ServerTimestamp) {
			return a.ServerTimestamp.Before(b.ServerTimestamp)
		}
		return a.EntityID < b.EntityID
	})
}

func normalizeKinds(kinds []EntityKind) ([]EntityKind, error) {
	if len(kinds) == 0 {
		return AllEntityKinds(), nil
	}

	seen := make(map[EntityKind]struct{}, len(kinds))
	result := make([]EntityKind, 0, len(kinds))
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown entity kind %q", kind)
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		result = append(result, kind)
	}

	return result, nil
}
