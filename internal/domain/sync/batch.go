package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// BatchProcessor partitions a session's change set into bounded batches
// and applies them with idempotent, per-batch-atomic semantics.
type BatchProcessor struct {
	repo     Repository
	store    ItemStore
	resolver *ConflictResolver
	minSize  int
	maxSize  int
	ids      func() string
	now      func() time.Time
}

func NewBatchProcessor(repo Repository, store ItemStore, resolver *ConflictResolver, minSize, maxSize int, ids func() string, now func() time.Time) *BatchProcessor {
	if minSize <= 0 {
		minSize = DefaultMinBatchSize
	}
	if maxSize < minSize {
		maxSize = DefaultMaxBatchSize
	}
	return &BatchProcessor{
		repo:     repo,
		store:    store,
		resolver: resolver,
		minSize:  minSize,
		maxSize:  maxSize,
		ids:      ids,
		now:      now,
	}
}

// SizeFor picks the batch size for a session from the client's declared
// network-quality hint, clamped to the configured [min, max] range. The
// size is fixed for the whole session.
func (p *BatchProcessor) SizeFor(hint float64) int {
	if math.IsNaN(hint) {
		hint = 0
	}
	hint = math.Min(math.Max(hint, 0), 1)
	size := p.minSize + int(math.Round(hint*float64(p.maxSize-p.minSize)))
	if size < p.minSize {
		return p.minSize
	}
	if size > p.maxSize {
		return p.maxSize
	}
	return size
}

// Partition splits an ordered change set into batches of at most size
// changes, preserving order.
func (p *BatchProcessor) Partition(changes []ItemChange, size int) [][]ItemChange {
	if size <= 0 {
		size = p.minSize
	}

	var batches [][]ItemChange
	for start := 0; start < len(changes); start += size {
		end := start + size
		if end > len(changes) {
			end = len(changes)
		}
		batches = append(batches, changes[start:end])
	}
	return batches
}

// BatchResult reports what one batch did. Conflicts holds both
// auto-resolved conflicts (kept for audit) and open ones awaiting an
// explicit resolution.
type BatchResult struct {
	Applied   int
	NoOps     int
	Conflicts []Conflict
	Notes     []ChangeNote
}

type pendingApply struct {
	change   ItemChange
	expected int64
}

// Apply runs one batch. Each change is first compared against current
// server state: a change whose content hash is already stored is a no-op
// success (safe blind retry after a failed network round trip), a
// diverging change becomes a conflict, everything else is applied inside
// one store transaction. Conflicting changes never block the rest of the
// batch; a storage failure rolls the whole batch back.
func (p *BatchProcessor) Apply(ctx context.Context, userID, sessionID string, batch []ItemChange, policy ConflictPolicy) (*BatchResult, error) {
	result := &BatchResult{}
	var pending []pendingApply
	var open []Conflict

	for _, change := range batch {
		current, conflict, err := p.resolver.Detect(ctx, userID, sessionID, change)
		if err != nil {
			return nil, err
		}

		if current != nil && current.Hash == change.ContentHash {
			result.NoOps++
			continue
		}

		if conflict != nil {
			if policy == PolicyAuto {
				resolved, err := p.autoResolve(ctx, conflict)
				if err != nil {
					return nil, err
				}
				result.Applied++
				result.Notes = append(result.Notes, ChangeNote{EntityKind: change.EntityKind, EntityID: change.EntityID, Op: change.Op})
				result.Conflicts = append(result.Conflicts, *resolved)
				continue
			}
			open = append(open, *conflict)
			continue
		}

		var expected int64
		if current != nil {
			expected = current.Revision
		}
		pending = append(pending, pendingApply{change: change, expected: expected})
	}

	err := p.store.Transaction(ctx, func(tx ItemStore) error {
		for _, item := range pending {
			_, err := tx.ApplyConditional(ctx, userID, item.change, item.expected)
			if errors.Is(err, ErrRevisionMismatch) {
				// Lost a race between detection and apply, or an earlier
				// change in this batch moved the revision. Decide again,
				// inside the transaction this time.
				raced, noop, raceErr := p.applyRaced(ctx, tx, userID, sessionID, item.change, policy)
				if raceErr != nil {
					return raceErr
				}
				if raced != nil {
					open = append(open, *raced)
					continue
				}
				if noop {
					result.NoOps++
					continue
				}
				err = nil
			}
			if err != nil {
				return fmt.Errorf("apply %s/%s: %w", item.change.EntityKind, item.change.EntityID, err)
			}
			result.Applied++
			result.Notes = append(result.Notes, ChangeNote{EntityKind: item.change.EntityKind, EntityID: item.change.EntityID, Op: item.change.Op})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range open {
		if err := p.repo.CreateConflict(ctx, &open[i]); err != nil {
			return nil, fmt.Errorf("record conflict: %w", err)
		}
	}
	result.Conflicts = append(result.Conflicts, open...)

	return result, nil
}

// autoResolve applies the auto policy's last-write-wins rule: the change
// being received now is the latest write by server receipt order, so the
// client payload overwrites. Lossy by design; the conflict is still
// recorded, already resolved, for audit.
func (p *BatchProcessor) autoResolve(ctx context.Context, conflict *Conflict) (*Conflict, error) {
	if _, _, err := p.resolver.Resolve(ctx, conflict, StrategyUseClient, nil); err != nil {
		return nil, err
	}

	strategy := StrategyUseClient
	at := p.now()
	conflict.Resolved = true
	conflict.ResolvedStrategy = &strategy
	conflict.ResolvedAt = &at

	if err := p.repo.CreateConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("record conflict: %w", err)
	}
	return conflict, nil
}

// applyRaced handles a revision mismatch discovered inside the batch
// transaction. The detection rules run again at the revision now
// current: a stored content hash is still a no-op, a base revision
// matching the current one is still a clean apply (earlier changes in
// the same batch move the revision under later ones). Only a genuine
// divergence branches on policy — auto re-applies on top, strict opens
// a conflict and the rest of the batch proceeds.
func (p *BatchProcessor) applyRaced(ctx context.Context, tx ItemStore, userID, sessionID string, change ItemChange, policy ConflictPolicy) (*Conflict, bool, error) {
	current, err := tx.CurrentState(ctx, userID, change.EntityKind, change.EntityID)
	if err != nil {
		return nil, false, fmt.Errorf("current state: %w", err)
	}

	var revision int64
	var remotePayload []byte
	if current != nil {
		revision = current.Revision
		remotePayload = current.Payload
	}

	if current != nil && current.Hash == change.ContentHash {
		return nil, true, nil
	}

	if change.BaseRevision == revision || policy == PolicyAuto {
		if _, err := tx.ApplyConditional(ctx, userID, change, revision); err != nil {
			return nil, false, fmt.Errorf("apply raced %s/%s: %w", change.EntityKind, change.EntityID, err)
		}
		return nil, false, nil
	}

	return &Conflict{
		ID:             p.ids(),
		SessionID:      sessionID,
		UserID:         userID,
		EntityKind:     change.EntityKind,
		EntityID:       change.EntityID,
		LocalPayload:   change.Payload,
		RemotePayload:  remotePayload,
		LocalRevision:  change.BaseRevision,
		RemoteRevision: revision,
		LocalHash:      change.ContentHash,
		LocalOp:        change.Op,
	}, false, nil
}
