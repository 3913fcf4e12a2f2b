package sync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	syncdomain "clipvault-go/internal/domain/sync"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// itemRecord is the current state of one entity. Deleted rows stay as
// tombstones so the deletion itself keeps a revision.
type itemRecord struct {
	UserID      string                `gorm:"type:uuid;primaryKey"`
	EntityKind  syncdomain.EntityKind `gorm:"primaryKey"`
	EntityID    string                `gorm:"primaryKey"`
	Payload     json.RawMessage       `gorm:"type:jsonb"`
	ContentHash string                `gorm:"not null"`
	Revision    int64                 `gorm:"not null"`
	Deleted     bool                  `gorm:"not null"`
	UpdatedAt   time.Time             `gorm:"autoUpdateTime"`
}

func (itemRecord) TableName() string {
	return "items"
}

// changeRecord is one row of the append-only change history. Seq is the
// server-assigned sequence cursors are measured against.
type changeRecord struct {
	Seq             int64                 `gorm:"primaryKey;autoIncrement"`
	UserID          string                `gorm:"type:uuid;not null;index"`
	EntityKind      syncdomain.EntityKind `gorm:"not null"`
	EntityID        string                `gorm:"not null"`
	Op              syncdomain.Operation  `gorm:"not null"`
	Payload         json.RawMessage       `gorm:"type:jsonb"`
	ContentHash     string                `gorm:"not null"`
	Revision        int64                 `gorm:"not null"`
	ClientTimestamp time.Time
	ServerTimestamp time.Time `gorm:"not null;index"`
}

func (changeRecord) TableName() string {
	return "item_changes"
}

// PostgresItemStore implements the engine's repository adapter on the
// items/item_changes tables: conditional revision-checked applies plus
// the retention-bounded change feed.
type PostgresItemStore struct {
	db *gorm.DB
}

func NewPostgresItemStore(db *gorm.DB) *PostgresItemStore {
	return &PostgresItemStore{db: db}
}

func (s *PostgresItemStore) ChangedSince(ctx context.Context, userID string, cursor syncdomain.Cursor, kinds []syncdomain.EntityKind) ([]syncdomain.ItemChange, syncdomain.Cursor, error) {
	var bounds struct {
		MinSeq int64
		MaxSeq int64
	}
	err := s.db.WithContext(ctx).
		Model(&changeRecord{}).
		Select("COALESCE(MIN(seq), 0) AS min_seq, COALESCE(MAX(seq), 0) AS max_seq").
		Where("user_id = ?", userID).
		Scan(&bounds).Error
	if err != nil {
		return nil, syncdomain.Cursor{}, err
	}

	if cursor.Seq > bounds.MaxSeq {
		// Cursor points past the known history: forged or from another
		// deployment.
		return nil, syncdomain.Cursor{}, syncdomain.ErrCursorInvalid
	}
	if bounds.MinSeq > cursor.Seq+1 {
		// Changes between the cursor and the earliest retained row were
		// pruned; a differential would silently skip them.
		return nil, syncdomain.Cursor{}, syncdomain.ErrCursorInvalid
	}

	var records []changeRecord
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND seq > ? AND entity_kind IN ?", userID, cursor.Seq, kinds).
		Order("server_timestamp ASC, entity_id ASC, seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, syncdomain.Cursor{}, err
	}

	next := cursor
	changes := make([]syncdomain.ItemChange, 0, len(records))
	for _, record := range records {
		changes = append(changes, syncdomain.ItemChange{
			EntityKind:      record.EntityKind,
			EntityID:        record.EntityID,
			Op:              record.Op,
			Payload:         record.Payload,
			BaseRevision:    record.Revision,
			ClientTimestamp: record.ClientTimestamp,
			ServerTimestamp: record.ServerTimestamp,
			ContentHash:     record.ContentHash,
		})
		if record.Seq > next.Seq {
			next.Seq = record.Seq
		}
	}

	// A kind-filtered pull must not advance the cursor over changes it
	// did not deliver, or those changes become invisible to later pulls.
	var skipped struct{ Seq int64 }
	err = s.db.WithContext(ctx).
		Model(&changeRecord{}).
		Select("COALESCE(MIN(seq), 0) AS seq").
		Where("user_id = ? AND seq > ? AND entity_kind NOT IN ?", userID, cursor.Seq, kinds).
		Scan(&skipped).Error
	if err != nil {
		return nil, syncdomain.Cursor{}, err
	}
	if skipped.Seq > 0 && next.Seq >= skipped.Seq {
		next.Seq = skipped.Seq - 1
	}

	return changes, next, nil
}

func (s *PostgresItemStore) CurrentState(ctx context.Context, userID string, kind syncdomain.EntityKind, entityID string) (*syncdomain.ItemState, error) {
	var record itemRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entity_kind = ? AND entity_id = ?", userID, kind, entityID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return itemState(record), nil
}

func (s *PostgresItemStore) ApplyConditional(ctx context.Context, userID string, change syncdomain.ItemChange, expectedRevision int64) (int64, error) {
	newRevision := expectedRevision + 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if expectedRevision == 0 {
			record := itemRecord{
				UserID:      userID,
				EntityKind:  change.EntityKind,
				EntityID:    change.EntityID,
				Payload:     change.Payload,
				ContentHash: change.ContentHash,
				Revision:    newRevision,
				Deleted:     change.Op == syncdomain.OperationDelete,
			}
			result := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "user_id"},
					{Name: "entity_kind"},
					{Name: "entity_id"},
				},
				DoNothing: true,
			}).Create(&record)
			if result.Error != nil {
				if isUniqueViolation(result.Error) {
					return syncdomain.ErrRevisionMismatch
				}
				return result.Error
			}
			if result.RowsAffected == 0 {
				return syncdomain.ErrRevisionMismatch
			}
		} else {
			result := tx.Model(&itemRecord{}).
				Where("user_id = ? AND entity_kind = ? AND entity_id = ? AND revision = ?",
					userID, change.EntityKind, change.EntityID, expectedRevision).
				Updates(map[string]interface{}{
					"payload":      change.Payload,
					"content_hash": change.ContentHash,
					"revision":     newRevision,
					"deleted":      change.Op == syncdomain.OperationDelete,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return syncdomain.ErrRevisionMismatch
			}
		}

		record := changeRecord{
			UserID:          userID,
			EntityKind:      change.EntityKind,
			EntityID:        change.EntityID,
			Op:              change.Op,
			Payload:         change.Payload,
			ContentHash:     change.ContentHash,
			Revision:        newRevision,
			ClientTimestamp: change.ClientTimestamp,
			ServerTimestamp: change.ServerTimestamp,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return 0, err
	}

	return newRevision, nil
}

func (s *PostgresItemStore) All(ctx context.Context, userID string, kinds []syncdomain.EntityKind) ([]syncdomain.ItemState, error) {
	var records []itemRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND entity_kind IN ? AND deleted = false", userID, kinds).
		Order("entity_kind ASC, entity_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	states := make([]syncdomain.ItemState, 0, len(records))
	for _, record := range records {
		states = append(states, *itemState(record))
	}
	return states, nil
}

func (s *PostgresItemStore) Head(ctx context.Context, userID string) (syncdomain.Cursor, error) {
	var maxSeq int64
	err := s.db.WithContext(ctx).
		Model(&changeRecord{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("user_id = ?", userID).
		Scan(&maxSeq).Error
	if err != nil {
		return syncdomain.Cursor{}, err
	}
	return syncdomain.Cursor{Seq: maxSeq}, nil
}

func (s *PostgresItemStore) Transaction(ctx context.Context, fn func(tx syncdomain.ItemStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresItemStore{db: tx})
	})
}

// Prune drops change history older than the retention window. Devices
// whose cursor falls behind the pruned floor are redirected to a full
// snapshot by ChangedSince.
func (s *PostgresItemStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("server_timestamp < ?", before).
		Delete(&changeRecord{})
	return result.RowsAffected, result.Error
}

func itemState(record itemRecord) *syncdomain.ItemState {
	return &syncdomain.ItemState{
		EntityKind: record.EntityKind,
		EntityID:   record.EntityID,
		Payload:    record.Payload,
		Hash:       record.ContentHash,
		Revision:   record.Revision,
		Deleted:    record.Deleted,
		UpdatedAt:  record.UpdatedAt,
	}
}
