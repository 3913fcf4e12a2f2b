package sync

import (
	"context"
	"errors"
	"time"

	syncdomain "clipvault-go/internal/domain/sync"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgresRepository persists the engine's own state: sessions,
// conflicts and the append-only sync log.
type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var nonTerminalStatuses = []syncdomain.SessionStatus{
	syncdomain.SessionStatusPending,
	syncdomain.SessionStatusInProgress,
	syncdomain.SessionStatusConflicted,
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *syncdomain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*syncdomain.Session, error) {
	var session syncdomain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *PostgresRepository) TransitionSession(ctx context.Context, id string, from []syncdomain.SessionStatus, to syncdomain.SessionStatus, endedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if endedAt != nil {
		updates["ended_at"] = *endedAt
	}

	result := r.db.WithContext(ctx).
		Model(&syncdomain.Session{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *PostgresRepository) UpdateSessionProgress(ctx context.Context, id string, percent int) error {
	return r.db.WithContext(ctx).
		Model(&syncdomain.Session{}).
		Where("id = ?", id).
		Update("progress_percent", percent).Error
}

func (r *PostgresRepository) ActiveSession(ctx context.Context, deviceID string) (*syncdomain.Session, error) {
	var session syncdomain.Session
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND status IN ?", deviceID, nonTerminalStatuses).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *PostgresRepository) StaleSessions(ctx context.Context, before time.Time) ([]syncdomain.Session, error) {
	var sessions []syncdomain.Session
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", nonTerminalStatuses, before).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *PostgresRepository) CreateConflict(ctx context.Context, conflict *syncdomain.Conflict) error {
	return r.db.WithContext(ctx).Create(conflict).Error
}

func (r *PostgresRepository) GetConflict(ctx context.Context, id string) (*syncdomain.Conflict, error) {
	var conflict syncdomain.Conflict
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conflict).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conflict, nil
}

func (r *PostgresRepository) OpenConflict(ctx context.Context, sessionID string, kind syncdomain.EntityKind, entityID string) (*syncdomain.Conflict, error) {
	var conflict syncdomain.Conflict
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND entity_kind = ? AND entity_id = ? AND resolved = false", sessionID, kind, entityID).
		Order("created_at DESC").
		First(&conflict).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conflict, nil
}

func (r *PostgresRepository) OpenConflicts(ctx context.Context, sessionID string) ([]syncdomain.Conflict, error) {
	var conflicts []syncdomain.Conflict
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND resolved = false", sessionID).
		Order("created_at ASC").
		Find(&conflicts).Error
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

func (r *PostgresRepository) OpenConflictsForUser(ctx context.Context, userID string) ([]syncdomain.Conflict, error) {
	var conflicts []syncdomain.Conflict
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND resolved = false", userID).
		Order("created_at ASC").
		Find(&conflicts).Error
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

func (r *PostgresRepository) MarkConflictResolved(ctx context.Context, id string, strategy syncdomain.ResolutionStrategy, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&syncdomain.Conflict{}).
		Where("id = ? AND resolved = false", id).
		Updates(map[string]interface{}{
			"resolved":          true,
			"resolved_strategy": strategy,
			"resolved_at":       at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return syncdomain.ErrConflictAlreadyResolved
	}
	return nil
}

func (r *PostgresRepository) AppendLog(ctx context.Context, entry *syncdomain.LogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *PostgresRepository) SessionLog(ctx context.Context, sessionID string) ([]syncdomain.LogEntry, error) {
	var entries []syncdomain.LogEntry
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
