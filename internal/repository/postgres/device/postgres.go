package device

import (
	"context"
	"errors"
	"time"

	devicedomain "clipvault-go/internal/domain/device"
	"gorm.io/gorm"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, device *devicedomain.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*devicedomain.Device, error) {
	var device devicedomain.Device
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*devicedomain.Device, error) {
	var device devicedomain.Device
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]devicedomain.Device, error) {
	var devices []devicedomain.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *PostgresRepository) UpdateCursor(ctx context.Context, deviceID string, seq int64, syncedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&devicedomain.Device{}).
		Where("id = ? AND cursor_seq <= ?", deviceID, seq).
		Updates(map[string]interface{}{
			"cursor_seq":       seq,
			"cursor_synced_at": syncedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Stored cursor already ahead; monotonicity wins over the update.
		return nil
	}
	return nil
}

func (r *PostgresRepository) Touch(ctx context.Context, deviceID string, seenAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&devicedomain.Device{}).
		Where("id = ?", deviceID).
		Update("last_seen_at", seenAt).Error
}
