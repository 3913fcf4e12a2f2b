package device

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, device *Device) error
	GetByID(ctx context.Context, id string) (*Device, error)
	GetByToken(ctx context.Context, token string) (*Device, error)
	ListByUser(ctx context.Context, userID string) ([]Device, error)
	// UpdateCursor persists the device cursor; implementations must refuse
	// regressions (update only where the stored seq is not greater).
	UpdateCursor(ctx context.Context, deviceID string, seq int64, syncedAt time.Time) error
	Touch(ctx context.Context, deviceID string, seenAt time.Time) error
}
