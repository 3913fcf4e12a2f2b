package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	syncdomain "clipvault-go/internal/domain/sync"
	"github.com/google/uuid"
)

// Service is the device registry consumed by the sync engine: it owns
// device registration, ownership checks and the per-device sync cursor.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(ctx context.Context, userID, name, platform string) (*Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	device := &Device{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Platform: strings.TrimSpace(platform),
		Token:    uuid.NewString(),
	}
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	return device, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Device, error) {
	devices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	// Tokens are shown once, at registration.
	for i := range devices {
		devices[i].Token = ""
	}
	return devices, nil
}

func (s *Service) VerifyToken(ctx context.Context, token string) (*Device, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	device, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("device by token: %w", err)
	}
	if device == nil {
		return nil, ErrTokenInvalid
	}

	if err := s.repo.Touch(ctx, device.ID, s.now()); err != nil {
		return nil, fmt.Errorf("touch device: %w", err)
	}
	return device, nil
}

// IsOwnedBy implements the sync engine's device registry capability.
func (s *Service) IsOwnedBy(ctx context.Context, deviceID, userID string) (bool, error) {
	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("device by id: %w", err)
	}
	return device != nil && device.UserID == userID, nil
}

// Cursor returns the device's sync watermark.
func (s *Service) Cursor(ctx context.Context, deviceID string) (syncdomain.Cursor, error) {
	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		return syncdomain.Cursor{}, fmt.Errorf("device by id: %w", err)
	}
	if device == nil {
		return syncdomain.Cursor{}, ErrDeviceNotFound
	}

	cursor := syncdomain.Cursor{Seq: device.CursorSeq}
	if device.CursorSyncedAt != nil {
		cursor.LastSyncedAt = *device.CursorSyncedAt
	}
	return cursor, nil
}

// AdvanceCursor moves the device cursor forward. A cursor behind the
// stored one is ignored, keeping the watermark monotonic even when a
// retried session completes out of order.
func (s *Service) AdvanceCursor(ctx context.Context, deviceID string, cursor syncdomain.Cursor) error {
	current, err := s.Cursor(ctx, deviceID)
	if err != nil {
		return err
	}
	if cursor.Seq < current.Seq {
		return nil
	}

	syncedAt := cursor.LastSyncedAt
	if syncedAt.IsZero() {
		syncedAt = s.now()
	}
	if err := s.repo.UpdateCursor(ctx, deviceID, cursor.Seq, syncedAt); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}
