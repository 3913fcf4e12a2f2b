package device

import "time"

// Device is one registered client installation of a user. Token is the
// per-device credential presented on sync and websocket connections;
// CursorSeq/CursorSyncedAt form the device's sync cursor.
type Device struct {
	ID             string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         string `gorm:"type:uuid;not null;index" json:"user_id"`
	Name           string `gorm:"not null" json:"name"`
	Platform       string `json:"platform"`
	Token          string `gorm:"not null;uniqueIndex" json:"token,omitempty"`
	CursorSeq      int64  `gorm:"not null" json:"cursor_seq"`
	CursorSyncedAt *time.Time `json:"cursor_synced_at,omitempty"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"-"`
}

func (Device) TableName() string {
	return "devices"
}
