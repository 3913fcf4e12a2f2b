package sync

import "errors"

var (
	ErrSessionConflict         = errors.New("another sync session is in progress for this device")
	ErrSessionNotFound         = errors.New("sync session not found")
	ErrInvalidTransition       = errors.New("invalid session status transition")
	ErrUnresolvedConflicts     = errors.New("session has unresolved conflicts")
	ErrCursorInvalid           = errors.New("sync cursor is invalid or expired")
	ErrMergeDataRequired       = errors.New("merge strategy requires a merged payload")
	ErrDeviceNotOwned          = errors.New("device does not belong to user")
	ErrPushTooLarge            = errors.New("push change set too large")
	ErrConflictNotFound        = errors.New("conflict not found")
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")
	ErrRevisionMismatch        = errors.New("expected revision does not match current revision")
)
