package device

import "errors"

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrTokenInvalid   = errors.New("device token invalid")
)
