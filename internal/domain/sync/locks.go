package sync

import (
	stdsync "sync"
	"sync/atomic"
)

// lease is held for the duration of one session and carries the
// cooperative cancellation flag checked between batches.
type lease struct {
	sessionID string
	cancelled atomic.Bool
}

func (l *lease) Cancel() {
	l.cancelled.Store(true)
}

func (l *lease) Cancelled() bool {
	return l.cancelled.Load()
}

// deviceLocks serializes sessions per device: concurrent start attempts
// for the same device resolve to exactly one holder.
type deviceLocks struct {
	mu   stdsync.Mutex
	held map[string]*lease
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{held: make(map[string]*lease)}
}

// Acquire takes the device lock for the given session. Returns false
// when another session already holds it.
func (d *deviceLocks) Acquire(deviceID, sessionID string) (*lease, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.held[deviceID]; taken {
		return nil, false
	}

	l := &lease{sessionID: sessionID}
	d.held[deviceID] = l
	return l, true
}

// Release frees the device lock if it is still held by the given
// session. A lock re-acquired by a newer session is left alone.
func (d *deviceLocks) Release(deviceID, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.held[deviceID]; ok && l.sessionID == sessionID {
		delete(d.held, deviceID)
	}
}

// Lease returns the lease currently held for the device, if any.
func (d *deviceLocks) Lease(deviceID string) (*lease, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.held[deviceID]
	return l, ok
}
