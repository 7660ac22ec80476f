// internal/camera/lock.go
package camera

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrDeviceBusy means another process holds the device lock.
var ErrDeviceBusy = errors.New("camera device is in use by another moodlens process")

// DeviceLock keeps a single process in charge of the camera.
type DeviceLock struct {
	lock *flock.Flock
}

// NewDeviceLock prepares a lock file at path; nothing is locked yet.
func NewDeviceLock(path string) *DeviceLock {
	return &DeviceLock{lock: flock.New(path)}
}

// Acquire takes the lock without blocking.
func (l *DeviceLock) Acquire() error {
	if dir := filepath.Dir(l.lock.Path()); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock directory: %w", err)
		}
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock file %s)", ErrDeviceBusy, l.lock.Path())
	}
	return nil
}

// Release drops the lock. It is safe to call when not held.
func (l *DeviceLock) Release() error {
	if !l.lock.Locked() {
		return nil
	}
	return l.lock.Unlock()
}

// Path returns the lock file location.
func (l *DeviceLock) Path() string { return l.lock.Path() }
