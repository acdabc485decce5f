package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"telegram-savings-365/internal/storage"
)

// ErrLockLost means another process took over the scheduler lock.
var ErrLockLost = errors.New("scheduler lock taken by another owner")

// LockInfo is the content of the lock file.
type LockInfo struct {
	PID         int       `json:"pid"`
	Host        string    `json:"host"`
	Owner       string    `json:"owner"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
}

// FileLock is an advisory, heartbeat-refreshed ownership record. The
// read-check-write of Acquire runs under an OS flock on a sidecar file, so two
// processes racing to start cannot both win.
type FileLock struct {
	path      string
	freshness time.Duration
	clock     clockwork.Clock
	guard     *flock.Flock

	info LockInfo
	held bool
}

func NewFileLock(path string, freshness time.Duration, clock clockwork.Clock) *FileLock {
	host, _ := os.Hostname()
	return &FileLock{
		path:      path,
		freshness: freshness,
		clock:     clock,
		guard:     flock.New(path + ".flock"),
		info: LockInfo{
			PID:   os.Getpid(),
			Host:  host,
			Owner: uuid.NewString(),
		},
	}
}

func (l *FileLock) Owner() string { return l.info.Owner }

// Acquire returns false without error when a fresh lock belongs to someone else.
func (l *FileLock) Acquire() (bool, error) {
	locked, err := l.guard.TryLock()
	if err != nil {
		return false, fmt.Errorf("flock %s: %w", l.guard.Path(), err)
	}
	if !locked {
		// another process is inside Acquire right now
		return false, nil
	}
	defer l.guard.Unlock()

	now := l.clock.Now()
	if cur, ok := l.read(); ok && cur.Owner != l.info.Owner && l.fresh(cur, now) {
		return false, nil
	}

	info := l.info
	info.AcquiredAt = now
	info.HeartbeatAt = now
	if err := l.write(info); err != nil {
		return false, err
	}
	l.info = info
	l.held = true
	return true, nil
}

// Current reports what is on disk; ok is false for a missing or corrupt file.
func (l *FileLock) Current() (LockInfo, bool) { return l.read() }

// Heartbeat refreshes the timestamp. A file that vanished or got corrupted is
// rewritten; a file owned by someone else is ErrLockLost.
func (l *FileLock) Heartbeat() error {
	if !l.held {
		return ErrLockLost
	}
	if err := l.guard.Lock(); err != nil {
		return fmt.Errorf("flock %s: %w", l.guard.Path(), err)
	}
	defer l.guard.Unlock()

	if cur, ok := l.read(); ok && cur.Owner != l.info.Owner {
		l.held = false
		return ErrLockLost
	}
	info := l.info
	info.HeartbeatAt = l.clock.Now()
	if err := l.write(info); err != nil {
		return err
	}
	l.info = info
	return nil
}

// Release removes the lock file if we still own it.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := l.guard.Lock(); err != nil {
		return fmt.Errorf("flock %s: %w", l.guard.Path(), err)
	}
	defer l.guard.Unlock()

	if cur, ok := l.read(); ok && cur.Owner != l.info.Owner {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

func (l *FileLock) fresh(info LockInfo, now time.Time) bool {
	last := info.HeartbeatAt
	if info.AcquiredAt.After(last) {
		last = info.AcquiredAt
	}
	return now.Sub(last) < l.freshness
}

func (l *FileLock) read() (LockInfo, bool) {
	var info LockInfo
	data, err := os.ReadFile(l.path)
	if err != nil {
		return info, false
	}
	if err := json.Unmarshal(data, &info); err != nil || info.Owner == "" {
		return LockInfo{}, false
	}
	return info, true
}

func (l *FileLock) write(info LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(l.path, data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return nil
}
