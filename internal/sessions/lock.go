package sessions

import (
	"context"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// LockConfig bounds how long a caller waits to acquire the advisory lock and
// how stale an existing lock file must be before it is stolen.
type LockConfig struct {
	WaitMs  int64
	StaleMs int64
}

func DefaultLockConfig() LockConfig {
	return LockConfig{WaitMs: 2000, StaleMs: 30000}
}

// fileLock wraps a gofrs/flock advisory lock on a sibling ".lock" file, with
// a stale-steal policy: if the lock file's mtime is older than StaleMs, this
// process removes and recreates it before retrying, rather than waiting
// indefinitely on a lock abandoned by a crashed process.
type fileLock struct {
	path string
	cfg  LockConfig
	fl   *flock.Flock
}

func newFileLock(sessionPath string, cfg LockConfig) *fileLock {
	if cfg.WaitMs <= 0 {
		cfg.WaitMs = DefaultLockConfig().WaitMs
	}
	if cfg.StaleMs <= 0 {
		cfg.StaleMs = DefaultLockConfig().StaleMs
	}
	return &fileLock{path: sessionPath + ".lock", cfg: cfg}
}

// Acquire blocks (bounded by cfg.WaitMs) until the lock is held, stealing a
// stale lock file once per retry loop if its mtime predates cfg.StaleMs.
// Returns *LockContested if the wait window elapses first.
func (l *fileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(l.cfg.WaitMs) * time.Millisecond)

	for {
		l.fl = flock.New(l.path)
		ctxTry, cancel := context.WithDeadline(ctx, deadline)
		ok, err := l.fl.TryLockContext(ctxTry, 25*time.Millisecond)
		cancel()
		if err == nil && ok {
			return nil
		}

		l.stealIfStale()

		if time.Now().After(deadline) {
			return &LockContested{Path: l.path}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (l *fileLock) stealIfStale() {
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}
	age := time.Since(info.ModTime())
	if age < time.Duration(l.cfg.StaleMs)*time.Millisecond {
		return
	}
	_ = os.Remove(l.path)
}

// Release unlocks and removes the lock file. It does not check whether the
// file on disk is still the one this process locked.
func (l *fileLock) Release() error {
	if l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	_ = os.Remove(l.path)
	return err
}
