// Package lock provides an exclusive flock(2) lock used to keep
// reconciliation sweeps and full reindexes from overlapping across processes
// sharing one data directory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrTimeout indicates the lock was not acquired before the deadline.
	ErrTimeout = errors.New("lock acquisition timed out")

	// ErrAlreadyHeld indicates this instance already holds the lock.
	ErrAlreadyHeld = errors.New("lock already held by this instance")
)

const (
	minPoll = 10 * time.Millisecond
	maxPoll = 500 * time.Millisecond
)

// File is an exclusive lock on a file. The kernel releases it when the
// holding process exits, so a crashed sweeper never wedges the lock.
// A File is safe for use by multiple goroutines.
type File struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// New returns an unlocked File at path. The file and its parent directories
// are created on first use.
func New(path string) *File {
	return &File{path: path}
}

// TryLock acquires the lock without blocking. It reports false, with no
// error, when another holder has it.
func (l *File) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return false, ErrAlreadyHeld
	}
	f, err := l.open()
	if err != nil {
		return false, err
	}
	ok, err := flock(f)
	if err != nil || !ok {
		_ = f.Close()
		return false, err
	}
	l.file = f
	return true, nil
}

// Acquire blocks until the lock is held, timeout elapses (ErrTimeout) or ctx
// is done.
func (l *File) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	poll := minPoll

	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
			poll = min(poll*2, maxPoll)
		}
	}
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *File) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// Path returns the lock file path.
func (l *File) Path() string {
	return l.path
}

func (l *File) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func flock(f *os.File) (bool, error) {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("flock failed: %w", err)
}
