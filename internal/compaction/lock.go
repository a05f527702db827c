package compaction

// One-compactor-per-mnode locking. The lock is an advisory flock on a file
// in the mnode directory, so it is released by the kernel when the holding
// process exits for any reason.
//
// Lock file: <mnodeDir>/.sdbcompact.lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

// LockFile is the name of the lock file inside the mnode directory.
const LockFile = ".sdbcompact.lock"

// Lock-related errors.
var (
	// ErrLockNotHeld is returned when releasing a lock that is not held.
	ErrLockNotHeld = errors.New("compaction: lock not held")

	// ErrLockHeldByOther is returned when another process holds the lock.
	ErrLockHeldByOther = errors.New("compaction: lock held by another compactor")
)

// Lock describes the holder of the directory lock.
type Lock struct {
	// Holder identifies the process, e.g. "sdbcompact v1.2.0".
	Holder string `json:"holder"`

	// PID is the holder's process ID.
	PID int `json:"pid"`

	// AcquiredAtMs is when the lock was acquired (unix milliseconds).
	AcquiredAtMs int64 `json:"acquiredAtMs"`
}

// DirLock is a held lock on an mnode directory.
type DirLock struct {
	mu   sync.Mutex
	path string
	file *os.File
	lock Lock
}

// AcquireDirLock takes the compaction lock for dir without blocking. If the
// lock is held elsewhere the error wraps ErrLockHeldByOther and names the
// recorded holder when it can be read.
func AcquireDirLock(dir, holder string) (*DirLock, error) {
	path := filepath.Join(dir, LockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("compaction: open lock: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if held, readErr := ReadDirLock(dir); readErr == nil {
				return nil, fmt.Errorf("%w: %s (pid %d)", ErrLockHeldByOther, held.Holder, held.PID)
			}
			return nil, ErrLockHeldByOther
		}
		return nil, fmt.Errorf("compaction: flock: %w", err)
	}

	lock := Lock{
		Holder:       holder,
		PID:          os.Getpid(),
		AcquiredAtMs: time.Now().UnixMilli(),
	}
	if err := writeLock(f, lock); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}

	return &DirLock{path: path, file: f, lock: lock}, nil
}

func writeLock(f *os.File, lock Lock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("compaction: marshal lock: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("compaction: write lock: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("compaction: write lock: %w", err)
	}
	return f.Sync()
}

// ReadDirLock returns the holder recorded in dir's lock file. The record
// may be stale if the holder exited; only AcquireDirLock is authoritative.
func ReadDirLock(dir string) (*Lock, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFile))
	if err != nil {
		return nil, fmt.Errorf("compaction: read lock: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("compaction: unmarshal lock: %w", err)
	}
	return &lock, nil
}

// Lock returns the holder record written on acquisition.
func (l *DirLock) Lock() Lock {
	return l.lock
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would let a waiter lock an unlinked inode.
func (l *DirLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrLockNotHeld
	}
	f := l.file
	l.file = nil

	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("compaction: unlock: %w", unlockErr)
	}
	return closeErr
}
