package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/parley/internal/config"
	parleyErrors "github.com/harunnryd/parley/internal/errors"

	"github.com/gofrs/flock"
)

const lockFileName = "workspace.lock"

// ErrWorkspaceLocked is returned when another parley process holds the
// workspace.
var ErrWorkspaceLocked = errors.New("workspace is locked by another instance")

// FileLock keeps one process per workspace.
type FileLock struct {
	mu          sync.RWMutex
	fileLock    *flock.Flock
	lockPath    string
	workspaceID string
	acquiredAt  time.Time
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault(config.DefaultStoreLockTimeout, config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault(config.DefaultStoreLockRetry, config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMaxRetry,
	}
}

// budget is how long acquisition may take: the configured timeout, capped
// by the retry count.
func (c *FileLockConfig) budget() time.Duration {
	d := c.LockTimeout
	if c.LockMaxRetry > 0 && c.LockRetry > 0 {
		if byRetries := time.Duration(c.LockMaxRetry) * c.LockRetry; d <= 0 || byRetries < d {
			d = byRetries
		}
	}
	return d
}

func NewFileLock(workspaceID, basePath string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	lockPath := filepath.Join(basePath, lockFileName)
	fl := &FileLock{
		fileLock:    flock.New(lockPath),
		lockPath:    lockPath,
		workspaceID: workspaceID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.budget())
	defer cancel()

	retry := cfg.LockRetry
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}

	locked, err := fl.fileLock.TryLockContext(ctx, retry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("failed to attempt lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("workspace %s (timeout after %v): %w", workspaceID, cfg.budget(),
			parleyErrors.WithCategory(ErrWorkspaceLocked, parleyErrors.ErrTransient))
	}

	fl.acquiredAt = time.Now()
	slog.Debug("File lock acquired", "workspace", workspaceID, "path", lockPath)
	return fl, nil
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		slog.Warn("FileLock already unlocked", "workspace", fl.workspaceID)
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release file lock", "workspace", fl.workspaceID, "path", fl.lockPath, "error", err)
	} else {
		slog.Debug("File lock released",
			"workspace", fl.workspaceID,
			"held_duration_ms", time.Since(fl.acquiredAt).Milliseconds(),
		)
	}

	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

func (fl *FileLock) HeldDuration() time.Duration {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	if fl.fileLock == nil || fl.acquiredAt.IsZero() {
		return 0
	}
	return time.Since(fl.acquiredAt)
}

// CleanupStaleLocks removes a lock file older than maxAge. Without force it
// only reports what it found.
func CleanupStaleLocks(basePath string, maxAge time.Duration, force bool) (bool, error) {
	lockPath := filepath.Join(basePath, lockFileName)
	info, err := os.Stat(lockPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return false, nil
	}

	slog.Warn("Found stale lock file", "path", lockPath, "age", age, "max_age", maxAge)
	if !force {
		return false, nil
	}

	if err := os.Remove(lockPath); err != nil {
		return false, fmt.Errorf("remove stale lock %s: %w", lockPath, err)
	}
	slog.Info("Stale lock file removed", "path", lockPath)
	return true, nil
}
