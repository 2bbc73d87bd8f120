package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	tempPrefix   = "av1_"
	cleanupLock  = ".av1-cleanup.lock"
	tempDirPerm  = 0o755
	tempRootPerm = 0o755
)

// TempDirs hands out private working directories under one root. Every
// directory is independent: removing one never touches another.
type TempDirs struct {
	root   string
	logger hclog.Logger
	now    func() time.Time
}

// NewTempDirs manages directories under root; an empty root means os.TempDir().
func NewTempDirs(root string, logger hclog.Logger) *TempDirs {
	if root == "" {
		root = filepath.Join(os.TempDir(), "av1")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TempDirs{root: root, logger: logger, now: time.Now}
}

// Root returns the base path.
func (t *TempDirs) Root() string {
	return t.root
}

// Create makes a fresh directory named av1_<uuid>.
func (t *TempDirs) Create() (string, error) {
	if err := os.MkdirAll(t.root, tempRootPerm); err != nil {
		return "", fmt.Errorf("failed to create temp root: %w", err)
	}
	dir := filepath.Join(t.root, tempPrefix+uuid.NewString())
	if err := os.Mkdir(dir, tempDirPerm); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	t.logger.Trace("temp dir created", "path", dir)
	return dir, nil
}

// Remove deletes dir recursively. Paths outside the root are refused.
func (t *TempDirs) Remove(dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(t.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s outside %s", dir, t.root)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove temp dir: %w", err)
	}
	return nil
}

// Cleanup removes av1_* directories older than olderThan. A file lock on the
// root keeps two processes from sweeping at once; when the lock is held
// elsewhere Cleanup returns without doing anything.
func (t *TempDirs) Cleanup(olderThan time.Duration) ([]string, error) {
	if _, err := os.Stat(t.root); os.IsNotExist(err) {
		return nil, nil
	}

	lock := flock.New(filepath.Join(t.root, cleanupLock))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock temp root: %w", err)
	}
	if !locked {
		t.logger.Debug("temp cleanup already running elsewhere", "root", t.root)
		return nil, nil
	}
	defer func() { _ = lock.Unlock() }()

	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, fmt.Errorf("read temp root: %w", err)
	}

	cutoff := t.now().Add(-olderThan)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		dir := filepath.Join(t.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			t.logger.Warn("failed to remove stale temp dir", "path", dir, "error", err)
			continue
		}
		removed = append(removed, dir)
	}
	if len(removed) > 0 {
		t.logger.Info("removed stale temp dirs", "count", len(removed), "root", t.root)
	}
	return removed, nil
}
