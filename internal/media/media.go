package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
)

// Media is a file on a disk. Its local copy, when one has to be made, lives
// in a temp directory handed out by TempDirs and is dropped by Release.
type Media struct {
	disk  Disk
	path  string
	temps *TempDirs

	mu      sync.Mutex
	local   string
	tempDir string
}

// NewMedia returns a handle for p on disk.
func NewMedia(disk Disk, p string, temps *TempDirs) *Media {
	return &Media{disk: disk, path: p, temps: temps}
}

func (m *Media) Disk() Disk   { return m.disk }
func (m *Media) Path() string { return m.path }

// Exists asks the disk whether the file is there.
func (m *Media) Exists(ctx context.Context) (bool, error) {
	return m.disk.Exists(ctx, m.path)
}

// MaterializeLocal returns a local filesystem path for the media. Local disks
// answer directly; anything else is streamed into a temp file on first call.
// The result is cached for the life of the Media.
func (m *Media) MaterializeLocal(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local != "" {
		return m.local, nil
	}

	local, err := m.disk.LocalPath(m.path)
	if err == nil {
		m.local = local
		return local, nil
	}
	if !errors.Is(err, ErrNotLocal) {
		return "", fmt.Errorf("resolve %s: %w", m.path, err)
	}

	if m.temps == nil {
		return "", fmt.Errorf("materialize %s: no temp directory manager", m.path)
	}
	dir, err := m.temps.Create()
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, path.Base(cleanPath(m.path)))
	if err := m.download(ctx, target); err != nil {
		_ = m.temps.Remove(dir)
		return "", err
	}

	m.tempDir = dir
	m.local = target
	return target, nil
}

func (m *Media) download(ctx context.Context, target string) error {
	src, err := m.disk.Open(ctx, m.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create local copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("download %s: %w", m.path, err)
	}
	return dst.Close()
}

// Release drops the local copy if one was downloaded.
func (m *Media) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tempDir == "" {
		return nil
	}
	err := m.temps.Remove(m.tempDir)
	m.tempDir = ""
	m.local = ""
	return err
}

// Collection is an ordered set of source media.
type Collection struct {
	items []*Media
}

// NewCollection returns a collection holding items in order.
func NewCollection(items ...*Media) *Collection {
	return &Collection{items: append([]*Media(nil), items...)}
}

func (c *Collection) Push(m *Media) *Collection {
	c.items = append(c.items, m)
	return c
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

func (c *Collection) First() *Media {
	if c.Len() == 0 {
		return nil
	}
	return c.items[0]
}

func (c *Collection) Last() *Media {
	if c.Len() == 0 {
		return nil
	}
	return c.items[len(c.items)-1]
}

// Items returns the media in order.
func (c *Collection) Items() []*Media {
	if c == nil {
		return nil
	}
	return append([]*Media(nil), c.items...)
}

// FindByPath returns the first media whose disk path equals p.
func (c *Collection) FindByPath(p string) *Media {
	if c == nil {
		return nil
	}
	for _, m := range c.items {
		if m.path == p {
			return m
		}
	}
	return nil
}

// LocalPaths materializes every media and returns the paths in order.
func (c *Collection) LocalPaths(ctx context.Context) ([]string, error) {
	paths := make([]string, 0, c.Len())
	for _, m := range c.Items() {
		p, err := m.MaterializeLocal(ctx)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Release drops every downloaded copy and reports the first failure.
func (c *Collection) Release() error {
	var first error
	for _, m := range c.Items() {
		if err := m.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
