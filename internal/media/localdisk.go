package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalDisk is a Disk over an afero filesystem. Disks created with
// NewLocalDisk map onto a real directory; memory disks have no local path.
type LocalDisk struct {
	name string
	fs   afero.Fs
	root string
}

// NewLocalDisk returns a disk rooted at root on the OS filesystem.
func NewLocalDisk(name, root string) *LocalDisk {
	return &LocalDisk{
		name: name,
		fs:   afero.NewBasePathFs(afero.NewOsFs(), root),
		root: root,
	}
}

// NewMemoryDisk returns an in-memory disk.
func NewMemoryDisk(name string) *LocalDisk {
	return NewFsDisk(name, afero.NewMemMapFs())
}

// NewFsDisk wraps an arbitrary afero filesystem. LocalPath is unavailable.
func NewFsDisk(name string, fs afero.Fs) *LocalDisk {
	return &LocalDisk{name: name, fs: fs}
}

func (d *LocalDisk) Name() string { return d.name }

// Fs exposes the underlying filesystem.
func (d *LocalDisk) Fs() afero.Fs { return d.fs }

func (d *LocalDisk) Exists(_ context.Context, p string) (bool, error) {
	return afero.Exists(d.fs, cleanPath(p))
}

func (d *LocalDisk) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := d.fs.Open(cleanPath(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s:%s: %w", d.name, p, ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// Write streams r into p through a sibling ".part" file and renames it into
// place, so a failed copy never leaves a truncated destination.
func (d *LocalDisk) Write(_ context.Context, p string, r io.Reader, opts WriteOptions) error {
	target := cleanPath(p)
	if err := d.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", p, err)
	}

	partial := target + ".part"
	f, err := d.fs.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, visibilityMode(opts.Visibility))
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = d.fs.Remove(partial)
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		_ = d.fs.Remove(partial)
		return fmt.Errorf("close %s: %w", p, err)
	}
	if err := d.fs.Rename(partial, target); err != nil {
		_ = d.fs.Remove(partial)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	if opts.Visibility != "" {
		if err := d.fs.Chmod(target, visibilityMode(opts.Visibility)); err != nil {
			return fmt.Errorf("set visibility on %s: %w", p, err)
		}
	}
	return nil
}

func (d *LocalDisk) Delete(_ context.Context, p string) error {
	err := d.fs.Remove(cleanPath(p))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *LocalDisk) LocalPath(p string) (string, error) {
	if d.root == "" {
		return "", ErrNotLocal
	}
	return filepath.Join(d.root, filepath.FromSlash(cleanPath(p))), nil
}

func visibilityMode(v Visibility) os.FileMode {
	if v == VisibilityPrivate {
		return 0o600
	}
	return 0o644
}
