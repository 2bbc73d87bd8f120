package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNotLocal is returned by LocalPath for disks without a filesystem path.
	ErrNotLocal = errors.New("disk has no local path")
	// ErrNotFound is returned when a path does not exist on a disk.
	ErrNotFound = errors.New("file not found")
)

// Visibility is the access level applied to written files.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility accepts "", "public" and "private".
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case "", VisibilityPublic, VisibilityPrivate:
		return v, nil
	default:
		return "", fmt.Errorf("unknown visibility %q", s)
	}
}

// WriteOptions tune a single Write.
type WriteOptions struct {
	Visibility  Visibility
	ContentType string
}

// Disk is a storage location media is read from and exported to. Paths are
// slash separated and relative to the disk root.
type Disk interface {
	Name() string
	Exists(ctx context.Context, p string) (bool, error)
	// Open streams the file; the caller closes the reader.
	Open(ctx context.Context, p string) (io.ReadCloser, error)
	Write(ctx context.Context, p string, r io.Reader, opts WriteOptions) error
	Delete(ctx context.Context, p string) error
	// LocalPath returns ErrNotLocal when the disk is not on the local filesystem.
	LocalPath(p string) (string, error)
}

// Disk drivers understood by NewDisk.
const (
	DriverLocal  = "local"
	DriverMemory = "memory"
	DriverHTTP   = "http"
)

// DiskSpec describes a configured disk.
type DiskSpec struct {
	Driver   string            `mapstructure:"driver"`
	Root     string            `mapstructure:"root"`
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
	RetryMax int               `mapstructure:"retry_max"`
}

// NewDisk builds the disk described by spec.
func NewDisk(name string, spec DiskSpec, logger hclog.Logger) (Disk, error) {
	switch strings.ToLower(spec.Driver) {
	case "", DriverLocal:
		if spec.Root == "" {
			return nil, fmt.Errorf("disk %s: local driver requires root", name)
		}
		return NewLocalDisk(name, spec.Root), nil
	case DriverMemory:
		return NewMemoryDisk(name), nil
	case DriverHTTP:
		if spec.URL == "" {
			return nil, fmt.Errorf("disk %s: http driver requires url", name)
		}
		return NewHTTPDisk(name, spec.URL, HTTPOptions{
			Headers:  spec.Headers,
			RetryMax: spec.RetryMax,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("disk %s: unknown driver %q", name, spec.Driver)
	}
}

// cleanPath roots p so it can never escape the disk.
func cleanPath(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}
