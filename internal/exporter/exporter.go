package exporter

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"av1-worker/internal/encoder"
	"av1-worker/internal/media"
)

var (
	// ErrNoDestination means neither ToDisk nor an opened collection named a disk.
	ErrNoDestination = errors.New("no destination disk")
	// ErrNoArtifact is returned for operations that produce no file.
	ErrNoArtifact = errors.New("operation produced no artifact")
	// ErrAlreadySaved is returned by a second Save on the same exporter.
	ErrAlreadySaved = errors.New("result already exported")
)

// EncodingFailedError reports a run that exited non-zero; nothing was copied.
type EncodingFailedError struct {
	ExitCode    int
	ErrorOutput string
}

func (e *EncodingFailedError) Error() string {
	msg := strings.TrimSpace(e.ErrorOutput)
	if msg == "" {
		return fmt.Sprintf("encoding failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("encoding failed with exit code %d: %s", e.ExitCode, msg)
}

// TransferFailedError reports a failed copy. The temp artifact is kept.
type TransferFailedError struct {
	Disk string
	Path string
	Err  error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("failed to export to %s:%s: %v", e.Disk, e.Path, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }

// Exported describes a saved artifact.
type Exported struct {
	Disk   media.Disk
	Path   string
	Size   int64
	Result *encoder.Result
}

// Callback runs after a successful save.
type Callback func(ctx context.Context, exported *Exported) error

// Exporter moves a session's artifact to durable storage.
type Exporter struct {
	session    *encoder.Session
	disk       media.Disk
	toPath     string
	visibility media.Visibility
	callbacks  []Callback
	logger     hclog.Logger

	exported *Exported
}

func New(session *encoder.Session, logger hclog.Logger) *Exporter {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Exporter{session: session, logger: logger.Named("exporter")}
}

// ToDisk sets the destination disk. It defaults to the disk of the first
// opened media.
func (e *Exporter) ToDisk(d media.Disk) *Exporter {
	e.disk = d
	return e
}

// ToPath sets a destination directory, or a full file path when p has an extension.
func (e *Exporter) ToPath(p string) *Exporter {
	e.toPath = p
	return e
}

func (e *Exporter) WithVisibility(v media.Visibility) *Exporter {
	e.visibility = v
	return e
}

// AfterSaving registers fn to run once after a successful save. Callbacks run
// in registration order.
func (e *Exporter) AfterSaving(fn Callback) *Exporter {
	e.callbacks = append(e.callbacks, fn)
	return e
}

// FinalPath resolves the destination for an artifact at tempPath.
func FinalPath(toPath, name, tempPath string) string {
	if toPath != "" && path.Ext(toPath) != "" {
		return toPath
	}
	if name == "" {
		name = filepath.Base(tempPath)
	}
	if toPath == "" {
		return name
	}
	return path.Join(toPath, name)
}

// Save runs the session if needed and copies its artifact to the destination.
func (e *Exporter) Save(ctx context.Context, name string) (*Exported, error) {
	if e.exported != nil {
		return nil, ErrAlreadySaved
	}

	// 1. Exporting implies encoding. A session that already ran is reused as
	//    is, so callers can inspect the result before deciding to save it.
	if !e.session.Executed() {
		if _, err := e.session.Run(ctx); err != nil {
			return nil, err
		}
	}
	res := e.session.Result()

	// 2. Never copy a failed run. Whatever the tool left in the temp dir is
	//    at best a partial file, so the exit code and stderr go back instead.
	if !res.Successful() {
		return nil, &EncodingFailedError{ExitCode: res.ExitCode(), ErrorOutput: res.ErrorOutput()}
	}
	if !res.Operation().ProducesArtifact() || res.OutputPath() == "" {
		return nil, ErrNoArtifact
	}

	disk, err := e.destination()
	if err != nil {
		return nil, err
	}
	final := FinalPath(e.toPath, name, res.OutputPath())

	// 3. Stream the artifact into place. Encodes can be many gigabytes, so it
	//    is never read into memory; the disk decides how the write lands.
	size, err := e.copy(ctx, disk, res.OutputPath(), final)
	if err != nil {
		return nil, &TransferFailedError{Disk: disk.Name(), Path: final, Err: err}
	}
	e.logger.Info("exported", "disk", disk.Name(), "path", final, "size", humanize.Bytes(uint64(size)))

	// 4. Only now is the temp copy redundant. A failed transfer above keeps it
	//    around so the caller can retry without encoding again.
	if err := os.Remove(res.OutputPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove temp artifact: %w", err)
	}
	if err := e.session.Release(); err != nil {
		e.logger.Warn("failed to release session temp dir", "error", err)
	}

	exported := &Exported{Disk: disk, Path: final, Size: size, Result: res}
	e.exported = exported

	// 5. Callbacks, once each, in order. They are cleared before running so a
	//    callback that panics or loops back into Save cannot fire twice.
	callbacks := e.callbacks
	e.callbacks = nil
	for _, fn := range callbacks {
		if err := fn(ctx, exported); err != nil {
			e.logger.Warn("after-saving callback failed", "path", final, "error", err)
		}
	}
	return exported, nil
}

func (e *Exporter) destination() (media.Disk, error) {
	if e.disk != nil {
		return e.disk, nil
	}
	if first := e.session.Media().First(); first != nil {
		return first.Disk(), nil
	}
	return nil, ErrNoDestination
}

func (e *Exporter) copy(ctx context.Context, disk media.Disk, src, dst string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	opts := media.WriteOptions{
		Visibility:  e.visibility,
		ContentType: mime.TypeByExtension(path.Ext(dst)),
	}
	if err := disk.Write(ctx, dst, f, opts); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
