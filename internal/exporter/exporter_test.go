package exporter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"av1-worker/internal/command"
	"av1-worker/internal/encoder"
	"av1-worker/internal/media"
	"av1-worker/internal/process"
)

// artifactBackend writes a small file to the builder output, like a real encode.
type artifactBackend struct {
	exitCode int
	runs     int
}

func (a *artifactBackend) Name() string                            { return "artifact" }
func (a *artifactBackend) IsAvailable(context.Context) bool        { return true }
func (a *artifactBackend) Version(context.Context) (string, error) { return "1", nil }
func (a *artifactBackend) SupportsQualitySearch() bool             { return false }

func (a *artifactBackend) Execute(_ context.Context, b *command.Builder) (process.Result, error) {
	if err := b.Validate(); err != nil {
		return process.Result{}, err
	}
	a.runs++
	if a.exitCode != 0 {
		return process.Result{ExitCode: a.exitCode, Stderr: "encoder crashed\n"}, nil
	}
	if b.Operation().ProducesArtifact() {
		if err := os.WriteFile(b.Output(), []byte("av1 bitstream"), 0o644); err != nil {
			return process.Result{}, err
		}
	}
	return process.Result{}, nil
}

type brokenDisk struct{ media.Disk }

func (brokenDisk) Name() string { return "broken" }

func (brokenDisk) Write(context.Context, string, io.Reader, media.WriteOptions) error {
	return errors.New("disk full")
}

type setup struct {
	temps   *media.TempDirs
	source  *media.LocalDisk
	session *encoder.Session
	backend *artifactBackend
}

func newSetup(t *testing.T, exitCode int) *setup {
	t.Helper()
	temps := media.NewTempDirs(t.TempDir(), nil)
	source := media.NewMemoryDisk("source")
	require.NoError(t, afero.WriteFile(source.Fs(), "/in.mkv", []byte("raw"), 0o644))

	backend := &artifactBackend{exitCode: exitCode}
	session := encoder.New(encoder.Config{}, backend, nil, temps, nil)
	require.NoError(t, session.Open(media.NewCollection(media.NewMedia(source, "in.mkv", temps))))
	require.NoError(t, session.SetOperation(command.Encode))
	session.Builder().SetOutput("out.mp4").CRF(30).Preset("6")
	return &setup{temps: temps, source: source, session: session, backend: backend}
}

func TestFinalPath(t *testing.T) {
	assert.Equal(t, "videos/2024/out.mp4", FinalPath("videos/2024", "", "/tmp/av1_x/out.mp4"))
	assert.Equal(t, "videos/final.mp4", FinalPath("videos/final.mp4", "named.mkv", "/tmp/av1_x/out.mp4"))
	assert.Equal(t, "videos/named.mkv", FinalPath("videos", "named.mkv", "/tmp/av1_x/out.mp4"))
	assert.Equal(t, "out.mp4", FinalPath("", "", "/tmp/av1_x/out.mp4"))
	assert.Equal(t, "named.mkv", FinalPath("", "named.mkv", "/tmp/av1_x/out.mp4"))
}

func TestSaveToDirectoryUsesTempBasename(t *testing.T) {
	s := newSetup(t, 0)
	dest := media.NewMemoryDisk("dest")

	exported, err := New(s.session, nil).ToDisk(dest).ToPath("videos/2024").Save(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "videos/2024/out.mp4", exported.Path)
	assert.Equal(t, int64(len("av1 bitstream")), exported.Size)
	assert.Equal(t, 1, s.backend.runs, "save runs the session lazily")

	data, err := afero.ReadFile(dest.Fs(), "/videos/2024/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, "av1 bitstream", string(data))

	_, err = os.Stat(exported.Result.OutputPath())
	assert.True(t, os.IsNotExist(err), "temp artifact must be gone after a successful save")
}

func TestSaveToFilePathIgnoresName(t *testing.T) {
	s := newSetup(t, 0)
	dest := media.NewMemoryDisk("dest")

	exported, err := New(s.session, nil).ToDisk(dest).ToPath("videos/final.mp4").Save(context.Background(), "other.mkv")
	require.NoError(t, err)
	assert.Equal(t, "videos/final.mp4", exported.Path)

	ok, err := afero.Exists(dest.Fs(), "/videos/final.mp4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveDoesNotRerunExecutedSession(t *testing.T) {
	s := newSetup(t, 0)
	_, err := s.session.Run(context.Background())
	require.NoError(t, err)

	_, err = New(s.session, nil).ToDisk(media.NewMemoryDisk("dest")).Save(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.backend.runs)
}

func TestSaveDefaultsToSourceDisk(t *testing.T) {
	s := newSetup(t, 0)

	exported, err := New(s.session, nil).ToPath("encoded").Save(context.Background(), "movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "source", exported.Disk.Name())

	ok, err := afero.Exists(s.source.Fs(), "/encoded/movie.mp4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveAppliesVisibility(t *testing.T) {
	s := newSetup(t, 0)
	root := t.TempDir()

	_, err := New(s.session, nil).
		ToDisk(media.NewLocalDisk("local", root)).
		WithVisibility(media.VisibilityPrivate).
		Save(context.Background(), "private.mp4")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root, "private.mp4"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveFailedEncodingCopiesNothing(t *testing.T) {
	s := newSetup(t, 3)
	dest := media.NewMemoryDisk("dest")

	_, err := New(s.session, nil).ToDisk(dest).Save(context.Background(), "")
	var failed *EncodingFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.ExitCode)
	assert.Contains(t, failed.Error(), "encoder crashed")

	ok, err := afero.Exists(dest.Fs(), "/out.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveFailedCopyKeepsTempArtifact(t *testing.T) {
	s := newSetup(t, 0)
	called := false

	_, err := New(s.session, nil).
		ToDisk(brokenDisk{}).
		AfterSaving(func(context.Context, *Exported) error { called = true; return nil }).
		Save(context.Background(), "")

	var transfer *TransferFailedError
	require.ErrorAs(t, err, &transfer)
	assert.Equal(t, "broken", transfer.Disk)
	assert.False(t, called)

	data, err := os.ReadFile(s.session.Result().OutputPath())
	require.NoError(t, err)
	assert.Equal(t, "av1 bitstream", string(data))
}

func TestCallbacksRunOnceInOrder(t *testing.T) {
	s := newSetup(t, 0)
	var order []string

	e := New(s.session, nil).ToDisk(media.NewMemoryDisk("dest")).ToPath("out")
	e.AfterSaving(func(_ context.Context, x *Exported) error {
		order = append(order, "first:"+x.Path)
		return nil
	}).AfterSaving(func(context.Context, *Exported) error {
		order = append(order, "second")
		return errors.New("ignored")
	})

	_, err := e.Save(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first:out/out.mp4", "second"}, order)

	_, err = e.Save(context.Background(), "")
	assert.ErrorIs(t, err, ErrAlreadySaved)
	assert.Len(t, order, 2)
}

func TestSaveQualityOperationHasNoArtifact(t *testing.T) {
	s := newSetup(t, 0)
	require.NoError(t, s.session.SetOperation(command.VMAF))
	s.session.Builder().SetReference("in.mkv").SetDistorted("/tmp/enc.mkv")

	_, err := New(s.session, nil).Save(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestSaveWithoutDestination(t *testing.T) {
	temps := media.NewTempDirs(t.TempDir(), nil)
	session := encoder.New(encoder.Config{}, &artifactBackend{}, nil, temps, nil)
	require.NoError(t, session.SetOperation(command.Encode))
	session.Builder().SetInput("/in.mkv").SetOutput("o.mp4").CRF(30).Preset("6")

	_, err := New(session, nil).Save(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDestination)
}
