package media

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVisibility(t *testing.T) {
	v, err := ParseVisibility(" Public ")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPublic, v)

	v, err = ParseVisibility("")
	require.NoError(t, err)
	assert.Equal(t, Visibility(""), v)

	_, err = ParseVisibility("world")
	assert.Error(t, err)
}

func TestNewDisk(t *testing.T) {
	d, err := NewDisk("src", DiskSpec{Root: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalDisk{}, d)

	d, err = NewDisk("mem", DiskSpec{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mem", d.Name())

	d, err = NewDisk("remote", DiskSpec{Driver: "http", URL: "http://example.invalid/"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPDisk{}, d)

	_, err = NewDisk("bad", DiskSpec{Driver: "local"}, nil)
	assert.Error(t, err)
	_, err = NewDisk("bad", DiskSpec{Driver: "http"}, nil)
	assert.Error(t, err)
	_, err = NewDisk("bad", DiskSpec{Driver: "ftp"}, nil)
	assert.Error(t, err)
}

func TestCleanPathCannotEscape(t *testing.T) {
	assert.Equal(t, "/etc/passwd", cleanPath("../../etc/passwd"))
	assert.Equal(t, "/a/b.mp4", cleanPath("a\\b.mp4"))
	assert.Equal(t, "/", cleanPath(""))
}

func TestLocalDiskWriteAndVisibility(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	disk := NewLocalDisk("local", root)

	err := disk.Write(ctx, "nested/out.mp4", strings.NewReader("encoded"), WriteOptions{Visibility: VisibilityPrivate})
	require.NoError(t, err)

	local, err := disk.LocalPath("nested/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "nested", "out.mp4"), local)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "encoded", string(data))

	info, err := os.Stat(local)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = os.Stat(local + ".part")
	assert.True(t, os.IsNotExist(err))

	ok, err := disk.Exists(ctx, "nested/out.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, disk.Delete(ctx, "nested/out.mp4"))
	require.NoError(t, disk.Delete(ctx, "nested/out.mp4"))
	ok, err = disk.Exists(ctx, "nested/out.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalDiskFailedWriteLeavesNothing(t *testing.T) {
	disk := NewMemoryDisk("mem")
	err := disk.Write(context.Background(), "out.mp4", failingReader{}, WriteOptions{})
	require.Error(t, err)

	for _, p := range []string{"/out.mp4", "/out.mp4.part"} {
		ok, err := afero.Exists(disk.Fs(), p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
}

func TestMemoryDiskOpenMissing(t *testing.T) {
	disk := NewMemoryDisk("mem")
	_, err := disk.Open(context.Background(), "nope.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = disk.LocalPath("nope.mp4")
	assert.ErrorIs(t, err, ErrNotLocal)
}

func TestMediaMaterializeLocalDisk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.mp4"), []byte("raw"), 0o644))

	m := NewMedia(NewLocalDisk("local", root), "in.mp4", nil)
	local, err := m.MaterializeLocal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "in.mp4"), local)

	require.NoError(t, m.Release())
	_, err = os.Stat(local)
	assert.NoError(t, err, "release must not remove files owned by the disk")
}

func TestMediaMaterializeRemoteDisk(t *testing.T) {
	ctx := context.Background()
	disk := NewMemoryDisk("mem")
	require.NoError(t, afero.WriteFile(disk.Fs(), "/videos/clip.mkv", []byte("frames"), 0o644))

	temps := NewTempDirs(t.TempDir(), nil)
	m := NewMedia(disk, "videos/clip.mkv", temps)

	local, err := m.MaterializeLocal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "clip.mkv", filepath.Base(local))
	assert.True(t, strings.HasPrefix(local, temps.Root()))

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	again, err := m.MaterializeLocal(ctx)
	require.NoError(t, err)
	assert.Equal(t, local, again)

	require.NoError(t, m.Release())
	_, err = os.Stat(filepath.Dir(local))
	assert.True(t, os.IsNotExist(err))
}

func TestMediaMaterializeMissingCleansUp(t *testing.T) {
	temps := NewTempDirs(t.TempDir(), nil)
	m := NewMedia(NewMemoryDisk("mem"), "missing.mp4", temps)

	_, err := m.MaterializeLocal(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(temps.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCollection(t *testing.T) {
	disk := NewMemoryDisk("mem")
	require.NoError(t, afero.WriteFile(disk.Fs(), "/a.mp4", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(disk.Fs(), "/b.mp4", []byte("b"), 0o644))
	temps := NewTempDirs(t.TempDir(), nil)

	var empty *Collection
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.First())
	assert.Nil(t, NewCollection().Last())

	a := NewMedia(disk, "a.mp4", temps)
	b := NewMedia(disk, "b.mp4", temps)
	c := NewCollection(a).Push(b)

	assert.Equal(t, 2, c.Len())
	assert.Same(t, a, c.First())
	assert.Same(t, b, c.Last())
	assert.Same(t, b, c.FindByPath("b.mp4"))
	assert.Nil(t, c.FindByPath("c.mp4"))

	paths, err := c.LocalPaths(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "a.mp4", filepath.Base(paths[0]))
	assert.Equal(t, "b.mp4", filepath.Base(paths[1]))

	require.NoError(t, c.Release())
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestTempDirsCreateAndRemove(t *testing.T) {
	temps := NewTempDirs(filepath.Join(t.TempDir(), "work"), nil)

	first, err := temps.Create()
	require.NoError(t, err)
	second, err := temps.Create()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(filepath.Base(first), "av1_"))

	require.NoError(t, temps.Remove(first))
	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(second)
	assert.NoError(t, err, "removing one dir must not affect another")

	assert.Error(t, temps.Remove(t.TempDir()))
	assert.Error(t, temps.Remove(temps.Root()))
	assert.NoError(t, temps.Remove(""))
}

func TestTempDirsCleanup(t *testing.T) {
	temps := NewTempDirs(t.TempDir(), nil)

	stale, err := temps.Create()
	require.NoError(t, err)
	fresh, err := temps.Create()
	require.NoError(t, err)
	other := filepath.Join(temps.Root(), "keep-me")
	require.NoError(t, os.Mkdir(other, 0o755))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	removed, err := temps.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, removed)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(other)
	assert.NoError(t, err)
}

func TestTempDirsCleanupMissingRoot(t *testing.T) {
	temps := NewTempDirs(filepath.Join(t.TempDir(), "never-created"), nil)
	removed, err := temps.Cleanup(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

type objectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
	fails   int
}

func newObjectStore() *objectStore {
	return &objectStore{objects: map[string][]byte{}, headers: map[string]http.Header{}}
}

func (s *objectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		data, ok := s.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodPut:
		if s.fails > 0 {
			s.fails--
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		data, _ := io.ReadAll(r.Body)
		s.objects[r.URL.Path] = data
		s.headers[r.URL.Path] = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if _, ok := s.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestHTTPDisk(t *testing.T, store *objectStore) *HTTPDisk {
	t.Helper()
	server := httptest.NewServer(store)
	t.Cleanup(server.Close)

	disk := NewHTTPDisk("remote", server.URL+"/bucket/", HTTPOptions{
		Headers: map[string]string{"Authorization": "Bearer token"},
	})
	disk.client.RetryWaitMin = time.Millisecond
	disk.client.RetryWaitMax = 5 * time.Millisecond
	return disk
}

func TestHTTPDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newObjectStore()
	disk := newTestHTTPDisk(t, store)

	ok, err := disk.Exists(ctx, "out.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	err = disk.Write(ctx, "out.mp4", bytes.NewReader([]byte("av1")), WriteOptions{Visibility: VisibilityPublic, ContentType: "video/mp4"})
	require.NoError(t, err)

	h := store.headers["/bucket/out.mp4"]
	assert.Equal(t, "public-read", h.Get("x-amz-acl"))
	assert.Equal(t, "video/mp4", h.Get("Content-Type"))
	assert.Equal(t, "Bearer token", h.Get("Authorization"))

	ok, err = disk.Exists(ctx, "out.mp4")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := disk.Open(ctx, "out.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "av1", string(data))

	require.NoError(t, disk.Delete(ctx, "out.mp4"))
	require.NoError(t, disk.Delete(ctx, "out.mp4"))

	_, err = disk.Open(ctx, "out.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = disk.LocalPath("out.mp4")
	assert.ErrorIs(t, err, ErrNotLocal)
}

func TestHTTPDiskRetriesSeekableWrite(t *testing.T) {
	store := newObjectStore()
	store.fails = 2
	disk := newTestHTTPDisk(t, store)

	err := disk.Write(context.Background(), "retry.mp4", strings.NewReader("payload"), WriteOptions{Visibility: VisibilityPrivate})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(store.objects["/bucket/retry.mp4"]))
	assert.Equal(t, "private", store.headers["/bucket/retry.mp4"].Get("x-amz-acl"))
}

func TestHTTPDiskStreamingWriteIsNotRetried(t *testing.T) {
	store := newObjectStore()
	store.fails = 1
	disk := newTestHTTPDisk(t, store)

	err := disk.Write(context.Background(), "once.mp4", io.MultiReader(strings.NewReader("x")), WriteOptions{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestMediaMaterializeFromHTTPDisk(t *testing.T) {
	store := newObjectStore()
	store.objects["/bucket/source.mov"] = []byte("remote-bytes")
	disk := newTestHTTPDisk(t, store)

	m := NewMedia(disk, "source.mov", NewTempDirs(t.TempDir(), nil))
	local, err := m.MaterializeLocal(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Release() })

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "remote-bytes", string(data))
}
