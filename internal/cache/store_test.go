package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetchDownloadsOnceForIdentifier(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.payloads["https://cdn.example.com/a.mp4"] = []byte("clip-a")
	store := newTestStore(t, downloader, Options{})

	first, err := store.Fetch(context.Background(), "https://cdn.example.com/a.mp4", "clip-a")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	second, err := store.Fetch(context.Background(), "https://cdn.example.com/a.mp4", "clip-a")
	if err != nil {
		t.Fatalf("second fetch error: %v", err)
	}
	if first != second {
		t.Fatalf("hit should return the same path: %s != %s", first, second)
	}
	if downloader.calls["https://cdn.example.com/a.mp4"] != 1 {
		t.Fatalf("expected exactly one download, got %d", downloader.calls["https://cdn.example.com/a.mp4"])
	}

	body, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read cached file error: %v", err)
	}
	if !bytes.Equal(body, []byte("clip-a")) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
}

func TestFetchFailureLeavesNoEntry(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.err = errors.New("connection refused")
	store := newTestStore(t, downloader, Options{})

	_, err := store.Fetch(context.Background(), "https://cdn.example.com/a.mp4", "clip-a")
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	if !errors.Is(err, ErrRemoteFetch) {
		t.Fatalf("expected ErrRemoteFetch, got %v", err)
	}

	exists, err := store.Contains(context.Background(), "clip-a")
	if err != nil {
		t.Fatalf("contains error: %v", err)
	}
	if exists {
		t.Fatalf("failed fetch must not leave a file under the final name")
	}
}

func TestFetchReplacesNonFileEntry(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.payloads["https://cdn.example.com/a.mp4"] = []byte("fresh")
	store := newTestStore(t, downloader, Options{})

	fs := store.(*fileStore)
	entryPath, err := fs.entryPath("clip-a")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.Mkdir(entryPath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	path, err := store.Fetch(context.Background(), "https://cdn.example.com/a.mp4", "clip-a")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	body, _ := os.ReadFile(path)
	if string(body) != "fresh" {
		t.Fatalf("stale entry should be replaced, got %s", string(body))
	}
}

func TestFetchRejectsInvalidIdentifier(t *testing.T) {
	store := newTestStore(t, newFakeDownloader(), Options{})

	for _, id := range []string{"", "   ", "...", "."} {
		if _, err := store.Fetch(context.Background(), "https://cdn.example.com/a.mp4", id); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("identifier %q: expected ErrInvalidIdentifier, got %v", id, err)
		}
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{"clip-123", "clip-123"},
		{"user/42/clip", "user_42_clip"},
		{"..hidden", "hidden"},
		{"a b c", "a_b_c"},
	}

	for _, tc := range testCases {
		name, err := sanitizeIdentifier(tc.raw)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.raw, err)
		}
		if name != tc.expected {
			t.Fatalf("%q: expected %q, got %q", tc.raw, tc.expected, name)
		}
	}
}

func TestEvictionRemovesOldestFirst(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.defaultBody = bytes.Repeat([]byte("x"), 400)
	store := newTestStore(t, downloader, Options{MaxSizeBytes: 1000, CleanupRatio: 0.8})

	pathA := mustFetch(t, store, "https://cdn.example.com/a.mp4", "clip-a")
	backdate(t, pathA, -2*time.Hour)
	pathB := mustFetch(t, store, "https://cdn.example.com/b.mp4", "clip-b")
	backdate(t, pathB, -time.Hour)

	// Third 400-byte asset pushes the total to 1200 > 1000 and triggers a sweep.
	mustFetch(t, store, "https://cdn.example.com/c.mp4", "clip-c")

	size, err := store.SizeOnDisk(context.Background())
	if err != nil {
		t.Fatalf("size error: %v", err)
	}
	if size != 800 {
		t.Fatalf("expected 800 bytes after sweep, got %d", size)
	}

	stats, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if stats.FileCount != 2 {
		t.Fatalf("expected the two most recent files, got %d", stats.FileCount)
	}

	if exists, _ := store.Contains(context.Background(), "clip-a"); exists {
		t.Fatalf("oldest entry should be evicted first")
	}
	for _, id := range []string{"clip-b", "clip-c"} {
		if exists, _ := store.Contains(context.Background(), id); !exists {
			t.Fatalf("entry %s should survive the sweep", id)
		}
	}
}

func TestEvictionContinuesToTarget(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.defaultBody = bytes.Repeat([]byte("x"), 400)
	store := newTestStore(t, downloader, Options{MaxSizeBytes: 1000, CleanupRatio: 0.5})

	pathA := mustFetch(t, store, "https://cdn.example.com/a.mp4", "clip-a")
	backdate(t, pathA, -3*time.Hour)
	pathB := mustFetch(t, store, "https://cdn.example.com/b.mp4", "clip-b")
	backdate(t, pathB, -2*time.Hour)
	mustFetch(t, store, "https://cdn.example.com/c.mp4", "clip-c")

	// Target is 500, so both older entries must go, in creation order.
	size, err := store.SizeOnDisk(context.Background())
	if err != nil {
		t.Fatalf("size error: %v", err)
	}
	if size != 400 {
		t.Fatalf("expected 400 bytes after sweep, got %d", size)
	}
	if exists, _ := store.Contains(context.Background(), "clip-c"); !exists {
		t.Fatalf("newest entry must never be evicted before older ones")
	}
}

func TestSizeStaysBoundedAcrossFetches(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.defaultBody = bytes.Repeat([]byte("x"), 300)
	store := newTestStore(t, downloader, Options{MaxSizeBytes: 1000, CleanupRatio: 0.75})

	urls := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for i, u := range urls {
		path := mustFetch(t, store, "https://cdn.example.com/"+u, u)
		backdate(t, path, -time.Duration(len(urls)-i)*time.Minute)

		size, err := store.SizeOnDisk(context.Background())
		if err != nil {
			t.Fatalf("size error: %v", err)
		}
		if size > 1000 {
			t.Fatalf("size %d exceeds the maximum after fetch %s", size, u)
		}
	}
}

func TestClearContinuesPastFailures(t *testing.T) {
	downloader := newFakeDownloader()
	store := newTestStore(t, downloader, Options{})

	for _, id := range []string{"clip-a", "clip-b", "clip-c", "clip-d"} {
		mustFetch(t, store, "https://cdn.example.com/"+id, id)
	}

	// A non-empty subdirectory cannot be removed with a plain remove call and
	// stands in for an undeletable entry.
	fs := store.(*fileStore)
	nested := filepath.Join(fs.basePath, "stuck")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "pin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	err := store.Clear(context.Background())
	if err == nil {
		t.Fatalf("expected partial failure to be reported")
	}
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}

	stats, statsErr := store.Snapshot(context.Background())
	if statsErr != nil {
		t.Fatalf("snapshot error: %v", statsErr)
	}
	if stats.FileCount != 0 || stats.TotalSizeBytes != 0 {
		t.Fatalf("deletable entries should all be gone, got %+v", stats)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	downloader := newFakeDownloader()
	store := newTestStore(t, downloader, Options{})

	for _, id := range []string{"clip-a", "clip-b"} {
		mustFetch(t, store, "https://cdn.example.com/"+id, id)
	}

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}

	size, err := store.SizeOnDisk(context.Background())
	if err != nil {
		t.Fatalf("size error: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected empty cache, got %d bytes", size)
	}
}

func TestSnapshotReflectsDirectory(t *testing.T) {
	downloader := newFakeDownloader()
	downloader.defaultBody = []byte("12345")
	store := newTestStore(t, downloader, Options{})

	mustFetch(t, store, "https://cdn.example.com/a", "clip-a")
	mustFetch(t, store, "https://cdn.example.com/b", "clip-b")

	stats, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if stats.FileCount != 2 {
		t.Fatalf("expected 2 files, got %d", stats.FileCount)
	}
	if stats.TotalSizeBytes != 10 {
		t.Fatalf("expected 10 bytes, got %d", stats.TotalSizeBytes)
	}
}

// fakeDownloader writes canned payloads into the target directory the same
// way the HTTP fetcher does, and counts downloads per URL.
type fakeDownloader struct {
	payloads    map[string][]byte
	calls       map[string]int
	defaultBody []byte
	err         error
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		payloads:    map[string][]byte{},
		calls:       map[string]int{},
		defaultBody: []byte("payload"),
	}
}

func (f *fakeDownloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls[rawURL]++

	body, ok := f.payloads[rawURL]
	if !ok {
		body = f.defaultBody
	}

	tempFile, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tempFile, bytes.NewReader(body)); err != nil {
		tempFile.Close()
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		return "", err
	}
	return tempFile.Name(), nil
}

func newTestStore(t *testing.T, downloader Downloader, opts Options) Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), downloader, opts)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustFetch(t *testing.T, store Store, rawURL, identifier string) string {
	t.Helper()
	path, err := store.Fetch(context.Background(), rawURL, identifier)
	if err != nil {
		t.Fatalf("fetch %s error: %v", identifier, err)
	}
	return path
}

func backdate(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	when := time.Now().Add(offset)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("chtimes error: %v", err)
	}
}
