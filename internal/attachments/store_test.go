package attachments

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := New(t.TempDir(), logger)
	require.NoError(t, err)
	store.now = func() time.Time {
		return time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	}
	return store
}

func TestSave_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	data := []byte("%PDF-1.4 fake invoice content")

	ref, err := store.Save(data, "invoice.pdf", "Tenant@Example.com", "abcdef0123456789", "att-12345678-extra", "application/pdf", int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, "invoice.pdf", ref.Filename)
	assert.Equal(t, "invoice_att-1234.pdf", ref.SafeFilename)
	assert.Equal(t, int64(len(data)), ref.Size)
	assert.Equal(t, "application/pdf", ref.MimeType)

	// Layout: sanitized lowercase sender / yyyy-mm / first 12 id chars / safe name.
	assert.Equal(t, filepath.Join("tenant_example.com", "2025-03", "abcdef012345", "invoice_att-1234.pdf"), ref.StoragePath)

	saved, err := os.ReadFile(store.Path(ref.StoragePath))
	require.NoError(t, err)
	assert.Equal(t, data, saved)
	assert.True(t, store.Exists(ref.StoragePath))

	// No temp file left behind.
	_, err = os.Stat(store.Path(ref.StoragePath) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSave_RejectsOversized(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save([]byte("x"), "huge.zip", "a@b.com", "msg1", "att1", "application/zip", 60*1024*1024)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "too large")
}

func TestSave_RejectsInvalidSize(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(nil, "empty.txt", "a@b.com", "msg1", "att1", "text/plain", 0)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestSave_RejectsBlockedExtensions(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"virus.exe", "script.vbs", "payload.JaR"} {
		_, err := store.Save([]byte("data"), name, "a@b.com", "msg1", "att1", "application/octet-stream", 4)
		require.Error(t, err, name)
		assert.True(t, IsValidation(err), name)
		assert.Contains(t, err.Error(), "not allowed")
	}
}

func TestSave_RejectsBadFilename(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save([]byte("data"), "", "a@b.com", "msg1", "att1", "text/plain", 4)
	assert.True(t, IsValidation(err))

	_, err = store.Save([]byte("data"), strings.Repeat("a", 300)+".txt", "a@b.com", "msg1", "att1", "text/plain", 4)
	assert.True(t, IsValidation(err))
}

func TestSave_SizeMismatchFails(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save([]byte("short"), "doc.txt", "a@b.com", "msg1", "att1", "text/plain", 100)
	require.Error(t, err)
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "write verification failed")
}

func TestSave_SanitizesUnsafeFilename(t *testing.T) {
	store := newTestStore(t)
	data := []byte("content")

	ref, err := store.Save(data, `lease<v2>:final?.txt`, "a@b.com", "msg1", "attXYZ", "text/plain", int64(len(data)))
	require.NoError(t, err)
	assert.NotContains(t, ref.SafeFilename, "<")
	assert.NotContains(t, ref.SafeFilename, "?")
	assert.True(t, store.Exists(ref.StoragePath))
}

func TestSave_SameNameDistinctAttachments(t *testing.T) {
	store := newTestStore(t)
	data := []byte("photo bytes")

	a, err := store.Save(data, "photo.jpg", "a@b.com", "msg1", "attachment-aaaa", "image/jpeg", int64(len(data)))
	require.NoError(t, err)
	b, err := store.Save(data, "photo.jpg", "a@b.com", "msg1", "attachment-bbbb", "image/jpeg", int64(len(data)))
	require.NoError(t, err)

	assert.NotEqual(t, a.StoragePath, b.StoragePath)
	assert.True(t, store.Exists(a.StoragePath))
	assert.True(t, store.Exists(b.StoragePath))
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	data := []byte("0123456789")

	_, err := store.Save(data, "a.txt", "a@b.com", "msg1", "att1", "text/plain", int64(len(data)))
	require.NoError(t, err)
	_, err = store.Save(data, "b.txt", "a@b.com", "msg2", "att2", "text/plain", int64(len(data)))
	require.NoError(t, err)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, int64(20), stats.TotalBytes)
}

func TestCleanupOlderThan(t *testing.T) {
	store := newTestStore(t)
	data := []byte("old enough")

	ref, err := store.Save(data, "old.txt", "a@b.com", "msg1", "att1", "text/plain", int64(len(data)))
	require.NoError(t, err)

	// Age the file on disk, then advance the store clock past the cutoff.
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path(ref.StoragePath), past, past))
	store.now = time.Now

	report, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovedFiles)
	assert.Equal(t, int64(len(data)), report.FreedBytes)
	assert.False(t, store.Exists(ref.StoragePath))

	// Empty parent directories are pruned too.
	entries, err := os.ReadDir(store.BaseDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
