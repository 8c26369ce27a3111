package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-chunkupload/upload/source"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestDirIndex_List(t *testing.T) {
	root := t.TempDir()
	now := time.Now().Truncate(time.Second)
	writeFile(t, filepath.Join(root, "old.jpg"), 10, now.Add(-2*time.Hour))
	writeFile(t, filepath.Join(root, "DCIM", "Camera", "new.PNG"), 20, now)
	writeFile(t, filepath.Join(root, "DCIM", "clip.mp4"), 30, now.Add(-time.Hour))
	writeFile(t, filepath.Join(root, "notes.txt"), 5, now)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "folder.jpg"), 0o755))

	index, err := NewDirIndex(root, log.NewLogger())
	require.NoError(t, err)

	items, err := index.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "new.PNG", items[0].DisplayName)
	assert.Equal(t, "clip.mp4", items[1].DisplayName)
	assert.Equal(t, "old.jpg", items[2].DisplayName)

	assert.Equal(t, int64(20), items[0].SizeBytes)
	assert.True(t, items[0].DateAdded.Equal(now))
	assert.Equal(t, source.FileHandle(filepath.Join(index.Root(), "DCIM", "Camera", "new.PNG")), items[0].URI)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.Positive(t, items[0].ID)
}

func TestDirIndex_CustomPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.raw"), 1, time.Now())
	writeFile(t, filepath.Join(root, "b.jpg"), 1, time.Now())

	index, err := NewDirIndex(root, log.NewLogger(), "*.raw", "**/*.raw")
	require.NoError(t, err)

	items, err := index.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.raw", items[0].DisplayName)
}

func TestDirIndex_ItemsOpenWithFileOpener(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), 42, time.Now())

	index, err := NewDirIndex(root, log.NewLogger())
	require.NoError(t, err)
	items, err := index.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	rc, size, err := source.FileOpener{}.Open(context.Background(), items[0].URI)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	assert.Equal(t, int64(42), size)
}

func TestNewDirIndex_Validation(t *testing.T) {
	root := t.TempDir()

	_, err := NewDirIndex(filepath.Join(root, "missing"), log.NewLogger())
	assert.Error(t, err)

	file := filepath.Join(root, "file.jpg")
	writeFile(t, file, 1, time.Now())
	_, err = NewDirIndex(file, log.NewLogger())
	assert.Error(t, err)

	_, err = NewDirIndex(root, log.NewLogger(), "[")
	assert.Error(t, err)
}
