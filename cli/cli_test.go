package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRepository map[string]string

func (r mapRepository) List() []string {
	var envs []string
	for k, v := range r {
		envs = append(envs, k+"="+v)
	}
	return envs
}

func (r mapRepository) Unset(key string) error {
	delete(r, key)
	return nil
}

func (r mapRepository) Get(key string) string {
	return r[key]
}

func (r mapRepository) Set(key, value string) error {
	r[key] = value
	return nil
}

func run(t *testing.T, repository mapRepository, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand(repository, log.NewLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x5a}, size), 0o644))
}

func testEnv(t *testing.T, backend string) mapRepository {
	stateFile := "pending.json"
	if backend == "sqlite" {
		stateFile = "state.db"
	}
	return mapRepository{
		"GALLERY_UPLOAD_STATE_BACKEND": backend,
		"GALLERY_UPLOAD_STATE_PATH":    filepath.Join(t.TempDir(), "state", stateFile),
		"GALLERY_UPLOAD_MAX_RETRIES":   "0",
		"GALLERY_UPLOAD_SINK":          "memory",
	}
}

func TestUpload_Succeeds(t *testing.T) {
	repository := testEnv(t, "file")
	dir := t.TempDir()
	first := filepath.Join(dir, "a.jpg")
	second := filepath.Join(dir, "b.png")
	writeFile(t, first, 300000)
	writeFile(t, second, 10)

	_, err := run(t, repository, "upload", first, second, "--caption", "trip", "--tag", "beach", "--tag", "sea")
	require.NoError(t, err)

	out, err := run(t, repository, "pending")
	require.NoError(t, err)
	assert.Equal(t, "No pending uploads\n", out)
}

func TestUpload_FailedItemStaysPendingUntilResumed(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			repository := testEnv(t, backend)
			path := filepath.Join(t.TempDir(), "later.jpg")

			_, err := run(t, repository, "upload", path, "--caption", "trip", "--tag", "beach")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "1 of 1 upload(s) did not finish")

			out, err := run(t, repository, "pending")
			require.NoError(t, err)
			assert.Contains(t, out, "later.jpg")
			assert.Contains(t, out, `caption="trip"`)
			assert.Contains(t, out, "tags=[beach]")

			writeFile(t, path, 200000)
			_, err = run(t, repository, "resume")
			require.NoError(t, err)

			out, err = run(t, repository, "pending")
			require.NoError(t, err)
			assert.Equal(t, "No pending uploads\n", out)
		})
	}
}

func TestUpload_KeepsEarlierPendingItems(t *testing.T) {
	repository := testEnv(t, "file")
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.jpg")
	present := filepath.Join(dir, "present.jpg")
	writeFile(t, present, 1000)

	_, err := run(t, repository, "upload", missing, "--caption", "first")
	require.Error(t, err)

	_, err = run(t, repository, "upload", present, "--caption", "second")
	require.NoError(t, err)

	out, err := run(t, repository, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "missing.jpg")
	assert.NotContains(t, out, "present.jpg")
}

func TestPending_Clear(t *testing.T) {
	repository := testEnv(t, "file")
	_, err := run(t, repository, "upload", filepath.Join(t.TempDir(), "gone.jpg"))
	require.Error(t, err)

	_, err = run(t, repository, "pending", "--clear")
	require.NoError(t, err)

	out, err := run(t, repository, "pending")
	require.NoError(t, err)
	assert.Equal(t, "No pending uploads\n", out)
}

func TestCorruptStateFileIsRecovered(t *testing.T) {
	repository := testEnv(t, "file")
	statePath := repository["GALLERY_UPLOAD_STATE_PATH"]
	require.NoError(t, os.MkdirAll(filepath.Dir(statePath), 0o755))
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o600))

	out, err := run(t, repository, "resume")
	require.NoError(t, err)
	assert.Equal(t, "No pending uploads\n", out)

	path := filepath.Join(t.TempDir(), "a.jpg")
	writeFile(t, path, 1000)
	_, err = run(t, repository, "upload", path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o600))
	_, err = run(t, repository, "pending", "--clear")
	require.NoError(t, err)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	out, err = run(t, repository, "pending")
	require.NoError(t, err)
	assert.Equal(t, "No pending uploads\n", out)
}

func TestResume_NothingPending(t *testing.T) {
	out, err := run(t, testEnv(t, "file"), "resume")
	require.NoError(t, err)
	assert.Equal(t, "No pending uploads\n", out)
}

func TestUpload_NothingToUpload(t *testing.T) {
	_, err := run(t, testEnv(t, "file"), "upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to upload")
}

func TestUpload_All(t *testing.T) {
	repository := testEnv(t, "file")
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2024", "a.jpg"), 100)
	writeFile(t, filepath.Join(root, "b.mov"), 100)
	writeFile(t, filepath.Join(root, "notes.txt"), 100)
	repository["GALLERY_UPLOAD_MEDIA_ROOT"] = root

	_, err := run(t, repository, "upload", "--all")
	require.NoError(t, err)
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), 2048)
	writeFile(t, filepath.Join(root, "nested", "b.PNG"), 1024)
	writeFile(t, filepath.Join(root, "notes.txt"), 10)

	out, err := run(t, testEnv(t, "file"), "scan", root)
	require.NoError(t, err)
	assert.Contains(t, out, "a.jpg")
	assert.Contains(t, out, "b.PNG")
	assert.NotContains(t, out, "notes.txt")
	assert.Contains(t, out, "2 item(s)")
}

func TestScan_Empty(t *testing.T) {
	out, err := run(t, testEnv(t, "file"), "scan", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No media found")
}

func TestGlobalFlags_OverrideEnv(t *testing.T) {
	_, err := run(t, testEnv(t, "file"), "--sink", "ftp", "pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sink "ftp"`)

	repository := testEnv(t, "file")
	repository["GALLERY_UPLOAD_SINK"] = "ftp"
	_, err = run(t, repository, "--sink", "memory", "pending")
	require.NoError(t, err)
}

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		name     string
		progress upload.Progress
		want     string
	}{
		{
			name:     "in progress",
			progress: upload.Progress{Fraction: 0.5, BytesSent: 1024, TotalBytes: 2048},
			want:     " 50% (1KiB / 2KiB)",
		},
		{
			name:     "unknown size",
			progress: upload.Progress{BytesSent: 1024, TotalBytes: upload.UnknownSize},
			want:     "1KiB sent",
		},
		{
			name:     "completed",
			progress: upload.Progress{Fraction: 1, BytesSent: 2048, TotalBytes: 2048, Completed: true},
			want:     "done (2KiB)",
		},
		{
			name:     "failed",
			progress: upload.Progress{ErrorMessage: "boom"},
			want:     "failed: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatProgress(tt.progress))
		})
	}
}
