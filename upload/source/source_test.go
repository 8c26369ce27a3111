package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOpener_OpensPathAndFileURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo 1.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0600))

	for _, handle := range []upload.Handle{upload.Handle(path), FileHandle(path)} {
		t.Run(string(handle), func(t *testing.T) {
			rc, size, err := FileOpener{}.Open(context.Background(), handle)
			require.NoError(t, err)
			defer rc.Close()

			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "jpeg-bytes", string(data))
			assert.Equal(t, int64(10), size)
		})
	}
}

func TestFileOpener_MissingFileIsSourceUnavailable(t *testing.T) {
	_, _, err := FileOpener{}.Open(context.Background(), upload.Handle(filepath.Join(t.TempDir(), "gone.jpg")))
	assert.ErrorIs(t, err, upload.ErrSourceUnavailable)
	assert.False(t, upload.IsPermanent(err))
}

func TestFileOpener_DirectoryIsSourceUnavailable(t *testing.T) {
	_, _, err := FileOpener{}.Open(context.Background(), upload.Handle(t.TempDir()))
	assert.ErrorIs(t, err, upload.ErrSourceUnavailable)
	assert.True(t, upload.IsPermanent(err))
}

func TestHTTPOpener(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	logger := log.NewLogger()
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	opener := NewHTTPOpener(client, logger)

	rc, size, err := opener.Open(context.Background(), upload.Handle(server.URL+"/photo.jpg"))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), size)

	_, _, err = opener.Open(context.Background(), upload.Handle(server.URL+"/missing"))
	assert.ErrorIs(t, err, upload.ErrSourceUnavailable)
	assert.False(t, upload.IsPermanent(err))
}

type recordingOpener struct {
	opened []upload.Handle
}

func (o *recordingOpener) Open(_ context.Context, item upload.Handle) (io.ReadCloser, int64, error) {
	o.opened = append(o.opened, item)
	return io.NopCloser(nil), 0, nil
}

func TestMux_DispatchesByScheme(t *testing.T) {
	fallback := &recordingOpener{}
	content := &recordingOpener{}
	mux := NewMux(fallback)
	mux.Handle("content", content)

	_, _, err := mux.Open(context.Background(), "content://media/external/images/1")
	require.NoError(t, err)
	_, _, err = mux.Open(context.Background(), "/sdcard/DCIM/a.jpg")
	require.NoError(t, err)
	_, _, err = mux.Open(context.Background(), "CONTENT://media/2")
	require.NoError(t, err)

	assert.Equal(t, []upload.Handle{"content://media/external/images/1", "CONTENT://media/2"}, content.opened)
	assert.Equal(t, []upload.Handle{"/sdcard/DCIM/a.jpg"}, fallback.opened)
}

func TestMux_WithoutFallback(t *testing.T) {
	mux := NewMux(nil)
	_, _, err := mux.Open(context.Background(), "ftp://host/a.jpg")
	assert.ErrorIs(t, err, upload.ErrSourceUnavailable)
	assert.True(t, upload.IsPermanent(err))
}
