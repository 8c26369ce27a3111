package rtdb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/sink/codec"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

type fakeDatabase struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (d *fakeDatabase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	d.mu.Lock()
	d.requests = append(d.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.URL.Query().Get("auth"),
		Body:   string(body),
	})
	status := d.status
	d.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"error":"Permission denied"}`, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func newTestSink(t *testing.T, db *fakeDatabase, config Config) *Sink {
	t.Helper()
	server := httptest.NewServer(db)
	t.Cleanup(server.Close)

	client := retryhttp.NewClient(log.NewLogger())
	client.RetryMax = 0

	config.BaseURL = server.URL
	sink, err := New(client, config, log.NewLogger())
	require.NoError(t, err)
	return sink
}

func TestSink_WritesTreeLayout(t *testing.T) {
	db := &fakeDatabase{}
	sink := newTestSink(t, db, Config{AuthToken: "secret"})
	ctx := context.Background()
	ref := upload.ObjectRef{Key: "k1", Item: "file:///DCIM/a.jpg"}

	require.NoError(t, sink.WriteMetadata(ctx, ref, upload.Metadata{Caption: "trip", Tags: []string{"beach"}}))
	require.NoError(t, sink.WriteChunk(ctx, ref, 0, []byte("hello")))
	require.NoError(t, sink.WriteChunk(ctx, ref, 1, []byte("world")))
	require.NoError(t, sink.WriteTerminalMarker(ctx, ref))

	require.Len(t, db.requests, 4)
	for _, r := range db.requests {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "secret", r.Auth)
	}

	assert.Equal(t, "/uploads/k1/meta.json", db.requests[0].Path)
	var meta metaDocument
	require.NoError(t, json.Unmarshal([]byte(db.requests[0].Body), &meta))
	assert.Equal(t, metaDocument{URI: "file:///DCIM/a.jpg", Caption: "trip", Tags: []string{"beach"}}, meta)

	assert.Equal(t, "/uploads/k1/chunks/0.json", db.requests[1].Path)
	assert.Equal(t, `"aGVsbG8="`, db.requests[1].Body)
	assert.Equal(t, "/uploads/k1/chunks/1.json", db.requests[2].Path)

	assert.Equal(t, "/uploads/k1/status.json", db.requests[3].Path)
	assert.Equal(t, `"complete"`, db.requests[3].Body)
}

func TestSink_EmptyTagsAreWrittenAsArray(t *testing.T) {
	db := &fakeDatabase{}
	sink := newTestSink(t, db, Config{Root: "gallery"})

	ref := upload.ObjectRef{Key: "k2", Item: "b"}
	require.NoError(t, sink.WriteMetadata(context.Background(), ref, upload.Metadata{}))

	require.Len(t, db.requests, 1)
	assert.Equal(t, "/gallery/k2/meta.json", db.requests[0].Path)
	assert.JSONEq(t, `{"uri":"b","caption":"","tags":[]}`, db.requests[0].Body)
	assert.Empty(t, db.requests[0].Auth)
}

func TestSink_CompressedChunks(t *testing.T) {
	z, err := codec.NewZstd(zstd.SpeedFastest)
	require.NoError(t, err)
	defer func() { _ = z.Close() }()

	db := &fakeDatabase{}
	sink := newTestSink(t, db, Config{Compression: z})

	payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, sink.WriteChunk(context.Background(), upload.ObjectRef{Key: "k", Item: "a"}, 0, payload))

	var encoded string
	require.NoError(t, json.Unmarshal([]byte(db.requests[0].Body), &encoded))
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw, err := z.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, raw)
}

func TestSink_ClassifiesRejections(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRejected  bool
		wantPermanent bool
	}{
		{name: "forbidden", status: http.StatusForbidden, wantRejected: true, wantPermanent: true},
		{name: "too large", status: http.StatusRequestEntityTooLarge, wantRejected: true, wantPermanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantPermanent: false},
		{name: "server error", status: http.StatusServiceUnavailable, wantPermanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newTestSink(t, &fakeDatabase{status: tt.status}, Config{})

			err := sink.WriteTerminalMarker(context.Background(), upload.ObjectRef{Key: "k", Item: "a"})
			require.Error(t, err)
			if tt.wantRejected {
				assert.True(t, errors.Is(err, upload.ErrSinkRejected))
				assert.Contains(t, err.Error(), "Permission denied")
			}
			assert.Equal(t, tt.wantPermanent, upload.IsPermanent(err))
		})
	}
}

func TestNew_ValidatesURL(t *testing.T) {
	client := retryhttp.NewClient(log.NewLogger())

	_, err := New(client, Config{}, log.NewLogger())
	assert.Error(t, err)

	_, err = New(client, Config{BaseURL: "ftp://db"}, log.NewLogger())
	assert.Error(t, err)

	sink, err := New(client, Config{BaseURL: "https://db.example.com/"}, log.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://db.example.com/uploads/k/chunks/3.json", sink.endpoint("k", "chunks", "3"))
}

func TestSink_RedactsAuthInTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := retryhttp.NewClient(log.NewLogger())
	client.RetryMax = 0
	sink, err := New(client, Config{BaseURL: server.URL, AuthToken: "tok+1"}, log.NewLogger())
	require.NoError(t, err)

	err = sink.WriteTerminalMarker(context.Background(), upload.ObjectRef{Key: "k", Item: "file:///a.jpg"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "tok")
	assert.Contains(t, err.Error(), "auth=[REDACTED]")
}
