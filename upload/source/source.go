// Package source opens read-only byte streams over item handles.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// FileOpener opens `file://` URIs and plain filesystem paths.
type FileOpener struct{}

// Open ...
func (FileOpener) Open(_ context.Context, item upload.Handle) (io.ReadCloser, int64, error) {
	path, err := FilePath(item)
	if err != nil {
		return nil, upload.UnknownSize, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, upload.UnknownSize, fmt.Errorf("%w: open %s: %s", upload.ErrSourceUnavailable, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, upload.UnknownSize, fmt.Errorf("%w: stat %s: %s", upload.ErrSourceUnavailable, path, err)
	}
	if info.IsDir() {
		file.Close() //nolint:errcheck
		return nil, upload.UnknownSize, fmt.Errorf("%w: %w: %s is a directory", upload.ErrSourceUnavailable, upload.ErrPermanent, path)
	}

	size := upload.UnknownSize
	if info.Mode().IsRegular() {
		size = info.Size()
	}
	return file, size, nil
}

// FilePath resolves a handle to a local path.
func FilePath(item upload.Handle) (string, error) {
	raw := string(item)
	if !strings.HasPrefix(raw, "file:") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w: parse %s: %s", upload.ErrSourceUnavailable, upload.ErrPermanent, raw, err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: %w: %s has no path", upload.ErrSourceUnavailable, upload.ErrPermanent, raw)
	}
	return u.Path, nil
}

// FileHandle builds the canonical handle of a local absolute path.
func FileHandle(absPath string) upload.Handle {
	u := url.URL{Scheme: "file", Path: absPath}
	return upload.Handle(u.String())
}

// HTTPOpener streams `http://` and `https://` handles.
type HTTPOpener struct {
	client *retryablehttp.Client
	logger log.Logger
}

// NewHTTPOpener ...
func NewHTTPOpener(client *retryablehttp.Client, logger log.Logger) *HTTPOpener {
	return &HTTPOpener{client: client, logger: logger}
}

// Open ...
func (o *HTTPOpener) Open(ctx context.Context, item upload.Handle) (io.ReadCloser, int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, string(item), nil)
	if err != nil {
		return nil, upload.UnknownSize, fmt.Errorf("%w: create request: %s", upload.ErrSourceUnavailable, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, upload.UnknownSize, fmt.Errorf("%w: get %s: %s", upload.ErrSourceUnavailable, item, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err := resp.Body.Close(); err != nil {
			o.logger.Warnf("Failed to close response body: %s", err)
		}
		return nil, upload.UnknownSize, fmt.Errorf("%w: get %s: HTTP %d: %s", upload.ErrSourceUnavailable, item, resp.StatusCode, body)
	}

	size := upload.UnknownSize
	if resp.ContentLength >= 0 {
		size = resp.ContentLength
	}
	o.logger.Debugf("Opened %s (%d bytes)", item, size)
	return resp.Body, size, nil
}

// Mux dispatches to an Opener by the handle's URI scheme.
// Handles without a registered scheme go to the fallback.
type Mux struct {
	schemes  map[string]upload.Opener
	fallback upload.Opener
}

// NewMux ...
func NewMux(fallback upload.Opener) *Mux {
	return &Mux{schemes: map[string]upload.Opener{}, fallback: fallback}
}

// Handle registers opener for scheme.
func (m *Mux) Handle(scheme string, opener upload.Opener) {
	m.schemes[strings.ToLower(scheme)] = opener
}

// Open ...
func (m *Mux) Open(ctx context.Context, item upload.Handle) (io.ReadCloser, int64, error) {
	if scheme, _, ok := strings.Cut(string(item), "://"); ok {
		if opener, found := m.schemes[strings.ToLower(scheme)]; found {
			return opener.Open(ctx, item)
		}
	}
	if m.fallback == nil {
		return nil, upload.UnknownSize, fmt.Errorf("%w: %w: no opener for %s", upload.ErrSourceUnavailable, upload.ErrPermanent, item)
	}
	return m.fallback.Open(ctx, item)
}

// NewDefaultMux serves file handles and plain paths from disk and http(s) handles over the network.
func NewDefaultMux(client *retryablehttp.Client, logger log.Logger) *Mux {
	files := FileOpener{}
	mux := NewMux(files)
	mux.Handle("file", files)
	httpOpener := NewHTTPOpener(client, logger)
	mux.Handle("http", httpOpener)
	mux.Handle("https", httpOpener)
	return mux
}
