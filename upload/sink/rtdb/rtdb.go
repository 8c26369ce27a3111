// Package rtdb stores uploads in a Realtime-Database style JSON tree over its REST API.
//
// Every attempt is written under {root}/{key}:
//
//	meta            {"uri": ..., "caption": ..., "tags": [...]}
//	chunks/{index}  base64 string of the (optionally compressed) chunk
//	status          "complete"
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/sink/codec"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultRoot is the tree node all uploads are written under.
const DefaultRoot = "uploads"

// StatusComplete is written as the terminal marker.
const StatusComplete = "complete"

// Config ...
type Config struct {
	// BaseURL of the database, e.g. https://example-default-rtdb.firebaseio.com
	BaseURL string
	// Root node. Default: uploads
	Root string
	// AuthToken is sent as the `auth` query parameter when set.
	AuthToken string
	// Compression is applied to chunk payloads before base64 encoding. Default: none
	Compression codec.Codec
}

type metaDocument struct {
	URI     string   `json:"uri"`
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
}

// Sink ...
type Sink struct {
	client  *retryablehttp.Client
	baseURL *url.URL
	root    string
	auth    string
	codec   codec.Codec
	logger  log.Logger
}

// New validates config and creates a Sink sending requests through client.
// Transport level retries of client are kept below the upload retry policy, so
// callers usually set client.RetryMax to 0.
func New(client *retryablehttp.Client, config Config, logger log.Logger) (*Sink, error) {
	if config.BaseURL == "" {
		return nil, errors.New("database URL is not set")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported database URL scheme: %q", base.Scheme)
	}

	root := config.Root
	if root == "" {
		root = DefaultRoot
	}

	chunkCodec := codec.Base64
	if config.Compression != nil {
		chunkCodec = codec.Chain(config.Compression, codec.Base64)
	}

	return &Sink{
		client:  client,
		baseURL: base,
		root:    root,
		auth:    config.AuthToken,
		codec:   chunkCodec,
		logger:  logger,
	}, nil
}

// WriteMetadata ...
func (s *Sink) WriteMetadata(ctx context.Context, ref upload.ObjectRef, metadata upload.Metadata) error {
	tags := metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	return s.put(ctx, ref, []string{"meta"}, metaDocument{
		URI:     ref.Item.String(),
		Caption: metadata.Caption,
		Tags:    tags,
	})
}

// WriteChunk ...
func (s *Sink) WriteChunk(ctx context.Context, ref upload.ObjectRef, index int, payload []byte) error {
	encoded, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", index, err)
	}
	return s.put(ctx, ref, []string{"chunks", strconv.Itoa(index)}, string(encoded))
}

// WriteTerminalMarker ...
func (s *Sink) WriteTerminalMarker(ctx context.Context, ref upload.ObjectRef) error {
	return s.put(ctx, ref, []string{"status"}, StatusComplete)
}

func (s *Sink) put(ctx context.Context, ref upload.ObjectRef, path []string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}

	endpoint := s.endpoint(ref.Key, path...)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-type", "application/json")
	req.ContentLength = int64(len(body))

	resp, err := s.client.Do(req)
	if err != nil {
		return s.redact(err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			s.logger.Warnf("Failed to close response body: %s", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upload.Rejected(unwrapError(resp), isPermanent(resp.StatusCode))
	}
	return nil
}

func (s *Sink) endpoint(key string, path ...string) string {
	elems := append([]string{s.root, key}, path...)
	elems[len(elems)-1] += ".json"

	u := s.baseURL.JoinPath(elems...)
	if s.auth != "" {
		q := u.Query()
		q.Set("auth", s.auth)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactedError hides the auth token, which transport errors carry as part of the URL.
type redactedError struct {
	err    error
	secret string
}

func (e redactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.secret, "[REDACTED]")
}

func (e redactedError) Unwrap() error {
	return e.err
}

func (s *Sink) redact(err error) error {
	if s.auth == "" {
		return err
	}
	return redactedError{err: err, secret: url.QueryEscape(s.auth)}
}

func isPermanent(statusCode int) bool {
	if statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests {
		return false
	}
	return statusCode >= 400 && statusCode < 500
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(errorResp))
}
