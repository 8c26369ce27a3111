package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-chunkupload/analytics"
	"github.com/bitrise-io/go-chunkupload/config"
	"github.com/bitrise-io/go-chunkupload/metrics"
	"github.com/bitrise-io/go-chunkupload/pending"
	"github.com/bitrise-io/go-chunkupload/prefs"
	"github.com/bitrise-io/go-chunkupload/selection"
	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/chunkuploader"
	"github.com/bitrise-io/go-chunkupload/upload/coordinator"
	"github.com/bitrise-io/go-chunkupload/upload/sink/codec"
	"github.com/bitrise-io/go-chunkupload/upload/sink/memory"
	"github.com/bitrise-io/go-chunkupload/upload/sink/rtdb"
	"github.com/bitrise-io/go-chunkupload/upload/sink/s3sink"
	"github.com/bitrise-io/go-chunkupload/upload/source"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
)

// engine is one fully wired upload engine. close releases everything it opened.
type engine struct {
	logger      log.Logger
	registry    *prometheus.Registry
	selection   *selection.Selection
	coordinator *coordinator.Coordinator
	tracker     *analytics.UploadTracker
	closers     []func() error
}

func (a *app) startEngine(ctx context.Context) (_ *engine, err error) {
	e := &engine{
		logger:    a.logger,
		registry:  prometheus.NewRegistry(),
		selection: selection.New(),
	}
	defer func() {
		if err != nil {
			e.close()
		}
	}()
	e.selection.SetMode(selection.Multi)

	httpClient := retryhttp.NewClient(a.logger)
	httpClient.RetryMax = a.cfg.HTTPRetries

	var compression codec.Codec
	if a.cfg.Compress {
		zstdCodec, err := codec.NewZstd(zstd.SpeedDefault)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, zstdCodec.Close)
		compression = zstdCodec
	}

	sink, err := a.newSink(ctx, httpClient, compression)
	if err != nil {
		return nil, fmt.Errorf("create %s sink: %w", a.cfg.Sink, err)
	}

	backend, closeBackend, err := a.openPrefs(ctx)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeBackend)

	observer, err := metrics.NewObserver(metrics.DefaultNamespace, e.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	deps := coordinator.Deps{
		Uploader:  chunkuploader.New(a.cfg.UploaderConfig(), a.logger),
		Opener:    source.NewDefaultMux(httpClient, a.logger),
		Sink:      sink,
		Selection: e.selection,
		Store:     pending.NewStore(backend, a.logger),
		Metrics:   observer,
	}
	if a.cfg.Analytics {
		e.tracker = analytics.NewDefaultUploadTracker(a.env, a.logger)
		deps.Tracker = e.tracker
	}

	e.coordinator = coordinator.New(a.cfg.CoordinatorConfig(), deps, a.logger)
	if err := e.coordinator.Start(ctx); err != nil {
		return nil, fmt.Errorf("start upload coordinator: %w", err)
	}
	return e, nil
}

func (a *app) newSink(ctx context.Context, client *retryablehttp.Client, compression codec.Codec) (upload.Sink, error) {
	switch a.cfg.Sink {
	case config.SinkRTDB:
		return rtdb.New(client, rtdb.Config{
			BaseURL:     a.cfg.RTDBURL,
			AuthToken:   string(a.cfg.RTDBAuth),
			Compression: compression,
		}, a.logger)
	case config.SinkS3:
		return s3sink.New(ctx, s3sink.Params{
			Bucket:          a.cfg.S3Bucket,
			Region:          a.cfg.S3Region,
			Endpoint:        a.cfg.S3Endpoint,
			Prefix:          a.cfg.S3Prefix,
			AccessKeyID:     a.cfg.AWSAccessKeyID,
			SecretAccessKey: string(a.cfg.AWSSecretAccessKey),
			Compression:     compression,
		}, a.logger)
	default:
		a.logger.Warnf("Using the in-memory sink, uploaded content is discarded on exit")
		return memory.New(), nil
	}
}

func (a *app) openPrefs(ctx context.Context) (prefs.Store, func() error, error) {
	if a.cfg.StateBackend == config.StateSQLite {
		if err := os.MkdirAll(filepath.Dir(a.cfg.StatePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		store, err := prefs.OpenSQLite(ctx, a.cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	store, err := prefs.NewFileStore(a.cfg.StatePath, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}

func (e *engine) close() {
	if e.coordinator != nil {
		e.coordinator.Close()
	}
	if e.tracker != nil {
		e.tracker.Wait()
	}

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warnf("Failed to release upload engine: %s", err)
	}
}
