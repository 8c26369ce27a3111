// Package analytics reports finished uploads as analytics events.
package analytics

import (
	"time"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/coordinator"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates the underlying event tracker. analytics.NewDefaultTracker
// satisfies it; that tracker stays silent when analytics are disabled in repository.
type TrackerFactory func(log.Logger, env.Repository, ...analytics.Properties) analytics.Tracker

const (
	// SessionIDEnvKey optionally groups the events of one run.
	SessionIDEnvKey = "GALLERY_UPLOAD_SESSION_ID"
	// SinkEnvKey ...
	SinkEnvKey = "GALLERY_UPLOAD_SINK"

	eventUploadSucceeded = "gallery_upload_succeeded"
	eventUploadFailed    = "gallery_upload_failed"
)

// UploadTracker implements coordinator.Tracker.
type UploadTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

var _ coordinator.Tracker = (*UploadTracker)(nil)

// NewUploadTracker attaches the session properties found in repository to every event.
func NewUploadTracker(repository env.Repository, logger log.Logger, factory TrackerFactory) *UploadTracker {
	p := analytics.Properties{
		"sink": repository.Get(SinkEnvKey),
	}
	if sessionID := repository.Get(SessionIDEnvKey); sessionID != "" {
		p["session_id"] = sessionID
	}
	return &UploadTracker{
		tracker: factory(logger, repository, p),
		logger:  logger,
	}
}

// NewDefaultUploadTracker ...
func NewDefaultUploadTracker(repository env.Repository, logger log.Logger) *UploadTracker {
	return NewUploadTracker(repository, logger, analytics.NewDefaultTracker)
}

// UploadSucceeded ...
func (t *UploadTracker) UploadSucceeded(item upload.Handle, attempts int, bytes int64, took time.Duration) {
	t.tracker.Enqueue(eventUploadSucceeded, analytics.Properties{
		"attempts":          attempts,
		"upload_size_bytes": bytes,
		"upload_time_s":     took.Truncate(time.Second).Seconds(),
	})
}

// UploadFailed ...
func (t *UploadTracker) UploadFailed(item upload.Handle, attempts int, reason error, took time.Duration) {
	p := analytics.Properties{
		"attempts":      attempts,
		"upload_time_s": took.Truncate(time.Second).Seconds(),
		"permanent":     upload.IsPermanent(reason),
	}
	if reason != nil {
		p["error"] = reason.Error()
	}
	t.tracker.Enqueue(eventUploadFailed, p)
}

// Wait blocks until queued events are sent.
func (t *UploadTracker) Wait() {
	t.tracker.Wait()
}
