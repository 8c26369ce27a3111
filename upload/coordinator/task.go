package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/hashicorp/go-retryablehttp"
)

var errIncomplete = errors.New("upload ended without a terminal event")

// run drives the attempts of one task: Idle -> InFlight(0..MaxRetries) -> Succeeded | Failed.
func (c *Coordinator) run(ctx context.Context, item upload.Handle, metadata upload.Metadata, t *task) {
	defer c.retire(item, t)
	defer t.cancel()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.finishCanceled(item, t, 0, ctx.Err())
		return
	}
	defer func() { <-c.sem }()

	c.metrics.InFlight(1)
	defer c.metrics.InFlight(-1)

	start := time.Now()
	attempts := 0
	var last upload.Progress
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		attempts++
		c.setState(t, upload.TaskState{State: upload.StateInFlight, Attempt: attempt})

		attemptStart := time.Now()
		last, err = c.attempt(ctx, item, metadata)
		if err == nil {
			c.metrics.AttemptFinished(ResultSucceeded, time.Since(attemptStart))
			c.finishSucceeded(item, t, attempts, last, time.Since(start))
			return
		}

		if ctx.Err() != nil {
			c.metrics.AttemptFinished(ResultCanceled, time.Since(attemptStart))
			c.finishCanceled(item, t, attempts, err)
			return
		}
		if upload.IsPermanent(err) {
			c.metrics.AttemptFinished(ResultFailed, time.Since(attemptStart))
			c.logger.Warnf("Upload of %s failed permanently: %s", item, err)
			break
		}
		if attempt == c.config.MaxRetries {
			c.metrics.AttemptFinished(ResultFailed, time.Since(attemptStart))
			break
		}

		c.metrics.AttemptFinished(ResultRetried, time.Since(attemptStart))
		wait := c.backoff(attempt)
		c.logger.Warnf("Attempt %d/%d of %s failed: %s", attempt+1, c.config.MaxRetries+1, item, err)
		c.logger.Printf("Retrying in %s...", wait.Round(time.Millisecond))
		if !sleep(ctx, wait) {
			c.finishCanceled(item, t, attempts, ctx.Err())
			return
		}
	}

	c.finishFailed(item, t, attempts, err, time.Since(start))
}

// attempt runs one upload attempt and republishes its events.
func (c *Coordinator) attempt(ctx context.Context, item upload.Handle, metadata upload.Metadata) (upload.Progress, error) {
	var last upload.Progress
	for p, err := range c.uploader.Upload(ctx, item, metadata, c.opener, c.sink) {
		if err != nil {
			return last, err
		}
		if p.BytesSent > last.BytesSent {
			c.metrics.BytesUploaded(p.BytesSent - last.BytesSent)
			c.metrics.ChunkWritten()
		}
		last = p
		c.publish(p)
	}
	if !last.Completed {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		return last, errIncomplete
	}
	return last, nil
}

func (c *Coordinator) finishSucceeded(item upload.Handle, t *task, attempts int, last upload.Progress, took time.Duration) {
	state := upload.TaskState{State: upload.StateSucceeded, Attempt: attempts - 1}
	current := c.finish(item, t, state, func() {
		c.publish(upload.Progress{
			Item:       item,
			Fraction:   1,
			BytesSent:  last.BytesSent,
			TotalBytes: last.TotalBytes,
			Completed:  true,
		})
		c.selection.Deselect(item)
	})
	if current {
		c.requestPersist()
	}

	c.logger.Donef("Uploaded %s (%d bytes, %d attempt(s), %s)", item, last.BytesSent, attempts, took.Round(time.Millisecond))
	c.tracker.UploadSucceeded(item, attempts, last.BytesSent, took)
	c.emit(succeededEvent(item, attempts))
}

func (c *Coordinator) finishFailed(item upload.Handle, t *task, attempts int, err error, took time.Duration) {
	if err == nil {
		err = errIncomplete
	}
	state := upload.TaskState{State: upload.StateFailed, Attempt: attempts - 1, Message: err.Error()}
	c.finish(item, t, state, func() { c.publishFailure(item, err.Error()) })

	c.logger.Errorf("Upload of %s failed after %d attempt(s): %s", item, attempts, err)
	c.tracker.UploadFailed(item, attempts, err, took)
	c.emit(failedEvent(item, attempts, err))
}

func (c *Coordinator) finishCanceled(item upload.Handle, t *task, attempts int, cause error) {
	message := "upload canceled"
	if cause != nil && !errors.Is(cause, context.Canceled) {
		message = fmt.Sprintf("upload canceled: %s", cause)
	}
	state := upload.TaskState{State: upload.StateFailed, Attempt: max(attempts-1, 0), Message: message}
	c.finish(item, t, state, func() { c.publishFailure(item, message) })

	c.logger.Warnf("Upload of %s canceled", item)
	c.emit(canceledEvent(item, attempts))
}

// publishFailure keeps the last fraction of the item and attaches the error.
func (c *Coordinator) publishFailure(item upload.Handle, message string) {
	c.progress.Update(func(current ProgressMap) ProgressMap {
		next := current.clone()
		prev := next[item]
		next[item] = upload.Progress{
			Item:         item,
			Fraction:     prev.Fraction,
			BytesSent:    prev.BytesSent,
			TotalBytes:   prev.TotalBytes,
			ErrorMessage: message,
		}
		return next
	})
}

// backoff is exponential in attempt, capped at BackoffMax, with half of it jittered.
func (c *Coordinator) backoff(attempt int) time.Duration {
	base := retryablehttp.DefaultBackoff(c.config.BackoffMin, c.config.BackoffMax, attempt, nil)
	if base <= 0 {
		return 0
	}
	half := base / 2
	return half + time.Duration(rand.Int64N(int64(base-half)+1))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
