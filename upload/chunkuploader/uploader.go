package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Uploader streams items to a sink chunk by chunk.
// It is safe for concurrent use; every Upload call is an independent attempt.
type Uploader struct {
	config Config
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	return &Uploader{
		config: config.withDefaults(),
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats returns the chunk write statistics shared by all attempts.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Upload returns the progress sequence of a single attempt at uploading item.
// Nothing happens until the sequence is ranged over; ranging it again starts a new attempt.
//
// The source is opened when iteration starts and closed on every exit path,
// including when the consumer stops early.
func (u *Uploader) Upload(ctx context.Context, item upload.Handle, metadata upload.Metadata, opener upload.Opener, sink upload.Sink) Attempt {
	return func(yield func(upload.Progress, error) bool) {
		u.run(ctx, item, metadata, opener, sink, yield)
	}
}

func (u *Uploader) run(
	ctx context.Context,
	item upload.Handle,
	metadata upload.Metadata,
	opener upload.Opener,
	sink upload.Sink,
	yield func(upload.Progress, error) bool,
) {
	fail := func(err error) {
		yield(upload.Progress{Item: item}, err)
	}

	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("upload %s cancelled: %w", item, err))
		return
	}

	rc, total, err := opener.Open(ctx, item)
	if err != nil {
		if !errors.Is(err, upload.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", upload.ErrSourceUnavailable, err)
		}
		fail(err)
		return
	}
	defer func() {
		if err := rc.Close(); err != nil {
			u.logger.Warnf("Failed to close source of %s: %s", item, err)
		}
	}()

	ref := upload.ObjectRef{Key: u.config.KeyFunc(), Item: item}
	u.logger.Debugf("Uploading %s as %s (%s)", item, ref.Key, describeSize(total))

	if err := sink.WriteMetadata(ctx, ref, metadata.Clone()); err != nil {
		fail(&upload.IOError{Item: item, Op: upload.OpWrite, Offset: 0, Err: fmt.Errorf("write metadata: %w", err)})
		return
	}

	reader := newChunkReader(rc, u.config.ChunkSize)
	var sent int64

	// The event of a chunk is held back until the next read tells whether more data
	// follows, so the last chunk is reported by the terminal event alone.
	current, readErr := reader.next()
	for {
		if readErr != nil && readErr != io.EOF {
			fail(&upload.IOError{Item: item, Op: upload.OpRead, Offset: sent, Err: readErr})
			return
		}
		if len(current.data) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			fail(fmt.Errorf("upload %s cancelled at offset %d: %w", item, sent, err))
			return
		}

		if err := u.writeChunk(ctx, sink, ref, current); err != nil {
			fail(&upload.IOError{Item: item, Op: upload.OpWrite, Offset: sent, Err: err})
			return
		}
		sent += int64(len(current.data))

		if readErr == io.EOF {
			break
		}
		current, readErr = reader.next()
		if readErr == io.EOF && len(current.data) == 0 {
			break
		}

		if !yield(progressOf(item, sent, total), nil) {
			return
		}
	}

	if err := sink.WriteTerminalMarker(ctx, ref); err != nil {
		fail(&upload.IOError{Item: item, Op: upload.OpWrite, Offset: sent, Err: fmt.Errorf("write terminal marker: %w", err)})
		return
	}

	if total == upload.UnknownSize {
		total = sent
	} else if total != sent {
		u.logger.Warnf("Size of %s changed during upload: expected %d bytes, sent %d", item, total, sent)
	}
	u.logger.Debugf("Uploaded %s in %d chunks (%s)", item, reader.index, describeSize(sent))

	yield(upload.Progress{
		Item:       item,
		Fraction:   1,
		BytesSent:  sent,
		TotalBytes: total,
		Completed:  true,
	}, nil)
}

func (u *Uploader) writeChunk(ctx context.Context, sink upload.Sink, ref upload.ObjectRef, c chunk) error {
	var chunkCtx context.Context
	var cancelChunk context.CancelFunc
	if u.config.ChunkTimeout > 0 {
		chunkCtx, cancelChunk = context.WithTimeout(ctx, u.config.ChunkTimeout)
	} else {
		chunkCtx, cancelChunk = context.WithCancel(ctx)
	}
	defer cancelChunk()

	start := time.Now()
	if u.config.HungThreshold > 0 {
		go u.detectHungWrite(chunkCtx, cancelChunk, start, ref.Item, c.index)
	}

	if err := sink.WriteChunk(chunkCtx, ref, c.index, c.data); err != nil {
		if ctx.Err() == nil && chunkCtx.Err() != nil {
			return fmt.Errorf("chunk %d abandoned after %s: %w", c.index, time.Since(start).Round(time.Millisecond), err)
		}
		return fmt.Errorf("write chunk %d: %w", c.index, err)
	}

	took := time.Since(start)
	u.stats.Update(took, len(c.data))
	u.logger.Debugf("Chunk %d of %s written in %v [finished=%d] [avg=%v]",
		c.index, ref.Item, took.Round(time.Millisecond), u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))
	return nil
}

func (u *Uploader) detectHungWrite(ctx context.Context, cancel context.CancelFunc, start time.Time, item upload.Handle, index int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() == 0 {
				continue
			}
			elapsed := time.Since(start)
			avg := u.stats.Average()
			if elapsed-avg > u.config.HungThreshold {
				u.logger.Warnf("Found hung chunk write (chunk %d of %s); canceling after %s (avg: %s)",
					index, item, elapsed.Round(time.Second), avg.Round(time.Millisecond))
				cancel()
				return
			}
		}
	}
}

func progressOf(item upload.Handle, sent, total int64) upload.Progress {
	return upload.Progress{
		Item:       item,
		Fraction:   fraction(sent, total),
		BytesSent:  sent,
		TotalBytes: total,
	}
}

func fraction(sent, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(sent) / float64(total)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func describeSize(size int64) string {
	if size == upload.UnknownSize {
		return "unknown size"
	}
	return units.HumanSizeWithPrecision(float64(size), 3)
}
