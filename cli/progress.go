package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/coordinator"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// await renders progress and events until every started task finished.
// Cancelling ctx cancels the uploads.
func (e *engine) await(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.coordinator.Wait()
		close(done)
	}()

	updates, unsubscribe := e.coordinator.SubscribeProgress()
	defer unsubscribe()
	printer := newProgressPrinter(e.logger)

	for {
		select {
		case <-done:
			printer.print(e.coordinator.Progress())
			e.drainEvents()
			return nil
		case <-ctx.Done():
			e.logger.Warnf("Canceling uploads...")
			e.coordinator.CancelAll()
			<-done
			e.drainEvents()
			return ctx.Err()
		case progress := <-updates:
			printer.print(progress)
		case event := <-e.coordinator.Events():
			e.logEvent(event)
		}
	}
}

func (e *engine) drainEvents() {
	for {
		select {
		case event := <-e.coordinator.Events():
			e.logEvent(event)
		default:
			return
		}
	}
}

func (e *engine) logEvent(event coordinator.Event) {
	switch event.Kind {
	case coordinator.EventSucceeded:
		e.logger.Donef("%s: %s", event.Item, event.Message)
	case coordinator.EventFailed:
		e.logger.Errorf("%s: %s (after %d attempt(s))", event.Item, event.Message, event.Attempts)
	default:
		e.logger.Warnf("%s: %s", event.Item, event.Message)
	}
}

func (e *engine) report(items []upload.Handle) error {
	failed := 0
	for _, item := range items {
		if e.coordinator.State(item).State != upload.StateSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d upload(s) did not finish, run `gallery-upload resume` to retry", failed, len(items))
	}
	e.logger.Donef("Uploaded %d item(s)", len(items))
	return nil
}

// progressPrinter logs an item's progress whenever it changed.
type progressPrinter struct {
	logger log.Logger
	last   map[upload.Handle]upload.Progress
}

func newProgressPrinter(logger log.Logger) *progressPrinter {
	return &progressPrinter{logger: logger, last: map[upload.Handle]upload.Progress{}}
}

func (p *progressPrinter) print(progress coordinator.ProgressMap) {
	items := make([]upload.Handle, 0, len(progress))
	for item := range progress {
		items = append(items, item)
	}
	slices.Sort(items)

	for _, item := range items {
		current := progress[item]
		if previous, ok := p.last[item]; ok && previous == current {
			continue
		}
		p.last[item] = current
		if current.BytesSent == 0 && !current.Completed && !current.Failed() {
			continue
		}
		p.logger.Printf("%s %s", item, formatProgress(current))
	}
}

func formatProgress(p upload.Progress) string {
	switch {
	case p.Failed():
		return "failed: " + p.ErrorMessage
	case p.Completed:
		return fmt.Sprintf("done (%s)", units.BytesSize(float64(p.BytesSent)))
	case p.TotalBytes == upload.UnknownSize:
		return fmt.Sprintf("%s sent", units.BytesSize(float64(p.BytesSent)))
	default:
		return fmt.Sprintf("%3.0f%% (%s / %s)", p.Fraction*100,
			units.BytesSize(float64(p.BytesSent)), units.BytesSize(float64(p.TotalBytes)))
	}
}
