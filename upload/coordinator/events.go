package coordinator

import (
	"fmt"

	"github.com/bitrise-io/go-chunkupload/upload"
)

// EventKind ...
type EventKind string

const (
	// EventSucceeded is sent once an item's terminal marker was written.
	EventSucceeded EventKind = "succeeded"
	// EventFailed is sent when all attempts of an item failed.
	EventFailed EventKind = "failed"
	// EventCanceled is sent when an in-flight upload was canceled.
	EventCanceled EventKind = "canceled"
)

// Event is a one-shot user facing notification.
type Event struct {
	Kind     EventKind
	Item     upload.Handle
	Message  string
	Attempts int
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s", e.Item, e.Message)
}

func succeededEvent(item upload.Handle, attempts int) Event {
	return Event{Kind: EventSucceeded, Item: item, Message: "Uploaded successfully", Attempts: attempts}
}

func failedEvent(item upload.Handle, attempts int, err error) Event {
	reason := "unknown error"
	if err != nil && err.Error() != "" {
		reason = err.Error()
	}
	return Event{Kind: EventFailed, Item: item, Message: "Upload failed: " + reason, Attempts: attempts}
}

func canceledEvent(item upload.Handle, attempts int) Event {
	return Event{Kind: EventCanceled, Item: item, Message: "Upload canceled", Attempts: attempts}
}

// emit never blocks; events are dropped when nobody drains the channel.
func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warnf("Dropping upload event (%s), event buffer is full", e)
	}
}
