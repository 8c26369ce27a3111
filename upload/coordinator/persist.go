package coordinator

import (
	"context"
	"time"

	"github.com/bitrise-io/go-chunkupload/selection"
	"github.com/bitrise-io/go-chunkupload/upload"
)

const flushTimeout = 5 * time.Second

// requestPersist asks the persist loop to save the current intents. Requests coalesce.
func (c *Coordinator) requestPersist() {
	select {
	case c.persistRequests <- struct{}{}:
	default:
	}
}

// persistLoop is the only writer of the intent store. baseline is the selection at
// startup and isn't saved, so startup never overwrites the persisted intents before
// they were offered for resumption.
func (c *Coordinator) persistLoop(ctx context.Context, baseline upload.IntentSet, states <-chan selection.State, unsubscribe func()) {
	defer c.loops.Done()
	defer unsubscribe()

	seen := baseline
	changed := func(st selection.State) bool {
		intents := st.Intents()
		if intents.Equal(seen) {
			return false
		}
		seen = intents
		return true
	}

	for {
		select {
		case st, ok := <-states:
			if !ok {
				return
			}
			if changed(st) {
				c.save(ctx, seen)
			}
		case <-c.persistRequests:
			seen = c.selection.State().Intents()
			c.save(ctx, seen)
		case <-ctx.Done():
			c.flush(context.WithoutCancel(ctx), states, changed)
			return
		case <-c.stop:
			c.flush(ctx, states, changed)
			return
		}
	}
}

func (c *Coordinator) flush(ctx context.Context, states <-chan selection.State, changed func(selection.State) bool) {
	dirty := false
	select {
	case <-c.persistRequests:
		dirty = true
	default:
	}
	select {
	case st, ok := <-states:
		if ok && changed(st) {
			dirty = true
		}
	default:
	}
	if !dirty {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	c.save(ctx, c.selection.State().Intents())
}

func (c *Coordinator) save(ctx context.Context, intents upload.IntentSet) {
	if err := c.store.Save(ctx, intents); err != nil {
		c.logger.Errorf("Failed to persist pending uploads: %s", err)
	}
}

// watchDeselect cancels in-flight uploads whose item was selected when the upload
// was requested and isn't selected anymore.
func (c *Coordinator) watchDeselect(ctx context.Context, states <-chan selection.State, unsubscribe func()) {
	defer c.loops.Done()
	defer unsubscribe()

	for {
		select {
		case _, ok := <-states:
			if !ok {
				return
			}
			c.cancelDeselected()
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) cancelDeselected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Read under mu, so a task requested concurrently is judged against a state at
	// least as new as the one it was created with.
	state := c.selection.State()
	for item, t := range c.tasks {
		if t.state.State != upload.StateInFlight || !t.selected || state.IsSelected(item) {
			continue
		}
		c.logger.Infof("%s was deselected, canceling its upload", item)
		t.selected = false
		t.cancel()
	}
}
