// Package coordinator schedules upload tasks for selected items: it deduplicates
// requests per item, retries failed attempts with backoff, republishes progress into
// an observable map and keeps the persisted pending intents in sync with the selection.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/bitrise-io/go-chunkupload/observable"
	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("coordinator is closed")

// ProgressMap is the latest progress event of every item that was requested.
// Published maps are never modified; treat them as read-only.
type ProgressMap map[upload.Handle]upload.Progress

type task struct {
	state    upload.TaskState
	cancel   context.CancelFunc
	done     chan struct{}
	selected bool
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	config    Config
	uploader  Uploader
	opener    upload.Opener
	sink      upload.Sink
	selection Selection
	store     IntentStore
	tracker   Tracker
	metrics   Recorder
	logger    log.Logger

	tasksCtx    context.Context
	cancelTasks context.CancelFunc
	sem         chan struct{}

	mu       sync.Mutex
	tasks    map[upload.Handle]*task
	finished map[upload.Handle]upload.TaskState
	started  bool
	closed   bool

	progress *observable.Value[ProgressMap]
	resume   *observable.Value[upload.IntentSet]
	events   chan Event

	persistRequests chan struct{}
	stop            chan struct{}
	loops           sync.WaitGroup
	closeOnce       sync.Once
}

// New creates a Coordinator. Call Start to load persisted intents and begin
// syncing the selection to the store.
func New(config Config, deps Deps, logger log.Logger) *Coordinator {
	config = config.withDefaults()
	tasksCtx, cancelTasks := context.WithCancel(context.Background())

	var tracker Tracker = noopTracker{}
	if deps.Tracker != nil {
		tracker = deps.Tracker
	}
	var metrics Recorder = noopRecorder{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}

	return &Coordinator{
		config:          config,
		uploader:        deps.Uploader,
		opener:          deps.Opener,
		sink:            deps.Sink,
		selection:       deps.Selection,
		store:           deps.Store,
		tracker:         tracker,
		metrics:         metrics,
		logger:          logger,
		tasksCtx:        tasksCtx,
		cancelTasks:     cancelTasks,
		sem:             make(chan struct{}, config.Concurrency),
		tasks:           map[upload.Handle]*task{},
		finished:        map[upload.Handle]upload.TaskState{},
		progress:        observable.New(ProgressMap{}),
		resume:          observable.New(upload.IntentSet{}),
		events:          make(chan Event, config.EventBuffer),
		persistRequests: make(chan struct{}, 1),
		stop:            make(chan struct{}),
	}
}

// Start loads the persisted intents once; a non-empty result becomes the resume
// prompt. It then starts persisting every change of the selected intents and, if
// configured, canceling uploads of deselected items. The loops stop when ctx is
// done or on Close.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	saved, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if len(saved) > 0 {
		c.logger.Infof("Found %d unfinished upload(s)", len(saved))
		c.resume.Store(saved.Clone())
	}

	states, unsubscribe := c.selection.Subscribe()
	baseline := (<-states).Intents()
	c.loops.Add(1)
	go c.persistLoop(ctx, baseline, states, unsubscribe)

	if c.config.CancelOnDeselect {
		states, unsubscribe := c.selection.Subscribe()
		c.loops.Add(1)
		go c.watchDeselect(ctx, states, unsubscribe)
	}
	return nil
}

// RequestUpload starts an upload task for every item that isn't already in flight
// and returns the items it started. metadataFor is read once per started item.
func (c *Coordinator) RequestUpload(items []upload.Handle, metadataFor func(upload.Handle) upload.Metadata) []upload.Handle {
	type launch struct {
		item     upload.Handle
		metadata upload.Metadata
		ctx      context.Context
		task     *task
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warnf("Ignoring upload request of %d item(s), coordinator is closed", len(items))
		return nil
	}

	state := c.selection.State()
	var launches []launch
	for _, item := range items {
		if t, ok := c.tasks[item]; ok && t.state.State == upload.StateInFlight {
			c.logger.Debugf("Upload of %s is already in flight", item)
			continue
		}

		ctx, cancel := context.WithCancel(c.tasksCtx)
		t := &task{
			state:    upload.TaskState{State: upload.StateInFlight},
			cancel:   cancel,
			done:     make(chan struct{}),
			selected: state.IsSelected(item),
		}
		c.tasks[item] = t
		delete(c.finished, item)
		launches = append(launches, launch{item: item, metadata: metadataFor(item).Clone(), ctx: ctx, task: t})
	}
	c.mu.Unlock()

	if len(launches) == 0 {
		return nil
	}

	c.progress.Update(func(current ProgressMap) ProgressMap {
		next := current.clone()
		for _, l := range launches {
			next[l.item] = upload.Progress{Item: l.item}
		}
		return next
	})

	started := make([]upload.Handle, 0, len(launches))
	for _, l := range launches {
		started = append(started, l.item)
		go c.run(l.ctx, l.item, l.metadata, l.task)
	}
	return started
}

// UploadSelected requests an upload of every selected item with its current metadata.
func (c *Coordinator) UploadSelected() []upload.Handle {
	return c.RequestUpload(c.selection.Selected(), c.selection.MetadataFor)
}

// ResumePrompt returns the intents found at startup that weren't resumed or dismissed yet.
func (c *Coordinator) ResumePrompt() upload.IntentSet {
	return c.resume.Load().Clone()
}

// SubscribeResumePrompt ...
func (c *Coordinator) SubscribeResumePrompt() (<-chan upload.IntentSet, func()) {
	return c.resume.Subscribe()
}

// ResumeSavedUploads restores the metadata of the saved intents, selects their
// items, uploads the selection and clears the prompt.
func (c *Coordinator) ResumeSavedUploads() []upload.Handle {
	saved := c.resume.Load()
	if len(saved) == 0 {
		return nil
	}

	for _, item := range saved.Handles() {
		c.selection.SetMetadata(item, saved[item])
	}
	c.selection.Select(saved.Handles()...)
	started := c.UploadSelected()
	c.resume.Store(upload.IntentSet{})
	return started
}

// DismissResume clears the resume prompt without uploading.
func (c *Coordinator) DismissResume() {
	c.resume.Store(upload.IntentSet{})
}

// State returns the task state of item; Idle if it was never requested.
func (c *Coordinator) State(item upload.Handle) upload.TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[item]; ok {
		return t.state
	}
	if state, ok := c.finished[item]; ok {
		return state
	}
	return upload.TaskState{State: upload.StateIdle}
}

// Progress returns the latest progress map.
func (c *Coordinator) Progress() ProgressMap {
	return c.progress.Load().clone()
}

// SubscribeProgress delivers the latest progress map and every later one (conflated).
func (c *Coordinator) SubscribeProgress() (<-chan ProgressMap, func()) {
	return c.progress.Subscribe()
}

// Events delivers one-shot notifications. Events are dropped when the buffer is full.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Cancel cancels the in-flight upload of item and reports whether there was one.
func (c *Coordinator) Cancel(item upload.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[item]
	if !ok || t.state.State != upload.StateInFlight {
		return false
	}
	t.cancel()
	return true
}

// CancelAll cancels every in-flight upload.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.state.State == upload.StateInFlight {
			t.cancel()
		}
	}
}

// Wait blocks until every started task has finished, including its notifications.
func (c *Coordinator) Wait() {
	for {
		c.mu.Lock()
		var pending []chan struct{}
		for _, t := range c.tasks {
			select {
			case <-t.done:
			default:
				pending = append(pending, t.done)
			}
		}
		c.mu.Unlock()

		if len(pending) == 0 {
			return
		}
		for _, done := range pending {
			<-done
		}
	}
}

// Close cancels all uploads, waits for them, flushes pending saves and stops the loops.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancelTasks()
		c.Wait()
		close(c.stop)
		c.loops.Wait()
	})
}

func (c *Coordinator) setState(t *task, state upload.TaskState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.state = state
}

// finish records the terminal state of t. While t is still the task of item, publish
// runs under the same lock, so a new request for item can't interleave with it.
// Reports whether t was current.
func (c *Coordinator) finish(item upload.Handle, t *task, state upload.TaskState, publish func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.state = state
	if c.tasks[item] != t {
		return false
	}
	publish()
	return true
}

// retire moves a finished task out of the task map, keeping only its terminal state,
// and then releases its waiters.
func (c *Coordinator) retire(item upload.Handle, t *task) {
	c.mu.Lock()
	if c.tasks[item] == t {
		c.finished[item] = t.state
		delete(c.tasks, item)
	}
	c.mu.Unlock()
	close(t.done)
}

func (c *Coordinator) publish(p upload.Progress) {
	c.progress.Update(func(current ProgressMap) ProgressMap {
		next := current.clone()
		next[p.Item] = p
		return next
	})
}

func (m ProgressMap) clone() ProgressMap {
	next := make(ProgressMap, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
