package coordinator

import (
	"context"
	"iter"
	"time"

	"github.com/bitrise-io/go-chunkupload/selection"
	"github.com/bitrise-io/go-chunkupload/upload"
)

// Uploader runs single upload attempts. *chunkuploader.Uploader implements it.
type Uploader interface {
	Upload(ctx context.Context, item upload.Handle, metadata upload.Metadata, opener upload.Opener, sink upload.Sink) iter.Seq2[upload.Progress, error]
}

// IntentStore persists the pending intent set. *pending.Store implements it.
type IntentStore interface {
	Load(ctx context.Context) (upload.IntentSet, error)
	Save(ctx context.Context, set upload.IntentSet) error
}

// Selection is the selection state the coordinator reads from and updates.
// *selection.Selection implements it.
type Selection interface {
	State() selection.State
	Subscribe() (<-chan selection.State, func())
	Select(items ...upload.Handle)
	Deselect(items ...upload.Handle)
	SetMetadata(item upload.Handle, metadata upload.Metadata)
	MetadataFor(item upload.Handle) upload.Metadata
	Selected() []upload.Handle
}

// Attempt results reported to the Recorder.
const (
	ResultSucceeded = "succeeded"
	ResultRetried   = "retried"
	ResultFailed    = "failed"
	ResultCanceled  = "canceled"
)

// Recorder receives engine metrics.
type Recorder interface {
	AttemptFinished(result string, took time.Duration)
	BytesUploaded(n int64)
	ChunkWritten()
	InFlight(delta int)
}

// Tracker receives one call per finished upload task.
type Tracker interface {
	UploadSucceeded(item upload.Handle, attempts int, bytes int64, took time.Duration)
	UploadFailed(item upload.Handle, attempts int, reason error, took time.Duration)
}

// Deps are the collaborators of a Coordinator. Tracker and Metrics are optional.
type Deps struct {
	Uploader  Uploader
	Opener    upload.Opener
	Sink      upload.Sink
	Selection Selection
	Store     IntentStore
	Tracker   Tracker
	Metrics   Recorder
}

type noopRecorder struct{}

func (noopRecorder) AttemptFinished(string, time.Duration) {}
func (noopRecorder) BytesUploaded(int64)                   {}
func (noopRecorder) ChunkWritten()                         {}
func (noopRecorder) InFlight(int)                          {}

type noopTracker struct{}

func (noopTracker) UploadSucceeded(upload.Handle, int, int64, time.Duration) {}
func (noopTracker) UploadFailed(upload.Handle, int, error, time.Duration)    {}
