// Package upload holds the domain types shared by the upload engine: item handles,
// per-item metadata, progress events, task states and the contracts of the byte
// sources and sinks the engine moves data between.
package upload

import (
	"context"
	"io"
	"sort"
)

// UnknownSize is reported as the total size when a source can't tell its length up front.
const UnknownSize int64 = -1

// Handle identifies a unit of content to upload (a URI or path in the source system).
type Handle string

// String ...
func (h Handle) String() string {
	return string(h)
}

// Metadata is attached to a Handle by the caller and replaced as a whole on change.
type Metadata struct {
	Caption string
	Tags    []string
}

// Clone returns a deep copy, so callers can hand the value to another goroutine.
func (m Metadata) Clone() Metadata {
	tags := make([]string, len(m.Tags))
	copy(tags, m.Tags)
	return Metadata{Caption: m.Caption, Tags: tags}
}

// Equal treats a nil and an empty tag list as the same value.
func (m Metadata) Equal(other Metadata) bool {
	if m.Caption != other.Caption || len(m.Tags) != len(other.Tags) {
		return false
	}
	for i := range m.Tags {
		if m.Tags[i] != other.Tags[i] {
			return false
		}
	}
	return true
}

// Progress is emitted once per chunk boundary plus once when an attempt terminates.
type Progress struct {
	Item         Handle
	Fraction     float64
	BytesSent    int64
	TotalBytes   int64
	Completed    bool
	ErrorMessage string
}

// Failed reports whether the event carries a terminal error.
func (p Progress) Failed() bool {
	return p.ErrorMessage != ""
}

// State ...
type State int

const (
	// StateIdle means no upload was requested for the item yet.
	StateIdle State = iota
	// StateInFlight means an attempt task is running.
	StateInFlight
	// StateSucceeded ...
	StateSucceeded
	// StateFailed ...
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in-flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskState is the per-item state held by the coordinator.
// Attempt is meaningful while InFlight, Message while Failed.
type TaskState struct {
	State   State
	Attempt int
	Message string
}

// IntentSet maps items that should be uploaded but are not yet confirmed complete
// to their metadata.
type IntentSet map[Handle]Metadata

// Clone ...
func (s IntentSet) Clone() IntentSet {
	out := make(IntentSet, len(s))
	for h, m := range s {
		out[h] = m.Clone()
	}
	return out
}

// Equal ...
func (s IntentSet) Equal(other IntentSet) bool {
	if len(s) != len(other) {
		return false
	}
	for h, m := range s {
		o, ok := other[h]
		if !ok || !m.Equal(o) {
			return false
		}
	}
	return true
}

// Handles returns the keys in lexical order.
func (s IntentSet) Handles() []Handle {
	handles := make([]Handle, 0, len(s))
	for h := range s {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Opener opens a read-only, single-pass stream over an item's content.
// The returned size is UnknownSize when it can't be determined.
// Callers must close the stream on every exit path.
type Opener interface {
	Open(ctx context.Context, item Handle) (io.ReadCloser, int64, error)
}

// ObjectRef addresses one upload attempt of an item in a sink.
type ObjectRef struct {
	Key  string
	Item Handle
}

// Sink is the remote store accepting an item's metadata, its chunks and a terminal marker.
// Payloads passed to WriteChunk are only valid for the duration of the call.
type Sink interface {
	WriteMetadata(ctx context.Context, ref ObjectRef, metadata Metadata) error
	WriteChunk(ctx context.Context, ref ObjectRef, index int, payload []byte) error
	WriteTerminalMarker(ctx context.Context, ref ObjectRef) error
}
