// Package memory provides an in-process Sink, used by tests and dry runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-chunkupload/upload"
)

// Operation ...
type Operation string

const (
	// OpMetadata ...
	OpMetadata Operation = "metadata"
	// OpChunk ...
	OpChunk Operation = "chunk"
	// OpTerminal ...
	OpTerminal Operation = "terminal"
)

// FailFunc decides whether a write fails. index is -1 for non-chunk operations.
type FailFunc func(op Operation, ref upload.ObjectRef, index int) error

// Object is everything written for one attempt.
type Object struct {
	Key      string
	Item     upload.Handle
	Metadata upload.Metadata
	Chunks   [][]byte
	Complete bool
}

// Bytes concatenates the chunks.
func (o Object) Bytes() []byte {
	return bytes.Join(o.Chunks, nil)
}

// Sink keeps every object in memory. Safe for concurrent use.
type Sink struct {
	mu       sync.Mutex
	objects  map[string]*Object
	order    []string
	attempts map[upload.Handle]int
	failFunc FailFunc
}

// New ...
func New() *Sink {
	return &Sink{
		objects:  map[string]*Object{},
		attempts: map[upload.Handle]int{},
	}
}

// FailWith installs fn to inject write failures. nil removes it.
func (s *Sink) FailWith(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFunc = fn
}

// WriteMetadata starts a new object and counts an attempt for the item.
func (s *Sink) WriteMetadata(ctx context.Context, ref upload.ObjectRef, metadata upload.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[ref.Item]++
	if err := s.fail(OpMetadata, ref, -1); err != nil {
		return err
	}
	if _, ok := s.objects[ref.Key]; ok {
		return fmt.Errorf("object %s already exists", ref.Key)
	}
	s.objects[ref.Key] = &Object{Key: ref.Key, Item: ref.Item, Metadata: metadata.Clone()}
	s.order = append(s.order, ref.Key)
	return nil
}

// WriteChunk appends a copy of payload. Chunks must arrive in index order.
func (s *Sink) WriteChunk(ctx context.Context, ref upload.ObjectRef, index int, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpChunk, ref, index); err != nil {
		return err
	}
	obj, ok := s.objects[ref.Key]
	if !ok {
		return fmt.Errorf("object %s has no metadata", ref.Key)
	}
	if index != len(obj.Chunks) {
		return fmt.Errorf("object %s: expected chunk %d, got %d", ref.Key, len(obj.Chunks), index)
	}
	obj.Chunks = append(obj.Chunks, append([]byte(nil), payload...))
	return nil
}

// WriteTerminalMarker ...
func (s *Sink) WriteTerminalMarker(ctx context.Context, ref upload.ObjectRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail(OpTerminal, ref, -1); err != nil {
		return err
	}
	obj, ok := s.objects[ref.Key]
	if !ok {
		return fmt.Errorf("object %s has no metadata", ref.Key)
	}
	obj.Complete = true
	return nil
}

// Attempts returns how many times an upload of item was started.
func (s *Sink) Attempts(item upload.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[item]
}

// Objects returns copies of the item's objects in creation order.
func (s *Sink) Objects(item upload.Handle) []Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	var objects []Object
	for _, key := range s.order {
		obj := s.objects[key]
		if obj.Item != item {
			continue
		}
		cp := *obj
		cp.Chunks = append([][]byte(nil), obj.Chunks...)
		objects = append(objects, cp)
	}
	return objects
}

// Completed returns the last complete object of item.
func (s *Sink) Completed(item upload.Handle) (Object, bool) {
	objects := s.Objects(item)
	for i := len(objects) - 1; i >= 0; i-- {
		if objects[i].Complete {
			return objects[i], true
		}
	}
	return Object{}, false
}

func (s *Sink) fail(op Operation, ref upload.ObjectRef, index int) error {
	if s.failFunc == nil {
		return nil
	}
	return s.failFunc(op, ref, index)
}
