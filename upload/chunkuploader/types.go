// Package chunkuploader streams an item from a byte source to a sink in fixed-size chunks,
// reporting progress after every chunk. It bounds each chunk write with a timeout and
// cancels writes that hang compared to the running average.
package chunkuploader

import (
	"iter"

	"github.com/bitrise-io/go-chunkupload/upload"
)

// Attempt is the lazy progress sequence of one upload attempt.
// The sequence ends after a terminal Completed event or after the first non-nil error.
type Attempt = iter.Seq2[upload.Progress, error]

// chunk is one slice of the source read into the shared buffer.
type chunk struct {
	index  int
	offset int64
	data   []byte
}
