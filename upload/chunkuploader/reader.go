package chunkuploader

import (
	"errors"
	"io"
)

// chunkReader reads a single-pass stream into one reusable buffer.
// A chunk's data is only valid until the next call to next.
type chunkReader struct {
	r      io.Reader
	buf    []byte
	index  int
	offset int64
}

func newChunkReader(r io.Reader, chunkSize int) *chunkReader {
	return &chunkReader{
		r:   r,
		buf: make([]byte, chunkSize),
	}
}

// next returns the next chunk of the stream. io.EOF comes together with the final,
// short chunk, or with an empty chunk when the stream ended on a chunk boundary.
func (c *chunkReader) next() (chunk, error) {
	n, err := io.ReadFull(c.r, c.buf)
	ch := chunk{
		index:  c.index,
		offset: c.offset,
		data:   c.buf[:n],
	}
	if n > 0 {
		c.index++
		c.offset += int64(n)
	}

	switch {
	case err == nil:
		return ch, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ch, io.EOF
	default:
		return ch, err
	}
}
