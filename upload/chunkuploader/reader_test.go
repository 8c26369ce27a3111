package chunkuploader

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkReader(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		want      []int
	}{
		{name: "empty", size: 0, chunkSize: 4, want: []int{0}},
		{name: "shorter than a chunk", size: 3, chunkSize: 4, want: []int{3}},
		{name: "exact multiple", size: 8, chunkSize: 4, want: []int{4, 4, 0}},
		{name: "short tail", size: 10, chunkSize: 4, want: []int{4, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newChunkReader(bytes.NewReader(testData(tt.size)), tt.chunkSize)

			var got []int
			var offset int64
			for {
				c, err := reader.next()
				got = append(got, len(c.data))
				assert.Equal(t, offset, c.offset)
				offset += int64(len(c.data))
				if err != nil {
					require.Equal(t, io.EOF, err)
					break
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunkReader_PassesThroughReadErrors(t *testing.T) {
	readErr := errors.New("device removed")
	reader := newChunkReader(io.MultiReader(bytes.NewReader([]byte{1, 2}), &failingReader{err: readErr}), 4)

	c, err := reader.next()
	assert.Equal(t, readErr, err)
	assert.Equal(t, []byte{1, 2}, c.data)
}
