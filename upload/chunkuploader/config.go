package chunkuploader

import (
	"time"

	"github.com/google/uuid"
)

// DefaultChunkSize is large enough to amortize per-chunk overhead and small enough
// to keep peak memory at one buffer.
const DefaultChunkSize = 128 * 1024

// Config holds configuration for the chunk uploader.
type Config struct {
	// ChunkSize is the number of source bytes read and written per chunk.
	// Default: 128 KiB
	ChunkSize int

	// ChunkTimeout bounds a single sink write. Zero disables the timeout.
	// Default: 30 seconds
	ChunkTimeout time.Duration

	// HungThreshold is the duration after which a chunk write is considered hung
	// if it exceeds the average write time by this amount. Zero disables detection.
	// Default: 20 seconds
	HungThreshold time.Duration

	// KeyFunc generates the sink key of each attempt.
	// Default: random UUID
	KeyFunc func() string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize,
		ChunkTimeout:  30 * time.Second,
		HungThreshold: 20 * time.Second,
		KeyFunc:       uuid.NewString,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.KeyFunc == nil {
		c.KeyFunc = uuid.NewString
	}
	return c
}
