package chunkuploader

import (
	"sync"
	"time"
)

// Stats tracks chunk write metrics for hung detection and reporting.
// One Uploader shares its Stats across all concurrent attempts.
type Stats struct {
	sum            time.Duration
	finishedChunks int64
	bytes          int64
	mu             sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful chunk write.
func (s *Stats) Update(d time.Duration, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedChunks++
	s.bytes += int64(size)
}

// Average returns the average write duration for completed chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

// FinishedCount returns the number of completed chunk writes.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedChunks
}

// TotalDuration returns the sum of all write durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// TotalBytes returns the number of source bytes written so far.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
