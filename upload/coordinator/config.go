package coordinator

import "time"

// Config holds the retry and scheduling policy of the coordinator.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. Negative values mean 0.
	// Default: 2
	MaxRetries int

	// BackoffMin and BackoffMax bound the exponential wait between attempts.
	// Default: 500ms and 10s
	BackoffMin time.Duration
	BackoffMax time.Duration

	// Concurrency limits how many items upload at the same time.
	// Default: 4
	Concurrency int

	// CancelOnDeselect cancels an in-flight upload when its item gets deselected.
	// Default: true
	CancelOnDeselect bool

	// EventBuffer is the capacity of the Events channel.
	// Default: 8
	EventBuffer int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		BackoffMin:       500 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		Concurrency:      4,
		CancelOnDeselect: true,
		EventBuffer:      8,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffMin < 0 {
		c.BackoffMin = 0
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 8
	}
	return c
}
