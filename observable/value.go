// Package observable holds a value that can be read at any time and watched for changes.
package observable

import "sync"

// Value is a latest-value holder. Subscribers receive the current value on
// subscription and every later one; a slow subscriber only misses intermediate
// values, never the latest.
type Value[T any] struct {
	mu          sync.Mutex
	current     T
	subscribers map[int]chan T
	nextID      int
}

// New ...
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current:     initial,
		subscribers: map[int]chan T{},
	}
}

// Load returns the current value.
func (v *Value[T]) Load() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Store replaces the current value and notifies subscribers.
func (v *Value[T]) Store(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = value
	v.publish()
}

// Update atomically replaces the value with fn(current) and returns the new value.
// fn must treat its argument as read-only if T shares memory (maps, slices).
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = fn(v.current)
	v.publish()
	return v.current
}

// Subscribe returns a channel delivering the latest value and a func that
// unsubscribes and closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	ch := make(chan T, 1)
	ch <- v.current
	v.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subscribers, id)
			close(ch)
		})
	}
}

// publish must be called with mu held.
func (v *Value[T]) publish() {
	for _, ch := range v.subscribers {
		select {
		case ch <- v.current:
			continue
		default:
		}
		// Replace the stale pending value.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v.current:
		default:
		}
	}
}
