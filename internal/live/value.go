// Package live publishes values that change while a measurement runs.
//
// A Value has one writer (the measurement) and any number of readers. Load
// returns the latest value without blocking; Updates delivers the most
// recent value not yet consumed, older ones are replaced rather than queued.
package live

import "sync/atomic"

type Value[T any] struct {
	latest  atomic.Pointer[T]
	updates chan T
}

func NewValue[T any](initial T) *Value[T] {
	v := &Value[T]{updates: make(chan T, 1)}
	v.latest.Store(&initial)
	return v
}

// Set stores x and offers it on the update channel, dropping a pending
// value that nobody read.
func (v *Value[T]) Set(x T) {
	v.latest.Store(&x)
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- x:
	default:
	}
}

// Load returns the most recently stored value.
func (v *Value[T]) Load() T {
	return *v.latest.Load()
}

// Updates returns the single-slot notification channel.
func (v *Value[T]) Updates() <-chan T {
	return v.updates
}
