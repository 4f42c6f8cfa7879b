package streaming

import (
	"context"
	"time"
)

// EventKind identifies a playback lifecycle event.
type EventKind int

const (
	// EventFirstFrame fires once enough media is buffered to start playback.
	EventFirstFrame EventKind = iota + 1
	// EventEnded fires when playback reaches the end of the media.
	EventEnded
	// EventError fires on a fatal playback error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFirstFrame:
		return "first-frame"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one playback lifecycle notification.
type Event struct {
	Kind EventKind
	Err  error
}

// State is a point-in-time view of the playback element.
type State struct {
	Position time.Duration
	Buffered time.Duration
	Playing  bool
	Ended    bool
}

// Player is the media element driven by a Monitor.
type Player interface {
	// Load starts fetching the media. It must not block on the transfer.
	Load(ctx context.Context) error
	Events() <-chan Event
	Play()
	State() State
	BytesTransferred() int64
	Close() error
}
