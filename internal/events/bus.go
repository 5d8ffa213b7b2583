// Package events provides the session's publish/subscribe side-channel.
// Subscribers are notified from a snapshot of the handler list, so a handler
// unsubscribing (itself or another handler) during delivery takes effect on
// the next publish rather than corrupting the current pass.
package events

import (
	"sync"

	"github.com/soracane/utaq/internal/structures"
)

// Event is anything published on the bus.
type Event interface{}

// StateChanged reports a playback state transition.
type StateChanged struct {
	State structures.PlaybackState
}

// MetadataChanged reports that metadata for the current item resolved.
type MetadataChanged struct {
	Title          string
	Artist         string
	ArtworkURL     string
	GradientTop    string
	GradientBottom string
}

// QueueChanged reports a queue mutation.
type QueueChanged struct{}

// ShuffleChanged reports a shuffle/unshuffle toggle.
type ShuffleChanged struct {
	Enabled bool
}

// GenerateFinished reports the end of a playlist generation run.
type GenerateFinished struct {
	Command string
	OK      bool
}

// PlaylistSaved reports a completed save to the content store.
type PlaylistSaved struct {
	Name string
}

// ErrorToast is the single user-facing failure channel.
type ErrorToast struct {
	Message string
}

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers the event to every handler subscribed at the time of the
// call.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	snapshot := make([]func(Event), 0, len(b.handlers))
	for _, fn := range b.handlers {
		snapshot = append(snapshot, fn)
	}
	b.mu.Unlock()

	for _, fn := range snapshot {
		fn(event)
	}
}
