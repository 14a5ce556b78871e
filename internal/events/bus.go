// Package events provides the fan-out channel between the producers
// (download manager, discovery scanner) and any number of subscribers.
// Delivery is per-producer FIFO; a slow subscriber never blocks a
// producer, its events are dropped with a logged warning instead.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

// Type names one lifecycle event category
type Type string

const (
	DownloadProgress            Type = "download.progress"
	DownloadCompleted           Type = "download.completed"
	DownloadFailed              Type = "download.failed"
	ProviderAvailabilityChanged Type = "provider.availability_changed"
	ModelAdded                  Type = "model.added"
	ModelRemoved                Type = "model.removed"
)

// Event is one lifecycle notification. Only the fields relevant to the
// event type are populated.
type Event struct {
	Type      Type               `json:"type"`
	Provider  provider.Type      `json:"provider,omitempty"`
	ModelID   string             `json:"model_id,omitempty"`
	Progress  *provider.Progress `json:"progress,omitempty"`
	Available *bool              `json:"available,omitempty"`
	Error     string             `json:"error,omitempty"`
	At        time.Time          `json:"at"`
}

// Subscription is the handle returned to a subscriber. Receive from C
// until Unsubscribe closes it.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Event

	ch chan Event
}

// DefaultBuffer is the per-subscriber channel depth
const DefaultBuffer = 64

// Bus is the single fan-out point for lifecycle events
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan Event
	logger *logging.Logger
}

// NewBus creates an event bus
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		subs:   make(map[uuid.UUID]chan Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given buffer depth
// (DefaultBuffer when <= 0) and returns its handle.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{
		ID: uuid.New(),
		C:  ch,
		ch: ch,
	}

	b.mu.Lock()
	b.subs[sub.ID] = ch
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber without blocking.
// An event that does not fit a subscriber's buffer is dropped.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.logger != nil {
				b.logger.Warn("events.dropped", "Subscriber buffer full, event dropped", map[string]interface{}{
					"subscriber": id.String(),
					"event":      string(event.Type),
					"model":      event.ModelID,
				})
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
