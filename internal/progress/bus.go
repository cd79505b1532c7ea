// Package progress implements the progress bus (C10, spec §4.6):
// publish-subscribe of ProgressEvents keyed by job_id/user_id, with a
// bounded per-subscriber buffer so a slow subscriber cannot block
// others. Generalizes the teacher's WebSocket broadcast pattern
// (internal/handlers/websocket.go: per-client mutex + clients map)
// into a transport-agnostic bus; internal/server wires a WebSocket
// transport adapter on top of it.
package progress

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

// subscriberBufferSize bounds each subscriber's event channel. Overflow
// drops the oldest queued event with a warning (spec §4.6).
const subscriberBufferSize = 256

// Subscription is a live registration returned by Subscribe; callers
// must call Unsubscribe when done listening.
type Subscription struct {
	id     uint64
	bus    *Bus
	Events <-chan models.ProgressEvent
}

func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id      uint64
	jobID   string // empty = all jobs
	userID  string // empty = all users
	ch      chan models.ProgressEvent
	mu      sync.Mutex // guards send-to-full-channel drop bookkeeping
}

// Bus fans out ProgressEvents to registered subscribers. Events for a
// single job are delivered to each subscriber in publish order (spec
// §5 ordering guarantee, §8.10 progress monotonicity is enforced by
// callers publishing monotonically, not by the bus).
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	logger arbor.ILogger
}

// New constructs an empty progress Bus.
func New(logger arbor.ILogger) *Bus {
	return &Bus{subs: make(map[uint64]*subscriber), logger: logger}
}

// Subscribe registers a callback-free subscription filtered by jobID
// and/or userID (either may be empty to mean "any"). The returned
// channel is closed when Unsubscribe is called.
func (b *Bus) Subscribe(jobID, userID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{
		id:     id,
		jobID:  jobID,
		userID: userID,
		ch:     make(chan models.ProgressEvent, subscriberBufferSize),
	}
	b.subs[id] = sub

	return &Subscription{id: id, bus: b, Events: sub.ch}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers event to every matching subscriber. A full
// subscriber buffer drops the oldest event rather than blocking the
// publisher (spec §4.6).
func (b *Bus) Publish(event models.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		if sub.userID != "" && sub.userID != event.UserID {
			continue
		}
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *subscriber, event models.ProgressEvent) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- event:
		return
	default:
	}

	// Buffer full: drop the oldest queued event and retry once.
	select {
	case <-sub.ch:
		b.logger.Warn().Str("job_id", event.JobID).Msg("progress bus: subscriber buffer full, dropped oldest event")
	default:
	}
	select {
	case sub.ch <- event:
	default:
		b.logger.Warn().Str("job_id", event.JobID).Msg("progress bus: subscriber buffer full, dropped new event")
	}
}
