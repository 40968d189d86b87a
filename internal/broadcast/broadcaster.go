// Package broadcast delivers best-effort change events to in-process
// subscribers and watches the catalog file for writes made by other
// processes. Publishing never blocks and never fails a storage write.
package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind enumerates what changed.
type Kind string

const (
	KindMemoryCreated   Kind = "memory_created"
	KindMemoryUpdated   Kind = "memory_updated"
	KindMemoryDeleted   Kind = "memory_deleted"
	KindActivityLogged  Kind = "activity_logged"
	KindSessionUpdated  Kind = "session_updated"
	KindStatsUpdated    Kind = "stats_updated"
	KindDatabaseChanged Kind = "database_changed"
)

// Event is one change notification. Dropped reports how many events this
// subscriber lost since its previous delivery.
type Event struct {
	Kind        Kind      `json:"kind"`
	EntityID    string    `json:"entity_id,omitempty"`
	ProjectPath string    `json:"project_path"`
	Timestamp   time.Time `json:"timestamp"`
	Dropped     int       `json:"dropped_count,omitempty"`
}

// DefaultQueueSize bounds each subscriber's event queue.
const DefaultQueueSize = 256

// Broadcaster fans events out to subscribers. Slow subscribers lose their
// oldest events individually; nobody else is affected.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[int]*subscriber
	nextID    int
	queueSize int
	closed    bool
	logger    *zap.Logger
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// New creates a broadcaster with the given per-subscriber queue bound.
func New(queueSize int, logger *zap.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:      make(map[int]*subscriber),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers a listener. The cancel function removes it and closes
// the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, b.queueSize)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber without blocking. A full
// queue drops that subscriber's oldest event; the loss is reported via the
// Dropped field of the next event it receives.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		ev.Dropped = sub.dropped
		for {
			select {
			case sub.ch <- ev:
				sub.dropped = 0
			default:
				// Drop the oldest queued event and retry once the slot frees.
				select {
				case <-sub.ch:
					sub.dropped++
					ev.Dropped = sub.dropped
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
