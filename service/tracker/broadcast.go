package tracker

import (
	"io"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber channel size.
const DefaultSubscriberBuffer = 64

// Broadcaster fans events out to any number of subscribers. Emit never blocks.
// When a subscriber's buffer is full its oldest queued event is evicted and an
// EventResync marker is queued instead of the new event. Later events are
// dropped until the subscriber has room again.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. A buffer of zero or less selects
// DefaultSubscriberBuffer.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Broadcaster{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

type subscriber struct {
	ch chan Event
	// lagged is set while a resync marker is queued and events are missed.
	lagged bool
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
			sub.lagged = false
			continue
		default:
		}

		b.logger.Warn("subscriber buffer full, dropping event",
			"subscriber", id,
			"kind", ev.Kind,
		)
		if sub.lagged {
			continue
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- Event{
			Kind:      EventResync,
			SessionID: ev.SessionID,
			Address:   ev.Address,
			Network:   ev.Network,
			At:        ev.At,
		}:
			sub.lagged = true
		default:
		}
	}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
