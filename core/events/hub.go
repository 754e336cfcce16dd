package events

import (
	"sync"
	"sync/atomic"

	"jctledger/core/types"
)

type subscriber struct {
	ch     chan *types.ScheduleEvent
	filter Filter
}

// DefaultSubscriberBuffer bounds the queue held for each subscriber.
const DefaultSubscriberBuffer = 64

// Hub fans emitted events out to subscribers. A subscriber whose buffer is
// full misses events rather than blocking the emitter.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]subscriber
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscriber)}
}

// Subscribe registers a listener for every event. The returned cancel function
// closes the channel and is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan *types.ScheduleEvent, func()) {
	return h.SubscribeFiltered(buffer, Filter{})
}

// SubscribeFiltered registers a listener that only receives events passing
// filter.
func (h *Hub) SubscribeFiltered(buffer int, filter Filter) (<-chan *types.ScheduleEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan *types.ScheduleEvent, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	payload := Payload(evt)
	if h == nil || payload == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.Match(payload.Type, payload.LinearID) {
			continue
		}
		select {
		case sub.ch <- payload.Clone():
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was
// full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Fanout forwards every event to each non-nil emitter.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
