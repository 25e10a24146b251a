package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventHub fans events out to subscribers and remembers the last event of
// each name, so late subscribers (and the status API) can catch up.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	latest map[string]Event
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs:   make(map[chan Event]struct{}),
		latest: make(map[string]Event),
	}
}

func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
// Publishing on a nil hub is a no-op.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Error("failed to marshal event")
		return
	}
	msg := Event{Name: name, Data: b, Time: time.Now()}

	h.mu.Lock()
	h.latest[name] = msg
	dropped := 0
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		logrus.WithFields(logrus.Fields{
			"event":   name,
			"dropped": dropped,
		}).Trace("slow subscribers missed event")
	}
}

// Latest returns the last event published under name.
func (h *EventHub) Latest(name string) (Event, bool) {
	if h == nil {
		return Event{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[name]
	return e, ok
}

func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
