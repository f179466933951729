package service

import "sync"

// SessionEventType names an event pushed to stream subscribers of a session.
type SessionEventType string

const (
	SessionEventState        SessionEventType = "state"
	SessionEventTick         SessionEventType = "tick"
	SessionEventSubmitted    SessionEventType = "submitted"
	SessionEventSubmitFailed SessionEventType = "submit_failed"
	SessionEventClosed       SessionEventType = "closed"
)

// SessionEvent is one message for stream subscribers.
type SessionEvent struct {
	Type SessionEventType `json:"event"`
	Data interface{}      `json:"data,omitempty"`
}

const subscriberBuffer = 32

// sessionHub fans events out to the stream connections of one session.
// Slow subscribers lose events rather than blocking the controller.
type sessionHub struct {
	mu     sync.Mutex
	subs   map[chan SessionEvent]struct{}
	closed bool
}

func newSessionHub() *sessionHub {
	return &sessionHub{subs: make(map[chan SessionEvent]struct{})}
}

// subscribe registers a subscriber. The returned func unsubscribes; the
// channel is closed when the subscriber leaves or the hub closes.
func (h *sessionHub) subscribe() (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *sessionHub) broadcast(ev SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close sends a final event and disconnects every subscriber.
func (h *sessionHub) close(final SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		select {
		case ch <- final:
		default:
		}
		close(ch)
		delete(h.subs, ch)
	}
}

func (h *sessionHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
