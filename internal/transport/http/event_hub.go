package http

import (
	"context"
	"sync"

	"quiz-engine/internal/domain"
)

const subscriberBuffer = 16

// EventHub fans session events out to WebSocket subscribers. It is an engine notifier.
type EventHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan outboundMessage[any]]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[string]map[chan outboundMessage[any]]struct{})}
}

// Subscribe registers for a session's events. The channel is closed after the
// terminal event or when cancel is called. The caller must invoke cancel to avoid leaks.
func (h *EventHub) Subscribe(sessionID string) (<-chan outboundMessage[any], func()) {
	ch := make(chan outboundMessage[any], subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.subscribers[sessionID]
	if !ok {
		subs = make(map[chan outboundMessage[any]]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subscribers[sessionID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.subscribers, sessionID)
			}
		}
	}
	return ch, cancel
}

// Subscribers returns how many connections follow a session.
func (h *EventHub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}

func (h *EventHub) RoundOpened(_ context.Context, ev domain.RoundOpened) error {
	h.broadcast(ev.SessionID, outboundMessage[any]{Type: "round_opened", Payload: ev}, false)
	return nil
}

func (h *EventHub) RoundClosed(_ context.Context, ev domain.RoundClosed) error {
	h.broadcast(ev.SessionID, outboundMessage[any]{Type: "round_closed", Payload: ev}, false)
	return nil
}

func (h *EventHub) SessionCompleted(_ context.Context, ev domain.SessionCompleted) error {
	h.broadcast(ev.SessionID, outboundMessage[any]{Type: "session_completed", Payload: ev.Leaderboard}, true)
	return nil
}

func (h *EventHub) SessionAborted(_ context.Context, ev domain.SessionAborted) error {
	h.broadcast(ev.SessionID, outboundMessage[any]{Type: "session_aborted", Payload: ev}, true)
	return nil
}

func (h *EventHub) broadcast(sessionID string, msg outboundMessage[any], terminal bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[sessionID]
	for ch := range subs {
		select {
		case ch <- msg:
		default:
			// slow client: drop its oldest pending event
			select {
			case <-ch:
			default:
			}
			ch <- msg
		}
		if terminal {
			close(ch)
		}
	}
	if terminal {
		delete(h.subscribers, sessionID)
	}
}
