package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rfidattendance/internal/metrics"
)

// Subscriber is one dashboard connection for one session.
type Subscriber struct {
	SessionID string
	UserID    string
	ch        chan Message
	closed    bool
}

// Messages is closed when the hub drops the subscriber.
func (s *Subscriber) Messages() <-chan Message { return s.ch }

type userKey struct {
	user    string
	session string
}

// Hub keeps the subscribers connected to this instance and delivers messages to them
// without blocking: a subscriber whose buffer is full is dropped.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*Subscriber]struct{}
	byUser  map[userKey]*Subscriber
	buffer  int
	log     *slog.Logger
	metrics *metrics.Metrics

	retryMin time.Duration
	retryMax time.Duration
}

// NewHub creates a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]map[*Subscriber]struct{}),
		byUser:  make(map[userKey]*Subscriber),
		buffer:   buffer,
		log:      logger,
		metrics:  m,
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
}

// Subscribe registers a channel for sessionID. A non-empty userID replaces that user's
// previous subscription to the same session.
func (h *Hub) Subscribe(sessionID, userID string) *Subscriber {
	sub := &Subscriber{SessionID: sessionID, UserID: userID, ch: make(chan Message, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if userID != "" {
		key := userKey{user: userID, session: sessionID}
		if old, ok := h.byUser[key]; ok {
			h.removeLocked(old)
		}
		h.byUser[key] = sub
	}
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.metrics.SubscriberAdded()
	return sub
}

// Unsubscribe removes sub. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if set, ok := h.subs[sub.SessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.SessionID)
		}
	}
	if sub.UserID != "" {
		key := userKey{user: sub.UserID, session: sub.SessionID}
		if h.byUser[key] == sub {
			delete(h.byUser, key)
		}
	}
	h.metrics.SubscriberRemoved()
}

// Dispatch delivers msg to every subscriber of its session.
func (h *Hub) Dispatch(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[msg.SessionID] {
		select {
		case sub.ch <- msg:
		default:
			h.metrics.LiveDropped("subscriber")
			h.log.Warn("live subscriber too slow, disconnecting", "session", sub.SessionID, "user", sub.UserID)
			h.removeLocked(sub)
		}
	}
}

// Subscribers returns the number of subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Run consumes bus and dispatches locally until ctx is done. A failed or lost
// subscription is retried with exponential backoff.
func (h *Hub) Run(ctx context.Context, bus Bus) {
	wait := h.retryMin
	for {
		in, err := bus.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Warn("live bus subscribe failed, retrying", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, h.retryMax)
			continue
		}
		wait = h.retryMin
		for msg := range in {
			h.Dispatch(msg)
		}
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("live bus subscription ended, resubscribing")
	}
}
