package live

import (
	"context"
	"log/slog"
	"time"

	"rfidattendance/internal/attendance"
	"rfidattendance/internal/metrics"
)

// Publisher is the attendance.Notifier handed to the service. Notify only enqueues;
// Run moves events from the outbox to the bus.
type Publisher struct {
	outbox  chan attendance.Event
	bus     Bus
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

var _ attendance.Notifier = (*Publisher)(nil)

// NewPublisher creates a publisher with an outbox of size events.
func NewPublisher(bus Bus, size int, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		outbox:  make(chan attendance.Event, size),
		bus:     bus,
		log:     logger,
		metrics: m,
		timeout: 2 * time.Second,
	}
}

// Notify drops the event when the outbox is full.
func (p *Publisher) Notify(ev attendance.Event) {
	select {
	case p.outbox <- ev:
	default:
		p.metrics.LiveDropped("outbox")
		p.log.Warn("live outbox full, dropping event", "kind", ev.Kind, "session", ev.SessionID)
	}
}

// Run drains the outbox until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-p.outbox:
			p.publish(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev attendance.Event) {
	msg, err := FromEvent(ev)
	if err != nil {
		p.log.Error("live event not encodable", "kind", ev.Kind, "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.bus.Publish(pubCtx, msg); err != nil {
		p.metrics.LiveDropped("bus")
		p.log.Warn("live publish failed", "kind", msg.Kind, "session", msg.SessionID, "error", err)
	}
}

// Drain publishes whatever is still queued and returns once the outbox is empty or ctx is done.
func (p *Publisher) Drain(ctx context.Context) {
	for {
		select {
		case ev := <-p.outbox:
			p.publish(ctx, ev)
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}
