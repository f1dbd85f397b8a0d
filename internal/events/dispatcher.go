package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"papertrade/internal/metrics"
)

const defaultSinkQueue = 256

type Sink interface {
	PublishJSON(ctx context.Context, evt Event) error
}

// Dispatcher delivers an event to the bus synchronously and hands it to the
// optional external sink through a buffered queue drained by one worker, so a
// slow sink never delays the caller. Events are dropped when the queue is full.
// Delivery failures are logged only.
type Dispatcher struct {
	bus     *Bus
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewDispatcher(bus *Bus, sink Sink, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return newDispatcher(bus, sink, logger, m, defaultSinkQueue)
}

func newDispatcher(bus *Bus, sink Sink, logger *slog.Logger, m *metrics.Metrics, queueSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{bus: bus, sink: sink, timeout: 5 * time.Second, logger: logger, metrics: m, done: make(chan struct{})}
	if sink == nil {
		close(d.done)
		return d
	}
	d.queue = make(chan Event, queueSize)
	go d.run()
	return d
}

func (d *Dispatcher) Publish(evt Event) {
	if d.bus != nil {
		d.bus.Publish(evt)
		d.metrics.EventPublished("bus", "ok")
	}
	if d.sink == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.EventPublished("kafka", "dropped")
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.metrics.EventPublished("kafka", "dropped")
		d.logger.Warn("event queue full, dropping event", "type", evt.Type, "user_id", evt.UserID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.PublishJSON(ctx, evt); err != nil {
		d.metrics.EventPublished("kafka", "error")
		d.logger.Error("publish settlement event failed", "type", evt.Type, "user_id", evt.UserID, "error", err)
		return
	}
	d.metrics.EventPublished("kafka", "ok")
}

// Close stops accepting sink deliveries and waits for queued events to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		if d.queue != nil {
			close(d.queue)
		}
	}
	d.mu.Unlock()
	<-d.done
}
