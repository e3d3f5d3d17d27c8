package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// UnknownEventType labels counts for events emitted without an EventType.
const UnknownEventType = "unknown"

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards registry events to a sink from a background goroutine.
// It keeps, per event type, the number of events the sink received and the
// number that never reached it: queue full with DropIfFull, ctx done while
// waiting for space, or Emit after Close.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	dropped   map[string]uint64
	delivered map[string]uint64

	closing   atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher writing to sink. It returns nil when cfg
// is disabled; a nil *Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:       cfg,
		sink:      sink,
		queue:     make(chan Event, cfg.BufferSize),
		stop:      make(chan struct{}),
		dropped:   make(map[string]uint64),
		delivered: make(map[string]uint64),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			// Flush whatever was queued before Close.
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.sink.Emit(context.Background(), event)
	d.count(d.delivered, event.EventType)
}

func (d *Dispatcher) count(counts map[string]uint64, eventType string) {
	if eventType == "" {
		eventType = UnknownEventType
	}
	d.mu.Lock()
	counts[eventType]++
	d.mu.Unlock()
}

// Emit queues event for the sink. With DropIfFull a full queue drops the
// event at once; otherwise Emit waits for space until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.closing.Load() {
		d.count(d.dropped, event.EventType)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.count(d.dropped, event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.count(d.dropped, event.EventType)
	case <-d.stop:
		d.count(d.dropped, event.EventType)
	}
}

// Close stops accepting events and waits until every queued event has been
// handed to the sink. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// DroppedByType returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	return d.snapshot(func(d *Dispatcher) map[string]uint64 { return d.dropped })
}

// DeliveredByType returns a copy of the delivery counts keyed by event type.
func (d *Dispatcher) DeliveredByType() map[string]uint64 {
	return d.snapshot(func(d *Dispatcher) map[string]uint64 { return d.delivered })
}

func (d *Dispatcher) snapshot(pick func(*Dispatcher) map[string]uint64) map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	src := pick(d)
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
