package audit

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), []byte(v))
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// Nil dispatcher is safe to use.
	d.Emit(context.Background(), Event{EventType: EventServiceSaved})
	d.Close()
	if len(d.DroppedByType()) != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	Emit(context.Background(), d, Event{EventType: EventServiceSaved, ServiceID: "3", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.EventType != EventServiceSaved || ev.ServiceID != "3" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be populated")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be delivered")
	}
}

func TestBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.DroppedByType()["e3"] == 0 && d.DroppedByType()["e2"] == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: false}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Now().UTC(),
		EventType: EventTicketGrantingCreated,
		TicketID:  "TGT-abc",
		Success:   true,
	})

	if !buf.Contains(EventTicketGrantingCreated) {
		t.Fatal("expected JSON line to contain event type")
	}
	if !buf.Contains(`"ticket_id":"TGT-abc"`) {
		t.Fatal("expected JSON line to contain ticket id")
	}
}

func TestCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, &countingSink{})

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "e2"})

	if got := d.DeliveredByType()["e1"]; got != 1 {
		t.Fatalf("expected e1 delivered once before close, got %d", got)
	}
	if got := d.DroppedByType()["e2"]; got != 1 {
		t.Fatalf("expected e2 counted as dropped after close, got %d", got)
	}
}

// waitTaken blocks until the dispatcher goroutine has taken every queued event.
func waitTaken(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(d.queue) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher did not take the queued event")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDropsAreCountedPerEventType(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	d.Emit(ctx, Event{EventType: EventServiceSaved})
	waitTaken(t, d)
	d.Emit(ctx, Event{EventType: EventServiceSaved})

	d.Emit(ctx, Event{EventType: EventTicketGrantingCreated})
	d.Emit(ctx, Event{EventType: EventTicketGrantingCreated})
	d.Emit(ctx, Event{EventType: EventServiceDeleted})

	dropped := d.DroppedByType()
	if len(dropped) != 2 || dropped[EventTicketGrantingCreated] != 2 || dropped[EventServiceDeleted] != 1 {
		t.Fatalf("unexpected drop counts: %v", dropped)
	}

	close(sink.gate)
	d.Close()

	delivered := d.DeliveredByType()
	if len(delivered) != 1 || delivered[EventServiceSaved] != 2 {
		t.Fatalf("unexpected delivery counts: %v", delivered)
	}
}

func TestCanceledWaitCountsAsDrop(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: EventServiceSaved})
	waitTaken(t, d)
	d.Emit(context.Background(), Event{EventType: EventServiceSaved})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{})

	if got := d.DroppedByType()[UnknownEventType]; got != 1 {
		t.Fatalf("expected untyped event counted under %q, got %v", UnknownEventType, d.DroppedByType())
	}
}

func TestNilDispatcherReportsEmptyCounts(t *testing.T) {
	var d *Dispatcher
	if got := d.DroppedByType(); len(got) != 0 {
		t.Fatalf("expected no drops, got %v", got)
	}
	if got := d.DeliveredByType(); len(got) != 0 {
		t.Fatalf("expected no deliveries, got %v", got)
	}
}

func TestEmitNilSink(t *testing.T) {
	Emit(context.Background(), nil, Event{EventType: "e1"})
}
