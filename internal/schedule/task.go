// Package schedule runs a function immediately and then at a fixed interval
// until it reports completion or is stopped.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Func is one run of a scheduled task. It returns true when the task is
// complete and must not run again. ctx is cancelled by Stop.
type Func func(ctx context.Context) bool

// Task is a running schedule.
type Task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Every starts fn on a new goroutine: once immediately, then every interval
// until fn returns true or Stop is called. Runs never overlap.
func Every(interval time.Duration, fn Func) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.run(ctx, interval, fn)
	return t
}

func (t *Task) run(ctx context.Context, interval time.Duration, fn Func) {
	defer close(t.done)
	defer t.cancel()

	if fn(ctx) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if fn(ctx) {
				return
			}
		}
	}
}

// Stop cancels the task and waits for an in-flight run to return.
// It is safe to call more than once and from several goroutines.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has finished, either because fn reported
// completion or because Stop was called.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
