// Package event delivers device inventory events to listeners.
package event

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"netcontrol/internal/device"
)

// Listener is a callback for device events.
type Listener func(device.Event)

type subscription struct {
	id     uint64
	filter device.EventType // empty matches every type
	fn     Listener
}

type item struct {
	ev      device.Event
	barrier chan struct{}
}

// Fanout delivers posted events to listeners in registration order, on a
// single dispatch goroutine, so producers never run listener code.
// A panicking listener is recovered and the remaining listeners still run.
type Fanout struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   atomic.Pointer[[]subscription]

	queue   chan item
	stopped chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewFanout creates a fanout with a queue of the given size.
func NewFanout(logger *slog.Logger, queueSize int) *Fanout {
	if queueSize <= 0 {
		queueSize = 1024
	}
	f := &Fanout{
		logger:  logger.With("component", "events"),
		queue:   make(chan item, queueSize),
		stopped: make(chan struct{}),
	}
	f.subs.Store(&[]subscription{})
	return f
}

// On registers a listener for one event type. Returns an unsubscribe function.
func (f *Fanout) On(t device.EventType, fn Listener) func() {
	return f.add(t, fn)
}

// OnAll registers a listener that receives all events.
// Returns an unsubscribe function.
func (f *Fanout) OnAll(fn Listener) func() {
	return f.add("", fn)
}

func (f *Fanout) add(t device.EventType, fn Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	next := append(slices.Clip(*f.subs.Load()), subscription{id: id, filter: t, fn: fn})
	f.subs.Store(&next)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		cur := *f.subs.Load()
		i := slices.IndexFunc(cur, func(s subscription) bool { return s.id == id })
		if i < 0 {
			return
		}
		next := slices.Delete(slices.Clone(cur), i, i+1)
		f.subs.Store(&next)
	}
}

// Start launches the dispatch goroutine.
func (f *Fanout) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.run(ctx)
}

// Stop delivers what is already queued and stops dispatching. Events posted
// afterwards are dropped.
func (f *Fanout) Stop() {
	f.once.Do(func() {
		close(f.stopped)
		if f.cancel != nil {
			f.cancel()
		}
		f.wg.Wait()
	})
}

// Post queues ev for delivery.
func (f *Fanout) Post(ev device.Event) {
	select {
	case <-f.stopped:
		f.logger.Debug("event dropped after stop", "type", ev.Type, "device", ev.Subject())
		return
	default:
	}
	select {
	case f.queue <- item{ev: ev}:
	case <-f.stopped:
		f.logger.Debug("event dropped after stop", "type", ev.Type, "device", ev.Subject())
	}
}

// Sync blocks until every event posted before the call has been delivered,
// or ctx is done.
func (f *Fanout) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case f.queue <- item{barrier: done}:
	case <-f.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-f.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fanout) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case it := <-f.queue:
			f.handle(it)
		case <-ctx.Done():
			for {
				select {
				case it := <-f.queue:
					f.handle(it)
				default:
					return
				}
			}
		}
	}
}

func (f *Fanout) handle(it item) {
	if it.barrier != nil {
		close(it.barrier)
		return
	}
	f.Dispatch(it.ev)
}

// Dispatch delivers ev synchronously on the caller's goroutine.
func (f *Fanout) Dispatch(ev device.Event) {
	for _, s := range *f.subs.Load() {
		if s.filter != "" && s.filter != ev.Type {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("event listener panic", "type", ev.Type, "device", ev.Subject(), "panic", r)
				}
			}()
			s.fn(ev)
		}()
	}
}
