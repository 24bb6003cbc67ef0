package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"fumen/internal/domain"
)

// Op is the kind of change an Event reports.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
	OpLoaded  Op = "loaded"
)

// Event is a committed change to the store.
type Event struct {
	Op   Op
	Kind domain.Kind
	ID   int64
	// Node is the record as created, the partial record that was applied for
	// an update, or the record passed to delete.
	Node domain.Node
	// Origin is the value attached with WithOrigin to the mutating context.
	Origin string
	// LatestFieldID is set for OpDeleted and OpLoaded; -1 when no field is left.
	LatestFieldID int64
	// Blob is the loaded database for OpLoaded.
	Blob []byte
}

type subscriber struct {
	id int
	fn func(Event)
}

type queued struct {
	ev *Event
	fn func()
}

// dispatcher delivers events on one goroutine in the order they were queued.
// Queueing happens under the store lock, so delivery order is commit order,
// and subscribers are free to call back into the store.
type dispatcher struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
	queue  []queued
	wake   chan struct{}
	done   chan struct{}
	closed bool
	logger *zap.Logger
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) publish(ev Event) {
	d.enqueue(queued{ev: &ev})
}

func (d *dispatcher) call(fn func()) {
	d.enqueue(queued{fn: fn})
}

func (d *dispatcher) enqueue(q queued) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, q)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			q := d.queue[0]
			d.queue = d.queue[1:]
			subs := append([]subscriber(nil), d.subs...)
			d.mu.Unlock()

			if q.fn != nil {
				d.safely(q.fn)
				continue
			}
			for _, s := range subs {
				ev := *q.ev
				d.safely(func() { s.fn(ev) })
			}
		}
	}
}

func (d *dispatcher) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("store subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.queue = nil
	close(d.done)
}

// Subscribe registers fn for every committed change and returns a function
// that removes it. fn runs on the store's notification goroutine.
func (s *GraphStore) Subscribe(fn func(Event)) (cancel func()) {
	return s.events.subscribe(fn)
}

// Flush blocks until every event queued before the call has been delivered.
func (s *GraphStore) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	s.events.mu.Lock()
	closed := s.events.closed
	s.events.mu.Unlock()
	if closed {
		return nil
	}
	s.events.call(func() { close(reached) })
	select {
	case <-reached:
		return nil
	case <-s.events.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit queues ev and then the AfterCommit hook of ctx, if any. Callers hold
// the store lock, so nothing committed later is delivered in between.
func (s *GraphStore) commit(ctx context.Context, ev Event) {
	s.events.publish(ev)
	s.afterCommit(ctx, ev)
}

func (s *GraphStore) afterCommit(ctx context.Context, ev Event) {
	if fn, ok := ctx.Value(hookKey{}).(func(Event)); ok && fn != nil {
		s.events.call(func() { fn(ev) })
	}
}

type (
	originKey struct{}
	hookKey   struct{}
)

// AfterCommit makes a successful mutation run fn with its event on the
// notification goroutine, after subscribers saw the change and before any
// later change is delivered. An update with nothing to write still runs fn,
// though subscribers are not notified. fn does not run when the mutation
// fails.
func AfterCommit(ctx context.Context, fn func(Event)) context.Context {
	return context.WithValue(ctx, hookKey{}, fn)
}

// WithOrigin tags mutations made with ctx so subscribers can see who asked
// for them.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	o, _ := ctx.Value(originKey{}).(string)
	return o
}
