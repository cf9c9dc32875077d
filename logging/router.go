package logging

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultDropWarnInterval = 5 * time.Second
	sinkRetryInitial        = 500 * time.Millisecond
	sinkRetryMax            = 30 * time.Second
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Printer receives router diagnostics such as dropped events and failing sinks.
type Printer interface {
	Printf(format string, args ...any)
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans events out to sinks on background workers so publishers never
// block the tick.
type Router struct {
	cfg          Config
	queue        chan Event
	sinks        []*sinkWorker
	clock        Clock
	fallback     Printer
	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	minSeverity  Severity
	fields       map[string]any
	wg           sync.WaitGroup
	dispatchOnce sync.Once

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	dropWarn     *rate.Sometimes
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
	// SinkDropped counts events a sink's backlog refused, by sink name.
	SinkDropped map[string]uint64
}

func NewRouter(cfg Config, clock Clock, fallback Printer, namedSinks []NamedSink) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = discardPrinter{}
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	warnEvery := cfg.DropWarnInterval
	if warnEvery <= 0 {
		warnEvery = defaultDropWarnInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:         cfg,
		queue:       make(chan Event, bufferSize),
		clock:       clock,
		fallback:    fallback,
		ctx:         ctx,
		cancel:      cancel,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		dropWarn:    &rate.Sometimes{Interval: warnEvery},
	}

	sinkBuffer := min(max(bufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, newSinkWorker(named.Name, named.Sink, sinkBuffer, fallback, warnEvery))
	}

	r.start()
	return r
}

func (r *Router) start() {
	r.dispatchOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer func() {
				for _, worker := range r.sinks {
					close(worker.events)
				}
				r.wg.Done()
			}()
			for {
				select {
				case <-r.ctx.Done():
					r.drain()
					return
				case event := <-r.queue:
					r.forward(event)
				}
			}
		}()

		for _, worker := range r.sinks {
			r.wg.Add(1)
			go func(w *sinkWorker) {
				defer r.wg.Done()
				w.run()
			}(worker)
		}
	})
}

func (r *Router) drain() {
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		default:
			return
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.eventsTotal.Add(1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" {
		return
	}
	if r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.handleDrop(event)
	}
}

func (r *Router) handleDrop(event Event) {
	r.droppedTotal.Add(1)
	r.dropWarn.Do(func() {
		r.fallback.Printf("[logging] queue full, dropping event type=%s tick=%d (dropped=%d)", event.Type, event.Tick, r.droppedTotal.Load())
	})
}

// Close drains queued events into the sinks and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
	for _, worker := range r.sinks {
		if dropped := worker.dropped.Load(); dropped > 0 {
			if stats.SinkDropped == nil {
				stats.SinkDropped = make(map[string]uint64)
			}
			stats.SinkDropped[worker.name] = dropped
		}
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

// sinkWorker feeds one sink. A failing sink is paused with exponential
// backoff instead of dropping the router.
type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback Printer
	backoff  *backoff.ExponentialBackOff
	failing  bool
	dropped  atomic.Uint64
	dropWarn *rate.Sometimes
}

func newSinkWorker(name string, sink Sink, buffer int, fallback Printer, warnEvery time.Duration) *sinkWorker {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = sinkRetryInitial
	policy.MaxInterval = sinkRetryMax
	return &sinkWorker{
		name:     name,
		sink:     sink,
		events:   make(chan Event, buffer),
		fallback: fallback,
		backoff:  policy,
		dropWarn: &rate.Sometimes{Interval: warnEvery},
	}
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.dropped.Add(1)
		w.dropWarn.Do(func() {
			w.fallback.Printf("[logging] sink %s backlog full, dropping event type=%s", w.name, event.Type)
		})
	}
}

func (w *sinkWorker) run() {
	var wait time.Duration
	for event := range w.events {
		if w.failing && wait > 0 {
			time.Sleep(wait)
		}
		if err := w.sink.Write(event); err != nil {
			wait = w.backoff.NextBackOff()
			w.failing = true
			w.fallback.Printf("[logging] sink %s failed: %v (retry in %s)", w.name, err, wait)
			continue
		}
		if w.failing {
			w.failing = false
			w.backoff.Reset()
			wait = 0
		}
	}
}

type discardPrinter struct{}

func (discardPrinter) Printf(string, ...any) {}

// SyncPublisher writes straight into a sink on the caller's goroutine.
type SyncPublisher struct {
	Sink  Sink
	Clock Clock
}

func (p SyncPublisher) Publish(_ context.Context, event Event) {
	if p.Sink == nil || event.Type == "" {
		return
	}
	if event.Time.IsZero() {
		clock := p.Clock
		if clock == nil {
			clock = SystemClock{}
		}
		event.Time = clock.Now()
	}
	_ = p.Sink.Write(event)
}
