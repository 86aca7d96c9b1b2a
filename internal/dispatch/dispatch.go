// Package dispatch serializes state mutations and UI side effects. A signal
// runs on the dispatching goroutine; callbacks it schedules on the renderer
// are acknowledged before DispatchSync returns.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/queue"
)

// Renderer runs callbacks on the single UI goroutine. done must be called
// once fn has run.
type Renderer interface {
	Schedule(fn func(), done func())
}

// Signal is a unit of work dispatched against the shared state S.
type Signal[S any] interface {
	Dispatch(c *Context[S]) error
}

// SignalFunc adapts a function to Signal.
type SignalFunc[S any] func(c *Context[S]) error

func (f SignalFunc[S]) Dispatch(c *Context[S]) error { return f(c) }

// Context is handed to a signal handler. It is only valid during the dispatch.
type Context[S any] struct {
	context.Context
	State S

	d        *Dispatcher[S]
	renderer Renderer
	pending  atomic.Int32

	mu   sync.Mutex
	acks []chan struct{}
}

// OnRenderer schedules fn on the renderer goroutine. The dispatch does not
// complete before fn has run or its acknowledgment timed out. Without a
// renderer fn runs inline.
func (c *Context[S]) OnRenderer(fn func()) {
	ack := make(chan struct{})
	var once sync.Once
	done := func() { once.Do(func() { close(ack) }) }

	c.mu.Lock()
	c.acks = append(c.acks, ack)
	c.mu.Unlock()
	c.pending.Add(1)

	if c.renderer == nil {
		fn()
		done()
		return
	}
	c.renderer.Schedule(fn, done)
}

// Pending returns the number of callbacks scheduled so far.
func (c *Context[S]) Pending() int { return int(c.pending.Load()) }

// Dispatch runs sig synchronously in a fresh context, including waiting for
// its renderer callbacks. The error is returned to the enclosing handler and
// only reported once, by the outermost DispatchSync.
func (c *Context[S]) Dispatch(sig Signal[S]) error {
	return c.d.run(c.Context, sig)
}

type Options struct {
	Workers    int
	QueueSize  int
	Policy     queue.Policy
	AckTimeout time.Duration
	Log        logr.Logger
	Metrics    *metrics.Metrics
}

// Dispatcher delivers signals synchronously or through a bounded queue
// drained by a fixed set of workers.
type Dispatcher[S any] struct {
	state      S
	workers    int
	ackTimeout time.Duration
	log        logr.Logger
	metrics    *metrics.Metrics
	queue      *queue.Queue[Signal[S]]

	renderer    atomic.Pointer[rendererBox]
	ackTimeouts atomic.Uint64
}

type rendererBox struct{ r Renderer }

func New[S any](state S, opts Options) *Dispatcher[S] {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = time.Second
	}
	d := &Dispatcher[S]{
		state:      state,
		workers:    opts.Workers,
		ackTimeout: opts.AckTimeout,
		log:        opts.Log.WithName("dispatch"),
		metrics:    opts.Metrics,
	}
	d.queue = queue.New(opts.QueueSize, opts.Policy, queue.WithDropHandler(func(sig Signal[S]) {
		d.metrics.QueueDrop("signals")
		d.log.Info("dropped signal", "severity", "warning", "signal", signalName(sig))
	}))
	return d
}

// SetRenderer installs r for subsequent dispatches. Nil runs callbacks inline.
func (d *Dispatcher[S]) SetRenderer(r Renderer) {
	d.renderer.Store(&rendererBox{r: r})
}

func (d *Dispatcher[S]) currentRenderer() Renderer {
	if b := d.renderer.Load(); b != nil {
		return b.r
	}
	return nil
}

// State returns the shared state.
func (d *Dispatcher[S]) State() S { return d.state }

// AckTimeouts returns how many callbacks were not acknowledged in time.
func (d *Dispatcher[S]) AckTimeouts() uint64 { return d.ackTimeouts.Load() }

// DispatchSync runs sig on the calling goroutine and waits for every renderer
// callback it scheduled, each up to the ack timeout. The handler error is
// logged according to its severity and returned.
func (d *Dispatcher[S]) DispatchSync(ctx context.Context, sig Signal[S]) error {
	err := d.run(ctx, sig)
	d.report(sig, err)
	return err
}

func (d *Dispatcher[S]) run(ctx context.Context, sig Signal[S]) error {
	c := &Context[S]{Context: ctx, State: d.state, d: d, renderer: d.currentRenderer()}
	err := sig.Dispatch(c)
	d.await(c, sig)
	return err
}

func (d *Dispatcher[S]) await(c *Context[S], sig Signal[S]) {
	c.mu.Lock()
	acks := c.acks
	c.acks = nil
	c.mu.Unlock()

	for i, ack := range acks {
		t := time.NewTimer(d.ackTimeout)
		select {
		case <-ack:
		case <-t.C:
			d.ackTimeouts.Add(1)
			d.metrics.AckTimeout()
			d.log.Info("renderer callback not acknowledged", "severity", "warning", "signal", signalName(sig), "callback", i, "timeout", d.ackTimeout)
		}
		t.Stop()
	}
}

func (d *Dispatcher[S]) report(sig Signal[S], err error) {
	if err == nil {
		d.metrics.Signal("ok")
		return
	}
	name := signalName(sig)
	switch sev := SeverityOf(err); sev {
	case SeverityInfo:
		d.log.V(1).Info("signal finished", "signal", name, "reason", err.Error())
	case SeverityWarning:
		d.log.Info("signal failed", "severity", "warning", "signal", name, "err", err)
	default:
		d.log.Error(err, "signal failed", "signal", name)
	}
	d.metrics.Signal(SeverityOf(err).String())
}

// SendAsync enqueues sig for the workers. Depending on the queue policy it
// blocks until there is room or drops the oldest queued signal.
func (d *Dispatcher[S]) SendAsync(ctx context.Context, sig Signal[S]) error {
	return d.queue.Push(ctx, sig)
}

// Run starts the workers and blocks until ctx is done. Each worker dispatches
// one signal at a time.
func (d *Dispatcher[S]) Run(ctx context.Context) error {
	defer d.queue.Close()
	g, ctx := errgroup.WithContext(ctx)
	for range d.workers {
		g.Go(func() error {
			for {
				sig, ok := d.queue.Pop(ctx)
				if !ok {
					return nil
				}
				_ = d.DispatchSync(ctx, sig)
			}
		})
	}
	return g.Wait()
}

func signalName(sig any) string {
	if n, ok := sig.(interface{ SignalName() string }); ok {
		return n.SignalName()
	}
	return fmt.Sprintf("%T", sig)
}
