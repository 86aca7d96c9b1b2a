package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/queue"
	kwtesting "github.com/sttts/kw/internal/testing"
	"github.com/sttts/kw/internal/testlog"
)

// goroutineRenderer runs callbacks on its own goroutine, in order.
type goroutineRenderer struct {
	ch chan func()
}

func newGoroutineRenderer(t *testing.T) *goroutineRenderer {
	r := &goroutineRenderer{ch: make(chan func(), 16)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case fn := <-r.ch:
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
	return r
}

func (r *goroutineRenderer) Schedule(fn func(), done func()) {
	r.ch <- func() {
		fn()
		done()
	}
}

// droppingRenderer never runs callbacks.
type droppingRenderer struct{}

func (droppingRenderer) Schedule(func(), func()) {}

type state struct {
	mu  sync.Mutex
	log []string
}

func (s *state) add(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, v)
}

func (s *state) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func newDispatcher(t *testing.T, opts Options) *Dispatcher[*state] {
	opts.Log = testlog.New(t)
	return New(&state{}, opts)
}

func TestDispatchSyncWaitsForCallbacks(t *testing.T) {
	d := newDispatcher(t, Options{})
	d.SetRenderer(newGoroutineRenderer(t))

	var ran atomic.Int32
	sig := SignalFunc[*state](func(c *Context[*state]) error {
		for range 3 {
			c.OnRenderer(func() {
				time.Sleep(5 * time.Millisecond)
				ran.Add(1)
			})
		}
		if got := c.Pending(); got != 3 {
			t.Errorf("pending = %d; want 3", got)
		}
		return nil
	})
	if err := d.DispatchSync(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if got := ran.Load(); got != 3 {
		t.Fatalf("expected 3 callbacks done before return, got %d", got)
	}
	if got := d.AckTimeouts(); got != 0 {
		t.Fatalf("unexpected ack timeouts: %d", got)
	}
}

func TestDispatchSyncAckTimeout(t *testing.T) {
	d := newDispatcher(t, Options{AckTimeout: 20 * time.Millisecond})
	d.SetRenderer(droppingRenderer{})

	sig := SignalFunc[*state](func(c *Context[*state]) error {
		c.OnRenderer(func() {})
		c.OnRenderer(func() {})
		return nil
	})
	start := time.Now()
	if err := d.DispatchSync(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if got := d.AckTimeouts(); got != 2 {
		t.Fatalf("expected 2 ack timeouts, got %d", got)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected independent timeouts per callback, returned after %v", elapsed)
	}
}

func TestNoRendererRunsInline(t *testing.T) {
	d := newDispatcher(t, Options{})
	ran := false
	err := d.DispatchSync(context.Background(), SignalFunc[*state](func(c *Context[*state]) error {
		c.OnRenderer(func() { ran = true })
		if !ran {
			t.Errorf("callback should have run inline")
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
}

func TestDispatchSyncReturnsError(t *testing.T) {
	d := newDispatcher(t, Options{})
	boom := errors.New("boom")
	for _, wrap := range []func(error) error{func(err error) error { return err }, Warn, Info} {
		err := d.DispatchSync(context.Background(), SignalFunc[*state](func(*Context[*state]) error { return wrap(boom) }))
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
}

func TestSeverity(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		err  error
		want Severity
	}{
		{boom, SeverityError},
		{Warn(boom), SeverityWarning},
		{Info(boom), SeverityInfo},
		{errors.Join(errors.New("other"), Info(boom)), SeverityInfo},
	}
	for _, tt := range tests {
		if got := SeverityOf(tt.err); got != tt.want {
			t.Errorf("SeverityOf(%v) = %v; want %v", tt.err, got, tt.want)
		}
	}
	if Info(nil) != nil || Warn(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestChain(t *testing.T) {
	d := newDispatcher(t, Options{})
	d.SetRenderer(newGoroutineRenderer(t))

	record := func(name string) Signal[*state] {
		return SignalFunc[*state](func(c *Context[*state]) error {
			c.OnRenderer(func() { c.State.add(name + ":render") })
			c.State.add(name)
			return nil
		})
	}
	chain := NewChain("select",
		func(c *Context[*state]) (Signal[*state], error) {
			c.OnRenderer(func() { c.State.add("show") })
			return nil, nil
		},
		Then(record("register")),
		Then(record("request")),
	)
	if err := d.DispatchSync(context.Background(), chain); err != nil {
		t.Fatal(err)
	}
	// nested dispatches wait for their own callbacks; the chain's own
	// callback only has to complete before the chain returns
	got := d.State().entries()
	want := []string{"register", "register:render", "request", "request:render"}
	var nested []string
	for _, e := range got {
		if e != "show" {
			nested = append(nested, e)
		}
	}
	if diff := cmp.Diff(want, nested); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %v", got)
	}
}

func TestChainStopsOnError(t *testing.T) {
	d := newDispatcher(t, Options{})
	boom := errors.New("boom")
	ran := false
	chain := NewChain("fail",
		func(*Context[*state]) (Signal[*state], error) { return nil, boom },
		func(*Context[*state]) (Signal[*state], error) { ran = true; return nil, nil },
	)
	if err := d.DispatchSync(context.Background(), chain); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ran {
		t.Fatalf("second step must not run")
	}
}

func TestChainReportsFollowUpErrorOnce(t *testing.T) {
	m := metrics.New()
	d := newDispatcher(t, Options{Metrics: m})
	boom := errors.New("boom")
	chain := NewChain("fail-later",
		Then(SignalFunc[*state](func(*Context[*state]) error { return nil })),
		Then(SignalFunc[*state](func(*Context[*state]) error { return boom })),
	)
	if err := d.DispatchSync(context.Background(), chain); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := testutil.ToFloat64(m.Signals.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected the failure to be reported once, got %v", got)
	}
	if got := testutil.ToFloat64(m.Signals.WithLabelValues("ok")); got != 0 {
		t.Fatalf("nested signals must not be reported, got %v ok", got)
	}
}

func TestSendAsync(t *testing.T) {
	d := newDispatcher(t, Options{Workers: 3, QueueSize: 4})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- d.Run(ctx) }()

	var n atomic.Int32
	for range 20 {
		err := d.SendAsync(ctx, SignalFunc[*state](func(*Context[*state]) error {
			n.Add(1)
			return errors.New("ignored")
		}))
		if err != nil {
			t.Fatal(err)
		}
	}
	kwtesting.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool { return n.Load() == 20 },
		"expected all signals to be handled despite errors")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if err := d.SendAsync(context.Background(), SignalFunc[*state](func(*Context[*state]) error { return nil })); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed after Run returned, got %v", err)
	}
}

func TestSendAsyncDropOldest(t *testing.T) {
	d := newDispatcher(t, Options{QueueSize: 1, Policy: queue.DropOldest})
	ctx := context.Background()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		if err := d.SendAsync(ctx, SignalFunc[*state](func(c *Context[*state]) error {
			got = append(got, name)
			return nil
		})); err != nil {
			t.Fatal(err)
		}
	}
	sig, ok := d.queue.Pop(ctx)
	if !ok {
		t.Fatalf("expected a queued signal")
	}
	_ = d.DispatchSync(ctx, sig)
	if diff := cmp.Diff([]string{"c"}, got); diff != "" {
		t.Fatalf("unexpected survivors (-want +got):\n%s", diff)
	}
	if d.queue.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", d.queue.Dropped())
	}
}
