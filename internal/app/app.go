// Package app wires discovery, the reflector registry, the evaluator and the
// dispatcher into one running application with an inbound command path and
// an outbound notification path.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/discovery"
	"github.com/sttts/kw/internal/dispatch"
	"github.com/sttts/kw/internal/evaluator"
	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/queue"
	"github.com/sttts/kw/internal/reflector"
	"github.com/sttts/kw/internal/resource"
	"github.com/sttts/kw/pkg/appconfig"
)

type Options struct {
	Config *appconfig.Config
	// ConfigPath is watched for changes when set.
	ConfigPath string

	Source reflector.Source
	// Lister enables periodic discovery. Optional.
	Lister   discovery.Lister
	Cache    *discovery.FileCache
	Identity string
	Table    *resource.Table

	Deleter   Deleter
	Logs      LogStreamer
	Forwarder PortForwarder

	Log     logr.Logger
	Metrics *metrics.Metrics
	Clock   clock.WithTicker
}

type App struct {
	log        logr.Logger
	configPath string
	state      *State
	dispatcher *dispatch.Dispatcher[*State]
	registry   *reflector.Registry
	manager    *evaluator.Manager
	refresher  *discovery.Refresher
}

// New builds the application. Invalid column or extractor entries are
// logged and left out; the remaining configuration is used.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = appconfig.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Table == nil {
		opts.Table = resource.DefaultTable()
	}
	log := opts.Log

	policy, err := queue.ParsePolicy(cfg.Dispatcher.QueuePolicy)
	if err != nil {
		return nil, fmt.Errorf("dispatcher.queuePolicy: %w", err)
	}
	colCfg, err := columns.Build(cfg)
	if err != nil {
		log.Info("ignoring invalid column configuration", "severity", "warning", "err", err)
	}

	manager := evaluator.New(evaluator.Options{
		Workers: cfg.Evaluator.Workers,
		Log:     log,
		Metrics: opts.Metrics,
		Clock:   opts.Clock,
		Config:  colCfg,
	})
	registry := reflector.New(reflector.Options{
		Source:    opts.Source,
		Table:     opts.Table,
		Store:     manager,
		QueueSize: cfg.Dispatcher.QueueSize,
		Clock:     opts.Clock,
		Log:       log,
		Metrics:   opts.Metrics,
	})
	state := &State{
		Registry:      registry,
		Manager:       manager,
		Table:         opts.Table,
		Deleter:       opts.Deleter,
		Logs:          opts.Logs,
		Forwarder:     opts.Forwarder,
		log:           log.WithName("app"),
		notifications: queue.New[Notification](cfg.Dispatcher.QueueSize, queue.Block),
		stale:         sets.New[schema.GroupVersionKind](),
		logSubs:       map[LogKey]context.CancelFunc{},
		forwards:      map[ForwardKey]context.CancelFunc{},
	}
	a := &App{
		log:        log.WithName("app"),
		configPath: opts.ConfigPath,
		state:      state,
		registry:   registry,
		manager:    manager,
		dispatcher: dispatch.New(state, dispatch.Options{
			Workers:    cfg.Dispatcher.Workers,
			QueueSize:  cfg.Dispatcher.QueueSize,
			Policy:     policy,
			AckTimeout: cfg.Dispatcher.AckTimeout.Duration,
			Log:        log,
			Metrics:    opts.Metrics,
		}),
	}
	if opts.Lister != nil {
		a.refresher = discovery.NewRefresher(discovery.Options{
			Lister:   opts.Lister,
			Table:    opts.Table,
			Cache:    opts.Cache,
			Identity: opts.Identity,
			Interval: cfg.Discovery.Interval.Duration,
			Clock:    opts.Clock,
			Log:      log,
			Metrics:  opts.Metrics,
		})
	}
	return a, nil
}

// State returns the state shared by all signals.
func (a *App) State() *State { return a.state }

// Send queues a command for the dispatcher workers.
func (a *App) Send(ctx context.Context, sig Signal) error {
	return a.dispatcher.SendAsync(ctx, sig)
}

// Dispatch runs sig synchronously, including its renderer callbacks.
func (a *App) Dispatch(ctx context.Context, sig Signal) error {
	return a.dispatcher.DispatchSync(ctx, sig)
}

// Notifications exposes the outbound notifications. With an attached view
// they are consumed by Run and must not be read elsewhere.
func (a *App) Notifications() <-chan Notification {
	return a.state.notifications.C()
}

// Attach installs the view and its renderer. It must be called before Run.
func (a *App) Attach(view View, r dispatch.Renderer) {
	a.state.mu.Lock()
	a.state.view = view
	a.state.mu.Unlock()
	a.dispatcher.SetRenderer(r)
}

// Reconfigure compiles cfg and applies it through the dispatcher. Invalid
// entries are dropped and reported in the returned error.
func (a *App) Reconfigure(ctx context.Context, cfg *appconfig.Config) error {
	colCfg, err := columns.Build(cfg)
	if sendErr := a.Send(ctx, reconfigure{config: colCfg}); sendErr != nil {
		return sendErr
	}
	return err
}

// Run starts all loops and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.dispatcher.Run(ctx) })

	// single forwarder: per-kind order is kept by dispatching synchronously
	g.Go(func() error {
		return a.registry.Run(ctx, func(ev reflector.Event) {
			_ = a.dispatcher.DispatchSync(ctx, resourceChanged{event: ev})
		})
	})

	if a.refresher != nil {
		g.Go(func() error {
			a.refresher.Run(ctx, func(kinds []schema.GroupVersionKind) {
				_ = a.dispatcher.DispatchSync(ctx, kindsDiscovered{kinds: kinds})
			})
			return nil
		})
	}

	if a.configPath != "" {
		g.Go(func() error {
			err := appconfig.Watch(ctx, a.configPath, 250*time.Millisecond, a.log, func(cfg *appconfig.Config) {
				if err := a.Reconfigure(ctx, cfg); err != nil {
					a.log.Info("config partially applied", "severity", "warning", "err", err)
				}
			})
			if err != nil {
				a.log.Info("config hot reload disabled", "severity", "warning", "err", err)
			}
			return nil
		})
	}

	if a.state.View() != nil {
		g.Go(func() error {
			for {
				n, ok := a.state.notifications.Pop(ctx)
				if !ok {
					return nil
				}
				_ = a.dispatcher.DispatchSync(ctx, present{n: n})
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.registry.Stop()
		a.state.notifications.Close()
		return nil
	})

	return g.Wait()
}
