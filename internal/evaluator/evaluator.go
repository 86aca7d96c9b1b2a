// Package evaluator turns resources into render-ready rows and keeps the
// latest row per kind and identity.
package evaluator

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/clock"

	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/resource"
)

// MaxDepth bounds how deep extractors may nest derived resources.
const MaxDepth = 8

// Evaluated is a resource together with its cells, one per column at the
// time of evaluation. Values are immutable.
type Evaluated struct {
	Resource resource.Resource
	Cells    []columns.Cell
}

type Options struct {
	// Workers bounds concurrent cell evaluations across all callers.
	Workers int
	Log     logr.Logger
	Metrics *metrics.Metrics
	Clock   clock.PassiveClock
	// Config holds compiled columns and extractors. May be nil.
	Config *columns.Config
}

// Manager caches evaluated resources keyed by kind and identity.
type Manager struct {
	log        logr.Logger
	metrics    *metrics.Metrics
	clock      clock.PassiveClock
	sem        *semaphore.Weighted
	errLimiter *rate.Limiter

	cfgMu sync.RWMutex
	cfg   *columns.Config

	mu    sync.RWMutex
	cache map[schema.GroupVersionKind]map[string]*Evaluated
}

func New(opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	m := &Manager{
		log:        opts.Log.WithName("evaluator"),
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		sem:        semaphore.NewWeighted(int64(opts.Workers)),
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		cache:      map[schema.GroupVersionKind]map[string]*Evaluated{},
	}
	m.SetConfig(opts.Config)
	return m
}

// SetConfig swaps columns and extractors. Cached rows keep their cells until
// they are replaced or re-evaluated.
func (m *Manager) SetConfig(cfg *columns.Config) {
	if cfg == nil {
		cfg = &columns.Config{}
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.cfg = cfg
}

// GetColumns returns the columns for kind: an exact match, else the closest
// configured ancestor in the derived chain ("Parent#extractor", then the
// parent kind and so on), else the default columns.
func (m *Manager) GetColumns(kind schema.GroupVersionKind) []columns.ColumnSpec {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	for k := range lookupChain(kind) {
		if cols, ok := m.cfg.Columns[k]; ok {
			return cols
		}
	}
	return columns.Default()
}

func (m *Manager) extractors(kind schema.GroupVersionKind) []*columns.Extractor {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	if xs, ok := m.cfg.Extractors[kind]; ok {
		return xs
	}
	if k, ok := resource.ExtractorKind(kind); ok {
		return m.cfg.Extractors[k]
	}
	return nil
}

// lookupChain yields kind, then for derived kinds the extractor-level key and
// the parent kind, recursively.
func lookupChain(kind schema.GroupVersionKind) iter.Seq[schema.GroupVersionKind] {
	return func(yield func(schema.GroupVersionKind) bool) {
		for {
			if !yield(kind) {
				return
			}
			if k, ok := resource.ExtractorKind(kind); ok {
				if !yield(k) {
					return
				}
			}
			parent, ok := resource.ParentKind(kind)
			if !ok {
				return
			}
			kind = parent
		}
	}
}

// Evaluate computes one cell per column on the shared worker pool. Failing
// columns become error cells; the result always has len(cols) cells.
func (m *Manager) Evaluate(ctx context.Context, r resource.Resource, cols []columns.ColumnSpec) []columns.Cell {
	cells := make([]columns.Cell, len(cols))
	now := m.clock.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i, col := range cols {
		g.Go(func() error {
			if err := m.sem.Acquire(ctx, 1); err != nil {
				cells[i] = columns.Cell{Err: err.Error()}
				return nil
			}
			defer m.sem.Release(1)
			cells[i] = m.evaluateCell(r, col, now)
			return nil
		})
	}
	_ = g.Wait()
	return cells
}

func (m *Manager) evaluateCell(r resource.Resource, col columns.ColumnSpec, now time.Time) columns.Cell {
	if col.Eval == nil {
		return columns.Cell{Err: "no evaluator"}
	}
	text, err := col.Eval.Evaluate(r, now)
	if err != nil {
		m.metrics.CellError(col.Name)
		if m.errLimiter.Allow() {
			m.log.V(1).Info("column evaluation failed", "kind", r.Kind().Kind, "namespace", r.Namespace(), "name", r.Name(), "column", col.Name, "err", err)
		}
		return columns.Cell{Err: err.Error()}
	}
	return columns.Cell{Text: text}
}

// Replace evaluates r and stores it under its kind and identity, replacing
// any previous entry. Children produced by the kind's extractors are replaced
// first.
func (m *Manager) Replace(ctx context.Context, r resource.Resource) *Evaluated {
	return m.replace(ctx, r, 0)
}

func (m *Manager) replace(ctx context.Context, r resource.Resource, depth int) *Evaluated {
	if depth < MaxDepth {
		for _, x := range m.extractors(r.Kind()) {
			children, err := x.Extract(r)
			if err != nil {
				if m.errLimiter.Allow() {
					m.log.Info("extractor failed", "severity", "warning", "kind", r.Kind().Kind, "namespace", r.Namespace(), "name", r.Name(), "err", err)
				}
				continue
			}
			for _, c := range children {
				m.replace(ctx, resource.NewPseudo(r, x.Name, c.ID, c.Value), depth+1)
			}
		}
	}

	e := &Evaluated{Resource: r, Cells: m.Evaluate(ctx, r, m.GetColumns(r.Kind()))}

	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.cache[r.Kind()]
	if !ok {
		bucket = map[string]*Evaluated{}
		m.cache[r.Kind()] = bucket
	}
	bucket[r.Identity()] = e
	m.metrics.SetCached(r.Kind().Kind, len(bucket))
	return e
}

// Reevaluate recomputes the cells of every cached resource of kind with the
// current columns. Entries replaced concurrently are left alone. It returns
// the number of updated entries.
func (m *Manager) Reevaluate(ctx context.Context, kind schema.GroupVersionKind) int {
	m.mu.RLock()
	snapshot := make([]*Evaluated, 0, len(m.cache[kind]))
	for _, e := range m.cache[kind] {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	cols := m.GetColumns(kind)
	updated := 0
	for _, old := range snapshot {
		e := &Evaluated{Resource: old.Resource, Cells: m.Evaluate(ctx, old.Resource, cols)}
		m.mu.Lock()
		if cur := m.cache[kind][old.Resource.Identity()]; cur == old {
			m.cache[kind][old.Resource.Identity()] = e
			updated++
		}
		m.mu.Unlock()
	}
	return updated
}

// Get returns the entry for identity within kind.
func (m *Manager) Get(kind schema.GroupVersionKind, identity string) (*Evaluated, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.cache[kind][identity]
	return e, ok
}

// GetResources returns a snapshot of kind's entries ordered by namespace and
// name. Later changes to the cache are not reflected.
func (m *Manager) GetResources(kind schema.GroupVersionKind) iter.Seq[*Evaluated] {
	m.mu.RLock()
	items := make([]*Evaluated, 0, len(m.cache[kind]))
	for _, e := range m.cache[kind] {
		items = append(items, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b *Evaluated) int {
		return cmp.Or(
			strings.Compare(a.Resource.Namespace(), b.Resource.Namespace()),
			strings.Compare(a.Resource.Name(), b.Resource.Name()),
			strings.Compare(a.Resource.Identity(), b.Resource.Identity()),
		)
	})
	return slices.Values(items)
}

// Kinds returns the kinds with at least one cached entry, sorted.
func (m *Manager) Kinds() []schema.GroupVersionKind {
	m.mu.RLock()
	out := make([]schema.GroupVersionKind, 0, len(m.cache))
	for k, bucket := range m.cache {
		if len(bucket) > 0 {
			out = append(out, k)
		}
	}
	m.mu.RUnlock()
	resource.SortKinds(out)
	return out
}

// Len returns the number of cached entries of kind.
func (m *Manager) Len(kind schema.GroupVersionKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache[kind])
}

func (e *Evaluated) String() string {
	return fmt.Sprintf("%s %s/%s", e.Resource.Kind().Kind, e.Resource.Namespace(), e.Resource.Name())
}
