// Package discovery enumerates the kinds served by the API server and keeps
// a per-cluster copy of the list on disk.
package discovery

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/sets"
	clientdiscovery "k8s.io/client-go/discovery"
	"k8s.io/utils/clock"

	"github.com/sttts/kw/internal/metrics"
	"github.com/sttts/kw/internal/resource"
)

// Lister is the part of the discovery client used here.
type Lister interface {
	ServerPreferredResources() ([]*metav1.APIResourceList, error)
}

type Options struct {
	Lister Lister
	// Table receives plural and scope of every discovered kind. Optional.
	Table *resource.Table
	// Cache and Identity enable the on-disk kind list. Optional.
	Cache    *FileCache
	Identity string
	Interval time.Duration
	Clock    clock.WithTicker
	Log      logr.Logger
	Metrics  *metrics.Metrics
}

// Refresher periodically rediscovers kinds.
type Refresher struct {
	lister   Lister
	table    *resource.Table
	cache    *FileCache
	identity string
	interval time.Duration
	clock    clock.WithTicker
	log      logr.Logger
	metrics  *metrics.Metrics
}

func NewRefresher(opts Options) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Refresher{
		lister:   opts.Lister,
		table:    opts.Table,
		cache:    opts.Cache,
		identity: opts.Identity,
		interval: opts.Interval,
		clock:    opts.Clock,
		log:      opts.Log.WithName("discovery"),
		metrics:  opts.Metrics,
	}
}

// Refresh asks the server for its preferred resources and returns the
// listable and watchable kinds, sorted. Results of a partially failed
// discovery are used.
func (r *Refresher) Refresh(_ context.Context) ([]schema.GroupVersionKind, error) {
	if inv, ok := r.lister.(clientdiscovery.CachedDiscoveryInterface); ok {
		inv.Invalidate()
	}
	lists, err := r.lister.ServerPreferredResources()
	if err != nil {
		if !clientdiscovery.IsGroupDiscoveryFailedError(err) || len(lists) == 0 {
			r.metrics.DiscoveryRun("error")
			return nil, fmt.Errorf("failed to get server resources: %w", err)
		}
		r.log.Info("partial discovery", "severity", "warning", "err", err)
	}

	seen := sets.New[schema.GroupVersionKind]()
	for _, list := range lists {
		if list == nil {
			continue
		}
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			r.log.V(1).Info("skipping group version", "groupVersion", list.GroupVersion, "err", err)
			continue
		}
		for _, res := range list.APIResources {
			if isSubresource(res.Name) || isNonResourceType(res.Kind) || !listWatchable(res.Verbs) {
				continue
			}
			gvk := gv.WithKind(res.Kind)
			if res.Group != "" || res.Version != "" {
				gvk = schema.GroupVersionKind{Group: cmp.Or(res.Group, gv.Group), Version: cmp.Or(res.Version, gv.Version), Kind: res.Kind}
			}
			if seen.Has(gvk) {
				continue
			}
			seen.Insert(gvk)
			if r.table != nil {
				r.table.Add(resource.Info{Kind: gvk, Resource: res.Name, Namespaced: res.Namespaced})
			}
		}
	}
	kinds := seen.UnsortedList()
	resource.SortKinds(kinds)
	r.metrics.DiscoveryRun("ok")
	return kinds, nil
}

// Run publishes the cached kind list if there is one, then refreshes right
// away and on every interval until ctx is done. Every successful refresh is
// published and written to the cache. Failures are retried on the next tick.
func (r *Refresher) Run(ctx context.Context, publish func([]schema.GroupVersionKind)) {
	if r.cache != nil {
		e, err := r.cache.Load(r.identity)
		if err != nil {
			r.log.Info("ignoring unreadable kind cache", "severity", "warning", "identity", r.identity, "err", err)
		}
		if kinds := e.GroupVersionKinds(); len(kinds) > 0 {
			r.log.V(1).Info("publishing cached kinds", "count", len(kinds), "updated", e.Updated.Time)
			publish(kinds)
		}
	}

	t := r.clock.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.refreshOnce(ctx, publish)
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context, publish func([]schema.GroupVersionKind)) {
	kinds, err := r.Refresh(ctx)
	if err != nil {
		r.log.Error(err, "discovery failed, retrying next interval")
		return
	}
	publish(kinds)
	if r.cache == nil {
		return
	}
	if err := r.cache.Store(r.identity, kinds); err != nil {
		r.log.Error(err, "failed to write kind cache", "identity", r.identity)
	}
}

func listWatchable(verbs metav1.Verbs) bool {
	return slices.Contains(verbs, "list") && slices.Contains(verbs, "watch")
}

// isSubresource checks if a resource name indicates a subresource, e.g. pods/log.
func isSubresource(name string) bool {
	return strings.Contains(name, "/")
}

var nonResourceTypes = sets.New(
	"Status",
	"List",
	"WatchEvent",
	"APIGroup",
	"APIVersion",
	"APIResourceList",
	"CreateOptions",
	"UpdateOptions",
	"DeleteOptions",
	"PatchOptions",
	"GetOptions",
	"Table",
	"PartialObjectMetadata",
	"PartialObjectMetadataList",
)

func isNonResourceType(kind string) bool {
	return nonResourceTypes.Has(kind)
}
