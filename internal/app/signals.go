package app

import (
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/evaluator"
	"github.com/sttts/kw/internal/reflector"
	"github.com/sttts/kw/internal/resource"
)

// resourceChanged upserts one watch event into the cache.
type resourceChanged struct {
	event reflector.Event
}

func (s resourceChanged) SignalName() string { return "resource-changed" }

func (s resourceChanged) Dispatch(c *Context) error {
	e := c.State.Manager.Replace(c, s.event.Resource)
	if s.event.Type == reflector.Deleted {
		return c.State.notify(c, ResourceDeleted{Kind: s.event.Kind, Item: e})
	}
	return c.State.notify(c, ResourceUpdated{Kind: s.event.Kind, Item: e})
}

type kindsDiscovered struct {
	kinds []schema.GroupVersionKind
}

func (s kindsDiscovered) SignalName() string { return "kinds-discovered" }

func (s kindsDiscovered) Dispatch(c *Context) error {
	st := c.State
	st.mu.Lock()
	st.kinds = slices.Clone(s.kinds)
	st.mu.Unlock()
	return st.notify(c, KindsDiscovered{Kinds: st.Kinds()})
}

// reconfigure swaps the column configuration. Rows are re-evaluated lazily
// when their kind is requested next; the selected kind right away.
type reconfigure struct {
	config *columns.Config
}

func (s reconfigure) SignalName() string { return "reconfigure" }

func (s reconfigure) Dispatch(c *Context) error {
	st := c.State
	st.Manager.SetConfig(s.config)
	st.mu.Lock()
	st.stale.Insert(st.Manager.Kinds()...)
	for _, k := range st.Manager.Kinds() {
		if x, ok := resource.ExtractorKind(k); ok {
			st.stale.Insert(x)
		}
	}
	selected := st.selected
	st.mu.Unlock()
	if selected.Empty() {
		return nil
	}
	return c.Dispatch(RequestItems{Kind: selected})
}

// present applies a notification to the view on the renderer goroutine.
type present struct {
	n Notification
}

func (s present) SignalName() string { return "present" }

func (s present) Dispatch(c *Context) error {
	st := c.State
	view := st.View()
	if view == nil {
		return nil
	}
	selected := st.Selected()

	switch n := s.n.(type) {
	case KindsDiscovered:
		c.OnRenderer(func() { view.SetKinds(n.Kinds) })
	case ItemsForKind:
		if n.Kind != selected {
			return nil
		}
		c.OnRenderer(func() {
			view.ShowKind(n.Kind, n.Columns)
			view.SetItems(n.Kind, n.Items)
		})
	case ResourceUpdated:
		st.presentChange(c, selected, view, n.Kind, n.Item)
	case ResourceDeleted:
		st.presentChange(c, selected, view, n.Kind, n.Item)
	case LogChunk:
		c.OnRenderer(func() { view.AppendLog(n.Key, n.Line) })
	case LogEnded:
		if n.Err != nil {
			c.OnRenderer(func() { view.SetStatus("logs of " + n.Key.Pod + " ended: " + n.Err.Error()) })
		}
	case PortForwardStarted:
		c.OnRenderer(func() {
			view.SetStatus(fmt.Sprintf("forwarding localhost:%d -> %s/%s:%d", n.Local, n.Key.Namespace, n.Key.Pod, n.Key.Remote))
		})
	case PortForwardStopped:
		text := fmt.Sprintf("port-forward to %s/%s:%d stopped", n.Key.Namespace, n.Key.Pod, n.Key.Remote)
		if n.Err != nil {
			text += ": " + n.Err.Error()
		}
		c.OnRenderer(func() { view.SetStatus(text) })
	}
	return nil
}

func (s *State) presentChange(c *Context, selected schema.GroupVersionKind, view View, kind schema.GroupVersionKind, item *evaluator.Evaluated) {
	switch {
	case kind == selected:
		c.OnRenderer(func() { view.UpsertRow(kind, item) })
	case isExtractorLevel(selected) && extractorParent(selected) == kind:
		items := s.items(selected)
		c.OnRenderer(func() { view.SetItems(selected, items) })
	}
}
