package app

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/sttts/kw/internal/dispatch"
	"github.com/sttts/kw/internal/reflector"
	"github.com/sttts/kw/internal/resource"
)

// RegisterKind starts watching Kind. Kinds without a static Go type are
// watched unstructured.
type RegisterKind struct {
	Kind         schema.GroupVersionKind
	Unstructured bool
}

func (s RegisterKind) Dispatch(c *Context) error {
	if resource.IsDerived(s.Kind) {
		return nil
	}
	if !s.Unstructured {
		err := c.State.Registry.Register(c, s.Kind)
		if !errors.Is(err, reflector.ErrNoDecoder) {
			return err
		}
		c.State.log.V(1).Info("falling back to unstructured watch", "kind", s.Kind.String())
	}
	return c.State.Registry.RegisterUnstructured(c, s.Kind)
}

// RequestItems emits ItemsForKind with the current rows of Kind. Kinds whose
// columns changed since their rows were evaluated are re-evaluated first.
type RequestItems struct {
	Kind schema.GroupVersionKind
}

func (s RequestItems) Dispatch(c *Context) error {
	st := c.State
	st.mu.Lock()
	stale := st.stale.Has(s.Kind)
	st.stale.Delete(s.Kind)
	st.mu.Unlock()
	if stale {
		n := st.Manager.Reevaluate(c, s.Kind)
		st.log.V(2).Info("re-evaluated rows", "kind", s.Kind.String(), "count", n)
	}
	return st.notify(c, ItemsForKind{
		Kind:    s.Kind,
		Columns: st.Manager.GetColumns(s.Kind),
		Items:   st.items(s.Kind),
	})
}

// RemoveResource deletes an object through the API. The cache is updated by
// the resulting watch event.
type RemoveResource struct {
	Kind      schema.GroupVersionKind
	Namespace string
	Name      string
}

func (s RemoveResource) Dispatch(c *Context) error {
	if resource.IsDerived(s.Kind) {
		return dispatch.Warn(fmt.Errorf("%s %s/%s is derived and cannot be deleted", s.Kind.Kind, s.Namespace, s.Name))
	}
	if c.State.Deleter == nil {
		return dispatch.Warn(errors.New("deleting is not supported"))
	}
	err := c.State.Deleter.Delete(c, s.Kind, s.Namespace, s.Name)
	if apierrors.IsNotFound(err) {
		return dispatch.Info(err)
	}
	if err != nil {
		return fmt.Errorf("delete %s %s/%s: %w", s.Kind.Kind, s.Namespace, s.Name, err)
	}
	c.State.status(c, fmt.Sprintf("deleting %s %s/%s", s.Kind.Kind, s.Namespace, s.Name))
	return nil
}

// SubscribeLogs streams the log lines of a container as LogChunk
// notifications. Subscribing twice is a no-op.
type SubscribeLogs struct {
	Namespace, Pod, Container string
}

func (s SubscribeLogs) Dispatch(c *Context) error {
	st := c.State
	if st.Logs == nil {
		return dispatch.Warn(errors.New("log streaming is not supported"))
	}
	key := LogKey(s)
	st.mu.Lock()
	if _, ok := st.logSubs[key]; ok {
		st.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(c.Context)
	st.logSubs[key] = cancel
	st.mu.Unlock()

	go func() {
		defer cancel()
		err := st.Logs.Stream(ctx, key.Namespace, key.Pod, key.Container, func(line string) {
			_ = st.notify(ctx, LogChunk{Key: key, Line: line})
		})
		st.mu.Lock()
		delete(st.logSubs, key)
		st.mu.Unlock()
		if err != nil {
			st.log.Info("log stream failed", "severity", "warning", "pod", key.Namespace+"/"+key.Pod, "container", key.Container, "err", err)
		}
		_ = st.notify(context.WithoutCancel(ctx), LogEnded{Key: key, Err: err})
	}()
	return nil
}

type UnsubscribeLogs struct {
	Namespace, Pod, Container string
}

func (s UnsubscribeLogs) Dispatch(c *Context) error {
	st := c.State
	st.mu.Lock()
	cancel, ok := st.logSubs[LogKey(s)]
	st.mu.Unlock()
	if !ok {
		return dispatch.Info(fmt.Errorf("no log subscription for %s/%s", s.Namespace, s.Pod))
	}
	cancel()
	return nil
}

// StartPortForward forwards Local (0 picks a free port) to Remote on a pod
// until StopPortForward.
type StartPortForward struct {
	Namespace, Pod string
	Local, Remote  uint16
}

func (s StartPortForward) Dispatch(c *Context) error {
	st := c.State
	if st.Forwarder == nil {
		return dispatch.Warn(errors.New("port-forwarding is not supported"))
	}
	key := ForwardKey(s)
	st.mu.Lock()
	if _, ok := st.forwards[key]; ok {
		st.mu.Unlock()
		return dispatch.Info(fmt.Errorf("port-forward to %s/%s:%d already running", s.Namespace, s.Pod, s.Remote))
	}
	ctx, cancel := context.WithCancel(c.Context)
	st.forwards[key] = cancel
	st.mu.Unlock()

	go func() {
		defer cancel()
		err := st.Forwarder.Forward(ctx, key.Namespace, key.Pod, key.Local, key.Remote, func(local uint16) {
			_ = st.notify(ctx, PortForwardStarted{Key: key, Local: local})
		})
		st.mu.Lock()
		delete(st.forwards, key)
		st.mu.Unlock()
		if err != nil {
			st.log.Info("port-forward failed", "severity", "warning", "pod", key.Namespace+"/"+key.Pod, "remote", key.Remote, "err", err)
		}
		_ = st.notify(context.WithoutCancel(ctx), PortForwardStopped{Key: key, Err: err})
	}()
	return nil
}

type StopPortForward struct {
	Namespace, Pod string
	Local, Remote  uint16
}

func (s StopPortForward) Dispatch(c *Context) error {
	st := c.State
	st.mu.Lock()
	cancel, ok := st.forwards[ForwardKey(s)]
	st.mu.Unlock()
	if !ok {
		return dispatch.Info(fmt.Errorf("no port-forward to %s/%s:%d", s.Namespace, s.Pod, s.Remote))
	}
	cancel()
	return nil
}

// SelectKind shows kind, makes sure it is watched and requests its rows.
func SelectKind(kind schema.GroupVersionKind, unstructured bool) Signal {
	return dispatch.NewChain("select-kind",
		func(c *Context) (Signal, error) {
			st := c.State
			st.mu.Lock()
			st.selected = kind
			view := st.view
			st.mu.Unlock()
			cols := st.Manager.GetColumns(kind)
			if view != nil {
				c.OnRenderer(func() { view.ShowKind(kind, cols) })
			}
			return nil, nil
		},
		func(*Context) (Signal, error) {
			if isExtractorLevel(kind) {
				return RegisterKind{Kind: resource.RootKind(extractorParent(kind)), Unstructured: unstructured}, nil
			}
			return RegisterKind{Kind: resource.RootKind(kind), Unstructured: unstructured}, nil
		},
		dispatch.Then[*State](RequestItems{Kind: kind}),
	)
}

// status shows text in the view's status line.
func (s *State) status(c *Context, text string) {
	if view := s.View(); view != nil {
		c.OnRenderer(func() { view.SetStatus(text) })
	}
}
