// Package resource defines the closed set of resource views flowing from the
// watch streams through the evaluator to the UI.
package resource

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	kstatus "sigs.k8s.io/cli-utils/pkg/kstatus/status"
)

// Resource is implemented by *Typed, *Unstructured and *Pseudo only.
// Values are immutable once created and may be shared between goroutines.
type Resource interface {
	// Kind returns the kind id, derived for pseudo resources.
	Kind() schema.GroupVersionKind
	// Identity is the cache key within a kind: the UID, or "kind/namespace/name" without one.
	Identity() string
	Namespace() string
	Name() string
	CreationTimestamp() time.Time
	// DeletionTimestamp is nil unless the resource is being or has been deleted.
	DeletionTimestamp() *time.Time
	Age(now time.Time) time.Duration
	Status() string
	// Object returns the JSON-like projection used by column scripts. Callers must not modify it.
	Object() map[string]any

	isResource()
}

// object is the part shared by typed and unstructured views.
type object struct {
	kind schema.GroupVersionKind
	u    *unstructured.Unstructured
}

func (o *object) Kind() schema.GroupVersionKind { return o.kind }

func (o *object) Identity() string {
	if uid := o.u.GetUID(); uid != "" {
		return string(uid)
	}
	return fmt.Sprintf("%s/%s/%s", o.kind.Kind, o.u.GetNamespace(), o.u.GetName())
}

func (o *object) Namespace() string { return o.u.GetNamespace() }
func (o *object) Name() string      { return o.u.GetName() }

func (o *object) CreationTimestamp() time.Time { return o.u.GetCreationTimestamp().Time }

func (o *object) DeletionTimestamp() *time.Time {
	ts := o.u.GetDeletionTimestamp()
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}

func (o *object) Age(now time.Time) time.Duration {
	created := o.CreationTimestamp()
	if created.IsZero() {
		return 0
	}
	return now.Sub(created)
}

func (o *object) Object() map[string]any { return o.u.Object }

// Raw returns the underlying unstructured object. Callers must not modify it.
func (o *object) Raw() *unstructured.Unstructured { return o.u }

// Typed is a resource of a kind with a static Go type in the kind table.
type Typed struct {
	object
	obj    runtime.Object
	status func(runtime.Object) string
}

func (*Typed) isResource() {}

// Typed returns the decoded object, e.g. *corev1.Pod. Callers must not modify it.
func (t *Typed) Typed() runtime.Object { return t.obj }

func (t *Typed) Status() string {
	if t.status != nil {
		if s := t.status(t.obj); s != "" {
			return s
		}
	}
	return unstructuredStatus(t.u)
}

// Unstructured is a resource of a kind known only through discovery.
type Unstructured struct {
	object
}

func (*Unstructured) isResource() {}

func (u *Unstructured) Status() string { return unstructuredStatus(u.u) }

// NewUnstructured wraps u as a resource of the given kind.
func NewUnstructured(kind schema.GroupVersionKind, u *unstructured.Unstructured) *Unstructured {
	return &Unstructured{object{kind: kind, u: u}}
}

// unstructuredStatus prefers status.phase and falls back to kstatus.
func unstructuredStatus(u *unstructured.Unstructured) string {
	if u.GetDeletionTimestamp() != nil {
		return "Terminating"
	}
	if phase, ok, _ := unstructured.NestedString(u.Object, "status", "phase"); ok && phase != "" {
		return phase
	}
	if _, ok := u.Object["status"]; !ok {
		return ""
	}
	res, err := kstatus.Compute(u)
	if err != nil {
		return ""
	}
	return string(res.Status)
}
