package app

import (
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/evaluator"
)

// Notification is emitted towards the presentation layer.
type Notification interface {
	isNotification()
}

type ResourceUpdated struct {
	Kind schema.GroupVersionKind
	Item *evaluator.Evaluated
}

// ResourceDeleted carries the tombstone now held in the cache.
type ResourceDeleted struct {
	Kind schema.GroupVersionKind
	Item *evaluator.Evaluated
}

type KindsDiscovered struct {
	Kinds []schema.GroupVersionKind
}

type ItemsForKind struct {
	Kind    schema.GroupVersionKind
	Columns []columns.ColumnSpec
	Items   []*evaluator.Evaluated
}

type LogChunk struct {
	Key  LogKey
	Line string
}

// LogEnded is sent when a log stream stops, Err is nil on cancellation.
type LogEnded struct {
	Key LogKey
	Err error
}

type PortForwardStarted struct {
	Key   ForwardKey
	Local uint16
}

type PortForwardStopped struct {
	Key ForwardKey
	Err error
}

func (ResourceUpdated) isNotification()    {}
func (ResourceDeleted) isNotification()    {}
func (KindsDiscovered) isNotification()    {}
func (ItemsForKind) isNotification()       {}
func (LogChunk) isNotification()           {}
func (LogEnded) isNotification()           {}
func (PortForwardStarted) isNotification() {}
func (PortForwardStopped) isNotification() {}
