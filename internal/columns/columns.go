// Package columns defines how a resource is turned into table cells: builtin
// columns, CEL column scripts and CEL extractors producing child resources.
package columns

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/duration"

	"github.com/sttts/kw/internal/resource"
)

// Cell is one evaluated column value. Err is set instead of Text when the
// column failed for this resource.
type Cell struct {
	Text string
	Err  string
}

// Failed reports whether the cell holds an error.
func (c Cell) Failed() bool { return c.Err != "" }

// String returns what a table shows for the cell.
func (c Cell) String() string {
	if c.Failed() {
		return "<error>"
	}
	return c.Text
}

// Evaluator computes the text of one column.
type Evaluator interface {
	Evaluate(r resource.Resource, now time.Time) (string, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(r resource.Resource, now time.Time) (string, error)

func (f EvaluatorFunc) Evaluate(r resource.Resource, now time.Time) (string, error) { return f(r, now) }

// ColumnSpec describes one table column.
type ColumnSpec struct {
	Name  string
	Label string
	// Width is the preferred width; 0 lets the renderer decide.
	Width int
	Eval  Evaluator
}

// Title returns the header text.
func (c ColumnSpec) Title() string {
	if c.Label != "" {
		return c.Label
	}
	return strings.ToUpper(c.Name)
}

var builtins = map[string]EvaluatorFunc{
	"namespace": func(r resource.Resource, _ time.Time) (string, error) { return r.Namespace(), nil },
	"name":      func(r resource.Resource, _ time.Time) (string, error) { return r.Name(), nil },
	"status":    func(r resource.Resource, _ time.Time) (string, error) { return r.Status(), nil },
	"age": func(r resource.Resource, now time.Time) (string, error) {
		if r.CreationTimestamp().IsZero() {
			return "<unknown>", nil
		}
		return duration.HumanDuration(r.Age(now)), nil
	},
}

// Builtin returns the builtin evaluator called name.
func Builtin(name string) (Evaluator, error) {
	e, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown builtin column %q", name)
	}
	return e, nil
}

// Default returns the columns used for kinds without configuration.
func Default() []ColumnSpec {
	return []ColumnSpec{
		{Name: "namespace", Width: 20, Eval: builtins["namespace"]},
		{Name: "name", Width: 40, Eval: builtins["name"]},
		{Name: "status", Width: 16, Eval: builtins["status"]},
		{Name: "age", Width: 8, Eval: builtins["age"]},
	}
}
