package dispatch

import "fmt"

// Step is one element of a Chain. A non-nil returned signal is dispatched
// synchronously before the next step runs.
type Step[S any] func(c *Context[S]) (Signal[S], error)

// Chain runs its steps in order and stops at the first error.
type Chain[S any] struct {
	Name  string
	Steps []Step[S]
}

// NewChain returns a chain of steps.
func NewChain[S any](name string, steps ...Step[S]) *Chain[S] {
	return &Chain[S]{Name: name, Steps: steps}
}

func (ch *Chain[S]) SignalName() string { return "chain/" + ch.Name }

func (ch *Chain[S]) Dispatch(c *Context[S]) error {
	for i, step := range ch.Steps {
		next, err := step(c)
		if err != nil {
			return fmt.Errorf("step %d of %s: %w", i, ch.Name, err)
		}
		if next == nil {
			continue
		}
		if err := c.Dispatch(next); err != nil {
			return fmt.Errorf("step %d of %s: %w", i, ch.Name, err)
		}
	}
	return nil
}

// Then wraps sig as a step that only forwards to it.
func Then[S any](sig Signal[S]) Step[S] {
	return func(*Context[S]) (Signal[S], error) { return sig, nil }
}
