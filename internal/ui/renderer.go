package ui

import tea "github.com/charmbracelet/bubbletea/v2"

// callbackMsg carries a view mutation into the update loop.
type callbackMsg struct {
	fn   func()
	done func()
}

// Renderer schedules callbacks on the bubbletea update loop, so that view
// methods never race with View().
type Renderer struct {
	send func(tea.Msg)
}

// NewRenderer returns a renderer sending through send, usually Program.Send.
func NewRenderer(send func(tea.Msg)) *Renderer {
	return &Renderer{send: send}
}

func (r *Renderer) Schedule(fn, done func()) {
	r.send(callbackMsg{fn: fn, done: done})
}
