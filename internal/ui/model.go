package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/sttts/kw/internal/app"
	"github.com/sttts/kw/internal/columns"
	"github.com/sttts/kw/internal/dispatch"
	"github.com/sttts/kw/internal/evaluator"
	"github.com/sttts/kw/internal/resource"
)

const (
	maxLogLines = 1000
	statusTTL   = 5 * time.Second
)

var podKind = schema.GroupVersionKind{Version: "v1", Kind: "Pod"}

// Dispatcher runs signals. App implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig app.Signal) error
}

type pane int

const (
	kindsPane pane = iota
	rowsPane
)

// dispatchedMsg reports the outcome of a signal run from a command.
type dispatchedMsg struct {
	name string
	err  error
}

type statusTickMsg struct{}

// Model is the terminal view. It implements app.View; those methods must
// only run on the update loop, which the Renderer guarantees.
type Model struct {
	ctx        context.Context
	dispatcher Dispatcher
	now        func() time.Time

	width, height int
	focus         pane

	kinds      []schema.GroupVersionKind
	kindCursor int
	kindOffset int

	kind       schema.GroupVersionKind
	cols       []columns.ColumnSpec
	rows       []*evaluator.Evaluated
	rowCursor  int
	rowOffset  int
	structured bool

	logKey  *app.LogKey
	logs    []string
	forward *app.ForwardKey

	status      string
	statusStyle int // 0 info, 1 warning, 2 error
	statusUntil time.Time

	confirm *ConfirmModel
}

var _ app.View = &Model{}

func NewModel(ctx context.Context, d Dispatcher) *Model {
	return &Model{ctx: ctx, dispatcher: d, now: time.Now, structured: true}
}

func (m *Model) Init() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return statusTickMsg{} })
}

// run dispatches sig off the update loop. Renderer callbacks of sig are
// processed while the command waits.
func (m *Model) run(name string, sig app.Signal) tea.Cmd {
	ctx, d := m.ctx, m.dispatcher
	return func() tea.Msg {
		return dispatchedMsg{name: name, err: d.Dispatch(ctx, sig)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callbackMsg:
		msg.fn()
		msg.done()
		return m, nil
	case tea.WindowSizeMsg:
		m.width = max(40, msg.Width)
		m.height = max(8, msg.Height)
		return m, nil
	case dispatchedMsg:
		if msg.err != nil {
			m.showError(msg.name, msg.err)
		}
		return m, nil
	case confirmResultMsg:
		m.confirm = nil
		if msg.Signal != nil {
			return m, m.run("delete", msg.Signal)
		}
		return m, nil
	case statusTickMsg:
		if m.status != "" && m.now().After(m.statusUntil) {
			m.status = ""
		}
		return m, tea.Tick(time.Second, func(time.Time) tea.Msg { return statusTickMsg{} })
	case tea.KeyPressMsg:
		if m.confirm != nil {
			return m, m.confirm.Update(msg)
		}
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyPressMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c", "f10":
		return tea.Quit
	case "tab":
		m.focus = (m.focus + 1) % 2
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "pgup":
		m.move(-m.pageSize())
	case "pgdown":
		m.move(m.pageSize())
	case "home":
		m.move(-len(m.rows) - len(m.kinds))
	case "end":
		m.move(len(m.rows) + len(m.kinds))
	case "enter":
		if m.focus == kindsPane && len(m.kinds) > 0 {
			m.focus = rowsPane
			return m.run("select", app.SelectKind(m.kinds[m.kindCursor], !m.structured))
		}
	case "u":
		// re-select the current kind with the other decoder
		m.structured = !m.structured
		if !m.kind.Empty() {
			return m.run("select", app.SelectKind(m.kind, !m.structured))
		}
	case "r":
		if !m.kind.Empty() {
			return m.run("refresh", app.RequestItems{Kind: m.kind})
		}
	case "d", "f8":
		if e := m.current(); e != nil {
			prompt := fmt.Sprintf("Delete %s %s?", e.Resource.Kind().Kind, e.Resource.Name())
			if ns := e.Resource.Namespace(); ns != "" {
				prompt = fmt.Sprintf("Delete %s %s in namespace %q?", e.Resource.Kind().Kind, e.Resource.Name(), ns)
			}
			m.confirm = NewConfirmModel(prompt, app.RemoveResource{
				Kind:      e.Resource.Kind(),
				Namespace: e.Resource.Namespace(),
				Name:      e.Resource.Name(),
			})
			m.confirm.SetWidth(m.width / 2)
		}
	case "l":
		return m.toggleLogs()
	case "p":
		return m.toggleForward()
	case "esc":
		if m.logKey != nil {
			return m.toggleLogs()
		}
	}
	return nil
}

func (m *Model) toggleLogs() tea.Cmd {
	if m.logKey != nil {
		key := *m.logKey
		m.logKey, m.logs = nil, nil
		return m.run("logs", app.UnsubscribeLogs(key))
	}
	e := m.current()
	if e == nil || e.Resource.Kind() != podKind {
		m.setStatus(0, "logs are available for pods only")
		return nil
	}
	key := app.LogKey{Namespace: e.Resource.Namespace(), Pod: e.Resource.Name(), Container: firstContainer(e.Resource)}
	m.logKey, m.logs = &key, nil
	return m.run("logs", app.SubscribeLogs(key))
}

func (m *Model) toggleForward() tea.Cmd {
	if m.forward != nil {
		key := *m.forward
		m.forward = nil
		return m.run("port-forward", app.StopPortForward(key))
	}
	e := m.current()
	if e == nil || e.Resource.Kind() != podKind {
		m.setStatus(0, "port-forwarding is available for pods only")
		return nil
	}
	port := firstPort(e.Resource)
	if port == 0 {
		m.setStatus(1, "pod "+e.Resource.Name()+" declares no container port")
		return nil
	}
	key := app.ForwardKey{Namespace: e.Resource.Namespace(), Pod: e.Resource.Name(), Remote: port}
	m.forward = &key
	return m.run("port-forward", app.StartPortForward(key))
}

func firstContainer(r resource.Resource) string {
	containers, _, _ := unstructured.NestedSlice(r.Object(), "spec", "containers")
	for _, c := range containers {
		if c, ok := c.(map[string]any); ok {
			name, _, _ := unstructured.NestedString(c, "name")
			return name
		}
	}
	return ""
}

func firstPort(r resource.Resource) uint16 {
	containers, _, _ := unstructured.NestedSlice(r.Object(), "spec", "containers")
	for _, c := range containers {
		c, ok := c.(map[string]any)
		if !ok {
			continue
		}
		ports, _, _ := unstructured.NestedSlice(c, "ports")
		for _, p := range ports {
			if p, ok := p.(map[string]any); ok {
				if n, found, _ := unstructured.NestedInt64(p, "containerPort"); found && n > 0 && n <= 65535 {
					return uint16(n)
				}
			}
		}
	}
	return 0
}

func (m *Model) current() *evaluator.Evaluated {
	if m.focus != rowsPane || m.rowCursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.rowCursor]
}

func (m *Model) move(delta int) {
	switch m.focus {
	case kindsPane:
		m.kindCursor = clamp(m.kindCursor+delta, len(m.kinds))
	case rowsPane:
		m.rowCursor = clamp(m.rowCursor+delta, len(m.rows))
	}
}

func clamp(i, n int) int {
	return max(0, min(i, n-1))
}

func (m *Model) setStatus(level int, text string) {
	m.status, m.statusStyle = text, level
	m.statusUntil = m.now().Add(statusTTL)
}

func (m *Model) showError(name string, err error) {
	level := 2
	switch dispatch.SeverityOf(err) {
	case dispatch.SeverityInfo:
		level = 0
	case dispatch.SeverityWarning:
		level = 1
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setStatus(level, name+": "+err.Error())
}

func (m *Model) SetKinds(kinds []schema.GroupVersionKind) {
	var selected schema.GroupVersionKind
	if m.kindCursor < len(m.kinds) {
		selected = m.kinds[m.kindCursor]
	}
	m.kinds = kinds
	m.kindCursor = 0
	for i, k := range kinds {
		if k == selected {
			m.kindCursor = i
		}
	}
}

func (m *Model) ShowKind(kind schema.GroupVersionKind, cols []columns.ColumnSpec) {
	if kind != m.kind {
		m.rows, m.rowCursor, m.rowOffset = nil, 0, 0
	}
	m.kind, m.cols = kind, cols
}

func (m *Model) SetItems(kind schema.GroupVersionKind, items []*evaluator.Evaluated) {
	if kind != m.kind {
		return
	}
	m.rows = items
	m.rowCursor = clamp(m.rowCursor, len(items))
}

// UpsertRow replaces the row with the same identity or inserts it keeping
// the namespace/name order.
func (m *Model) UpsertRow(kind schema.GroupVersionKind, item *evaluator.Evaluated) {
	if kind != m.kind {
		return
	}
	id := item.Resource.Identity()
	for i, e := range m.rows {
		if e.Resource.Identity() == id {
			m.rows[i] = item
			return
		}
	}
	at := len(m.rows)
	for i, e := range m.rows {
		if less(item, e) {
			at = i
			break
		}
	}
	m.rows = append(m.rows, nil)
	copy(m.rows[at+1:], m.rows[at:])
	m.rows[at] = item
	if at <= m.rowCursor && len(m.rows) > 1 {
		m.rowCursor++
	}
}

func less(a, b *evaluator.Evaluated) bool {
	if a.Resource.Namespace() != b.Resource.Namespace() {
		return a.Resource.Namespace() < b.Resource.Namespace()
	}
	return a.Resource.Name() < b.Resource.Name()
}

func (m *Model) AppendLog(key app.LogKey, line string) {
	if m.logKey == nil || *m.logKey != key {
		return
	}
	m.logs = append(m.logs, line)
	if over := len(m.logs) - maxLogLines; over > 0 {
		m.logs = m.logs[over:]
	}
}

func (m *Model) SetStatus(text string) {
	m.setStatus(0, text)
}
