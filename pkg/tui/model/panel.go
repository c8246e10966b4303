package model

import (
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/monitor"
)

const placeholderText = "no logs available"

// panel is the log view of one service.
type panel struct {
	viewport    viewport.Model
	lines       []monitor.Line
	placeholder bool
	expanded    bool
	autoScroll  bool
}

func newPanel(w, h int) *panel {
	return &panel{viewport: viewport.New(max(w, 1), max(h, 1))}
}

func (p *panel) resize(w, h int) {
	p.viewport.Width = max(w, 1)
	p.viewport.Height = max(h, 1)
	p.render()
}

func (p *panel) render() {
	if p.placeholder {
		p.viewport.SetContent(dimStyle.Render(placeholderText))
		return
	}
	w := p.viewport.Width
	var b strings.Builder
	for i, l := range p.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(severityStyle(l.Severity).Render(runewidth.Truncate(l.Text, w, "…")))
	}
	p.viewport.SetContent(b.String())
}

// text returns the displayed log lines as plain text.
func (p *panel) text() string {
	parts := make([]string, len(p.lines))
	for i, l := range p.lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// panelEvents records the expand and collapse callbacks bound to each
// panel through monitor.Watch.
type panelEvents struct {
	mu       sync.Mutex
	expand   map[core.ProcessID]func()
	collapse map[core.ProcessID]func()
}

func newPanelEvents() *panelEvents {
	return &panelEvents{expand: make(map[core.ProcessID]func()), collapse: make(map[core.ProcessID]func())}
}

func (e *panelEvents) OnExpand(pid core.ProcessID, cb func()) {
	e.mu.Lock()
	e.expand[pid] = cb
	e.mu.Unlock()
}

func (e *panelEvents) OnCollapse(pid core.ProcessID, cb func()) {
	e.mu.Lock()
	e.collapse[pid] = cb
	e.mu.Unlock()
}

// expanded returns the callback to run when pid's panel opens.
// Unbound panels get a no-op.
func (e *panelEvents) expanded(pid core.ProcessID) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb := e.expand[pid]; cb != nil {
		return cb
	}
	return func() {}
}

// collapsed returns the callback to run when pid's panel closes.
func (e *panelEvents) collapsed(pid core.ProcessID) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb := e.collapse[pid]; cb != nil {
		return cb
	}
	return func() {}
}

// Messages emitted by the monitor through programSink.
type (
	logsMsg struct {
		pid   core.ProcessID
		lines []monitor.Line
	}
	placeholderMsg struct{ pid core.ProcessID }
	scrollMsg      struct{ pid core.ProcessID }
	clearMsg       struct{ pid core.ProcessID }
)

// programSink turns monitor renders into Bubble Tea messages.
type programSink struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (s *programSink) bind(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

func (s *programSink) emit(msg tea.Msg) {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

func (s *programSink) Replace(pid core.ProcessID, lines []monitor.Line) {
	s.emit(logsMsg{pid: pid, lines: lines})
}

func (s *programSink) Placeholder(pid core.ProcessID)    { s.emit(placeholderMsg{pid: pid}) }
func (s *programSink) ScrollToBottom(pid core.ProcessID) { s.emit(scrollMsg{pid: pid}) }
func (s *programSink) Clear(pid core.ProcessID)          { s.emit(clearMsg{pid: pid}) }

// opQueue runs monitor calls in submission order on one goroutine.
// Monitor calls can block on a render that is waiting for the event
// loop, so they never run inside Update.
type opQueue struct {
	mu     sync.Mutex
	ops    []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newOpQueue() *opQueue {
	q := &opQueue{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go q.loop()
	return q
}

func (q *opQueue) push(op func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()
	q.signal()
}

func (q *opQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *opQueue) loop() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.ops) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			op := q.ops[0]
			q.ops = q.ops[1:]
			q.mu.Unlock()
			op()
		}
	}
}

// close runs the queued operations and stops the worker.
func (q *opQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}
