package projector

import (
	"slices"
	"sync"
)

// Sink names the projector writes to. A page only has some of them.
const (
	SinkCombatLogs       = "combat-logs"
	SinkPlayerHealthBar  = "player-health"
	SinkOpponentHealth   = "opponent-health"
	SinkCombatStatus     = "combat-status"
	SinkCombatResult     = "combat-result"
	SinkAttackButton     = "attack-button"
	SinkPlayerCash       = "player-cash"
	SinkPlayerEnergy     = "player-energy"
	SinkPlayerHealthStat = "player-health-stat"

	// StatSinkPrefix + field name receives player_update stats.
	StatSinkPrefix = "player-stat:"
)

// Sink is a named display element.
type Sink interface {
	SetText(text string)
}

// ProgressSink is a Sink that can also show a 0-100 fill level.
type ProgressSink interface {
	Sink
	SetProgress(percent int)
}

// LogSink is a Sink that accumulates lines.
type LogSink interface {
	Sink
	AppendLine(line string)
	Clear()
}

// ToggleSink is a Sink that can be disabled, like a button.
type ToggleSink interface {
	Sink
	SetDisabled(disabled bool)
}

// Sinks looks up the elements present on the current page.
type Sinks interface {
	Lookup(name string) (Sink, bool)
}

// Element is the in-memory state of one sink.
type Element struct {
	Text     string
	Lines    []string
	Progress int
	Disabled bool
}

// MemorySinks is a Sinks implementation that keeps element state in memory.
// Only the names it was created with exist.
type MemorySinks struct {
	mu       sync.Mutex
	elements map[string]*Element
	onChange func(name string, el Element)
}

func NewMemorySinks(names ...string) *MemorySinks {
	m := &MemorySinks{elements: make(map[string]*Element, len(names))}
	for _, n := range names {
		m.elements[n] = &Element{}
	}
	return m
}

// OnChange sets a callback invoked after every write, outside the lock.
func (m *MemorySinks) OnChange(fn func(name string, el Element)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *MemorySinks) Lookup(name string) (Sink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elements[name]; !ok {
		return nil, false
	}
	return memorySink{m: m, name: name}, true
}

// Get returns a copy of the element state.
func (m *MemorySinks) Get(name string) (Element, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.elements[name]
	if !ok {
		return Element{}, false
	}
	cp := *el
	cp.Lines = slices.Clone(el.Lines)
	return cp, true
}

// Text is shorthand for Get(name).Text.
func (m *MemorySinks) Text(name string) string {
	el, _ := m.Get(name)
	return el.Text
}

func (m *MemorySinks) update(name string, fn func(*Element)) {
	m.mu.Lock()
	el, ok := m.elements[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(el)
	cp := *el
	cp.Lines = slices.Clone(el.Lines)
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(name, cp)
	}
}

type memorySink struct {
	m    *MemorySinks
	name string
}

func (s memorySink) SetText(text string) {
	s.m.update(s.name, func(el *Element) { el.Text = text })
}

func (s memorySink) SetProgress(percent int) {
	s.m.update(s.name, func(el *Element) { el.Progress = percent })
}

func (s memorySink) AppendLine(line string) {
	s.m.update(s.name, func(el *Element) { el.Lines = append(el.Lines, line) })
}

func (s memorySink) Clear() {
	s.m.update(s.name, func(el *Element) { el.Lines = nil })
}

func (s memorySink) SetDisabled(disabled bool) {
	s.m.update(s.name, func(el *Element) { el.Disabled = disabled })
}
