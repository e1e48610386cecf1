package timer

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
)

const (
	// NarratorMarker is the synthetic post a fired Narrator timer submits.
	NarratorMarker = "INTERNAL_TIMER_NARRATOR_ACTION"

	// characterMarkerPrefix precedes the target character's name, with
	// spaces encoded as underscores.
	characterMarkerPrefix = "INTERNAL_TIMER_ACTION_FOR_"
)

// MarkerFor builds the synthetic post marker for a timer's target agent.
// An empty or "narrator" agent addresses the Narrator.
func MarkerFor(agent string) string {
	agent = strings.TrimSpace(agent)
	if agent == "" || strings.EqualFold(agent, "narrator") {
		return NarratorMarker
	}
	return characterMarkerPrefix + strings.ReplaceAll(agent, " ", "_")
}

// ParseMarker inspects a post for a timer marker. ok reports whether the
// post is timer-triggered at all; agent is the decoded character name, or
// empty for the Narrator.
//
// The character name runs from the prefix up to an optional "(", with
// underscores decoded back to spaces. A decoded name shorter than 3 or
// longer than 49 characters is treated as malformed and falls back to the
// Narrator rather than dropping the event.
func ParseMarker(post string) (agent string, ok bool) {
	post = strings.TrimSpace(post)
	if strings.HasPrefix(post, characterMarkerPrefix) {
		raw := post[len(characterMarkerPrefix):]
		if i := strings.Index(raw, "("); i >= 0 {
			raw = raw[:i]
		}
		name := strings.TrimSpace(strings.ReplaceAll(raw, "_", " "))
		if len(name) < 3 || len(name) > 49 {
			return "", true
		}
		return name, true
	}
	if strings.HasPrefix(post, NarratorMarker) {
		return "", true
	}
	return "", false
}

// FireFunc receives a fired timer rule. It is called from the timer
// goroutine; implementations must hand off to the orchestrator rather
// than touching round state directly.
type FireFunc func(rule rules.TimerRule)

type entry struct {
	rule      rules.TimerRule
	t         *time.Timer
	remaining time.Duration
	deadline  time.Time
}

// Manager owns the session's scheduled timers. Timers pause as a group
// while a round is being processed so a slow inference cannot stack
// triggers mid-round.
type Manager struct {
	mu      sync.Mutex
	log     *slog.Logger
	fire    FireFunc
	entries map[string]*entry
	paused  bool
	stopped bool
}

func NewManager(fire FireFunc, log *slog.Logger) *Manager {
	return &Manager{
		log:     log,
		fire:    fire,
		entries: make(map[string]*entry),
	}
}

// Schedule arms a timer rule, replacing any previous timer with the same
// ID. When the manager is paused the timer arms on Resume.
func (m *Manager) Schedule(rule rules.TimerRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if prev, ok := m.entries[rule.ID]; ok && prev.t != nil {
		prev.t.Stop()
	}
	e := &entry{rule: rule, remaining: time.Duration(rule.DelaySeconds) * time.Second}
	m.entries[rule.ID] = e
	if !m.paused {
		m.arm(e)
	}
	m.log.Debug("Timer scheduled",
		"timer_id", rule.ID,
		"agent", rule.Agent,
		"delay_seconds", rule.DelaySeconds,
		"repeat", rule.Repeat)
}

func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		if e.t != nil {
			e.t.Stop()
		}
		delete(m.entries, id)
	}
}

// Pause stops all armed timers, remembering how long each had left.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return
	}
	m.paused = true
	now := time.Now()
	for _, e := range m.entries {
		if e.t != nil && e.t.Stop() {
			e.remaining = e.deadline.Sub(now)
			if e.remaining < 0 {
				e.remaining = 0
			}
			e.t = nil
		}
	}
}

// Resume re-arms paused timers with their remaining delay.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused || m.stopped {
		m.paused = false
		return
	}
	m.paused = false
	for _, e := range m.entries {
		if e.t == nil {
			m.arm(e)
		}
	}
}

// Stop cancels everything. The manager cannot be reused afterward.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, e := range m.entries {
		if e.t != nil {
			e.t.Stop()
		}
		delete(m.entries, id)
	}
}

// arm starts the clock for an entry. Caller holds the lock.
func (m *Manager) arm(e *entry) {
	d := e.remaining
	if d <= 0 {
		d = time.Millisecond
	}
	e.deadline = time.Now().Add(d)
	id := e.rule.ID
	e.t = time.AfterFunc(d, func() { m.fired(id) })
}

func (m *Manager) fired(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok || m.stopped {
		m.mu.Unlock()
		return
	}
	rule := e.rule
	if rule.Repeat {
		e.remaining = time.Duration(rule.DelaySeconds) * time.Second
		e.t = nil
		if !m.paused {
			m.arm(e)
		}
	} else {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	m.log.Info("Timer fired", "timer_id", rule.ID, "agent", rule.Agent)
	m.fire(rule)
}
