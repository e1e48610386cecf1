package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
)

// ForceNarratorState is a rule-set override forcing the Narrator's turn to
// occur before (First) or after (Last) all NPC turns in a round. Mutated
// only by the action executor and cleared by the narrator controller once
// consumed.
type ForceNarratorState struct {
	Active        bool                `json:"active"`
	Order         rules.NarratorOrder `json:"order,omitempty"`
	SystemMessage string              `json:"system_message,omitempty"`
	DeferToEnd    bool                `json:"defer_to_end,omitempty"`
}

func (f *ForceNarratorState) Clear() {
	*f = ForceNarratorState{}
}

// Session is the mutable state owned by one conversation. It is persisted
// after each completed round; the conversation context is persisted
// separately.
type Session struct {
	ID           uuid.UUID `json:"id"`
	SceneNumber  int       `json:"scene_number"`
	TurnCount    int       `json:"turn_count"`
	GameDatetime string    `json:"game_datetime,omitempty"`

	ThoughtRules []rules.Rule      `json:"thought_rules,omitempty"`
	TimerRules   []rules.TimerRule `json:"timer_rules,omitempty"`

	ForceNarrator ForceNarratorState `json:"force_narrator,omitempty"`

	// Variable snapshot, restored into a vars.Store on load.
	Variables vars.Snapshot `json:"variables,omitempty"`

	// Per-scene and per-round flags.
	NarratorPostedThisScene bool `json:"narrator_posted_this_scene,omitempty"`
	SuppressNarratorOnce    bool `json:"suppress_narrator_once,omitempty"`
	PendingSceneClear       bool `json:"pending_scene_clear,omitempty"`

	// EndOfRoundTurn records the turn whose end-of-round pass has already
	// run, making the pass idempotent per turn.
	EndOfRoundTurn int `json:"end_of_round_turn,omitempty"`

	// DedupeRetried tracks which characters have consumed their single
	// duplicate-response retry this session.
	DedupeRetried map[string]bool `json:"dedupe_retried,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// New creates a fresh session at scene 1, turn 1.
func New() *Session {
	return &Session{
		ID:          uuid.New(),
		SceneNumber: 1,
		TurnCount:   1,
	}
}

// Reset returns the session to scene 1, turn 1 and clears all transient
// round state. Rules are kept; they are authored externally.
func (s *Session) Reset() {
	s.SceneNumber = 1
	s.TurnCount = 1
	s.ForceNarrator.Clear()
	s.NarratorPostedThisScene = false
	s.SuppressNarratorOnce = false
	s.PendingSceneClear = false
	s.EndOfRoundTurn = 0
	s.DedupeRetried = nil
}

// GetSceneNumber implements rules.SessionView.
func (s *Session) GetSceneNumber() int { return s.SceneNumber }

// GetGameDatetime implements rules.SessionView.
func (s *Session) GetGameDatetime() string { return s.GameDatetime }

// IncrementTurn advances the monotonic turn counter.
func (s *Session) IncrementTurn() {
	s.TurnCount++
}

// AdvanceScene moves to the next scene and resets scene-scoped flags.
// The actual context clear is deferred until the round settles.
func (s *Session) AdvanceScene() {
	s.SceneNumber++
	s.NarratorPostedThisScene = false
	s.PendingSceneClear = true
}

// MarkNarratorPosted records that the Narrator has spoken this scene.
func (s *Session) MarkNarratorPosted() {
	s.NarratorPostedThisScene = true
}

// ConsumeSuppression reports and clears the one-turn suppression flag.
func (s *Session) ConsumeSuppression() bool {
	was := s.SuppressNarratorOnce
	s.SuppressNarratorOnce = false
	return was
}

// MarkEndOfRoundDone records the end-of-round pass for a turn. It returns
// false when the pass already ran for that turn.
func (s *Session) MarkEndOfRoundDone(turn int) bool {
	if s.EndOfRoundTurn == turn {
		return false
	}
	s.EndOfRoundTurn = turn
	return true
}

// CanDedupeRetry reports whether a character's single duplicate-response
// retry is still available.
func (s *Session) CanDedupeRetry(character string) bool {
	return !s.DedupeRetried[character]
}

// MarkDedupeRetried consumes a character's single dedupe retry. It returns
// false when the retry was already spent.
func (s *Session) MarkDedupeRetried(character string) bool {
	if s.DedupeRetried[character] {
		return false
	}
	if s.DedupeRetried == nil {
		s.DedupeRetried = make(map[string]bool)
	}
	s.DedupeRetried[character] = true
	return true
}

// AdvanceGameClock moves the game datetime forward, ignoring an unset or
// malformed clock.
func (s *Session) AdvanceGameClock(d time.Duration) {
	t, err := time.Parse(rules.GameClockLayout, s.GameDatetime)
	if err != nil {
		return
	}
	s.GameDatetime = t.Add(d).Format(rules.GameClockLayout)
}
