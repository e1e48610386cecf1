package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/world"
)

var titleCaser = cases.Title(language.English)

// CanonicalName normalizes an agent name for scheduling and display:
// underscores become spaces and words are title-cased, so "old_hermit"
// and "Old Hermit" collapse to the same agent.
func CanonicalName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "_", " ")
	return titleCaser.String(name)
}

// NpcTurnScheduler owns the round's character worklist. Characters are
// enqueued in the order the world map lists them and strictly one
// inference is in flight at a time; the next pop waits for Finish.
type NpcTurnScheduler struct {
	log      *slog.Logger
	geo      world.Lookup
	queue    []string
	inFlight string
}

func NewNpcTurnScheduler(geo world.Lookup, log *slog.Logger) *NpcTurnScheduler {
	return &NpcTurnScheduler{log: log, geo: geo}
}

// BuildWorklist fills the queue with the characters present in the
// player's current setting. Any previous worklist is discarded.
func (s *NpcTurnScheduler) BuildWorklist(sessionID string) error {
	if s.inFlight != "" {
		return fmt.Errorf("cannot rebuild worklist while %s is in flight", s.inFlight)
	}
	s.queue = s.queue[:0]

	if s.geo == nil {
		return nil
	}
	pos, err := s.geo.CurrentPosition(sessionID)
	if err != nil {
		return fmt.Errorf("failed to resolve player position: %w", err)
	}
	names, err := s.geo.CharactersPresent(pos.SettingID)
	if err != nil {
		return fmt.Errorf("failed to list characters in %s: %w", pos.SettingID, err)
	}
	// A character listed under several spellings still takes one turn.
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		canon := CanonicalName(n)
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		s.queue = append(s.queue, canon)
	}
	sort.Strings(s.queue)
	s.log.Debug("Character worklist built",
		"setting", pos.SettingID,
		"count", len(s.queue))
	return nil
}

// SetWorklist replaces the queue with an explicit list of names, used for
// timer rounds that target a single character.
func (s *NpcTurnScheduler) SetWorklist(names []string) {
	s.queue = s.queue[:0]
	for _, n := range names {
		s.queue = append(s.queue, CanonicalName(n))
	}
}

// Next pops the head of the worklist. It refuses to pop while another
// character's inference is outstanding.
func (s *NpcTurnScheduler) Next() (string, bool) {
	if s.inFlight != "" || len(s.queue) == 0 {
		return "", false
	}
	name := s.queue[0]
	s.queue = s.queue[1:]
	return name, true
}

func (s *NpcTurnScheduler) Begin(name string) error {
	if s.inFlight != "" {
		return fmt.Errorf("character inference already in flight for %s", s.inFlight)
	}
	s.inFlight = name
	return nil
}

func (s *NpcTurnScheduler) Finish(name string) {
	if s.inFlight != name {
		s.log.Warn("Finish for character not in flight",
			"finished", name,
			"in_flight", s.inFlight)
		return
	}
	s.inFlight = ""
}

// Skip removes a named character from the remaining worklist, used when a
// rule pass decides the character stays silent this round.
func (s *NpcTurnScheduler) Skip(name string) {
	canon := CanonicalName(name)
	for i, n := range s.queue {
		if n == canon {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *NpcTurnScheduler) InFlight() string { return s.inFlight }

func (s *NpcTurnScheduler) Idle() bool { return s.inFlight == "" && len(s.queue) == 0 }
