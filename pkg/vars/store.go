package vars

import "strings"

// Scope identifies which bucket of the variable store a key lives in.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopePlayer    Scope = "player"
	ScopeCharacter Scope = "character" // qualified by actor name
	ScopeSetting   Scope = "setting"   // qualified by the current setting id
)

// Store is scoped key/value storage for rule conditions and actions.
// All access is synchronous; the orchestrator goroutine is the only writer.
type Store struct {
	global    map[string]string
	player    map[string]string
	character map[string]map[string]string
	setting   map[string]map[string]string
}

func NewStore() *Store {
	return &Store{
		global:    make(map[string]string),
		player:    make(map[string]string),
		character: make(map[string]map[string]string),
		setting:   make(map[string]map[string]string),
	}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// Get resolves a variable by scope. actorID qualifies Character and Setting
// scopes and is ignored otherwise.
func (s *Store) Get(scope Scope, key, actorID string) (string, bool) {
	key = normalizeKey(key)
	switch scope {
	case ScopePlayer:
		v, ok := s.player[key]
		return v, ok
	case ScopeCharacter:
		m, ok := s.character[normalizeKey(actorID)]
		if !ok {
			return "", false
		}
		v, ok := m[key]
		return v, ok
	case ScopeSetting:
		m, ok := s.setting[normalizeKey(actorID)]
		if !ok {
			return "", false
		}
		v, ok := m[key]
		return v, ok
	default:
		v, ok := s.global[key]
		return v, ok
	}
}

// Set writes a variable into the given scope.
func (s *Store) Set(scope Scope, key, value, actorID string) {
	key = normalizeKey(key)
	switch scope {
	case ScopePlayer:
		s.player[key] = value
	case ScopeCharacter:
		id := normalizeKey(actorID)
		if s.character[id] == nil {
			s.character[id] = make(map[string]string)
		}
		s.character[id][key] = value
	case ScopeSetting:
		id := normalizeKey(actorID)
		if s.setting[id] == nil {
			s.setting[id] = make(map[string]string)
		}
		s.setting[id][key] = value
	default:
		s.global[key] = value
	}
}

// Delete removes a variable from the given scope.
func (s *Store) Delete(scope Scope, key, actorID string) {
	key = normalizeKey(key)
	switch scope {
	case ScopePlayer:
		delete(s.player, key)
	case ScopeCharacter:
		if m, ok := s.character[normalizeKey(actorID)]; ok {
			delete(m, key)
		}
	case ScopeSetting:
		if m, ok := s.setting[normalizeKey(actorID)]; ok {
			delete(m, key)
		}
	default:
		delete(s.global, key)
	}
}

// Snapshot is the serializable form of a Store, embedded in the persisted
// session payload.
type Snapshot struct {
	Global    map[string]string            `json:"global,omitempty"`
	Player    map[string]string            `json:"player,omitempty"`
	Character map[string]map[string]string `json:"character,omitempty"`
	Setting   map[string]map[string]string `json:"setting,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Global:    copyMap(s.global),
		Player:    copyMap(s.player),
		Character: copyNested(s.character),
		Setting:   copyNested(s.setting),
	}
}

// FromSnapshot restores a store from a persisted snapshot.
func FromSnapshot(snap Snapshot) *Store {
	s := NewStore()
	for k, v := range snap.Global {
		s.global[normalizeKey(k)] = v
	}
	for k, v := range snap.Player {
		s.player[normalizeKey(k)] = v
	}
	for id, m := range snap.Character {
		for k, v := range m {
			s.Set(ScopeCharacter, k, v, id)
		}
	}
	for id, m := range snap.Setting {
		for k, v := range m {
			s.Set(ScopeSetting, k, v, id)
		}
	}
	return s
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyNested(m map[string]map[string]string) map[string]map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(m))
	for id, inner := range m {
		out[id] = copyMap(inner)
	}
	return out
}
