package world

import "strings"

// Position locates the player within the geography hierarchy:
// world > region > location > setting.
type Position struct {
	SettingID  string `json:"setting_id"`
	LocationID string `json:"location_id"`
	RegionID   string `json:"region_id"`
	WorldID    string `json:"world_id"`
}

// Lookup resolves the player's current geography node and the characters
// present there. Implementations are external to the orchestration core.
type Lookup interface {
	// CurrentPosition returns the player's position for a session.
	CurrentPosition(sessionID string) (Position, error)

	// CharactersPresent returns the names of characters in a setting.
	CharactersPresent(settingID string) ([]string, error)
}

// Normalize canonicalizes a geography name for comparison:
// lowercased, trimmed, internal spaces replaced with underscores.
func Normalize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return strings.ReplaceAll(name, " ", "_")
}

// Equal reports whether two geography names match after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Setting is one node of a static in-memory geography map.
type Setting struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	LocationID string   `json:"location_id,omitempty"`
	RegionID   string   `json:"region_id,omitempty"`
	WorldID    string   `json:"world_id,omitempty"`
	Characters []string `json:"characters,omitempty"`
}

// Map is a static Lookup backed by a map of settings. It serves the console
// client and tests; a live deployment substitutes its own implementation.
type Map struct {
	Settings map[string]Setting `json:"settings"`
	// Player positions keyed by session id.
	Positions map[string]string `json:"positions,omitempty"`
	// DefaultSetting is where sessions without a recorded position stand.
	DefaultSetting string `json:"default_setting,omitempty"`
}

func NewMap() *Map {
	return &Map{
		Settings:  make(map[string]Setting),
		Positions: make(map[string]string),
	}
}

// AddSetting registers a setting node.
func (m *Map) AddSetting(s Setting) {
	m.Settings[Normalize(s.ID)] = s
}

// MovePlayer records the player's current setting for a session.
func (m *Map) MovePlayer(sessionID, settingID string) {
	m.Positions[sessionID] = Normalize(settingID)
}

// MoveCharacter relocates a character to the named setting.
func (m *Map) MoveCharacter(name, settingID string) {
	for id, s := range m.Settings {
		kept := s.Characters[:0]
		for _, c := range s.Characters {
			if !strings.EqualFold(c, name) {
				kept = append(kept, c)
			}
		}
		s.Characters = kept
		m.Settings[id] = s
	}
	dest := Normalize(settingID)
	if s, ok := m.Settings[dest]; ok {
		s.Characters = append(s.Characters, name)
		m.Settings[dest] = s
	}
}

func (m *Map) CurrentPosition(sessionID string) (Position, error) {
	settingID, ok := m.Positions[sessionID]
	if !ok {
		settingID = Normalize(m.DefaultSetting)
	}
	s, ok := m.Settings[settingID]
	if !ok {
		return Position{}, nil
	}
	return Position{
		SettingID:  s.ID,
		LocationID: s.LocationID,
		RegionID:   s.RegionID,
		WorldID:    s.WorldID,
	}, nil
}

func (m *Map) CharactersPresent(settingID string) ([]string, error) {
	s, ok := m.Settings[Normalize(settingID)]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(s.Characters))
	copy(out, s.Characters)
	return out, nil
}
