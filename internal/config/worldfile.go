package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/engine"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/world"
)

// SettingDef declares one setting of the world map and who starts there.
type SettingDef struct {
	ID         string   `json:"id"`
	LocationID string   `json:"location_id,omitempty"`
	RegionID   string   `json:"region_id,omitempty"`
	WorldID    string   `json:"world_id,omitempty"`
	Characters []string `json:"characters,omitempty"`
}

// WorldFile is the authored definition of a playable world: the map, the
// agent prompts, the rule lists and timers. Loaded once at startup.
type WorldFile struct {
	PlayerSetting  string                             `json:"player_setting"`
	NarratorPrompt string                             `json:"narrator_prompt"`
	GameDatetime   string                             `json:"game_datetime,omitempty"`
	Settings       []SettingDef                       `json:"settings"`
	Characters     map[string]engine.CharacterProfile `json:"characters,omitempty"`
	Rules          []rules.Rule                       `json:"rules,omitempty"`
	Timers         []rules.TimerRule                  `json:"timers,omitempty"`
}

func LoadWorldFile(path string) (*WorldFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read world file: %w", err)
	}

	var wf WorldFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse world file: %w", err)
	}
	if wf.PlayerSetting == "" {
		return nil, fmt.Errorf("world file missing player_setting")
	}
	if len(wf.Settings) == 0 {
		return nil, fmt.Errorf("world file declares no settings")
	}
	return &wf, nil
}

// BuildMap materializes the world map and places the player.
func (wf *WorldFile) BuildMap(sessionID string) *world.Map {
	m := world.NewMap()
	for _, s := range wf.Settings {
		m.AddSetting(world.Setting{
			ID:         s.ID,
			LocationID: s.LocationID,
			RegionID:   s.RegionID,
			WorldID:    s.WorldID,
			Characters: s.Characters,
		})
	}
	m.DefaultSetting = wf.PlayerSetting
	if sessionID != "" {
		m.MovePlayer(sessionID, wf.PlayerSetting)
	}
	return m
}

// CanonicalCharacters returns the profile map keyed by canonical names,
// so scheduler lookups match regardless of authored casing.
func (wf *WorldFile) CanonicalCharacters() map[string]engine.CharacterProfile {
	out := make(map[string]engine.CharacterProfile, len(wf.Characters))
	for name, p := range wf.Characters {
		canon := engine.CanonicalName(name)
		if p.Name == "" {
			p.Name = canon
		}
		out[canon] = p
	}
	return out
}
