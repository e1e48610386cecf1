package chat

import "fmt"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Metadata carries per-message bookkeeping written when a message is
// appended to the conversation context.
type Metadata struct {
	Turn          int               `json:"turn,omitempty"`
	CharacterName string            `json:"character_name,omitempty"`
	TextTag       string            `json:"text_tag,omitempty"`
	Location      string            `json:"location,omitempty"`
	GameDatetime  string            `json:"game_datetime,omitempty"`
	PostEffects   map[string]string `json:"post_effects,omitempty"`
}

// Message is a single entry in a conversation context. The context is
// append-only, except that a retried response may pop the last assistant
// message before its replacement is appended.
type Message struct {
	Role     string   `json:"role"`
	Content  string   `json:"content"`
	Scene    int      `json:"scene,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
}

func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("content cannot be empty")
	}
	return nil
}

// SameScene returns the messages whose scene number matches scene.
// System messages are always included.
func SameScene(messages []Message, scene int) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem || m.Scene == scene {
			out = append(out, m)
		}
	}
	return out
}

// LastOfRole returns the most recent message with the given role, or nil.
func LastOfRole(messages []Message, role string) *Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return &messages[i]
		}
	}
	return nil
}
