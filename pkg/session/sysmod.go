package session

import (
	"strings"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
)

// SystemMod is one pending system-message injection produced by a rule
// action, applied when the next inference context is built.
type SystemMod struct {
	Text   string                    `json:"text"`
	Mode   rules.SystemMessageMode   `json:"mode"`
	Anchor rules.SystemMessageAnchor `json:"anchor"`
}

// SystemModBuffer accumulates injections for the in-flight round. The
// buffer is owned by the orchestrator goroutine and drained per inference.
type SystemModBuffer struct {
	mods []SystemMod
}

func (b *SystemModBuffer) Add(mod SystemMod) {
	b.mods = append(b.mods, mod)
}

func (b *SystemModBuffer) Len() int { return len(b.mods) }

// Clear drops all pending injections.
func (b *SystemModBuffer) Clear() { b.mods = nil }

// ApplyFirst folds the first-anchored injections into the system prompt,
// in the order the rules fired.
func (b *SystemModBuffer) ApplyFirst(prompt string) string {
	return b.apply(prompt, rules.AnchorFirst)
}

// ApplyLast folds the last-anchored injections into the trailing system
// message. An empty result means no trailing message is added.
func (b *SystemModBuffer) ApplyLast(trailing string) string {
	return b.apply(trailing, rules.AnchorLast)
}

func (b *SystemModBuffer) apply(base string, anchor rules.SystemMessageAnchor) string {
	out := base
	for _, m := range b.mods {
		if m.Anchor != anchor {
			continue
		}
		switch m.Mode {
		case rules.ModePrepend:
			out = joinPrompt(m.Text, out)
		case rules.ModeReplace:
			out = m.Text
		default: // append
			out = joinPrompt(out, m.Text)
		}
	}
	return out
}

func joinPrompt(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
