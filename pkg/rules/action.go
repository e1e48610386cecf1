package rules

import "github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"

// ActionKind discriminates the open Action union. The orchestration core
// dispatches on kind; concrete behavior lives in the engine's executor
// registry so new kinds can be added without touching the pipeline.
type ActionKind string

const (
	ActionSetVar              ActionKind = "set_var"
	ActionDeleteVar           ActionKind = "delete_var"
	ActionSystemMessage       ActionKind = "system_message"
	ActionTextTag             ActionKind = "text_tag"
	ActionNextRule            ActionKind = "next_rule"
	ActionSwitchModel         ActionKind = "switch_model"
	ActionRewritePost         ActionKind = "rewrite_post"
	ActionForceNarrator       ActionKind = "force_narrator"
	ActionSuppressNarrator    ActionKind = "suppress_narrator"
	ActionNewScene            ActionKind = "new_scene"
	ActionSkipPost            ActionKind = "skip_post"
	ActionExitRuleProcessing  ActionKind = "exit_rule_processing"
	ActionChangeActorLocation ActionKind = "change_actor_location"
	ActionRollDice            ActionKind = "roll_dice"
)

// SystemMessageMode places injected text relative to its anchor slot.
type SystemMessageMode string

const (
	ModePrepend SystemMessageMode = "prepend"
	ModeAppend  SystemMessageMode = "append"
	ModeReplace SystemMessageMode = "replace"
)

// SystemMessageAnchor selects the slot: the system prompt at the top of
// context (first) or the trailing system message (last).
type SystemMessageAnchor string

const (
	AnchorFirst SystemMessageAnchor = "first"
	AnchorLast  SystemMessageAnchor = "last"
)

// NarratorOrder is when a forced Narrator turn happens within a round.
type NarratorOrder string

const (
	NarratorFirst NarratorOrder = "first"
	NarratorLast  NarratorOrder = "last"
)

// Action is one resolved effect of a matched tag. Parameter fields beyond
// Kind are read per-kind; unused fields are ignored.
type Action struct {
	Kind ActionKind `json:"kind"`

	// set_var / delete_var / roll_dice result
	Variable string     `json:"variable,omitempty"`
	Scope    vars.Scope `json:"scope,omitempty"`
	Value    string     `json:"value,omitempty"`

	// system_message / rewrite_post instruction / force_narrator message
	Text   string              `json:"text,omitempty"`
	Mode   SystemMessageMode   `json:"mode,omitempty"`
	Anchor SystemMessageAnchor `json:"anchor,omitempty"`

	// next_rule
	TargetRule string `json:"target_rule,omitempty"`

	// switch_model
	Model string `json:"model,omitempty"`

	// force_narrator
	Order NarratorOrder `json:"order,omitempty"`

	// change_actor_location
	Actor     string `json:"actor,omitempty"`
	SettingID string `json:"setting_id,omitempty"`

	// roll_dice
	Attribute string `json:"attribute,omitempty"`
	DC        int    `json:"dc,omitempty"`
}
