package rules

import (
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
)

// ConditionType discriminates the Condition union.
type ConditionType string

const (
	ConditionNone         ConditionType = "none"
	ConditionAlways       ConditionType = "always"
	ConditionTurn         ConditionType = "turn"
	ConditionVariable     ConditionType = "variable"
	ConditionSceneCount   ConditionType = "scene_count"
	ConditionSetting      ConditionType = "setting"
	ConditionLocation     ConditionType = "location"
	ConditionRegion       ConditionType = "region"
	ConditionWorld        ConditionType = "world"
	ConditionGameTime     ConditionType = "game_time"
	ConditionPostDialogue ConditionType = "post_dialogue"
)

// Operator is the comparison operator used by Turn, SceneCount, Variable
// and GameTime conditions.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not contains"
	OpExists       Operator = "exists"
	OpNotExists    Operator = "not exists"
)

// TimeUnit selects which component of the game clock a GameTime
// condition compares.
type TimeUnit string

const (
	UnitHour TimeUnit = "hour"
	UnitDay  TimeUnit = "day"
)

// DialogueAmount is the expected amount of quoted dialogue in a post.
type DialogueAmount string

const (
	DialogueAll  DialogueAmount = "all"
	DialogueSome DialogueAmount = "some"
	DialogueNone DialogueAmount = "none"
)

// Condition is one predicate of a rule. Fields beyond Type are read
// per-type; unused fields are ignored.
type Condition struct {
	Type     ConditionType  `json:"type"`
	Operator Operator       `json:"operator,omitempty"`
	Target   string         `json:"target,omitempty"`   // numeric target for turn/scene_count, compare value for variable/game_time
	Variable string         `json:"variable,omitempty"` // variable name
	Scope    vars.Scope     `json:"scope,omitempty"`    // variable scope
	Name     string         `json:"name,omitempty"`     // geography node name for setting/location/region/world
	Unit     TimeUnit       `json:"unit,omitempty"`     // game_time component
	Amount   DialogueAmount `json:"amount,omitempty"`   // post_dialogue expectation
}

// LogicOp combines a rule's conditions.
type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

// RuleScope selects the excerpt of context a rule's judge call sees.
type RuleScope string

const (
	ScopeLastExchange     RuleScope = "last_exchange"
	ScopeFullConversation RuleScope = "full_conversation"
	ScopeUserMessage      RuleScope = "user_message"
	ScopeLLMReply         RuleScope = "llm_reply"
	ScopeConvoLLMReply    RuleScope = "convo_llm_reply"
)

// Applicability is who a rule fires for.
type Applicability string

const (
	AppliesToNarrator   Applicability = "narrator"
	AppliesToCharacter  Applicability = "character"
	AppliesToEndOfRound Applicability = "end_of_round"
)

// TagActionPair binds a judge tag to the actions executed when it matches.
// An empty tag matches unconditionally.
type TagActionPair struct {
	Tag     string   `json:"tag"`
	Actions []Action `json:"actions,omitempty"`
}

// Rule is one entry of an ordered rule list. Rules are immutable during an
// evaluation pass and edited externally between rounds.
type Rule struct {
	ID                 string          `json:"id"`
	Description        string          `json:"description,omitempty"`
	Conditions         []Condition     `json:"conditions,omitempty"`
	ConditionsOperator LogicOp         `json:"conditions_operator,omitempty"`
	Scope              RuleScope       `json:"scope,omitempty"`
	AppliesTo          Applicability   `json:"applies_to,omitempty"`
	CharacterName      string          `json:"character_name,omitempty"`
	Model              string          `json:"model,omitempty"`
	Pairs              []TagActionPair `json:"tag_action_pairs,omitempty"`
}

// NeedsJudge reports whether resolving this rule's firing tag requires an
// LLM judge call. A rule whose pairs are all wildcard tags fires without one.
func (r *Rule) NeedsJudge() bool {
	for _, p := range r.Pairs {
		if p.Tag != "" {
			return true
		}
	}
	return false
}

// FindRule returns the rule with the given id, or nil.
func FindRule(list []Rule, id string) *Rule {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// TimerRule schedules a synthetic turn after a delay. Agent is a character
// name, or empty for the Narrator.
type TimerRule struct {
	ID           string `json:"id"`
	DelaySeconds int    `json:"delay_seconds"`
	Agent        string `json:"agent,omitempty"`
	Instruction  string `json:"instruction,omitempty"`
	Repeat       bool   `json:"repeat,omitempty"`
}
