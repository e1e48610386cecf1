package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
)

// Pass identifies which chain pass is running.
type Pass string

const (
	PassPre        Pass = "pre"
	PassPost       Pass = "post"
	PassEndOfRound Pass = "end_of_round"
)

// passEnv is the mutable state threaded through one rule pass. The runner
// and executor write control signals here; the orchestrator reads them
// after the pass completes.
type passEnv struct {
	ctx  context.Context
	ec   *rules.EvalContext
	pass Pass

	// allRules is the full list the pass runs over, for Next Rule lookups.
	allRules []rules.Rule

	// messages is a snapshot of the conversation context for judge excerpts.
	messages []chat.Message

	// reply is the buffered response under post-pass processing, nil in
	// pre passes. Rewrite Post replaces it in place.
	reply *string

	// Accumulated control signals.
	modelOverride string // Switch Model, last writer wins
	textTag       string
	skipPost      bool
	exitAll       bool
}

// JudgeFunc issues a synchronous utility inference that picks a tag.
// Deliberately blocking: the rule's outcome gates the next action.
type JudgeFunc func(ctx context.Context, model, prompt string) (string, error)

// ChainRunner drives a cursor through an ordered rule list, evaluating
// conditions, resolving the firing tag and dispatching actions.
type ChainRunner struct {
	log        *slog.Logger
	judge      JudgeFunc
	exec       *ActionExecutor
	judgeModel string
}

func NewChainRunner(judge JudgeFunc, exec *ActionExecutor, judgeModel string, log *slog.Logger) *ChainRunner {
	return &ChainRunner{
		log:        log,
		judge:      judge,
		exec:       exec,
		judgeModel: judgeModel,
	}
}

// RunSequential scans the rule list in order. The cursor strictly
// increases; a Next Rule jump hands off to RunDirect and the scan does not
// resume. Judge failures abort only the current rule, never the pass.
func (r *ChainRunner) RunSequential(ruleList []rules.Rule, env *passEnv) {
	env.allRules = ruleList
	env.ec.Direct = false

	for i := range ruleList {
		if env.exitAll {
			return
		}
		rule := &ruleList[i]
		if !rules.EvaluateAll(rule, env.ec) {
			continue
		}
		if jumped := r.fire(rule, env); jumped {
			return
		}
	}
}

// RunDirect invokes a single rule, bypassing the chain scan. Direct
// invocation is what makes None-condition trigger-only rules fire.
func (r *ChainRunner) RunDirect(rule *rules.Rule, env *passEnv) {
	wasDirect := env.ec.Direct
	env.ec.Direct = true
	defer func() { env.ec.Direct = wasDirect }()

	if !rules.EvaluateAll(rule, env.ec) {
		return
	}
	r.fire(rule, env)
}

// fire resolves the rule's tag and executes the matched pair's actions.
// It returns true when a Next Rule jump consumed the rest of the pass.
func (r *ChainRunner) fire(rule *rules.Rule, env *passEnv) bool {
	judgeText := ""
	if rule.NeedsJudge() {
		out, err := r.resolveTag(rule, env)
		if err != nil {
			// A failed judge call makes this rule a non-match; the scan
			// continues at the next rule.
			r.log.Warn("Judge call failed, skipping rule",
				"rule_id", rule.ID,
				"error", err)
			return false
		}
		judgeText = out
	}

	pair := rules.MatchTag(rule.Pairs, judgeText)
	if pair == nil {
		return false
	}

	for _, action := range pair.Actions {
		effects, err := r.exec.Execute(env.ctx, action, env)
		if err != nil {
			r.log.Warn("Action failed",
				"rule_id", rule.ID,
				"kind", string(action.Kind),
				"error", err)
			continue
		}
		if effects.NextRuleID != "" {
			target := rules.FindRule(env.allRules, effects.NextRuleID)
			if target == nil {
				r.log.Warn("Next Rule target not found",
					"rule_id", rule.ID,
					"target", effects.NextRuleID)
				continue
			}
			r.RunDirect(target, env)
			return true
		}
		if effects.Exit {
			env.exitAll = true
			return false
		}
	}
	return false
}

// resolveTag renders the rule's context excerpt and asks the judge model to
// pick one of the declared tags.
func (r *ChainRunner) resolveTag(rule *rules.Rule, env *passEnv) (string, error) {
	model := rule.Model
	if model == "" {
		model = r.judgeModel
	}
	prompt := r.judgePrompt(rule, env)
	out, err := r.judge(env.ctx, model, prompt)
	if err != nil {
		return "", fmt.Errorf("judge inference failed: %w", err)
	}
	return out, nil
}

func (r *ChainRunner) judgePrompt(rule *rules.Rule, env *passEnv) string {
	tags := make([]string, 0, len(rule.Pairs))
	for _, p := range rule.Pairs {
		if p.Tag != "" {
			tags = append(tags, p.Tag)
		}
	}

	var sb strings.Builder
	sb.WriteString("You are a classifier for a roleplay engine. Read the excerpt and answer with exactly one of these labels, nothing else: ")
	sb.WriteString(strings.Join(tags, ", "))
	sb.WriteString("\n\nExcerpt:\n")
	sb.WriteString(renderExcerpt(rule.Scope, env))
	return sb.String()
}

// renderExcerpt produces the slice of context a rule's scope exposes to
// the judge.
func renderExcerpt(scope rules.RuleScope, env *passEnv) string {
	reply := ""
	if env.reply != nil {
		reply = *env.reply
	}

	switch scope {
	case rules.ScopeUserMessage:
		return env.ec.PlayerPost
	case rules.ScopeLLMReply:
		if reply != "" {
			return reply
		}
		if m := chat.LastOfRole(env.messages, chat.RoleAssistant); m != nil {
			return m.Content
		}
		return ""
	case rules.ScopeLastExchange:
		var sb strings.Builder
		if m := chat.LastOfRole(env.messages, chat.RoleUser); m != nil {
			sb.WriteString("User: " + m.Content + "\n")
		}
		if reply != "" {
			sb.WriteString("Assistant: " + reply)
		} else if m := chat.LastOfRole(env.messages, chat.RoleAssistant); m != nil {
			sb.WriteString("Assistant: " + m.Content)
		}
		return sb.String()
	case rules.ScopeConvoLLMReply:
		return renderConversation(env.messages) + "\n\nLatest reply:\n" + reply
	default: // full_conversation
		return renderConversation(env.messages)
	}
}

func renderConversation(messages []chat.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Role == chat.RoleSystem {
			continue
		}
		name := m.Metadata.CharacterName
		if name == "" {
			name = m.Role
		}
		sb.WriteString(name + ": " + m.Content + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
