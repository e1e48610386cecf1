package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jwebster45206/d20"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
)

// UnknownActionKindError is returned when a rule names an action kind the
// executor has no handler for. The chain logs it and keeps going.
type UnknownActionKindError struct {
	Kind rules.ActionKind
}

func (e *UnknownActionKindError) Error() string {
	return fmt.Sprintf("unknown action kind: %q", string(e.Kind))
}

// Effects are the control signals an action hands back to the chain
// runner. Everything else an action does happens through its side effects
// on the session, variable store or pass environment.
type Effects struct {
	NextRuleID string
	Exit       bool
}

// RewriteFunc issues the synchronous utility inference behind Rewrite
// Post: instruction plus original text in, replacement text out.
type RewriteFunc func(ctx context.Context, instruction, original string) (string, error)

// CharacterMover moves a non-player character between settings.
type CharacterMover interface {
	MoveCharacter(name, settingID string)
}

// ActionExecutor is the open per-kind dispatch table. Handlers can be
// replaced or extended through Register without touching the chain runner.
type ActionExecutor struct {
	log     *slog.Logger
	sess    *session.Session
	sysMods *session.SystemModBuffer
	mover   CharacterMover
	rewrite RewriteFunc
	roller  *d20.Roller

	handlers map[rules.ActionKind]ActionHandler
}

// ActionHandler executes one action kind against the current pass.
type ActionHandler func(ctx context.Context, a rules.Action, env *passEnv) (Effects, error)

func NewActionExecutor(sess *session.Session, sysMods *session.SystemModBuffer, mover CharacterMover, rewrite RewriteFunc, log *slog.Logger) *ActionExecutor {
	x := &ActionExecutor{
		log:     log,
		sess:    sess,
		sysMods: sysMods,
		mover:   mover,
		rewrite: rewrite,
		roller:  d20.NewRandomRoller(),
	}
	x.handlers = map[rules.ActionKind]ActionHandler{
		rules.ActionSetVar:              x.setVar,
		rules.ActionDeleteVar:           x.deleteVar,
		rules.ActionSystemMessage:       x.systemMessage,
		rules.ActionTextTag:             x.textTag,
		rules.ActionNextRule:            x.nextRule,
		rules.ActionSwitchModel:         x.switchModel,
		rules.ActionRewritePost:         x.rewritePost,
		rules.ActionForceNarrator:       x.forceNarrator,
		rules.ActionSuppressNarrator:    x.suppressNarrator,
		rules.ActionNewScene:            x.newScene,
		rules.ActionSkipPost:            x.skipPost,
		rules.ActionExitRuleProcessing:  x.exitRuleProcessing,
		rules.ActionChangeActorLocation: x.changeActorLocation,
		rules.ActionRollDice:            x.rollDice,
	}
	return x
}

// Register installs or replaces the handler for a kind.
func (x *ActionExecutor) Register(kind rules.ActionKind, h ActionHandler) {
	x.handlers[kind] = h
}

func (x *ActionExecutor) Execute(ctx context.Context, a rules.Action, env *passEnv) (Effects, error) {
	h, ok := x.handlers[a.Kind]
	if !ok {
		return Effects{}, &UnknownActionKindError{Kind: a.Kind}
	}
	return h(ctx, a, env)
}

func (x *ActionExecutor) setVar(_ context.Context, a rules.Action, env *passEnv) (Effects, error) {
	scope := a.Scope
	if scope == "" {
		scope = vars.ScopeGlobal
	}
	env.ec.Vars.Set(scope, a.Variable, a.Value, env.ec.Character)
	return Effects{}, nil
}

func (x *ActionExecutor) deleteVar(_ context.Context, a rules.Action, env *passEnv) (Effects, error) {
	scope := a.Scope
	if scope == "" {
		scope = vars.ScopeGlobal
	}
	env.ec.Vars.Delete(scope, a.Variable, env.ec.Character)
	return Effects{}, nil
}

func (x *ActionExecutor) systemMessage(_ context.Context, a rules.Action, _ *passEnv) (Effects, error) {
	mode := a.Mode
	if mode == "" {
		mode = rules.ModeAppend
	}
	anchor := a.Anchor
	if anchor == "" {
		anchor = rules.AnchorLast
	}
	x.sysMods.Add(session.SystemMod{Text: a.Text, Mode: mode, Anchor: anchor})
	return Effects{}, nil
}

func (x *ActionExecutor) textTag(_ context.Context, a rules.Action, env *passEnv) (Effects, error) {
	env.textTag = a.Text
	return Effects{}, nil
}

func (x *ActionExecutor) nextRule(_ context.Context, a rules.Action, _ *passEnv) (Effects, error) {
	return Effects{NextRuleID: a.TargetRule}, nil
}

func (x *ActionExecutor) switchModel(_ context.Context, a rules.Action, env *passEnv) (Effects, error) {
	env.modelOverride = a.Model
	return Effects{}, nil
}

// rewritePost replaces the buffered reply in place. Outside a post pass
// there is no reply to rewrite and the action is a no-op.
func (x *ActionExecutor) rewritePost(ctx context.Context, a rules.Action, env *passEnv) (Effects, error) {
	if env.reply == nil {
		return Effects{}, nil
	}
	out, err := x.rewrite(ctx, a.Text, *env.reply)
	if err != nil {
		return Effects{}, fmt.Errorf("rewrite inference failed: %w", err)
	}
	*env.reply = out
	return Effects{}, nil
}

func (x *ActionExecutor) forceNarrator(_ context.Context, a rules.Action, _ *passEnv) (Effects, error) {
	order := a.Order
	if order == "" {
		order = rules.NarratorFirst
	}
	x.sess.ForceNarrator = session.ForceNarratorState{
		Active:        true,
		Order:         order,
		SystemMessage: a.Text,
		DeferToEnd:    order == rules.NarratorLast,
	}
	return Effects{}, nil
}

// suppressNarrator silences the Narrator for the next player round. Timer
// rounds ignore the flag.
func (x *ActionExecutor) suppressNarrator(_ context.Context, _ rules.Action, _ *passEnv) (Effects, error) {
	x.sess.SuppressNarratorOnce = true
	return Effects{}, nil
}

func (x *ActionExecutor) newScene(_ context.Context, _ rules.Action, _ *passEnv) (Effects, error) {
	x.sess.AdvanceScene()
	x.log.Info("Scene advanced", "scene", x.sess.SceneNumber)
	return Effects{}, nil
}

func (x *ActionExecutor) skipPost(_ context.Context, _ rules.Action, env *passEnv) (Effects, error) {
	env.skipPost = true
	return Effects{}, nil
}

func (x *ActionExecutor) exitRuleProcessing(_ context.Context, _ rules.Action, _ *passEnv) (Effects, error) {
	return Effects{Exit: true}, nil
}

func (x *ActionExecutor) changeActorLocation(_ context.Context, a rules.Action, _ *passEnv) (Effects, error) {
	if x.mover == nil {
		return Effects{}, fmt.Errorf("no world map configured for actor movement")
	}
	x.mover.MoveCharacter(a.Actor, a.SettingID)
	return Effects{}, nil
}

// rollDice resolves an attribute check: 1d20 plus the actor's attribute
// modifier against the DC. The outcome lands in the named variable so
// later rules and prompts can read it.
func (x *ActionExecutor) rollDice(_ context.Context, a rules.Action, env *passEnv) (Effects, error) {
	actorID := env.ec.Character
	if actorID == "" {
		actorID = "player"
	}

	score := 10
	if raw, ok := env.ec.Vars.Get(vars.ScopeCharacter, a.Attribute, actorID); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			score = n
		}
	}
	mod := (score - 10) / 2

	// The actor carries the check modifier as its skill value; SkillCheck
	// rolls 1d20 and adds it.
	actor, err := d20.NewActor(actorID).
		WithHP(1).
		WithAC(10).
		WithAttributes(map[string]int{a.Attribute: mod}).
		Build()
	if err != nil {
		return Effects{}, fmt.Errorf("failed to build actor for roll: %w", err)
	}

	check, err := actor.SkillCheck(a.Attribute, x.roller)
	if err != nil {
		return Effects{}, fmt.Errorf("failed to prepare roll: %w", err)
	}
	result, err := check.Roll()
	if err != nil {
		return Effects{}, fmt.Errorf("roll failed: %w", err)
	}

	outcome := "fail"
	if result.Value >= a.DC {
		outcome = "pass"
	}

	scope := a.Scope
	if scope == "" {
		scope = vars.ScopeGlobal
	}
	env.ec.Vars.Set(scope, a.Variable, outcome, actorID)
	env.ec.Vars.Set(scope, a.Variable+"_total", strconv.Itoa(result.Value), actorID)

	x.log.Info("Dice roll resolved",
		"actor", actorID,
		"attribute", a.Attribute,
		"detail", result.Detail,
		"dc", a.DC,
		"outcome", outcome)
	return Effects{}, nil
}
