package engine

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
)

type recordingMover struct {
	name, setting string
}

func (m *recordingMover) MoveCharacter(name, settingID string) {
	m.name, m.setting = name, settingID
}

func execFixture(mover CharacterMover, rewrite RewriteFunc) (*ActionExecutor, *session.Session, *session.SystemModBuffer, *passEnv) {
	sess := session.New()
	sysMods := &session.SystemModBuffer{}
	exec := NewActionExecutor(sess, sysMods, mover, rewrite, testLogger())
	env := &passEnv{
		ctx: context.Background(),
		ec:  &rules.EvalContext{Session: sess, Vars: vars.NewStore()},
	}
	return exec, sess, sysMods, env
}

func TestSystemMessageAction_Defaults(t *testing.T) {
	exec, _, sysMods, env := execFixture(nil, nil)

	_, err := exec.Execute(env.ctx, rules.Action{
		Kind: rules.ActionSystemMessage,
		Text: "It is raining.",
	}, env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := sysMods.ApplyLast(""); got != "It is raining." {
		t.Errorf("ApplyLast = %q, want the message anchored last by default", got)
	}
	if got := sysMods.ApplyFirst("base"); got != "base" {
		t.Errorf("ApplyFirst = %q, a last-anchored mod must not touch the base prompt", got)
	}
}

func TestRewritePostAction(t *testing.T) {
	rewrite := func(_ context.Context, instruction, original string) (string, error) {
		return "[" + instruction + "] " + original, nil
	}
	exec, _, _, env := execFixture(nil, rewrite)

	reply := "The hermit waves."
	env.reply = &reply
	_, err := exec.Execute(env.ctx, rules.Action{
		Kind: rules.ActionRewritePost,
		Text: "make it ominous",
	}, env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "[make it ominous] The hermit waves." {
		t.Errorf("reply = %q", reply)
	}
}

func TestRewritePostAction_NoReplyIsNoop(t *testing.T) {
	rewrite := func(context.Context, string, string) (string, error) {
		return "", errors.New("must not be called")
	}
	exec, _, _, env := execFixture(nil, rewrite)

	if _, err := exec.Execute(env.ctx, rules.Action{Kind: rules.ActionRewritePost, Text: "x"}, env); err != nil {
		t.Fatalf("pre-pass rewrite must be a no-op, got %v", err)
	}
}

func TestChangeActorLocationAction(t *testing.T) {
	mover := &recordingMover{}
	exec, _, _, env := execFixture(mover, nil)

	_, err := exec.Execute(env.ctx, rules.Action{
		Kind:      rules.ActionChangeActorLocation,
		Actor:     "Old Hermit",
		SettingID: "harbor_road",
	}, env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if mover.name != "Old Hermit" || mover.setting != "harbor_road" {
		t.Errorf("moved %q to %q", mover.name, mover.setting)
	}
}

func TestChangeActorLocationAction_NoMover(t *testing.T) {
	exec, _, _, env := execFixture(nil, nil)

	if _, err := exec.Execute(env.ctx, rules.Action{Kind: rules.ActionChangeActorLocation, Actor: "x"}, env); err == nil {
		t.Error("expected an error without a world map")
	}
}

func TestSuppressNarratorAction(t *testing.T) {
	exec, sess, _, env := execFixture(nil, nil)

	if _, err := exec.Execute(env.ctx, rules.Action{Kind: rules.ActionSuppressNarrator}, env); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !sess.SuppressNarratorOnce {
		t.Error("suppression flag not set")
	}
	if !sess.ConsumeSuppression() {
		t.Error("flag should be consumable exactly once")
	}
	if sess.ConsumeSuppression() {
		t.Error("flag must clear on consumption")
	}
}

func TestNewSceneAction(t *testing.T) {
	exec, sess, _, env := execFixture(nil, nil)

	if _, err := exec.Execute(env.ctx, rules.Action{Kind: rules.ActionNewScene}, env); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sess.SceneNumber != 2 || !sess.PendingSceneClear {
		t.Errorf("scene = %d, pending clear = %v", sess.SceneNumber, sess.PendingSceneClear)
	}
}

func TestRollDiceAction(t *testing.T) {
	exec, _, _, env := execFixture(nil, nil)
	env.ec.Character = "Old Hermit"
	// Strength 18 gives +4; a DC of 5 cannot fail even on a natural 1.
	env.ec.Vars.Set(vars.ScopeCharacter, "strength", "18", "Old Hermit")

	_, err := exec.Execute(env.ctx, rules.Action{
		Kind:      rules.ActionRollDice,
		Attribute: "strength",
		Variable:  "door_check",
		DC:        5,
	}, env)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got, _ := env.ec.Vars.Get(vars.ScopeGlobal, "door_check", "Old Hermit"); got != "pass" {
		t.Errorf("door_check = %q, want pass", got)
	}
	raw, ok := env.ec.Vars.Get(vars.ScopeGlobal, "door_check_total", "Old Hermit")
	if !ok {
		t.Fatal("door_check_total not set")
	}
	total, err := strconv.Atoi(raw)
	if err != nil {
		t.Fatalf("door_check_total = %q", raw)
	}
	if total < 5 || total > 24 {
		t.Errorf("total = %d, want 1..20 plus the +4 modifier", total)
	}
}
