package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
)

type runnerFixture struct {
	sess    *session.Session
	store   *vars.Store
	sysMods *session.SystemModBuffer
	runner  *ChainRunner
	judged  []string
}

func newRunnerFixture(t *testing.T, judge JudgeFunc) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		sess:    session.New(),
		store:   vars.NewStore(),
		sysMods: &session.SystemModBuffer{},
	}
	wrapped := func(ctx context.Context, model, prompt string) (string, error) {
		f.judged = append(f.judged, model)
		if judge == nil {
			return "", errors.New("no judge configured")
		}
		return judge(ctx, model, prompt)
	}
	exec := NewActionExecutor(f.sess, f.sysMods, nil, nil, testLogger())
	f.runner = NewChainRunner(wrapped, exec, "judge-model", testLogger())
	return f
}

func (f *runnerFixture) env() *passEnv {
	return &passEnv{
		ctx: context.Background(),
		ec: &rules.EvalContext{
			Session: f.sess,
			Vars:    f.store,
			Turn:    f.sess.TurnCount,
		},
	}
}

func setVarRule(id, tag, variable, value string) rules.Rule {
	return rules.Rule{
		ID:         id,
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{{
			Tag: tag,
			Actions: []rules.Action{{
				Kind:     rules.ActionSetVar,
				Variable: variable,
				Scope:    vars.ScopeGlobal,
				Value:    value,
			}},
		}},
	}
}

func TestRunSequential_WildcardSkipsJudge(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	f.runner.RunSequential([]rules.Rule{setVarRule("r1", "", "fired", "yes")}, env)

	if len(f.judged) != 0 {
		t.Error("all-wildcard rule must not call the judge")
	}
	if v, _ := f.store.Get(vars.ScopeGlobal, "fired", ""); v != "yes" {
		t.Errorf("fired = %q", v)
	}
}

func TestRunSequential_JudgePicksTag(t *testing.T) {
	f := newRunnerFixture(t, func(context.Context, string, string) (string, error) {
		return "hostile", nil
	})
	env := f.env()

	rule := rules.Rule{
		ID:         "r1",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{
			{Tag: "friendly", Actions: []rules.Action{{Kind: rules.ActionSetVar, Variable: "tone", Value: "warm"}}},
			{Tag: "hostile", Actions: []rules.Action{{Kind: rules.ActionSetVar, Variable: "tone", Value: "cold"}}},
		},
	}
	f.runner.RunSequential([]rules.Rule{rule}, env)

	if v, _ := f.store.Get(vars.ScopeGlobal, "tone", ""); v != "cold" {
		t.Errorf("tone = %q, want cold", v)
	}
	if len(f.judged) != 1 {
		t.Errorf("judge calls = %d, want 1", len(f.judged))
	}
}

func TestRunSequential_JudgeErrorIsNonMatch(t *testing.T) {
	f := newRunnerFixture(t, func(context.Context, string, string) (string, error) {
		return "", errors.New("backend down")
	})
	env := f.env()

	failing := setVarRule("r1", "sometag", "a", "1")
	next := setVarRule("r2", "", "b", "2")
	f.runner.RunSequential([]rules.Rule{failing, next}, env)

	if _, ok := f.store.Get(vars.ScopeGlobal, "a", ""); ok {
		t.Error("failed judge must not fire the rule")
	}
	if v, _ := f.store.Get(vars.ScopeGlobal, "b", ""); v != "2" {
		t.Error("scan must continue past a failed judge call")
	}
}

func TestRunSequential_NextRuleJumpIsExclusive(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	jumper := rules.Rule{
		ID:         "jumper",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{{
			Tag:     "",
			Actions: []rules.Action{{Kind: rules.ActionNextRule, TargetRule: "target"}},
		}},
	}
	// A None-condition rule: unreachable by scan, reachable by jump.
	target := rules.Rule{
		ID:         "target",
		Conditions: []rules.Condition{{Type: rules.ConditionNone}},
		Pairs: []rules.TagActionPair{{
			Tag:     "",
			Actions: []rules.Action{{Kind: rules.ActionSetVar, Variable: "jumped", Value: "yes"}},
		}},
	}
	skipped := setVarRule("after", "", "scanned_after_jump", "yes")

	f.runner.RunSequential([]rules.Rule{jumper, target, skipped}, env)

	if v, _ := f.store.Get(vars.ScopeGlobal, "jumped", ""); v != "yes" {
		t.Error("Next Rule must invoke its target directly")
	}
	if _, ok := f.store.Get(vars.ScopeGlobal, "scanned_after_jump", ""); ok {
		t.Error("scan must not resume after a Next Rule jump")
	}
}

func TestRunSequential_NoneRulesSkippedByScan(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	trigger := rules.Rule{
		ID:         "trigger-only",
		Conditions: []rules.Condition{{Type: rules.ConditionNone}},
		Pairs: []rules.TagActionPair{{
			Tag:     "",
			Actions: []rules.Action{{Kind: rules.ActionSetVar, Variable: "fired", Value: "yes"}},
		}},
	}
	f.runner.RunSequential([]rules.Rule{trigger}, env)

	if _, ok := f.store.Get(vars.ScopeGlobal, "fired", ""); ok {
		t.Error("None-condition rule must not fire during a scan")
	}

	f.runner.RunDirect(&trigger, env)
	if v, _ := f.store.Get(vars.ScopeGlobal, "fired", ""); v != "yes" {
		t.Error("None-condition rule must fire on direct invocation")
	}
}

func TestRunSequential_ExitStopsPass(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	exiting := rules.Rule{
		ID:         "exit",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{{
			Tag:     "",
			Actions: []rules.Action{{Kind: rules.ActionExitRuleProcessing}},
		}},
	}
	after := setVarRule("after", "", "after_exit", "yes")

	f.runner.RunSequential([]rules.Rule{exiting, after}, env)

	if _, ok := f.store.Get(vars.ScopeGlobal, "after_exit", ""); ok {
		t.Error("no rule may run after Exit Rule Processing")
	}
	if !env.exitAll {
		t.Error("exit flag should be visible to the caller")
	}
}

func TestRunSequential_RuleModelOverridesJudgeModel(t *testing.T) {
	f := newRunnerFixture(t, func(context.Context, string, string) (string, error) {
		return "yes", nil
	})
	env := f.env()

	rule := setVarRule("r1", "yes", "v", "1")
	rule.Model = "custom-judge"
	f.runner.RunSequential([]rules.Rule{rule}, env)

	if len(f.judged) != 1 || f.judged[0] != "custom-judge" {
		t.Errorf("judge models = %v, want [custom-judge]", f.judged)
	}
}

func TestActionAccumulation(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	rule := rules.Rule{
		ID:         "acc",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{{
			Tag: "",
			Actions: []rules.Action{
				{Kind: rules.ActionSwitchModel, Model: "other-model"},
				{Kind: rules.ActionTextTag, Text: "whisper"},
				{Kind: rules.ActionSkipPost},
			},
		}},
	}
	f.runner.RunSequential([]rules.Rule{rule}, env)

	if env.modelOverride != "other-model" {
		t.Errorf("modelOverride = %q", env.modelOverride)
	}
	if env.textTag != "whisper" {
		t.Errorf("textTag = %q", env.textTag)
	}
	if !env.skipPost {
		t.Error("skipPost should be set")
	}
}

func TestUnknownActionKind(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	rule := rules.Rule{
		ID:         "bad",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{{
			Tag: "",
			Actions: []rules.Action{
				{Kind: rules.ActionKind("explode")},
				{Kind: rules.ActionSetVar, Variable: "still_ran", Value: "yes"},
			},
		}},
	}
	// Unknown kinds are logged and skipped; the pair keeps executing.
	f.runner.RunSequential([]rules.Rule{rule}, env)

	if v, _ := f.store.Get(vars.ScopeGlobal, "still_ran", ""); v != "yes" {
		t.Error("actions after an unknown kind must still run")
	}
}

func TestForceNarratorAction(t *testing.T) {
	f := newRunnerFixture(t, nil)
	env := f.env()

	rule := rules.Rule{
		ID:         "force",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		Pairs: []rules.TagActionPair{{
			Tag: "",
			Actions: []rules.Action{{
				Kind:  rules.ActionForceNarrator,
				Order: rules.NarratorLast,
				Text:  "Wrap up the scene.",
			}},
		}},
	}
	f.runner.RunSequential([]rules.Rule{rule}, env)

	fn := f.sess.ForceNarrator
	if !fn.Active || !fn.DeferToEnd || fn.SystemMessage != "Wrap up the scene." {
		t.Errorf("ForceNarrator = %+v", fn)
	}
}
