package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/storage"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/world"
)

type orchFixture struct {
	t       *testing.T
	sess    *session.Session
	gateway *services.MockGateway
	store   *storage.MockStore
	orch    *Orchestrator
	settled chan struct{}
}

// newOrchFixture wires an orchestrator against the mock gateway and an
// in-memory store, with the player standing in a tavern shared with the
// named characters. Run is started on its own goroutine and stopped via
// t.Cleanup.
func newOrchFixture(t *testing.T, sess *session.Session, present ...string) *orchFixture {
	t.Helper()

	m := world.NewMap()
	m.AddSetting(world.Setting{ID: "tavern", Name: "The Tavern", LocationID: "harborside", Characters: present})
	m.MovePlayer(sess.ID.String(), "tavern")

	profiles := make(map[string]CharacterProfile, len(present))
	for _, name := range present {
		canonical := CanonicalName(name)
		profiles[canonical] = CharacterProfile{Name: canonical, Prompt: "You are " + canonical + "."}
	}

	f := &orchFixture{
		t:       t,
		sess:    sess,
		gateway: services.NewMockGateway(),
		store:   storage.NewMockStore(),
		settled: make(chan struct{}, 4),
	}

	cfg := Config{
		Narrator: NarratorConfig{
			BasePrompt:  "You narrate the world.",
			Model:       "narrator-model",
			MaxTokens:   300,
			Temperature: 0.7,
		},
		Characters:     profiles,
		JudgeModel:     "judge-model",
		UtilityModel:   "utility-model",
		FallbackModels: [3]string{"fb1", "fb2", "fb3"},
		NPCMaxTokens:   200,
		NPCTemperature: 0.8,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.orch = NewOrchestrator(ctx, cfg, sess, m, f.gateway, f.store, &NoopSink{}, testLogger())
	f.orch.OnSettled(func() { f.settled <- struct{}{} })
	go f.orch.Run()
	return f
}

func (f *orchFixture) waitSettled() {
	f.t.Helper()
	select {
	case <-f.settled:
	case <-time.After(3 * time.Second):
		f.t.Fatal("round did not settle")
	}
}

// sync runs fn on the orchestrator goroutine and waits for it, so tests
// can read session state without racing the actor.
func (f *orchFixture) sync(fn func()) {
	f.t.Helper()
	done := make(chan struct{})
	f.orch.Call(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		f.t.Fatal("orchestrator did not execute posted call")
	}
}

func (f *orchFixture) savedContext() []chat.Message {
	f.t.Helper()
	msgs, err := f.store.LoadContext(context.Background(), f.sess.ID)
	if err != nil {
		f.t.Fatalf("LoadContext: %v", err)
	}
	return msgs
}

func callsForModel(gw *services.MockGateway, model string) int {
	n := 0
	for _, c := range gw.Calls {
		if c.Model == model {
			n++
		}
	}
	return n
}

func TestRound_NarratorThenCharactersInOrder(t *testing.T) {
	sess := session.New()
	f := newOrchFixture(t, sess, "Old Hermit", "Barkeep Sella")

	f.orch.SubmitUserMessage("I push open the tavern door.")
	f.waitSettled()

	msgs := f.savedContext()
	if len(msgs) != 4 {
		t.Fatalf("context has %d messages, want 4: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != chat.RoleUser {
		t.Errorf("first message role = %q", msgs[0].Role)
	}
	if msgs[1].Metadata.CharacterName != "" {
		t.Errorf("second message should be the narrator, got character %q", msgs[1].Metadata.CharacterName)
	}
	if msgs[2].Metadata.CharacterName != "Barkeep Sella" || msgs[3].Metadata.CharacterName != "Old Hermit" {
		t.Errorf("characters replied out of canonical order: %q then %q",
			msgs[2].Metadata.CharacterName, msgs[3].Metadata.CharacterName)
	}
	for i, m := range msgs {
		if m.Metadata.Location != "harborside" {
			t.Errorf("message %d location = %q, want the player's location at append time", i, m.Metadata.Location)
		}
	}

	var turn int
	f.sync(func() { turn = sess.TurnCount })
	if turn != 2 {
		t.Errorf("TurnCount = %d, want 2 after one settled round", turn)
	}
	if f.gateway.CallCount() != 3 {
		t.Errorf("gateway calls = %d, want 3", f.gateway.CallCount())
	}
}

func TestRound_SuppressionSkipsNarratorOnce(t *testing.T) {
	sess := session.New()
	sess.SuppressNarratorOnce = true
	f := newOrchFixture(t, sess, "Old Hermit")

	f.orch.SubmitUserMessage("Hello?")
	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 0 {
		t.Errorf("narrator inferences = %d, want 0 while suppressed", n)
	}
	if got := len(f.gateway.CallsFor("Old Hermit")); got != 1 {
		t.Errorf("hermit inferences = %d, want 1", got)
	}

	f.orch.SubmitUserMessage("Anyone there?")
	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 1 {
		t.Errorf("suppression must only hold for one round, narrator inferences = %d", n)
	}
}

func TestRound_SkipPostSilencesCharacter(t *testing.T) {
	sess := session.New()
	sess.ThoughtRules = []rules.Rule{{
		ID:            "hermit-silent",
		Conditions:    []rules.Condition{{Type: rules.ConditionAlways}},
		AppliesTo:     rules.AppliesToCharacter,
		CharacterName: "Old Hermit",
		Pairs: []rules.TagActionPair{{
			Tag:     "",
			Actions: []rules.Action{{Kind: rules.ActionSkipPost}},
		}},
	}}
	f := newOrchFixture(t, sess, "Old Hermit", "Barkeep Sella")

	f.orch.SubmitUserMessage("Good evening.")
	f.waitSettled()

	if got := len(f.gateway.CallsFor("Old Hermit")); got != 0 {
		t.Errorf("silenced character was inferred %d times", got)
	}
	if got := len(f.gateway.CallsFor("Barkeep Sella")); got != 1 {
		t.Errorf("barkeep inferences = %d, want 1", got)
	}

	msgs := f.savedContext()
	for _, m := range msgs {
		if m.Metadata.CharacterName == "Old Hermit" {
			t.Error("silenced character still reached the context")
		}
	}
}

func TestRound_ForceNarratorLast(t *testing.T) {
	sess := session.New()
	sess.ThoughtRules = []rules.Rule{{
		ID:         "closing-beat",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		AppliesTo:  rules.AppliesToNarrator,
		Pairs: []rules.TagActionPair{{
			Tag: "",
			Actions: []rules.Action{{
				Kind:  rules.ActionForceNarrator,
				Order: rules.NarratorLast,
				Text:  "Close out the scene.",
			}},
		}},
	}}
	f := newOrchFixture(t, sess, "Old Hermit")

	f.orch.SubmitUserMessage("I sit by the fire.")
	f.waitSettled()

	msgs := f.savedContext()
	if len(msgs) != 4 {
		t.Fatalf("context has %d messages, want 4", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Role != chat.RoleAssistant || last.Metadata.CharacterName != "" {
		t.Errorf("final message should be a narrator post, got role %q character %q",
			last.Role, last.Metadata.CharacterName)
	}
	if n := callsForModel(f.gateway, "narrator-model"); n != 2 {
		t.Errorf("narrator inferences = %d, want the regular turn plus the forced one", n)
	}

	var active bool
	f.sync(func() { active = sess.ForceNarrator.Active })
	if active {
		t.Error("force flag must be cleared after the deferred turn")
	}
}

func TestRound_FallbackExhaustionEmitsNarratorError(t *testing.T) {
	sess := session.New()
	f := newOrchFixture(t, sess, "Old Hermit")

	boom := errors.New("model unavailable")
	// Primary attempt plus all three fallback models fail.
	f.gateway.QueueError(boom).QueueError(boom).QueueError(boom).QueueError(boom)

	f.orch.SubmitUserMessage("Say something.")
	f.waitSettled()

	msgs := f.savedContext()
	if len(msgs) != 3 {
		t.Fatalf("context has %d messages, want user post, error line and hermit reply", len(msgs))
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Metadata.CharacterName != "" {
		t.Errorf("second message should be the narrator's error line, got %+v", msgs[1])
	}
	if msgs[1].Content != inferenceErrorText {
		t.Errorf("error line = %q", msgs[1].Content)
	}
	if msgs[2].Metadata.CharacterName != "Old Hermit" {
		t.Errorf("surviving reply belongs to %q", msgs[2].Metadata.CharacterName)
	}

	var turn int
	f.sync(func() { turn = sess.TurnCount })
	if turn != 2 {
		t.Errorf("a failed narrator turn must not block the settle, TurnCount = %d", turn)
	}
}

func TestRound_FallbackExhaustionEmitsCannedCharacterMessage(t *testing.T) {
	sess := session.New()
	f := newOrchFixture(t, sess, "Old Hermit")

	f.gateway.Queue("The room falls quiet.")
	boom := errors.New("model unavailable")
	f.gateway.QueueError(boom).QueueError(boom).QueueError(boom).QueueError(boom)

	f.orch.SubmitUserMessage("Say something.")
	f.waitSettled()

	msgs := f.savedContext()
	if len(msgs) != 3 {
		t.Fatalf("context has %d messages, want user post, narrator reply and canned line", len(msgs))
	}
	last := msgs[2]
	if last.Metadata.CharacterName != "Old Hermit" {
		t.Errorf("canned line attributed to %q", last.Metadata.CharacterName)
	}
	if !strings.Contains(last.Content, "having trouble responding") {
		t.Errorf("canned line = %q", last.Content)
	}
}

func TestRound_EndOfRoundRuleRunsOncePerTurn(t *testing.T) {
	sess := session.New()
	sess.ThoughtRules = []rules.Rule{{
		ID:         "nightfall",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		AppliesTo:  rules.AppliesToEndOfRound,
		Pairs: []rules.TagActionPair{{
			Tag: "",
			Actions: []rules.Action{{
				Kind:     rules.ActionSetVar,
				Variable: "last_settled_turn",
				Value:    "done",
			}},
		}},
	}}
	f := newOrchFixture(t, sess)

	f.orch.SubmitUserMessage("First round.")
	f.waitSettled()

	var v string
	var marked bool
	f.sync(func() {
		v = sess.Variables.Global["last_settled_turn"]
		// The guard for turn 1 is consumed; a second call must refuse.
		marked = sess.MarkEndOfRoundDone(1)
	})
	if v != "done" {
		t.Errorf("end-of-round rule did not run, var = %q", v)
	}
	if marked {
		t.Error("end-of-round pass must be recorded for the settled turn")
	}
}

func TestTimerRound_CharacterTargeted(t *testing.T) {
	sess := session.New()
	sess.TimerRules = []rules.TimerRule{{
		ID:           "bell",
		DelaySeconds: 0,
		Agent:        "Old Hermit",
		Instruction:  "The evening bell just rang. React.",
	}}
	f := newOrchFixture(t, sess, "Old Hermit", "Barkeep Sella")

	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 0 {
		t.Errorf("narrator inferences = %d, want 0 in a character-targeted timer round", n)
	}
	hermitCalls := f.gateway.CallsFor("Old Hermit")
	if len(hermitCalls) != 1 {
		t.Fatalf("hermit inferences = %d, want 1", len(hermitCalls))
	}
	if got := len(f.gateway.CallsFor("Barkeep Sella")); got != 0 {
		t.Errorf("untargeted character was inferred %d times", got)
	}

	// The timer's instruction rides in as a trailing system message, and
	// the synthetic marker post never enters the context.
	ctxMsgs := hermitCalls[0].Context
	found := false
	for _, m := range ctxMsgs {
		if m.Role == chat.RoleSystem && m.Content == "The evening bell just rang. React." {
			found = true
		}
	}
	if !found {
		t.Error("timer instruction missing from the character's context")
	}

	msgs := f.savedContext()
	if len(msgs) != 1 || msgs[0].Metadata.CharacterName != "Old Hermit" {
		t.Errorf("saved context = %+v, want only the hermit's reply", msgs)
	}
}

func TestTimerRound_NarratorTargeted(t *testing.T) {
	sess := session.New()
	sess.TimerRules = []rules.TimerRule{{
		ID:           "storm",
		DelaySeconds: 0,
		Instruction:  "A storm rolls in over the harbor.",
	}}
	f := newOrchFixture(t, sess, "Old Hermit")

	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 1 {
		t.Errorf("narrator inferences = %d, want 1", n)
	}
	if got := len(f.gateway.CallsFor("Old Hermit")); got != 0 {
		t.Errorf("characters must not act in a narrator timer round, hermit inferences = %d", got)
	}

	msgs := f.savedContext()
	if len(msgs) != 1 || msgs[0].Metadata.CharacterName != "" {
		t.Errorf("saved context = %+v, want only the narrator's post", msgs)
	}
}

func TestRound_NarratorStandsDownMidScene(t *testing.T) {
	sess := session.New()
	f := newOrchFixture(t, sess, "Old Hermit")

	f.orch.SubmitUserMessage("I enter.")
	f.waitSettled()
	f.orch.SubmitUserMessage("I wait.")
	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 1 {
		t.Errorf("narrator inferences = %d, want 1: with characters present it speaks once per scene", n)
	}

	// A new scene re-opens the Narrator's turn.
	f.sync(func() { sess.AdvanceScene() })
	f.orch.SubmitUserMessage("I look around the new place.")
	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 2 {
		t.Errorf("narrator inferences = %d, want 2 after a scene change", n)
	}
}

func TestRound_NarratorSpeaksEveryRoundWhenAlone(t *testing.T) {
	sess := session.New()
	f := newOrchFixture(t, sess)

	f.orch.SubmitUserMessage("Hello?")
	f.waitSettled()
	f.orch.SubmitUserMessage("Still there?")
	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 2 {
		t.Errorf("narrator inferences = %d, want 2 with no characters present", n)
	}
}

func TestRound_ForceNarratorFirstOverridesSceneCheck(t *testing.T) {
	sess := session.New()
	sess.ThoughtRules = []rules.Rule{{
		ID:         "always-narrate",
		Conditions: []rules.Condition{{Type: rules.ConditionAlways}},
		AppliesTo:  rules.AppliesToNarrator,
		Pairs: []rules.TagActionPair{{
			Tag:     "",
			Actions: []rules.Action{{Kind: rules.ActionForceNarrator, Order: rules.NarratorFirst}},
		}},
	}}
	f := newOrchFixture(t, sess, "Old Hermit")

	f.orch.SubmitUserMessage("I enter.")
	f.waitSettled()
	f.orch.SubmitUserMessage("I wait.")
	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 2 {
		t.Errorf("narrator inferences = %d, want 2: a forced first turn always speaks", n)
	}
}

func TestTimerRound_IgnoresPlayerSuppression(t *testing.T) {
	sess := session.New()
	sess.SuppressNarratorOnce = true
	sess.TimerRules = []rules.TimerRule{{
		ID:           "storm",
		DelaySeconds: 0,
		Instruction:  "A storm rolls in.",
	}}
	f := newOrchFixture(t, sess, "Old Hermit")

	f.waitSettled()

	if n := callsForModel(f.gateway, "narrator-model"); n != 1 {
		t.Errorf("narrator inferences = %d, want 1: timer rounds bypass the suppression flag", n)
	}

	var flag bool
	f.sync(func() { flag = sess.SuppressNarratorOnce })
	if !flag {
		t.Error("timer round consumed the player-round suppression flag")
	}
}

func TestRound_DuplicateReplyTriggersDedupeRetry(t *testing.T) {
	sess := session.New()
	f := newOrchFixture(t, sess)

	f.gateway.Queue("The rain falls.")
	f.orch.SubmitUserMessage("Look around.")
	f.waitSettled()

	// Second round repeats the narrator's reply verbatim, then offers a
	// fresh one for the single dedupe retry.
	f.gateway.Queue("The rain falls.").Queue("The rain keeps falling, harder now.")
	f.orch.SubmitUserMessage("Keep looking.")
	f.waitSettled()

	msgs := f.savedContext()
	if len(msgs) != 4 {
		t.Fatalf("context has %d messages, want 4", len(msgs))
	}
	if msgs[3].Content != "The rain keeps falling, harder now." {
		t.Errorf("duplicate reply survived: %q", msgs[3].Content)
	}

	var retried bool
	f.sync(func() { retried = !sess.CanDedupeRetry("narrator") })
	if !retried {
		t.Error("dedupe retry allowance was not consumed")
	}
}
