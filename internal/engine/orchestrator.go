package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/storage"
	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/timer"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/world"
)

// narratorAgentKey identifies the Narrator in per-agent bookkeeping.
const narratorAgentKey = "narrator"

// CharacterProfile is the static definition of one NPC agent.
type CharacterProfile struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// Config carries everything the orchestrator needs beyond its runtime
// dependencies.
type Config struct {
	Narrator   NarratorConfig
	Characters map[string]CharacterProfile // keyed by canonical name

	JudgeModel   string
	UtilityModel string

	// FallbackModels are tried in order when a response fails, is empty,
	// refused or duplicated.
	FallbackModels [3]string

	NPCMaxTokens   int
	NPCTemperature float64
}

// Orchestrator drives rounds for one session. It is a single-goroutine
// actor: all state mutation happens on the goroutine running Run, fed by
// closures posted to the calls channel. Inference dispatch is the only
// work done off that goroutine.
type Orchestrator struct {
	log *slog.Logger
	cfg Config

	sess      *session.Session
	varsStore *vars.Store
	geo       world.Lookup
	state     *OrchestratorState
	sysMods   *session.SystemModBuffer

	gateway  services.InferenceGateway
	fallback *FallbackChain
	runner   *ChainRunner
	narrator *NarratorTurnController
	npcs     *NpcTurnScheduler
	displayQ *MessageDisplayQueue
	store    storage.Store
	timers   *timer.Manager

	// msgs is the conversation context, append-only within a round.
	msgs []chat.Message

	calls chan func()

	ctx context.Context

	// Round-scoped state, reset in beginRound.
	env              *passEnv
	timerInstruction string

	pendingTimers []rules.TimerRule

	onSettled func()
}

func NewOrchestrator(ctx context.Context, cfg Config, sess *session.Session, geo world.Lookup, gateway services.InferenceGateway, store storage.Store, sink DisplaySink, log *slog.Logger) *Orchestrator {
	if ctx == nil {
		ctx = context.Background()
	}
	o := &Orchestrator{
		log:       log,
		cfg:       cfg,
		sess:      sess,
		varsStore: vars.FromSnapshot(sess.Variables),
		geo:       geo,
		state:     NewOrchestratorState(),
		sysMods:   &session.SystemModBuffer{},
		gateway:   gateway,
		store:     store,
		calls:     make(chan func(), 64),
		ctx:       ctx,
	}

	o.fallback = NewFallbackChain(cfg.FallbackModels, log)
	o.displayQ = NewMessageDisplayQueue(sink, log)

	mover, _ := geo.(CharacterMover)
	exec := NewActionExecutor(sess, o.sysMods, mover, o.rewritePost, log)
	o.runner = NewChainRunner(o.judge, exec, cfg.JudgeModel, log)
	o.narrator = NewNarratorTurnController(sess, o.runner, o.sysMods, cfg.Narrator, log)
	o.npcs = NewNpcTurnScheduler(geo, log)
	o.timers = timer.NewManager(o.timerFired, log)

	return o
}

// Timers exposes the timer manager so callers can arm the session's timer
// rules before or during a run.
func (o *Orchestrator) Timers() *timer.Manager { return o.timers }

// Session returns the session this orchestrator drives. Read it only from
// posted closures once Run has started.
func (o *Orchestrator) Session() *session.Session { return o.sess }

// OnSettled registers a callback invoked on the orchestrator goroutine
// after each round fully settles. Call before Run.
func (o *Orchestrator) OnSettled(fn func()) { o.onSettled = fn }

// SetContext replaces the conversation context, used when resuming a
// persisted session. Call before Run.
func (o *Orchestrator) SetContext(msgs []chat.Message) { o.msgs = msgs }

// Run executes the actor loop until the construction context is
// cancelled. Scheduled timers are armed for the duration of the run.
// Register OnSettled and any display sink before starting this goroutine.
func (o *Orchestrator) Run() {
	for _, tr := range o.sess.TimerRules {
		o.timers.Schedule(tr)
	}
	defer o.timers.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case f := <-o.calls:
			f()
		}
	}
}

// Call posts a closure to the orchestrator goroutine.
func (o *Orchestrator) Call(f func()) {
	select {
	case o.calls <- f:
	case <-o.ctx.Done():
	}
}

// SubmitUserMessage feeds a player post into the round pipeline. Posts
// arriving while a round is active are dropped; the client disables input
// for the same window.
func (o *Orchestrator) SubmitUserMessage(post string) {
	o.Call(func() { o.beginRound(post, nil) })
}

// NotifyStreamIdle tells the orchestrator the display sink finished a
// reveal, unblocking queued messages and possibly the round settle.
func (o *Orchestrator) NotifyStreamIdle() {
	o.Call(func() {
		o.displayQ.Drain()
		o.advance()
	})
}

// timerFired runs on the timer goroutine; it hands the rule to the actor.
// A rule firing mid-round is deferred to the settle.
func (o *Orchestrator) timerFired(rule rules.TimerRule) {
	o.Call(func() {
		if o.state.RoundActive() {
			o.pendingTimers = append(o.pendingTimers, rule)
			return
		}
		o.startTimerRound(rule)
	})
}

func (o *Orchestrator) startTimerRound(rule rules.TimerRule) {
	o.timerInstruction = rule.Instruction
	o.beginRound(timer.MarkerFor(rule.Agent), &rule)
}

// beginRound opens a round for a player post or a fired timer and runs it
// to the first asynchronous boundary.
func (o *Orchestrator) beginRound(post string, timerRule *rules.TimerRule) {
	if err := o.state.BeginRound(timerRule != nil); err != nil {
		o.log.Warn("Dropping input, round already active", "post_length", len(post))
		return
	}
	o.timers.Pause()
	o.sysMods.Clear()
	if timerRule == nil {
		o.timerInstruction = ""
	}

	o.env = &passEnv{
		ctx: o.ctx,
		ec: &rules.EvalContext{
			SessionID:  o.sess.ID.String(),
			Session:    o.sess,
			Vars:       o.varsStore,
			Geo:        o.geo,
			Turn:       o.sess.TurnCount,
			PlayerPost: post,
		},
	}

	targetAgent := ""
	if timerRule != nil {
		targetAgent, _ = timer.ParseMarker(post)
	} else {
		o.msgs = append(o.msgs, chat.Message{
			Role:    chat.RoleUser,
			Content: post,
			Scene:   o.sess.SceneNumber,
			Metadata: chat.Metadata{
				Turn:         o.sess.TurnCount,
				Location:     o.currentLocation(),
				GameDatetime: o.sess.GameDatetime,
			},
		})
	}
	o.env.messages = o.msgs

	if targetAgent != "" {
		// Character-targeted timer: the Narrator sits this round out and
		// only the named character acts.
		o.state.SetNarratorPhase(NarratorDone)
		o.npcs.SetWorklist([]string{targetAgent})
		o.advance()
		return
	}

	o.narratorTurn()
}

func (o *Orchestrator) narratorTurn() {
	o.state.SetNarratorPhase(NarratorDeciding)

	req, ok := o.narrator.Decide(o.env, o.timerInstruction, o.state.TimerRound(), o.npcsPresentInScene())
	if o.env.exitAll {
		o.env.exitAll = false
	}
	if !ok {
		o.state.SetNarratorPhase(NarratorSuppressed)
		o.finishNarratorPhase()
		return
	}

	o.state.SetNarratorPhase(NarratorSpeaking)
	if err := o.state.BeginNarratorInference(); err != nil {
		o.log.Error("Narrator dispatch refused", "error", err)
		o.finishNarratorPhase()
		return
	}
	o.dispatch(req, narratorAgentKey, o.onNarratorResult)
}

// finishNarratorPhase builds the NPC worklist and moves the round along.
func (o *Orchestrator) finishNarratorPhase() {
	o.state.SetNarratorPhase(NarratorDone)
	if !o.state.TimerRound() {
		if err := o.npcs.BuildWorklist(o.sess.ID.String()); err != nil {
			o.log.Warn("Failed to build character worklist", "error", err)
		}
	}
	o.advance()
}

func (o *Orchestrator) onNarratorResult(res FinalResult) {
	o.state.EndNarratorInference()
	if res.DedupeUsed {
		o.sess.MarkDedupeRetried(narratorAgentKey)
	}
	if !res.OK {
		o.log.Warn("Narrator turn failed", "error", res.Err, "attempts", res.Attempts)
		o.enqueueInferenceError("")
		o.finishNarratorPhase()
		return
	}

	msg, ok := o.narrator.FinishReply(o.env, res.Text)
	if ok {
		o.displayQ.Enqueue(msg, o.appendShown)
		o.displayQ.Drain()
	}
	o.finishNarratorPhase()
}

// advance runs the round forward from wherever it stands. Safe to call
// after every completion event; it does nothing when an async step is
// still outstanding.
func (o *Orchestrator) advance() {
	if !o.state.RoundActive() {
		return
	}
	if o.state.NarratorPhase() != NarratorDone {
		return
	}

	if name, ok := o.npcs.Next(); ok {
		o.npcTurn(name)
		return
	}
	if o.npcs.InFlight() != "" {
		return
	}

	o.displayQ.Drain()
	if !o.displayQ.Empty() {
		return
	}

	if o.sess.ForceNarrator.Active && o.sess.ForceNarrator.DeferToEnd {
		if o.state.ConsumeForceLast() {
			o.forcedNarratorTurn()
			return
		}
	}

	o.settleRound()
}

// npcTurn runs one character's pre-pass and dispatches its inference.
// When the character is skipped the round advances immediately.
func (o *Orchestrator) npcTurn(name string) {
	profile, ok := o.cfg.Characters[name]
	if !ok {
		o.log.Debug("No profile for character, skipping", "character", name)
		o.advance()
		return
	}

	env := o.env
	env.pass = PassPre
	env.reply = nil
	env.ec.Character = name
	env.textTag = ""
	env.modelOverride = ""
	env.skipPost = false
	env.exitAll = false
	o.runner.RunSequential(characterRules(o.sess.ThoughtRules, name, false), env)

	if env.skipPost {
		env.skipPost = false
		o.log.Debug("Character stays silent this round", "character", name)
		o.advance()
		return
	}

	model := profile.Model
	if env.modelOverride != "" {
		model = env.modelOverride
	}
	instruction := ""
	if o.state.TimerRound() {
		instruction = o.timerInstruction
	}

	req := services.InferenceRequest{
		CharacterID: name,
		Context:     o.buildCharacterContext(profile, instruction),
		Model:       model,
		MaxTokens:   o.cfg.NPCMaxTokens,
		Temperature: o.cfg.NPCTemperature,
		Tag:         env.textTag,
	}

	if err := o.npcs.Begin(name); err != nil {
		o.log.Error("Character dispatch refused", "character", name, "error", err)
		o.advance()
		return
	}
	if err := o.state.BeginNPCInference(); err != nil {
		o.log.Error("Character dispatch refused", "character", name, "error", err)
		o.npcs.Finish(name)
		o.advance()
		return
	}
	o.dispatch(req, name, func(res FinalResult) { o.onNPCResult(name, res) })
}

func (o *Orchestrator) onNPCResult(name string, res FinalResult) {
	o.state.EndNPCInference()
	o.npcs.Finish(name)
	if res.DedupeUsed {
		o.sess.MarkDedupeRetried(name)
	}
	if !res.OK {
		o.log.Warn("Character turn failed",
			"character", name,
			"error", res.Err,
			"attempts", res.Attempts)
		o.enqueueInferenceError(name)
		o.advance()
		return
	}

	env := o.env
	env.pass = PassPost
	reply := res.Text
	env.reply = &reply
	env.ec.Character = name
	env.ec.CurrentPost = reply
	env.exitAll = false
	o.runner.RunSequential(characterRules(o.sess.ThoughtRules, name, true), env)
	env.reply = nil

	if env.skipPost {
		env.skipPost = false
		o.log.Info("Character reply discarded by rule", "character", name)
		o.advance()
		return
	}

	o.displayQ.Enqueue(chat.Message{
		Role:    chat.RoleAssistant,
		Content: reply,
		Scene:   o.sess.SceneNumber,
		Metadata: chat.Metadata{
			Turn:          o.sess.TurnCount,
			CharacterName: name,
			TextTag:       env.textTag,
			GameDatetime:  o.sess.GameDatetime,
		},
	}, o.appendShown)
	o.state.MarkNPCTurnTaken()
	o.displayQ.Drain()
	o.advance()
}

// forcedNarratorTurn is the deferred Force Narrator (order last) turn,
// entered only after all characters finished and the display drained.
func (o *Orchestrator) forcedNarratorTurn() {
	if o.sess.ForceNarrator.SystemMessage != "" {
		o.sysMods.Add(session.SystemMod{
			Text:   o.sess.ForceNarrator.SystemMessage,
			Mode:   rules.ModeAppend,
			Anchor: rules.AnchorLast,
		})
	}
	o.sess.ForceNarrator.Clear()

	o.state.SetNarratorPhase(NarratorSpeaking)
	if err := o.state.BeginNarratorInference(); err != nil {
		o.log.Error("Forced narrator dispatch refused", "error", err)
		o.state.SetNarratorPhase(NarratorDone)
		o.advance()
		return
	}

	req := services.InferenceRequest{
		Context:     o.narrator.BuildContext(o.msgs, ""),
		Model:       o.cfg.Narrator.Model,
		MaxTokens:   o.cfg.Narrator.MaxTokens,
		Temperature: o.cfg.Narrator.Temperature,
	}
	o.dispatch(req, narratorAgentKey, func(res FinalResult) {
		o.state.EndNarratorInference()
		if res.DedupeUsed {
			o.sess.MarkDedupeRetried(narratorAgentKey)
		}
		if res.OK {
			if msg, ok := o.narrator.FinishReply(o.env, res.Text); ok {
				o.displayQ.Enqueue(msg, o.appendShown)
				o.displayQ.Drain()
			}
		} else {
			o.log.Warn("Forced narrator turn failed", "error", res.Err)
			o.enqueueInferenceError("")
		}
		o.state.SetNarratorPhase(NarratorDone)
		o.advance()
	})
}

// settleRound runs the end-of-round pass, persists everything and
// re-opens input.
func (o *Orchestrator) settleRound() {
	if o.sess.MarkEndOfRoundDone(o.sess.TurnCount) {
		env := o.env
		env.pass = PassEndOfRound
		env.reply = nil
		env.ec.Character = ""
		env.exitAll = false
		o.runner.RunSequential(endOfRoundRules(o.sess.ThoughtRules), env)
	}

	o.sess.PendingSceneClear = false
	o.sess.IncrementTurn()
	o.sess.Variables = o.varsStore.Snapshot()
	o.persist()

	o.state.EndRound()
	o.timers.Resume()
	o.log.Debug("Round settled", "turn", o.sess.TurnCount, "scene", o.sess.SceneNumber)

	if o.onSettled != nil {
		o.onSettled()
	}

	if len(o.pendingTimers) > 0 {
		next := o.pendingTimers[0]
		o.pendingTimers = o.pendingTimers[1:]
		o.startTimerRound(next)
	}
}

func (o *Orchestrator) persist() {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, 10*time.Second)
	defer cancel()
	if err := o.store.SaveSession(ctx, o.sess); err != nil {
		o.log.Error("Failed to persist session", "error", err)
	}
	if err := o.store.SaveContext(ctx, o.sess.ID, o.msgs); err != nil {
		o.log.Error("Failed to persist context", "error", err)
	}
}

// dispatch hands an inference to a worker goroutine and routes the
// resolved result back onto the actor. Fallback retries run inside the
// worker; the dedupe allowance is decided here, on the actor, before
// dispatch.
func (o *Orchestrator) dispatch(req services.InferenceRequest, agentKey string, done func(FinalResult)) {
	prior := o.priorReplies(agentKey)
	opts := ResolveOpts{
		PriorReplies: prior,
		AllowDedupe:  o.sess.CanDedupeRetry(agentKey),
		AgentID:      agentKey,
	}
	ctx := o.ctx

	go func() {
		text, err := o.gateway.Infer(ctx, req)
		res := o.fallback.Resolve(ctx, text, err, func(model string) (string, error) {
			retryReq := req
			retryReq.Model = model
			return o.gateway.Infer(ctx, retryReq)
		}, opts)
		o.Call(func() { done(res) })
	}()
}

// priorReplies collects the agent's previous assistant contents for the
// duplicate check. The Narrator's messages carry no character name.
func (o *Orchestrator) priorReplies(agentKey string) []string {
	want := agentKey
	if agentKey == narratorAgentKey {
		want = ""
	}
	var out []string
	for _, m := range o.msgs {
		if m.Role == chat.RoleAssistant && m.Metadata.CharacterName == want {
			out = append(out, m.Content)
		}
	}
	return out
}

// inferenceErrorText is what the player sees when the primary model and
// every fallback failed to produce a usable reply.
const inferenceErrorText = "An error occurred while generating a response. Please try again."

// enqueueInferenceError surfaces an exhausted fallback chain to the
// player. The Narrator gets a plain error line; a character gets a canned
// message attributed to them so the turn order stays legible.
func (o *Orchestrator) enqueueInferenceError(characterName string) {
	content := inferenceErrorText
	if characterName != "" {
		content = characterName + " is having trouble responding right now."
	}
	o.displayQ.Enqueue(chat.Message{
		Role:    chat.RoleAssistant,
		Content: content,
		Scene:   o.sess.SceneNumber,
		Metadata: chat.Metadata{
			Turn:          o.sess.TurnCount,
			CharacterName: characterName,
			GameDatetime:  o.sess.GameDatetime,
		},
	}, o.appendShown)
	o.displayQ.Drain()
}

// npcsPresentInScene reports whether any characters share the player's
// current setting.
func (o *Orchestrator) npcsPresentInScene() bool {
	if o.geo == nil {
		return false
	}
	pos, err := o.geo.CurrentPosition(o.sess.ID.String())
	if err != nil {
		return false
	}
	names, err := o.geo.CharactersPresent(pos.SettingID)
	if err != nil {
		return false
	}
	return len(names) > 0
}

// currentLocation resolves the player's location for message metadata.
func (o *Orchestrator) currentLocation() string {
	if o.geo == nil {
		return ""
	}
	pos, err := o.geo.CurrentPosition(o.sess.ID.String())
	if err != nil {
		return ""
	}
	return pos.LocationID
}

// appendShown adds a displayed message to the conversation context. Display
// time, not completion time, is when a message becomes part of history and
// when its location is resolved.
func (o *Orchestrator) appendShown(msg chat.Message) {
	msg.Metadata.Location = o.currentLocation()
	o.msgs = append(o.msgs, msg)
	o.env.messages = o.msgs
}

func (o *Orchestrator) buildCharacterContext(profile CharacterProfile, instruction string) []chat.Message {
	ctx := make([]chat.Message, 0, len(o.msgs)+2)
	ctx = append(ctx, chat.Message{
		Role:    chat.RoleSystem,
		Content: profile.Prompt,
		Scene:   o.sess.SceneNumber,
	})
	ctx = append(ctx, chat.SameScene(o.msgs, o.sess.SceneNumber)...)
	if instruction != "" {
		ctx = append(ctx, chat.Message{
			Role:    chat.RoleSystem,
			Content: instruction,
			Scene:   o.sess.SceneNumber,
		})
	}
	return ctx
}

// judge issues the synchronous tag-resolution call used by the rule
// runner. It blocks the actor on purpose: the tag decides what happens
// next in the same pass.
func (o *Orchestrator) judge(ctx context.Context, model, prompt string) (string, error) {
	req := services.InferenceRequest{
		Context: []chat.Message{
			{Role: chat.RoleSystem, Content: prompt},
		},
		Model:       model,
		MaxTokens:   32,
		Temperature: 0,
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return o.gateway.Infer(callCtx, req)
}

// rewritePost is the utility inference behind the Rewrite Post action.
func (o *Orchestrator) rewritePost(ctx context.Context, instruction, original string) (string, error) {
	req := services.InferenceRequest{
		Context: []chat.Message{
			{Role: chat.RoleSystem, Content: "Rewrite the following text per the instruction. Reply with the rewritten text only.\n\nInstruction: " + instruction},
			{Role: chat.RoleUser, Content: original},
		},
		Model:       o.cfg.UtilityModel,
		MaxTokens:   o.cfg.NPCMaxTokens,
		Temperature: 0.3,
	}
	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return o.gateway.Infer(callCtx, req)
}

// characterRules filters the rule list to one character and one phase.
// A character rule with no name applies to every character.
func characterRules(all []rules.Rule, name string, post bool) []rules.Rule {
	out := make([]rules.Rule, 0, len(all))
	for _, r := range all {
		if r.AppliesTo != rules.AppliesToCharacter {
			continue
		}
		if r.CharacterName != "" && CanonicalName(r.CharacterName) != name {
			continue
		}
		replyScoped := r.Scope == rules.ScopeLLMReply || r.Scope == rules.ScopeConvoLLMReply
		if replyScoped == post {
			out = append(out, r)
		}
	}
	return out
}

func endOfRoundRules(all []rules.Rule) []rules.Rule {
	out := make([]rules.Rule, 0, len(all))
	for _, r := range all {
		if r.AppliesTo == rules.AppliesToEndOfRound {
			out = append(out, r)
		}
	}
	return out
}
