package engine

import (
	"log/slog"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/services"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/rules"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/session"
)

// NarratorTurnController runs the Narrator's side of a round: the
// suppression decision, prompt assembly with any injected system
// messages, and the post-processing of the finished reply.
type NarratorTurnController struct {
	log     *slog.Logger
	sess    *session.Session
	runner  *ChainRunner
	sysMods *session.SystemModBuffer

	basePrompt  string
	model       string
	maxTokens   int
	temperature float64
}

type NarratorConfig struct {
	BasePrompt  string
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewNarratorTurnController(sess *session.Session, runner *ChainRunner, sysMods *session.SystemModBuffer, cfg NarratorConfig, log *slog.Logger) *NarratorTurnController {
	return &NarratorTurnController{
		log:         log,
		sess:        sess,
		runner:      runner,
		sysMods:     sysMods,
		basePrompt:  cfg.BasePrompt,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// narratorRules filters the session's rule list down to one applicability
// and one phase of the round. Reply-scoped rules can only run after the
// model answers; everything else runs before dispatch.
func narratorRules(all []rules.Rule, post bool) []rules.Rule {
	out := make([]rules.Rule, 0, len(all))
	for _, r := range all {
		if r.AppliesTo != rules.AppliesToNarrator {
			continue
		}
		replyScoped := r.Scope == rules.ScopeLLMReply || r.Scope == rules.ScopeConvoLLMReply
		if replyScoped == post {
			out = append(out, r)
		}
	}
	return out
}

// Decide runs the pre-dispatch rule pass and resolves whether the
// Narrator speaks this round. A one-shot suppression flag set by an
// earlier round wins over everything; with characters present, the
// Narrator also stands down once it has already posted this scene. Both
// checks are player-round semantics: a timer-triggered round neither
// consumes nor honors them. A Force Narrator with order first is consumed
// here and always speaks. Returns the request to dispatch, or ok=false
// when the Narrator stays silent.
func (c *NarratorTurnController) Decide(env *passEnv, timerInstruction string, timerRound, npcsPresent bool) (services.InferenceRequest, bool) {
	if !timerRound && c.sess.ConsumeSuppression() {
		c.log.Debug("Narrator suppressed this round")
		return services.InferenceRequest{}, false
	}

	env.pass = PassPre
	env.reply = nil
	env.ec.Character = ""
	c.runner.RunSequential(narratorRules(c.sess.ThoughtRules, false), env)

	if env.skipPost {
		env.skipPost = false
		return services.InferenceRequest{}, false
	}

	forced := c.sess.ForceNarrator.Active && !c.sess.ForceNarrator.DeferToEnd
	if forced && c.sess.ForceNarrator.SystemMessage != "" {
		c.sysMods.Add(session.SystemMod{
			Text:   c.sess.ForceNarrator.SystemMessage,
			Mode:   rules.ModeAppend,
			Anchor: rules.AnchorLast,
		})
	}
	if forced {
		c.sess.ForceNarrator.Clear()
	}

	if !forced && !timerRound && npcsPresent && c.sess.NarratorPostedThisScene {
		c.log.Debug("Narrator already posted this scene, characters carry it")
		return services.InferenceRequest{}, false
	}

	model := c.model
	if env.modelOverride != "" {
		model = env.modelOverride
	}

	req := services.InferenceRequest{
		Context:     c.BuildContext(env.messages, timerInstruction),
		Model:       model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Tag:         env.textTag,
	}
	return req, true
}

// BuildContext assembles the Narrator's prompt stack: the base system
// prompt with first-anchored injections folded in, the same-scene
// conversation, then any last-anchored injections as a trailing system
// message. The timer instruction, when present, rides in that trailing
// slot so it applies to exactly this dispatch.
func (c *NarratorTurnController) BuildContext(messages []chat.Message, timerInstruction string) []chat.Message {
	ctx := make([]chat.Message, 0, len(messages)+2)
	ctx = append(ctx, chat.Message{
		Role:    chat.RoleSystem,
		Content: c.sysMods.ApplyFirst(c.basePrompt),
		Scene:   c.sess.SceneNumber,
	})
	ctx = append(ctx, chat.SameScene(messages, c.sess.SceneNumber)...)

	trailing := c.sysMods.ApplyLast("")
	if timerInstruction != "" {
		if trailing != "" {
			trailing += "\n\n"
		}
		trailing += timerInstruction
	}
	if trailing != "" {
		ctx = append(ctx, chat.Message{
			Role:    chat.RoleSystem,
			Content: trailing,
			Scene:   c.sess.SceneNumber,
		})
	}
	return ctx
}

// FinishReply runs the post-pass over the settled reply and packages the
// Narrator's message. ok=false means a Skip Post action discarded it.
func (c *NarratorTurnController) FinishReply(env *passEnv, reply string) (chat.Message, bool) {
	env.pass = PassPost
	env.reply = &reply
	env.ec.Character = ""
	env.ec.CurrentPost = reply
	env.exitAll = false
	c.runner.RunSequential(narratorRules(c.sess.ThoughtRules, true), env)
	env.reply = nil

	if env.skipPost {
		env.skipPost = false
		c.log.Info("Narrator reply discarded by rule")
		return chat.Message{}, false
	}

	msg := chat.Message{
		Role:    chat.RoleAssistant,
		Content: reply,
		Scene:   c.sess.SceneNumber,
		Metadata: chat.Metadata{
			Turn:         c.sess.TurnCount,
			TextTag:      env.textTag,
			GameDatetime: c.sess.GameDatetime,
		},
	}
	c.sess.MarkNarratorPosted()
	return msg, true
}
