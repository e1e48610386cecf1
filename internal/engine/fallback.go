package engine

import (
	"context"
	"log/slog"
	"strings"
)

// refusalMarkers are prefixes that mark a response as refused. Checked
// case-insensitively against the trimmed response.
var refusalMarkers = []string{"i'm sorry", "i'm", "sorry", "ext"}

// FinalResult is the outcome of resolving a primary response through the
// fallback chain.
type FinalResult struct {
	Text       string
	OK         bool // false when the primary and every fallback failed
	Attempts   int  // fallback attempts consumed, 0..3
	DedupeUsed bool // the single dedupe retry fired during resolution
	Err        error
}

// FallbackChain retries a failed, empty, refused or duplicate response
// through up to three fixed backup models.
type FallbackChain struct {
	models [3]string
	log    *slog.Logger
}

func NewFallbackChain(models [3]string, log *slog.Logger) *FallbackChain {
	return &FallbackChain{models: models, log: log}
}

// ResolveOpts tunes one resolution.
type ResolveOpts struct {
	// PriorReplies are assistant contents already in context; a response
	// exactly equal to one of them is a duplicate. NPC path only.
	PriorReplies []string
	// AllowDedupe is true while the agent's once-per-session dedupe retry
	// is still unspent.
	AllowDedupe bool
	// AgentID is used for logging only.
	AgentID string
}

// Resolve applies the retry policy. retry is invoked synchronously for each
// fallback model in order; each retry result is itself subject to the
// refusal/empty check. The duplicate check fires at most once.
func (f *FallbackChain) Resolve(ctx context.Context, text string, err error, retry func(model string) (string, error), opts ResolveOpts) FinalResult {
	res := FinalResult{Text: text, Err: err}

	dedupeAvailable := opts.AllowDedupe
	needsRetry := func(t string, e error) bool {
		if e != nil || IsRefusalOrEmpty(t) {
			return true
		}
		if dedupeAvailable && isDuplicate(t, opts.PriorReplies) {
			dedupeAvailable = false
			res.DedupeUsed = true
			return true
		}
		return false
	}

	if !needsRetry(text, err) {
		res.OK = true
		return res
	}

	for _, model := range f.models {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		res.Attempts++
		f.log.Info("Retrying response through fallback model",
			"agent", opts.AgentID,
			"model", model,
			"attempt", res.Attempts)

		t, e := retry(model)
		if !needsRetry(t, e) {
			res.Text = t
			res.Err = nil
			res.OK = true
			return res
		}
		if e != nil {
			res.Err = e
		}
		res.Text = t
	}

	f.log.Warn("All fallback models exhausted",
		"agent", opts.AgentID,
		"attempts", res.Attempts,
		"error", res.Err)
	res.OK = false
	return res
}

// IsRefusalOrEmpty reports whether a response is blank or starts with a
// known refusal marker.
func IsRefusalOrEmpty(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return true
	}
	for _, marker := range refusalMarkers {
		if strings.HasPrefix(trimmed, marker) {
			return true
		}
	}
	return false
}

func isDuplicate(text string, prior []string) bool {
	for _, p := range prior {
		if text == p {
			return true
		}
	}
	return false
}
