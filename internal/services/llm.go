package services

import (
	"context"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
)

// InferenceRequest is one unit of work for the gateway. It is created by
// the turn controllers, consumed exactly once, and discarded.
type InferenceRequest struct {
	CharacterID string // empty for the Narrator
	Context     []chat.Message
	Model       string
	MaxTokens   int
	Temperature float64
	Tag         string // rule-resolved text tag riding along, if any
}

// InferenceGateway is the async capability the orchestration core consumes.
// Implementations wrap the actual LLM backend; the core does not know
// transport details.
type InferenceGateway interface {
	// Infer produces the assistant text for a request.
	Infer(ctx context.Context, req InferenceRequest) (string, error)
}
