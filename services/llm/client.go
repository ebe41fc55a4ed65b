package llm

import (
	"context"

	"github.com/fincove/maya/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate completes a single prompt. Used by the classifiers, which
	// need one deterministic short answer.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat completes a role-tagged conversation. Used by the answer engine,
	// which conditions on system prompt and memory.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}
