package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/david/opportunity-monitor/internal/config"
)

var (
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrGroundingUnsupported is returned by backends without web search.
	ErrGroundingUnsupported = errors.New("search grounding not supported by this backend")
)

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	// JSON asks the backend for a JSON-only response.
	JSON bool
	// Grounded enables web search grounding; backends that cannot do it
	// return ErrGroundingUnsupported.
	Grounded bool
}

// Generator is an abstraction over LLM providers
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// NewGenerator picks the backend named in the settings.
func NewGenerator(ctx context.Context, llm config.LLMConfig, secrets *config.Secrets) (Generator, error) {
	switch llm.Provider {
	case "ollama":
		return NewOllamaClient(secrets.OllamaHost, secrets.OllamaModel), nil
	case "gemini", "":
		return NewGeminiClient(ctx, secrets.GeminiAPIKey, llm.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", llm.Provider)
	}
}
