package receipt

import (
	"context"
	"fmt"

	"github.com/campuspay/campuspay/pkg/config"
)

// Provider sends one image plus an instruction to a vision model and returns
// the model's raw text answer.
type Provider interface {
	Extract(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// Default API bases for OpenAI-compatible protocols
var openAICompatibleBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
}

const defaultMaxTokens = 1024

// NewProvider builds the provider selected by the model's protocol prefix
func NewProvider(mc *config.ModelConfig) (Provider, error) {
	protocol, modelID := mc.ParseProtocol()

	maxTokens := mc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	switch protocol {
	case "anthropic", "claude":
		return NewAnthropicProvider(mc.APIKey, mc.APIBase, modelID, maxTokens), nil
	default:
		apiBase := mc.APIBase
		if apiBase == "" {
			base, ok := openAICompatibleBases[protocol]
			if !ok {
				return nil, fmt.Errorf("protocol %q needs api_base", protocol)
			}
			apiBase = base
		}
		return NewOpenAIProvider(mc.APIKey, apiBase, modelID, maxTokens), nil
	}
}
