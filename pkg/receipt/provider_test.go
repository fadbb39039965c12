package receipt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/campuspay/pkg/config"
)

func TestNewProvider_SelectsProtocol(t *testing.T) {
	p, err := NewProvider(&config.ModelConfig{ModelName: "receipt", Model: "anthropic/claude-sonnet-4-5", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicProvider{}, p)

	p, err = NewProvider(&config.ModelConfig{ModelName: "receipt", Model: "gemini/gemini-2.0-flash", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	p, err = NewProvider(&config.ModelConfig{ModelName: "receipt", Model: "gpt-4o-mini", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = NewProvider(&config.ModelConfig{ModelName: "receipt", Model: "ollama/llava"})
	assert.ErrorContains(t, err, "api_base")

	p, err = NewProvider(&config.ModelConfig{ModelName: "receipt", Model: "ollama/llava", APIBase: "http://localhost:11434/v1"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)
}

func TestAnthropicProvider_Extract(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"amount\": 42}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, "claude-test", 512)
	answer, err := p.Extract(context.Background(), pngHeader, "image/png", Prompt)
	require.NoError(t, err)
	assert.Equal(t, `{"amount": 42}`, answer)

	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, 512, body["max_tokens"])
	messages := body["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	image := content[0].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "image/png", image["source"].(map[string]any)["media_type"])
}

func TestOpenAIProvider_Extract(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 0, "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"amount\": \"7.5\"}"}}]
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL+"/v1", "gpt-test", 256)
	answer, err := p.Extract(context.Background(), pngHeader, "image/png", Prompt)
	require.NoError(t, err)
	assert.Equal(t, `{"amount": "7.5"}`, answer)

	assert.Equal(t, "gpt-test", body["model"])
	messages := body["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.Contains(t, url, "data:image/png;base64,")
}
