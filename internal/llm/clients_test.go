package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorytap/pkg/types"
)

func TestOpenAIClientCompleteUsesJSONMode(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "llama-test"})
	out, err := c.Complete(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "llama-test", got["model"])
	format, ok := got["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large-v3", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(header.Filename, ".webm"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"remember to buy milk"}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{
		APIKey:             "k",
		BaseURL:            srv.URL + "/v1",
		TranscriptionModel: GroqTranscriptionModel,
	})
	text, err := c.Transcribe(context.Background(), types.AudioArtifact{
		Data:        make([]byte, 1500),
		ContentType: "audio/webm",
	})
	require.NoError(t, err)
	assert.Equal(t, "remember to buy milk", text)
	assert.Equal(t, GroqTranscriptionModel, c.TranscriptionModel())
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	_, err := c.Complete(context.Background(), "x")
	assert.Error(t, err)
}

func TestOllamaClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"title":"t"}`, Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "qwen-test"})
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"t"}`, out)
	assert.Equal(t, "qwen-test", c.GetModel())
}

func TestOllamaClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAnthropicClientComplete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",`+
			`"content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],`+
			`"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "secret", Model: "claude-test", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	assert.Equal(t, "claude-test", got["model"])
	assert.EqualValues(t, 1024, got["max_tokens"])
	system, _ := got["system"].([]interface{})
	require.Len(t, system, 1)
	assert.Equal(t, jsonOnlySystem, system[0].(map[string]interface{})["text"])
	messages, _ := got["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]interface{})["role"])
}

func TestAnthropicClientErrorsAreNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "secret", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, 1, calls)
}

func TestFactories(t *testing.T) {
	gen, err := NewTextGenerator(ProviderConfig{Provider: ProviderGroq, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, GroqChatModel, gen.GetModel())

	gen, err = NewTextGenerator(ProviderConfig{Provider: ProviderOllama, Model: "m", RequestsPerSecond: 2})
	require.NoError(t, err)
	_, limited := gen.(*RateLimitedGenerator)
	assert.True(t, limited)
	assert.Equal(t, "m", gen.GetModel())

	tr, err := NewTranscriber(ProviderConfig{Provider: ProviderGroq, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, GroqTranscriptionModel, tr.TranscriptionModel())

	_, err = NewTranscriber(ProviderConfig{Provider: ProviderOllama})
	assert.Error(t, err)

	_, err = NewTextGenerator(ProviderConfig{Provider: "bard"})
	assert.Error(t, err)
}
