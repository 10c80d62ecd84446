package llm

import (
	"bytes"
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/scrypster/memorytap/internal/audio"
	"github.com/scrypster/memorytap/pkg/types"
)

// Groq serves an OpenAI-compatible API; these are the defaults used when the
// provider is "groq".
const (
	GroqBaseURL            = "https://api.groq.com/openai/v1"
	GroqTranscriptionModel = "whisper-large-v3"
	GroqChatModel          = "llama-3.3-70b-versatile"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey             string
	Model              string        // chat model, default: gpt-4o-mini
	TranscriptionModel string        // default: whisper-1
	BaseURL            string        // default: https://api.openai.com/v1
	Language           string        // transcription language hint, default: en
	Temperature        float32       // default: 0.3
	MaxTokens          int           // 0 leaves the provider default
	Timeout            time.Duration // default: 60s
}

// OpenAIClient implements TextGenerator and Transcriber against any
// OpenAI-compatible endpoint (OpenAI itself or Groq).
type OpenAIClient struct {
	cfg     OpenAIConfig
	client  *openai.Client
	breaker *Breaker
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(clientConfig),
		breaker: NewBreaker("openai"),
	}
}

// NewGroqClient returns an OpenAIClient pointed at Groq with its default models.
func NewGroqClient(apiKey string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:             apiKey,
		BaseURL:            GroqBaseURL,
		Model:              GroqChatModel,
		TranscriptionModel: GroqTranscriptionModel,
	})
}

// Complete sends a single-turn completion in JSON mode and returns the
// response text.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.breaker.Call(ctx, func(ctx context.Context) (string, error) {
		return c.complete(ctx, prompt)
	})
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe uploads the recording to the transcription endpoint.
func (c *OpenAIClient) Transcribe(ctx context.Context, artifact types.AudioArtifact) (string, error) {
	return c.breaker.Call(ctx, func(ctx context.Context) (string, error) {
		return c.transcribe(ctx, artifact)
	})
}

func (c *OpenAIClient) transcribe(ctx context.Context, artifact types.AudioArtifact) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	name := artifact.Filename
	if name == "" {
		name = "recording" + audio.ExtensionFor(artifact.ContentType)
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: name,
		Reader:   bytes.NewReader(artifact.Data),
		Language: c.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

// GetModel returns the configured chat model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// TranscriptionModel returns the configured speech-to-text model name.
func (c *OpenAIClient) TranscriptionModel() string {
	return c.cfg.TranscriptionModel
}

// Compile-time assertions.
var (
	_ TextGenerator = (*OpenAIClient)(nil)
	_ Transcriber   = (*OpenAIClient)(nil)
)
