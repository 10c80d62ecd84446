package llm

import (
	"fmt"
	"time"
)

// Provider names accepted by the factories.
const (
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// ProviderConfig selects and configures a model provider.
type ProviderConfig struct {
	Provider           string
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
	Timeout            time.Duration

	// RequestsPerSecond and Burst rate limit outgoing calls. Zero disables
	// limiting.
	RequestsPerSecond float64
	Burst             int
}

// NewTextGenerator creates the appropriate TextGenerator based on the provider config.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	var gen TextGenerator
	switch cfg.Provider {
	case ProviderGroq, "":
		gen = newOpenAICompatible(cfg)
	case ProviderOpenAI:
		gen = newOpenAICompatible(cfg)
	case ProviderAnthropic:
		gen = NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case ProviderOllama:
		gen = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
	return NewRateLimitedGenerator(gen, cfg.RequestsPerSecond, cfg.Burst), nil
}

// NewTranscriber creates the speech-to-text client. Only OpenAI-compatible
// providers offer transcription.
func NewTranscriber(cfg ProviderConfig) (Transcriber, error) {
	switch cfg.Provider {
	case ProviderGroq, "", ProviderOpenAI:
		return NewRateLimitedTranscriber(newOpenAICompatible(cfg), cfg.RequestsPerSecond, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("provider %q does not support transcription", cfg.Provider)
	}
}

func newOpenAICompatible(cfg ProviderConfig) *OpenAIClient {
	oc := OpenAIConfig{
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		Model:              cfg.Model,
		TranscriptionModel: cfg.TranscriptionModel,
		Timeout:            cfg.Timeout,
	}
	if cfg.Provider == ProviderGroq || cfg.Provider == "" {
		if oc.BaseURL == "" {
			oc.BaseURL = GroqBaseURL
		}
		if oc.Model == "" {
			oc.Model = GroqChatModel
		}
		if oc.TranscriptionModel == "" {
			oc.TranscriptionModel = GroqTranscriptionModel
		}
	}
	return NewOpenAIClient(oc)
}
