package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/bowerhall/multiai/internal/persona"
)

var ErrEmptyResponse = errors.New("empty response")

// MediaMeta describes an attachment without its payload.
type MediaMeta struct {
	Name     string
	MimeType string
}

type Request struct {
	Persona persona.Persona
	Text    string
	Media   []MediaMeta
}

// Oracle produces the assistant reply for one user turn.
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// OpenAI-compatible providers and their base URLs
var openAICompatibleProviders = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"together": "https://api.together.xyz/v1",
}

func New(cfg Config) (Oracle, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewHeuristic(DefaultDelay), nil
	case "claude":
		return newClaude(cfg.APIKey, cfg.Model), nil
	default:
		baseURL, ok := openAICompatibleProviders[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
		}
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		return newOpenAICompatible(cfg.APIKey, baseURL, cfg.Model), nil
	}
}

// IsKnownProvider checks if a provider is recognized
func IsKnownProvider(provider string) bool {
	switch provider {
	case "", "mock", "claude":
		return true
	default:
		_, ok := openAICompatibleProviders[provider]
		return ok
	}
}

func systemPrompt(p persona.Persona) string {
	return fmt.Sprintf("You are %s, an AI assistant by %s. %s Keep answers concise.", p.Name, p.Provider, p.Description)
}

func userText(req Request) string {
	text := req.Text
	for _, m := range req.Media {
		text += fmt.Sprintf("\n[Attached: %s (%s)]", m.Name, m.MimeType)
	}
	return text
}
