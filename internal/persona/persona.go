package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona is one selectable chat model.
type Persona struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Provider     string   `yaml:"provider"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Color        string   `yaml:"color,omitempty"`
	Greeting     string   `yaml:"greeting"`

	// Model is the upstream model name used when a real provider backs the
	// persona. Empty means the provider default.
	Model string `yaml:"model,omitempty"`
}

// Catalog is an ordered persona list. The first entry is the default.
type Catalog struct {
	personas []Persona
}

func Builtin() *Catalog {
	return &Catalog{personas: []Persona{
		{
			ID:           "chatgpt",
			Name:         "ChatGPT",
			Provider:     "OpenAI",
			Description:  "Advanced language model optimized for dialogue from OpenAI.",
			Capabilities: []string{"Text generation", "Question answering", "Code assistance"},
			Color:        "#10A37F",
			Greeting:     "Hello! I'm ChatGPT, an AI assistant by OpenAI. How can I help you today?",
			Model:        "gpt-4o-mini",
		},
		{
			ID:           "claude",
			Name:         "Claude",
			Provider:     "Anthropic",
			Description:  "Helpful, harmless, and honest AI assistant by Anthropic.",
			Capabilities: []string{"Natural conversation", "Long context", "Clear reasoning"},
			Color:        "#8D5CD4",
			Greeting:     "Hi there! I'm Claude, an AI assistant by Anthropic. I'm designed to be helpful, harmless, and honest. What would you like to talk about?",
			Model:        "claude-sonnet-4-20250514",
		},
		{
			ID:           "deepseek",
			Name:         "DeepSeek",
			Provider:     "DeepSeek",
			Description:  "Advanced language model with deep understanding capabilities.",
			Capabilities: []string{"Text generation", "Advanced reasoning", "Code generation"},
			Color:        "#0066FF",
			Greeting:     "Greetings! I'm DeepSeek, an advanced AI designed for deep understanding. I can help with a wide range of tasks and discussions. What's on your mind?",
			Model:        "deepseek-chat",
		},
		{
			ID:           "mistral",
			Name:         "Mistral",
			Provider:     "Mistral AI",
			Description:  "Advanced multilingual language model with strong reasoning.",
			Capabilities: []string{"Multi-language support", "Reasoning", "Creative writing"},
			Color:        "#4E484F",
			Greeting:     "Bonjour! I'm Mistral, a multilingual AI assistant by Mistral AI. I'm here to help with your questions in multiple languages. How may I assist you?",
			Model:        "mistral-small-latest",
		},
	}}
}

type catalogFile struct {
	Personas []Persona `yaml:"personas"`
}

// Load returns the builtin catalog with entries from the YAML file at path
// merged in. Entries with a known id replace the builtin one; new ids are
// appended. An empty path returns the builtin catalog.
func Load(path string) (*Catalog, error) {
	c := Builtin()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}

	for _, p := range file.Personas {
		if err := p.validate(); err != nil {
			return nil, err
		}
		c.upsert(p)
	}

	return c, nil
}

func (p Persona) validate() error {
	if p.ID == "" {
		return fmt.Errorf("persona %q: id is required", p.Name)
	}
	if p.Name == "" {
		return fmt.Errorf("persona %s: name is required", p.ID)
	}
	if p.Greeting == "" {
		return fmt.Errorf("persona %s: greeting is required", p.ID)
	}
	return nil
}

func (c *Catalog) upsert(p Persona) {
	for i := range c.personas {
		if c.personas[i].ID == p.ID {
			c.personas[i] = p
			return
		}
	}
	c.personas = append(c.personas, p)
}

func (c *Catalog) All() []Persona {
	out := make([]Persona, len(c.personas))
	copy(out, c.personas)
	return out
}

func (c *Catalog) Default() Persona {
	return c.personas[0]
}

func (c *Catalog) Lookup(id string) (Persona, bool) {
	for _, p := range c.personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// Resolve is Lookup falling back to the default persona.
func (c *Catalog) Resolve(id string) Persona {
	if p, ok := c.Lookup(id); ok {
		return p
	}
	return c.Default()
}
