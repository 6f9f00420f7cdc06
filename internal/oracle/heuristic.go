package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// DefaultDelay is the simulated think time of the mock oracle.
const DefaultDelay = time.Second

var (
	greetingWords = []string{"hello", "hi", "hey", "greetings"}
	questionWords = []string{"how", "what", "why", "when", "where", "who"}
)

// Heuristic is the mock oracle: canned replies picked by keyword.
type Heuristic struct {
	delay time.Duration
}

// NewHeuristic returns a mock oracle that waits between delay and 2*delay
// before answering. Zero answers immediately.
func NewHeuristic(delay time.Duration) *Heuristic {
	return &Heuristic{delay: delay}
}

func (h *Heuristic) Generate(ctx context.Context, req Request) (string, error) {
	if h.delay > 0 {
		wait := h.delay + time.Duration(rand.Int63n(int64(h.delay)))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return reply(req), nil
}

func reply(req Request) string {
	p := req.Persona
	lower := strings.ToLower(req.Text)

	if n := len(req.Media); n > 0 {
		kinds := make([]string, n)
		for i, m := range req.Media {
			kinds[i], _, _ = strings.Cut(m.MimeType, "/")
		}
		noun := "files"
		if n == 1 {
			noun = "file"
		}
		return fmt.Sprintf("I've received your message along with %d %s (%s). As %s, I'll analyze both your text and the uploaded content. What would you like me to help you with regarding these files?",
			n, noun, strings.Join(kinds, ", "), p.Name)
	}

	switch {
	case containsAny(lower, greetingWords):
		return fmt.Sprintf("Hello! How can I assist you today as %s?", p.Name)
	case strings.Contains(lower, "name"):
		return fmt.Sprintf("I'm %s, an AI assistant by %s.", p.Name, p.Provider)
	case strings.Contains(lower, "help"):
		return fmt.Sprintf("I'd be happy to help! As %s, I can %s. Just let me know what you need assistance with.",
			p.Name, strings.Join(p.Capabilities, ", "))
	case hasAnyPrefix(lower, questionWords):
		return fmt.Sprintf("That's an interesting question. As %s, I'd say it depends on multiple factors. Can you provide more context so I can give you a more accurate answer?", p.Name)
	default:
		return fmt.Sprintf("Thanks for your message! As %s from %s, I've processed your input: %q. Is there anything specific you'd like to know more about?",
			p.Name, p.Provider, req.Text)
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, words []string) bool {
	for _, w := range words {
		if strings.HasPrefix(s, w) {
			return true
		}
	}
	return false
}
