package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bowerhall/multiai/internal/persona"
)

func claudePersona() persona.Persona {
	p, _ := persona.Builtin().Lookup("claude")
	return p
}

func TestHeuristicReplies(t *testing.T) {
	h := NewHeuristic(0)
	p := claudePersona()

	tests := []struct {
		name  string
		req   Request
		wants string
	}{
		{"greeting", Request{Persona: p, Text: "Hello there"}, "Hello! How can I assist you today as Claude?"},
		{"name", Request{Persona: p, Text: "Your name?"}, "I'm Claude, an AI assistant by Anthropic."},
		{"help", Request{Persona: p, Text: "can you help"}, "I can Natural conversation, Long context, Clear reasoning."},
		{"question", Request{Persona: p, Text: "Why is the sky blue"}, "That's an interesting question."},
		{"fallback", Request{Persona: p, Text: "Tell me a story"}, `I've processed your input: "Tell me a story".`},
		{"single file", Request{Persona: p, Media: []MediaMeta{{Name: "a.png", MimeType: "image/png"}}}, "along with 1 file (image)."},
		{"many files", Request{Persona: p, Text: "look", Media: []MediaMeta{
			{Name: "a.png", MimeType: "image/png"},
			{Name: "b.mp4", MimeType: "video/mp4"},
		}}, "along with 2 files (image, video)."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Generate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if !strings.Contains(got, tt.wants) {
				t.Errorf("reply %q does not contain %q", got, tt.wants)
			}
		})
	}
}

func TestHeuristicHonorsContext(t *testing.T) {
	h := NewHeuristic(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := h.Generate(ctx, Request{Persona: claudePersona(), Text: "hi"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

type stubOracle struct {
	reply string
	err   error
	calls int
}

func (s *stubOracle) Generate(context.Context, Request) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestRouter(t *testing.T) {
	fallback := &stubOracle{reply: "mock"}
	routed := &stubOracle{reply: "real"}

	r := NewRouter(fallback)
	r.Route("claude", routed)

	got, err := r.Generate(context.Background(), Request{Persona: claudePersona()})
	if err != nil || got != "real" {
		t.Errorf("claude route = %q, %v", got, err)
	}

	mistral, _ := persona.Builtin().Lookup("mistral")
	got, err = r.Generate(context.Background(), Request{Persona: mistral})
	if err != nil || got != "mock" {
		t.Errorf("fallback route = %q, %v", got, err)
	}
}

func TestRouterPropagatesError(t *testing.T) {
	boom := errors.New("upstream down")
	r := NewRouter(&stubOracle{err: boom})

	if _, err := r.Generate(context.Background(), Request{Persona: claudePersona()}); !errors.Is(err, boom) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"", false},
		{"mock", false},
		{"claude", false},
		{"openai", false},
		{"deepseek", false},
		{"mistral", false},
		{"gemini", true},
	}

	for _, tt := range tests {
		_, err := New(Config{Provider: tt.provider, APIKey: "k"})
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
		}
		if IsKnownProvider(tt.provider) == tt.wantErr {
			t.Errorf("IsKnownProvider(%q) disagrees with New", tt.provider)
		}
	}
}

func TestOpenAICompatible(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"Bonjour!"}}]}`))
	}))
	defer srv.Close()

	o, err := New(Config{Provider: "mistral", APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	mistral, _ := persona.Builtin().Lookup("mistral")
	reply, err := o.Generate(context.Background(), Request{
		Persona: mistral,
		Text:    "Salut",
		Media:   []MediaMeta{{Name: "a.png", MimeType: "image/png"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply != "Bonjour!" {
		t.Errorf("reply = %q", reply)
	}

	if got.Model != mistral.Model {
		t.Errorf("model = %q, want persona model %q", got.Model, mistral.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[1].Content, "[Attached: a.png (image/png)]") {
		t.Errorf("attachment not described: %q", got.Messages[1].Content)
	}
}

func TestOpenAICompatibleErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			o := newOpenAICompatible("k", srv.URL, "m")
			if _, err := o.Generate(context.Background(), Request{Persona: claudePersona(), Text: "x"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}
