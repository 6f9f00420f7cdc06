package chat

import (
	"errors"
	"time"

	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/mediacache"
)

var (
	ErrAuthRequired         = errors.New("authentication required")
	ErrEmptyMessage         = errors.New("empty message")
	ErrProcessing           = errors.New("a message is already being processed")
	ErrGeneration           = errors.New("response generation failed")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnknownModel         = errors.New("unknown model")
)

const (
	DefaultTitle = "New Conversation"
	mediaTitle   = "Media Upload"
	titleLength  = 30
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MediaReference = mediacache.Reference

type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Media     []MediaReference `json:"media,omitempty"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Conversation) clone() Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.Media != nil {
			m.Media = append([]MediaReference(nil), m.Media...)
		}
		cp.Messages[i] = m
	}
	return cp
}

func (c *Conversation) findMessage(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Turn is the outcome of one SendMessage call. Reply is nil when
// generation failed.
type Turn struct {
	ConversationID string
	User           Message
	Reply          *Message
	Issues         []ingest.FileIssue
}
