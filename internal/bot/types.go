package bot

import (
	"context"

	"github.com/bowerhall/multiai/internal/ingest"
)

type Bot interface {
	Start(ctx context.Context) error
}

type Config struct {
	Provider string
	Token    string
}

// ReplyFunc delivers text back to the conversation a message came from.
type ReplyFunc func(text string)

// Incoming is one inbound message from any front-end.
type Incoming struct {
	SessionID string
	Text      string
	Files     []ingest.File
	Reply     ReplyFunc
}
