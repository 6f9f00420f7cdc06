package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bowerhall/multiai/internal/alerts"
	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/logger"
	"github.com/bowerhall/multiai/internal/mediacache"
	"github.com/bowerhall/multiai/internal/oracle"
	"github.com/bowerhall/multiai/internal/persona"
)

// Snapshots persists the serialized conversation set of one user.
type Snapshots interface {
	Load(ctx context.Context, userID string) ([]byte, error)
	Save(ctx context.Context, userID string, payload []byte) error
}

// MediaResolver looks up cached payloads behind message references.
type MediaResolver interface {
	Get(ctx context.Context, id string) (mediacache.Entry, bool)
}

type Options struct {
	UserID    string
	Personas  *persona.Catalog
	Oracle    oracle.Oracle
	Pipeline  *ingest.Pipeline
	Media     MediaResolver
	Snapshots Snapshots
	Alerts    *alerts.Alerter
	Now       func() time.Time
}

// Store owns the conversations of one signed-in user. Conversations are kept
// newest first and the whole set is written to the snapshot store after
// every mutation.
type Store struct {
	personas  *persona.Catalog
	oracle    oracle.Oracle
	pipeline  *ingest.Pipeline
	media     MediaResolver
	snapshots Snapshots
	alerts    *alerts.Alerter
	now       func() time.Time
	log       *slog.Logger

	mu            sync.Mutex
	userID        string
	conversations []*Conversation
	currentID     string
	selected      persona.Persona
	processing    bool
}

// Open restores the user's conversations from the snapshot store. A missing
// or unreadable snapshot starts the user with a fresh greeted conversation.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.UserID == "" {
		return nil, ErrAuthRequired
	}

	personas := opts.Personas
	if personas == nil {
		personas = persona.Builtin()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	pipeline := opts.Pipeline
	if pipeline != nil {
		pipeline = pipeline.WithAlerter(opts.Alerts)
	}

	s := &Store{
		personas:  personas,
		oracle:    opts.Oracle,
		pipeline:  pipeline,
		media:     opts.Media,
		snapshots: opts.Snapshots,
		alerts:    opts.Alerts,
		now:       now,
		log:       logger.With("component", "chat", "user", opts.UserID),
		userID:    opts.UserID,
		selected:  personas.Default(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.restoreLocked(ctx)
	if len(s.conversations) == 0 {
		s.createLocked(ctx, s.selected.ID)
		return s, nil
	}

	first := s.conversations[0]
	s.currentID = first.ID
	if p, ok := s.personas.Lookup(first.ModelID); ok {
		s.selected = p
	}

	s.log.Info("conversations restored", "count", len(s.conversations))
	return s, nil
}

func (s *Store) restoreLocked(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	payload, err := s.snapshots.Load(ctx, s.userID)
	if err != nil {
		// conversation.ErrNotFound is the common case for new users
		s.log.Debug("no conversation snapshot loaded", "error", err)
		return
	}

	var convs []*Conversation
	if err := json.Unmarshal(payload, &convs); err != nil {
		s.log.Error("failed to parse saved conversations", "error", err)
		return
	}

	for _, c := range convs {
		if c == nil || c.ID == "" {
			continue
		}
		s.conversations = append(s.conversations, c)
	}
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.snapshots == nil || s.userID == "" || len(s.conversations) == 0 {
		return
	}

	payload, err := json.Marshal(s.conversations)
	if err != nil {
		s.log.Error("failed to encode conversations", "error", err)
		return
	}

	if err := s.snapshots.Save(ctx, s.userID, payload); err != nil {
		s.log.Warn("failed to save conversations", "error", err)
	}
}

func (s *Store) greeting(p persona.Persona, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   p.Greeting,
		Timestamp: at,
	}
}

func (s *Store) createLocked(ctx context.Context, modelID string) *Conversation {
	p := s.personas.Resolve(modelID)
	s.selected = p

	now := s.now()
	c := &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		ModelID:   p.ID,
		Messages:  []Message{s.greeting(p, now)},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.conversations = append([]*Conversation{c}, s.conversations...)
	s.currentID = c.ID
	s.persistLocked(ctx)

	s.log.Debug("conversation created", "id", c.ID, "model", p.ID)
	return c
}

func (s *Store) findLocked(id string) *Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) currentLocked() *Conversation {
	if s.currentID == "" {
		return nil
	}
	return s.findLocked(s.currentID)
}

// CreateConversation starts a greeted conversation with the given persona and
// makes it current. An empty or unknown id uses the default persona.
func (s *Store) CreateConversation(ctx context.Context, modelID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == "" {
		return Conversation{}, ErrAuthRequired
	}

	return s.createLocked(ctx, modelID).clone(), nil
}

// LoadConversation makes an existing conversation current and selects its
// persona. Unknown ids leave the selection unchanged.
func (s *Store) LoadConversation(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findLocked(id)
	if c == nil {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	s.currentID = c.ID
	if p, ok := s.personas.Lookup(c.ModelID); ok {
		s.selected = p
	}
	return c.clone(), nil
}

// SelectModel switches the selected persona and retargets the current
// conversation to it.
func (s *Store) SelectModel(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.personas.Lookup(modelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	s.selected = p

	if c := s.currentLocked(); c != nil {
		c.ModelID = p.ID
		c.UpdatedAt = s.now()
		s.persistLocked(ctx)
	}
	return nil
}

// SendMessage ingests files, appends the user message to the current
// conversation and then the oracle's reply. Validation failures leave the
// conversation untouched. A generation failure keeps the user message and
// returns ErrGeneration alongside the partial turn.
func (s *Store) SendMessage(ctx context.Context, text string, files []ingest.File) (*Turn, error) {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		s.alerts.Report(alerts.SeverityError, "Authentication required", "Please sign in to send messages")
		return nil, ErrAuthRequired
	}
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		s.mu.Unlock()
		s.alerts.Report(alerts.SeverityWarn, "Empty message", "Please enter a message or attach a file")
		return nil, ErrEmptyMessage
	}
	if s.processing {
		s.mu.Unlock()
		return nil, ErrProcessing
	}
	s.processing = true

	if s.currentLocked() == nil {
		s.createLocked(ctx, s.selected.ID)
	}
	convID := s.currentID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	turn := &Turn{ConversationID: convID}

	var refs []MediaReference
	if len(files) > 0 {
		if s.pipeline == nil {
			return nil, fmt.Errorf("%w: attachments are not supported", ingest.ErrUnsupportedType)
		}

		res, err := s.pipeline.Ingest(ctx, files)
		if err != nil {
			return nil, err
		}
		refs = res.References
		turn.Issues = res.Issues

		if res.NoValidAttachments && strings.TrimSpace(text) == "" {
			return turn, ErrEmptyMessage
		}
	}

	s.mu.Lock()
	conv := s.findLocked(convID)
	if conv == nil {
		s.mu.Unlock()
		return turn, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}

	now := s.now()
	userMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: now,
		Media:     refs,
	}
	if len(conv.Messages) <= 1 {
		conv.Title = titleFor(text)
	}
	conv.Messages = append(conv.Messages, userMsg)
	conv.UpdatedAt = now
	p := s.personas.Resolve(conv.ModelID)
	s.persistLocked(ctx)
	s.mu.Unlock()

	turn.User = userMsg

	reply, err := s.generate(ctx, p, text, refs)
	if err != nil {
		s.log.Error("failed to generate response", "conversation", convID, "error", err)
		s.alerts.Report(alerts.SeverityError, "Message failed", "Could not generate a response")
		return turn, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv = s.findLocked(convID)
	if conv == nil {
		// deleted while the oracle was answering
		return turn, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}

	now = s.now()
	replyMsg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   reply,
		Timestamp: now,
	}
	conv.Messages = append(conv.Messages, replyMsg)
	conv.UpdatedAt = now
	s.persistLocked(ctx)

	turn.Reply = &replyMsg
	return turn, nil
}

func (s *Store) generate(ctx context.Context, p persona.Persona, text string, refs []MediaReference) (string, error) {
	if s.oracle == nil {
		return "", errors.New("no oracle configured")
	}

	media := make([]oracle.MediaMeta, len(refs))
	for i, r := range refs {
		media[i] = oracle.MediaMeta{Name: r.Name, MimeType: r.MimeType}
	}

	return s.oracle.Generate(ctx, oracle.Request{Persona: p, Text: text, Media: media})
}

func titleFor(text string) string {
	if strings.TrimSpace(text) == "" {
		return mediaTitle
	}
	runes := []rune(text)
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes)
}

// DeleteMessage removes a message from the current conversation. Cached
// media it referenced is left for the age sweep.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.currentLocked()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	i := c.findMessage(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
	c.UpdatedAt = s.now()
	s.persistLocked(ctx)
	return nil
}

// EditMessage replaces the text of a message in the current conversation.
// Media stays as it was.
func (s *Store) EditMessage(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.currentLocked()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	i := c.findMessage(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	c.Messages[i].Content = text
	c.UpdatedAt = s.now()
	s.persistLocked(ctx)
	return nil
}

// DeleteConversation removes a conversation. When it was current, the most
// recently created remaining one takes its place, or a fresh one is created.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.conversations {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)

	if s.currentID != id {
		s.persistLocked(ctx)
		return nil
	}

	s.currentID = ""
	if next := s.newestLocked(); next != nil {
		s.currentID = next.ID
		if p, ok := s.personas.Lookup(next.ModelID); ok {
			s.selected = p
		}
		s.persistLocked(ctx)
		return nil
	}

	s.createLocked(ctx, s.selected.ID)
	return nil
}

func (s *Store) newestLocked() *Conversation {
	var newest *Conversation
	for _, c := range s.conversations {
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	return newest
}

// ResolveMedia fetches the payload behind a reference. A dangling reference
// reports false.
func (s *Store) ResolveMedia(ctx context.Context, ref MediaReference) (mediacache.Entry, bool) {
	if s.media == nil || ref.CacheID == "" {
		return mediacache.Entry{}, false
	}
	return s.media.Get(ctx, ref.CacheID)
}

// Logout drops the in-memory conversation set. The snapshot is kept, so
// opening a store for the same user restores it.
func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info("user signed out")
	s.userID = ""
	s.conversations = nil
	s.currentID = ""
	s.selected = s.personas.Default()
}

func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.clone()
	}
	return out
}

func (s *Store) Current() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.currentLocked()
	if c == nil {
		return Conversation{}, false
	}
	return c.clone(), true
}

// Messages returns the messages of the current conversation.
func (s *Store) Messages() []Message {
	c, ok := s.Current()
	if !ok {
		return nil
	}
	return c.Messages
}

func (s *Store) Selected() persona.Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Store) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Store) Personas() []persona.Persona {
	return s.personas.All()
}

// Limits reports the upload limits attachments are checked against.
func (s *Store) Limits() ingest.Limits {
	if s.pipeline == nil {
		return ingest.Limits{}
	}
	return s.pipeline.Limits()
}
