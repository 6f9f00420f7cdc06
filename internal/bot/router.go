package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bowerhall/multiai/internal/alerts"
	"github.com/bowerhall/multiai/internal/auth"
	"github.com/bowerhall/multiai/internal/chat"
	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/logger"
	"github.com/bowerhall/multiai/internal/session"
)

const signInPrompt = "Please sign in first: /login <email> <password> or /signup <email> <password> <name>"

const helpText = `Commands:
/login <email> <password> - sign in
/signup <email> <password> <name> - create an account
/logout - sign out
/new [model] - start a new conversation
/models - list models
/model <id> - switch model
/list - list conversations
/load <n> - open conversation n
/delete [n] - delete conversation n (default: current)
/history - show the current conversation
/edit <n> <text> - edit message n
/deletemsg <n> - delete message n
/media <n> - show attachments of message n
/help - this message

Anything else is sent to the selected model. Say "stop" to cancel a reply.`

type RouterConfig struct {
	RateLimit     float64
	Burst         int
	AlertCooldown time.Duration
}

// turn marks one in-flight message so "stop" can cancel it.
type turn struct {
	cancel context.CancelFunc
}

// Router turns inbound messages from any front-end into session and
// conversation operations.
type Router struct {
	registry *session.Registry
	limit    rate.Limit
	burst    int
	cooldown time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	inflight map[string]*turn
}

func NewRouter(registry *session.Registry, cfg RouterConfig) *Router {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Router{
		registry: registry,
		limit:    limit,
		burst:    burst,
		cooldown: cfg.AlertCooldown,
		limiters: make(map[string]*rate.Limiter),
		inflight: make(map[string]*turn),
	}
}

func (r *Router) allow(sessionID string) bool {
	r.mu.Lock()
	l, ok := r.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[sessionID] = l
	}
	r.mu.Unlock()

	return l.Allow()
}

// Handle processes one inbound message. Every response goes through
// msg.Reply; Handle blocks until the reply to a chat message is in.
func (r *Router) Handle(ctx context.Context, msg Incoming) {
	text := strings.TrimSpace(msg.Text)

	if len(msg.Files) == 0 && isStopCommand(text) {
		r.stop(msg)
		return
	}

	if !r.allow(msg.SessionID) {
		msg.Reply("You're sending messages too quickly. Please wait a moment.")
		return
	}

	if strings.HasPrefix(text, "/") {
		r.command(ctx, msg, text)
		return
	}

	sess, ok := r.registry.Get(msg.SessionID)
	if !ok {
		msg.Reply(signInPrompt)
		return
	}

	r.send(ctx, sess, msg)
}

func (r *Router) stop(msg Incoming) {
	r.mu.Lock()
	t := r.inflight[msg.SessionID]
	r.mu.Unlock()

	if t == nil {
		msg.Reply("Nothing to stop.")
		return
	}

	t.cancel()
	msg.Reply("Stopped.")
}

func (r *Router) send(ctx context.Context, sess *session.Session, msg Incoming) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &turn{cancel: cancel}
	r.mu.Lock()
	if _, busy := r.inflight[msg.SessionID]; !busy {
		r.inflight[msg.SessionID] = t
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.inflight[msg.SessionID] == t {
			delete(r.inflight, msg.SessionID)
		}
		r.mu.Unlock()
	}()

	res, err := sess.Chat.SendMessage(ctx, msg.Text, msg.Files)
	if err != nil {
		r.sendFailed(ctx, msg, err)
		return
	}

	for _, issue := range res.Issues {
		logger.Debug("attachment skipped", "session", msg.SessionID, "name", issue.Name, "error", issue.Err)
	}

	p := sess.Chat.Selected()
	msg.Reply(fmt.Sprintf("[%s] %s", p.Name, res.Reply.Content))
}

func (r *Router) sendFailed(ctx context.Context, msg Incoming, err error) {
	switch {
	case ctx.Err() != nil:
		// the stop handler already answered
	case errors.Is(err, chat.ErrProcessing):
		msg.Reply(`Still working on your previous message. Say "stop" to cancel it.`)
	case errors.Is(err, chat.ErrConversationNotFound):
		msg.Reply("The conversation was deleted before the reply arrived.")
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrAuthRequired),
		errors.Is(err, chat.ErrGeneration),
		errors.Is(err, ingest.ErrTooManyFiles),
		errors.Is(err, ingest.ErrBatchTooLarge):
		// reported through the session's notices
	default:
		logger.Error("send failed", "session", msg.SessionID, "error", err)
		msg.Reply("Something went wrong.")
	}
}

func (r *Router) notices(reply ReplyFunc) *alerts.Alerter {
	return alerts.New(func(n alerts.Notice) { reply(n.String()) }, r.cooldown)
}

func (r *Router) command(ctx context.Context, msg Incoming, text string) {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	// telegram group syntax: /cmd@botname
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	args := fields[1:]

	switch name {
	case "/start", "/help":
		msg.Reply(helpText)
		return
	case "/login":
		r.login(ctx, msg, args)
		return
	case "/signup":
		r.signup(ctx, msg, args)
		return
	case "/logout":
		if r.registry.Logout(msg.SessionID) {
			msg.Reply("Signed out.")
		} else {
			msg.Reply("You are not signed in.")
		}
		return
	}

	sess, ok := r.registry.Get(msg.SessionID)
	if !ok {
		msg.Reply(signInPrompt)
		return
	}
	store := sess.Chat

	switch name {
	case "/new":
		r.newConversation(ctx, store, msg, args)
	case "/models":
		msg.Reply(formatModels(store))
	case "/model":
		r.selectModel(ctx, store, msg, args)
	case "/list":
		msg.Reply(formatConversations(store))
	case "/load":
		r.load(store, msg, args)
	case "/delete":
		r.deleteConversation(ctx, store, msg, args)
	case "/history":
		msg.Reply(formatHistory(store))
	case "/edit":
		r.editMessage(ctx, store, msg, args)
	case "/deletemsg":
		r.deleteMessage(ctx, store, msg, args)
	case "/media":
		r.media(ctx, store, msg, args)
	default:
		msg.Reply(fmt.Sprintf("Unknown command %s. Try /help.", name))
	}
}

func (r *Router) login(ctx context.Context, msg Incoming, args []string) {
	if len(args) != 2 {
		msg.Reply("Usage: /login <email> <password>")
		return
	}

	sess, err := r.registry.Login(ctx, msg.SessionID, args[0], args[1], r.notices(msg.Reply))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			msg.Reply("Invalid email or password.")
			return
		}
		logger.Error("login failed", "session", msg.SessionID, "error", err)
		msg.Reply("Sign in failed.")
		return
	}

	msg.Reply(welcome(sess))
}

func (r *Router) signup(ctx context.Context, msg Incoming, args []string) {
	if len(args) < 3 {
		msg.Reply("Usage: /signup <email> <password> <name>")
		return
	}

	name := strings.Join(args[2:], " ")
	sess, err := r.registry.Signup(ctx, msg.SessionID, name, args[0], args[1], r.notices(msg.Reply))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, auth.ErrInvalidInput):
			msg.Reply(err.Error())
		default:
			logger.Error("signup failed", "session", msg.SessionID, "error", err)
			msg.Reply("Sign up failed.")
		}
		return
	}

	msg.Reply(welcome(sess))
}

func welcome(sess *session.Session) string {
	p := sess.Chat.Selected()
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome, %s! You're chatting with %s.", sess.User.Name, p.Name)

	if msgs := sess.Chat.Messages(); len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		fmt.Fprintf(&b, "\n\n%s", formatMessage(p.Name, last))
	}
	return b.String()
}

func (r *Router) newConversation(ctx context.Context, store *chat.Store, msg Incoming, args []string) {
	modelID := store.Selected().ID
	if len(args) > 0 {
		modelID = args[0]
	}

	conv, err := store.CreateConversation(ctx, modelID)
	if err != nil {
		logger.Error("create conversation failed", "session", msg.SessionID, "error", err)
		msg.Reply("Could not start a conversation.")
		return
	}

	p := store.Selected()
	if len(conv.Messages) == 0 {
		msg.Reply(fmt.Sprintf("New conversation with %s.", p.Name))
		return
	}
	msg.Reply(formatMessage(p.Name, conv.Messages[0]))
}

func (r *Router) selectModel(ctx context.Context, store *chat.Store, msg Incoming, args []string) {
	if len(args) != 1 {
		msg.Reply("Usage: /model <id>")
		return
	}

	if err := store.SelectModel(ctx, args[0]); err != nil {
		if errors.Is(err, chat.ErrUnknownModel) {
			msg.Reply(fmt.Sprintf("Unknown model %q. Try /models.", args[0]))
			return
		}
		msg.Reply("Could not switch model.")
		return
	}

	msg.Reply(fmt.Sprintf("Now chatting with %s.", store.Selected().Name))
}

func (r *Router) load(store *chat.Store, msg Incoming, args []string) {
	if len(args) != 1 {
		msg.Reply("Usage: /load <n>")
		return
	}

	id, ok := conversationID(store.Conversations(), args[0])
	if !ok {
		msg.Reply("No such conversation. Try /list.")
		return
	}

	conv, err := store.LoadConversation(id)
	if err != nil {
		msg.Reply("No such conversation. Try /list.")
		return
	}

	msg.Reply(fmt.Sprintf("Loaded %q with %s.", conv.Title, store.Selected().Name))
}

func (r *Router) deleteConversation(ctx context.Context, store *chat.Store, msg Incoming, args []string) {
	var id string
	if len(args) == 0 {
		cur, ok := store.Current()
		if !ok {
			msg.Reply("No conversation selected.")
			return
		}
		id = cur.ID
	} else {
		var ok bool
		if id, ok = conversationID(store.Conversations(), args[0]); !ok {
			msg.Reply("No such conversation. Try /list.")
			return
		}
	}

	if err := store.DeleteConversation(ctx, id); err != nil {
		msg.Reply("No such conversation. Try /list.")
		return
	}

	cur, _ := store.Current()
	msg.Reply(fmt.Sprintf("Conversation deleted. Current: %q.", cur.Title))
}

func (r *Router) editMessage(ctx context.Context, store *chat.Store, msg Incoming, args []string) {
	if len(args) < 2 {
		msg.Reply("Usage: /edit <n> <text>")
		return
	}

	id, ok := messageID(store.Messages(), args[0])
	if !ok {
		msg.Reply("No such message. Try /history.")
		return
	}

	if err := store.EditMessage(ctx, id, strings.Join(args[1:], " ")); err != nil {
		msg.Reply("No such message. Try /history.")
		return
	}
	msg.Reply("Message updated.")
}

func (r *Router) deleteMessage(ctx context.Context, store *chat.Store, msg Incoming, args []string) {
	if len(args) != 1 {
		msg.Reply("Usage: /deletemsg <n>")
		return
	}

	id, ok := messageID(store.Messages(), args[0])
	if !ok {
		msg.Reply("No such message. Try /history.")
		return
	}

	if err := store.DeleteMessage(ctx, id); err != nil {
		msg.Reply("No such message. Try /history.")
		return
	}
	msg.Reply("Message deleted.")
}

func (r *Router) media(ctx context.Context, store *chat.Store, msg Incoming, args []string) {
	if len(args) != 1 {
		msg.Reply("Usage: /media <n>")
		return
	}

	msgs := store.Messages()
	i, ok := index(args[0], len(msgs))
	if !ok {
		msg.Reply("No such message. Try /history.")
		return
	}

	refs := msgs[i].Media
	if len(refs) == 0 {
		msg.Reply("That message has no attachments.")
		return
	}

	var b strings.Builder
	for _, ref := range refs {
		entry, found := store.ResolveMedia(ctx, ref)
		if !found {
			fmt.Fprintf(&b, "📎 %s (%s): no longer cached\n", ref.Name, ref.MimeType)
			continue
		}
		fmt.Fprintf(&b, "📎 %s (%s): cached, %d bytes encoded\n", ref.Name, ref.MimeType, len(entry.Payload))
	}
	msg.Reply(strings.TrimRight(b.String(), "\n"))
}

// index parses a 1-based position into a 0-based index below n.
func index(arg string, n int) (int, bool) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

// conversationID accepts a list position or a conversation id.
func conversationID(convs []chat.Conversation, arg string) (string, bool) {
	if i, ok := index(arg, len(convs)); ok {
		return convs[i].ID, true
	}
	for _, c := range convs {
		if c.ID == arg {
			return c.ID, true
		}
	}
	return "", false
}

func messageID(msgs []chat.Message, arg string) (string, bool) {
	i, ok := index(arg, len(msgs))
	if !ok {
		return "", false
	}
	return msgs[i].ID, true
}

func formatModels(store *chat.Store) string {
	selected := store.Selected().ID

	var b strings.Builder
	b.WriteString("Models:\n")
	for _, p := range store.Personas() {
		marker := " "
		if p.ID == selected {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s - %s (%s)\n", marker, p.ID, p.Name, p.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatConversations(store *chat.Store) string {
	convs := store.Conversations()
	if len(convs) == 0 {
		return "No conversations."
	}

	cur, _ := store.Current()
	var b strings.Builder
	for i, c := range convs {
		marker := " "
		if c.ID == cur.ID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %d. %s [%s] %s\n", marker, i+1, c.Title, c.ModelID, c.UpdatedAt.Format("Jan 2 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(store *chat.Store) string {
	msgs := store.Messages()
	if len(msgs) == 0 {
		return "No messages yet."
	}

	name := store.Selected().Name
	var b strings.Builder
	for i, m := range msgs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatMessage(name, m))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMessage(assistant string, m chat.Message) string {
	speaker := "You"
	if m.Role == chat.RoleAssistant {
		speaker = assistant
	}

	line := fmt.Sprintf("[%s] %s", speaker, m.Content)
	for _, ref := range m.Media {
		line += fmt.Sprintf(" 📎%s", ref.Name)
	}
	return line
}
