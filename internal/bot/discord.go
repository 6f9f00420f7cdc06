package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/logger"
)

// discordMessageLimit is Discord's maximum message length.
const discordMessageLimit = 2000

type discord struct {
	session *discordgo.Session
	router  *Router
	ctx     context.Context
}

func newDiscord(token string, router *Router) (Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d := &discord{
		session: session,
		router:  router,
		ctx:     context.Background(),
	}

	session.AddHandler(d.handleMessage)

	return d, nil
}

func (d *discord) Start(ctx context.Context) error {
	d.ctx = ctx

	if err := d.session.Open(); err != nil {
		return err
	}
	logger.Info("discord bot started")

	<-ctx.Done()
	return d.session.Close()
}

func (d *discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	sessionID := fmt.Sprintf("discord:%s", m.ChannelID)
	logger.Info("message received", "session", sessionID, "from", m.Author.Username, "text", truncate(m.Content, 50), "files", len(m.Attachments))

	var files []ingest.File
	for _, a := range m.Attachments {
		data, err := download(d.ctx, a.URL)
		if err != nil {
			logger.Error("failed to download attachment", "session", sessionID, "name", a.Filename, "error", err)
			d.send(m.ChannelID, fmt.Sprintf("⚠️ Could not download %s", a.Filename))
			continue
		}
		files = append(files, ingest.NewBytesFile(a.Filename, mimeOrSniff(a.ContentType, data), data))
	}

	if len(files) > 0 || (m.Content != "" && m.Content[0] != '/') {
		s.ChannelTyping(m.ChannelID)
	}

	channelID := m.ChannelID
	d.router.Handle(d.ctx, Incoming{
		SessionID: sessionID,
		Text:      m.Content,
		Files:     files,
		Reply:     func(text string) { d.send(channelID, text) },
	})
}

func (d *discord) send(channelID, message string) {
	if r := []rune(message); len(r) > discordMessageLimit {
		message = string(r[:discordMessageLimit-3]) + "..."
	}

	if _, err := d.session.ChannelMessageSend(channelID, message); err != nil {
		logger.Error("discord send failed", "error", err, "channelID", channelID)
	} else {
		logger.Debug("discord message sent", "channelID", channelID, "chars", len(message))
	}
}
