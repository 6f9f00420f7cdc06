package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/multiai/internal/ingest"
	"github.com/bowerhall/multiai/internal/logger"
)

type telegram struct {
	api    *tgbotapi.BotAPI
	router *Router
}

func newTelegram(token string, router *Router) (Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	return &telegram{api: api, router: router}, nil
}

func (t *telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	logger.Info("telegram bot started", "user", t.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			go t.handleMessage(ctx, update.Message)
		}
	}
}

// telegramFile is an attachment before download.
type telegramFile struct {
	fileID   string
	name     string
	mimeType string
}

func attachmentsOf(msg *tgbotapi.Message) []telegramFile {
	var files []telegramFile

	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		files = append(files, telegramFile{fileID: photo.FileID, name: "photo.jpg", mimeType: "image/jpeg"})
	}
	if d := msg.Document; d != nil {
		files = append(files, telegramFile{fileID: d.FileID, name: d.FileName, mimeType: d.MimeType})
	}
	if a := msg.Audio; a != nil {
		files = append(files, telegramFile{fileID: a.FileID, name: a.FileName, mimeType: a.MimeType})
	}
	if v := msg.Video; v != nil {
		files = append(files, telegramFile{fileID: v.FileID, name: v.FileName, mimeType: v.MimeType})
	}
	if v := msg.Voice; v != nil {
		files = append(files, telegramFile{fileID: v.FileID, name: "voice.ogg", mimeType: v.MimeType})
	}

	for i := range files {
		if files[i].name == "" {
			files[i].name = fmt.Sprintf("attachment-%d", i+1)
		}
	}
	return files
}

func (t *telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	sessionID := fmt.Sprintf("telegram:%d", msg.Chat.ID)

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var files []ingest.File
	for _, a := range attachmentsOf(msg) {
		data, err := t.downloadFile(ctx, a.fileID)
		if err != nil {
			logger.Error("failed to download attachment", "session", sessionID, "name", a.name, "error", err)
			t.send(msg.Chat.ID, fmt.Sprintf("⚠️ Could not download %s", a.name))
			continue
		}
		files = append(files, ingest.NewBytesFile(a.name, mimeOrSniff(a.mimeType, data), data))
	}

	from := ""
	if msg.From != nil {
		from = msg.From.UserName
	}
	logger.Info("message received", "session", sessionID, "from", from, "text", truncate(text, 50), "files", len(files))

	if len(files) > 0 || (text != "" && text[0] != '/') {
		t.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))
	}

	chatID := msg.Chat.ID
	t.router.Handle(ctx, Incoming{
		SessionID: sessionID,
		Text:      text,
		Files:     files,
		Reply:     func(s string) { t.send(chatID, s) },
	})
}

func (t *telegram) send(chatID int64, message string) {
	msg := tgbotapi.NewMessage(chatID, message)
	if _, err := t.api.Send(msg); err != nil {
		logger.Error("send failed", "error", err, "chatID", chatID)
	} else {
		logger.Debug("reply sent", "chatID", chatID, "chars", len(message))
	}
}

func (t *telegram) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := t.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, err
	}

	return download(ctx, file.Link(t.api.Token))
}
