package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	bot    *bot.Bot
	chatID string
}

// NewTelegramSender creates a TelegramSender. serverURL overrides the Bot
// API host and is empty in production.
func NewTelegramSender(token, chatID, serverURL string) (*TelegramSender, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{bot: b, chatID: chatID}, nil
}

// Send posts "*title*\nmessage" in Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("*%s*\n%s", title, message),
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
