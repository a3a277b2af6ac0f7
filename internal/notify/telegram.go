package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
)

// TelegramSender delivers over the Telegram Bot API. The address is a chat
// id (numeric) or a public @channel username.
type TelegramSender struct {
	bot *telego.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, address, subject, body string) error {
	var chatID telego.ChatID
	if id, err := strconv.ParseInt(address, 10, 64); err == nil {
		chatID = telego.ChatID{ID: id}
	} else {
		chatID = telego.ChatID{Username: address}
	}

	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("%s\n\n%s", subject, body),
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
