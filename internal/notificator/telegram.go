package notificator

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/keypay/keypay/pkg/logger"
)

type TelegramNotificator struct {
	logger *logger.Logger
	bot    *bot.Bot
}

// NewTelegramNotificator starts the bot. Sending /start to it replies with the
// chat id to put in TELEGRAM_ADMIN_CHAT_ID.
func NewTelegramNotificator(ctx context.Context, logger *logger.Logger, token string) (*TelegramNotificator, error) {
	provider := &TelegramNotificator{
		logger: logger,
	}
	opts := []bot.Option{
		bot.WithDefaultHandler(provider.handler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	go b.Start(ctx)
	provider.bot = b

	return provider, nil
}

func (t *TelegramNotificator) SendNotification(chatID int64, message string) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	}
	_, err := t.bot.SendMessage(context.Background(), params)
	if err != nil {
		t.logger.Errorw("Failed to send telegram notification", "chat_id", chatID, "error", err)
	}
}

func (t *TelegramNotificator) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	t.logger.Debug("Telegram update: ", update.Message.From.Username, " ", update.Message.Text)
	if update.Message.Text == "/start" {
		t.SendNotification(update.Message.Chat.ID, startReply(update.Message.Chat.ID))
	}
}

func startReply(chatID int64) string {
	return fmt.Sprintf("This chat id is %d. Set TELEGRAM_ADMIN_CHAT_ID to it to receive order notifications.", chatID)
}
