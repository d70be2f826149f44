package notification

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"slot-booking/model"
)

type Notifier interface {
	NotifyBooked(ctx context.Context, user model.UserData, event model.Event)
	NotifyCancelled(ctx context.Context, user model.UserData, event model.Event)
}

type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
	log *slog.Logger
}

// NewTelegramNotifier returns a notifier that only logs when token is empty.
func NewTelegramNotifier(token string, log *slog.Logger) (*TelegramNotifier, error) {
	if token == "" {
		log.Warn("telegram bot token is empty, notifications disabled")
		return &TelegramNotifier{log: log}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, log: log}, nil
}

func (n *TelegramNotifier) NotifyBooked(ctx context.Context, user model.UserData, event model.Event) {
	n.send(ctx, user.TelegramChatId, fmt.Sprintf(
		"*Slot booked!*\n\nEvent: %s\nDate (UTC): %s",
		event.Name, event.Date.UTC().Format("02.01.2006 15:04"),
	))
}

func (n *TelegramNotifier) NotifyCancelled(ctx context.Context, user model.UserData, event model.Event) {
	n.send(ctx, user.TelegramChatId, fmt.Sprintf(
		"*Booking cancelled*\n\nEvent: %s\nDate (UTC): %s",
		event.Name, event.Date.UTC().Format("02.01.2006 15:04"),
	))
}

func (n *TelegramNotifier) send(ctx context.Context, chatId *int64, text string) {
	if n.bot == nil {
		n.log.Debug("notification skipped (bot disabled)", "text", text)
		return
	}
	if chatId == nil {
		n.log.Debug("notification skipped (no chat_id)", "text", text)
		return
	}
	if err := ctx.Err(); err != nil {
		n.log.Debug("notification skipped (context cancelled)", "chat_id", *chatId)
		return
	}

	msg := tgbotapi.NewMessage(*chatId, text)
	msg.ParseMode = "Markdown"

	if _, err := n.bot.Send(msg); err != nil {
		n.log.Error("failed to send telegram notification",
			"chat_id", *chatId,
			"error", err,
		)
	}
}
