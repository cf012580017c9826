package alerts

import (
	"context"
	"errors"
	"fmt"

	tba "github.com/go-telegram-bot-api/telegram-bot-api"
)

// messageSender is the part of *tba.BotAPI the notifier uses
type messageSender interface {
	Send(c tba.Chattable) (tba.Message, error)
}

// TelegramNotifier sends alerts to a fixed list of chats
type TelegramNotifier struct {
	bot   messageSender
	chats []int64
}

// NewTelegramNotifier authenticates the bot token against the Telegram API
func NewTelegramNotifier(token string, chats []int64) (*TelegramNotifier, error) {
	if len(chats) == 0 {
		return nil, errors.New("telegram notifier needs at least one chat id")
	}
	bot, err := tba.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot API initialization error: %w", err)
	}
	return &TelegramNotifier{bot: bot, chats: chats}, nil
}

// Notify sends to every chat and returns the first error, after trying them all
func (n *TelegramNotifier) Notify(ctx context.Context, a Alert) error {
	var err error
	for _, c := range n.chats {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := tba.NewMessage(c, a.Message())
		if _, e := n.bot.Send(msg); e != nil && err == nil {
			err = fmt.Errorf("telegram chat %d: %w", c, e)
		}
	}
	return err
}
