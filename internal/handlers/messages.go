package handlers

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-savings-365/internal/messages"
)

// Gateway delivers scheduled texts. It satisfies scheduler.Sender.
type Gateway struct {
	bot Bot
}

func NewGateway(bot Bot) *Gateway { return &Gateway{bot: bot} }

// Send writes a MarkdownV2 message to the user's private chat.
func (g *Gateway) Send(userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = messages.ParseMode
	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", userID, err)
	}
	return nil
}
