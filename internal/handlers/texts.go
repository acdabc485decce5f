package handlers

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-savings-365/internal/messages"
	"telegram-savings-365/internal/models"
)

// HandleText takes a top-up amount and asks to confirm it. Numbers are
// accepted only after «Начать копить!», and the ledger is written only
// after «Да!».
func (h *Handler) HandleText(msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID

	if _, ok := h.ledger.GetUser(userID); !ok {
		h.send(chatID, messages.StartFirst(), nil)
		return
	}
	if !acceptsNumbers(h.session(chatID).State) {
		h.send(chatID, messages.StartFirst(), nil)
		return
	}

	n, ok := parseAmount(msg.Text)
	if !ok || !models.InRange(n) {
		h.send(chatID, messages.NotANumber(), nil)
		return
	}
	if h.ledger.IsNumberUsed(userID, n) {
		st, _ := h.ledger.Stats(userID)
		h.send(chatID, messages.NumberUsed(n, messages.Nearest(st.RemainingNumbers, n, suggestions)), nil)
		return
	}
	if h.ledger.HasTopUpToday(userID) {
		st, _ := h.ledger.Stats(userID)
		h.send(chatID, messages.AlreadyToppedUp(st.TotalAmount), nil)
		return
	}

	h.setSession(chatID, models.StateAwaitingConfirm, n)
	h.send(chatID, messages.ConfirmTopUp(n), confirmKeyboard())
}

// acceptsNumbers reports whether the chat has pressed the start button. A
// new amount typed while a confirmation is pending replaces it.
func acceptsNumbers(st models.State) bool {
	return st == models.StateAwaitingNumber || st == models.StateAwaitingConfirm
}

// parseAmount accepts a bare integer, optionally with spaces around it.
func parseAmount(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, false
	}
	return n, true
}
