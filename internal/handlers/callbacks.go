package handlers

import (
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-savings-365/internal/ledger"
	"telegram-savings-365/internal/messages"
	"telegram-savings-365/internal/metrics"
	"telegram-savings-365/internal/models"
)

func (h *Handler) HandleCallback(cq *tgbotapi.CallbackQuery) {
	// always answer callback to remove 'loading...'
	if _, err := h.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		h.log.Debug("answer callback failed", zap.Error(err))
	}
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID, userID := cq.Message.Chat.ID, cq.From.ID
	data := cq.Data

	switch {
	case data == cbStart:
		h.handleBegin(chatID, userID)
	case data == cbYes:
		h.handleConfirm(chatID, userID)
	case data == cbNo:
		h.setSession(chatID, models.StateAwaitingNumber, 0)
		h.send(chatID, messages.NotANumber(), nil)
	case strings.HasPrefix(data, cbTimePrefix):
		h.handleHour(chatID, userID, strings.TrimPrefix(data, cbTimePrefix))
	case data == cbCongratsOn, data == cbCongratsOff:
		on := data == cbCongratsOn
		if !h.ledger.SetCongratulations(userID, on) {
			h.send(chatID, messages.StartFirst(), nil)
			return
		}
		h.send(chatID, messages.CongratulationsSet(on), nil)
	case data == cbResetYes:
		if !h.ledger.ResetUser(userID) {
			h.send(chatID, messages.StartFirst(), nil)
			return
		}
		h.setSession(chatID, models.StateAwaitingNumber, 0)
		h.send(chatID, messages.ResetDone(), nil)
	case data == cbResetNo:
		h.send(chatID, messages.Cancelled(), nil)
	default:
		h.log.Debug("unknown callback", zap.String("data", data))
	}
}

// handleBegin is the «Начать копить!» button.
func (h *Handler) handleBegin(chatID, userID int64) {
	h.ledger.InitUser(userID)
	h.setSession(chatID, models.StateAwaitingNumber, 0)
	h.send(chatID, messages.Strategy(h.clock.Now()), nil)
}

func (h *Handler) handleConfirm(chatID, userID int64) {
	s := h.session(chatID)
	if s.State != models.StateAwaitingConfirm {
		h.send(chatID, messages.AskNumber(), nil)
		return
	}
	n := s.Pending

	err := h.ledger.TopUp(userID, n)
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		h.send(chatID, messages.StartFirst(), nil)
		return
	case errors.Is(err, ledger.ErrNumberOutOfRange):
		h.setSession(chatID, models.StateAwaitingNumber, 0)
		h.send(chatID, messages.NotANumber(), nil)
		return
	case errors.Is(err, ledger.ErrNumberUsed):
		h.setSession(chatID, models.StateAwaitingNumber, 0)
		st, _ := h.ledger.Stats(userID)
		h.send(chatID, messages.NumberUsed(n, messages.Nearest(st.RemainingNumbers, n, suggestions)), nil)
		return
	case errors.Is(err, ledger.ErrAlreadyToppedUp):
		h.setSession(chatID, models.StateAwaitingNumber, 0)
		st, _ := h.ledger.Stats(userID)
		h.send(chatID, messages.AlreadyToppedUp(st.TotalAmount), nil)
		return
	case err != nil:
		h.log.Error("top-up failed", zap.Int64("user_id", userID), zap.Int("amount", n), zap.Error(err))
		h.send(chatID, messages.InternalError(), nil)
		return
	}

	metrics.TopUps.Inc()
	// stays open for tomorrow's number
	h.setSession(chatID, models.StateAwaitingNumber, 0)
	st, _ := h.ledger.Stats(userID)
	h.log.Info("top-up recorded",
		zap.Int64("user_id", userID),
		zap.Int("amount", n),
		zap.Int("total", st.TotalAmount))
	h.send(chatID, messages.ToppedUp(n, st.UsedCount, st.TotalAmount), nil)
}

func (h *Handler) handleHour(chatID, userID int64, raw string) {
	hour, err := strconv.Atoi(raw)
	if err != nil {
		h.send(chatID, messages.BadHour(h.hours), nil)
		return
	}
	if _, ok := h.ledger.GetUser(userID); !ok {
		h.send(chatID, messages.StartFirst(), nil)
		return
	}
	if !h.ledger.SetNotificationTime(userID, hour) {
		h.send(chatID, messages.BadHour(h.hours), nil)
		return
	}
	h.send(chatID, messages.HourSet(hour), nil)
}
