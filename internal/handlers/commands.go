package handlers

import (
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegram-savings-365/internal/messages"
	"telegram-savings-365/internal/scheduler"
	"telegram-savings-365/internal/utils"
)

func (h *Handler) HandleCommand(msg *tgbotapi.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID

	switch msg.Command() {
	case "start":
		h.HandleStart(chatID, userID)
	case "time":
		h.send(chatID, messages.AskHour(), hoursKeyboard(h.hours))
	case "stats":
		h.handleStats(chatID, userID)
	case "congrats":
		if _, ok := h.ledger.GetUser(userID); !ok {
			h.send(chatID, messages.StartFirst(), nil)
			return
		}
		h.send(chatID, messages.AskCongratulations(), congratsKeyboard())
	case "reset":
		if _, ok := h.ledger.GetUser(userID); !ok {
			h.send(chatID, messages.StartFirst(), nil)
			return
		}
		h.send(chatID, messages.AskReset(), resetKeyboard())
	case "backup":
		h.handleBackup(chatID, userID)
	case "notify":
		h.handleNotify(chatID, userID, msg.CommandArguments())
	default:
		h.send(chatID, messages.Help(), nil)
	}
}

// ---------------- /start --------------------
func (h *Handler) HandleStart(chatID, userID int64) {
	h.ledger.InitUser(userID)
	// back to idle until the start button is pressed
	if err := h.sessions.ClearSession(chatID); err != nil {
		h.log.Error("session clear failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	h.send(chatID, messages.Welcome(), startKeyboard())
}

func (h *Handler) handleStats(chatID, userID int64) {
	st, ok := h.ledger.Stats(userID)
	if !ok {
		h.send(chatID, messages.StartFirst(), nil)
		return
	}
	h.send(chatID, messages.Stats(st), nil)
}

// --- admin ---

func (h *Handler) admin(chatID, userID int64, cmd string) bool {
	ok := utils.IsAdmin(h.adminID, userID)
	h.log.Info("admin command",
		zap.String("command", cmd),
		zap.Int64("user_id", userID),
		zap.Bool("allowed", ok),
		zap.Bool("admin_configured", h.adminID != nil))
	if !ok {
		h.send(chatID, messages.Forbidden(), nil)
	}
	return ok
}

func (h *Handler) handleBackup(chatID, userID int64) {
	if !h.admin(chatID, userID, "backup") {
		return
	}
	path, err := h.ledger.Backup()
	if err != nil {
		h.log.Error("backup failed", zap.Error(err))
		h.send(chatID, messages.InternalError(), nil)
		return
	}
	h.log.Info("backup created", zap.String("path", path))
	h.send(chatID, messages.BackupDone(path), nil)
}

func (h *Handler) handleNotify(chatID, userID int64, args string) {
	if !h.admin(chatID, userID, "notify") {
		return
	}
	if h.sched == nil {
		h.send(chatID, messages.SchedulerDown(), nil)
		return
	}
	hour, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		h.send(chatID, messages.BadHour(h.hours), nil)
		return
	}

	fired, err := h.sched.RunNow(hour)
	switch {
	case errors.Is(err, scheduler.ErrBadHour):
		h.send(chatID, messages.BadHour(h.hours), nil)
	case errors.Is(err, scheduler.ErrNotRunning):
		h.send(chatID, messages.SchedulerDown(), nil)
	case err != nil:
		h.log.Error("manual broadcast failed", zap.Int("hour", hour), zap.Error(err))
		h.send(chatID, messages.InternalError(), nil)
	default:
		h.send(chatID, messages.BroadcastDone(hour, fired), nil)
	}
}
