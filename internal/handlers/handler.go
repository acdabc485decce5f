package handlers

import (
	"fmt"
	"slices"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-savings-365/internal/messages"
	"telegram-savings-365/internal/models"
)

const (
	btnStart    = "Начать копить!"
	btnYes      = "Да!"
	btnNo       = "Нет("
	btnOn       = "Включить"
	btnOff      = "Выключить"
	btnReset    = "Сбросить"
	btnKeep     = "Отмена"
	suggestions = 5
)

// Callback data.
const (
	cbStart       = "start"
	cbYes         = "yes"
	cbNo          = "no"
	cbTimePrefix  = "time:"
	cbCongratsOn  = "congrats:on"
	cbCongratsOff = "congrats:off"
	cbResetYes    = "reset:yes"
	cbResetNo     = "reset:no"
)

// Bot is the subset of *tgbotapi.BotAPI the handlers use.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Ledger interface {
	InitUser(id int64) models.UserRecord
	GetUser(id int64) (models.UserRecord, bool)
	IsNumberUsed(id int64, n int) bool
	TopUp(id int64, n int) error
	HasTopUpToday(id int64) bool
	Stats(id int64) (models.UserStats, bool)
	SetNotificationTime(id int64, hour int) bool
	SetCongratulations(id int64, on bool) bool
	ResetUser(id int64) bool
	Backup() (string, error)
}

// Sessions keeps the dialog state per chat.
type Sessions interface {
	GetSession(chatID int64) (models.Session, error)
	SetSession(s models.Session) error
	ClearSession(chatID int64) error
}

// Broadcaster runs an hourly broadcast on demand.
type Broadcaster interface {
	RunNow(hour int) (bool, error)
}

type Handler struct {
	bot      Bot
	ledger   Ledger
	sessions Sessions
	sched    Broadcaster
	adminID  *int64
	hours    []int
	clock    clockwork.Clock
	log      *zap.Logger
}

type Option func(*Handler)

// WithAdmin enables /backup and /notify for the given user.
func WithAdmin(id *int64) Option { return func(h *Handler) { h.adminID = id } }

func WithBroadcaster(b Broadcaster) Option { return func(h *Handler) { h.sched = b } }

func WithHours(hours []int) Option { return func(h *Handler) { h.hours = slices.Clone(hours) } }

func WithClock(c clockwork.Clock) Option { return func(h *Handler) { h.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.log = l } }

func NewHandler(bot Bot, l Ledger, sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		bot:      bot,
		ledger:   l,
		sessions: sessions,
		hours:    models.NotificationHours,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleUpdate routes a single update. Updates are handled one at a time.
func (h *Handler) HandleUpdate(upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		h.HandleMessage(upd.Message)
	case upd.CallbackQuery != nil:
		h.HandleCallback(upd.CallbackQuery)
	}
}

func (h *Handler) HandleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		h.HandleCommand(msg)
		return
	}
	h.HandleText(msg)
}

// send renders text as MarkdownV2; markup may be nil.
func (h *Handler) send(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = messages.ParseMode
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.bot.Send(msg); err != nil {
		h.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) session(chatID int64) models.Session {
	s, err := h.sessions.GetSession(chatID)
	if err != nil {
		h.log.Error("session read failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return models.Session{ChatID: chatID, State: models.StateIdle}
	}
	return s
}

func (h *Handler) setSession(chatID int64, st models.State, pending int) {
	err := h.sessions.SetSession(models.Session{ChatID: chatID, State: st, Pending: pending})
	if err != nil {
		h.log.Error("session write failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// --- keyboards ---

func startKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnStart, cbStart),
		),
	)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnYes, cbYes),
			tgbotapi.NewInlineKeyboardButtonData(btnNo, cbNo),
		),
	)
}

func hoursKeyboard(hours []int) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(hours))
	for _, hr := range hours {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d:00", hr), cbTimePrefix+strconv.Itoa(hr)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func congratsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnOn, cbCongratsOn),
			tgbotapi.NewInlineKeyboardButtonData(btnOff, cbCongratsOff),
		),
	)
}

func resetKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnReset, cbResetYes),
			tgbotapi.NewInlineKeyboardButtonData(btnKeep, cbResetNo),
		),
	)
}
