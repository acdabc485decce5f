package models

// State is the dialog step of a chat.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingNumber  State = "awaiting_number"  // после «Начать копить!»
	StateAwaitingConfirm State = "awaiting_confirm" // ждём «Да!» / «Нет(»
)

// Session is the transient dialog state of one chat.
type Session struct {
	ChatID  int64
	State   State
	Pending int // amount waiting for confirmation, 0 -> none
}
