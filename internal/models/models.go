package models

import "time"

const (
	MinNumber = 1
	MaxNumber = 365
)

// NotificationHours are the reminder hours offered to users.
var NotificationHours = []int{9, 12, 15, 18, 21}

// UserRecord is the savings progress of one telegram user.
type UserRecord struct {
	UserID                int64
	Used                  NumberSet
	TotalAmount           int
	StartDate             time.Time
	LastTopUpDate         *time.Time // nil -> nothing used yet
	NotificationTime      *int       // hour of day, nil -> no reminders
	EnableCongratulations *bool
}

// Clone returns a copy that shares no pointers with r.
func (r *UserRecord) Clone() UserRecord {
	c := *r
	if r.LastTopUpDate != nil {
		t := *r.LastTopUpDate
		c.LastTopUpDate = &t
	}
	if r.NotificationTime != nil {
		h := *r.NotificationTime
		c.NotificationTime = &h
	}
	if r.EnableCongratulations != nil {
		b := *r.EnableCongratulations
		c.EnableCongratulations = &b
	}
	return c
}

// WantsCongratulations reports whether the user opted in to "already done" messages.
func (r *UserRecord) WantsCongratulations() bool {
	return r.EnableCongratulations != nil && *r.EnableCongratulations
}

// UserStats is a derived view over a UserRecord.
type UserStats struct {
	TotalAmount      int
	UsedCount        int
	RemainingNumbers []int // ascending
	DaysFromStart    int
}

// StrategyTotal is what a user saves after using every number once.
func StrategyTotal() int {
	return (MinNumber + MaxNumber) * (MaxNumber - MinNumber + 1) / 2
}

// InRange reports whether n can be used as a top-up amount.
func InRange(n int) bool {
	return n >= MinNumber && n <= MaxNumber
}
