// Package ledger is the in-memory, authoritative record of every user's
// savings progress. All reads and writes go through a single mutex, and every
// mutation rewrites the on-disk snapshot before the lock is released.
package ledger

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-savings-365/internal/models"
)

var (
	// ErrUserNotFound is returned by mutating calls for users that were never initialised.
	ErrUserNotFound = errors.New("user not found")

	// ErrNumberOutOfRange is returned for amounts outside MinNumber..MaxNumber.
	ErrNumberOutOfRange = errors.New("number out of range")

	// ErrNumberUsed is returned when the number was already spent by the user.
	ErrNumberUsed = errors.New("number already used")

	// ErrAlreadyToppedUp is returned by TopUp when the user already topped up today.
	ErrAlreadyToppedUp = errors.New("already topped up today")
)

// Store persists the full user map.
type Store interface {
	Load() map[int64]*models.UserRecord
	Save(users map[int64]*models.UserRecord) error
	Backup() (string, error)
}

type Ledger struct {
	mu    sync.Mutex
	users map[int64]*models.UserRecord

	store Store
	clock clockwork.Clock
	loc   *time.Location
	hours []int
	log   *zap.Logger
}

type Option func(*Ledger)

func WithClock(c clockwork.Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }

// WithHours restricts SetNotificationTime to the given hours.
func WithHours(hours []int) Option { return func(l *Ledger) { l.hours = slices.Clone(hours) } }

func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		users: make(map[int64]*models.UserRecord),
		store: store,
		clock: clockwork.NewRealClock(),
		loc:   time.Local,
		hours: models.NotificationHours,
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open replaces the in-memory state with the stored snapshot.
func (l *Ledger) Open() {
	users := l.store.Load()
	l.mu.Lock()
	l.users = users
	l.mu.Unlock()
	l.log.Info("ledger loaded", zap.Int("users", len(users)))
}

// persist must be called with mu held. Failures are logged only: the
// in-memory state stays authoritative.
func (l *Ledger) persist() {
	if err := l.store.Save(l.users); err != nil {
		l.log.Error("snapshot save failed", zap.Error(err))
	}
}

func (l *Ledger) InitUser(id int64) models.UserRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		u = &models.UserRecord{UserID: id, StartDate: l.clock.Now()}
		l.users[id] = u
		l.persist()
		l.log.Info("user created", zap.Int64("user_id", id))
	}
	return u.Clone()
}

func (l *Ledger) GetUser(id int64) (models.UserRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		return models.UserRecord{}, false
	}
	return u.Clone(), true
}

func (l *Ledger) IsNumberUsed(id int64, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	return ok && u.Used.Has(n)
}

// AddUsedNumber spends n without the once-per-day gate.
func (l *Ledger) AddUsedNumber(id int64, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(id, n, false)
}

// TopUp spends n unless the user already topped up today. The gate and the
// spend happen under one lock.
func (l *Ledger) TopUp(id int64, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(id, n, true)
}

func (l *Ledger) addLocked(id int64, n int, gated bool) error {
	u, ok := l.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if !models.InRange(n) {
		return ErrNumberOutOfRange
	}
	if u.Used.Has(n) {
		return ErrNumberUsed
	}
	now := l.clock.Now()
	if gated && l.sameDay(u.LastTopUpDate, now) {
		return ErrAlreadyToppedUp
	}

	u.Used.Add(n)
	u.TotalAmount += n
	u.LastTopUpDate = &now
	l.persist()
	return nil
}

func (l *Ledger) HasTopUpToday(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	return ok && l.sameDay(u.LastTopUpDate, l.clock.Now())
}

func (l *Ledger) sameDay(t *time.Time, now time.Time) bool {
	if t == nil {
		return false
	}
	y1, m1, d1 := t.In(l.loc).Date()
	y2, m2, d2 := now.In(l.loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (l *Ledger) Stats(id int64) (models.UserStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		return models.UserStats{}, false
	}
	days := int(l.clock.Since(u.StartDate) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	return models.UserStats{
		TotalAmount:      u.TotalAmount,
		UsedCount:        u.Used.Len(),
		RemainingNumbers: u.Used.Remaining(),
		DaysFromStart:    days,
	}, true
}

func (l *Ledger) SetNotificationTime(id int64, hour int) bool {
	if !slices.Contains(l.hours, hour) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		return false
	}
	u.NotificationTime = &hour
	l.persist()
	return true
}

func (l *Ledger) SetCongratulations(id int64, on bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		return false
	}
	u.EnableCongratulations = &on
	l.persist()
	return true
}

// UsersForNotification returns users subscribed to hour, ordered by id.
func (l *Ledger) UsersForNotification(hour int) []models.UserRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res []models.UserRecord
	for _, u := range l.users {
		if u.NotificationTime != nil && *u.NotificationTime == hour {
			res = append(res, u.Clone())
		}
	}
	slices.SortFunc(res, func(a, b models.UserRecord) int { return cmp.Compare(a.UserID, b.UserID) })
	return res
}

// ResetUser starts the challenge over, keeping reminder preferences.
func (l *Ledger) ResetUser(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		return false
	}
	l.users[id] = &models.UserRecord{
		UserID:                id,
		StartDate:             l.clock.Now(),
		NotificationTime:      u.NotificationTime,
		EnableCongratulations: u.EnableCongratulations,
	}
	l.persist()
	l.log.Info("user reset", zap.Int64("user_id", id))
	return true
}

// Backup copies the current snapshot. The lock keeps a concurrent save from
// racing the copy.
func (l *Ledger) Backup() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Backup()
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
