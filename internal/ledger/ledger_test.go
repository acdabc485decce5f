package ledger

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"

	"telegram-savings-365/internal/models"
)

// ----- Fake store -----

type memStore struct {
	mu      sync.Mutex
	initial map[int64]*models.UserRecord
	saves   int
	last    map[int64]models.UserRecord
	saveErr error
}

func (s *memStore) Load() map[int64]*models.UserRecord {
	if s.initial == nil {
		return map[int64]*models.UserRecord{}
	}
	return s.initial
}

func (s *memStore) Save(users map[int64]*models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = make(map[int64]models.UserRecord, len(users))
	for id, u := range users {
		s.last[id] = u.Clone()
	}
	return s.saveErr
}

func (s *memStore) Backup() (string, error) { return "backup.json", nil }

// 2026-10-16 10:00 in Moscow
var base = time.Date(2026, time.October, 16, 7, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *memStore, *clockwork.FakeClock) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	st := &memStore{}
	clock := clockwork.NewFakeClockAt(base)
	l := New(st, WithClock(clock), WithLocation(loc), WithLogger(zaptest.NewLogger(t)))
	l.Open()
	return l, st, clock
}

func TestInitUser_Idempotent(t *testing.T) {
	l, st, clock := newTestLedger(t)

	u := l.InitUser(42)
	if u.UserID != 42 || u.TotalAmount != 0 || u.Used.Len() != 0 || !u.StartDate.Equal(clock.Now()) {
		t.Fatalf("InitUser = %+v", u)
	}
	if st.saves != 1 {
		t.Fatalf("saves after create = %d; want 1", st.saves)
	}

	clock.Advance(time.Hour)
	again := l.InitUser(42)
	if !again.StartDate.Equal(u.StartDate) {
		t.Fatalf("re-init changed StartDate")
	}
	if st.saves != 1 {
		t.Fatalf("re-init persisted again (saves=%d)", st.saves)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	l, _, _ := newTestLedger(t)
	if _, ok := l.GetUser(1); ok {
		t.Fatal("GetUser(unknown) ok = true")
	}
	if l.IsNumberUsed(1, 5) {
		t.Fatal("IsNumberUsed(unknown) = true")
	}
	if _, ok := l.Stats(1); ok {
		t.Fatal("Stats(unknown) ok = true")
	}
}

func TestAddUsedNumber_NoReuse(t *testing.T) {
	l, _, clock := newTestLedger(t)
	l.InitUser(1)

	for n := models.MinNumber; n <= models.MaxNumber; n++ {
		if err := l.AddUsedNumber(1, n); err != nil {
			t.Fatalf("AddUsedNumber(%d): %v", n, err)
		}
		if err := l.AddUsedNumber(1, n); !errors.Is(err, ErrNumberUsed) {
			t.Fatalf("second AddUsedNumber(%d) = %v; want ErrNumberUsed", n, err)
		}
		if !l.IsNumberUsed(1, n) {
			t.Fatalf("IsNumberUsed(%d) = false", n)
		}
		clock.Advance(time.Minute)
	}

	u, _ := l.GetUser(1)
	if u.TotalAmount != models.StrategyTotal() || u.TotalAmount != u.Used.Sum() {
		t.Fatalf("TotalAmount = %d; want %d", u.TotalAmount, models.StrategyTotal())
	}
	st, _ := l.Stats(1)
	if len(st.RemainingNumbers) != 0 || st.UsedCount != models.MaxNumber {
		t.Fatalf("stats after full year = %+v", st)
	}
}

func TestAddUsedNumber_Failures(t *testing.T) {
	l, st, _ := newTestLedger(t)

	if err := l.AddUsedNumber(9, 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	l.InitUser(9)
	saves := st.saves
	for _, n := range []int{0, -3, 366} {
		if err := l.AddUsedNumber(9, n); !errors.Is(err, ErrNumberOutOfRange) {
			t.Fatalf("AddUsedNumber(%d) = %v; want ErrNumberOutOfRange", n, err)
		}
	}
	if st.saves != saves {
		t.Fatal("failed call persisted")
	}
	if u, _ := l.GetUser(9); u.LastTopUpDate != nil {
		t.Fatal("failed call set LastTopUpDate")
	}
}

func TestScenario_GatedAndUngated(t *testing.T) {
	l, _, clock := newTestLedger(t)
	l.InitUser(42)

	if err := l.TopUp(42, 10); err != nil {
		t.Fatalf("TopUp(10): %v", err)
	}
	if u, _ := l.GetUser(42); u.TotalAmount != 10 {
		t.Fatalf("total = %d; want 10", u.TotalAmount)
	}
	if err := l.AddUsedNumber(42, 10); !errors.Is(err, ErrNumberUsed) {
		t.Fatalf("reuse of 10 = %v; want ErrNumberUsed", err)
	}

	clock.Advance(2 * time.Hour)
	if err := l.TopUp(42, 5); !errors.Is(err, ErrAlreadyToppedUp) {
		t.Fatalf("gated same-day TopUp(5) = %v; want ErrAlreadyToppedUp", err)
	}
	if l.IsNumberUsed(42, 5) {
		t.Fatal("rejected TopUp spent the number")
	}

	if err := l.AddUsedNumber(42, 5); err != nil {
		t.Fatalf("ungated AddUsedNumber(5): %v", err)
	}
	if u, _ := l.GetUser(42); u.TotalAmount != 15 {
		t.Fatalf("total = %d; want 15", u.TotalAmount)
	}
}

func TestHasTopUpToday_CalendarDay(t *testing.T) {
	l, _, clock := newTestLedger(t)
	l.InitUser(1)

	if l.HasTopUpToday(1) {
		t.Fatal("HasTopUpToday before any top-up")
	}
	// 10:00 MSK
	if err := l.TopUp(1, 100); err != nil {
		t.Fatal(err)
	}
	if !l.HasTopUpToday(1) {
		t.Fatal("HasTopUpToday = false right after top-up")
	}

	// 23:59 MSK, same day
	clock.Advance(13*time.Hour + 59*time.Minute)
	if !l.HasTopUpToday(1) {
		t.Fatal("HasTopUpToday = false at 23:59 the same day")
	}

	// 00:01 MSK next day, only 14h after the top-up
	clock.Advance(2 * time.Minute)
	if l.HasTopUpToday(1) {
		t.Fatal("HasTopUpToday = true after midnight")
	}
	if err := l.TopUp(1, 101); err != nil {
		t.Fatalf("TopUp next day: %v", err)
	}
}

func TestStats(t *testing.T) {
	l, _, clock := newTestLedger(t)
	l.InitUser(1)
	for _, n := range []int{365, 1, 200} {
		if err := l.AddUsedNumber(1, n); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(3*24*time.Hour + 23*time.Hour)

	st, ok := l.Stats(1)
	if !ok {
		t.Fatal("Stats not found")
	}
	if st.TotalAmount != 566 || st.UsedCount != 3 || st.DaysFromStart != 3 {
		t.Fatalf("Stats = total %d used %d days %d", st.TotalAmount, st.UsedCount, st.DaysFromStart)
	}
	if len(st.RemainingNumbers) != 362 || st.RemainingNumbers[0] != 2 || st.RemainingNumbers[361] != 364 {
		t.Fatalf("remaining = len %d first %d", len(st.RemainingNumbers), st.RemainingNumbers[0])
	}
	if !slices.IsSorted(st.RemainingNumbers) || slices.Contains(st.RemainingNumbers, 200) {
		t.Fatal("remaining not the ascending complement")
	}
}

func TestSettings(t *testing.T) {
	l, st, _ := newTestLedger(t)

	if l.SetNotificationTime(5, 9) || l.SetCongratulations(5, true) {
		t.Fatal("settings accepted for unknown user")
	}
	l.InitUser(5)
	if l.SetNotificationTime(5, 10) {
		t.Fatal("SetNotificationTime accepted hour outside the offered set")
	}
	if !l.SetNotificationTime(5, 9) || !l.SetCongratulations(5, true) {
		t.Fatal("settings rejected for known user")
	}
	saved := st.last[5]
	if saved.NotificationTime == nil || *saved.NotificationTime != 9 || !saved.WantsCongratulations() {
		t.Fatalf("settings not persisted: %+v", saved)
	}
}

func TestUsersForNotification(t *testing.T) {
	l, _, _ := newTestLedger(t)
	for _, id := range []int64{30, 10, 20, 40} {
		l.InitUser(id)
	}
	l.SetNotificationTime(30, 9)
	l.SetNotificationTime(10, 9)
	l.SetNotificationTime(20, 12)

	got := l.UsersForNotification(9)
	if len(got) != 2 || got[0].UserID != 10 || got[1].UserID != 30 {
		t.Fatalf("UsersForNotification(9) = %+v", got)
	}
	if len(l.UsersForNotification(21)) != 0 {
		t.Fatal("UsersForNotification(21) not empty")
	}
}

func TestResetUser(t *testing.T) {
	l, _, clock := newTestLedger(t)

	if l.ResetUser(3) {
		t.Fatal("ResetUser(unknown) = true")
	}
	l.InitUser(3)
	l.SetNotificationTime(3, 18)
	l.SetCongratulations(3, true)
	_ = l.TopUp(3, 50)

	clock.Advance(time.Hour)
	if !l.ResetUser(3) {
		t.Fatal("ResetUser = false")
	}
	u, _ := l.GetUser(3)
	if u.Used.Len() != 0 || u.TotalAmount != 0 || u.LastTopUpDate != nil || l.HasTopUpToday(3) {
		t.Fatalf("progress survived reset: %+v", u)
	}
	if !u.StartDate.Equal(clock.Now()) {
		t.Fatalf("StartDate = %v; want now", u.StartDate)
	}
	if u.NotificationTime == nil || *u.NotificationTime != 18 || !u.WantsCongratulations() {
		t.Fatalf("preferences lost on reset: %+v", u)
	}
	if err := l.TopUp(3, 50); err != nil {
		t.Fatalf("number not reusable after reset: %v", err)
	}
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	l, st, _ := newTestLedger(t)
	st.saveErr = errors.New("disk full")

	l.InitUser(1)
	if err := l.AddUsedNumber(1, 7); err != nil {
		t.Fatalf("AddUsedNumber with failing store: %v", err)
	}
	if !l.IsNumberUsed(1, 7) {
		t.Fatal("in-memory state lost after failed save")
	}
}

func TestGetUser_ReturnsCopy(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.InitUser(1)
	u, _ := l.GetUser(1)
	u.Used.Add(9)
	u.TotalAmount = 9
	if l.IsNumberUsed(1, 9) {
		t.Fatal("caller mutated ledger state through GetUser")
	}
}

func TestConcurrentTopUp_SingleWinner(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.InitUser(1)

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.AddUsedNumber(1, 77)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrNumberUsed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d callers spent the same number; want 1", ok)
	}
	if u, _ := l.GetUser(1); u.TotalAmount != 77 {
		t.Fatalf("TotalAmount = %d; want 77", u.TotalAmount)
	}
}

func TestOpen_LoadsStore(t *testing.T) {
	rec := &models.UserRecord{UserID: 8, StartDate: base}
	rec.Used.Add(4)
	rec.TotalAmount = 4
	st := &memStore{initial: map[int64]*models.UserRecord{8: rec}}

	l := New(st)
	l.Open()
	if l.Len() != 1 || !l.IsNumberUsed(8, 4) {
		t.Fatal("Open did not load the store")
	}
	if path, err := l.Backup(); err != nil || path != "backup.json" {
		t.Fatalf("Backup = %q, %v", path, err)
	}
}
