package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"

	"telegram-savings-365/internal/models"
)

func newTestSnapshot(t *testing.T, clock clockwork.Clock) *Snapshot {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "users.json")
	s, err := NewSnapshot(path, zaptest.NewLogger(t), clock)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return s
}

func TestSnapshot_LoadMissingFile(t *testing.T) {
	s := newTestSnapshot(t, nil)
	if got := s.Load(); len(got) != 0 {
		t.Fatalf("Load on missing file = %d users; want 0", len(got))
	}
}

func TestSnapshot_LoadCorruptFile(t *testing.T) {
	s := newTestSnapshot(t, nil)
	if err := os.WriteFile(s.Path(), []byte(`{"42": {"userId": 42, "usedNum`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(); len(got) != 0 {
		t.Fatalf("Load on corrupt file = %d users; want 0", len(got))
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := newTestSnapshot(t, nil)

	start := time.Date(2026, time.January, 2, 3, 4, 5, 678_900_000, time.UTC)
	last := start.Add(36 * time.Hour)
	hour, on := 12, true

	a := &models.UserRecord{UserID: 42, StartDate: start, LastTopUpDate: &last, NotificationTime: &hour, EnableCongratulations: &on}
	a.Used.Add(10)
	a.Used.Add(365)
	a.TotalAmount = 375
	b := &models.UserRecord{UserID: 7, StartDate: start}

	in := map[int64]*models.UserRecord{42: a, 7: b}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out := s.Load()
	if len(out) != 2 {
		t.Fatalf("Load = %d users; want 2", len(out))
	}

	got := out[42]
	if got.UserID != 42 || got.Used != a.Used || got.TotalAmount != 375 {
		t.Fatalf("user 42 = %+v", got)
	}
	if !got.StartDate.Equal(start.Truncate(time.Millisecond)) {
		t.Fatalf("StartDate = %v; want %v", got.StartDate, start.Truncate(time.Millisecond))
	}
	if got.LastTopUpDate == nil || !got.LastTopUpDate.Equal(last.Truncate(time.Millisecond)) {
		t.Fatalf("LastTopUpDate = %v; want %v", got.LastTopUpDate, last)
	}
	if got.NotificationTime == nil || *got.NotificationTime != 12 || !got.WantsCongratulations() {
		t.Fatalf("preferences lost: %+v", got)
	}

	if out[7].LastTopUpDate != nil || out[7].NotificationTime != nil || out[7].Used.Len() != 0 {
		t.Fatalf("user 7 gained fields: %+v", out[7])
	}

	// a second save of the loaded map reproduces the same file
	first, _ := os.ReadFile(s.Path())
	if err := s.Save(out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, _ := os.ReadFile(s.Path())
	if string(first) != string(second) {
		t.Fatalf("save(load()) changed the file:\n%s\n---\n%s", first, second)
	}
}

func TestSnapshot_LoadLegacyLayout(t *testing.T) {
	s := newTestSnapshot(t, nil)
	legacy := `{
  "1001": {
    "userId": 1001,
    "usedNumbers": [5, 1, 3],
    "totalAmount": 100,
    "startDate": "2025-07-01T10:00:00.000Z",
    "lastTopUpDate": "2025-07-03T08:30:00.000Z",
    "notificationTime": 9
  }
}`
	if err := os.WriteFile(s.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	u := s.Load()[1001]
	if u == nil {
		t.Fatal("user 1001 not loaded")
	}
	if u.TotalAmount != 9 {
		t.Fatalf("TotalAmount = %d; want recomputed 9", u.TotalAmount)
	}
	if u.EnableCongratulations != nil {
		t.Fatalf("EnableCongratulations = %v; want nil", *u.EnableCongratulations)
	}
	want := time.Date(2025, time.July, 3, 8, 30, 0, 0, time.UTC)
	if u.LastTopUpDate == nil || !u.LastTopUpDate.Equal(want) {
		t.Fatalf("LastTopUpDate = %v; want %v", u.LastTopUpDate, want)
	}
}

func TestSnapshot_Backup(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.October, 16, 3, 0, 0, 0, time.UTC))
	s := newTestSnapshot(t, clock)

	path, err := s.Backup()
	if err != nil || path != "" {
		t.Fatalf("Backup without snapshot = (%q, %v); want (\"\", nil)", path, err)
	}

	if err := s.Save(map[int64]*models.UserRecord{1: {UserID: 1, StartDate: clock.Now()}}); err != nil {
		t.Fatal(err)
	}
	path, err = s.Backup()
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !strings.HasSuffix(path, "users_backup_2026-10-16T03-00-00-000Z.json") {
		t.Fatalf("backup path = %q", path)
	}
	orig, _ := os.ReadFile(s.Path())
	copied, err := os.ReadFile(path)
	if err != nil || string(orig) != string(copied) {
		t.Fatalf("backup content differs (err=%v)", err)
	}
}
