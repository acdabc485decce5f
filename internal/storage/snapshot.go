package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-savings-365/internal/models"
)

// isoMillis is RFC 3339 with milliseconds, the layout existing snapshots use.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Snapshot keeps the whole user map in a single JSON file.
type Snapshot struct {
	path  string
	log   *zap.Logger
	clock clockwork.Clock
}

type userJSON struct {
	UserID                int64            `json:"userId"`
	UsedNumbers           models.NumberSet `json:"usedNumbers"`
	TotalAmount           int              `json:"totalAmount"`
	StartDate             string           `json:"startDate"`
	LastTopUpDate         *string          `json:"lastTopUpDate,omitempty"`
	NotificationTime      *int             `json:"notificationTime,omitempty"`
	EnableCongratulations *bool            `json:"enableCongratulations,omitempty"`
}

// NewSnapshot creates the parent directory of path if needed.
func NewSnapshot(path string, log *zap.Logger, clock clockwork.Clock) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Snapshot{path: path, log: log, clock: clock}, nil
}

func (s *Snapshot) Path() string { return s.path }

// Load never fails: a missing or broken file yields an empty map.
func (s *Snapshot) Load() map[int64]*models.UserRecord {
	users := make(map[int64]*models.UserRecord)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return users
	}
	if err != nil {
		s.log.Error("read snapshot", zap.String("path", s.path), zap.Error(err))
		return users
	}

	var raw map[string]userJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.Error("decode snapshot", zap.String("path", s.path), zap.Error(err))
		return users
	}

	for key, u := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.log.Warn("skip user with bad key", zap.String("key", key))
			continue
		}
		if u.UserID != 0 && u.UserID != id {
			s.log.Warn("userId differs from key, using key",
				zap.String("key", key), zap.Int64("user_id", u.UserID))
		}
		users[id] = s.decode(id, u)
	}
	return users
}

func (s *Snapshot) decode(id int64, u userJSON) *models.UserRecord {
	rec := &models.UserRecord{
		UserID:                id,
		Used:                  u.UsedNumbers,
		TotalAmount:           u.UsedNumbers.Sum(),
		NotificationTime:      u.NotificationTime,
		EnableCongratulations: u.EnableCongratulations,
	}
	if rec.TotalAmount != u.TotalAmount {
		s.log.Warn("totalAmount does not match usedNumbers, recomputed",
			zap.Int64("user_id", id),
			zap.Int("stored", u.TotalAmount),
			zap.Int("computed", rec.TotalAmount))
	}

	start, err := time.Parse(time.RFC3339Nano, u.StartDate)
	if err != nil {
		s.log.Warn("bad startDate, using now", zap.Int64("user_id", id), zap.String("value", u.StartDate))
		start = s.clock.Now()
	}
	rec.StartDate = start

	if u.LastTopUpDate != nil && rec.Used.Len() > 0 {
		if t, err := time.Parse(time.RFC3339Nano, *u.LastTopUpDate); err == nil {
			rec.LastTopUpDate = &t
		} else {
			s.log.Warn("bad lastTopUpDate, dropped", zap.Int64("user_id", id), zap.String("value", *u.LastTopUpDate))
		}
	}
	return rec
}

// Save rewrites the snapshot with the full map. The file is replaced
// atomically so readers never see a partial write.
func (s *Snapshot) Save(users map[int64]*models.UserRecord) error {
	out := make(map[string]userJSON, len(users))
	for id, u := range users {
		j := userJSON{
			UserID:                id,
			UsedNumbers:           u.Used,
			TotalAmount:           u.TotalAmount,
			StartDate:             u.StartDate.UTC().Format(isoMillis),
			NotificationTime:      u.NotificationTime,
			EnableCongratulations: u.EnableCongratulations,
		}
		if u.LastTopUpDate != nil {
			ts := u.LastTopUpDate.UTC().Format(isoMillis)
			j.LastTopUpDate = &ts
		}
		out[strconv.FormatInt(id, 10)] = j
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return WriteFileAtomic(s.path, data)
}

// Backup copies the snapshot next to itself with a timestamp in the name.
// It returns "" when there is nothing to copy yet.
func (s *Snapshot) Backup() (string, error) {
	src, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()

	ts := strings.NewReplacer(":", "-", ".", "-").Replace(s.clock.Now().UTC().Format(isoMillis))
	ext := filepath.Ext(s.path)
	dst := strings.TrimSuffix(s.path, ext) + "_backup_" + ts + ext

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("copy backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close backup: %w", err)
	}
	s.log.Info("snapshot backup created", zap.String("path", dst))
	return dst, nil
}

// WriteFileAtomic replaces path with data via a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
