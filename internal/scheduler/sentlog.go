package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"telegram-savings-365/internal/storage"
)

const dayLayout = "2006-01-02"

// SentLog remembers which (day, hour) broadcasts already went out, on disk,
// so a restart within the hour does not fire again.
type SentLog struct {
	path string
	sent map[string]bool
}

func sentKey(day time.Time, hour int) string {
	return day.Format(dayLayout) + ":" + strconv.Itoa(hour)
}

// OpenSentLog always returns a usable log. A non-nil error means the file
// existed but could not be read and the log starts empty.
func OpenSentLog(path string) (*SentLog, error) {
	l := &SentLog{path: path, sent: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("read notification log: %w", err)
	}
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return l, fmt.Errorf("decode notification log: %w", err)
	}
	for k, v := range m {
		if v {
			l.sent[k] = true
		}
	}
	return l, nil
}

func (l *SentLog) IsSent(day time.Time, hour int) bool {
	return l.sent[sentKey(day, hour)]
}

// MarkSent records the marker in memory first; the returned error only
// concerns the file.
func (l *SentLog) MarkSent(day time.Time, hour int) error {
	l.sent[sentKey(day, hour)] = true
	return l.Save()
}

// Prune drops markers for days older than keep before now's day.
func (l *SentLog) Prune(now time.Time, keep time.Duration) int {
	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(-keep)
	removed := 0
	for k := range l.sent {
		dayStr, _, _ := strings.Cut(k, ":")
		day, err := time.ParseInLocation(dayLayout, dayStr, now.Location())
		if err != nil || day.Before(cutoff) {
			delete(l.sent, k)
			removed++
		}
	}
	return removed
}

func (l *SentLog) Len() int { return len(l.sent) }

func (l *SentLog) Save() error {
	data, err := json.MarshalIndent(l.sent, "", "  ")
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(l.path, data); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}
