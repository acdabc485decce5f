package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-savings-365/internal/messages"
	"telegram-savings-365/internal/metrics"
	"telegram-savings-365/internal/models"
)

var (
	ErrNotRunning = errors.New("scheduler is not running")
	ErrBadHour    = errors.New("hour is not a notification hour")
)

// Ledger is the part of the user ledger the scheduler reads.
type Ledger interface {
	UsersForNotification(hour int) []models.UserRecord
	HasTopUpToday(id int64) bool
	Stats(id int64) (models.UserStats, bool)
}

// Sender delivers a MarkdownV2 text to a user.
type Sender interface {
	Send(userID int64, text string) error
}

type Config struct {
	Hours         []int
	TickInterval  time.Duration
	Window        time.Duration // leading part of the hour in which a tick may fire
	LockPath      string
	LogPath       string
	LockFreshness time.Duration
	Retention     time.Duration
	SuggestCount  int
	Location      *time.Location
}

func DefaultConfig(dir string) Config {
	return Config{
		Hours:         models.NotificationHours,
		TickInterval:  time.Minute,
		Window:        5 * time.Minute,
		LockPath:      filepath.Join(dir, "scheduler.lock"),
		LogPath:       filepath.Join(dir, "notifications.json"),
		LockFreshness: 10 * time.Minute,
		Retention:     7 * 24 * time.Hour,
		SuggestCount:  5,
		Location:      time.Local,
	}
}

// Scheduler sends the hourly reminders. At most one Scheduler runs across
// processes sharing LockPath.
type Scheduler struct {
	cfg    Config
	ledger Ledger
	sender Sender
	log    *zap.Logger
	clock  clockwork.Clock
	exit   func(code int)

	lock *FileLock

	lifecycle sync.Mutex // serializes Start and Stop

	mu      sync.Mutex // guards sent, cron, running
	sent    *SentLog
	cron    gocron.Scheduler
	running bool
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithExit replaces os.Exit on the fatal path.
func WithExit(fn func(int)) Option { return func(s *Scheduler) { s.exit = fn } }

func New(cfg Config, l Ledger, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		ledger: l,
		sender: sender,
		log:    zap.NewNop(),
		clock:  clockwork.NewRealClock(),
		exit:   os.Exit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.Local
	}
	s.lock = NewFileLock(cfg.LockPath, cfg.LockFreshness, s.clock)
	return s
}

// Start takes the cross-process lock and starts ticking. It returns false,
// nil when another live process owns the scheduler, and true, nil when this
// one is already running.
func (s *Scheduler) Start() (bool, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.Running() {
		return true, nil
	}

	ok, err := s.acquire()
	if !ok || err != nil {
		return ok, err
	}

	cron, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLocation(s.cfg.Location),
	)
	if err != nil {
		s.releaseAfterFailedStart()
		return false, fmt.Errorf("create gocron scheduler: %w", err)
	}
	_, err = cron.NewJob(
		gocron.DurationJob(s.cfg.TickInterval),
		gocron.NewTask(s.runTick),
		gocron.WithName("notification-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = cron.Shutdown()
		s.releaseAfterFailedStart()
		return false, fmt.Errorf("register tick job: %w", err)
	}

	s.mu.Lock()
	s.cron = cron
	s.mu.Unlock()
	cron.Start()

	s.log.Info("notification scheduler started",
		zap.Ints("hours", s.cfg.Hours),
		zap.Duration("tick", s.cfg.TickInterval),
		zap.String("owner", s.lock.Owner()))
	return true, nil
}

// Retry calls Start every LockFreshness/2 until it wins or ctx is done. A
// crashed owner leaves a fresh lock behind that only goes stale after
// LockFreshness.
func (s *Scheduler) Retry(ctx context.Context) bool {
	t := s.clock.NewTicker(s.retryInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.Chan():
			ok, err := s.Start()
			if err != nil {
				s.log.Warn("scheduler start retry failed", zap.Error(err))
				continue
			}
			if ok {
				s.log.Info("scheduler lock taken over after retry")
				return true
			}
		}
	}
}

func (s *Scheduler) retryInterval() time.Duration {
	if d := s.cfg.LockFreshness / 2; d > 0 {
		return d
	}
	return time.Minute
}

// acquire takes the lock and loads the notification log without starting
// the timer.
func (s *Scheduler) acquire() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return true, nil
	}

	for _, p := range []string{s.cfg.LockPath, s.cfg.LogPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return false, fmt.Errorf("create scheduler dir: %w", err)
		}
	}

	ok, err := s.lock.Acquire()
	if err != nil {
		return false, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if !ok {
		cur, _ := s.lock.Current()
		s.log.Warn("scheduler lock is held by another process",
			zap.Int("pid", cur.PID),
			zap.String("host", cur.Host),
			zap.Time("heartbeat", cur.HeartbeatAt))
		return false, nil
	}

	sent, err := OpenSentLog(s.cfg.LogPath)
	if err != nil {
		s.log.Warn("notification log unreadable, starting empty", zap.Error(err))
	}
	if n := sent.Prune(s.now(), s.cfg.Retention); n > 0 {
		if err := sent.Save(); err != nil {
			s.log.Warn("notification log save failed", zap.Error(err))
		}
	}
	s.sent = sent
	s.running = true
	return true, nil
}

func (s *Scheduler) releaseAfterFailedStart() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if err := s.lock.Release(); err != nil {
		s.log.Error("release scheduler lock", zap.Error(err))
	}
}

// Stop cancels the timer and removes the lock file. Safe to call twice.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cron := s.cron
	s.cron = nil
	s.mu.Unlock()

	var errs []error
	if cron != nil {
		if err := cron.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("gocron shutdown: %w", err))
		}
	}
	if err := s.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("notification scheduler stopped")
	return errors.Join(errs...)
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow broadcasts for hour outside the regular window. The (day, hour)
// marker still applies; fired is false when today's broadcast already ran.
func (s *Scheduler) RunNow(hour int) (fired bool, err error) {
	if !slices.Contains(s.cfg.Hours, hour) {
		return false, ErrBadHour
	}
	if !s.Running() {
		return false, ErrNotRunning
	}
	return s.broadcast(s.now(), hour), nil
}

func (s *Scheduler) now() time.Time { return s.clock.Now().In(s.cfg.Location) }

// runTick is the gocron task. Any error or panic is fatal for the process.
func (s *Scheduler) runTick() {
	if err := s.safeTick(); err != nil {
		s.fail(err)
	}
}

func (s *Scheduler) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()
	return s.tick()
}

// fail stops from a separate goroutine: gocron's Shutdown waits for the
// running task, which is the caller.
func (s *Scheduler) fail(err error) {
	s.log.Error("scheduler tick failed, terminating", zap.Error(err))
	go func() {
		if err := s.Stop(); err != nil {
			s.log.Error("scheduler stop failed", zap.Error(err))
		}
		s.exit(1)
	}()
}

func (s *Scheduler) tick() error {
	if err := s.lock.Heartbeat(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	metrics.Ticks.Inc()

	now := s.now()
	hour := now.Hour()
	if !slices.Contains(s.cfg.Hours, hour) {
		return nil
	}
	if time.Duration(now.Minute())*time.Minute >= s.cfg.Window {
		return nil
	}
	s.broadcast(now, hour)
	return nil
}

// broadcast marks (day, hour) as sent before delivering anything: a crash
// mid-batch loses the rest of the batch rather than sending twice.
func (s *Scheduler) broadcast(now time.Time, hour int) bool {
	s.mu.Lock()
	if s.sent == nil || s.sent.IsSent(now, hour) {
		s.mu.Unlock()
		return false
	}
	if err := s.sent.MarkSent(now, hour); err != nil {
		s.log.Error("notification log save failed, marker kept in memory",
			zap.Int("hour", hour), zap.Error(err))
	}
	s.sent.Prune(now, s.cfg.Retention)
	s.mu.Unlock()
	metrics.Broadcasts.Inc()

	users := s.ledger.UsersForNotification(hour)
	var pending, done []models.UserRecord
	for _, u := range users {
		if s.ledger.HasTopUpToday(u.UserID) {
			done = append(done, u)
		} else {
			pending = append(pending, u)
		}
	}

	s.log.Info("sending reminders",
		zap.Int("hour", hour),
		zap.Int("subscribed", len(users)),
		zap.Int("already_topped_up", len(done)),
		zap.Int("to_remind", len(pending)))

	// Напоминания тем, кто ещё не пополнял сегодня
	for _, u := range pending {
		st, ok := s.ledger.Stats(u.UserID)
		if !ok {
			continue
		}
		suggest := messages.Suggestions(st.RemainingNumbers, s.cfg.SuggestCount)
		more := len(st.RemainingNumbers) > len(suggest)
		s.deliver(u.UserID, metrics.KindReminder, messages.Reminder(st.UsedCount, st.TotalAmount, suggest, more))
	}

	// Поздравления тем, кто уже пополнил и включил их
	var skipped []int64
	for _, u := range done {
		if !u.WantsCongratulations() {
			skipped = append(skipped, u.UserID)
			continue
		}
		st, ok := s.ledger.Stats(u.UserID)
		if !ok {
			continue
		}
		s.deliver(u.UserID, metrics.KindCongratulation, messages.Congratulation(st.UsedCount, st.TotalAmount))
	}
	if len(skipped) > 0 {
		s.log.Debug("skipped users who already topped up", zap.Int64s("user_ids", skipped))
	}
	return true
}

func (s *Scheduler) deliver(userID int64, kind, text string) {
	if err := s.sender.Send(userID, text); err != nil {
		metrics.DeliveryFailures.WithLabelValues(kind).Inc()
		s.log.Warn("delivery failed",
			zap.String("kind", kind),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}
	metrics.Deliveries.WithLabelValues(kind).Inc()
	s.log.Debug("delivered", zap.String("kind", kind), zap.Int64("user_id", userID))
}
