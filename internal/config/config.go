package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// secretPath is where docker compose mounts the bot token.
var secretPath = "/run/secrets/telegram_bot_token"

// Config holds application configuration loaded from the environment.
type Config struct {
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	DataDir       string `envconfig:"DATA_DIR" default:"./data"`
	SnapshotFile  string `envconfig:"SNAPSHOT_FILE" default:"users.json"`
	SessionDB     string `envconfig:"SESSION_DB" default:"sessions.db"`
	AdminID       *int64 `envconfig:"ADMIN_ID"`

	Timezone      string        `envconfig:"BOT_TIMEZONE" default:"Local"`
	NotifyHours   []int         `envconfig:"NOTIFY_HOURS" default:"9,12,15,18,21"`
	TickInterval  time.Duration `envconfig:"TICK_INTERVAL" default:"1m"`
	NotifyWindow  time.Duration `envconfig:"NOTIFY_WINDOW" default:"5m"`
	LockFreshness time.Duration `envconfig:"LOCK_FRESHNESS" default:"10m"`
	LogRetention  time.Duration `envconfig:"LOG_RETENTION" default:"168h"`
	BackupAt      string        `envconfig:"BACKUP_AT" default:"03:00"` // HH:MM, empty disables

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // /metrics and /healthz, empty disables

	Location     *time.Location `ignored:"true"`
	BackupHour   uint           `ignored:"true"`
	BackupMinute uint           `ignored:"true"`
}

// Load reads .env (if any), then the environment, then the docker secret.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	cfg.TelegramToken = botToken(cfg.TelegramToken)
	if cfg.TelegramToken == "" {
		return cfg, errors.New("bot token not found: neither docker secret nor TELEGRAM_BOT_TOKEN is set")
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func botToken(fromEnv string) string {
	if data, err := os.ReadFile(secretPath); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}
	return strings.TrimSpace(fromEnv)
}

func (c *Config) validate() error {
	if len(c.NotifyHours) == 0 {
		return errors.New("NOTIFY_HOURS is empty")
	}
	for _, h := range c.NotifyHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("NOTIFY_HOURS: hour %d out of 0..23", h)
		}
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.NotifyWindow <= 0 || c.NotifyWindow > time.Hour {
		return fmt.Errorf("NOTIFY_WINDOW must be in (0, 1h], got %s", c.NotifyWindow)
	}
	// every tick refreshes the heartbeat, so a live lock must outlast a tick
	if c.LockFreshness <= c.TickInterval {
		return fmt.Errorf("LOCK_FRESHNESS (%s) must exceed TICK_INTERVAL (%s)", c.LockFreshness, c.TickInterval)
	}

	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("BOT_TIMEZONE: %w", err)
	}
	c.Location = loc

	if c.BackupAt != "" {
		t, err := time.Parse("15:04", c.BackupAt)
		if err != nil {
			return fmt.Errorf("BACKUP_AT: want HH:MM, got %q", c.BackupAt)
		}
		c.BackupHour, c.BackupMinute = uint(t.Hour()), uint(t.Minute())
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func (c Config) SnapshotPath() string { return filepath.Join(c.DataDir, c.SnapshotFile) }

func (c Config) SessionPath() string { return filepath.Join(c.DataDir, c.SessionDB) }

// BackupEnabled reports whether the daily snapshot backup job should run.
func (c Config) BackupEnabled() bool { return c.BackupAt != "" }
