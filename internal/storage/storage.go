package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"telegram-savings-365/internal/models"
)

//go:embed schema.sql
var ddl embed.FS

// DB holds dialog sessions. Savings progress lives in the Snapshot, not here.
type DB struct{ *sql.DB }

func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// single writer, keeps sqlite from returning SQLITE_BUSY to ourselves
	db.SetMaxOpenConns(1)
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	b, err := ddl.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}

// ---------- sessions (fsm) --------------------------------------------------

func (d *DB) SetSession(s models.Session) error {
	_, err := d.Exec(`
        INSERT INTO sessions (chat_id, state, pending) VALUES (?,?,?)
        ON CONFLICT(chat_id) DO UPDATE SET state=excluded.state,
            pending=excluded.pending`, s.ChatID, string(s.State), s.Pending)
	return err
}

// GetSession returns an idle session for chats never seen before.
func (d *DB) GetSession(chatID int64) (models.Session, error) {
	s := models.Session{ChatID: chatID, State: models.StateIdle}
	var st string
	err := d.QueryRow(`SELECT state, pending FROM sessions WHERE chat_id=?`, chatID).Scan(&st, &s.Pending)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	s.State = models.State(st)
	return s, nil
}

func (d *DB) ClearSession(chatID int64) error {
	_, err := d.Exec(`DELETE FROM sessions WHERE chat_id = ?`, chatID)
	return err
}
