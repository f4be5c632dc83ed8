// Package sqlite implements store.Store on a single SQLite file. It suits a one-node classroom
// that wants answers and chat to survive restarts without running PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS participants (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL UNIQUE,
    conn_id   TEXT NOT NULL,
    is_kicked INTEGER NOT NULL DEFAULT 0,
    joined_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS polls (
    id         TEXT PRIMARY KEY,
    text       TEXT NOT NULL,
    time_limit INTEGER NOT NULL CHECK (time_limit > 0),
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_polls_created_at ON polls (created_at DESC);

CREATE TABLE IF NOT EXISTS poll_options (
    id         TEXT PRIMARY KEY,
    poll_id    TEXT NOT NULL REFERENCES polls (id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    text       TEXT NOT NULL,
    is_correct INTEGER NOT NULL DEFAULT 0,
    UNIQUE (poll_id, position)
);

CREATE TABLE IF NOT EXISTS answers (
    id               TEXT PRIMARY KEY,
    poll_id          TEXT NOT NULL REFERENCES polls (id) ON DELETE CASCADE,
    participant_id   TEXT NOT NULL,
    participant_name TEXT NOT NULL,
    option_id        TEXT NOT NULL,
    is_correct       INTEGER NOT NULL DEFAULT 0,
    submitted_at     INTEGER NOT NULL,
    UNIQUE (poll_id, participant_name)
);

CREATE INDEX IF NOT EXISTS idx_answers_poll_id ON answers (poll_id);

CREATE TABLE IF NOT EXISTS messages (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    sender     TEXT NOT NULL,
    text       TEXT NOT NULL,
    conn_id    TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Store provides SQLite-backed classroom persistence.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return store.ErrConflict
		}
	}
	return err
}

func (s *Store) SaveParticipant(ctx context.Context, p models.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (id, name, conn_id, is_kicked, joined_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET id = excluded.id, conn_id = excluded.conn_id,
			is_kicked = excluded.is_kicked, joined_at = excluded.joined_at`,
		p.ID.String(), p.Name, p.ConnID, p.Kicked, toMillis(p.JoinedAt))
	return mapErr(err)
}

func (s *Store) FindActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, conn_id, is_kicked, joined_at FROM participants WHERE is_kicked = 0 ORDER BY joined_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var (
			p        models.Participant
			joinedAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.ConnID, &p.Kicked, &joinedAt); err != nil {
			return nil, err
		}
		p.JoinedAt = fromMillis(joinedAt)
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *Store) DeleteParticipant(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE name = ?`, name)
	return mapErr(err)
}

func (s *Store) MarkKicked(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE participants SET is_kicked = 1 WHERE name = ?`, name)
	if err != nil {
		return mapErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClearParticipants(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM participants`)
	return mapErr(err)
}

func (s *Store) CreatePoll(ctx context.Context, p *models.Poll) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO polls (id, text, time_limit, created_at) VALUES (?, ?, ?, ?)`,
		p.ID.String(), p.Text, p.TimeLimit, toMillis(p.CreatedAt)); err != nil {
		return mapErr(err)
	}
	for i, o := range p.Options {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO poll_options (id, poll_id, position, text, is_correct) VALUES (?, ?, ?, ?, ?)`,
			o.ID.String(), p.ID.String(), i, o.Text, o.IsCorrect); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func (s *Store) FindPollByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	var (
		p         models.Poll
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, text, time_limit, created_at FROM polls WHERE id = ?`, id.String()).
		Scan(&p.ID, &p.Text, &p.TimeLimit, &createdAt)
	if err != nil {
		return nil, mapErr(err)
	}
	p.CreatedAt = fromMillis(createdAt)
	if p.Options, err = s.loadOptions(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListRecentPolls(ctx context.Context, limit int) ([]models.Poll, error) {
	query := `SELECT id, text, time_limit, created_at FROM polls ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var polls []models.Poll
	for rows.Next() {
		var (
			p         models.Poll
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Text, &p.TimeLimit, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		p.CreatedAt = fromMillis(createdAt)
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before issuing option queries.
	rows.Close()

	for i := range polls {
		if polls[i].Options, err = s.loadOptions(ctx, polls[i].ID); err != nil {
			return nil, err
		}
	}
	return polls, nil
}

func (s *Store) loadOptions(ctx context.Context, pollID uuid.UUID) ([]models.Option, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, is_correct FROM poll_options WHERE poll_id = ? ORDER BY position`, pollID.String())
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()
	var opts []models.Option
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.Text, &o.IsCorrect); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func (s *Store) CreateAnswer(ctx context.Context, a *models.Answer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (id, poll_id, participant_id, participant_name, option_id, is_correct, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.PollID.String(), a.ParticipantID.String(), a.ParticipantName, a.OptionID.String(), a.IsCorrect, toMillis(a.SubmittedAt))
	return mapErr(err)
}

func (s *Store) FindAnswersByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, poll_id, participant_id, participant_name, option_id, is_correct, submitted_at
		 FROM answers WHERE poll_id = ? ORDER BY submitted_at ASC, rowid ASC`, pollID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Answer
	for rows.Next() {
		var (
			a           models.Answer
			submittedAt int64
		)
		if err := rows.Scan(&a.ID, &a.PollID, &a.ParticipantID, &a.ParticipantName, &a.OptionID, &a.IsCorrect, &submittedAt); err != nil {
			return nil, err
		}
		a.SubmittedAt = fromMillis(submittedAt)
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *Store) CountAnswersByPoll(ctx context.Context, pollID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers WHERE poll_id = ?`, pollID.String()).Scan(&n)
	return n, mapErr(err)
}

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, text, conn_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID.String(), m.Sender, m.Text, m.ConnID, toMillis(m.CreatedAt))
	return mapErr(err)
}

func (s *Store) ListAllMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, text, conn_id, created_at FROM messages ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Message
	for rows.Next() {
		var (
			m         models.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.ConnID, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(createdAt)
		list = append(list, m)
	}
	return list, rows.Err()
}
