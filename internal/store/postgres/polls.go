package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
)

// CreatePoll inserts the poll and its options in one transaction.
func (s *Store) CreatePoll(ctx context.Context, p *models.Poll) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertPoll = `INSERT INTO polls (id, text, time_limit, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertPoll, p.ID, p.Text, p.TimeLimit, p.CreatedAt); err != nil {
		return mapErr(err)
	}
	const insertOption = `INSERT INTO poll_options (id, poll_id, position, text, is_correct) VALUES ($1, $2, $3, $4, $5)`
	for i, o := range p.Options {
		if _, err := tx.Exec(ctx, insertOption, o.ID, p.ID, i, o.Text, o.IsCorrect); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

// FindPollByID returns a poll with its options in order.
func (s *Store) FindPollByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	var p models.Poll
	err := s.pool.QueryRow(ctx, `SELECT id, text, time_limit, created_at FROM polls WHERE id = $1`, id).
		Scan(&p.ID, &p.Text, &p.TimeLimit, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	polls := []models.Poll{p}
	if err := s.attachOptions(ctx, polls); err != nil {
		return nil, err
	}
	return &polls[0], nil
}

// ListRecentPolls returns polls newest first, at most limit when limit > 0.
func (s *Store) ListRecentPolls(ctx context.Context, limit int) ([]models.Poll, error) {
	query := `SELECT id, text, time_limit, created_at FROM polls ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var polls []models.Poll
	for rows.Next() {
		var p models.Poll
		if err := rows.Scan(&p.ID, &p.Text, &p.TimeLimit, &p.CreatedAt); err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachOptions(ctx, polls); err != nil {
		return nil, err
	}
	return polls, nil
}

func (s *Store) attachOptions(ctx context.Context, polls []models.Poll) error {
	if len(polls) == 0 {
		return nil
	}
	ids := make([]string, len(polls))
	index := make(map[uuid.UUID]int, len(polls))
	for i, p := range polls {
		ids[i] = p.ID.String()
		index[p.ID] = i
	}
	rows, err := s.pool.Query(ctx,
		`SELECT poll_id, id, text, is_correct FROM poll_options
		 WHERE poll_id = ANY($1::uuid[]) ORDER BY poll_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pollID uuid.UUID
		var o models.Option
		if err := rows.Scan(&pollID, &o.ID, &o.Text, &o.IsCorrect); err != nil {
			return err
		}
		if i, ok := index[pollID]; ok {
			polls[i].Options = append(polls[i].Options, o)
		}
	}
	return rows.Err()
}
