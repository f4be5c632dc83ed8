package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
)

// CreateAnswer records an answer. One per participant name per poll; a second one is ErrConflict.
func (s *Store) CreateAnswer(ctx context.Context, a *models.Answer) error {
	const query = `INSERT INTO answers (id, poll_id, participant_id, participant_name, option_id, is_correct, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query, a.ID, a.PollID, a.ParticipantID, a.ParticipantName, a.OptionID, a.IsCorrect, a.SubmittedAt)
	return mapErr(err)
}

// FindAnswersByPoll returns the poll's answers in submission order.
func (s *Store) FindAnswersByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, poll_id, participant_id, participant_name, option_id, is_correct, submitted_at
		 FROM answers WHERE poll_id = $1 ORDER BY submitted_at ASC`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.PollID, &a.ParticipantID, &a.ParticipantName, &a.OptionID, &a.IsCorrect, &a.SubmittedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// CountAnswersByPoll returns how many answers the poll has.
func (s *Store) CountAnswersByPoll(ctx context.Context, pollID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM answers WHERE poll_id = $1`, pollID).Scan(&n)
	return n, mapErr(err)
}
