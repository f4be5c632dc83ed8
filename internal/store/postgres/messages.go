package postgres

import (
	"context"

	"github.com/livepoll/classroom/internal/models"
)

// AppendMessage stores a chat message.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, sender, text, conn_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Sender, m.Text, m.ConnID, m.CreatedAt)
	return mapErr(err)
}

// ListAllMessages returns every message oldest first.
func (s *Store) ListAllMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, text, conn_id, created_at FROM messages ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.ConnID, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
