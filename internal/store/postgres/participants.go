package postgres

import (
	"context"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
)

// SaveParticipant upserts the participant keyed by name, re-pointing its connection.
func (s *Store) SaveParticipant(ctx context.Context, p models.Participant) error {
	const query = `INSERT INTO participants (id, name, conn_id, is_kicked, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET id = EXCLUDED.id, conn_id = EXCLUDED.conn_id,
			is_kicked = EXCLUDED.is_kicked, joined_at = EXCLUDED.joined_at`
	_, err := s.pool.Exec(ctx, query, p.ID, p.Name, p.ConnID, p.Kicked, p.JoinedAt)
	return mapErr(err)
}

// FindActiveParticipants returns non-kicked participants in join order.
func (s *Store) FindActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, conn_id, is_kicked, joined_at FROM participants
		 WHERE is_kicked = FALSE ORDER BY joined_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.ConnID, &p.Kicked, &p.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// DeleteParticipant removes the participant row for name, if any.
func (s *Store) DeleteParticipant(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM participants WHERE name = $1`, name)
	return mapErr(err)
}

// MarkKicked flags the participant as kicked.
func (s *Store) MarkKicked(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE participants SET is_kicked = TRUE WHERE name = $1`, name)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClearParticipants empties the participants table.
func (s *Store) ClearParticipants(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM participants`)
	return mapErr(err)
}
