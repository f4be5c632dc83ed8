// Package store defines the persistence contract used by the classroom session and ships an
// in-memory implementation. PostgreSQL and SQLite adapters live in subpackages.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule, e.g. a second
	// answer by the same participant to the same poll.
	ErrConflict = errors.New("conflict")
)

// Participants persists the roster.
type Participants interface {
	// SaveParticipant inserts or replaces the participant row for p.Name.
	SaveParticipant(ctx context.Context, p models.Participant) error
	FindActiveParticipants(ctx context.Context) ([]models.Participant, error)
	DeleteParticipant(ctx context.Context, name string) error
	MarkKicked(ctx context.Context, name string) error
	// ClearParticipants drops every row; called at startup since no connection survives a restart.
	ClearParticipants(ctx context.Context) error
}

// Polls persists polls. Options are stored with their poll and keep their order.
type Polls interface {
	CreatePoll(ctx context.Context, p *models.Poll) error
	FindPollByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	// ListRecentPolls returns polls newest first; limit <= 0 means no limit.
	ListRecentPolls(ctx context.Context, limit int) ([]models.Poll, error)
}

// Answers persists poll answers.
type Answers interface {
	// CreateAnswer returns ErrConflict when (PollID, ParticipantName) already has an answer.
	CreateAnswer(ctx context.Context, a *models.Answer) error
	FindAnswersByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Answer, error)
	CountAnswersByPoll(ctx context.Context, pollID uuid.UUID) (int, error)
}

// Messages persists the chat log.
type Messages interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	// ListAllMessages returns messages oldest first.
	ListAllMessages(ctx context.Context) ([]models.Message, error)
}

// Store is the full persistence collaborator.
type Store interface {
	Participants
	Polls
	Answers
	Messages
	Close() error
}
