// Package session holds the authoritative classroom state: who is connected, the chat log and
// the current poll. Every component persists through a store.Store.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/livepoll/classroom/internal/store"
)

// Config configures a classroom State.
type Config struct {
	TeacherName           string
	DuplicatePolicy       DuplicatePolicy
	EnforceCompletionGate bool
	AnswerGrace           time.Duration
	Now                   func() time.Time
}

// State bundles the classroom components sharing one store.
type State struct {
	Roster   *Roster
	Messages *MessageLog
	Polls    *PollSession

	store store.Store
}

// NewState builds the classroom on top of st. Participant rows left over from a previous run
// are cleared, and the latest stored poll becomes current again.
func NewState(ctx context.Context, st store.Store, cfg Config, logger *zap.Logger) (*State, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.ClearParticipants(ctx); err != nil {
		return nil, fmt.Errorf("clear participants: %w", err)
	}

	roster := NewRoster(st, cfg.DuplicatePolicy, cfg.Now, logger)
	polls := NewPollSession(st, roster, PollSessionOptions{
		AnswerGrace:           cfg.AnswerGrace,
		EnforceCompletionGate: cfg.EnforceCompletionGate,
		Now:                   cfg.Now,
	})
	if err := polls.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore poll: %w", err)
	}
	if p, state := polls.Current(); p != nil {
		logger.Info("restored current poll", zap.String("poll_id", p.ID.String()), zap.String("state", string(state)))
	}

	return &State{
		Roster:   roster,
		Messages: NewMessageLog(st, roster, cfg.TeacherName, cfg.Now),
		Polls:    polls,
		store:    st,
	}, nil
}

// Store returns the underlying store.
func (s *State) Store() store.Store { return s.store }

// Close releases the store.
func (s *State) Close() error {
	return s.store.Close()
}
