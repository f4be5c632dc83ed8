// Package history projects stored polls and answers into per-option results.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/internal/tally"
)

// Source is the read side the projector needs.
type Source interface {
	store.Polls
	store.Answers
}

// PollSummary is a poll with its per-option counts and percentages.
type PollSummary struct {
	ID         uuid.UUID            `json:"id"`
	Question   string               `json:"question"`
	Options    []tally.OptionResult `json:"options"`
	Results    tally.Counts         `json:"results"`
	TotalVotes int                  `json:"totalVotes"`
	TimeLimit  int                  `json:"timeLimit"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// Projector builds poll summaries from storage.
type Projector struct {
	src Source
}

// NewProjector creates a projector over src.
func NewProjector(src Source) *Projector {
	return &Projector{src: src}
}

// Summarize projects a single poll from its answers.
func Summarize(p *models.Poll, answers []models.Answer) PollSummary {
	counts := tally.Compute(p, answers)
	return PollSummary{
		ID:         p.ID,
		Question:   p.Text,
		Options:    tally.Results(p, counts),
		Results:    counts,
		TotalVotes: counts.Total(),
		TimeLimit:  p.TimeLimit,
		CreatedAt:  p.CreatedAt,
	}
}

// List returns summaries of the most recent polls, newest first. limit <= 0 returns every poll.
func (p *Projector) List(ctx context.Context, limit int) ([]PollSummary, error) {
	polls, err := p.src.ListRecentPolls(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	out := make([]PollSummary, 0, len(polls))
	for i := range polls {
		answers, err := p.src.FindAnswersByPoll(ctx, polls[i].ID)
		if err != nil {
			return nil, fmt.Errorf("answers for poll %s: %w", polls[i].ID, err)
		}
		out = append(out, Summarize(&polls[i], answers))
	}
	return out, nil
}

// Summary projects one poll. It returns store.ErrNotFound (wrapped) for an unknown id.
func (p *Projector) Summary(ctx context.Context, id uuid.UUID) (PollSummary, error) {
	poll, err := p.src.FindPollByID(ctx, id)
	if err != nil {
		return PollSummary{}, fmt.Errorf("find poll: %w", err)
	}
	answers, err := p.src.FindAnswersByPoll(ctx, id)
	if err != nil {
		return PollSummary{}, fmt.Errorf("answers for poll %s: %w", id, err)
	}
	return Summarize(poll, answers), nil
}
