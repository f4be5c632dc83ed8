package models

import (
	"time"

	"github.com/google/uuid"
)

// Option is one answer choice of a poll.
type Option struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"isCorrect"`
}

// Poll is a multiple-choice question asked to the classroom. Options keep their creation order.
type Poll struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	Options   []Option  `json:"options"`
	TimeLimit int       `json:"timeLimit"` // seconds
	CreatedAt time.Time `json:"createdAt"`
}

// Option returns the option with the given id.
func (p *Poll) Option(id uuid.UUID) (Option, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Deadline is the instant the poll's time limit elapses.
func (p *Poll) Deadline() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TimeLimit) * time.Second)
}

// Answer is a participant's single selection for a poll.
type Answer struct {
	ID              uuid.UUID `json:"id"`
	PollID          uuid.UUID `json:"pollId"`
	ParticipantID   uuid.UUID `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	OptionID        uuid.UUID `json:"optionId"`
	IsCorrect       bool      `json:"isCorrect"`
	SubmittedAt     time.Time `json:"submittedAt"`
}
