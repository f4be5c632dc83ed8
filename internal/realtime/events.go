package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/session"
	"github.com/livepoll/classroom/internal/tally"
)

// Inbound events.
const (
	EventRegisterStudent     = "register-student"
	EventRequestParticipants = "request-participants"
	EventChatMessage         = "chat:message"
	EventGetAllMessages      = "get-all-messages"
	EventCreatePoll          = "create-poll"
	EventSubmitAnswer        = "submit-answer"
	EventGetPollHistory      = "get-poll-history"
	EventKickStudent         = "kick-student"
	EventTimeout             = "timeout"
)

// Outbound events. chat:message is used in both directions.
const (
	EventRegistrationSuccess  = "registration:success"
	EventRegistrationRejected = "registration:rejected"
	EventParticipantsUpdate   = "participants:update"
	EventChatMessages         = "chat:messages"
	EventPollStarted          = "poll-started"
	EventPollError            = "poll-error"
	EventPollResults          = "poll-results"
	EventPollStatus           = "poll-status"
	EventPollClosed           = "poll-closed"
	EventPollHistory          = "poll-history"
	EventKicked               = "kicked"
	EventSessionReplaced      = "session-replaced"
	EventError                = "error"
)

type registerRequest struct {
	Name string `json:"name"`
}

type chatRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type createPollRequest struct {
	Text    string `json:"text"`
	Options []struct {
		Text      string `json:"text"`
		IsCorrect bool   `json:"isCorrect"`
	} `json:"options"`
	TimeLimit int `json:"timeLimit"`
}

type submitAnswerRequest struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type kickRequest struct {
	Name string `json:"name"`
}

type timeoutRequest struct {
	QuestionID string `json:"questionId"`
}

type nameEvent struct {
	Name string `json:"name"`
}

type rejectedEvent struct {
	Reason string `json:"reason"`
}

type errorEvent struct {
	Message string `json:"message"`
}

type pollErrorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type chatEvent struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type optionView struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect *bool     `json:"isCorrect,omitempty"`
}

type pollView struct {
	ID        uuid.UUID    `json:"id"`
	Text      string       `json:"text"`
	Options   []optionView `json:"options"`
	TimeLimit int          `json:"timeLimit"`
	CreatedAt time.Time    `json:"createdAt"`
	Deadline  time.Time    `json:"deadline"`
}

type pollResultsEvent struct {
	PollID     uuid.UUID    `json:"pollId"`
	Answers    tally.Counts `json:"answers"`
	TotalVotes int          `json:"totalVotes"`
}

type pollStatusEvent struct {
	PollID      *uuid.UUID        `json:"pollId,omitempty"`
	CanAskNew   bool              `json:"canAskNew"`
	State       session.PollState `json:"state"`
	Respondents int               `json:"respondents"`
	ActiveCount int               `json:"activeCount"`
}

type pollClosedEvent struct {
	PollID uuid.UUID           `json:"pollId"`
	Reason session.CloseReason `json:"reason"`
}

// publicPoll is the only place a poll is serialized for clients; isCorrect is included only
// when reveal is set.
func publicPoll(p *models.Poll, reveal bool) pollView {
	v := pollView{
		ID:        p.ID,
		Text:      p.Text,
		Options:   make([]optionView, 0, len(p.Options)),
		TimeLimit: p.TimeLimit,
		CreatedAt: p.CreatedAt,
		Deadline:  p.Deadline(),
	}
	for _, o := range p.Options {
		ov := optionView{ID: o.ID, Text: o.Text}
		if reveal {
			correct := o.IsCorrect
			ov.IsCorrect = &correct
		}
		v.Options = append(v.Options, ov)
	}
	return v
}

func chatView(m models.Message) chatEvent {
	return chatEvent{Sender: m.Sender, Text: m.Text, CreatedAt: m.CreatedAt}
}
