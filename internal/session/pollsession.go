package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/internal/tally"
)

// PollState is the lifecycle state of the current poll.
type PollState string

const (
	Idle   PollState = "idle"
	Open   PollState = "open"
	Closed PollState = "closed"
)

// CloseReason says why a poll stopped taking answers.
type CloseReason string

const (
	ClosedComplete   CloseReason = "complete"
	ClosedTimeout    CloseReason = "timeout"
	ClosedSuperseded CloseReason = "superseded"
)

// OptionInput is one option of a poll being created.
type OptionInput struct {
	Text      string
	IsCorrect bool
}

// PollInput is the teacher's request to ask a question.
type PollInput struct {
	Text      string
	Options   []OptionInput
	TimeLimit int
}

// CreateResult is returned by CreatePoll. Superseded is the previous poll when it was still
// open at the moment it got replaced.
type CreateResult struct {
	Poll       *models.Poll
	Superseded *models.Poll
}

// AnswerStatus is the result kind of SubmitAnswer.
type AnswerStatus int

const (
	Accepted AnswerStatus = iota
	RejectedNoSuchPoll
	RejectedNoSuchParticipant
	RejectedPollClosed
	RejectedAlreadyAnswered
	RejectedNoSuchOption
)

func (s AnswerStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case RejectedNoSuchPoll:
		return "no_such_poll"
	case RejectedNoSuchParticipant:
		return "no_such_participant"
	case RejectedPollClosed:
		return "poll_closed"
	case RejectedAlreadyAnswered:
		return "already_answered"
	case RejectedNoSuchOption:
		return "no_such_option"
	default:
		return "unknown"
	}
}

// AnswerOutcome describes an answer submission. Tally is only set when Accepted.
// Completed is true when this answer was the one that closed the poll.
type AnswerOutcome struct {
	Status    AnswerStatus
	Answer    models.Answer
	Tally     tally.Counts
	Completed bool
}

type pollStore interface {
	store.Polls
	store.Answers
}

// MaxTimeLimit caps a poll's time limit in seconds (24h).
const MaxTimeLimit = 24 * 60 * 60

// PollSession owns the current poll and its answer intake.
type PollSession struct {
	mu          sync.RWMutex
	store       pollStore
	roster      *Roster
	now         func() time.Time
	grace       time.Duration
	enforceGate bool

	current     *models.Poll
	closed      bool
	respondents map[string]struct{}
}

// PollSessionOptions tunes a PollSession.
type PollSessionOptions struct {
	// AnswerGrace extends the deadline for answers still in flight when the time limit hits.
	AnswerGrace time.Duration
	// EnforceCompletionGate makes CreatePoll fail while the current poll is open and not
	// every active participant has answered.
	EnforceCompletionGate bool
	Now                   func() time.Time
}

// NewPollSession creates an idle poll session.
func NewPollSession(st pollStore, roster *Roster, opts PollSessionOptions) *PollSession {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PollSession{
		store:       st,
		roster:      roster,
		now:         now,
		grace:       opts.AnswerGrace,
		enforceGate: opts.EnforceCompletionGate,
		respondents: make(map[string]struct{}),
	}
}

// Restore makes the most recent stored poll current again, e.g. after a restart.
func (s *PollSession) Restore(ctx context.Context) error {
	polls, err := s.store.ListRecentPolls(ctx, 1)
	if err != nil {
		return fmt.Errorf("load latest poll: %w", err)
	}
	if len(polls) == 0 {
		return nil
	}
	answers, err := s.store.FindAnswersByPoll(ctx, polls[0].ID)
	if err != nil {
		return fmt.Errorf("load answers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := polls[0]
	s.current = &p
	s.respondents = make(map[string]struct{}, len(answers))
	for _, a := range answers {
		s.respondents[a.ParticipantName] = struct{}{}
	}
	s.closed = !s.now().Before(p.Deadline().Add(s.grace))
	return nil
}

func validatePoll(in PollInput) (string, []OptionInput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", nil, &ValidationError{Field: "text", Reason: "question text is required"}
	}
	var opts []OptionInput
	for _, o := range in.Options {
		if t := strings.TrimSpace(o.Text); t != "" {
			opts = append(opts, OptionInput{Text: t, IsCorrect: o.IsCorrect})
		}
	}
	if len(opts) < 2 {
		return "", nil, &ValidationError{Field: "options", Reason: "at least 2 non-empty options are required"}
	}
	if in.TimeLimit <= 0 {
		return "", nil, &ValidationError{Field: "timeLimit", Reason: "time limit must be positive"}
	}
	if in.TimeLimit > MaxTimeLimit {
		return "", nil, &ValidationError{Field: "timeLimit", Reason: fmt.Sprintf("time limit must not exceed %d seconds", MaxTimeLimit)}
	}
	return text, opts, nil
}

// CreatePoll validates input, stores the poll and makes it current.
func (s *PollSession) CreatePoll(ctx context.Context, in PollInput) (CreateResult, error) {
	text, opts, err := validatePoll(in)
	if err != nil {
		return CreateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enforceGate && s.stateLocked() == Open && !s.canAskNewLocked() {
		return CreateResult{}, &ValidationError{Field: "poll", Reason: "current poll is still waiting for answers"}
	}

	p := &models.Poll{
		ID:        uuid.New(),
		Text:      text,
		TimeLimit: in.TimeLimit,
		CreatedAt: s.now().UTC(),
	}
	for _, o := range opts {
		p.Options = append(p.Options, models.Option{ID: uuid.New(), Text: o.Text, IsCorrect: o.IsCorrect})
	}
	if err := s.store.CreatePoll(ctx, p); err != nil {
		return CreateResult{}, fmt.Errorf("create poll: %w", err)
	}

	var superseded *models.Poll
	if s.current != nil && s.stateLocked() == Open {
		superseded = clonePoll(s.current)
	}
	s.current = p
	s.closed = false
	s.respondents = make(map[string]struct{})
	return CreateResult{Poll: clonePoll(p), Superseded: superseded}, nil
}

// SubmitAnswer records participantName's answer to pollID. Only the current, open poll accepts
// answers; each participant answers once.
func (s *PollSession) SubmitAnswer(ctx context.Context, participantName string, pollID, optionID uuid.UUID) (AnswerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != pollID {
		if _, err := s.store.FindPollByID(ctx, pollID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return AnswerOutcome{Status: RejectedNoSuchPoll}, nil
			}
			return AnswerOutcome{}, fmt.Errorf("find poll: %w", err)
		}
		return AnswerOutcome{Status: RejectedPollClosed}, nil
	}

	participant, ok := s.roster.Participant(participantName)
	if !ok {
		return AnswerOutcome{Status: RejectedNoSuchParticipant}, nil
	}
	if s.stateLocked() == Closed {
		return AnswerOutcome{Status: RejectedPollClosed}, nil
	}
	if _, done := s.respondents[participant.Name]; done {
		return AnswerOutcome{Status: RejectedAlreadyAnswered}, nil
	}
	// Unknown options are refused rather than stored as incorrect, so the tally of a poll
	// always sums to its stored answer count.
	option, ok := s.current.Option(optionID)
	if !ok {
		return AnswerOutcome{Status: RejectedNoSuchOption}, nil
	}

	a := models.Answer{
		ID:              uuid.New(),
		PollID:          pollID,
		ParticipantID:   participant.ID,
		ParticipantName: participant.Name,
		OptionID:        option.ID,
		IsCorrect:       option.IsCorrect,
		SubmittedAt:     s.now().UTC(),
	}
	if err := s.store.CreateAnswer(ctx, &a); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.respondents[participant.Name] = struct{}{}
			return AnswerOutcome{Status: RejectedAlreadyAnswered}, nil
		}
		return AnswerOutcome{}, fmt.Errorf("create answer: %w", err)
	}
	s.respondents[participant.Name] = struct{}{}

	counts, err := s.tallyLocked(ctx, s.current)
	if err != nil {
		return AnswerOutcome{}, err
	}
	out := AnswerOutcome{Status: Accepted, Answer: a, Tally: counts}
	if s.canAskNewLocked() {
		s.closed = true
		out.Completed = true
	}
	return out, nil
}

// CanAskNew is true when there is no current poll or every active participant has answered it.
// It is informational unless the completion gate is enforced.
func (s *PollSession) CanAskNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canAskNewLocked()
}

func (s *PollSession) canAskNewLocked() bool {
	if s.current == nil {
		return true
	}
	return len(s.respondents) >= s.roster.ActiveCount()
}

// Expire closes pollID once its time limit and the answer grace have elapsed. It reports
// whether the poll transitioned to closed by this call.
func (s *PollSession) Expire(pollID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ID != pollID || s.closed {
		return false
	}
	if s.now().Before(s.current.Deadline().Add(s.grace)) {
		return false
	}
	s.closed = true
	return true
}

// Current returns a copy of the current poll (nil when idle) and its state.
func (s *PollSession) Current() (*models.Poll, PollState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, Idle
	}
	return clonePoll(s.current), s.stateLocked()
}

// RespondentCount is the number of distinct participants who answered the current poll.
func (s *PollSession) RespondentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.respondents)
}

func (s *PollSession) stateLocked() PollState {
	switch {
	case s.current == nil:
		return Idle
	case s.closed:
		return Closed
	case !s.now().Before(s.current.Deadline().Add(s.grace)):
		return Closed
	default:
		return Open
	}
}

// Tally counts the answers of any stored poll. Every option is present.
func (s *PollSession) Tally(ctx context.Context, pollID uuid.UUID) (tally.Counts, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	var p *models.Poll
	if cur != nil && cur.ID == pollID {
		p = cur
	} else {
		var err error
		if p, err = s.store.FindPollByID(ctx, pollID); err != nil {
			return nil, fmt.Errorf("find poll: %w", err)
		}
	}
	return s.tallyLocked(ctx, p)
}

func (s *PollSession) tallyLocked(ctx context.Context, p *models.Poll) (tally.Counts, error) {
	answers, err := s.store.FindAnswersByPoll(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	return tally.Compute(p, answers), nil
}

func clonePoll(p *models.Poll) *models.Poll {
	cp := *p
	cp.Options = append([]models.Option(nil), p.Options...)
	return &cp
}
