package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/classroom/internal/history"
	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/session"
)

// Broadcaster delivers events to connections. *Hub satisfies it.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
	SendTo(connID, event string, payload interface{}) bool
	Disconnect(connID string)
}

// HistoryLister lists past polls with their results, newest first.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.PollSummary, error)
}

// ArchiveEnqueuer schedules a closed poll for archiving.
type ArchiveEnqueuer interface {
	EnqueuePollArchive(ctx context.Context, pollID uuid.UUID, reason string) error
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	// HistoryLimit caps poll-history replies; <= 0 means every poll.
	HistoryLimit int
	// RevealCorrect includes isCorrect in poll-started.
	RevealCorrect bool
	// IntentTimeout bounds the storage work of one intent.
	IntentTimeout time.Duration
	// AnswerGrace delays the poll timer past the deadline; keep it equal to the session's grace.
	AnswerGrace time.Duration
	Now         func() time.Time
}

type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Coordinator applies client intents to the classroom state and fans the results out.
// One lock serializes every intent, so all clients observe broadcasts in commit order.
type Coordinator struct {
	mu      sync.Mutex
	state   *session.State
	out     Broadcaster
	history HistoryLister
	archive ArchiveEnqueuer
	cfg     CoordinatorConfig
	logger  *zap.Logger

	schedule  scheduleFunc
	stopTimer func() bool
	closed    bool
}

// NewCoordinator creates a coordinator. An open poll restored in state gets its timer armed.
func NewCoordinator(state *session.State, out Broadcaster, hist HistoryLister, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Coordinator{
		state:    state,
		out:      out,
		history:  hist,
		cfg:      cfg,
		logger:   logger,
		schedule: afterFunc,
	}
	if p, st := state.Polls.Current(); p != nil && st == session.Open {
		c.armTimerLocked(p)
	}
	return c
}

// SetArchiveEnqueuer sets where closed polls are sent for archiving (optional).
func (c *Coordinator) SetArchiveEnqueuer(a ArchiveEnqueuer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archive = a
}

// Close stops the poll timer and ignores further intents.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

// Handle applies one intent from connID.
func (c *Coordinator) Handle(connID string, msg WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IntentTimeout)
	defer cancel()

	switch msg.Event {
	case EventRegisterStudent:
		c.register(ctx, connID, msg)
	case EventRequestParticipants:
		c.out.SendTo(connID, EventParticipantsUpdate, c.state.Roster.CurrentParticipants())
	case EventChatMessage:
		c.chat(ctx, connID, msg)
	case EventGetAllMessages:
		c.allMessages(ctx, connID)
	case EventCreatePoll:
		c.createPoll(ctx, connID, msg)
	case EventSubmitAnswer:
		c.submitAnswer(ctx, connID, msg)
	case EventGetPollHistory:
		c.pollHistory(ctx, connID)
	case EventKickStudent:
		c.kick(ctx, connID, msg)
	case EventTimeout:
		c.timeout(ctx, connID, msg)
	default:
		c.logger.Debug("unknown event", zap.String("conn_id", connID), zap.String("event", msg.Event))
	}
}

// ConnectionClosed removes whatever participant connID held.
func (c *Coordinator) ConnectionClosed(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IntentTimeout)
	defer cancel()

	removed, err := c.state.Roster.RemoveByConnection(ctx, connID)
	if err != nil {
		c.logger.Error("remove participant failed", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	if removed {
		c.broadcastRosterLocked()
	}
}

func (c *Coordinator) decode(connID string, msg WSMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		msg.Data = []byte("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.logger.Debug("invalid payload", zap.String("conn_id", connID), zap.String("event", msg.Event), zap.Error(err))
		c.out.SendTo(connID, EventError, errorEvent{Message: "invalid payload for " + msg.Event})
		return false
	}
	return true
}

// fail reports a storage failure to the sender only; nothing is broadcast for the intent.
func (c *Coordinator) fail(connID, event string, err error) {
	c.logger.Error("intent failed", zap.String("conn_id", connID), zap.String("event", event), zap.Error(err))
	c.out.SendTo(connID, EventError, errorEvent{Message: "internal error"})
}

func (c *Coordinator) register(ctx context.Context, connID string, msg WSMessage) {
	var req registerRequest
	if !c.decode(connID, msg, &req) {
		return
	}
	out, err := c.state.Roster.Register(ctx, req.Name, connID)
	if err != nil {
		c.fail(connID, msg.Event, err)
		return
	}
	if out.Status != session.Admitted {
		c.logger.Info("registration rejected", zap.String("conn_id", connID), zap.String("reason", out.Status.String()))
		c.out.SendTo(connID, EventRegistrationRejected, rejectedEvent{Reason: out.Status.String()})
		return
	}
	if out.ReplacedConn != "" {
		c.out.SendTo(out.ReplacedConn, EventSessionReplaced, nameEvent{Name: out.Participant.Name})
		c.out.Disconnect(out.ReplacedConn)
	}
	c.out.SendTo(connID, EventRegistrationSuccess, nameEvent{Name: out.Participant.Name})
	c.broadcastRosterLocked()
}

func (c *Coordinator) chat(ctx context.Context, connID string, msg WSMessage) {
	var req chatRequest
	if !c.decode(connID, msg, &req) {
		return
	}
	// A registered connection may only speak under its own name; anyone else only as the teacher.
	name, registered := c.state.Roster.NameFor(connID)
	if (registered && name != strings.TrimSpace(req.Sender)) || (!registered && !c.state.Messages.IsTeacher(req.Sender)) {
		c.logger.Debug("chat sender mismatch", zap.String("conn_id", connID), zap.String("sender", req.Sender))
		return
	}
	m, appended, err := c.state.Messages.Append(ctx, req.Sender, req.Text, connID)
	if err != nil {
		c.fail(connID, msg.Event, err)
		return
	}
	if !appended {
		c.logger.Debug("chat message dropped", zap.String("conn_id", connID), zap.String("sender", req.Sender))
		return
	}
	c.out.Broadcast(EventChatMessage, chatView(m))
}

func (c *Coordinator) allMessages(ctx context.Context, connID string) {
	msgs, err := c.state.Messages.All(ctx)
	if err != nil {
		c.fail(connID, EventGetAllMessages, err)
		return
	}
	views := make([]chatEvent, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, chatView(m))
	}
	c.out.SendTo(connID, EventChatMessages, views)
}

func (c *Coordinator) createPoll(ctx context.Context, connID string, msg WSMessage) {
	var req createPollRequest
	if !c.decode(connID, msg, &req) {
		return
	}
	in := session.PollInput{Text: req.Text, TimeLimit: req.TimeLimit}
	for _, o := range req.Options {
		in.Options = append(in.Options, session.OptionInput{Text: o.Text, IsCorrect: o.IsCorrect})
	}

	res, err := c.state.Polls.CreatePoll(ctx, in)
	if err != nil {
		detail := err.Error()
		if !errors.Is(err, session.ErrValidation) {
			c.logger.Error("create poll failed", zap.String("conn_id", connID), zap.Error(err))
			detail = "internal error"
		}
		c.out.SendTo(connID, EventPollError, pollErrorEvent{Message: "Failed to create poll", Error: detail})
		return
	}

	if res.Superseded != nil {
		c.out.Broadcast(EventPollClosed, pollClosedEvent{PollID: res.Superseded.ID, Reason: session.ClosedSuperseded})
		c.archiveLocked(ctx, res.Superseded.ID, session.ClosedSuperseded)
	}
	c.logger.Info("poll started", zap.String("poll_id", res.Poll.ID.String()), zap.Int("time_limit", res.Poll.TimeLimit))
	c.out.Broadcast(EventPollStarted, publicPoll(res.Poll, c.cfg.RevealCorrect))
	c.broadcastStatusLocked()
	c.armTimerLocked(res.Poll)
}

func (c *Coordinator) submitAnswer(ctx context.Context, connID string, msg WSMessage) {
	var req submitAnswerRequest
	if !c.decode(connID, msg, &req) {
		return
	}
	name, ok := c.state.Roster.NameFor(connID)
	if !ok {
		c.logger.Debug("answer from unregistered connection", zap.String("conn_id", connID))
		return
	}
	pollID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return
	}
	optionID, err := uuid.Parse(req.Answer)
	if err != nil {
		optionID = uuid.Nil
	}

	out, err := c.state.Polls.SubmitAnswer(ctx, name, pollID, optionID)
	if err != nil {
		c.fail(connID, msg.Event, err)
		return
	}
	if out.Status != session.Accepted {
		c.logger.Debug("answer rejected",
			zap.String("conn_id", connID), zap.String("poll_id", pollID.String()), zap.String("reason", out.Status.String()))
		return
	}

	c.out.Broadcast(EventPollResults, pollResultsEvent{PollID: pollID, Answers: out.Tally, TotalVotes: out.Tally.Total()})
	if out.Completed {
		c.out.Broadcast(EventPollClosed, pollClosedEvent{PollID: pollID, Reason: session.ClosedComplete})
		c.stopTimerLocked()
		c.archiveLocked(ctx, pollID, session.ClosedComplete)
	}
	c.broadcastStatusLocked()
}

func (c *Coordinator) pollHistory(ctx context.Context, connID string) {
	list, err := c.history.List(ctx, c.cfg.HistoryLimit)
	if err != nil {
		c.fail(connID, EventGetPollHistory, err)
		return
	}
	c.out.SendTo(connID, EventPollHistory, list)
}

func (c *Coordinator) kick(ctx context.Context, connID string, msg WSMessage) {
	var req kickRequest
	if !c.decode(connID, msg, &req) {
		return
	}
	p, found, err := c.state.Roster.Kick(ctx, req.Name)
	if err != nil {
		c.fail(connID, msg.Event, err)
		return
	}
	if !found {
		return
	}
	c.logger.Info("participant kicked", zap.String("name", p.Name), zap.String("conn_id", p.ConnID))
	c.out.SendTo(p.ConnID, EventKicked, nil)
	c.out.Disconnect(p.ConnID)
	c.broadcastRosterLocked()
}

func (c *Coordinator) timeout(ctx context.Context, connID string, msg WSMessage) {
	var req timeoutRequest
	if !c.decode(connID, msg, &req) {
		return
	}
	pollID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return
	}
	c.expireLocked(ctx, pollID)
}

func (c *Coordinator) expireLocked(ctx context.Context, pollID uuid.UUID) {
	if !c.state.Polls.Expire(pollID) {
		return
	}
	c.logger.Info("poll timed out", zap.String("poll_id", pollID.String()))
	c.stopTimerLocked()
	c.out.Broadcast(EventPollClosed, pollClosedEvent{PollID: pollID, Reason: session.ClosedTimeout})
	c.archiveLocked(ctx, pollID, session.ClosedTimeout)
	c.broadcastStatusLocked()
}

func (c *Coordinator) armTimerLocked(p *models.Poll) {
	c.stopTimerLocked()
	d := p.Deadline().Add(c.cfg.AnswerGrace).Sub(c.cfg.Now())
	if d < 0 {
		d = 0
	}
	pollID := p.ID
	c.stopTimer = c.schedule(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IntentTimeout)
		defer cancel()
		c.expireLocked(ctx, pollID)
	})
}

func (c *Coordinator) stopTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Coordinator) archiveLocked(ctx context.Context, pollID uuid.UUID, reason session.CloseReason) {
	if c.archive == nil {
		return
	}
	if err := c.archive.EnqueuePollArchive(ctx, pollID, string(reason)); err != nil {
		c.logger.Warn("enqueue poll archive failed", zap.String("poll_id", pollID.String()), zap.Error(err))
	}
}

func (c *Coordinator) broadcastRosterLocked() {
	c.out.Broadcast(EventParticipantsUpdate, c.state.Roster.CurrentParticipants())
	if p, _ := c.state.Polls.Current(); p != nil {
		c.broadcastStatusLocked()
	}
}

func (c *Coordinator) broadcastStatusLocked() {
	ev := pollStatusEvent{
		CanAskNew:   c.state.Polls.CanAskNew(),
		Respondents: c.state.Polls.RespondentCount(),
		ActiveCount: c.state.Roster.ActiveCount(),
	}
	p, st := c.state.Polls.Current()
	ev.State = st
	if p != nil {
		id := p.ID
		ev.PollID = &id
	}
	c.out.Broadcast(EventPollStatus, ev)
}
