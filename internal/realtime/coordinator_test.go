package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/history"
	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/session"
	"github.com/livepoll/classroom/internal/store"
)

type sent struct {
	to    string // "" for broadcasts
	event string
	data  []byte
}

type recorder struct {
	mu           sync.Mutex
	events       []sent
	disconnected []string
}

func (r *recorder) Broadcast(event string, payload interface{}) {
	r.record("", event, payload)
}

func (r *recorder) SendTo(connID, event string, payload interface{}) bool {
	r.record(connID, event, payload)
	return true
}

func (r *recorder) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, connID)
}

func (r *recorder) record(to, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{to: to, event: event, data: data})
}

// take returns and clears everything recorded so far.
func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func eventNames(events []sent) []string {
	names := make([]string, len(events))
	for i, e := range events {
		if e.to != "" {
			names[i] = e.to + ":" + e.event
		} else {
			names[i] = "*:" + e.event
		}
	}
	return names
}

func find(t *testing.T, events []sent, to, event string, v interface{}) {
	t.Helper()
	for _, e := range events {
		if e.to == to && e.event == event {
			if v != nil {
				if err := json.Unmarshal(e.data, v); err != nil {
					t.Fatalf("decode %s: %v", event, err)
				}
			}
			return
		}
	}
	t.Fatalf("no %q event for %q in %v", event, to, eventNames(events))
}

type fakeArchive struct {
	mu      sync.Mutex
	reasons map[uuid.UUID]string
}

func (f *fakeArchive) EnqueuePollArchive(_ context.Context, pollID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reasons == nil {
		f.reasons = make(map[uuid.UUID]string)
	}
	f.reasons[pollID] = reason
	return nil
}

type manualTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fire    func()
	stopped bool
}

func (m *manualTimer) schedule(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay, m.fire, m.stopped = d, f, false
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped = true
		return true
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	coord   *Coordinator
	out     *recorder
	state   *session.State
	archive *fakeArchive
	timer   *manualTimer
	clock   *clock
}

func newFixture(t *testing.T, cfg session.Config, ccfg CoordinatorConfig) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)}
	cfg.Now = clk.Now
	ccfg.Now = clk.Now
	ccfg.AnswerGrace = cfg.AnswerGrace
	mem := store.NewMemory()
	st, err := session.NewState(context.Background(), mem, cfg, nil)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	out := &recorder{}
	coord := NewCoordinator(st, out, history.NewProjector(mem), ccfg, nil)
	timer := &manualTimer{}
	coord.schedule = timer.schedule
	archive := &fakeArchive{}
	coord.SetArchiveEnqueuer(archive)
	t.Cleanup(coord.Close)
	return &fixture{coord: coord, out: out, state: st, archive: archive, timer: timer, clock: clk}
}

func (f *fixture) send(conn, event string, payload interface{}) {
	var data []byte
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	f.coord.Handle(conn, WSMessage{Event: event, Data: data})
}

func (f *fixture) register(t *testing.T, conn, name string) {
	t.Helper()
	f.send(conn, EventRegisterStudent, map[string]string{"name": name})
	events := f.out.take()
	find(t, events, conn, EventRegistrationSuccess, nil)
}

func (f *fixture) createPoll(t *testing.T, text string, timeLimit int, options ...string) pollView {
	t.Helper()
	opts := make([]map[string]interface{}, len(options))
	for i, o := range options {
		opts[i] = map[string]interface{}{"text": o, "isCorrect": i == 0}
	}
	f.send("teacher", EventCreatePoll, map[string]interface{}{"text": text, "options": opts, "timeLimit": timeLimit})
	var v pollView
	find(t, f.out.take(), "", EventPollStarted, &v)
	return v
}

func TestCoordinatorRegister(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})

	f.send("c1", EventRegisterStudent, map[string]string{"name": "Alice"})
	events := f.out.take()
	want := []string{"c1:" + EventRegistrationSuccess, "*:" + EventParticipantsUpdate}
	if got := eventNames(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	var names []string
	find(t, events, "", EventParticipantsUpdate, &names)
	if !reflect.DeepEqual(names, []string{"Alice"}) {
		t.Errorf("participants = %v", names)
	}

	f.send("c2", EventRegisterStudent, map[string]string{"name": "   "})
	var rej rejectedEvent
	find(t, f.out.take(), "c2", EventRegistrationRejected, &rej)
	if rej.Reason != session.RejectedInvalidName.String() {
		t.Errorf("reason = %q", rej.Reason)
	}

	f.send("c3", EventRequestParticipants, nil)
	find(t, f.out.take(), "c3", EventParticipantsUpdate, &names)
	if !reflect.DeepEqual(names, []string{"Alice"}) {
		t.Errorf("participants = %v", names)
	}
}

func TestCoordinatorRegisterTakeover(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")

	f.send("c2", EventRegisterStudent, map[string]string{"name": "Alice"})
	events := f.out.take()
	find(t, events, "c1", EventSessionReplaced, nil)
	find(t, events, "c2", EventRegistrationSuccess, nil)
	if !reflect.DeepEqual(f.out.disconnected, []string{"c1"}) {
		t.Errorf("disconnected = %v, want [c1]", f.out.disconnected)
	}

	// The replaced connection closing leaves Alice in place and broadcasts nothing.
	f.coord.ConnectionClosed("c1")
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("events after stale close = %v", eventNames(events))
	}
	if !f.state.Roster.IsActive("Alice") {
		t.Error("Alice lost after takeover")
	}
}

func TestCoordinatorRegisterRejectPolicy(t *testing.T) {
	f := newFixture(t, session.Config{DuplicatePolicy: session.PolicyReject}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")

	f.send("c2", EventRegisterStudent, map[string]string{"name": "Alice"})
	events := f.out.take()
	if got := eventNames(events); !reflect.DeepEqual(got, []string{"c2:" + EventRegistrationRejected}) {
		t.Errorf("events = %v", got)
	}
	if len(f.out.disconnected) != 0 {
		t.Errorf("disconnected = %v", f.out.disconnected)
	}
}

func TestCoordinatorChat(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")

	f.send("c1", EventChatMessage, chatRequest{Sender: "Alice", Text: "hi"})
	var msg chatEvent
	find(t, f.out.take(), "", EventChatMessage, &msg)
	if msg.Sender != "Alice" || msg.Text != "hi" {
		t.Errorf("chat = %+v", msg)
	}

	f.send("t", EventChatMessage, chatRequest{Sender: session.DefaultTeacherName, Text: "welcome"})
	find(t, f.out.take(), "", EventChatMessage, nil)

	// Impersonation and unknown senders are dropped.
	f.send("c1", EventChatMessage, chatRequest{Sender: session.DefaultTeacherName, Text: "fake"})
	f.send("x", EventChatMessage, chatRequest{Sender: "Alice", Text: "fake"})
	f.send("x", EventChatMessage, chatRequest{Sender: "Mallory", Text: "hi"})
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("dropped messages produced %v", eventNames(events))
	}

	f.send("c9", EventGetAllMessages, nil)
	var all []chatEvent
	find(t, f.out.take(), "c9", EventChatMessages, &all)
	if len(all) != 2 || all[0].Text != "hi" || all[1].Text != "welcome" {
		t.Errorf("messages = %+v", all)
	}
}

func TestCoordinatorQuizScenario(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{RevealCorrect: true})
	f.register(t, "c1", "Alice")
	f.register(t, "c2", "Bob")

	poll := f.createPoll(t, "2+2?", 30, "4", "3")
	if len(poll.Options) != 2 || poll.Options[0].IsCorrect == nil || !*poll.Options[0].IsCorrect {
		t.Fatalf("poll-started options = %+v", poll.Options)
	}
	four, three := poll.Options[0].ID, poll.Options[1].ID

	f.send("c1", EventSubmitAnswer, submitAnswerRequest{QuestionID: poll.ID.String(), Answer: four.String()})
	events := f.out.take()
	want := []string{"*:" + EventPollResults, "*:" + EventPollStatus}
	if got := eventNames(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	var res pollResultsEvent
	find(t, events, "", EventPollResults, &res)
	if res.Answers[four.String()] != 1 || res.Answers[three.String()] != 0 {
		t.Errorf("after Alice = %v", res.Answers)
	}
	var status pollStatusEvent
	find(t, events, "", EventPollStatus, &status)
	if status.CanAskNew {
		t.Error("canAskNew after one of two answers")
	}

	f.send("c2", EventSubmitAnswer, submitAnswerRequest{QuestionID: poll.ID.String(), Answer: three.String()})
	events = f.out.take()
	want = []string{"*:" + EventPollResults, "*:" + EventPollClosed, "*:" + EventPollStatus}
	if got := eventNames(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	find(t, events, "", EventPollResults, &res)
	if res.Answers[four.String()] != 1 || res.Answers[three.String()] != 1 || res.TotalVotes != 2 {
		t.Errorf("after Bob = %+v", res)
	}
	find(t, events, "", EventPollStatus, &status)
	if !status.CanAskNew || status.ActiveCount != 2 || status.State != session.Closed {
		t.Errorf("status = %+v", status)
	}
	if f.archive.reasons[poll.ID] != string(session.ClosedComplete) {
		t.Errorf("archive reason = %q", f.archive.reasons[poll.ID])
	}

	// A second answer from Alice changes nothing and broadcasts nothing.
	f.send("c1", EventSubmitAnswer, submitAnswerRequest{QuestionID: poll.ID.String(), Answer: three.String()})
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("duplicate answer produced %v", eventNames(events))
	}

	f.send("t", EventGetPollHistory, nil)
	var hist []history.PollSummary
	find(t, f.out.take(), "t", EventPollHistory, &hist)
	if len(hist) != 1 || hist[0].Options[0].Percentage != 50 || hist[0].Options[1].Percentage != 50 {
		t.Errorf("history = %+v", hist)
	}
}

func TestCoordinatorHidesCorrectOption(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{RevealCorrect: false})
	poll := f.createPoll(t, "2+2?", 30, "4", "3")
	for _, o := range poll.Options {
		if o.IsCorrect != nil {
			t.Errorf("option %q reveals isCorrect", o.Text)
		}
	}
}

func TestCoordinatorCreatePollValidation(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.send("t", EventCreatePoll, map[string]interface{}{
		"text":      "",
		"options":   []map[string]interface{}{{"text": "a"}, {"text": "b"}},
		"timeLimit": 30,
	})
	events := f.out.take()
	if got := eventNames(events); !reflect.DeepEqual(got, []string{"t:" + EventPollError}) {
		t.Fatalf("events = %v", got)
	}
	var pe pollErrorEvent
	find(t, events, "t", EventPollError, &pe)
	if pe.Message != "Failed to create poll" || pe.Error == "" {
		t.Errorf("poll-error = %+v", pe)
	}
	if p, _ := f.state.Polls.Current(); p != nil {
		t.Error("invalid poll became current")
	}
}

func TestCoordinatorSupersede(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")
	first := f.createPoll(t, "first", 30, "a", "b")

	f.send("t", EventCreatePoll, map[string]interface{}{
		"text":      "second",
		"options":   []map[string]interface{}{{"text": "a"}, {"text": "b"}},
		"timeLimit": 30,
	})
	events := f.out.take()
	var closed pollClosedEvent
	find(t, events, "", EventPollClosed, &closed)
	if closed.PollID != first.ID || closed.Reason != session.ClosedSuperseded {
		t.Errorf("poll-closed = %+v", closed)
	}
	if got := eventNames(events)[0]; got != "*:"+EventPollClosed {
		t.Errorf("first event = %s, want poll-closed before poll-started", got)
	}

	// Answering the superseded poll is rejected silently.
	f.send("c1", EventSubmitAnswer, submitAnswerRequest{QuestionID: first.ID.String(), Answer: first.Options[0].ID.String()})
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("late answer produced %v", eventNames(events))
	}
}

func TestCoordinatorPollTimer(t *testing.T) {
	f := newFixture(t, session.Config{AnswerGrace: 2 * time.Second}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")
	poll := f.createPoll(t, "2+2?", 30, "4", "3")

	if f.timer.delay != 32*time.Second {
		t.Errorf("timer delay = %v, want 32s", f.timer.delay)
	}

	// An early client timeout is ignored.
	f.send("c1", EventTimeout, timeoutRequest{QuestionID: poll.ID.String()})
	if events := f.out.take(); len(events) != 0 {
		t.Fatalf("early timeout produced %v", eventNames(events))
	}

	f.clock.Advance(32 * time.Second)
	f.timer.fire()
	events := f.out.take()
	var closed pollClosedEvent
	find(t, events, "", EventPollClosed, &closed)
	if closed.Reason != session.ClosedTimeout {
		t.Errorf("reason = %q", closed.Reason)
	}
	find(t, events, "", EventPollStatus, nil)
	if f.archive.reasons[poll.ID] != string(session.ClosedTimeout) {
		t.Errorf("archive reason = %q", f.archive.reasons[poll.ID])
	}

	// The client timeout arriving afterwards is a no-op.
	f.send("c1", EventTimeout, timeoutRequest{QuestionID: poll.ID.String()})
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("second timeout produced %v", eventNames(events))
	}
}

func TestCoordinatorKick(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")
	f.register(t, "c2", "Bob")

	f.send("t", EventKickStudent, kickRequest{Name: "Bob"})
	events := f.out.take()
	want := []string{"c2:" + EventKicked, "*:" + EventParticipantsUpdate}
	if got := eventNames(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(f.out.disconnected, []string{"c2"}) {
		t.Errorf("disconnected = %v", f.out.disconnected)
	}
	var names []string
	find(t, events, "", EventParticipantsUpdate, &names)
	if !reflect.DeepEqual(names, []string{"Alice"}) {
		t.Errorf("participants = %v", names)
	}

	// A message Bob sent before the disconnect landed is dropped.
	f.send("c2", EventChatMessage, chatRequest{Sender: "Bob", Text: "still here?"})
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("kicked chat produced %v", eventNames(events))
	}

	// Kicking again is a no-op: exactly one disconnect.
	f.send("t", EventKickStudent, kickRequest{Name: "Bob"})
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("second kick produced %v", eventNames(events))
	}
	if len(f.out.disconnected) != 1 {
		t.Errorf("disconnects = %d, want 1", len(f.out.disconnected))
	}

	// The kicked connection cannot re-register before it closes.
	f.send("c2", EventRegisterStudent, map[string]string{"name": "Bob"})
	find(t, f.out.take(), "c2", EventRegistrationRejected, nil)
}

func TestCoordinatorConnectionClosed(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.register(t, "c1", "Alice")
	f.register(t, "c2", "Bob")

	f.coord.ConnectionClosed("c2")
	var names []string
	find(t, f.out.take(), "", EventParticipantsUpdate, &names)
	if !reflect.DeepEqual(names, []string{"Alice"}) {
		t.Errorf("participants = %v", names)
	}

	f.coord.ConnectionClosed("never-registered")
	if events := f.out.take(); len(events) != 0 {
		t.Errorf("unknown close produced %v", eventNames(events))
	}
}

func TestCoordinatorInvalidPayload(t *testing.T) {
	f := newFixture(t, session.Config{}, CoordinatorConfig{})
	f.coord.Handle("c1", WSMessage{Event: EventRegisterStudent, Data: json.RawMessage(`"not an object"`)})
	var ev errorEvent
	find(t, f.out.take(), "c1", EventError, &ev)
	if ev.Message == "" {
		t.Error("empty error message")
	}
}

type failingMessages struct {
	store.Store
}

func (failingMessages) AppendMessage(context.Context, *models.Message) error {
	return errors.New("disk full")
}

func TestCoordinatorStorageFailureStaysPrivate(t *testing.T) {
	mem := store.NewMemory()
	st, err := session.NewState(context.Background(), failingMessages{mem}, session.Config{}, nil)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	out := &recorder{}
	coord := NewCoordinator(st, out, history.NewProjector(mem), CoordinatorConfig{}, nil)
	defer coord.Close()

	coord.Handle("t", WSMessage{Event: EventChatMessage, Data: json.RawMessage(`{"sender":"Teacher","text":"hello"}`)})
	events := out.take()
	if got := eventNames(events); !reflect.DeepEqual(got, []string{"t:" + EventError}) {
		t.Errorf("events = %v, want only a private error", got)
	}
}
