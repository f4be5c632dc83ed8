// Package storetest holds behavioral tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
)

// NewPoll builds a poll with one option per text; the first option is marked correct.
func NewPoll(text string, createdAt time.Time, options ...string) *models.Poll {
	p := &models.Poll{ID: uuid.New(), Text: text, TimeLimit: 30, CreatedAt: createdAt.UTC().Truncate(time.Millisecond)}
	for i, o := range options {
		p.Options = append(p.Options, models.Option{ID: uuid.New(), Text: o, IsCorrect: i == 0})
	}
	return p
}

// Run exercises open against the full Store contract. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("participants", func(t *testing.T) { testParticipants(t, open(t)) })
	t.Run("polls", func(t *testing.T) { testPolls(t, open(t)) })
	t.Run("answers", func(t *testing.T) { testAnswers(t, open(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, open(t)) })
}

func testParticipants(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

	alice := models.Participant{ID: uuid.New(), Name: "Alice", ConnID: "c1", JoinedAt: base}
	bob := models.Participant{ID: uuid.New(), Name: "Bob", ConnID: "c2", JoinedAt: base.Add(time.Second)}
	for _, p := range []models.Participant{bob, alice} {
		if err := s.SaveParticipant(ctx, p); err != nil {
			t.Fatalf("SaveParticipant(%s): %v", p.Name, err)
		}
	}

	active, err := s.FindActiveParticipants(ctx)
	if err != nil {
		t.Fatalf("FindActiveParticipants: %v", err)
	}
	if len(active) != 2 || active[0].Name != "Alice" || active[1].Name != "Bob" {
		t.Fatalf("active = %+v, want Alice then Bob", active)
	}

	// Upsert by name re-points the connection.
	alice.ConnID = "c3"
	if err := s.SaveParticipant(ctx, alice); err != nil {
		t.Fatalf("SaveParticipant(upsert): %v", err)
	}
	if err := s.MarkKicked(ctx, "Bob"); err != nil {
		t.Fatalf("MarkKicked: %v", err)
	}
	if err := s.MarkKicked(ctx, "Nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkKicked(unknown) = %v, want ErrNotFound", err)
	}
	active, _ = s.FindActiveParticipants(ctx)
	if len(active) != 1 || active[0].ConnID != "c3" {
		t.Fatalf("active after kick = %+v", active)
	}

	if err := s.DeleteParticipant(ctx, "Alice"); err != nil {
		t.Fatalf("DeleteParticipant: %v", err)
	}
	active, _ = s.FindActiveParticipants(ctx)
	if len(active) != 0 {
		t.Errorf("active after delete = %+v", active)
	}

	_ = s.SaveParticipant(ctx, alice)
	if err := s.ClearParticipants(ctx); err != nil {
		t.Fatalf("ClearParticipants: %v", err)
	}
	active, _ = s.FindActiveParticipants(ctx)
	if len(active) != 0 {
		t.Errorf("active after clear = %+v", active)
	}
}

func testPolls(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

	first := NewPoll("2+2?", base, "4", "3", "5")
	second := NewPoll("Capital of France?", base.Add(time.Minute), "Paris", "Lyon")
	third := NewPoll("Largest planet?", base.Add(2*time.Minute), "Jupiter", "Mars")
	for _, p := range []*models.Poll{first, second, third} {
		if err := s.CreatePoll(ctx, p); err != nil {
			t.Fatalf("CreatePoll(%s): %v", p.Text, err)
		}
	}

	got, err := s.FindPollByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindPollByID: %v", err)
	}
	if got.Text != first.Text || got.TimeLimit != first.TimeLimit || !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("poll = %+v, want %+v", got, first)
	}
	if len(got.Options) != 3 {
		t.Fatalf("options = %d, want 3", len(got.Options))
	}
	for i, o := range got.Options {
		if o != first.Options[i] {
			t.Errorf("option[%d] = %+v, want %+v", i, o, first.Options[i])
		}
	}

	if _, err := s.FindPollByID(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindPollByID(unknown) = %v, want ErrNotFound", err)
	}

	recent, err := s.ListRecentPolls(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentPolls: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != third.ID || recent[1].ID != second.ID {
		t.Fatalf("recent = %v, want third then second", pollTexts(recent))
	}
	if len(recent[1].Options) != 2 || recent[1].Options[0].Text != "Paris" {
		t.Errorf("recent[1] options = %+v", recent[1].Options)
	}

	all, err := s.ListRecentPolls(ctx, 0)
	if err != nil {
		t.Fatalf("ListRecentPolls(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unbounded list = %d polls, want 3", len(all))
	}
}

func testAnswers(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := NewPoll("2+2?", time.Now(), "4", "3")
	if err := s.CreatePoll(ctx, p); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}

	newAnswer := func(name string, opt int) *models.Answer {
		return &models.Answer{
			ID:              uuid.New(),
			PollID:          p.ID,
			ParticipantID:   uuid.New(),
			ParticipantName: name,
			OptionID:        p.Options[opt].ID,
			IsCorrect:       p.Options[opt].IsCorrect,
			SubmittedAt:     time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	if err := s.CreateAnswer(ctx, newAnswer("Alice", 0)); err != nil {
		t.Fatalf("CreateAnswer(Alice): %v", err)
	}
	if err := s.CreateAnswer(ctx, newAnswer("Bob", 1)); err != nil {
		t.Fatalf("CreateAnswer(Bob): %v", err)
	}
	if err := s.CreateAnswer(ctx, newAnswer("Alice", 1)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second CreateAnswer(Alice) = %v, want ErrConflict", err)
	}

	n, err := s.CountAnswersByPoll(ctx, p.ID)
	if err != nil || n != 2 {
		t.Fatalf("CountAnswersByPoll = %d, %v; want 2", n, err)
	}
	answers, err := s.FindAnswersByPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindAnswersByPoll: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("answers = %d, want 2", len(answers))
	}
	if !answers[0].IsCorrect || answers[0].ParticipantName != "Alice" {
		t.Errorf("first answer = %+v", answers[0])
	}

	if n, _ := s.CountAnswersByPoll(ctx, uuid.New()); n != 0 {
		t.Errorf("count for unknown poll = %d", n)
	}
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)
	texts := []string{"hello", "hi teacher", "welcome"}
	for i, text := range texts {
		m := &models.Message{ID: uuid.New(), Sender: "Teacher", Text: text, ConnID: "c1", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	all, err := s.ListAllMessages(ctx)
	if err != nil {
		t.Fatalf("ListAllMessages: %v", err)
	}
	if len(all) != len(texts) {
		t.Fatalf("messages = %d, want %d", len(all), len(texts))
	}
	for i, m := range all {
		if m.Text != texts[i] {
			t.Errorf("message[%d] = %q, want %q", i, m.Text, texts[i])
		}
	}
}

func pollTexts(polls []models.Poll) []string {
	out := make([]string, len(polls))
	for i, p := range polls {
		out[i] = p.Text
	}
	return out
}
