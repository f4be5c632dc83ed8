package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/internal/store/storetest"
)

func seed(t *testing.T) (*store.Memory, []*models.Poll) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	base := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

	polls := []*models.Poll{
		storetest.NewPoll("2+2?", base, "4", "3", "5"),
		storetest.NewPoll("Capital of France?", base.Add(time.Minute), "Paris", "Lyon"),
	}
	for _, p := range polls {
		if err := mem.CreatePoll(ctx, p); err != nil {
			t.Fatalf("CreatePoll: %v", err)
		}
	}
	// Two votes for "4", one for "5" on the first poll; nothing on the second.
	for i, opt := range []int{0, 0, 2} {
		a := &models.Answer{
			ID:              uuid.New(),
			PollID:          polls[0].ID,
			ParticipantName: []string{"Alice", "Bob", "Carol"}[i],
			OptionID:        polls[0].Options[opt].ID,
		}
		if err := mem.CreateAnswer(ctx, a); err != nil {
			t.Fatalf("CreateAnswer: %v", err)
		}
	}
	return mem, polls
}

func TestProjectorList(t *testing.T) {
	mem, polls := seed(t)
	list, err := NewProjector(mem).List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != polls[1].ID || list[1].ID != polls[0].ID {
		t.Errorf("order = %s, %s; want newest first", list[0].Question, list[1].Question)
	}

	empty := list[0]
	if empty.TotalVotes != 0 {
		t.Errorf("empty poll total = %d", empty.TotalVotes)
	}
	for _, o := range empty.Options {
		if o.Count != 0 || o.Percentage != 0 {
			t.Errorf("empty poll option %q = %d (%d%%)", o.Text, o.Count, o.Percentage)
		}
	}

	quiz := list[1]
	want := []struct {
		text       string
		count, pct int
	}{{"4", 2, 67}, {"3", 0, 0}, {"5", 1, 33}}
	for i, o := range quiz.Options {
		if o.Text != want[i].text || o.Count != want[i].count || o.Percentage != want[i].pct {
			t.Errorf("option[%d] = %+v, want %+v", i, o, want[i])
		}
	}
	if quiz.TotalVotes != 3 || len(quiz.Results) != 3 {
		t.Errorf("quiz total = %d, results = %v", quiz.TotalVotes, quiz.Results)
	}
	if !quiz.Options[0].IsCorrect {
		t.Error("correct flag lost")
	}
}

func TestProjectorListLimit(t *testing.T) {
	mem, polls := seed(t)
	list, err := NewProjector(mem).List(context.Background(), 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != polls[1].ID {
		t.Errorf("limited list = %+v", list)
	}
}

func TestProjectorSummary(t *testing.T) {
	mem, polls := seed(t)
	p := NewProjector(mem)

	sum, err := p.Summary(context.Background(), polls[0].ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Question != "2+2?" || sum.TotalVotes != 3 || sum.TimeLimit != polls[0].TimeLimit {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := p.Summary(context.Background(), uuid.New()); err == nil {
		t.Error("Summary of unknown poll succeeded")
	}
}
