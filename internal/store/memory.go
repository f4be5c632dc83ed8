package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/livepoll/classroom/internal/models"
)

type answerKey struct {
	pollID uuid.UUID
	name   string
}

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]models.Participant
	polls        map[uuid.UUID]models.Poll
	pollOrder    []uuid.UUID
	answers      map[uuid.UUID][]models.Answer
	answered     map[answerKey]struct{}
	messages     []models.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]models.Participant),
		polls:        make(map[uuid.UUID]models.Poll),
		answers:      make(map[uuid.UUID][]models.Answer),
		answered:     make(map[answerKey]struct{}),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) SaveParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.Name] = p
	return nil
}

func (m *Memory) FindActiveParticipants(_ context.Context) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if !p.Kicked {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) DeleteParticipant(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants, name)
	return nil
}

func (m *Memory) MarkKicked(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[name]
	if !ok {
		return ErrNotFound
	}
	p.Kicked = true
	m.participants[name] = p
	return nil
}

func (m *Memory) ClearParticipants(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = make(map[string]models.Participant)
	return nil
}

func (m *Memory) CreatePoll(_ context.Context, p *models.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[p.ID]; ok {
		return ErrConflict
	}
	cp := *p
	cp.Options = append([]models.Option(nil), p.Options...)
	m.polls[p.ID] = cp
	m.pollOrder = append(m.pollOrder, p.ID)
	return nil
}

func (m *Memory) FindPollByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Options = append([]models.Option(nil), p.Options...)
	return &p, nil
}

func (m *Memory) ListRecentPolls(_ context.Context, limit int) ([]models.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Poll, 0, len(m.pollOrder))
	for i := len(m.pollOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		p := m.polls[m.pollOrder[i]]
		p.Options = append([]models.Option(nil), p.Options...)
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) CreateAnswer(_ context.Context, a *models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := answerKey{pollID: a.PollID, name: a.ParticipantName}
	if _, ok := m.answered[key]; ok {
		return ErrConflict
	}
	m.answered[key] = struct{}{}
	m.answers[a.PollID] = append(m.answers[a.PollID], *a)
	return nil
}

func (m *Memory) FindAnswersByPoll(_ context.Context, pollID uuid.UUID) ([]models.Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Answer(nil), m.answers[pollID]...), nil
}

func (m *Memory) CountAnswersByPoll(_ context.Context, pollID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.answers[pollID]), nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *Memory) ListAllMessages(_ context.Context) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Message(nil), m.messages...), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
