package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/classroom/internal/models"
	"github.com/livepoll/classroom/internal/store"
)

// DuplicatePolicy decides what happens when a connection registers a name that another
// connection holds as an active participant.
type DuplicatePolicy string

const (
	// PolicyTakeover moves the name to the new connection; the old one is dropped.
	PolicyTakeover DuplicatePolicy = "takeover"
	// PolicyReject refuses the new registration.
	PolicyReject DuplicatePolicy = "reject"
)

// Valid reports whether p is a known policy.
func (p DuplicatePolicy) Valid() bool {
	return p == PolicyTakeover || p == PolicyReject
}

// RegisterStatus is the result kind of Roster.Register.
type RegisterStatus int

const (
	Admitted RegisterStatus = iota
	RejectedDuplicateName
	RejectedInvalidName
	RejectedKicked
)

func (s RegisterStatus) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case RejectedDuplicateName:
		return "duplicate_active_name"
	case RejectedInvalidName:
		return "invalid_name"
	case RejectedKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// RegisterOutcome describes a registration attempt.
type RegisterOutcome struct {
	Status      RegisterStatus
	Participant models.Participant
	// ReplacedConn is the connection that held the name before a takeover.
	ReplacedConn string
}

// Roster tracks connected participants keyed by display name.
type Roster struct {
	mu     sync.RWMutex
	store  store.Participants
	policy DuplicatePolicy
	now    func() time.Time
	logger *zap.Logger

	byName map[string]*models.Participant
	byConn map[string]string
	// kickedConns holds connections that were kicked and have not closed yet.
	kickedConns map[string]struct{}
}

// NewRoster creates an empty roster persisting through st.
func NewRoster(st store.Participants, policy DuplicatePolicy, now func() time.Time, logger *zap.Logger) *Roster {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !policy.Valid() {
		policy = PolicyTakeover
	}
	return &Roster{
		store:       st,
		policy:      policy,
		now:         now,
		logger:      logger,
		byName:      make(map[string]*models.Participant),
		byConn:      make(map[string]string),
		kickedConns: make(map[string]struct{}),
	}
}

// Register binds name to conn. A kicked or departed name comes back as a fresh entry.
// A connection registering again under a different name gives up its previous name.
func (r *Roster) Register(ctx context.Context, name, conn string) (RegisterOutcome, error) {
	name = strings.TrimSpace(name)
	if name == "" || conn == "" {
		return RegisterOutcome{Status: RejectedInvalidName}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, kicked := r.kickedConns[conn]; kicked {
		return RegisterOutcome{Status: RejectedKicked}, nil
	}

	existing := r.byName[name]
	if existing != nil && !existing.Kicked && existing.ConnID == conn {
		return RegisterOutcome{Status: Admitted, Participant: *existing}, nil
	}

	var replaced string
	if existing != nil && !existing.Kicked {
		if r.policy == PolicyReject {
			return RegisterOutcome{Status: RejectedDuplicateName}, nil
		}
		replaced = existing.ConnID
	}

	p := models.Participant{
		ID:       uuid.New(),
		Name:     name,
		ConnID:   conn,
		JoinedAt: r.now().UTC(),
	}
	if err := r.store.SaveParticipant(ctx, p); err != nil {
		return RegisterOutcome{}, fmt.Errorf("save participant: %w", err)
	}

	// The new row is in place; only now give up the name this connection held before.
	if prev, ok := r.byConn[conn]; ok && prev != name {
		if err := r.store.DeleteParticipant(ctx, prev); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("release previous name failed",
				zap.String("name", prev), zap.String("conn_id", conn), zap.Error(err))
		}
		delete(r.byName, prev)
	}

	if existing != nil {
		delete(r.byConn, existing.ConnID)
	}
	r.byName[name] = &p
	r.byConn[conn] = name

	if replaced != "" {
		r.logger.Info("participant name taken over",
			zap.String("name", name), zap.String("old_conn_id", replaced), zap.String("conn_id", conn))
	}
	return RegisterOutcome{Status: Admitted, Participant: p, ReplacedConn: replaced}, nil
}

// CurrentParticipants returns non-kicked names in join order.
func (r *Roster) CurrentParticipants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]*models.Participant, 0, len(r.byName))
	for _, p := range r.byName {
		if !p.Kicked {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].JoinedAt.Equal(active[j].JoinedAt) {
			return active[i].Name < active[j].Name
		}
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})
	names := make([]string, len(active))
	for i, p := range active {
		names[i] = p.Name
	}
	return names
}

// Kick marks the named participant kicked and returns it. found is false for unknown or
// already kicked names, so a participant is kicked at most once.
func (r *Roster) Kick(ctx context.Context, name string) (p models.Participant, found bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byName[strings.TrimSpace(name)]
	if existing == nil || existing.Kicked {
		return models.Participant{}, false, nil
	}
	if err := r.store.MarkKicked(ctx, existing.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.Participant{}, false, fmt.Errorf("mark kicked: %w", err)
	}
	existing.Kicked = true
	r.kickedConns[existing.ConnID] = struct{}{}
	return *existing, true, nil
}

// RemoveByConnection drops whatever entry conn still holds. The in-memory entry is always
// removed since the connection is gone; a storage error is still reported.
func (r *Roster) RemoveByConnection(ctx context.Context, conn string) (removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.kickedConns, conn)
	name, ok := r.byConn[conn]
	if !ok {
		return false, nil
	}
	delete(r.byConn, conn)
	if p := r.byName[name]; p != nil && p.ConnID == conn {
		delete(r.byName, name)
		if err := r.store.DeleteParticipant(ctx, name); err != nil {
			return true, fmt.Errorf("delete participant: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// ActiveCount is the number of non-kicked participants.
func (r *Roster) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byName {
		if !p.Kicked {
			n++
		}
	}
	return n
}

// NameFor returns the active participant name bound to conn.
func (r *Roster) NameFor(conn string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	if p := r.byName[name]; p == nil || p.Kicked || p.ConnID != conn {
		return "", false
	}
	return name, true
}

// Participant returns the active participant with the given name.
func (r *Roster) Participant(name string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.byName[name]
	if p == nil || p.Kicked {
		return models.Participant{}, false
	}
	return *p, true
}

// IsActive reports whether name belongs to a non-kicked participant.
func (r *Roster) IsActive(name string) bool {
	_, ok := r.Participant(name)
	return ok
}
