// Package session keeps the in-memory working set of live
// conversations. Memory is authoritative during a conversation; every
// mutation is mirrored to the durable store so a restart can rebuild
// sessions lazily on the next inbound message.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suporttech/zapdesk/internal/store"
)

// StateInit is the state of a freshly created session.
const StateInit = "init"

// StateFinished terminates a session.
const StateFinished = "finished"

// FlowData is the scratch space a multi-step flow accumulates before
// committing. It never survives a restart.
type FlowData struct {
	ServiceType   string
	ServiceOption int
	Description   string

	Slots    []time.Time
	Selected time.Time

	Invoices []store.Invoice

	Rating        int
	RatingComment string
	MenuPath      string

	AppointmentID int64
	SurveyType    string

	// ReturnState lets an interjected flow (reminder confirmation)
	// restore where the user was.
	ReturnState string
}

// Session is a live conversation.
type Session struct {
	ID       uuid.UUID
	Identity string
	UserID   int64
	State    string
	Data     FlowData

	WithAgent bool
	Agent     string // operator phone while WithAgent

	LastActivity time.Time
}

// Registry is the in-memory session working set keyed by identity.
type Registry struct {
	sessions store.SessionStore

	mu   sync.Mutex
	byID map[string]*Session // identity -> session
}

func NewRegistry(sessions store.SessionStore) *Registry {
	return &Registry{
		sessions: sessions,
		byID:     map[string]*Session{},
	}
}

// Resolve returns the live session for an identity, rebuilding from the
// durable store after a restart or creating a fresh one on first
// contact. The caller supplies the user id because user resolution is a
// separate concern.
func (r *Registry) Resolve(ctx context.Context, identity string, userID int64) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.byID[identity]; ok {
		s.LastActivity = time.Now()
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Miss: look for a durable active session. The store round trip
	// runs outside the lock; a concurrent resolve for the same
	// identity is prevented by the router's per-identity latch.
	rec, err := r.sessions.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = r.sessions.Create(ctx, userID, StateInit)
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		ID:           rec.ID,
		Identity:     identity,
		UserID:       userID,
		State:        rec.State,
		WithAgent:    rec.WithAgent,
		Agent:        rec.AgentPhone,
		LastActivity: time.Now(),
	}
	r.mu.Lock()
	r.byID[identity] = s
	r.mu.Unlock()
	return s, nil
}

// Peek returns the live session without touching the store or the
// activity clock.
func (r *Registry) Peek(identity string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[identity]
	return s, ok
}

// FindByAgent returns the session currently attended by an operator.
func (r *Registry) FindByAgent(agentPhone string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.WithAgent && s.Agent == agentPhone {
			return s, true
		}
	}
	return nil, false
}

// Persist mirrors the session's durable fields to the store. Memory
// stays authoritative: a store failure is logged and surfaced but the
// in-memory state is not rolled back.
func (r *Registry) Persist(ctx context.Context, s *Session) error {
	err := r.sessions.Update(ctx, s.ID, store.SessionPatch{
		State:      &s.State,
		WithAgent:  &s.WithAgent,
		AgentPhone: &s.Agent,
	})
	if err != nil {
		slog.Error("session persist failed", "identity", s.Identity, "state", s.State, "error", err)
	}
	return err
}

// Finish terminates the conversation: drops the live session and
// closes every durable row of the user.
func (r *Registry) Finish(ctx context.Context, s *Session) error {
	r.mu.Lock()
	delete(r.byID, s.Identity)
	r.mu.Unlock()
	s.State = StateFinished
	return r.sessions.FinishAll(ctx, s.UserID)
}

// Drop removes a live session without touching the store. Used by idle
// eviction, where the durable row keeps its state for a later rebuild.
func (r *Registry) Drop(identity string) {
	r.mu.Lock()
	delete(r.byID, identity)
	r.mu.Unlock()
}

// EvictIdle drops sessions whose last activity is older than the
// cutoff. Sessions in an operator conversation are never evicted.
// Returns the identities evicted.
func (r *Registry) EvictIdle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, s := range r.byID {
		if s.WithAgent {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			delete(r.byID, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the live session count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
