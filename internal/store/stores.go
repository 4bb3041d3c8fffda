// Package store defines the durable persistence contracts for the
// conversational engine. The Postgres implementations live in
// internal/store/pg; tests use the in-memory fakes from storetest.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStorage marks connectivity-class failures of the durable store.
// Callers treat it as non-retryable for the current message: reply with
// a generic transient-error text and drop.
var ErrStorage = errors.New("storage unavailable")

// ErrNotFound marks a lookup miss for a specific record.
var ErrNotFound = errors.New("not found")

// UserStore manages durable customer records.
type UserStore interface {
	// GetOrCreate is idempotent: looks up by normalized phone, inserts
	// if absent, returns the row either way.
	GetOrCreate(ctx context.Context, phone string) (*User, error)
	UpdateDetails(ctx context.Context, id int64, patch UserPatch) error
	// FindByPhoneOrName resolves the operator direct-engage target.
	FindByPhoneOrName(ctx context.Context, query string) (*User, error)
	IsBlocked(ctx context.Context, phone string) (bool, error)
	// SaveLastChoice records the user's last menu selection.
	SaveLastChoice(ctx context.Context, userID int64, menuKey string, option int) error
}

// SessionStore manages durable session rows. At most one row per user
// is considered active (not in state "finished").
type SessionStore interface {
	// GetActive returns the most recently updated non-finished session
	// for a user, or nil if none exists.
	GetActive(ctx context.Context, userID int64) (*SessionRecord, error)
	Create(ctx context.Context, userID int64, state string) (*SessionRecord, error)
	Update(ctx context.Context, id uuid.UUID, patch SessionPatch) error
	// FinishAll force-terminates every session row of a user. Creation
	// races can leave a user with more than one durable row; the final
	// goodbye must close all of them.
	FinishAll(ctx context.Context, userID int64) error
	CountActive(ctx context.Context) (int, error)
}

// MenuStore persists the menu set consumed by internal/menu.
type MenuStore interface {
	LoadAll(ctx context.Context) ([]MenuRow, []MenuOptionRow, error)
	// Save replaces a menu's title/message and fully replaces its
	// option list (delete-then-reinsert).
	Save(ctx context.Context, row MenuRow, options []MenuOptionRow) error
}

// SchedulingStore manages appointments and callback records.
type SchedulingStore interface {
	Save(ctx context.Context, s Scheduling) (int64, error)
	ByID(ctx context.Context, id int64) (*Scheduling, error)
	// ByDateRange returns schedulings in [from, to) with user contact
	// fields joined in.
	ByDateRange(ctx context.Context, from, to time.Time) ([]Scheduling, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	MarkReminderSent(ctx context.Context, id int64) error
}

// InvoiceStore reads billing documents for the financial flow.
type InvoiceStore interface {
	ByUser(ctx context.Context, userID int64) ([]Invoice, error)
}

// RatingStore persists end-of-engagement evaluations.
type RatingStore interface {
	Save(ctx context.Context, r Rating) error
}

// SurveyStore manages post-sale surveys and their deferred triggers.
type SurveyStore interface {
	HasRecent(ctx context.Context, userID int64, since time.Time) (bool, error)
	Create(ctx context.Context, userID int64, serviceType string) (int64, error)
	Complete(ctx context.Context, userID int64) error
	// EnqueueRequest registers a deferred survey trigger (admin API).
	EnqueueRequest(ctx context.Context, userID int64, serviceType string) error
	// NextPendingRequest returns the earliest pending trigger, or nil.
	NextPendingRequest(ctx context.Context) (*SurveyRequest, error)
	MarkRequestProcessing(ctx context.Context, id int64) error
}

// MessageStore keeps the per-user conversation history.
type MessageStore interface {
	Save(ctx context.Context, userID int64, direction, body string) error
	History(ctx context.Context, userID int64, limit int) ([]Message, error)
}

// SettingStore holds runtime configuration and custom text templates.
// Get returns "" for absent keys; callers supply fallbacks.
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
	// Text returns the custom text template for a key, or "".
	Text(ctx context.Context, key string) string
}

// Stores bundles every store the engine needs, mirroring how the
// command layer wires one factory per backend.
type Stores struct {
	Users       UserStore
	Sessions    SessionStore
	Menus       MenuStore
	Schedulings SchedulingStore
	Invoices    InvoiceStore
	Ratings     RatingStore
	Surveys     SurveyStore
	Messages    MessageStore
	Settings    SettingStore
}

// CustomText resolves a user-visible template with a built-in fallback.
func CustomText(ctx context.Context, s SettingStore, key, fallback string) string {
	if s == nil {
		return fallback
	}
	if t := s.Text(ctx, key); t != "" {
		return t
	}
	return fallback
}
