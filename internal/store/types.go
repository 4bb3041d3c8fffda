package store

import (
	"time"

	"github.com/google/uuid"
)

// User is the durable customer record, keyed by normalized phone.
// Created lazily on first contact; never deleted.
type User struct {
	ID         int64     `json:"id"`
	Phone      string    `json:"phone"`
	Name       string    `json:"name,omitempty"`
	Address    string    `json:"address,omitempty"`
	Complement string    `json:"complement,omitempty"`
	Email      string    `json:"email,omitempty"`
	Blocked    bool      `json:"blocked"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// UserPatch is a partial update for a user's profile fields.
// Nil fields are left untouched.
type UserPatch struct {
	Name       *string
	Address    *string
	Complement *string
	Email      *string
	Blocked    *bool
}

// SessionRecord is a durable conversation session row. The live
// in-memory working-set object lives in internal/session; this record
// only carries what survives a restart.
type SessionRecord struct {
	ID         uuid.UUID `json:"id"`
	UserID     int64     `json:"userId"`
	State      string    `json:"state"`
	WithAgent  bool      `json:"withAgent"`
	AgentPhone string    `json:"agentPhone,omitempty"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// SessionPatch is a partial update applied to a durable session row.
type SessionPatch struct {
	State      *string
	WithAgent  *bool
	AgentPhone *string
}

// Scheduling is a technical-visit appointment (also reused for
// off-hours "retorno" callback records).
type Scheduling struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	EventID       string    `json:"eventId,omitempty"`
	ServiceType   string    `json:"serviceType"`
	ServiceOption string    `json:"serviceOption,omitempty"`
	Description   string    `json:"description,omitempty"`
	Date          time.Time `json:"date"`
	Status        string    `json:"status"` // pending | confirmed | cancelled
	ReminderSent  bool      `json:"reminderSent"`
	Created       time.Time `json:"created"`

	// Joined user fields, populated by range queries for the reminder
	// sweep and the admin schedule view.
	Phone   string `json:"phone,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// Scheduling status values.
const (
	SchedulingPending   = "pending"
	SchedulingConfirmed = "confirmed"
	SchedulingCancelled = "cancelled"
)

// Invoice is a billing document available for second-copy delivery.
type Invoice struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Reference string    `json:"reference,omitempty"`
	Amount    float64   `json:"amount"`
	DueDate   time.Time `json:"dueDate"`
	Paid      bool      `json:"paid"`
	PDFPath   string    `json:"pdfPath,omitempty"`
}

// Rating is a service evaluation left at the end of an engagement.
type Rating struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	SessionID  uuid.UUID `json:"sessionId"`
	AgentPhone string    `json:"agentPhone,omitempty"`
	MenuPath   string    `json:"menuPath,omitempty"`
	Score      int       `json:"score"`
	Comment    string    `json:"comment,omitempty"`
	Created    time.Time `json:"created"`
}

// SurveyRequest is a deferred post-sale survey trigger, consumed by the
// maintenance sweep in FIFO order.
type SurveyRequest struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	ServiceType string    `json:"serviceType"`
	Status      string    `json:"status"` // pending | processing | done
	Created     time.Time `json:"created"`

	// Joined user phone, populated by queue reads for the sweep.
	Phone string `json:"phone,omitempty"`
}

// Message directions.
const (
	DirIncoming = "incoming"
	DirOutgoing = "outgoing"
)

// Message is one entry of the per-user conversation history.
type Message struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Direction string    `json:"direction"` // incoming | outgoing
	Body      string    `json:"body"`
	Created   time.Time `json:"created"`
}

// MenuRow and MenuOptionRow are the raw persisted shape of a menu; the
// assembled form lives in internal/menu.
type MenuRow struct {
	ID      int64
	Key     string
	Title   string
	Message string
}

// MenuOptionRow is one selectable option of a persisted menu.
type MenuOptionRow struct {
	ID         int64
	MenuID     int64
	OptionID   int
	Title      string
	NextMenu   string
	Handler    string
	AgentPhone string
	ConfigKey  string
}
