// Package storetest provides in-memory store implementations for
// tests. They are safe for concurrent use and support fault injection
// through the Fail flag.
package storetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suporttech/zapdesk/internal/store"
)

// New returns a fully wired in-memory Stores bundle.
func New() (*store.Stores, *Fixture) {
	f := &Fixture{
		users:    map[string]*store.User{},
		settings: map[string]string{},
	}
	return &store.Stores{
		Users:       &userStore{f},
		Sessions:    &sessionStore{f},
		Menus:       &menuStore{f},
		Schedulings: &schedulingStore{f},
		Invoices:    &invoiceStore{f},
		Ratings:     &ratingStore{f},
		Surveys:     &surveyStore{f},
		Messages:    &messageStore{f},
		Settings:    &settingStore{f},
	}, f
}

// Fixture holds the shared backing state of the fake stores, exposed
// so tests can seed and assert.
type Fixture struct {
	mu sync.Mutex

	// Fail makes every store call return store.ErrStorage.
	Fail bool

	users    map[string]*store.User // by phone
	nextUser int64

	SessionRows []*store.SessionRecord

	MenuRows   []store.MenuRow
	OptionRows []store.MenuOptionRow

	Schedulings []*store.Scheduling
	nextSched   int64

	InvoiceRows []store.Invoice

	Ratings []store.Rating

	Surveys        []store.SurveyRequest // completed/created surveys, by status
	SurveyRequests []*store.SurveyRequest
	nextSurvey     int64

	MessageRows []store.Message

	settings map[string]string

	Choices []LastChoice
}

// LastChoice records a SaveLastChoice call.
type LastChoice struct {
	UserID  int64
	MenuKey string
	Option  int
}

func (f *Fixture) err() error {
	if f.Fail {
		return store.ErrStorage
	}
	return nil
}

// SeedUser inserts a user and returns it.
func (f *Fixture) SeedUser(phone, name string) *store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUser++
	u := &store.User{ID: f.nextUser, Phone: phone, Name: name, Created: time.Now(), Updated: time.Now()}
	f.users[phone] = u
	return u
}

// SeedSetting stores a settings key.
func (f *Fixture) SeedSetting(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
}

// SessionStates returns the durable states per user id, for asserts.
func (f *Fixture) SessionStates(userID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.SessionRows {
		if r.UserID == userID {
			out = append(out, r.State)
		}
	}
	return out
}

type userStore struct{ f *Fixture }

func (s *userStore) GetOrCreate(ctx context.Context, phone string) (*store.User, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	if u, ok := s.f.users[phone]; ok {
		return u, nil
	}
	s.f.nextUser++
	u := &store.User{ID: s.f.nextUser, Phone: phone, Created: time.Now(), Updated: time.Now()}
	s.f.users[phone] = u
	return u, nil
}

func (s *userStore) UpdateDetails(ctx context.Context, id int64, patch store.UserPatch) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for _, u := range s.f.users {
		if u.ID != id {
			continue
		}
		if patch.Name != nil {
			u.Name = *patch.Name
		}
		if patch.Address != nil {
			u.Address = *patch.Address
		}
		if patch.Complement != nil {
			u.Complement = *patch.Complement
		}
		if patch.Email != nil {
			u.Email = *patch.Email
		}
		if patch.Blocked != nil {
			u.Blocked = *patch.Blocked
		}
		u.Updated = time.Now()
		return nil
	}
	return store.ErrNotFound
}

func (s *userStore) FindByPhoneOrName(ctx context.Context, query string) (*store.User, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	if u, ok := s.f.users[query]; ok {
		return u, nil
	}
	q := strings.ToLower(query)
	for _, u := range s.f.users {
		if u.Name != "" && strings.Contains(strings.ToLower(u.Name), q) {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *userStore) IsBlocked(ctx context.Context, phone string) (bool, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return false, err
	}
	if u, ok := s.f.users[phone]; ok {
		return u.Blocked, nil
	}
	return false, nil
}

func (s *userStore) SaveLastChoice(ctx context.Context, userID int64, menuKey string, option int) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	s.f.Choices = append(s.f.Choices, LastChoice{UserID: userID, MenuKey: menuKey, Option: option})
	return nil
}

type sessionStore struct{ f *Fixture }

func (s *sessionStore) GetActive(ctx context.Context, userID int64) (*store.SessionRecord, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	var best *store.SessionRecord
	for _, r := range s.f.SessionRows {
		if r.UserID == userID && r.State != "finished" {
			if best == nil || r.Updated.After(best.Updated) {
				best = r
			}
		}
	}
	return best, nil
}

func (s *sessionStore) Create(ctx context.Context, userID int64, state string) (*store.SessionRecord, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	r := &store.SessionRecord{
		ID:      uuid.Must(uuid.NewV7()),
		UserID:  userID,
		State:   state,
		Created: time.Now(),
		Updated: time.Now(),
	}
	s.f.SessionRows = append(s.f.SessionRows, r)
	return r, nil
}

func (s *sessionStore) Update(ctx context.Context, id uuid.UUID, patch store.SessionPatch) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for _, r := range s.f.SessionRows {
		if r.ID != id {
			continue
		}
		if patch.State != nil {
			r.State = *patch.State
		}
		if patch.WithAgent != nil {
			r.WithAgent = *patch.WithAgent
		}
		if patch.AgentPhone != nil {
			r.AgentPhone = *patch.AgentPhone
		}
		r.Updated = time.Now()
		return nil
	}
	return store.ErrNotFound
}

func (s *sessionStore) FinishAll(ctx context.Context, userID int64) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for _, r := range s.f.SessionRows {
		if r.UserID == userID && r.State != "finished" {
			r.State = "finished"
			r.WithAgent = false
			r.AgentPhone = ""
			r.Updated = time.Now()
		}
	}
	return nil
}

func (s *sessionStore) CountActive(ctx context.Context) (int, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.f.SessionRows {
		if r.State != "finished" {
			n++
		}
	}
	return n, nil
}

type menuStore struct{ f *Fixture }

func (s *menuStore) LoadAll(ctx context.Context) ([]store.MenuRow, []store.MenuOptionRow, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, nil, err
	}
	return append([]store.MenuRow(nil), s.f.MenuRows...),
		append([]store.MenuOptionRow(nil), s.f.OptionRows...), nil
}

func (s *menuStore) Save(ctx context.Context, row store.MenuRow, options []store.MenuOptionRow) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	var id int64
	for i, m := range s.f.MenuRows {
		if m.Key == row.Key {
			id = m.ID
			s.f.MenuRows[i].Title = row.Title
			s.f.MenuRows[i].Message = row.Message
		}
	}
	if id == 0 {
		id = int64(len(s.f.MenuRows) + 1)
		row.ID = id
		s.f.MenuRows = append(s.f.MenuRows, row)
	}
	kept := s.f.OptionRows[:0]
	for _, o := range s.f.OptionRows {
		if o.MenuID != id {
			kept = append(kept, o)
		}
	}
	s.f.OptionRows = kept
	for _, o := range options {
		o.MenuID = id
		s.f.OptionRows = append(s.f.OptionRows, o)
	}
	return nil
}

type schedulingStore struct{ f *Fixture }

func (s *schedulingStore) Save(ctx context.Context, sch store.Scheduling) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return 0, err
	}
	s.f.nextSched++
	sch.ID = s.f.nextSched
	sch.Created = time.Now()
	cp := sch
	s.f.Schedulings = append(s.f.Schedulings, &cp)
	return sch.ID, nil
}

func (s *schedulingStore) ByID(ctx context.Context, id int64) (*store.Scheduling, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	for _, sch := range s.f.Schedulings {
		if sch.ID == id {
			cp := *sch
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *schedulingStore) ByDateRange(ctx context.Context, from, to time.Time) ([]store.Scheduling, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	var out []store.Scheduling
	for _, sch := range s.f.Schedulings {
		if sch.Status == store.SchedulingCancelled {
			continue
		}
		if !sch.Date.Before(from) && sch.Date.Before(to) {
			out = append(out, *sch)
		}
	}
	return out, nil
}

func (s *schedulingStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for _, sch := range s.f.Schedulings {
		if sch.ID == id {
			sch.Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *schedulingStore) MarkReminderSent(ctx context.Context, id int64) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for _, sch := range s.f.Schedulings {
		if sch.ID == id {
			sch.ReminderSent = true
			return nil
		}
	}
	return store.ErrNotFound
}

type invoiceStore struct{ f *Fixture }

func (s *invoiceStore) ByUser(ctx context.Context, userID int64) ([]store.Invoice, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	var out []store.Invoice
	for _, inv := range s.f.InvoiceRows {
		if inv.UserID == userID && !inv.Paid {
			out = append(out, inv)
		}
	}
	return out, nil
}

type ratingStore struct{ f *Fixture }

func (s *ratingStore) Save(ctx context.Context, r store.Rating) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	r.Created = time.Now()
	s.f.Ratings = append(s.f.Ratings, r)
	return nil
}

type surveyStore struct{ f *Fixture }

func (s *surveyStore) HasRecent(ctx context.Context, userID int64, since time.Time) (bool, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return false, err
	}
	for _, sv := range s.f.Surveys {
		if sv.UserID == userID && !sv.Created.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *surveyStore) Create(ctx context.Context, userID int64, serviceType string) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return 0, err
	}
	s.f.nextSurvey++
	s.f.Surveys = append(s.f.Surveys, store.SurveyRequest{
		ID: s.f.nextSurvey, UserID: userID, ServiceType: serviceType,
		Status: "pending", Created: time.Now(),
	})
	return s.f.nextSurvey, nil
}

func (s *surveyStore) Complete(ctx context.Context, userID int64) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for i := range s.f.Surveys {
		if s.f.Surveys[i].UserID == userID && s.f.Surveys[i].Status != "done" {
			s.f.Surveys[i].Status = "done"
		}
	}
	return nil
}

func (s *surveyStore) EnqueueRequest(ctx context.Context, userID int64, serviceType string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	s.f.nextSurvey++
	s.f.SurveyRequests = append(s.f.SurveyRequests, &store.SurveyRequest{
		ID: s.f.nextSurvey, UserID: userID, ServiceType: serviceType,
		Status: "pending", Created: time.Now(),
	})
	return nil
}

func (s *surveyStore) NextPendingRequest(ctx context.Context) (*store.SurveyRequest, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	for _, r := range s.f.SurveyRequests {
		if r.Status == "pending" {
			cp := *r
			for _, u := range s.f.users {
				if u.ID == cp.UserID {
					cp.Phone = u.Phone
				}
			}
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *surveyStore) MarkRequestProcessing(ctx context.Context, id int64) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	for _, r := range s.f.SurveyRequests {
		if r.ID == id {
			r.Status = "processing"
			return nil
		}
	}
	return store.ErrNotFound
}

type messageStore struct{ f *Fixture }

func (s *messageStore) Save(ctx context.Context, userID int64, direction, body string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	s.f.MessageRows = append(s.f.MessageRows, store.Message{
		ID: int64(len(s.f.MessageRows) + 1), UserID: userID,
		Direction: direction, Body: body, Created: time.Now(),
	})
	return nil
}

func (s *messageStore) History(ctx context.Context, userID int64, limit int) ([]store.Message, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	var out []store.Message
	for i := len(s.f.MessageRows) - 1; i >= 0; i-- {
		if s.f.MessageRows[i].UserID == userID {
			out = append(out, s.f.MessageRows[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type settingStore struct{ f *Fixture }

func (s *settingStore) Get(ctx context.Context, key string) (string, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return "", err
	}
	return s.f.settings[key], nil
}

func (s *settingStore) Set(ctx context.Context, key, value string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return err
	}
	s.f.settings[key] = value
	return nil
}

func (s *settingStore) All(ctx context.Context) (map[string]string, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.err(); err != nil {
		return nil, err
	}
	out := map[string]string{}
	for k, v := range s.f.settings {
		out[k] = v
	}
	return out, nil
}

func (s *settingStore) Text(ctx context.Context, key string) string {
	v, _ := s.Get(ctx, "text."+key)
	return v
}
