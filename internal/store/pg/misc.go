package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/suporttech/zapdesk/internal/store"
)

// PGInvoiceStore implements store.InvoiceStore backed by Postgres.
type PGInvoiceStore struct {
	db *sql.DB
}

func NewPGInvoiceStore(db *sql.DB) *PGInvoiceStore {
	return &PGInvoiceStore{db: db}
}

func (s *PGInvoiceStore) ByUser(ctx context.Context, userID int64) ([]store.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, COALESCE(reference,''), amount, due_date, paid, COALESCE(pdf_path,'')
		 FROM invoices WHERE user_id = $1 AND NOT paid
		 ORDER BY due_date`, userID)
	if err != nil {
		return nil, storeErr("load invoices", err)
	}
	defer rows.Close()

	var out []store.Invoice
	for rows.Next() {
		var inv store.Invoice
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.Reference, &inv.Amount,
			&inv.DueDate, &inv.Paid, &inv.PDFPath); err != nil {
			return nil, storeErr("scan invoice", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load invoices", err)
	}
	return out, nil
}

// PGRatingStore implements store.RatingStore backed by Postgres.
type PGRatingStore struct {
	db *sql.DB
}

func NewPGRatingStore(db *sql.DB) *PGRatingStore {
	return &PGRatingStore{db: db}
}

func (s *PGRatingStore) Save(ctx context.Context, r store.Rating) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ratings (user_id, session_id, agent_phone, menu_path, score, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		r.UserID, r.SessionID, nilStr(r.AgentPhone), nilStr(r.MenuPath), r.Score, nilStr(r.Comment))
	if err != nil {
		return storeErr("save rating", err)
	}
	return nil
}

// PGSurveyStore implements store.SurveyStore backed by Postgres.
type PGSurveyStore struct {
	db *sql.DB
}

func NewPGSurveyStore(db *sql.DB) *PGSurveyStore {
	return &PGSurveyStore{db: db}
}

func (s *PGSurveyStore) HasRecent(ctx context.Context, userID int64, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM surveys WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&n)
	if err != nil {
		return false, storeErr("check surveys", err)
	}
	return n > 0, nil
}

func (s *PGSurveyStore) Create(ctx context.Context, userID int64, serviceType string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO surveys (user_id, service_type, status, created_at)
		 VALUES ($1, $2, 'pending', now()) RETURNING id`,
		userID, serviceType).Scan(&id)
	if err != nil {
		return 0, storeErr("create survey", err)
	}
	return id, nil
}

func (s *PGSurveyStore) Complete(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE surveys SET status = 'done'
		 WHERE user_id = $1 AND status <> 'done'`, userID)
	if err != nil {
		return storeErr("complete survey", err)
	}
	return nil
}

func (s *PGSurveyStore) EnqueueRequest(ctx context.Context, userID int64, serviceType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO survey_requests (user_id, service_type, status, created_at)
		 VALUES ($1, $2, 'pending', now())`, userID, serviceType)
	if err != nil {
		return storeErr("enqueue survey request", err)
	}
	return nil
}

func (s *PGSurveyStore) NextPendingRequest(ctx context.Context) (*store.SurveyRequest, error) {
	var r store.SurveyRequest
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.user_id, r.service_type, r.status, r.created_at, u.phone
		 FROM survey_requests r JOIN users u ON u.id = r.user_id
		 WHERE r.status = 'pending'
		 ORDER BY r.created_at LIMIT 1`).Scan(&r.ID, &r.UserID, &r.ServiceType, &r.Status, &r.Created, &r.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("next survey request", err)
	}
	return &r, nil
}

func (s *PGSurveyStore) MarkRequestProcessing(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE survey_requests SET status = 'processing' WHERE id = $1`, id)
	if err != nil {
		return storeErr("mark survey request", err)
	}
	return nil
}

// PGMessageStore implements store.MessageStore backed by Postgres.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

func (s *PGMessageStore) Save(ctx context.Context, userID int64, direction, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, direction, body, created_at)
		 VALUES ($1, $2, $3, now())`, userID, direction, body)
	if err != nil {
		return storeErr("save message", err)
	}
	return nil
}

func (s *PGMessageStore) History(ctx context.Context, userID int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, direction, body, created_at
		 FROM messages WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, storeErr("load history", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Direction, &m.Body, &m.Created); err != nil {
			return nil, storeErr("scan message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load history", err)
	}
	return out, nil
}

// PGSettingStore implements store.SettingStore backed by Postgres.
type PGSettingStore struct {
	db *sql.DB
}

func NewPGSettingStore(db *sql.DB) *PGSettingStore {
	return &PGSettingStore{db: db}
}

func (s *PGSettingStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get setting", err)
	}
	return v, nil
}

func (s *PGSettingStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return storeErr("set setting", err)
	}
	return nil
}

func (s *PGSettingStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, storeErr("load settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, storeErr("scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load settings", err)
	}
	return out, nil
}

// Text looks up a custom text template. Errors degrade to "" so a
// storage blip falls back to the built-in copy instead of failing the
// reply.
func (s *PGSettingStore) Text(ctx context.Context, key string) string {
	v, err := s.Get(ctx, "text."+key)
	if err != nil {
		return ""
	}
	return v
}
