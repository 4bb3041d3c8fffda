package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/suporttech/zapdesk/internal/store"
)

// PGSchedulingStore implements store.SchedulingStore backed by Postgres.
type PGSchedulingStore struct {
	db *sql.DB
}

func NewPGSchedulingStore(db *sql.DB) *PGSchedulingStore {
	return &PGSchedulingStore{db: db}
}

func (s *PGSchedulingStore) Save(ctx context.Context, sch store.Scheduling) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO schedulings
		   (user_id, event_id, service_type, service_option, description, date, status, reminder_sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, now())
		 RETURNING id`,
		sch.UserID, nilStr(sch.EventID), sch.ServiceType, nilStr(sch.ServiceOption),
		nilStr(sch.Description), sch.Date, sch.Status).Scan(&id)
	if err != nil {
		return 0, storeErr("save scheduling", err)
	}
	return id, nil
}

const schedulingCols = `s.id, s.user_id, COALESCE(s.event_id,''), s.service_type,
	COALESCE(s.service_option,''), COALESCE(s.description,''), s.date, s.status,
	s.reminder_sent, s.created_at, u.phone, COALESCE(u.name,''), COALESCE(u.address,'')`

func scanScheduling(scan func(...any) error) (store.Scheduling, error) {
	var sch store.Scheduling
	err := scan(&sch.ID, &sch.UserID, &sch.EventID, &sch.ServiceType,
		&sch.ServiceOption, &sch.Description, &sch.Date, &sch.Status,
		&sch.ReminderSent, &sch.Created, &sch.Phone, &sch.Name, &sch.Address)
	return sch, err
}

func (s *PGSchedulingStore) ByID(ctx context.Context, id int64) (*store.Scheduling, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+schedulingCols+`
		 FROM schedulings s JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1`, id)
	sch, err := scanScheduling(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("load scheduling", err)
	}
	return &sch, nil
}

func (s *PGSchedulingStore) ByDateRange(ctx context.Context, from, to time.Time) ([]store.Scheduling, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+schedulingCols+`
		 FROM schedulings s JOIN users u ON u.id = s.user_id
		 WHERE s.date >= $1 AND s.date < $2 AND s.status <> $3
		 ORDER BY s.date`, from, to, store.SchedulingCancelled)
	if err != nil {
		return nil, storeErr("range schedulings", err)
	}
	defer rows.Close()

	var out []store.Scheduling
	for rows.Next() {
		sch, err := scanScheduling(rows.Scan)
		if err != nil {
			return nil, storeErr("scan scheduling", err)
		}
		out = append(out, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("range schedulings", err)
	}
	return out, nil
}

func (s *PGSchedulingStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedulings SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return storeErr("update scheduling", err)
	}
	return nil
}

func (s *PGSchedulingStore) MarkReminderSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedulings SET reminder_sent = true WHERE id = $1`, id)
	if err != nil {
		return storeErr("mark reminder", err)
	}
	return nil
}
