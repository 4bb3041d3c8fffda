package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/suporttech/zapdesk/internal/store"
)

// PGSessionStore implements store.SessionStore backed by Postgres.
//
// The schema carries both a state and a current_menu column; earlier
// versions tracked the open menu separately from the flow state and
// readers of the data still expect both. Writes keep the two columns in
// lockstep so either one reflects where the conversation is.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

const sessionCols = `id, user_id, state, with_agent, COALESCE(agent_phone,''), created_at, updated_at`

func scanSession(row *sql.Row) (*store.SessionRecord, error) {
	var r store.SessionRecord
	err := row.Scan(&r.ID, &r.UserID, &r.State, &r.WithAgent, &r.AgentPhone, &r.Created, &r.Updated)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PGSessionStore) GetActive(ctx context.Context, userID int64) (*store.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE user_id = $1 AND state <> 'finished'
		 ORDER BY updated_at DESC LIMIT 1`, userID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}
	return rec, nil
}

func (s *PGSessionStore) Create(ctx context.Context, userID int64, state string) (*store.SessionRecord, error) {
	rec := &store.SessionRecord{
		ID:     uuid.Must(uuid.NewV7()),
		UserID: userID,
		State:  state,
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO sessions (id, user_id, state, current_menu, with_agent, created_at, updated_at)
		 VALUES ($1, $2, $3, $3, false, now(), now())
		 RETURNING created_at, updated_at`,
		rec.ID, userID, state)
	if err := row.Scan(&rec.Created, &rec.Updated); err != nil {
		return nil, storeErr("create session", err)
	}
	return rec, nil
}

func (s *PGSessionStore) Update(ctx context.Context, id uuid.UUID, patch store.SessionPatch) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.State != nil {
		add("state", *patch.State)
		add("current_menu", *patch.State)
	}
	if patch.WithAgent != nil {
		add("with_agent", *patch.WithAgent)
	}
	if patch.AgentPhone != nil {
		add("agent_phone", nilStr(*patch.AgentPhone))
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return storeErr("update session", err)
	}
	return nil
}

func (s *PGSessionStore) FinishAll(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET state = 'finished', current_menu = 'finished', with_agent = false,
		     agent_phone = NULL, updated_at = now()
		 WHERE user_id = $1 AND state <> 'finished'`, userID)
	if err != nil {
		return storeErr("finish sessions", err)
	}
	return nil
}

func (s *PGSessionStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE state <> 'finished'`).Scan(&n)
	if err != nil {
		return 0, storeErr("count sessions", err)
	}
	return n, nil
}
