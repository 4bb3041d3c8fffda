package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/suporttech/zapdesk/internal/store"
)

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userCols = `id, phone, COALESCE(name,''), COALESCE(address,''), COALESCE(complement,''), COALESCE(email,''), blocked, created_at, updated_at`

func scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.Address, &u.Complement, &u.Email, &u.Blocked, &u.Created, &u.Updated)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGUserStore) GetOrCreate(ctx context.Context, phone string) (*store.User, error) {
	// Upsert keeps concurrent first contacts from racing into
	// duplicate rows.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone, created_at, updated_at)
		 VALUES ($1, now(), now()) ON CONFLICT (phone) DO NOTHING`, phone)
	if err != nil {
		return nil, storeErr("create user", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE phone = $1`, phone)
	u, err := scanUser(row)
	if err != nil {
		return nil, storeErr("load user", err)
	}
	return u, nil
}

func (s *PGUserStore) UpdateDetails(ctx context.Context, id int64, patch store.UserPatch) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.Complement != nil {
		add("complement", *patch.Complement)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Blocked != nil {
		add("blocked", *patch.Blocked)
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return storeErr("update user", err)
	}
	return nil
}

func (s *PGUserStore) FindByPhoneOrName(ctx context.Context, query string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE phone = $1 OR lower(name) LIKE lower($2)
		 ORDER BY updated_at DESC LIMIT 1`,
		query, "%"+query+"%")
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find user", err)
	}
	return u, nil
}

func (s *PGUserStore) IsBlocked(ctx context.Context, phone string) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT blocked FROM users WHERE phone = $1`, phone).Scan(&blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("check blocked", err)
	}
	return blocked, nil
}

func (s *PGUserStore) SaveLastChoice(ctx context.Context, userID int64, menuKey string, option int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_choices (user_id, menu_key, option_id, created_at)
		 VALUES ($1, $2, $3, now())`,
		userID, menuKey, option)
	if err != nil {
		return storeErr("save choice", err)
	}
	return nil
}
