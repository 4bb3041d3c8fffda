package pg

import (
	"context"
	"database/sql"

	"github.com/suporttech/zapdesk/internal/store"
)

// PGMenuStore implements store.MenuStore backed by Postgres.
type PGMenuStore struct {
	db *sql.DB
}

func NewPGMenuStore(db *sql.DB) *PGMenuStore {
	return &PGMenuStore{db: db}
}

func (s *PGMenuStore) LoadAll(ctx context.Context) ([]store.MenuRow, []store.MenuOptionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, title, COALESCE(message,'') FROM menus ORDER BY id`)
	if err != nil {
		return nil, nil, storeErr("load menus", err)
	}
	defer rows.Close()

	var menus []store.MenuRow
	for rows.Next() {
		var m store.MenuRow
		if err := rows.Scan(&m.ID, &m.Key, &m.Title, &m.Message); err != nil {
			return nil, nil, storeErr("scan menu", err)
		}
		menus = append(menus, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storeErr("load menus", err)
	}

	optRows, err := s.db.QueryContext(ctx,
		`SELECT id, menu_id, option_id, title,
		        COALESCE(next_menu,''), COALESCE(handler,''),
		        COALESCE(agent_phone,''), COALESCE(config_key,'')
		 FROM menu_options ORDER BY menu_id, option_id`)
	if err != nil {
		return nil, nil, storeErr("load menu options", err)
	}
	defer optRows.Close()

	var opts []store.MenuOptionRow
	for optRows.Next() {
		var o store.MenuOptionRow
		if err := optRows.Scan(&o.ID, &o.MenuID, &o.OptionID, &o.Title,
			&o.NextMenu, &o.Handler, &o.AgentPhone, &o.ConfigKey); err != nil {
			return nil, nil, storeErr("scan menu option", err)
		}
		opts = append(opts, o)
	}
	if err := optRows.Err(); err != nil {
		return nil, nil, storeErr("load menu options", err)
	}
	return menus, opts, nil
}

func (s *PGMenuStore) Save(ctx context.Context, row store.MenuRow, options []store.MenuOptionRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("save menu", err)
	}
	defer tx.Rollback()

	var menuID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO menus (key, title, message)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET title = EXCLUDED.title, message = EXCLUDED.message
		 RETURNING id`,
		row.Key, row.Title, row.Message).Scan(&menuID)
	if err != nil {
		return storeErr("save menu", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM menu_options WHERE menu_id = $1`, menuID); err != nil {
		return storeErr("save menu", err)
	}
	for _, o := range options {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO menu_options (menu_id, option_id, title, next_menu, handler, agent_phone, config_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			menuID, o.OptionID, o.Title,
			nilStr(o.NextMenu), nilStr(o.Handler), nilStr(o.AgentPhone), nilStr(o.ConfigKey))
		if err != nil {
			return storeErr("save menu option", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("save menu", err)
	}
	return nil
}
