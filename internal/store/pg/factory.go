// Package pg implements the store interfaces on Postgres via
// database/sql with the pgx stdlib driver.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/suporttech/zapdesk/internal/store"
)

// OpenDB opens a pooled connection to Postgres and verifies it.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPGStores creates all stores backed by a single Postgres pool.
func NewPGStores(dsn string) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, err
	}
	return &store.Stores{
		Users:       NewPGUserStore(db),
		Sessions:    NewPGSessionStore(db),
		Menus:       NewPGMenuStore(db),
		Schedulings: NewPGSchedulingStore(db),
		Invoices:    NewPGInvoiceStore(db),
		Ratings:     NewPGRatingStore(db),
		Surveys:     NewPGSurveyStore(db),
		Messages:    NewPGMessageStore(db),
		Settings:    NewPGSettingStore(db),
	}, db, nil
}

// nilStr maps empty strings to NULL on write.
func nilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// storeErr wraps a driver error with the sentinel the callers test for.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, store.ErrStorage, err)
}
