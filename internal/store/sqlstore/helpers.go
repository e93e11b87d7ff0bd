package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

func nilTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

func jsonOrEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// execMapUpdate builds and runs a dynamic UPDATE from a column->value map,
// keyed by a string id column (both sqlite and postgres engines store ids
// as text-compatible values via sqlx's driver-agnostic bind).
func execMapUpdate(ctx context.Context, db *sqlx.DB, table, idCol string, id any, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	var setClauses []string
	args := make([]any, 0, len(updates)+1)
	for col, val := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", col))
		args = append(args, val)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(setClauses, ", "), idCol)
	_, err := db.ExecContext(ctx, db.Rebind(q), args...)
	return err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after rollback).
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
