package persistence

import (
	"context"
	"database/sql"
)

// Executor is satisfied by both *sql.DB and *sql.Tx so repository calls
// can join a caller's transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
