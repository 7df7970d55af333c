package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/adledger/internal/ledger"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

// codeLockNotAvailable is raised when lock_timeout expires
const codeLockNotAvailable = "55P03"

// pgCode extracts the SQLSTATE from either driver's error type
func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapError turns driver errors into ledger sentinels where one applies
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if pgCode(err) == codeLockNotAvailable {
		return fmt.Errorf("%w: %v", ledger.ErrLockTimeout, err)
	}
	return err
}

// inQuery expands a slice argument with sqlx.In and rebinds for the executor
func inQuery(db DBExecutor, query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand query: %w", err)
	}
	return db.Rebind(q), a, nil
}

// valuesClause builds "($1, $2), ($3, $4)" style placeholders for batch inserts
func valuesClause(rows, cols int) string {
	groups := make([]string, rows)
	for i := 0; i < rows; i++ {
		ph := make([]string, cols)
		for j := 0; j < cols; j++ {
			ph[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		groups[i] = "(" + strings.Join(ph, ", ") + ")"
	}
	return strings.Join(groups, ", ")
}
