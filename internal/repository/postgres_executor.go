package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Notifuse/insights/pkg/logger"
)

// PostgresExecutor runs compiled queries on the transactional store. Arguments bind to
// the $N placeholders in order.
type PostgresExecutor struct {
	db     *sql.DB
	logger logger.Logger
}

// NewPostgresExecutor creates an executor over an open connection pool
func NewPostgresExecutor(db *sql.DB, logger logger.Logger) *PostgresExecutor {
	return &PostgresExecutor{
		db:     db,
		logger: logger,
	}
}

// Query executes a statement and returns its rows
func (e *PostgresExecutor) Query(ctx context.Context, query string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		e.logger.WithField("sql", query).WithField("error", err.Error()).Error("Failed to execute analytics query")
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	data, err := scanRows(rows)
	if err != nil {
		e.logger.WithField("error", err.Error()).Error("Failed to read analytics query result")
		return nil, err
	}

	e.logger.WithField("rows", len(data)).Debug("Analytics query executed")
	return data, nil
}
