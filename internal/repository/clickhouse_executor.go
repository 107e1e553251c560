package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/Notifuse/insights/pkg/filter"
	"github.com/Notifuse/insights/pkg/logger"
)

// ClickHouseExecutor runs compiled queries on the analytical store. The query text carries
// typed {val_N:Type} markers; arguments are sent as server-side parameters, never
// interpolated into the statement.
type ClickHouseExecutor struct {
	db     *sql.DB
	logger logger.Logger
}

// NewClickHouseExecutor creates an executor over a clickhouse-go database handle
func NewClickHouseExecutor(db *sql.DB, logger logger.Logger) *ClickHouseExecutor {
	return &ClickHouseExecutor{
		db:     db,
		logger: logger,
	}
}

// Parameters names positional arguments val_0, val_1, ... and renders each as the text
// ClickHouse parses for its placeholder type
func Parameters(args []interface{}) clickhouse.Parameters {
	params := make(clickhouse.Parameters, len(args))
	for i, arg := range args {
		params[filter.ParamName(i)] = filter.FormatClickHouseValue(arg)
	}
	return params
}

// Query executes a statement and returns its rows
func (e *ClickHouseExecutor) Query(ctx context.Context, query string, args []interface{}) ([]map[string]interface{}, error) {
	if len(args) > 0 {
		ctx = clickhouse.Context(ctx, clickhouse.WithParameters(Parameters(args)))
	}

	rows, err := e.db.QueryContext(ctx, query)
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
