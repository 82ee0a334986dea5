package sharding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// execUnits executes the SQL of every route unit on its data source. Units
// run in route order and the first failure stops the batch.
func (pool ShardConnPool) execUnits(ctx context.Context, units []*SQLUnit) (sql.Result, error) {
	if len(units) == 0 {
		if DefaultLogLevel >= LogLevelDebug {
			debugLog("statement routes to no unit, nothing executed")
		}
		return &batchResult{}, nil
	}
	if len(units) == 1 {
		conn, err := pool.sharding.pool(units[0].Unit.DataSource, pool.ConnPool)
		if err != nil {
			return nil, err
		}
		return conn.ExecContext(ctx, units[0].SQL, units[0].Parameters...)
	}

	// Execute each unit separately
	var lastResult sql.Result
	var rowsAffected int64

	for i, unit := range units {
		if DefaultLogLevel >= LogLevelDebug {
			debugLog("Executing unit %s (%d/%d): %s", unit.Unit, i+1, len(units), unit.SQL)
		}

		conn, err := pool.sharding.pool(unit.Unit.DataSource, pool.ConnPool)
		if err != nil {
			return nil, err
		}
		result, err := conn.ExecContext(ctx, unit.SQL, unit.Parameters...)
		if err != nil {
			return nil, fmt.Errorf("error executing unit %s: %w", unit.Unit, err)
		}

		// Keep track of rows affected for final result
		rows, _ := result.RowsAffected()
		rowsAffected += rows
		lastResult = result
	}

	if DefaultLogLevel >= LogLevelInfo {
		infoLog("Successfully executed statement across %d units, affecting %d rows",
			len(units), rowsAffected)
	}

	// Create a result that combines the rows affected
	return &batchResult{
		lastResult:   lastResult,
		rowsAffected: rowsAffected,
	}, nil
}

// batchResult implements the sql.Result interface to represent combined results
// from multiple query executions. It combines the rows affected from all queries
// while preserving the last insert ID from the last executed query.
type batchResult struct {
	// lastResult is the result from the last executed query
	lastResult sql.Result

	// rowsAffected is the sum of rows affected across all executed queries
	rowsAffected int64
}

// LastInsertId returns the last insert ID from the last executed query.
// This is somewhat arbitrary since multiple queries were executed, but
// it satisfies the sql.Result interface.
func (r *batchResult) LastInsertId() (int64, error) {
	if r.lastResult == nil {
		return 0, errors.New("no result available")
	}
	return r.lastResult.LastInsertId()
}

// RowsAffected returns the total number of rows affected across all executed queries.
func (r *batchResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}
