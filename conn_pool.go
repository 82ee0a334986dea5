package sharding

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// ShardConnPool Implement a ConnPool for replace db.Statement.ConnPool in Gorm
type ShardConnPool struct {
	// db, This is global db instance
	sharding *Sharding
	gorm.ConnPool
}

type ShardTxCommitter struct {
	sharding *Sharding
	gorm.ConnPool
	// origin is the pool the transaction was begun from
	origin gorm.ConnPool
}

func (pool *ShardConnPool) String() string {
	return "gorm:sharding:conn_pool"
}

func (pool ShardConnPool) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return pool.ConnPool.PrepareContext(ctx, query)
}

// ExecContext runs the statement on every unit it routes to and sums the
// affected rows.
func (pool ShardConnPool) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if shardingDisabled(ctx) {
		return pool.ConnPool.ExecContext(ctx, query, args...)
	}
	q, err := pool.sharding.resolve(query, args...)
	if err != nil {
		return nil, err
	}
	if q == nil {
		pool.sharding.querys.Store("last_query", query)
		return pool.ConnPool.ExecContext(ctx, query, args...)
	}

	return pool.execUnits(ctx, q.units)
}

// https://github.com/go-gorm/gorm/blob/v1.21.11/callbacks/query.go#L18
func (pool ShardConnPool) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if shardingDisabled(ctx) {
		return pool.ConnPool.QueryContext(ctx, query, args...)
	}
	q, err := pool.sharding.resolve(query, args...)
	if err != nil {
		return nil, err
	}
	if q == nil {
		pool.sharding.querys.Store("last_query", query)
		return pool.ConnPool.QueryContext(ctx, query, args...)
	}

	unit, err := pool.sharding.readUnit(q)
	if err != nil {
		return nil, err
	}
	conn, err := pool.sharding.pool(unit.Unit.DataSource, pool.ConnPool)
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, unit.SQL, unit.Parameters...)
}

// QueryRowContext can not report routing errors through *sql.Row, so a query
// that fails to route is logged and sent to the database as written.
func (pool ShardConnPool) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if shardingDisabled(ctx) {
		return pool.ConnPool.QueryRowContext(ctx, query, args...)
	}
	q, err := pool.sharding.resolve(query, args...)
	if err == nil && q != nil {
		var unit *SQLUnit
		if unit, err = pool.sharding.readUnit(q); err == nil {
			var conn gorm.ConnPool
			if conn, err = pool.sharding.pool(unit.Unit.DataSource, pool.ConnPool); err == nil {
				return conn.QueryRowContext(ctx, unit.SQL, unit.Parameters...)
			}
		}
	}
	if err != nil {
		errorLog("failed to route %q: %v", query, err)
	}
	pool.sharding.querys.Store("last_query", query)

	return pool.ConnPool.QueryRowContext(ctx, query, args...)
}

// BeginTx Implement ConnPoolBeginner.BeginTx
func (pool *ShardConnPool) BeginTx(ctx context.Context, opt *sql.TxOptions) (gorm.ConnPool, error) {
	switch basePool := pool.ConnPool.(type) {
	case gorm.ConnPoolBeginner:
		return basePool.BeginTx(ctx, opt)
	case gorm.TxBeginner:
		tx, err := basePool.BeginTx(ctx, opt)
		if err != nil {
			return nil, err
		}
		return &ShardTxCommitter{sharding: pool.sharding, ConnPool: tx, origin: pool.ConnPool}, nil
	}

	return pool, gorm.ErrInvalidTransaction
}

// Commit Implement TxCommitter.Commit
func (pool *ShardTxCommitter) Commit() error {
	if basePool, ok := pool.ConnPool.(gorm.TxCommitter); ok {
		return basePool.Commit()
	}

	return gorm.ErrInvalidTransaction
}

// Rollback Implement TxCommitter.Rollback
func (pool *ShardTxCommitter) Rollback() error {
	if basePool, ok := pool.ConnPool.(gorm.TxCommitter); ok {
		return basePool.Rollback()
	}

	return gorm.ErrInvalidTransaction
}

func (pool *ShardConnPool) Ping() error {
	if pinger, ok := pool.ConnPool.(interface{ Ping() error }); ok {
		return pinger.Ping()
	}
	return nil
}
