package sharding

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, opts ...RouterOption) *Router {
	t.Helper()
	router, err := NewRouter(testRule(t), opts...)
	require.NoError(t, err)
	return router
}

// routeAndRewrite binds sql, routes it and renders every unit.
func routeAndRewrite(t *testing.T, router *Router, sql string, engine DatabaseEngine, params ...any) (*RouteResult, []*SQLUnit) {
	t.Helper()
	stmt, err := Bind(sql, engine)
	require.NoError(t, err)
	result, err := router.Route(stmt, params)
	require.NoError(t, err)
	units, err := router.RewriteAll(stmt, result)
	require.NoError(t, err)
	return result, units
}

// assertEachUnit checks every unit against expected with {t} standing for
// the actual table of logic in that unit.
func assertEachUnit(t *testing.T, units []*SQLUnit, logic, expected string) {
	t.Helper()
	for _, u := range units {
		actual, ok := u.Unit.ActualTable(logic)
		require.True(t, ok, "unit %s does not map %s", u.Unit, logic)
		assert.Equal(t, strings.ReplaceAll(expected, "{t}", actual), u.SQL, "unit %s", u.Unit)
	}
}

func unitOn(t *testing.T, units []*SQLUnit, dataSource string) *SQLUnit {
	t.Helper()
	for _, u := range units {
		if u.Unit.DataSource == dataSource {
			return u
		}
	}
	require.FailNow(t, "no unit on "+dataSource)
	return nil
}

func sqlsOf(units []*SQLUnit) []string {
	sqls := make([]string, 0, len(units))
	for _, u := range units {
		sqls = append(sqls, u.SQL)
	}
	return sqls
}

func TestNewRouter(t *testing.T) {
	_, err := NewRouter(nil)
	assert.ErrorIs(t, err, ErrInvalidRule)

	unbuilt := &ShardingRule{
		DataSourceNames: []string{"ds_0"},
		TableRules:      []*TableRule{{LogicTable: "T_Log"}},
	}
	router, err := NewRouter(unbuilt)
	require.NoError(t, err)
	_, ok := router.Rule().TableRule("t_log")
	assert.True(t, ok)

	_, err = NewRouter(&ShardingRule{})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRouterSingleUnit(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router,
		"SELECT * FROM t_order WHERE user_id = $1 AND order_id = $2", EnginePostgreSQL, 1, 3)

	require.Len(t, units, 1)
	assert.Equal(t, unit("ds_1", "t_order=t_order_1"), units[0].Unit)
	assert.Equal(t, "SELECT * FROM t_order_1 WHERE user_id = $1 AND order_id = $2", units[0].SQL)
	assert.Equal(t, []any{1, 3}, units[0].Parameters)
	assert.False(t, result.FullScatter)
	assert.False(t, router.Merging(result))
}

func TestRouterMergesConditions(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router,
		"SELECT * FROM t_order WHERE user_id = 0 AND order_id IN (1, 2, 3, 4) AND order_id BETWEEN 2 AND 3", EnginePostgreSQL)

	require.Len(t, result.Conditions.Conditions, 1)
	value, ok := result.Conditions.Conditions[0].ValueOf(NewColumn("order_id", "t_order"))
	require.True(t, ok)
	assert.True(t, EqualValues(mustList(t, 2, 3), value))

	assert.Len(t, units, 2)
	assertEachUnit(t, units, "t_order",
		"SELECT * FROM {t} WHERE user_id = 0 AND order_id IN (1, 2, 3, 4) AND order_id BETWEEN 2 AND 3")
	assert.Equal(t, []string{"ds_0"}, result.DataSources())
}

func TestRouterAlwaysFalse(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router,
		"SELECT * FROM t_order WHERE order_id IN (1, 2) AND order_id IN (3, 4)", EnginePostgreSQL)

	assert.True(t, result.Conditions.AlwaysFalse())
	assert.True(t, result.IsEmpty())
	assert.Empty(t, units)
}

func TestRouterDisjunctionDoesNotDuplicateUnits(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router,
		"SELECT * FROM t_order WHERE user_id = 0 AND (order_id IN (1, 2) OR order_id IN (2, 3))", EnginePostgreSQL)

	require.Len(t, units, 2)
	assert.NotEqual(t, units[0].Unit.Key(), units[1].Unit.Key())
}

func TestRouterBindingJoin(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router,
		"SELECT o.*, i.* FROM t_order o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.user_id = 0 AND o.order_id = 1",
		EnginePostgreSQL)

	require.Len(t, units, 1)
	assert.Equal(t,
		"SELECT o.*, i.* FROM t_order_1 o JOIN t_order_item_1 i ON o.order_id = i.order_id WHERE o.user_id = 0 AND o.order_id = 1",
		units[0].SQL)
}

func TestRouterBindingJoinSiblingCondition(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router,
		"SELECT o.*, i.* FROM t_order o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.user_id = 0 AND i.order_id = 1",
		EnginePostgreSQL)

	require.Len(t, units, 1)
	assert.Equal(t, unit("ds_0", "t_order=t_order_1", "t_order_item=t_order_item_1"), units[0].Unit)

	_, units = routeAndRewrite(t, router,
		"SELECT o.*, i.* FROM t_order o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.order_id IN (1, 2) AND i.order_id = 2",
		EnginePostgreSQL)

	require.Len(t, units, 2)
	assertEachUnit(t, units, "t_order_item",
		"SELECT o.*, i.* FROM t_order_0 o JOIN {t} i ON o.order_id = i.order_id WHERE o.order_id IN (1, 2) AND i.order_id = 2")

	_, units = routeAndRewrite(t, router,
		"SELECT o.*, i.* FROM t_order o JOIN t_order_item i ON o.order_id = i.order_id WHERE o.order_id = 1 AND i.order_id = 2",
		EnginePostgreSQL)
	assert.Empty(t, units)
}

func TestRouterCartesian(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router,
		"SELECT * FROM t_order o, t_user u WHERE o.user_id = 0", EnginePostgreSQL)

	assert.True(t, result.Cartesian)
	assert.ElementsMatch(t, []string{
		"SELECT * FROM t_order_0 o, t_user_0 u WHERE o.user_id = 0",
		"SELECT * FROM t_order_0 o, t_user_1 u WHERE o.user_id = 0",
		"SELECT * FROM t_order_1 o, t_user_0 u WHERE o.user_id = 0",
		"SELECT * FROM t_order_1 o, t_user_1 u WHERE o.user_id = 0",
	}, sqlsOf(units))
}

func TestRouterBroadcastWrite(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router, "UPDATE t_config SET v = 1", EnginePostgreSQL)

	require.Len(t, units, 2)
	assert.Equal(t, []string{"ds_0", "ds_1"}, result.DataSources())
	for _, u := range units {
		assert.Equal(t, "UPDATE t_config SET v = 1", u.SQL)
	}
}

func TestRouterSchemaQualifiedMySQL(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router,
		"UPDATE logic_db.t_order SET status = ? WHERE user_id = ? AND order_id = ?", EngineMySQL, "paid", 1, 3)

	require.Len(t, units, 1)
	assert.Equal(t, "UPDATE ds_1.t_order_1 SET status = ? WHERE user_id = ? AND order_id = ?", units[0].SQL)
	assert.Equal(t, []any{"paid", 1, 3}, units[0].Parameters)
}

func TestRouterQuotedTable(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router,
		`SELECT * FROM "t_order" WHERE user_id = 1 AND order_id = 1`, EnginePostgreSQL)

	require.Len(t, units, 1)
	assert.Equal(t, `SELECT * FROM "t_order_1" WHERE user_id = 1 AND order_id = 1`, units[0].SQL)
}

func TestRouterPagination(t *testing.T) {
	t.Run("mysql offset and count", func(t *testing.T) {
		router := newTestRouter(t)
		_, units := routeAndRewrite(t, router,
			"SELECT * FROM t_order WHERE user_id = 0 ORDER BY order_id LIMIT 2, 2", EngineMySQL)

		require.Len(t, units, 2)
		assertEachUnit(t, units, "t_order", "SELECT * FROM {t} WHERE user_id = 0 ORDER BY order_id LIMIT 0, 4")
	})

	t.Run("bound operands", func(t *testing.T) {
		router := newTestRouter(t)
		_, units := routeAndRewrite(t, router,
			"SELECT * FROM t_order WHERE user_id = $1 ORDER BY order_id LIMIT $2 OFFSET $3", EnginePostgreSQL, 0, 10, 20)

		require.Len(t, units, 2)
		assertEachUnit(t, units, "t_order", "SELECT * FROM {t} WHERE user_id = $1 ORDER BY order_id LIMIT $2 OFFSET $3")
		for _, u := range units {
			assert.Equal(t, []any{0, int64(30), int64(0)}, u.Parameters)
		}
	})

	t.Run("mysql bound offset and count", func(t *testing.T) {
		router := newTestRouter(t)
		_, units := routeAndRewrite(t, router,
			"SELECT * FROM t_order WHERE user_id = ? ORDER BY order_id LIMIT ?, ?", EngineMySQL, 0, 20, 10)

		require.Len(t, units, 2)
		assertEachUnit(t, units, "t_order", "SELECT * FROM {t} WHERE user_id = ? ORDER BY order_id LIMIT ?, ?")
		for _, u := range units {
			assert.Equal(t, []any{0, int64(0), int64(30)}, u.Parameters)
		}
	})

	t.Run("single unit keeps pagination", func(t *testing.T) {
		router := newTestRouter(t)
		_, units := routeAndRewrite(t, router,
			"SELECT * FROM t_order WHERE user_id = 0 AND order_id = 0 LIMIT 5 OFFSET 10", EnginePostgreSQL)

		require.Len(t, units, 1)
		assert.Equal(t, "SELECT * FROM t_order_0 WHERE user_id = 0 AND order_id = 0 LIMIT 5 OFFSET 10", units[0].SQL)
	})

	t.Run("forced merge widens a single unit", func(t *testing.T) {
		router := newTestRouter(t, WithMergeRewrite(true))
		result, units := routeAndRewrite(t, router,
			"SELECT * FROM t_order WHERE user_id = 0 AND order_id = 0 LIMIT 5 OFFSET 10", EnginePostgreSQL)

		assert.True(t, router.Merging(result))
		require.Len(t, units, 1)
		assert.Equal(t, "SELECT * FROM t_order_0 WHERE user_id = 0 AND order_id = 0 LIMIT 15 OFFSET 0", units[0].SQL)
	})
}

func TestRouterDerivedItems(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		expect string
	}{
		{
			name:   "avg",
			sql:    "SELECT user_id, AVG(amount) FROM t_order GROUP BY user_id",
			expect: "SELECT user_id, AVG(amount), COUNT(amount) AS AVG_DERIVED_COUNT_0, SUM(amount) AS AVG_DERIVED_SUM_0 FROM {t} GROUP BY user_id",
		},
		{
			name:   "order by column not projected",
			sql:    "SELECT order_id, status FROM t_order ORDER BY created_at DESC LIMIT 10",
			expect: "SELECT order_id, status, created_at AS ORDER_BY_DERIVED_0 FROM {t} ORDER BY created_at DESC LIMIT 10",
		},
		{
			name:   "group by column not projected",
			sql:    "SELECT COUNT(*) FROM t_order GROUP BY status",
			expect: "SELECT COUNT(*), status AS GROUP_BY_DERIVED_0 FROM {t} GROUP BY status",
		},
		{
			name:   "projected order by",
			sql:    "SELECT order_id, status FROM t_order ORDER BY status",
			expect: "SELECT order_id, status FROM {t} ORDER BY status",
		},
		{
			name:   "count distinct",
			sql:    "SELECT COUNT(DISTINCT user_id) FROM t_order",
			expect: "SELECT DISTINCT user_id AS AGGREGATION_DISTINCT_DERIVED_0 FROM {t}",
		},
		{
			name:   "count distinct with alias",
			sql:    "SELECT COUNT(DISTINCT user_id) AS users FROM t_order",
			expect: "SELECT DISTINCT user_id AS users FROM {t}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t)
			_, units := routeAndRewrite(t, router, tt.sql, EnginePostgreSQL)
			require.Len(t, units, 4)
			assertEachUnit(t, units, "t_order", tt.expect)
		})
	}
}

func TestRouterInsertGeneratesKeys(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router,
		"INSERT INTO t_order (user_id, status) VALUES (?, ?), (?, ?)", EngineMySQL, 0, "a", 1, "b")

	require.NotNil(t, result.GeneratedKey)
	assert.True(t, result.GeneratedKey.Generated)
	assert.Equal(t, []any{int64(100), int64(101)}, result.GeneratedKey.Values)

	require.Len(t, units, 2)
	ds0 := unitOn(t, units, "ds_0")
	assert.Equal(t, "INSERT INTO t_order_0 (user_id, status, order_id) VALUES (?, ?, ?)", ds0.SQL)
	assert.Equal(t, []any{0, "a", int64(100)}, ds0.Parameters)

	ds1 := unitOn(t, units, "ds_1")
	assert.Equal(t, "INSERT INTO t_order_1 (user_id, status, order_id) VALUES (?, ?, ?)", ds1.SQL)
	assert.Equal(t, []any{1, "b", int64(101)}, ds1.Parameters)
}

func TestRouterInsertGeneratedKeyLiteral(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router,
		"INSERT INTO t_order (user_id, status) VALUES ($1, $2)", EnginePostgreSQL, 1, "new")

	require.Len(t, units, 1)
	assert.Equal(t, "INSERT INTO t_order_0 (user_id, status, order_id) VALUES ($1, $2, 100)", units[0].SQL)
	assert.Equal(t, "ds_1", units[0].Unit.DataSource)
	assert.Equal(t, []any{1, "new"}, units[0].Parameters)
}

func TestRouterInsertRenumbersParameters(t *testing.T) {
	router := newTestRouter(t)

	result, units := routeAndRewrite(t, router,
		"INSERT INTO t_order (order_id, user_id) VALUES ($1, $2), ($3, $4) ON CONFLICT (order_id) DO UPDATE SET status = $5",
		EnginePostgreSQL, 10, 0, 11, 1, "x")

	assert.False(t, result.GeneratedKey.Generated)
	require.Len(t, units, 2)

	ds0 := unitOn(t, units, "ds_0")
	assert.Equal(t, "INSERT INTO t_order_0 (order_id, user_id) VALUES ($1, $2) ON CONFLICT (order_id) DO UPDATE SET status = $3", ds0.SQL)
	assert.Equal(t, []any{10, 0, "x"}, ds0.Parameters)

	ds1 := unitOn(t, units, "ds_1")
	assert.Equal(t, "INSERT INTO t_order_1 (order_id, user_id) VALUES ($1, $2) ON CONFLICT (order_id) DO UPDATE SET status = $3", ds1.SQL)
	assert.Equal(t, []any{11, 1, "x"}, ds1.Parameters)
}

func TestRouterCreateIndex(t *testing.T) {
	router := newTestRouter(t)

	_, units := routeAndRewrite(t, router, "CREATE INDEX idx_status ON t_order (status)", EnginePostgreSQL)

	require.Len(t, units, 4)
	assertEachUnit(t, units, "t_order", "CREATE INDEX idx_status_{t} ON {t} (status)")
}

func TestRouterErrors(t *testing.T) {
	router := newTestRouter(t)

	_, err := router.Route(nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedStatement)

	tests := []struct {
		name   string
		sql    string
		params []any
		err    error
	}{
		{
			name: "insert select into sharded table",
			sql:  "INSERT INTO t_order (order_id, user_id) SELECT order_id, user_id FROM t_order_item",
			err:  ErrUnsupportedStatement,
		},
		{
			name: "generated key without column list",
			sql:  "INSERT INTO t_order VALUES (1, 2)",
			err:  ErrInsertColumnsRequired,
		},
		{
			name: "null sharding value",
			sql:  "INSERT INTO t_order (order_id, user_id) VALUES (1, NULL)",
			err:  ErrShardingValueIsNull,
		},
		{
			name:   "NaN sharding value",
			sql:    "SELECT * FROM t_order WHERE order_id IN ($1, $2)",
			params: []any{math.NaN(), 1.0},
			err:    ErrInvalidShardingValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Bind(tt.sql, EnginePostgreSQL)
			require.NoError(t, err)
			_, err = router.Route(stmt, tt.params)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRouterRewriteIsRepeatable(t *testing.T) {
	router := newTestRouter(t)

	stmt, err := Bind("SELECT order_id FROM t_order ORDER BY created_at LIMIT $1 OFFSET $2", EnginePostgreSQL)
	require.NoError(t, err)
	params := []any{10, 5}
	result, err := router.Route(stmt, params)
	require.NoError(t, err)
	require.Len(t, result.Units, 4)

	first, err := router.Rewrite(stmt, result, result.Units[0])
	require.NoError(t, err)
	second, err := router.Rewrite(stmt, result, result.Units[0])
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []any{10, 5}, params)
	assert.Equal(t, []any{10, 5}, result.Parameters)
	assert.Equal(t, []any{int64(15), int64(0)}, first.Parameters)
}

func TestRouterRewriteUnmappedTable(t *testing.T) {
	router := newTestRouter(t)

	stmt, err := Bind("SELECT * FROM t_order", EnginePostgreSQL)
	require.NoError(t, err)
	result, err := router.Route(stmt, nil)
	require.NoError(t, err)

	_, err = router.Rewrite(stmt, result, unit("ds_0", "t_user=t_user_0"))
	assert.ErrorIs(t, err, ErrUnresolvablePlaceholder)
	var placeholder *UnresolvablePlaceholderError
	require.ErrorAs(t, err, &placeholder)
	assert.Equal(t, "t_order", placeholder.LogicTable)
}

func TestSortTokensRejectsOverlap(t *testing.T) {
	tokens := []Token{
		&TableToken{span: span{14, 21}, LogicTable: "t_order"},
		&SchemaToken{span: span{10, 16}, LogicTable: "t_order"},
	}
	assert.ErrorIs(t, sortTokens(tokens, 30), ErrInvalidToken)

	outside := []Token{&TableToken{span: span{14, 40}, LogicTable: "t_order"}}
	assert.ErrorIs(t, sortTokens(outside, 30), ErrInvalidToken)

	ok := []Token{
		&ItemsToken{span: span{20, 20}},
		&TableToken{span: span{14, 20}, LogicTable: "t_order"},
	}
	require.NoError(t, sortTokens(ok, 30))
	assert.Equal(t, 14, ok[0].Start())
}
