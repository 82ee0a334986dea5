package sharding

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expandNodes(t *testing.T, expression string) []DataNode {
	t.Helper()
	names, err := ExpandInlineExpression(expression)
	require.NoError(t, err)
	return nodes(t, names...)
}

// testRule spreads t_order, t_order_item and t_user over ds_0 and ds_1 with
// two tables each. user_id picks the data source; order_id picks the order
// tables and user_id the user tables. t_config is broadcast and tables
// without a rule live in ds_0.
func testRule(t *testing.T) *ShardingRule {
	t.Helper()
	byOrder := NewStandardShardingStrategy("order_id", ModShardingAlgorithm{ShardingCount: 2})
	rule, err := (&ShardingRule{
		DataSourceNames:   []string{"ds_0", "ds_1"},
		DefaultDataSource: "ds_0",
		TableRules: []*TableRule{
			{
				LogicTable:        "t_order",
				ActualDataNodes:   expandNodes(t, "ds_${0..1}.t_order_${0..1}"),
				TableStrategy:     byOrder,
				GenerateKeyColumn: "order_id",
				KeyGenerator:      NewIncrementKeyGenerator(100),
			},
			{
				LogicTable:      "t_order_item",
				ActualDataNodes: expandNodes(t, "ds_${0..1}.t_order_item_${0..1}"),
				TableStrategy:   byOrder,
			},
			{
				LogicTable:      "t_user",
				ActualDataNodes: expandNodes(t, "ds_${0..1}.t_user_${0..1}"),
				TableStrategy:   NewStandardShardingStrategy("user_id", ModShardingAlgorithm{ShardingCount: 2}),
			},
		},
		BindingTableGroups:      [][]string{{"t_order", "t_order_item"}},
		BroadcastTables:         []string{"t_config"},
		DefaultDatabaseStrategy: NewStandardShardingStrategy("user_id", ModShardingAlgorithm{ShardingCount: 2}),
	}).Build()
	require.NoError(t, err)
	return rule
}

// unit builds a route unit from "logic=actual" pairs.
func unit(ds string, pairs ...string) RouteUnit {
	u := RouteUnit{DataSource: ds}
	for _, p := range pairs {
		logic, actual, _ := strings.Cut(p, "=")
		u.TableMappers = append(u.TableMappers, TableMapper{Logic: logic, Actual: actual})
	}
	return u
}

func valueOf(t *testing.T, table, column string, values ...any) ColumnValue {
	return ColumnValue{Column: NewColumn(column, table), Value: mustList(t, values...)}
}

func conditionsOf(t *testing.T, groups ...AndGroup) ShardingConditions {
	t.Helper()
	c, err := MergeAndGroups(groups)
	require.NoError(t, err)
	return c
}

func where(values ...ColumnValue) AndGroup {
	return AndGroup{Values: values, RowIndex: -1}
}

func tablesOf(names ...string) *Statement {
	stmt := &Statement{Kind: StatementSelect, SQL: "SELECT ..."}
	for _, n := range names {
		stmt.Tables = append(stmt.Tables, TableSegment{Name: n})
	}
	return stmt
}

func TestRouteUnitKey(t *testing.T) {
	a := unit("ds_0", "t_order=t_order_1", "t_order_item=t_order_item_1")
	b := unit("ds_0", "t_order_item=t_order_item_1", "t_order=t_order_1")
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "ds_0[t_order=t_order_1,t_order_item=t_order_item_1]", a.String())
	assert.NotEqual(t, a.Key(), unit("ds_1", "t_order=t_order_1", "t_order_item=t_order_item_1").Key())

	actual, ok := a.ActualTable("T_ORDER_ITEM")
	assert.True(t, ok)
	assert.Equal(t, "t_order_item_1", actual)
	_, ok = a.ActualTable("t_user")
	assert.False(t, ok)
}

func TestRouteUnitBuilder(t *testing.T) {
	tests := []struct {
		name        string
		stmt        *Statement
		conditions  func(t *testing.T) ShardingConditions
		expect      []RouteUnit
		fullScatter bool
		cartesian   bool
	}{
		{
			name:       "no condition",
			stmt:       tablesOf("t_order"),
			conditions: func(t *testing.T) ShardingConditions { return ShardingConditions{} },
			expect: []RouteUnit{
				unit("ds_0", "t_order=t_order_0"),
				unit("ds_0", "t_order=t_order_1"),
				unit("ds_1", "t_order=t_order_0"),
				unit("ds_1", "t_order=t_order_1"),
			},
			fullScatter: true,
		},
		{
			name: "single unit",
			stmt: tablesOf("t_order"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t, where(valueOf(t, "t_order", "user_id", 1), valueOf(t, "t_order", "order_id", 3)))
			},
			expect: []RouteUnit{unit("ds_1", "t_order=t_order_1")},
		},
		{
			name: "database axis only",
			stmt: tablesOf("t_order"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t, where(valueOf(t, "t_order", "user_id", 0)))
			},
			expect: []RouteUnit{unit("ds_0", "t_order=t_order_0"), unit("ds_0", "t_order=t_order_1")},
		},
		{
			name: "always false",
			stmt: tablesOf("t_order"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t, where(valueOf(t, "t_order", "order_id", 1, 2), valueOf(t, "t_order", "order_id", 3, 4)))
			},
		},
		{
			name: "overlapping disjuncts",
			stmt: tablesOf("t_order"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t,
					where(valueOf(t, "t_order", "user_id", 0), valueOf(t, "t_order", "order_id", 1, 2)),
					where(valueOf(t, "t_order", "user_id", 0), valueOf(t, "t_order", "order_id", 2, 3)),
				)
			},
			expect: []RouteUnit{unit("ds_0", "t_order=t_order_0"), unit("ds_0", "t_order=t_order_1")},
		},
		{
			name: "binding tables",
			stmt: tablesOf("t_order", "t_order_item"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t, where(valueOf(t, "t_order", "user_id", 0), valueOf(t, "t_order", "order_id", 1)))
			},
			expect: []RouteUnit{unit("ds_0", "t_order=t_order_1", "t_order_item=t_order_item_1")},
		},
		{
			name: "cartesian",
			stmt: tablesOf("t_order", "t_user"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t, where(valueOf(t, "t_order", "user_id", 0)))
			},
			expect: []RouteUnit{
				unit("ds_0", "t_order=t_order_0", "t_user=t_user_0"),
				unit("ds_0", "t_order=t_order_0", "t_user=t_user_1"),
				unit("ds_0", "t_order=t_order_1", "t_user=t_user_0"),
				unit("ds_0", "t_order=t_order_1", "t_user=t_user_1"),
			},
			cartesian: true,
		},
		{
			name:       "broadcast only",
			stmt:       tablesOf("t_config"),
			conditions: func(t *testing.T) ShardingConditions { return ShardingConditions{} },
			expect:     []RouteUnit{unit("ds_0", "t_config=t_config"), unit("ds_1", "t_config=t_config")},
		},
		{
			name: "sharded with broadcast",
			stmt: tablesOf("t_order", "t_config"),
			conditions: func(t *testing.T) ShardingConditions {
				return conditionsOf(t, where(valueOf(t, "t_order", "user_id", 1), valueOf(t, "t_order", "order_id", 0)))
			},
			expect: []RouteUnit{unit("ds_1", "t_order=t_order_0", "t_config=t_config")},
		},
		{
			name:       "unsharded table",
			stmt:       tablesOf("t_log"),
			conditions: func(t *testing.T) ShardingConditions { return ShardingConditions{} },
			expect:     []RouteUnit{unit("ds_0", "t_log=t_log")},
		},
		{
			name:       "sharded with unsharded",
			stmt:       tablesOf("t_order", "t_log"),
			conditions: func(t *testing.T) ShardingConditions { return ShardingConditions{} },
			expect: []RouteUnit{
				unit("ds_0", "t_order=t_order_0", "t_log=t_log"),
				unit("ds_0", "t_order=t_order_1", "t_log=t_log"),
			},
			fullScatter: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			builder := NewRouteUnitBuilder(testRule(t), NewStandardLogger(LogLevelInfo, &buf, false))
			result, err := builder.Build(tt.stmt, tt.conditions(t))
			require.NoError(t, err)

			if diff := cmp.Diff(tt.expect, result.Units); diff != "" {
				t.Errorf("units mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.fullScatter, result.FullScatter)
			assert.Equal(t, tt.cartesian, result.Cartesian)
			assert.Equal(t, len(tt.expect) == 0, result.IsEmpty())
			if tt.fullScatter {
				assert.Contains(t, buf.String(), "[WARN] statement routes to all 4 units")
			}
		})
	}
}

func TestRouteUnitBuilderInsertRows(t *testing.T) {
	stmt := tablesOf("t_order")
	stmt.Kind = StatementInsert
	stmt.Insert = &InsertClause{Table: "t_order", Rows: make([]InsertRow, 3)}

	row := func(i int, user, order int) AndGroup {
		return AndGroup{RowIndex: i, Values: []ColumnValue{
			valueOf(t, "t_order", "user_id", user),
			valueOf(t, "t_order", "order_id", order),
		}}
	}
	builder := NewRouteUnitBuilder(testRule(t), nil)
	result, err := builder.Build(stmt, conditionsOf(t, row(0, 0, 10), row(1, 1, 11), row(2, 0, 12)))
	require.NoError(t, err)

	require.Len(t, result.Units, 2)
	assert.Equal(t, unit("ds_0", "t_order=t_order_0"), result.Units[0])
	assert.Equal(t, unit("ds_1", "t_order=t_order_1"), result.Units[1])
	assert.Equal(t, []int{0, 2}, result.RowsFor(result.Units[0]))
	assert.Equal(t, []int{1}, result.RowsFor(result.Units[1]))
	assert.Equal(t, []int{}, result.RowsFor(unit("ds_1", "t_order=t_order_0")))
	assert.Equal(t, []string{"ds_0", "ds_1"}, result.DataSources())

	missing := AndGroup{RowIndex: 0, Values: []ColumnValue{valueOf(t, "t_order", "order_id", 1)}}
	stmt.Insert.Rows = make([]InsertRow, 1)
	_, err = builder.Build(stmt, conditionsOf(t, missing))
	assert.ErrorIs(t, err, ErrNoShardingRouteFound)
}

func TestRouteUnitBuilderNoRoute(t *testing.T) {
	nowhere := NewStandardShardingStrategy("order_id", ListShardingAlgorithm{DefaultPartition: -1})
	rule, err := (&ShardingRule{
		DataSourceNames: []string{"ds_0"},
		TableRules: []*TableRule{{
			LogicTable:      "t_order",
			ActualDataNodes: expandNodes(t, "ds_0.t_order_${0..1}"),
			TableStrategy:   nowhere,
		}},
	}).Build()
	require.NoError(t, err)

	_, err = NewRouteUnitBuilder(rule, nil).Build(tablesOf("t_order"),
		conditionsOf(t, where(valueOf(t, "t_order", "order_id", 5))))
	var noRoute *NoShardingRouteFoundError
	require.ErrorAs(t, err, &noRoute)
	assert.Equal(t, "t_order", noRoute.Table)
	assert.Equal(t, "order_id", noRoute.Column)
}

func TestRouteUnitBuilderNeedsDefaultDataSource(t *testing.T) {
	rule, err := (&ShardingRule{DataSourceNames: []string{"ds_0", "ds_1"}}).Build()
	require.NoError(t, err)
	_, err = NewRouteUnitBuilder(rule, nil).Build(tablesOf("t_log"), ShardingConditions{})
	assert.ErrorIs(t, err, ErrNoDataSource)
}

func TestCartesianProduct(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "c"}, {"a", "d"}, {"b", "c"}, {"b", "d"}},
		cartesianProduct([][]string{{"a", "b"}, {"c", "d"}}))
	assert.Empty(t, cartesianProduct([][]string{{"a"}, {}}))
}
