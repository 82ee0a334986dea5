package sharding

import (
	"errors"
	"fmt"
	"strings"
)

// ShardResolver turns a merged condition into the data nodes of one table:
// the database axis picks data sources, then the table axis picks tables in
// each of them.
type ShardResolver struct {
	rule *ShardingRule
}

func NewShardResolver(rule *ShardingRule) *ShardResolver {
	return &ShardResolver{rule: rule}
}

// Resolve returns the data nodes of table that may hold rows matching cond.
// An always-false condition has no nodes.
func (r *ShardResolver) Resolve(table *TableRule, cond ShardingCondition) ([]DataNode, error) {
	if cond.AlwaysFalse {
		return nil, nil
	}
	values := cond.ValuesForTable(table.LogicTable)

	dbStrategy := r.rule.databaseStrategy(table)
	dataSources, err := dbStrategy.DoSharding(table.DataSourceNames(), values)
	if err != nil {
		return nil, r.wrap(err, table, dbStrategy, values)
	}
	if len(dataSources) == 0 {
		return nil, r.noRoute(table, dbStrategy, values)
	}

	tableStrategy := r.rule.tableStrategy(table)
	var nodes []DataNode
	for _, ds := range dataSources {
		tables, err := tableStrategy.DoSharding(table.ActualTables(ds), values)
		if err != nil {
			return nil, r.wrap(err, table, tableStrategy, values)
		}
		for _, t := range tables {
			nodes = append(nodes, DataNode{DataSource: ds, Table: t})
		}
	}
	if len(nodes) == 0 {
		return nil, r.noRoute(table, tableStrategy, values)
	}
	if DefaultLogLevel >= LogLevelTrace {
		traceLog("resolved %s with %s to %v", table.LogicTable, cond, nodes)
	}
	return nodes, nil
}

func (r *ShardResolver) noRoute(table *TableRule, s ShardingStrategy, values map[string]Value) error {
	e := &NoShardingRouteFoundError{Table: table.LogicTable}
	for _, c := range s.ShardingColumns() {
		if v, ok := values[c]; ok {
			e.Column = c
			e.Value = v
			break
		}
	}
	return e
}

func (r *ShardResolver) wrap(err error, table *TableRule, s ShardingStrategy, values map[string]Value) error {
	var noRoute *NoShardingRouteFoundError
	if errors.As(err, &noRoute) {
		return err
	}
	columns := make([]string, 0, len(values))
	for _, c := range s.ShardingColumns() {
		if _, ok := values[c]; ok {
			columns = append(columns, c)
		}
	}
	return fmt.Errorf("sharding %s with %s on [%s]: %w", table.LogicTable, strategyName(s), strings.Join(columns, ", "), err)
}
