package sharding

import (
	"fmt"
	"strings"
)

// DataNode is one physical table inside one data source.
type DataNode struct {
	DataSource string
	Table      string
}

// ParseDataNode reads the "ds.table" notation.
func ParseDataNode(s string) (DataNode, error) {
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 || strings.Count(s, ".") != 1 {
		return DataNode{}, fmt.Errorf("%w: invalid data node %q, expected <data source>.<table>", ErrInvalidRule, s)
	}
	return DataNode{DataSource: s[:i], Table: s[i+1:]}, nil
}

func (n DataNode) String() string { return n.DataSource + "." + n.Table }

// TableRule describes how one logic table is spread over data nodes.
type TableRule struct {
	LogicTable      string
	ActualDataNodes []DataNode

	// DatabaseStrategy and TableStrategy fall back to the rule defaults when
	// nil, and to NoneShardingStrategy after that.
	DatabaseStrategy ShardingStrategy
	TableStrategy    ShardingStrategy

	GenerateKeyColumn string
	KeyGenerator      KeyGenerator

	dataSources  []string
	tablesByDS   map[string][]string
	shardColumns map[string]bool
}

// DataSourceNames returns the data sources holding this table, in node order.
func (t *TableRule) DataSourceNames() []string {
	return append([]string(nil), t.dataSources...)
}

// ActualTables returns the physical tables of the table in one data source.
func (t *TableRule) ActualTables(dataSource string) []string {
	return append([]string(nil), t.tablesByDS[dataSource]...)
}

func (t *TableRule) indexOf(node DataNode) int {
	for i, table := range t.tablesByDS[node.DataSource] {
		if table == node.Table {
			return i
		}
	}
	return -1
}

func (t *TableRule) IsShardingColumn(column string) bool {
	return t.shardColumns[strings.ToLower(column)]
}

// ShardingRule is the complete routing configuration. Build it once with
// Build and treat the result as immutable.
type ShardingRule struct {
	DataSourceNames    []string
	TableRules         []*TableRule
	BindingTableGroups [][]string
	BroadcastTables    []string
	// DefaultDataSource hosts tables that have no rule. It may be empty when
	// there is exactly one data source.
	DefaultDataSource string

	DefaultDatabaseStrategy ShardingStrategy
	DefaultTableStrategy    ShardingStrategy
	DefaultKeyGenerator     KeyGenerator

	built     bool
	tables    map[string]*TableRule
	binding   map[string]int
	broadcast map[string]bool
}

// Build validates the rule and returns a ready copy. The receiver is left
// untouched.
func (r *ShardingRule) Build() (*ShardingRule, error) {
	if len(r.DataSourceNames) == 0 {
		return nil, fmt.Errorf("%w: at least one data source is required", ErrInvalidRule)
	}
	built := &ShardingRule{
		DataSourceNames:         append([]string(nil), r.DataSourceNames...),
		BroadcastTables:         make([]string, 0, len(r.BroadcastTables)),
		DefaultDataSource:       r.DefaultDataSource,
		DefaultDatabaseStrategy: r.DefaultDatabaseStrategy,
		DefaultTableStrategy:    r.DefaultTableStrategy,
		DefaultKeyGenerator:     r.DefaultKeyGenerator,
		tables:                  make(map[string]*TableRule, len(r.TableRules)),
		binding:                 make(map[string]int),
		broadcast:               make(map[string]bool, len(r.BroadcastTables)),
		built:                   true,
	}
	knownDS := make(map[string]bool, len(r.DataSourceNames))
	for _, ds := range r.DataSourceNames {
		if knownDS[ds] {
			return nil, fmt.Errorf("%w: duplicate data source %s", ErrInvalidRule, ds)
		}
		knownDS[ds] = true
	}
	if built.DefaultDataSource != "" && !knownDS[built.DefaultDataSource] {
		return nil, fmt.Errorf("%w: default data source %s is not configured", ErrInvalidRule, built.DefaultDataSource)
	}

	for _, tr := range r.TableRules {
		compiled, err := built.compileTableRule(tr, knownDS)
		if err != nil {
			return nil, err
		}
		if _, dup := built.tables[compiled.LogicTable]; dup {
			return nil, fmt.Errorf("%w: duplicate table rule for %s", ErrInvalidRule, compiled.LogicTable)
		}
		built.tables[compiled.LogicTable] = compiled
		built.TableRules = append(built.TableRules, compiled)
	}

	for _, t := range r.BroadcastTables {
		name := strings.ToLower(t)
		if _, sharded := built.tables[name]; sharded {
			return nil, fmt.Errorf("%w: table %s can not be both sharded and broadcast", ErrInvalidRule, name)
		}
		built.broadcast[name] = true
		built.BroadcastTables = append(built.BroadcastTables, name)
	}

	for i, group := range r.BindingTableGroups {
		lowered := make([]string, len(group))
		for j, t := range group {
			name := strings.ToLower(t)
			tr, ok := built.tables[name]
			if !ok {
				return nil, fmt.Errorf("%w: binding table %s has no table rule", ErrInvalidRule, name)
			}
			if _, taken := built.binding[name]; taken {
				return nil, fmt.Errorf("%w: table %s is in more than one binding group", ErrInvalidRule, name)
			}
			if j > 0 {
				if err := checkBindingShape(built.tables[lowered[0]], tr); err != nil {
					return nil, err
				}
			}
			built.binding[name] = i
			lowered[j] = name
		}
		built.BindingTableGroups = append(built.BindingTableGroups, lowered)
	}
	return built, nil
}

func (r *ShardingRule) compileTableRule(tr *TableRule, knownDS map[string]bool) (*TableRule, error) {
	if tr == nil || tr.LogicTable == "" {
		return nil, fmt.Errorf("%w: table rule without logic table", ErrInvalidRule)
	}
	compiled := &TableRule{
		LogicTable:        strings.ToLower(tr.LogicTable),
		ActualDataNodes:   append([]DataNode(nil), tr.ActualDataNodes...),
		DatabaseStrategy:  tr.DatabaseStrategy,
		TableStrategy:     tr.TableStrategy,
		GenerateKeyColumn: strings.ToLower(tr.GenerateKeyColumn),
		KeyGenerator:      tr.KeyGenerator,
		tablesByDS:        make(map[string][]string),
		shardColumns:      make(map[string]bool),
	}
	if len(compiled.ActualDataNodes) == 0 {
		// the logic table itself in every data source
		for _, ds := range r.DataSourceNames {
			compiled.ActualDataNodes = append(compiled.ActualDataNodes, DataNode{DataSource: ds, Table: compiled.LogicTable})
		}
	}
	seen := make(map[DataNode]bool, len(compiled.ActualDataNodes))
	for _, node := range compiled.ActualDataNodes {
		if !knownDS[node.DataSource] {
			return nil, fmt.Errorf("%w: data node %s of %s uses an unknown data source", ErrInvalidRule, node, compiled.LogicTable)
		}
		if seen[node] {
			return nil, fmt.Errorf("%w: duplicate data node %s for %s", ErrInvalidRule, node, compiled.LogicTable)
		}
		seen[node] = true
		if _, ok := compiled.tablesByDS[node.DataSource]; !ok {
			compiled.dataSources = append(compiled.dataSources, node.DataSource)
		}
		compiled.tablesByDS[node.DataSource] = append(compiled.tablesByDS[node.DataSource], node.Table)
	}
	for _, s := range []ShardingStrategy{r.databaseStrategy(compiled), r.tableStrategy(compiled)} {
		for _, c := range s.ShardingColumns() {
			compiled.shardColumns[c] = true
		}
	}
	if compiled.GenerateKeyColumn != "" && compiled.KeyGenerator == nil && r.DefaultKeyGenerator == nil {
		return nil, fmt.Errorf("%w: %s generates %s but has no key generator", ErrInvalidRule, compiled.LogicTable, compiled.GenerateKeyColumn)
	}
	return compiled, nil
}

// checkBindingShape makes sure two bound tables can be mapped onto each other
// by position inside every data source.
func checkBindingShape(a, b *TableRule) error {
	if len(a.dataSources) != len(b.dataSources) {
		return fmt.Errorf("%w: binding tables %s and %s live in different data sources", ErrInvalidRule, a.LogicTable, b.LogicTable)
	}
	for _, ds := range a.dataSources {
		if len(a.tablesByDS[ds]) != len(b.tablesByDS[ds]) {
			return fmt.Errorf("%w: binding tables %s and %s have different table counts in %s", ErrInvalidRule, a.LogicTable, b.LogicTable, ds)
		}
	}
	return nil
}

func (r *ShardingRule) databaseStrategy(t *TableRule) ShardingStrategy {
	switch {
	case t.DatabaseStrategy != nil:
		return t.DatabaseStrategy
	case r.DefaultDatabaseStrategy != nil:
		return r.DefaultDatabaseStrategy
	}
	return NoneShardingStrategy{}
}

func (r *ShardingRule) tableStrategy(t *TableRule) ShardingStrategy {
	switch {
	case t.TableStrategy != nil:
		return t.TableStrategy
	case r.DefaultTableStrategy != nil:
		return r.DefaultTableStrategy
	}
	return NoneShardingStrategy{}
}

func (r *ShardingRule) keyGenerator(t *TableRule) KeyGenerator {
	if t.KeyGenerator != nil {
		return t.KeyGenerator
	}
	return r.DefaultKeyGenerator
}

// TableRule looks up the rule of a logic table.
func (r *ShardingRule) TableRule(logicTable string) (*TableRule, bool) {
	t, ok := r.tables[strings.ToLower(logicTable)]
	return t, ok
}

func (r *ShardingRule) IsShardingColumn(column, logicTable string) bool {
	t, ok := r.TableRule(logicTable)
	return ok && t.IsShardingColumn(column)
}

func (r *ShardingRule) IsBroadcastTable(logicTable string) bool {
	return r.broadcast[strings.ToLower(logicTable)]
}

// IsAllBindingTables reports whether every table belongs to the same binding
// group.
func (r *ShardingRule) IsAllBindingTables(logicTables []string) bool {
	if len(logicTables) == 0 {
		return false
	}
	group, ok := r.binding[strings.ToLower(logicTables[0])]
	if !ok {
		return false
	}
	for _, t := range logicTables[1:] {
		if g, ok := r.binding[strings.ToLower(t)]; !ok || g != group {
			return false
		}
	}
	return true
}

// DataSourceFor returns the data source of a table without a table rule.
func (r *ShardingRule) DataSourceFor(logicTable string) (string, error) {
	if r.DefaultDataSource != "" {
		return r.DefaultDataSource, nil
	}
	if len(r.DataSourceNames) == 1 {
		return r.DataSourceNames[0], nil
	}
	return "", fmt.Errorf("%w: table %s has no rule and no default data source is configured", ErrNoDataSource, logicTable)
}
