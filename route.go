package sharding

import (
	"fmt"
	"sort"
	"strings"
)

// TableMapper maps a logic table onto the actual table of one route unit.
type TableMapper struct {
	Logic  string
	Actual string
}

// RouteUnit is one physical execution target. Two units with the same data
// source and mappers are the same target.
type RouteUnit struct {
	DataSource   string
	TableMappers []TableMapper
}

// Key is the identity of the unit. Mapper order does not matter.
func (u RouteUnit) Key() string {
	pairs := make([]string, len(u.TableMappers))
	for i, m := range u.TableMappers {
		pairs[i] = m.Logic + "=" + m.Actual
	}
	sort.Strings(pairs)
	return u.DataSource + "[" + strings.Join(pairs, ",") + "]"
}

func (u RouteUnit) String() string { return u.Key() }

// ActualTable returns the actual table mapped for a logic table.
func (u RouteUnit) ActualTable(logic string) (string, bool) {
	for _, m := range u.TableMappers {
		if strings.EqualFold(m.Logic, logic) {
			return m.Actual, true
		}
	}
	return "", false
}

// GeneratedKey holds the keys allocated for an INSERT, one per row.
type GeneratedKey struct {
	Column    string
	Values    []any
	Generated bool
}

// RouteResult is the outcome of routing one statement.
type RouteResult struct {
	Conditions ShardingConditions
	Units      []RouteUnit
	// Cartesian is set when unbound sharded tables were combined.
	Cartesian bool
	// FullScatter is set when no condition narrowed a sharded table.
	FullScatter  bool
	GeneratedKey *GeneratedKey
	Parameters   []any

	// rowUnits maps INSERT rows onto the key of their unit.
	rowUnits []string
	tokens   []Token
}

// IsEmpty reports a statement that needs no execution at all.
func (r *RouteResult) IsEmpty() bool { return len(r.Units) == 0 }

// RowsFor returns the INSERT rows routed to unit, or nil for other
// statements.
func (r *RouteResult) RowsFor(unit RouteUnit) []int {
	if r.rowUnits == nil {
		return nil
	}
	key := unit.Key()
	rows := []int{}
	for i, k := range r.rowUnits {
		if k == key {
			rows = append(rows, i)
		}
	}
	return rows
}

// DataSources lists the distinct data sources of all units.
func (r *RouteResult) DataSources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range r.Units {
		if !seen[u.DataSource] {
			seen[u.DataSource] = true
			out = append(out, u.DataSource)
		}
	}
	return out
}

// routeUnitSet collects units in first-seen order without duplicates.
type routeUnitSet struct {
	units []RouteUnit
	index map[string]int
}

func newRouteUnitSet() *routeUnitSet {
	return &routeUnitSet{index: make(map[string]int)}
}

func (s *routeUnitSet) add(u RouteUnit) string {
	key := u.Key()
	if _, ok := s.index[key]; !ok {
		s.index[key] = len(s.units)
		s.units = append(s.units, u)
	}
	return key
}

// RouteUnitBuilder folds resolved data nodes of every table into route units.
type RouteUnitBuilder struct {
	rule     *ShardingRule
	resolver *ShardResolver
	logger   Logger
}

func NewRouteUnitBuilder(rule *ShardingRule, logger Logger) *RouteUnitBuilder {
	if logger == nil {
		logger = GetLogger()
	}
	return &RouteUnitBuilder{rule: rule, resolver: NewShardResolver(rule), logger: logger}
}

// Build routes stmt under conditions. Statement-level always-false conditions
// produce no units.
func (b *RouteUnitBuilder) Build(stmt *Statement, conditions ShardingConditions) (*RouteResult, error) {
	result := &RouteResult{Conditions: conditions}
	if conditions.AlwaysFalse() && stmt.Kind != StatementInsert {
		if DefaultLogLevel >= LogLevelDebug {
			debugLog("conditions of %q are always false, nothing to route", stmt.SQL)
		}
		return result, nil
	}

	var sharded, broadcast, plain []string
	for _, t := range stmt.LogicTables() {
		switch {
		case b.rule.IsBroadcastTable(t):
			broadcast = append(broadcast, t)
		default:
			if _, ok := b.rule.TableRule(t); ok {
				sharded = append(sharded, t)
			} else {
				plain = append(plain, t)
			}
		}
	}

	set := newRouteUnitSet()
	var err error
	switch {
	case len(sharded) == 0 && len(plain) == 0 && len(broadcast) > 0:
		for _, ds := range b.rule.DataSourceNames {
			set.add(RouteUnit{DataSource: ds, TableMappers: identityMappers(broadcast)})
		}
	case len(sharded) == 0:
		ds, dsErr := b.defaultDataSource(plain)
		if dsErr != nil {
			return nil, dsErr
		}
		set.add(RouteUnit{DataSource: ds, TableMappers: identityMappers(append(plain, broadcast...))})
	default:
		effective := activeConditions(conditions)
		if len(sharded) == 1 || b.rule.IsAllBindingTables(sharded) {
			err = b.routeStandard(stmt, sharded, effective, set, result)
		} else {
			err = b.routeCartesian(sharded, effective, set, result)
		}
		if err != nil {
			return nil, err
		}
		result.FullScatter = !constrainsAny(effective, sharded) && len(set.units) > 1
		if result.FullScatter && stmt.Kind != StatementInsert {
			b.logger.Warn("statement routes to all %d units of %s without a sharding condition: %s",
				len(set.units), strings.Join(sharded, ", "), stmt.SQL)
		}
		if set, err = b.attachUnsharded(set, broadcast, plain, result); err != nil {
			return nil, err
		}
	}
	result.Units = set.units
	return result, nil
}

func (b *RouteUnitBuilder) defaultDataSource(plain []string) (string, error) {
	if len(plain) == 0 {
		if b.rule.DefaultDataSource != "" {
			return b.rule.DefaultDataSource, nil
		}
		return b.rule.DataSourceNames[0], nil
	}
	return b.rule.DataSourceFor(plain[0])
}

// routeStandard resolves the first table and maps its bound siblings onto the
// same position inside each data source.
func (b *RouteUnitBuilder) routeStandard(stmt *Statement, tables []string, conditions []ShardingCondition, set *routeUnitSet, result *RouteResult) error {
	primary, _ := b.rule.TableRule(tables[0])
	isInsert := stmt.Kind == StatementInsert && stmt.Insert != nil
	if isInsert {
		result.rowUnits = make([]string, len(stmt.Insert.Rows))
	}
	for _, cond := range conditions {
		if len(tables) > 1 {
			folded, err := foldBindingValues(b.rule, primary, tables[1:], cond)
			if err != nil {
				return err
			}
			cond = folded
		}
		nodes, err := b.resolver.Resolve(primary, cond)
		if err != nil {
			return err
		}
		if isInsert && cond.RowIndex >= 0 && len(nodes) > 1 {
			return fmt.Errorf("%w: row %d of insert into %s routes to %d data nodes, a sharding value is required",
				ErrNoShardingRouteFound, cond.RowIndex+1, primary.LogicTable, len(nodes))
		}
		for _, node := range nodes {
			mappers := []TableMapper{{Logic: primary.LogicTable, Actual: node.Table}}
			for _, sibling := range tables[1:] {
				actual, err := b.bindingActual(primary, node, sibling)
				if err != nil {
					return err
				}
				mappers = append(mappers, TableMapper{Logic: sibling, Actual: actual})
			}
			key := set.add(RouteUnit{DataSource: node.DataSource, TableMappers: mappers})
			if isInsert && cond.RowIndex >= 0 && cond.RowIndex < len(result.rowUnits) {
				result.rowUnits[cond.RowIndex] = key
			}
		}
	}
	return nil
}

// foldBindingValues moves the sharding values of bound siblings onto primary.
// Bound tables shard alike, so a sibling's value restricts primary the same way.
func foldBindingValues(rule *ShardingRule, primary *TableRule, siblings []string, cond ShardingCondition) (ShardingCondition, error) {
	primaryTable := strings.ToLower(primary.LogicTable)
	isSibling := make(map[string]*TableRule, len(siblings))
	for _, s := range siblings {
		if tr, ok := rule.TableRule(s); ok {
			isSibling[strings.ToLower(s)] = tr
		}
	}

	folded := ShardingCondition{AlwaysFalse: cond.AlwaysFalse, RowIndex: cond.RowIndex}
	folded.Values = append(folded.Values, cond.Values...)
	for _, cv := range cond.Values {
		sibling, ok := isSibling[cv.Column.Table]
		if !ok || !sibling.IsShardingColumn(cv.Column.Name) || !primary.IsShardingColumn(cv.Column.Name) {
			continue
		}
		target := NewColumn(cv.Column.Name, primaryTable)
		i := indexOfColumn(folded.Values, target)
		if i < 0 {
			folded.Values = append(folded.Values, ColumnValue{Column: target, Value: cv.Value})
			continue
		}
		merged, err := MergeValues(folded.Values[i].Value, cv.Value)
		if err != nil {
			return ShardingCondition{}, err
		}
		if _, empty := merged.(AlwaysFalse); empty {
			folded.AlwaysFalse = true
		}
		folded.Values[i] = ColumnValue{Column: target, Value: merged}
	}
	return folded, nil
}

func indexOfColumn(values []ColumnValue, column Column) int {
	for i, cv := range values {
		if cv.Column == column {
			return i
		}
	}
	return -1
}

func (b *RouteUnitBuilder) bindingActual(primary *TableRule, node DataNode, sibling string) (string, error) {
	rule, _ := b.rule.TableRule(sibling)
	idx := primary.indexOf(node)
	tables := rule.ActualTables(node.DataSource)
	if idx < 0 || idx >= len(tables) {
		return "", fmt.Errorf("%w: can not find binding actual table of %s for %s", ErrInvalidRule, sibling, node)
	}
	return tables[idx], nil
}

// routeCartesian resolves every table on its own and combines the tables of
// each shared data source.
func (b *RouteUnitBuilder) routeCartesian(tables []string, conditions []ShardingCondition, set *routeUnitSet, result *RouteResult) error {
	for _, cond := range conditions {
		perTable := make([]map[string][]string, len(tables))
		var dsOrder []string
		for i, t := range tables {
			rule, _ := b.rule.TableRule(t)
			nodes, err := b.resolver.Resolve(rule, cond)
			if err != nil {
				return err
			}
			perTable[i] = make(map[string][]string)
			for _, n := range nodes {
				if i == 0 && len(perTable[i][n.DataSource]) == 0 {
					dsOrder = append(dsOrder, n.DataSource)
				}
				perTable[i][n.DataSource] = append(perTable[i][n.DataSource], n.Table)
			}
		}
		for _, ds := range dsOrder {
			choices := make([][]string, len(tables))
			shared := true
			for i := range tables {
				choices[i] = perTable[i][ds]
				if len(choices[i]) == 0 {
					shared = false
					break
				}
			}
			if !shared {
				continue
			}
			for _, combo := range cartesianProduct(choices) {
				mappers := make([]TableMapper, len(tables))
				for i, t := range tables {
					mappers[i] = TableMapper{Logic: t, Actual: combo[i]}
				}
				set.add(RouteUnit{DataSource: ds, TableMappers: mappers})
			}
		}
	}
	result.Cartesian = true
	b.logger.Warn("cartesian route over unbound tables %s produced %d units", strings.Join(tables, ", "), len(set.units))
	return nil
}

// attachUnsharded adds broadcast tables to every unit and restricts units to
// the data source of tables without a rule.
func (b *RouteUnitBuilder) attachUnsharded(set *routeUnitSet, broadcast, plain []string, result *RouteResult) (*routeUnitSet, error) {
	if len(broadcast) == 0 && len(plain) == 0 {
		return set, nil
	}
	var plainDS string
	if len(plain) > 0 {
		ds, err := b.rule.DataSourceFor(plain[0])
		if err != nil {
			return nil, err
		}
		plainDS = ds
	}
	extra := identityMappers(append(append([]string(nil), broadcast...), plain...))
	out := newRouteUnitSet()
	remap := make(map[string]string, len(set.units))
	for _, u := range set.units {
		if plainDS != "" && u.DataSource != plainDS {
			continue
		}
		mappers := make([]TableMapper, 0, len(u.TableMappers)+len(extra))
		mappers = append(mappers, u.TableMappers...)
		mappers = append(mappers, extra...)
		remap[u.Key()] = out.add(RouteUnit{DataSource: u.DataSource, TableMappers: mappers})
	}
	if len(out.units) == 0 && len(set.units) > 0 {
		return nil, fmt.Errorf("%w: tables %s live in %s but no sharded route reaches it",
			ErrNoDataSource, strings.Join(plain, ", "), plainDS)
	}
	for i, k := range result.rowUnits {
		result.rowUnits[i] = remap[k]
	}
	return out, nil
}

func identityMappers(tables []string) []TableMapper {
	out := make([]TableMapper, len(tables))
	for i, t := range tables {
		out[i] = TableMapper{Logic: t, Actual: t}
	}
	return out
}

// activeConditions drops always-false conditions. No conditions at all means
// one unconstrained condition.
func activeConditions(conditions ShardingConditions) []ShardingCondition {
	var out []ShardingCondition
	for _, c := range conditions.Conditions {
		if !c.AlwaysFalse {
			out = append(out, c)
		}
	}
	if len(conditions.Conditions) == 0 {
		out = append(out, ShardingCondition{RowIndex: -1})
	}
	return out
}

func constrainsAny(conditions []ShardingCondition, tables []string) bool {
	for _, c := range conditions {
		for _, t := range tables {
			if len(c.ValuesForTable(t)) > 0 {
				return true
			}
		}
	}
	return false
}

func cartesianProduct(choices [][]string) [][]string {
	result := [][]string{{}}
	for _, options := range choices {
		next := make([][]string, 0, len(result)*len(options))
		for _, prefix := range result {
			for _, o := range options {
				combo := make([]string, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, o))
			}
		}
		result = next
	}
	return result
}
