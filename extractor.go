package sharding

import (
	"fmt"
	"strings"
	"time"
)

// TimeSource resolves NOW() style expressions.
type TimeSource func() time.Time

// maxDNFGroups bounds the number of AND-groups a single predicate tree may
// expand to. Trees above the limit contribute one unconstrained group.
const maxDNFGroups = 4096

// ConditionExtractor turns the predicates of a bound statement into raw
// AND-groups over sharding columns.
type ConditionExtractor struct {
	rule *ShardingRule
	now  TimeSource
}

func NewConditionExtractor(rule *ShardingRule, now TimeSource) *ConditionExtractor {
	if now == nil {
		now = time.Now
	}
	return &ConditionExtractor{rule: rule, now: now}
}

// Extract returns one AndGroup per AND-chain of every predicate tree, or one
// per row for INSERT statements. A statement without predicates yields no
// groups.
func (e *ConditionExtractor) Extract(stmt *Statement, params []any) ([]AndGroup, error) {
	if stmt.Kind == StatementInsert && stmt.Insert != nil {
		return e.extractInsert(stmt, params)
	}
	var groups []AndGroup
	for _, where := range stmt.Where {
		conjunctions := toDNF(where)
		if len(conjunctions) > maxDNFGroups {
			traceLog("predicate expands to %d groups, routing it unconstrained", len(conjunctions))
			conjunctions = [][]Expr{nil}
		}
		for _, atoms := range conjunctions {
			group := AndGroup{RowIndex: -1}
			for _, atom := range atoms {
				if err := e.extractAtom(stmt, atom, params, &group); err != nil {
					return nil, err
				}
			}
			groups = append(groups, group)
		}
	}
	return groups, nil
}

func (e *ConditionExtractor) extractInsert(stmt *Statement, params []any) ([]AndGroup, error) {
	ins := stmt.Insert
	table := strings.ToLower(ins.Table)
	groups := make([]AndGroup, 0, len(ins.Rows))
	for i, row := range ins.Rows {
		group := AndGroup{RowIndex: i}
		for j, name := range ins.Columns {
			if j >= len(row.Values) || !e.rule.IsShardingColumn(name, table) {
				continue
			}
			column := NewColumn(name, table)
			v, ok, err := e.evaluate(row.Values[j], params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if v == nil {
				return nil, &ShardingValueIsNullError{Column: column}
			}
			group.add(column, ListValue{values: []any{v}})
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (e *ConditionExtractor) extractAtom(stmt *Statement, atom Expr, params []any, group *AndGroup) error {
	switch x := atom.(type) {
	case CompareExpr:
		return e.extractCompare(stmt, x, params, group)
	case InExpr:
		if x.Not {
			return nil
		}
		col, ok := x.Left.(ColumnExpr)
		if !ok {
			return nil
		}
		column, ok := e.resolveColumn(stmt, col)
		if !ok {
			return nil
		}
		members := make([]any, 0, len(x.Values))
		for _, item := range x.Values {
			v, ok, err := e.evaluate(item, params)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if v == nil {
				return &ShardingValueIsNullError{Column: column}
			}
			members = append(members, v)
		}
		list, err := newSortedList(members)
		if err != nil {
			return withColumn(err, column)
		}
		group.add(column, list)
	case BetweenExpr:
		if x.Not {
			return nil
		}
		col, ok := x.Expr.(ColumnExpr)
		if !ok {
			return nil
		}
		column, ok := e.resolveColumn(stmt, col)
		if !ok {
			return nil
		}
		low, lowOK, err := e.evaluate(x.Low, params)
		if err != nil {
			return err
		}
		high, highOK, err := e.evaluate(x.High, params)
		if err != nil {
			return err
		}
		if !lowOK || !highOK {
			return nil
		}
		if low == nil || high == nil {
			return &ShardingValueIsNullError{Column: column}
		}
		v, err := NewRangeValue(Closed(low), Closed(high))
		if err != nil {
			return withColumn(err, column)
		}
		group.add(column, v)
	case LiteralExpr, ParamExpr, ColumnExpr, NowExpr, UnsupportedExpr, NotExpr, AndExpr, OrExpr, nil:
		// not a predicate over a sharding column
	}
	return nil
}

func (e *ConditionExtractor) extractCompare(stmt *Statement, x CompareExpr, params []any, group *AndGroup) error {
	op := x.Op
	col, isCol := x.Left.(ColumnExpr)
	other := x.Right
	if !isCol {
		col, isCol = x.Right.(ColumnExpr)
		if !isCol {
			return nil
		}
		other = x.Left
		op = flipOperator(op)
	}
	if _, bothColumns := other.(ColumnExpr); bothColumns {
		return nil
	}
	if !isRoutingOperator(op) {
		return nil
	}
	column, ok := e.resolveColumn(stmt, col)
	if !ok {
		return nil
	}
	v, ok, err := e.evaluate(other, params)
	if err != nil || !ok {
		return err
	}
	if v == nil {
		return &ShardingValueIsNullError{Column: column}
	}
	var value Value
	switch op {
	case "=":
		value = ListValue{values: []any{v}}
	case "<":
		value = RangeValue{Lower: Unbounded(), Upper: Open(v)}
	case "<=":
		value = RangeValue{Lower: Unbounded(), Upper: Closed(v)}
	case ">":
		value = RangeValue{Lower: Open(v), Upper: Unbounded()}
	case ">=":
		value = RangeValue{Lower: Closed(v), Upper: Unbounded()}
	}
	group.add(column, value)
	return nil
}

func isRoutingOperator(op string) bool {
	switch op {
	case "=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

// flipOperator mirrors op so that "5 < id" reads as "id > 5".
func flipOperator(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	}
	return op
}

func negateOperator(op string) string {
	switch op {
	case "=":
		return "<>"
	case "<>", "!=":
		return "="
	case "<":
		return ">="
	case "<=":
		return ">"
	case ">":
		return "<="
	case ">=":
		return "<"
	}
	return ""
}

// evaluate reduces a value expression to a normalized scalar. ok is false for
// expressions that can not constrain routing.
func (e *ConditionExtractor) evaluate(expr Expr, params []any) (value any, ok bool, err error) {
	switch x := expr.(type) {
	case LiteralExpr:
		v, err := normalizeScalar(x.Value)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case ParamExpr:
		if x.Index < 0 || x.Index >= len(params) {
			return nil, false, fmt.Errorf("parameter %d is not bound, %d parameters given", x.Index+1, len(params))
		}
		v, err := normalizeScalar(params[x.Index])
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case NowExpr:
		return e.now(), true, nil
	case ColumnExpr, UnsupportedExpr, AndExpr, OrExpr, NotExpr, CompareExpr, InExpr, BetweenExpr, nil:
		return nil, false, nil
	}
	return nil, false, nil
}

// resolveColumn maps a column reference onto its owning logic table and
// reports whether it is a sharding column there.
func (e *ConditionExtractor) resolveColumn(stmt *Statement, col ColumnExpr) (Column, bool) {
	var table string
	if col.Owner != "" {
		t, ok := stmt.tableByOwner(col.Owner)
		if !ok {
			return Column{}, false
		}
		table = t
	} else {
		tables := stmt.LogicTables()
		switch {
		case len(tables) == 1:
			table = tables[0]
		default:
			for _, t := range tables {
				if e.rule.IsShardingColumn(col.Name, t) {
					table = t
					break
				}
			}
		}
	}
	if table == "" || !e.rule.IsShardingColumn(col.Name, table) {
		return Column{}, false
	}
	return NewColumn(col.Name, table), true
}

func withColumn(err error, column Column) error {
	if mixed, ok := err.(*MixedShardingValueTypeError); ok && mixed.Column.Name == "" {
		mixed.Column = column
	}
	return err
}

// toDNF rewrites a predicate tree into an OR of AND-chains of atoms. A nil
// tree is one empty chain.
func toDNF(expr Expr) [][]Expr {
	switch x := expr.(type) {
	case nil:
		return [][]Expr{nil}
	case AndExpr:
		result := [][]Expr{nil}
		for _, term := range x.Terms {
			right := toDNF(term)
			next := make([][]Expr, 0, len(result)*len(right))
			for _, l := range result {
				for _, r := range right {
					chain := make([]Expr, 0, len(l)+len(r))
					chain = append(chain, l...)
					chain = append(chain, r...)
					next = append(next, chain)
				}
			}
			result = next
			if len(result) > maxDNFGroups {
				return result
			}
		}
		return result
	case OrExpr:
		var result [][]Expr
		for _, term := range x.Terms {
			result = append(result, toDNF(term)...)
			if len(result) > maxDNFGroups {
				return result
			}
		}
		if len(result) == 0 {
			return [][]Expr{nil}
		}
		return result
	case NotExpr:
		return toDNF(negate(x.Expr))
	}
	return [][]Expr{{expr}}
}

// negate pushes a NOT one level down. Negations that can not be expressed
// become unsupported atoms, which never narrow routing.
func negate(expr Expr) Expr {
	switch x := expr.(type) {
	case AndExpr:
		terms := make([]Expr, len(x.Terms))
		for i, t := range x.Terms {
			terms[i] = NotExpr{Expr: t}
		}
		return OrExpr{Terms: terms}
	case OrExpr:
		terms := make([]Expr, len(x.Terms))
		for i, t := range x.Terms {
			terms[i] = NotExpr{Expr: t}
		}
		return AndExpr{Terms: terms}
	case NotExpr:
		return x.Expr
	case CompareExpr:
		if op := negateOperator(x.Op); op != "" {
			return CompareExpr{Op: op, Left: x.Left, Right: x.Right}
		}
	case InExpr:
		return InExpr{Left: x.Left, Values: x.Values, Not: !x.Not}
	case BetweenExpr:
		return BetweenExpr{Expr: x.Expr, Low: x.Low, High: x.High, Not: !x.Not}
	}
	return UnsupportedExpr{Text: "NOT"}
}
