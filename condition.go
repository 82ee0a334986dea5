package sharding

import (
	"fmt"
	"strings"
)

// Column identifies a sharding column by its name and owning logic table.
// Both parts are stored lower-cased so the struct can be used as a map key.
type Column struct {
	Name  string
	Table string
}

func NewColumn(name, table string) Column {
	return Column{Name: strings.ToLower(name), Table: strings.ToLower(table)}
}

func (c Column) String() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// ColumnValue pairs a column with one value constraining it.
type ColumnValue struct {
	Column Column
	Value  Value
}

// AndGroup is one conjunctive clause as extracted from the statement, before
// merging. A column may appear several times.
type AndGroup struct {
	Values []ColumnValue
	// RowIndex is the INSERT row the group was built from, or -1.
	RowIndex int
}

func (g *AndGroup) add(column Column, value Value) {
	g.Values = append(g.Values, ColumnValue{Column: column, Value: value})
}

// ShardingCondition is a merged AndGroup holding at most one value per column.
type ShardingCondition struct {
	Values      []ColumnValue
	AlwaysFalse bool
	RowIndex    int
}

// ValueOf returns the merged value of column, if present.
func (c ShardingCondition) ValueOf(column Column) (Value, bool) {
	for _, cv := range c.Values {
		if cv.Column == column {
			return cv.Value, true
		}
	}
	return nil, false
}

// ValuesForTable collects the merged values of the given logic table, keyed by
// column name.
func (c ShardingCondition) ValuesForTable(table string) map[string]Value {
	table = strings.ToLower(table)
	out := make(map[string]Value)
	for _, cv := range c.Values {
		if cv.Column.Table == table {
			out[cv.Column.Name] = cv.Value
		}
	}
	return out
}

func (c ShardingCondition) String() string {
	if c.AlwaysFalse {
		return "always-false"
	}
	parts := make([]string, len(c.Values))
	for i, cv := range c.Values {
		parts[i] = fmt.Sprintf("%s=%s", cv.Column, cv.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ShardingConditions are OR-ed together at the statement level.
type ShardingConditions struct {
	Conditions []ShardingCondition
}

// AlwaysFalse is true only when there is at least one condition and every
// condition is always-false. No conditions means no WHERE constraint at all.
func (s ShardingConditions) AlwaysFalse() bool {
	if len(s.Conditions) == 0 {
		return false
	}
	for _, c := range s.Conditions {
		if !c.AlwaysFalse {
			return false
		}
	}
	return true
}

func (s ShardingConditions) IsEmpty() bool { return len(s.Conditions) == 0 }
