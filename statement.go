package sharding

import "strings"

// StatementKind classifies a bound statement.
type StatementKind int

const (
	StatementOther StatementKind = iota
	StatementSelect
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementDDL
)

func (k StatementKind) String() string {
	switch k {
	case StatementSelect:
		return "SELECT"
	case StatementInsert:
		return "INSERT"
	case StatementUpdate:
		return "UPDATE"
	case StatementDelete:
		return "DELETE"
	case StatementDDL:
		return "DDL"
	}
	return "OTHER"
}

// ParamStyle tells how bind parameters are written in the statement text.
type ParamStyle int

const (
	// ParamPositional is the '?' style, parameters bind in textual order.
	ParamPositional ParamStyle = iota
	// ParamNumbered is the '$n' style.
	ParamNumbered
)

// Statement is a parsed and bound SQL statement. Every rewritable segment
// carries byte offsets into SQL, Start inclusive and Stop exclusive.
type Statement struct {
	Kind       StatementKind
	SQL        string
	ParamStyle ParamStyle
	Engine     DatabaseEngine

	Tables  []TableSegment
	Indexes []IndexSegment
	Schemas []SchemaSegment
	// Params lists every bind parameter occurrence in textual order.
	Params []ParamSegment

	// Where holds one predicate tree per WHERE, JOIN ON or subquery
	// qualification found in the statement.
	Where []Expr

	Insert     *InsertClause
	Select     *SelectClause
	Pagination *Pagination
}

// TableSegment is a logic table reference. The span covers the bare table
// name, without schema qualifier or alias.
type TableSegment struct {
	Name  string
	Alias string
	Start int
	Stop  int
}

// IndexSegment is an index name that belongs to Table.
type IndexSegment struct {
	Name  string
	Table string
	Start int
	Stop  int
}

// SchemaSegment is a schema qualifier in front of Table. It is replaced with
// the data source the table is routed to.
type SchemaSegment struct {
	Table string
	Start int
	Stop  int
}

// ParamSegment is one occurrence of a bind parameter. Index is zero based.
type ParamSegment struct {
	Index int
	Start int
	Stop  int
}

type InsertClause struct {
	Table   string
	Columns []string
	// ColumnsStop is the offset of the ')' closing the column list, or -1
	// when the statement names no columns.
	ColumnsStop int
	Rows        []InsertRow
	// ValuesStart and ValuesStop span all rows, from the first '(' to
	// right after the last ')'.
	ValuesStart int
	ValuesStop  int
}

// ColumnIndex returns the position of column in the column list, or -1.
func (c *InsertClause) ColumnIndex(column string) int {
	for i, name := range c.Columns {
		if strings.EqualFold(name, column) {
			return i
		}
	}
	return -1
}

// InsertRow is one parenthesized VALUES row.
type InsertRow struct {
	Values []Expr
	Start  int
	Stop   int
	Params []ParamSegment
}

type SelectClause struct {
	// ProjectionsStart is the offset of the first projection and
	// ProjectionsStop the offset right after the last one.
	ProjectionsStart int
	ProjectionsStop  int
	Star             bool
	Projections      []Projection
	OrderBy          []OrderItem
	GroupBy          []OrderItem
	Aggregations     []Aggregation
	Distinct         bool
}

type Projection struct {
	Owner string
	Name  string
	Alias string
}

// OrderItem is an ORDER BY or GROUP BY item. Ordinal items such as
// "ORDER BY 1" carry Position and no Name.
type OrderItem struct {
	Owner    string
	Name     string
	Position int
	Desc     bool
}

func (o OrderItem) sameAs(other OrderItem) bool {
	if o.Position > 0 || other.Position > 0 {
		return o.Position == other.Position
	}
	return strings.EqualFold(o.Name, other.Name) && strings.EqualFold(o.Owner, other.Owner)
}

// Aggregation is an aggregate call in the projection list. Start and Stop
// span the call itself, without alias.
type Aggregation struct {
	Func     string
	Distinct bool
	Arg      string
	Alias    string
	Start    int
	Stop     int
}

// Pagination holds LIMIT and OFFSET. Either may be nil.
type Pagination struct {
	Offset   *PaginationValue
	RowCount *PaginationValue
}

// PaginationValue is a literal or parameter bound LIMIT/OFFSET operand.
type PaginationValue struct {
	Value      int64
	ParamIndex int
	Start      int
	Stop       int
}

func (p *PaginationValue) IsParam() bool { return p != nil && p.ParamIndex >= 0 }

// resolve returns the operand value, reading it from params when bound.
func (p *PaginationValue) resolve(params []any) (int64, bool) {
	if p == nil {
		return 0, false
	}
	if !p.IsParam() {
		return p.Value, true
	}
	if p.ParamIndex >= len(params) {
		return 0, false
	}
	n, err := normalizeScalar(params[p.ParamIndex])
	if err != nil {
		return 0, false
	}
	v, ok := n.(int64)
	return v, ok
}

// LogicTables returns the distinct table names referenced by the statement,
// lower-cased and in order of first appearance.
func (s *Statement) LogicTables() []string {
	seen := make(map[string]bool, len(s.Tables))
	var out []string
	for _, t := range s.Tables {
		name := strings.ToLower(t.Name)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// tableByOwner finds the logic table referenced by an alias or a table name.
func (s *Statement) tableByOwner(owner string) (string, bool) {
	for _, t := range s.Tables {
		if t.Alias != "" && strings.EqualFold(t.Alias, owner) {
			return strings.ToLower(t.Name), true
		}
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, owner) {
			return strings.ToLower(t.Name), true
		}
	}
	return "", false
}

// Expr is one node of a predicate tree. The set of node kinds is closed.
type Expr interface {
	isExpr()
}

type LiteralExpr struct {
	Value any
}

type ParamExpr struct {
	Index int
}

type ColumnExpr struct {
	Owner string
	Name  string
}

// NowExpr is NOW(), CURRENT_TIMESTAMP and friends.
type NowExpr struct{}

// UnsupportedExpr is anything the router can not evaluate.
type UnsupportedExpr struct {
	Text string
}

type AndExpr struct {
	Terms []Expr
}

type OrExpr struct {
	Terms []Expr
}

type NotExpr struct {
	Expr Expr
}

// CompareExpr is a binary comparison. Op is one of =, <>, !=, <, <=, >, >=.
type CompareExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

type InExpr struct {
	Left   Expr
	Values []Expr
	Not    bool
}

type BetweenExpr struct {
	Expr Expr
	Low  Expr
	High Expr
	Not  bool
}

func (LiteralExpr) isExpr()     {}
func (ParamExpr) isExpr()       {}
func (ColumnExpr) isExpr()      {}
func (NowExpr) isExpr()         {}
func (UnsupportedExpr) isExpr() {}
func (AndExpr) isExpr()         {}
func (OrExpr) isExpr()          {}
func (NotExpr) isExpr()         {}
func (CompareExpr) isExpr()     {}
func (InExpr) isExpr()          {}
func (BetweenExpr) isExpr()     {}
