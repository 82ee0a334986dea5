package sharding

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// Binder turns SQL text into Statements, caching them by text.
type Binder struct {
	engine DatabaseEngine
	cache  *StatementCache
}

// NewBinder returns a binder for engine. cache may be nil.
func NewBinder(engine DatabaseEngine, cache *StatementCache) *Binder {
	return &Binder{engine: engine, cache: cache}
}

func (b *Binder) Engine() DatabaseEngine { return b.engine }

// Bind parses sql, consulting the cache first. Cached statements are shared
// and must not be modified.
func (b *Binder) Bind(sql string) (*Statement, error) {
	if b.cache != nil {
		if stmt, ok := b.cache.Get(sql); ok {
			return stmt, nil
		}
	}
	stmt, err := Bind(sql, b.engine)
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		b.cache.Put(sql, stmt)
	}
	return stmt, nil
}

// Bind parses a single SQL statement with the PostgreSQL parser and records
// the offsets of every segment the rewriter may replace. MySQL text is
// accepted where it only differs from PostgreSQL by backtick quoting, '?'
// parameters or "LIMIT offset, count".
func Bind(sql string, engine DatabaseEngine) (*Statement, error) {
	lexemes, style, err := lexSQL(sql, engine)
	if err != nil {
		return nil, err
	}
	bd := &binder{
		sql:    sql,
		engine: engine,
		lex:    lexemes,
		at:     make(map[int]int, len(lexemes)),
		ctes:   make(map[string]bool),
		stmt: &Statement{
			SQL:        sql,
			ParamStyle: style,
			Engine:     engine,
		},
	}
	bd.index()

	tree, err := pg_query.Parse(bd.parseText())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedStatement, err)
	}
	if len(tree.Stmts) != 1 {
		return nil, fmt.Errorf("%w: expected one statement, got %d", ErrUnsupportedStatement, len(tree.Stmts))
	}
	if err := bd.bind(tree.Stmts[0].Stmt); err != nil {
		return nil, err
	}
	bd.stmt.Where = bd.where()
	if bd.limit != nil {
		bd.stmt.Pagination = bd.limit
	}
	return bd.stmt, nil
}

type binder struct {
	sql    string
	engine DatabaseEngine
	lex    []lexeme
	// depth is the parenthesis depth in front of each lexeme.
	depth []int
	// at maps a byte offset to the lexeme starting there.
	at map[int]int

	stmt   *Statement
	ctes   map[string]bool
	scopes []Expr
	// limit is a MySQL "LIMIT offset, count" hidden from the parser.
	limit *Pagination
	err   error
}

func (b *binder) index() {
	b.depth = make([]int, len(b.lex))
	d := 0
	for i, l := range b.lex {
		b.at[l.start] = i
		if l.isPunct(b.sql, ')') && d > 0 {
			d--
		}
		b.depth[i] = d
		if l.isPunct(b.sql, '(') {
			d++
		}
		if l.kind == lexParam {
			b.stmt.Params = append(b.stmt.Params, ParamSegment{Index: l.param, Start: l.start, Stop: l.stop})
		}
	}
}

// parseText is the SQL handed to the parser. It has the same length as the
// original so parser locations are valid offsets into it.
func (b *binder) parseText() string {
	buf := []byte(b.sql)
	blankedUntil := 0
	for i, l := range b.lex {
		if l.start < blankedUntil {
			continue
		}
		switch {
		case l.kind == lexQuoted && b.sql[l.start] == '`':
			buf[l.start] = '"'
			buf[l.stop-1] = '"'
		case l.kind == lexParam && b.sql[l.start] == '?':
			buf[l.start] = '0'
		case l.is(b.sql, "LIMIT") && b.depth[i] == 0 && i+3 < len(b.lex) && b.lex[i+2].isPunct(b.sql, ','):
			offset, ok1 := b.limitOperand(i + 1)
			count, ok2 := b.limitOperand(i + 3)
			if !ok1 || !ok2 {
				continue
			}
			b.limit = &Pagination{Offset: offset, RowCount: count}
			blankedUntil = b.lex[i+3].stop
			for j := l.start; j < blankedUntil; j++ {
				buf[j] = ' '
			}
		}
	}
	return string(buf)
}

func (b *binder) limitOperand(i int) (*PaginationValue, bool) {
	l := b.lex[i]
	switch l.kind {
	case lexParam:
		return &PaginationValue{ParamIndex: l.param, Start: l.start, Stop: l.stop}, true
	case lexNumber:
		n, err := strconv.ParseInt(l.text(b.sql), 10, 64)
		if err != nil {
			return nil, false
		}
		return &PaginationValue{Value: n, ParamIndex: -1, Start: l.start, Stop: l.stop}, true
	}
	return nil, false
}

func (b *binder) bind(node *pg_query.Node) error {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_SelectStmt:
		b.stmt.Kind = StatementSelect
		b.visitSelect(n.SelectStmt)
		b.bindSelectClause(n.SelectStmt)
	case *pg_query.Node_InsertStmt:
		b.stmt.Kind = StatementInsert
		b.bindInsert(n.InsertStmt)
	case *pg_query.Node_UpdateStmt:
		b.stmt.Kind = StatementUpdate
		u := n.UpdateStmt
		b.visitWith(u.GetWithClause())
		b.addTable(u.Relation)
		var terms []Expr
		for _, from := range u.FromClause {
			terms = append(terms, b.visitFrom(from)...)
		}
		for _, target := range u.TargetList {
			b.visitSubLinks(target)
		}
		b.addScope(true, b.qualify(terms, u.WhereClause))
	case *pg_query.Node_DeleteStmt:
		b.stmt.Kind = StatementDelete
		d := n.DeleteStmt
		b.visitWith(d.GetWithClause())
		b.addTable(d.Relation)
		var terms []Expr
		for _, using := range d.UsingClause {
			terms = append(terms, b.visitFrom(using)...)
		}
		b.addScope(true, b.qualify(terms, d.WhereClause))
	case *pg_query.Node_ExplainStmt:
		return b.bind(n.ExplainStmt.Query)
	case *pg_query.Node_CreateStmt:
		b.stmt.Kind = StatementDDL
		b.addTable(n.CreateStmt.Relation)
	case *pg_query.Node_AlterTableStmt:
		b.stmt.Kind = StatementDDL
		b.addTable(n.AlterTableStmt.Relation)
	case *pg_query.Node_TruncateStmt:
		b.stmt.Kind = StatementDDL
		for _, rel := range n.TruncateStmt.Relations {
			b.addTable(rel.GetRangeVar())
		}
	case *pg_query.Node_RenameStmt:
		b.stmt.Kind = StatementDDL
		b.addTable(n.RenameStmt.Relation)
	case *pg_query.Node_IndexStmt:
		b.stmt.Kind = StatementDDL
		b.addTable(n.IndexStmt.Relation)
		b.addIndexName(n.IndexStmt)
	case *pg_query.Node_DropStmt:
		b.stmt.Kind = StatementDDL
		b.bindDrop(n.DropStmt)
	default:
		b.stmt.Kind = StatementOther
	}
	return b.err
}

// qualify appends the WHERE predicate of a scope to its join predicates.
func (b *binder) qualify(terms []Expr, where *pg_query.Node) []Expr {
	if where == nil {
		return terms
	}
	b.visitSubLinks(where)
	return append(terms, b.expr(where))
}

// visitSelect records the tables and the predicate of every query scope
// reachable from sel: set operation branches, CTEs, derived tables and
// subqueries.
func (b *binder) visitSelect(sel *pg_query.SelectStmt) {
	if sel == nil {
		return
	}
	b.visitWith(sel.GetWithClause())
	if sel.Larg != nil || sel.Rarg != nil {
		b.visitSelect(sel.Larg)
		b.visitSelect(sel.Rarg)
		return
	}
	var terms []Expr
	for _, from := range sel.FromClause {
		terms = append(terms, b.visitFrom(from)...)
	}
	for _, target := range sel.TargetList {
		b.visitSubLinks(target)
	}
	b.visitSubLinks(sel.HavingClause)
	b.addScope(len(sel.FromClause) > 0, b.qualify(terms, sel.WhereClause))
}

func (b *binder) visitWith(with *pg_query.WithClause) {
	if with == nil {
		return
	}
	for _, node := range with.Ctes {
		cte := node.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		b.ctes[strings.ToLower(cte.Ctename)] = true
		if sel := cte.Ctequery.GetSelectStmt(); sel != nil {
			b.visitSelect(sel)
		}
	}
}

// visitFrom records the tables of a FROM item and returns the predicates of
// its inner joins. Outer join conditions do not restrict the preserved side
// and are left out.
func (b *binder) visitFrom(node *pg_query.Node) []Expr {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_RangeVar:
		b.addTable(n.RangeVar)
	case *pg_query.Node_JoinExpr:
		j := n.JoinExpr
		terms := b.visitFrom(j.Larg)
		terms = append(terms, b.visitFrom(j.Rarg)...)
		if j.Quals != nil {
			b.visitSubLinks(j.Quals)
			if j.Jointype == pg_query.JoinType_JOIN_INNER {
				terms = append(terms, b.expr(j.Quals))
			}
		}
		return terms
	case *pg_query.Node_RangeSubselect:
		b.visitSelect(n.RangeSubselect.Subquery.GetSelectStmt())
	}
	return nil
}

func (b *binder) visitSubLinks(node *pg_query.Node) {
	walkNode(node, func(n *pg_query.Node) bool {
		if link, ok := n.Node.(*pg_query.Node_SubLink); ok {
			b.visitSelect(link.SubLink.Subselect.GetSelectStmt())
			return false
		}
		return true
	})
}

func (b *binder) addScope(hasTables bool, terms []Expr) {
	switch {
	case len(terms) == 0 && !hasTables:
	case len(terms) == 0:
		b.scopes = append(b.scopes, nil)
	case len(terms) == 1:
		b.scopes = append(b.scopes, terms[0])
	default:
		b.scopes = append(b.scopes, AndExpr{Terms: terms})
	}
}

// where returns one predicate per scope. When there are several scopes, an
// unqualified one becomes an empty conjunction so its tables stay unrestricted.
func (b *binder) where() []Expr {
	if len(b.scopes) == 1 {
		if b.scopes[0] == nil {
			return nil
		}
		return b.scopes
	}
	var out []Expr
	for _, s := range b.scopes {
		if s == nil {
			s = AndExpr{}
		}
		out = append(out, s)
	}
	return out
}

func (b *binder) addTable(rv *pg_query.RangeVar) {
	if rv == nil || b.err != nil {
		return
	}
	if rv.Schemaname == "" && b.ctes[strings.ToLower(rv.Relname)] {
		return
	}
	i, ok := b.lexAt(int(rv.Location))
	if !ok {
		b.err = fmt.Errorf("%w: can not locate table %s", ErrUnsupportedStatement, rv.Relname)
		return
	}
	qualifiers := 0
	if rv.Catalogname != "" {
		qualifiers++
	}
	if rv.Schemaname != "" {
		qualifiers++
	}
	var schema *lexeme
	for q := 0; q < qualifiers; q++ {
		if i+2 >= len(b.lex) || !b.lex[i+1].isPunct(b.sql, '.') {
			b.err = fmt.Errorf("%w: can not locate table %s", ErrUnsupportedStatement, rv.Relname)
			return
		}
		schema = &b.lex[i]
		i += 2
	}
	start, stop := b.lex[i].identSpan()
	seg := TableSegment{Name: rv.Relname, Start: start, Stop: stop}
	if rv.Alias != nil {
		seg.Alias = rv.Alias.Aliasname
	}
	b.stmt.Tables = append(b.stmt.Tables, seg)
	if schema != nil && b.engine == EngineMySQL {
		start, stop := schema.identSpan()
		b.stmt.Schemas = append(b.stmt.Schemas, SchemaSegment{Table: rv.Relname, Start: start, Stop: stop})
	}
}

// addIndexName finds the index name between INDEX and ON.
func (b *binder) addIndexName(idx *pg_query.IndexStmt) {
	if idx.Idxname == "" {
		return
	}
	for i, l := range b.lex {
		if l.is(b.sql, "ON") {
			return
		}
		if (l.kind == lexIdent || l.kind == lexQuoted) && i > 0 && b.identValue(l) == idx.Idxname {
			start, stop := l.identSpan()
			b.stmt.Indexes = append(b.stmt.Indexes, IndexSegment{Name: idx.Idxname, Table: idx.GetRelation().GetRelname(), Start: start, Stop: stop})
			return
		}
	}
}

// bindDrop locates the names of DROP TABLE and DROP INDEX. The parser keeps
// no offsets for them.
func (b *binder) bindDrop(drop *pg_query.DropStmt) {
	var table bool
	switch drop.RemoveType {
	case pg_query.ObjectType_OBJECT_TABLE:
		table = true
	case pg_query.ObjectType_OBJECT_INDEX:
	default:
		return
	}
	i := 0
	for i < len(b.lex) && !b.lex[i].is(b.sql, "TABLE") && !b.lex[i].is(b.sql, "INDEX") {
		i++
	}
	i++
	for i < len(b.lex) && (b.lex[i].is(b.sql, "CONCURRENTLY") || b.lex[i].is(b.sql, "IF") || b.lex[i].is(b.sql, "EXISTS")) {
		i++
	}
	for i < len(b.lex) {
		var parts []lexeme
		for i < len(b.lex) && (b.lex[i].kind == lexIdent || b.lex[i].kind == lexQuoted) {
			parts = append(parts, b.lex[i])
			i++
			if i < len(b.lex) && b.lex[i].isPunct(b.sql, '.') {
				i++
				continue
			}
			break
		}
		if len(parts) == 0 {
			return
		}
		name := parts[len(parts)-1]
		start, stop := name.identSpan()
		if table {
			b.stmt.Tables = append(b.stmt.Tables, TableSegment{Name: b.identValue(name), Start: start, Stop: stop})
			if len(parts) > 1 && b.engine == EngineMySQL {
				s, e := parts[len(parts)-2].identSpan()
				b.stmt.Schemas = append(b.stmt.Schemas, SchemaSegment{Table: b.identValue(name), Start: s, Stop: e})
			}
		} else {
			b.stmt.Indexes = append(b.stmt.Indexes, IndexSegment{Name: b.identValue(name), Start: start, Stop: stop})
		}
		if i < len(b.lex) && b.lex[i].isPunct(b.sql, ',') {
			i++
			continue
		}
		return
	}
}

func (b *binder) bindInsert(ins *pg_query.InsertStmt) {
	b.visitWith(ins.GetWithClause())
	b.addTable(ins.Relation)
	if b.err != nil || len(b.stmt.Tables) == 0 {
		return
	}
	clause := &InsertClause{
		Table:       ins.Relation.Relname,
		ColumnsStop: -1,
		ValuesStart: -1,
		ValuesStop:  -1,
	}
	b.stmt.Insert = clause

	cursor := b.stmt.Tables[len(b.stmt.Tables)-1].Stop
	for _, col := range ins.Cols {
		if target := col.GetResTarget(); target != nil {
			clause.Columns = append(clause.Columns, target.Name)
		}
	}
	if n := len(ins.Cols); n > 0 {
		last := ins.Cols[n-1].GetResTarget()
		i, ok := b.lexAt(int(last.GetLocation()))
		if !ok {
			b.err = fmt.Errorf("%w: can not locate insert column %s", ErrUnsupportedStatement, last.GetName())
			return
		}
		for ; i < len(b.lex); i++ {
			if b.lex[i].isPunct(b.sql, ')') {
				clause.ColumnsStop = b.lex[i].start
				cursor = b.lex[i].stop
				break
			}
		}
	}

	sel := ins.SelectStmt.GetSelectStmt()
	if sel == nil {
		return
	}
	if len(sel.ValuesLists) == 0 || len(sel.FromClause) > 0 {
		b.visitSelect(sel)
		return
	}

	i := 0
	for i < len(b.lex) && (b.lex[i].start < cursor || !b.lex[i].is(b.sql, "VALUES") || b.depth[i] != 0) {
		i++
	}
	i++
	for r := 0; r < len(sel.ValuesLists); r++ {
		if i >= len(b.lex) || !b.lex[i].isPunct(b.sql, '(') {
			b.err = fmt.Errorf("%w: can not locate VALUES row %d", ErrUnsupportedStatement, r)
			return
		}
		end := b.matchParen(i)
		if end < 0 {
			b.err = fmt.Errorf("%w: unbalanced VALUES row %d", ErrUnsupportedStatement, r)
			return
		}
		row := InsertRow{Start: b.lex[i].start, Stop: b.lex[end].stop}
		for _, item := range sel.ValuesLists[r].GetList().GetItems() {
			row.Values = append(row.Values, b.expr(item))
		}
		for _, p := range b.stmt.Params {
			if p.Start >= row.Start && p.Stop <= row.Stop {
				row.Params = append(row.Params, p)
			}
		}
		clause.Rows = append(clause.Rows, row)
		i = end + 1
		if i < len(b.lex) && b.lex[i].isPunct(b.sql, ',') {
			i++
		}
	}
	clause.ValuesStart = clause.Rows[0].Start
	clause.ValuesStop = clause.Rows[len(clause.Rows)-1].Stop
}

var aggregateFuncs = map[string]bool{"count": true, "sum": true, "avg": true, "max": true, "min": true}

var projectionEnd = map[string]bool{
	"from": true, "into": true, "where": true, "group": true, "having": true, "window": true,
	"order": true, "limit": true, "offset": true, "fetch": true, "for": true,
	"union": true, "intersect": true, "except": true,
}

// bindSelectClause fills the projection, ordering and pagination facts of a
// top level SELECT.
func (b *binder) bindSelectClause(sel *pg_query.SelectStmt) {
	if b.err != nil {
		return
	}
	b.stmt.Pagination = b.pagination(sel)
	if sel.Larg != nil || len(sel.TargetList) == 0 {
		return
	}
	clause := &SelectClause{Distinct: len(sel.DistinctClause) > 0}
	for _, node := range sel.TargetList {
		target := node.GetResTarget()
		if target == nil {
			continue
		}
		p := Projection{Alias: target.Name}
		switch val := target.Val.GetNode().(type) {
		case *pg_query.Node_ColumnRef:
			fields := val.ColumnRef.Fields
			if len(fields) > 0 && fields[len(fields)-1].GetAStar() != nil {
				clause.Star = true
				continue
			}
			if col, ok := columnRef(val.ColumnRef); ok {
				p.Owner, p.Name = col.Owner, col.Name
			}
		case *pg_query.Node_FuncCall:
			if agg, ok := b.aggregation(val.FuncCall); ok {
				agg.Alias = target.Name
				clause.Aggregations = append(clause.Aggregations, agg)
			}
		}
		clause.Projections = append(clause.Projections, p)
	}

	first, ok := b.lexAt(int(sel.TargetList[0].GetResTarget().GetLocation()))
	if !ok {
		b.err = fmt.Errorf("%w: can not locate the select list", ErrUnsupportedStatement)
		return
	}
	last, ok := b.lexAt(int(sel.TargetList[len(sel.TargetList)-1].GetResTarget().GetLocation()))
	if !ok {
		b.err = fmt.Errorf("%w: can not locate the select list", ErrUnsupportedStatement)
		return
	}
	clause.ProjectionsStart = b.lex[first].start
	clause.ProjectionsStop = b.projectionsStop(last)

	for _, node := range sel.SortClause {
		if sortBy := node.GetSortBy(); sortBy != nil {
			if item, ok := orderItem(sortBy.Node); ok {
				item.Desc = sortBy.SortbyDir == pg_query.SortByDir_SORTBY_DESC
				clause.OrderBy = append(clause.OrderBy, item)
			}
		}
	}
	for _, node := range sel.GroupClause {
		if item, ok := orderItem(node); ok {
			clause.GroupBy = append(clause.GroupBy, item)
		}
	}
	b.stmt.Select = clause
}

// projectionsStop returns the offset right after the select list, scanning
// from the lexeme of the last projection.
func (b *binder) projectionsStop(from int) int {
	d := b.depth[from]
	stop := b.lex[from].stop
	for i := from; i < len(b.lex); i++ {
		l := b.lex[i]
		if b.depth[i] < d || l.isPunct(b.sql, ';') {
			break
		}
		if b.depth[i] == d && l.kind == lexIdent && projectionEnd[strings.ToLower(l.text(b.sql))] && !(i > 0 && b.lex[i-1].is(b.sql, "AS")) {
			break
		}
		stop = l.stop
	}
	return stop
}

func (b *binder) aggregation(fc *pg_query.FuncCall) (Aggregation, bool) {
	name := funcName(fc)
	if !aggregateFuncs[name] || fc.Over != nil {
		return Aggregation{}, false
	}
	i, ok := b.lexAt(int(fc.Location))
	if !ok {
		return Aggregation{}, false
	}
	for i < len(b.lex) && !b.lex[i].isPunct(b.sql, '(') {
		i++
	}
	if i >= len(b.lex) {
		return Aggregation{}, false
	}
	end := b.matchParen(i)
	if end < 0 {
		return Aggregation{}, false
	}
	argStart := i + 1
	if fc.AggDistinct && argStart < end && b.lex[argStart].is(b.sql, "DISTINCT") {
		argStart++
	}
	arg := "*"
	if argStart < end {
		arg = strings.TrimSpace(b.sql[b.lex[argStart].start:b.lex[end].start])
	}
	return Aggregation{
		Func:     strings.ToUpper(name),
		Distinct: fc.AggDistinct,
		Arg:      arg,
		Start:    int(fc.Location),
		Stop:     b.lex[end].stop,
	}, true
}

func (b *binder) pagination(sel *pg_query.SelectStmt) *Pagination {
	offset := b.paginationValue(sel.LimitOffset)
	count := b.paginationValue(sel.LimitCount)
	if offset == nil && count == nil {
		return nil
	}
	return &Pagination{Offset: offset, RowCount: count}
}

func (b *binder) paginationValue(node *pg_query.Node) *PaginationValue {
	var loc int
	switch n := node.GetNode().(type) {
	case *pg_query.Node_AConst:
		if n.AConst.Isnull {
			return nil
		}
		loc = int(n.AConst.Location)
	case *pg_query.Node_ParamRef:
		loc = int(n.ParamRef.Location)
	default:
		return nil
	}
	i, ok := b.lexAt(loc)
	if !ok {
		return nil
	}
	v, ok := b.limitOperand(i)
	if !ok {
		return nil
	}
	return v
}

// expr converts a predicate or value expression.
func (b *binder) expr(node *pg_query.Node) Expr {
	switch n := node.GetNode().(type) {
	case nil:
		return nil
	case *pg_query.Node_BoolExpr:
		args := make([]Expr, 0, len(n.BoolExpr.Args))
		for _, arg := range n.BoolExpr.Args {
			args = append(args, b.expr(arg))
		}
		switch n.BoolExpr.Boolop {
		case pg_query.BoolExprType_AND_EXPR:
			return AndExpr{Terms: args}
		case pg_query.BoolExprType_OR_EXPR:
			return OrExpr{Terms: args}
		case pg_query.BoolExprType_NOT_EXPR:
			if len(args) == 1 {
				return NotExpr{Expr: args[0]}
			}
		}
	case *pg_query.Node_AExpr:
		return b.aExpr(n.AExpr)
	case *pg_query.Node_ColumnRef:
		if col, ok := columnRef(n.ColumnRef); ok {
			return col
		}
	case *pg_query.Node_AConst:
		return b.constant(n.AConst)
	case *pg_query.Node_ParamRef:
		return ParamExpr{Index: int(n.ParamRef.Number) - 1}
	case *pg_query.Node_TypeCast:
		return b.cast(n.TypeCast)
	case *pg_query.Node_FuncCall:
		switch funcName(n.FuncCall) {
		case "now", "current_timestamp", "localtimestamp", "sysdate":
			return NowExpr{}
		}
	case *pg_query.Node_SqlvalueFunction:
		switch n.SqlvalueFunction.Op {
		case pg_query.SQLValueFunctionOp_SVFOP_CURRENT_TIMESTAMP,
			pg_query.SQLValueFunctionOp_SVFOP_CURRENT_TIMESTAMP_N,
			pg_query.SQLValueFunctionOp_SVFOP_LOCALTIMESTAMP,
			pg_query.SQLValueFunctionOp_SVFOP_LOCALTIMESTAMP_N:
			return NowExpr{}
		}
	}
	return UnsupportedExpr{Text: fmt.Sprintf("%T", node.GetNode())}
}

func (b *binder) aExpr(a *pg_query.A_Expr) Expr {
	op := operatorName(a.Name)
	switch a.Kind {
	case pg_query.A_Expr_Kind_AEXPR_OP:
		if a.Lexpr == nil {
			break
		}
		switch op {
		case "=", "<>", "!=", "<", "<=", ">", ">=":
			return CompareExpr{Op: op, Left: b.expr(a.Lexpr), Right: b.expr(a.Rexpr)}
		}
	case pg_query.A_Expr_Kind_AEXPR_IN:
		list := a.Rexpr.GetList()
		if list == nil {
			break
		}
		values := make([]Expr, 0, len(list.Items))
		for _, item := range list.Items {
			values = append(values, b.expr(item))
		}
		return InExpr{Left: b.expr(a.Lexpr), Values: values, Not: op == "<>"}
	case pg_query.A_Expr_Kind_AEXPR_BETWEEN, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN:
		list := a.Rexpr.GetList()
		if list == nil || len(list.Items) != 2 {
			break
		}
		return BetweenExpr{
			Expr: b.expr(a.Lexpr),
			Low:  b.expr(list.Items[0]),
			High: b.expr(list.Items[1]),
			Not:  a.Kind == pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN,
		}
	}
	return UnsupportedExpr{Text: op}
}

func (b *binder) constant(c *pg_query.A_Const) Expr {
	if i, ok := b.lexAt(int(c.Location)); ok {
		l := b.lex[i]
		if l.kind == lexParam {
			return ParamExpr{Index: l.param}
		}
		// the parser folds "-?" into a negative constant
		if l.isPunct(b.sql, '-') && i+1 < len(b.lex) && b.lex[i+1].kind == lexParam {
			return UnsupportedExpr{Text: "-?"}
		}
	}
	if c.Isnull {
		return LiteralExpr{}
	}
	switch v := c.Val.(type) {
	case *pg_query.A_Const_Ival:
		return LiteralExpr{Value: int64(v.Ival.GetIval())}
	case *pg_query.A_Const_Fval:
		text := v.Fval.GetFval()
		if n, ok := new(big.Int).SetString(text, 10); ok {
			return LiteralExpr{Value: normalizeBig(n)}
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return UnsupportedExpr{Text: text}
		}
		return LiteralExpr{Value: f}
	case *pg_query.A_Const_Sval:
		return LiteralExpr{Value: v.Sval.GetSval()}
	case *pg_query.A_Const_Boolval:
		return LiteralExpr{Value: v.Boolval.GetBoolval()}
	}
	return UnsupportedExpr{Text: "constant"}
}

// cast keeps parameters and integer or text casts of constants. Other casts
// change the value in ways routing can not follow.
func (b *binder) cast(tc *pg_query.TypeCast) Expr {
	inner := b.expr(tc.Arg)
	if _, ok := inner.(ParamExpr); ok {
		return inner
	}
	lit, ok := inner.(LiteralExpr)
	if !ok {
		return UnsupportedExpr{Text: "cast"}
	}
	var typ string
	if names := tc.GetTypeName().GetNames(); len(names) > 0 {
		typ = names[len(names)-1].GetString_().GetSval()
	}
	switch strings.ToLower(typ) {
	case "int2", "int4", "int8", "integer", "bigint", "smallint":
		switch v := lit.Value.(type) {
		case int64:
			return lit
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil {
				return LiteralExpr{Value: n}
			}
		}
	case "text", "varchar", "bpchar":
		if _, ok := lit.Value.(string); ok {
			return lit
		}
	}
	return UnsupportedExpr{Text: "cast " + typ}
}

func columnRef(ref *pg_query.ColumnRef) (ColumnExpr, bool) {
	names := make([]string, 0, len(ref.Fields))
	for _, f := range ref.Fields {
		s := f.GetString_()
		if s == nil {
			return ColumnExpr{}, false
		}
		names = append(names, s.Sval)
	}
	switch len(names) {
	case 0:
		return ColumnExpr{}, false
	case 1:
		return ColumnExpr{Name: names[0]}, true
	}
	return ColumnExpr{Owner: names[len(names)-2], Name: names[len(names)-1]}, true
}

func orderItem(node *pg_query.Node) (OrderItem, bool) {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		col, ok := columnRef(n.ColumnRef)
		return OrderItem{Owner: col.Owner, Name: col.Name}, ok
	case *pg_query.Node_AConst:
		if iv, ok := n.AConst.Val.(*pg_query.A_Const_Ival); ok {
			return OrderItem{Position: int(iv.Ival.GetIval())}, true
		}
	}
	return OrderItem{}, false
}

func funcName(fc *pg_query.FuncCall) string {
	if len(fc.Funcname) == 0 {
		return ""
	}
	return strings.ToLower(fc.Funcname[len(fc.Funcname)-1].GetString_().GetSval())
}

func operatorName(names []*pg_query.Node) string {
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1].GetString_().GetSval()
}

func (b *binder) lexAt(offset int) (int, bool) {
	i, ok := b.at[offset]
	return i, ok
}

// matchParen returns the index of the ')' closing the '(' at i, or -1.
func (b *binder) matchParen(i int) int {
	d := b.depth[i]
	for j := i + 1; j < len(b.lex); j++ {
		if b.lex[j].isPunct(b.sql, ')') && b.depth[j] == d {
			return j
		}
	}
	return -1
}

// identValue is the name an identifier lexeme denotes: folded to lower case
// unless quoted.
func (b *binder) identValue(l lexeme) string {
	if l.kind != lexQuoted {
		return strings.ToLower(l.text(b.sql))
	}
	q := b.sql[l.start : l.start+1]
	start, stop := l.identSpan()
	return strings.ReplaceAll(b.sql[start:stop], q+q, q)
}

var nodeType = reflect.TypeOf((*pg_query.Node)(nil))

// walkNode visits node and its descendants depth first. visit returning
// false skips the children of a node.
func walkNode(node *pg_query.Node, visit func(*pg_query.Node) bool) {
	if node == nil || node.Node == nil || !visit(node) {
		return
	}
	walkFields(reflect.ValueOf(node.Node), visit)
}

func walkFields(v reflect.Value, visit func(*pg_query.Node) bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			if f.Type() == nodeType {
				walkNode(f.Interface().(*pg_query.Node), visit)
				continue
			}
			walkFields(f, visit)
		case reflect.Interface:
			walkFields(f, visit)
		case reflect.Slice:
			if f.Type().Elem() != nodeType {
				continue
			}
			for j := 0; j < f.Len(); j++ {
				walkNode(f.Index(j).Interface().(*pg_query.Node), visit)
			}
		}
	}
}
