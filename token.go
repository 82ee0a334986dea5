package sharding

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Token is a rewrite instruction anchored at [Start, Stop) of the original
// SQL. Insertions have Start == Stop. Text between tokens is copied verbatim.
type Token interface {
	Start() int
	Stop() int
	render(ctx *rewriteContext, sb *strings.Builder) error
}

type span struct {
	start int
	stop  int
}

func (s span) Start() int { return s.start }
func (s span) Stop() int  { return s.stop }

func (s span) original(ctx *rewriteContext) string {
	return ctx.stmt.SQL[s.start:s.stop]
}

// rewriteContext is everything a token needs to render for one route unit.
type rewriteContext struct {
	stmt *Statement
	unit RouteUnit
	// merging is set when the caller merges results of several units, which
	// turns on pagination widening and derived items.
	merging bool
	// rows lists the INSERT rows kept in this unit; nil keeps all of them.
	rows     []int
	key      *GeneratedKey
	paramMap map[int]int
}

func (ctx *rewriteContext) actualTable(kind, logic string) (string, error) {
	if actual, ok := ctx.unit.ActualTable(logic); ok {
		return actual, nil
	}
	return "", &UnresolvablePlaceholderError{Kind: kind, LogicTable: logic, Unit: ctx.unit}
}

// TableToken replaces a logic table name with the actual table.
type TableToken struct {
	span
	LogicTable string
}

func (t *TableToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	actual, err := ctx.actualTable("table", t.LogicTable)
	if err != nil {
		return err
	}
	sb.WriteString(actual)
	return nil
}

// IndexToken renames an index to "<index>_<actual table>". An empty
// LogicTable means the statement did not say which table owns the index and
// the unit must map exactly one table.
type IndexToken struct {
	span
	Index      string
	LogicTable string
}

func (t *IndexToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	logic := t.LogicTable
	if logic == "" {
		if len(ctx.unit.TableMappers) != 1 {
			return &UnresolvablePlaceholderError{Kind: "index", LogicTable: t.Index, Unit: ctx.unit}
		}
		logic = ctx.unit.TableMappers[0].Logic
	}
	actual, err := ctx.actualTable("index", logic)
	if err != nil {
		return err
	}
	sb.WriteString(t.Index)
	sb.WriteString("_")
	sb.WriteString(actual)
	return nil
}

// SchemaToken replaces a schema qualifier with the data source of the unit.
type SchemaToken struct {
	span
	LogicTable string
}

func (t *SchemaToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if _, err := ctx.actualTable("schema", t.LogicTable); err != nil {
		return err
	}
	sb.WriteString(ctx.unit.DataSource)
	return nil
}

// OffsetToken is a literal OFFSET operand.
type OffsetToken struct {
	span
	Value int64
}

func (t *OffsetToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if !ctx.merging {
		sb.WriteString(t.original(ctx))
		return nil
	}
	sb.WriteString("0")
	return nil
}

// RowCountToken is a literal LIMIT operand. Offset is the resolved OFFSET of
// the statement, literal or bound.
type RowCountToken struct {
	span
	Value       int64
	Offset      int64
	MaxRowCount bool
}

func (t *RowCountToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if !ctx.merging {
		sb.WriteString(t.original(ctx))
		return nil
	}
	sb.WriteString(strconv.FormatInt(widenRowCount(t.Value, t.Offset, t.MaxRowCount), 10))
	return nil
}

func widenRowCount(rowCount, offset int64, max bool) int64 {
	if max {
		return math.MaxInt32
	}
	if offset > 0 && rowCount > math.MaxInt64-offset {
		return math.MaxInt64
	}
	return offset + rowCount
}

// ItemsToken appends derived projections after the projection list.
type ItemsToken struct {
	span
	Items []string
}

func (t *ItemsToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if !ctx.merging || len(t.Items) == 0 {
		return nil
	}
	sb.WriteString(", ")
	sb.WriteString(strings.Join(t.Items, ", "))
	return nil
}

// DistinctPrefixToken turns the projection list into SELECT DISTINCT when an
// aggregation distinct is rewritten.
type DistinctPrefixToken struct {
	span
}

func (t *DistinctPrefixToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if ctx.merging {
		sb.WriteString("DISTINCT ")
	}
	return nil
}

// AggregationDistinctToken replaces COUNT(DISTINCT x) style calls with the
// bare argument so that each unit returns the distinct values themselves.
type AggregationDistinctToken struct {
	span
	Arg   string
	Alias string
}

func (t *AggregationDistinctToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if !ctx.merging {
		sb.WriteString(t.original(ctx))
		return nil
	}
	sb.WriteString(t.Arg)
	if t.Alias != "" {
		sb.WriteString(" AS ")
		sb.WriteString(t.Alias)
	}
	return nil
}

// GeneratedKeyColumnToken appends the generated key column to the INSERT
// column list.
type GeneratedKeyColumnToken struct {
	span
	Column string
}

func (t *GeneratedKeyColumnToken) render(_ *rewriteContext, sb *strings.Builder) error {
	sb.WriteString(", ")
	sb.WriteString(t.Column)
	return nil
}

// InsertValuesToken renders the VALUES rows of the unit, each with its
// generated key.
type InsertValuesToken struct {
	span
}

func (t *InsertValuesToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	ins := ctx.stmt.Insert
	generated := ctx.key != nil && ctx.key.Generated
	if ctx.rows == nil && !generated && ctx.paramMap == nil {
		sb.WriteString(t.original(ctx))
		return nil
	}
	rows := ctx.rows
	if rows == nil {
		rows = make([]int, len(ins.Rows))
		for i := range rows {
			rows[i] = i
		}
	}
	for n, i := range rows {
		if i < 0 || i >= len(ins.Rows) {
			return fmt.Errorf("%w: insert row %d out of range", ErrInvalidToken, i)
		}
		if n > 0 {
			sb.WriteString(", ")
		}
		row := ins.Rows[i]
		text := renderWithParams(ctx, row.Start, row.Stop, row.Params)
		if generated {
			if i >= len(ctx.key.Values) {
				return fmt.Errorf("%w: no generated key for insert row %d", ErrInvalidToken, i)
			}
			closing := strings.LastIndexByte(text, ')')
			if closing < 0 {
				return fmt.Errorf("%w: insert row %d is not parenthesized", ErrInvalidToken, i)
			}
			sb.WriteString(text[:closing])
			sb.WriteString(", ")
			sb.WriteString(generatedKeyText(ctx, ctx.key.Values[i]))
			sb.WriteString(text[closing:])
			continue
		}
		sb.WriteString(text)
	}
	return nil
}

func generatedKeyText(ctx *rewriteContext, v any) string {
	if ctx.stmt.ParamStyle == ParamPositional {
		return "?"
	}
	n, err := normalizeScalar(v)
	if err != nil {
		return formatScalar(fmt.Sprintf("%v", v))
	}
	return formatScalar(n)
}

// renderWithParams copies SQL[start:stop], renumbering '$n' parameters when
// the unit carries a parameter map.
func renderWithParams(ctx *rewriteContext, start, stop int, params []ParamSegment) string {
	sql := ctx.stmt.SQL
	if ctx.paramMap == nil || len(params) == 0 {
		return sql[start:stop]
	}
	var sb strings.Builder
	cursor := start
	for _, p := range params {
		if p.Start < cursor || p.Stop > stop {
			continue
		}
		sb.WriteString(sql[cursor:p.Start])
		sb.WriteString(numberedParam(ctx.paramMap, p.Index))
		cursor = p.Stop
	}
	sb.WriteString(sql[cursor:stop])
	return sb.String()
}

func numberedParam(paramMap map[int]int, index int) string {
	if n, ok := paramMap[index]; ok {
		index = n
	}
	return "$" + strconv.Itoa(index+1)
}

// ParamToken is a '$n' parameter outside the VALUES rows of an INSERT.
type ParamToken struct {
	span
	Index int
}

func (t *ParamToken) render(ctx *rewriteContext, sb *strings.Builder) error {
	if ctx.paramMap == nil {
		sb.WriteString(t.original(ctx))
		return nil
	}
	sb.WriteString(numberedParam(ctx.paramMap, t.Index))
	return nil
}

// GenerateTokens builds the token stream of a statement. params resolve bound
// pagination operands; key is the generated key of an INSERT, if any.
func GenerateTokens(stmt *Statement, rule *ShardingRule, params []any, key *GeneratedKey) ([]Token, error) {
	var tokens []Token
	hasSharded := false
	for _, t := range stmt.Tables {
		if _, ok := rule.TableRule(t.Name); ok {
			hasSharded = true
			tokens = append(tokens, &TableToken{span: span{t.Start, t.Stop}, LogicTable: strings.ToLower(t.Name)})
		}
	}
	for _, idx := range stmt.Indexes {
		if idx.Table == "" && !hasSharded {
			continue
		}
		if idx.Table != "" {
			if _, ok := rule.TableRule(idx.Table); !ok {
				continue
			}
		}
		tokens = append(tokens, &IndexToken{span: span{idx.Start, idx.Stop}, Index: idx.Name, LogicTable: strings.ToLower(idx.Table)})
	}
	for _, s := range stmt.Schemas {
		if _, ok := rule.TableRule(s.Table); !ok {
			continue
		}
		tokens = append(tokens, &SchemaToken{span: span{s.Start, s.Stop}, LogicTable: strings.ToLower(s.Table)})
	}
	tokens = append(tokens, paginationTokens(stmt, params)...)
	if stmt.Select != nil {
		tokens = append(tokens, selectTokens(stmt)...)
	}
	if stmt.Insert != nil {
		tokens = append(tokens, insertTokens(stmt, key)...)
	}
	if err := sortTokens(tokens, len(stmt.SQL)); err != nil {
		return nil, err
	}
	return tokens, nil
}

func paginationTokens(stmt *Statement, params []any) []Token {
	p := stmt.Pagination
	if p == nil {
		return nil
	}
	var tokens []Token
	offset, _ := p.Offset.resolve(params)
	if p.Offset != nil && !p.Offset.IsParam() {
		tokens = append(tokens, &OffsetToken{span: span{p.Offset.Start, p.Offset.Stop}, Value: p.Offset.Value})
	}
	if p.RowCount != nil && !p.RowCount.IsParam() {
		tokens = append(tokens, &RowCountToken{
			span:        span{p.RowCount.Start, p.RowCount.Stop},
			Value:       p.RowCount.Value,
			Offset:      offset,
			MaxRowCount: needsMaxRowCount(stmt.Select),
		})
	}
	return tokens
}

// needsMaxRowCount reports grouped or aggregated queries whose GROUP BY does
// not match ORDER BY. Every unit then has to return all of its groups.
func needsMaxRowCount(sel *SelectClause) bool {
	if sel == nil {
		return false
	}
	if len(sel.GroupBy) == 0 && len(sel.Aggregations) == 0 {
		return false
	}
	return !sameGroupByAndOrderBy(sel)
}

func sameGroupByAndOrderBy(sel *SelectClause) bool {
	if len(sel.GroupBy) == 0 || len(sel.GroupBy) != len(sel.OrderBy) {
		return false
	}
	for i := range sel.GroupBy {
		if !sel.GroupBy[i].sameAs(sel.OrderBy[i]) || sel.GroupBy[i].Desc != sel.OrderBy[i].Desc {
			return false
		}
	}
	return true
}

const (
	orderByDerivedPrefix     = "ORDER_BY_DERIVED_"
	groupByDerivedPrefix     = "GROUP_BY_DERIVED_"
	avgDerivedCountPrefix    = "AVG_DERIVED_COUNT_"
	avgDerivedSumPrefix      = "AVG_DERIVED_SUM_"
	aggregationDistinctAlias = "AGGREGATION_DISTINCT_DERIVED_"
)

func selectTokens(stmt *Statement) []Token {
	sel := stmt.Select
	var items []string
	if !sel.Star {
		var derived []OrderItem
		for _, item := range sel.OrderBy {
			if item.Position > 0 || projected(sel, item, derived) {
				continue
			}
			items = append(items, fmt.Sprintf("%s AS %s%d", qualifiedName(stmt, item), orderByDerivedPrefix, len(derived)))
			derived = append(derived, item)
		}
		grouped := 0
		for _, item := range sel.GroupBy {
			if item.Position > 0 || projected(sel, item, derived) {
				continue
			}
			items = append(items, fmt.Sprintf("%s AS %s%d", qualifiedName(stmt, item), groupByDerivedPrefix, grouped))
			derived = append(derived, item)
			grouped++
		}
	}

	var tokens []Token
	avg := 0
	distinct := 0
	rewriteDistinct := len(sel.GroupBy) == 0
	for _, agg := range sel.Aggregations {
		fn := strings.ToUpper(agg.Func)
		if agg.Distinct {
			if rewriteDistinct {
				alias := ""
				if agg.Alias == "" {
					alias = fmt.Sprintf("%s%d", aggregationDistinctAlias, distinct)
				}
				tokens = append(tokens, &AggregationDistinctToken{span: span{agg.Start, agg.Stop}, Arg: agg.Arg, Alias: alias})
				distinct++
			}
			continue
		}
		if fn == "AVG" {
			items = append(items,
				fmt.Sprintf("COUNT(%s) AS %s%d", agg.Arg, avgDerivedCountPrefix, avg),
				fmt.Sprintf("SUM(%s) AS %s%d", agg.Arg, avgDerivedSumPrefix, avg))
			avg++
		}
	}
	if distinct > 0 && !sel.Distinct {
		tokens = append(tokens, &DistinctPrefixToken{span: span{sel.ProjectionsStart, sel.ProjectionsStart}})
	}
	if len(items) > 0 {
		tokens = append(tokens, &ItemsToken{span: span{sel.ProjectionsStop, sel.ProjectionsStop}, Items: items})
	}
	return tokens
}

// projected reports whether an ORDER BY or GROUP BY item is already part of
// the projections, by column name or alias.
func projected(sel *SelectClause, item OrderItem, derived []OrderItem) bool {
	for _, p := range sel.Projections {
		if p.Alias != "" && item.Owner == "" && strings.EqualFold(p.Alias, item.Name) {
			return true
		}
		if strings.EqualFold(p.Name, item.Name) && (item.Owner == "" || p.Owner == "" || strings.EqualFold(p.Owner, item.Owner)) {
			return true
		}
	}
	for _, d := range derived {
		if d.sameAs(item) {
			return true
		}
	}
	return false
}

func qualifiedName(stmt *Statement, item OrderItem) string {
	name := quoteIdentifier(stmt.Engine, item.Name)
	if item.Owner == "" {
		return name
	}
	return quoteIdentifier(stmt.Engine, item.Owner) + "." + name
}

func insertTokens(stmt *Statement, key *GeneratedKey) []Token {
	ins := stmt.Insert
	var tokens []Token
	if key != nil && key.Generated && ins.ColumnsStop >= 0 {
		tokens = append(tokens, &GeneratedKeyColumnToken{
			span:   span{ins.ColumnsStop, ins.ColumnsStop},
			Column: quoteIdentifier(stmt.Engine, key.Column),
		})
	}
	if len(ins.Rows) > 0 {
		tokens = append(tokens, &InsertValuesToken{span: span{ins.ValuesStart, ins.ValuesStop}})
	}
	if stmt.ParamStyle == ParamNumbered {
		for _, p := range stmt.Params {
			if len(ins.Rows) > 0 && p.Start >= ins.ValuesStart && p.Stop <= ins.ValuesStop {
				continue
			}
			tokens = append(tokens, &ParamToken{span: span{p.Start, p.Stop}, Index: p.Index})
		}
	}
	return tokens
}

// sortTokens orders tokens by position and rejects overlaps or spans outside
// the statement.
func sortTokens(tokens []Token, length int) error {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Start() != tokens[j].Start() {
			return tokens[i].Start() < tokens[j].Start()
		}
		return tokens[i].Stop() < tokens[j].Stop()
	})
	prev := 0
	for _, t := range tokens {
		if t.Start() < 0 || t.Stop() < t.Start() || t.Stop() > length {
			return fmt.Errorf("%w: %T spans [%d, %d) of a %d byte statement", ErrInvalidToken, t, t.Start(), t.Stop(), length)
		}
		if t.Start() < prev {
			return fmt.Errorf("%w: %T at %d overlaps the previous token ending at %d", ErrInvalidToken, t, t.Start(), prev)
		}
		prev = t.Stop()
	}
	return nil
}
