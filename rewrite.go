package sharding

import (
	"fmt"
	"strings"
)

// SQLUnit is the SQL and parameters to execute on one route unit.
type SQLUnit struct {
	Unit       RouteUnit
	SQL        string
	Parameters []any
}

// SQLRewriter applies a token stream to a statement. It never mutates the
// statement, the tokens or the route result, so rewriting the same unit twice
// yields the same text.
type SQLRewriter struct {
	stmt   *Statement
	tokens []Token
}

func NewSQLRewriter(stmt *Statement, tokens []Token) *SQLRewriter {
	return &SQLRewriter{stmt: stmt, tokens: tokens}
}

// Rewrite renders the SQL of unit. merging turns on pagination widening and
// derived projections.
func (w *SQLRewriter) Rewrite(result *RouteResult, unit RouteUnit, merging bool) (*SQLUnit, error) {
	rows := w.keptRows(result, unit)
	params, paramMap, err := rewriteParameters(w.stmt, result.Parameters, result.GeneratedKey, rows, merging)
	if err != nil {
		return nil, err
	}
	ctx := &rewriteContext{
		stmt:     w.stmt,
		unit:     unit,
		merging:  merging,
		rows:     rows,
		key:      result.GeneratedKey,
		paramMap: paramMap,
	}

	sql := w.stmt.SQL
	var sb strings.Builder
	sb.Grow(len(sql) + 16*len(w.tokens))
	cursor := 0
	for _, t := range w.tokens {
		if t.Start() < cursor {
			return nil, fmt.Errorf("%w: %T at %d overlaps output cursor %d", ErrInvalidToken, t, t.Start(), cursor)
		}
		sb.WriteString(sql[cursor:t.Start()])
		if err := t.render(ctx, &sb); err != nil {
			return nil, err
		}
		cursor = t.Stop()
	}
	sb.WriteString(sql[cursor:])

	return &SQLUnit{Unit: unit, SQL: sb.String(), Parameters: params}, nil
}

// keptRows returns the INSERT rows of unit, or nil when the unit keeps every
// row.
func (w *SQLRewriter) keptRows(result *RouteResult, unit RouteUnit) []int {
	if w.stmt.Insert == nil || result.rowUnits == nil {
		return nil
	}
	rows := result.RowsFor(unit)
	if len(rows) == len(w.stmt.Insert.Rows) {
		return nil
	}
	return rows
}

// rewriteParameters derives the parameters of one unit: widened pagination
// operands, INSERT parameters filtered to the kept rows and the generated keys
// of positional statements. For '$n' statements whose rows were filtered the
// returned map renumbers the surviving parameters.
func rewriteParameters(stmt *Statement, params []any, key *GeneratedKey, rows []int, merging bool) ([]any, map[int]int, error) {
	out := append([]any(nil), params...)
	if merging && stmt.Pagination != nil {
		p := stmt.Pagination
		offset, _ := p.Offset.resolve(params)
		if p.Offset.IsParam() && p.Offset.ParamIndex < len(out) {
			out[p.Offset.ParamIndex] = int64(0)
		}
		if p.RowCount.IsParam() && p.RowCount.ParamIndex < len(out) {
			if rowCount, ok := p.RowCount.resolve(params); ok {
				out[p.RowCount.ParamIndex] = widenRowCount(rowCount, offset, needsMaxRowCount(stmt.Select))
			}
		}
	}

	ins := stmt.Insert
	if ins == nil || len(ins.Rows) == 0 {
		return out, nil, nil
	}
	generated := key != nil && key.Generated
	if rows == nil && (stmt.ParamStyle == ParamNumbered || !generated) {
		return out, nil, nil
	}
	kept := rows
	if kept == nil {
		kept = make([]int, len(ins.Rows))
		for i := range kept {
			kept[i] = i
		}
	}

	var leading, trailing []ParamSegment
	for _, p := range stmt.Params {
		switch {
		case p.Start < ins.ValuesStart:
			leading = append(leading, p)
		case p.Start >= ins.ValuesStop:
			trailing = append(trailing, p)
		}
	}

	if stmt.ParamStyle == ParamNumbered {
		ordered := append([]ParamSegment(nil), leading...)
		for _, i := range kept {
			ordered = append(ordered, ins.Rows[i].Params...)
		}
		ordered = append(ordered, trailing...)
		paramMap := make(map[int]int, len(ordered))
		renumbered := make([]any, 0, len(ordered))
		for _, p := range ordered {
			if _, seen := paramMap[p.Index]; seen {
				continue
			}
			if p.Index >= len(out) {
				return nil, nil, fmt.Errorf("parameter $%d is not bound, %d parameters given", p.Index+1, len(out))
			}
			paramMap[p.Index] = len(renumbered)
			renumbered = append(renumbered, out[p.Index])
		}
		return renumbered, paramMap, nil
	}

	positional := make([]any, 0, len(out)+len(kept))
	appendParams := func(segments []ParamSegment) error {
		for _, p := range segments {
			if p.Index >= len(out) {
				return fmt.Errorf("parameter %d is not bound, %d parameters given", p.Index+1, len(out))
			}
			positional = append(positional, out[p.Index])
		}
		return nil
	}
	if err := appendParams(leading); err != nil {
		return nil, nil, err
	}
	for _, i := range kept {
		if err := appendParams(ins.Rows[i].Params); err != nil {
			return nil, nil, err
		}
		if generated {
			if i >= len(key.Values) {
				return nil, nil, fmt.Errorf("%w: no generated key for insert row %d", ErrInvalidToken, i)
			}
			positional = append(positional, key.Values[i])
		}
	}
	if err := appendParams(trailing); err != nil {
		return nil, nil, err
	}
	return positional, nil, nil
}
