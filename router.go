package sharding

import (
	"fmt"
	"strings"
)

// Router routes bound statements and rewrites them per route unit.
// A Router is safe for concurrent use; it only reads its rule.
type Router struct {
	rule      *ShardingRule
	extractor *ConditionExtractor
	builder   *RouteUnitBuilder
	logger    Logger
	now       TimeSource
	// forceMerge widens pagination and adds derived items even for single
	// unit routes.
	forceMerge bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithLogger(logger Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

func WithTimeSource(now TimeSource) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithMergeRewrite forces pagination widening and derived projections even
// when a statement routes to a single unit.
func WithMergeRewrite(force bool) RouterOption {
	return func(r *Router) { r.forceMerge = force }
}

// NewRouter builds rule if needed and returns a router over it.
func NewRouter(rule *ShardingRule, opts ...RouterOption) (*Router, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if !rule.built {
		built, err := rule.Build()
		if err != nil {
			return nil, err
		}
		rule = built
	}
	r := &Router{rule: rule}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = GetLogger()
	}
	r.extractor = NewConditionExtractor(rule, r.now)
	r.builder = NewRouteUnitBuilder(rule, r.logger)
	return r, nil
}

// Rule returns the built rule the router uses.
func (r *Router) Rule() *ShardingRule { return r.rule }

// Route extracts and merges the sharding conditions of stmt and builds its
// route units. INSERT statements get their generated keys here, before the
// rows are resolved.
func (r *Router) Route(stmt *Statement, params []any) (*RouteResult, error) {
	if stmt == nil {
		return nil, fmt.Errorf("%w: statement is nil", ErrUnsupportedStatement)
	}
	if err := r.checkInsert(stmt); err != nil {
		return nil, err
	}

	groups, err := r.extractor.Extract(stmt, params)
	if err != nil {
		return nil, err
	}

	var key *GeneratedKey
	if stmt.Kind == StatementInsert && stmt.Insert != nil {
		key, err = r.generateKeys(stmt, groups, params)
		if err != nil {
			return nil, err
		}
	}

	conditions, err := MergeAndGroups(groups)
	if err != nil {
		return nil, err
	}

	result, err := r.builder.Build(stmt, conditions)
	if err != nil {
		return nil, err
	}
	result.GeneratedKey = key
	result.Parameters = append([]any(nil), params...)

	result.tokens, err = GenerateTokens(stmt, r.rule, params, key)
	if err != nil {
		return nil, err
	}

	if DefaultLogLevel >= LogLevelDebug {
		r.logger.Debug("routed %q to %d unit(s): %v", stmt.SQL, len(result.Units), result.Units)
	}
	return result, nil
}

// checkInsert rejects INSERT forms that can not be split by row.
func (r *Router) checkInsert(stmt *Statement) error {
	if stmt.Kind != StatementInsert || stmt.Insert == nil {
		return nil
	}
	if _, sharded := r.rule.TableRule(stmt.Insert.Table); !sharded {
		return nil
	}
	if len(stmt.Insert.Rows) == 0 {
		return fmt.Errorf("%w: insert into sharded table %s needs a VALUES list", ErrUnsupportedStatement, stmt.Insert.Table)
	}
	return nil
}

// generateKeys allocates keys for the INSERT rows when the table generates
// its key column and the statement does not supply it. A generated key that
// is also a sharding column joins the AND-group of its row.
func (r *Router) generateKeys(stmt *Statement, groups []AndGroup, params []any) (*GeneratedKey, error) {
	ins := stmt.Insert
	table, ok := r.rule.TableRule(ins.Table)
	if !ok || table.GenerateKeyColumn == "" {
		return nil, nil
	}
	column := table.GenerateKeyColumn
	if idx := ins.ColumnIndex(column); idx >= 0 {
		values := make([]any, len(ins.Rows))
		for i, row := range ins.Rows {
			if idx < len(row.Values) {
				v, _, err := r.extractor.evaluate(row.Values[idx], params)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
		}
		return &GeneratedKey{Column: column, Values: values}, nil
	}
	if ins.ColumnsStop < 0 {
		return nil, fmt.Errorf("%w: insert into %s", ErrInsertColumnsRequired, table.LogicTable)
	}

	generator := r.rule.keyGenerator(table)
	if generator == nil {
		return nil, fmt.Errorf("%w: %s has no key generator for %s", ErrInvalidRule, table.LogicTable, column)
	}
	keys, err := generator.Next(table.LogicTable, len(ins.Rows))
	if err != nil {
		return nil, fmt.Errorf("failed to generate keys for %s: %w", table.LogicTable, err)
	}
	if len(keys) != len(ins.Rows) {
		return nil, fmt.Errorf("key generator returned %d keys for %d rows of %s", len(keys), len(ins.Rows), table.LogicTable)
	}
	normalized := make([]any, len(keys))
	for i, k := range keys {
		n, err := normalizeScalar(k)
		if err != nil {
			return nil, fmt.Errorf("generated key for %s: %w", table.LogicTable, err)
		}
		if n == nil {
			return nil, &ShardingValueIsNullError{Column: NewColumn(column, table.LogicTable)}
		}
		normalized[i] = n
	}

	if table.IsShardingColumn(column) {
		col := NewColumn(column, table.LogicTable)
		for i := range groups {
			row := groups[i].RowIndex
			if row >= 0 && row < len(normalized) {
				groups[i].add(col, ListValue{values: []any{normalized[row]}})
			}
		}
	}
	if DefaultLogLevel >= LogLevelTrace {
		traceLog("generated %d keys for %s.%s", len(normalized), table.LogicTable, column)
	}
	return &GeneratedKey{Column: column, Values: normalized, Generated: true}, nil
}

// Merging reports whether results of result's units will be merged, which
// is when pagination and derived items get rewritten.
func (r *Router) Merging(result *RouteResult) bool {
	return r.forceMerge || len(result.Units) > 1
}

// Rewrite renders the SQL of one unit of result.
func (r *Router) Rewrite(stmt *Statement, result *RouteResult, unit RouteUnit) (*SQLUnit, error) {
	tokens := result.tokens
	if tokens == nil {
		var err error
		tokens, err = GenerateTokens(stmt, r.rule, result.Parameters, result.GeneratedKey)
		if err != nil {
			return nil, err
		}
	}
	return NewSQLRewriter(stmt, tokens).Rewrite(result, unit, r.Merging(result))
}

// RewriteAll renders every unit of result in order.
func (r *Router) RewriteAll(stmt *Statement, result *RouteResult) ([]*SQLUnit, error) {
	units := make([]*SQLUnit, 0, len(result.Units))
	for _, u := range result.Units {
		unit, err := r.Rewrite(stmt, result, u)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if DefaultLogLevel >= LogLevelTrace {
		for _, u := range units {
			traceLog("%s: %s", u.Unit, strings.TrimSpace(u.SQL))
		}
	}
	return units, nil
}
