package sharding

import (
	"fmt"
	"strconv"
	"strings"
)

// RuleConfig is the YAML form of a ShardingRule.
//
//	rules:
//	  data_sources: [ds_0, ds_1]
//	  tables:
//	    - logic_table: t_order
//	      actual_data_nodes: ds_${0..1}.t_order_${0..1}
//	      database_strategy: {type: INLINE, column: user_id, expression: "ds_${user_id % 2}"}
//	      table_strategy: {type: MOD, column: order_id, sharding_count: 2}
//	      key_generate_column: order_id
//	      key_generator: {type: SNOWFLAKE, node: 1}
type RuleConfig struct {
	DataSources             []string            `yaml:"data_sources"`
	DefaultDataSource       string              `yaml:"default_data_source,omitempty"`
	Tables                  []TableRuleConfig   `yaml:"tables"`
	BindingTables           [][]string          `yaml:"binding_tables,omitempty"`
	BroadcastTables         []string            `yaml:"broadcast_tables,omitempty"`
	DefaultDatabaseStrategy *StrategyConfig     `yaml:"default_database_strategy,omitempty"`
	DefaultTableStrategy    *StrategyConfig     `yaml:"default_table_strategy,omitempty"`
	DefaultKeyGenerator     *KeyGeneratorConfig `yaml:"default_key_generator,omitempty"`
}

type TableRuleConfig struct {
	LogicTable        string              `yaml:"logic_table"`
	ActualDataNodes   string              `yaml:"actual_data_nodes,omitempty"`
	DatabaseStrategy  *StrategyConfig     `yaml:"database_strategy,omitempty"`
	TableStrategy     *StrategyConfig     `yaml:"table_strategy,omitempty"`
	KeyGenerateColumn string              `yaml:"key_generate_column,omitempty"`
	KeyGenerator      *KeyGeneratorConfig `yaml:"key_generator,omitempty"`
}

// StrategyConfig selects a built-in algorithm by Type: MOD, HASH_MOD, INLINE,
// COMPLEX_INLINE, BOUNDARY_RANGE, LIST or NONE.
type StrategyConfig struct {
	Type          string         `yaml:"type"`
	Column        string         `yaml:"column,omitempty"`
	Columns       []string       `yaml:"columns,omitempty"`
	Expression    string         `yaml:"expression,omitempty"`
	ShardingCount int64          `yaml:"sharding_count,omitempty"`
	Boundaries    []int64        `yaml:"boundaries,omitempty"`
	Values        map[string]int `yaml:"values,omitempty"`
	// DefaultPartition receives unlisted LIST values. Unset drops them.
	DefaultPartition *int `yaml:"default_partition,omitempty"`
}

// KeyGeneratorConfig selects SNOWFLAKE, UUID or INCREMENT.
type KeyGeneratorConfig struct {
	Type  string `yaml:"type"`
	Node  int64  `yaml:"node,omitempty"`
	Start int64  `yaml:"start,omitempty"`
}

// Build converts the configuration into a built ShardingRule.
func (c *RuleConfig) Build() (*ShardingRule, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: no rules configured", ErrInvalidRule)
	}
	rule := &ShardingRule{
		DataSourceNames:    c.DataSources,
		DefaultDataSource:  c.DefaultDataSource,
		BindingTableGroups: c.BindingTables,
		BroadcastTables:    c.BroadcastTables,
	}
	var err error
	if rule.DefaultDatabaseStrategy, err = c.DefaultDatabaseStrategy.build(); err != nil {
		return nil, fmt.Errorf("default database strategy: %w", err)
	}
	if rule.DefaultTableStrategy, err = c.DefaultTableStrategy.build(); err != nil {
		return nil, fmt.Errorf("default table strategy: %w", err)
	}
	if rule.DefaultKeyGenerator, err = c.DefaultKeyGenerator.build(); err != nil {
		return nil, fmt.Errorf("default key generator: %w", err)
	}
	for _, tc := range c.Tables {
		tr, err := tc.build()
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tc.LogicTable, err)
		}
		rule.TableRules = append(rule.TableRules, tr)
	}
	return rule.Build()
}

func (c TableRuleConfig) build() (*TableRule, error) {
	tr := &TableRule{
		LogicTable:        c.LogicTable,
		GenerateKeyColumn: c.KeyGenerateColumn,
	}
	if c.ActualDataNodes != "" {
		names, err := ExpandInlineExpression(c.ActualDataNodes)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			node, err := ParseDataNode(name)
			if err != nil {
				return nil, err
			}
			tr.ActualDataNodes = append(tr.ActualDataNodes, node)
		}
	}
	var err error
	if tr.DatabaseStrategy, err = c.DatabaseStrategy.build(); err != nil {
		return nil, fmt.Errorf("database strategy: %w", err)
	}
	if tr.TableStrategy, err = c.TableStrategy.build(); err != nil {
		return nil, fmt.Errorf("table strategy: %w", err)
	}
	if tr.KeyGenerator, err = c.KeyGenerator.build(); err != nil {
		return nil, err
	}
	return tr, nil
}

func (c *StrategyConfig) build() (ShardingStrategy, error) {
	if c == nil {
		return nil, nil
	}
	kind := strings.ToUpper(strings.TrimSpace(c.Type))
	if kind == "" || kind == "NONE" {
		return NoneShardingStrategy{}, nil
	}
	if kind == "COMPLEX_INLINE" {
		algorithm, err := NewComplexInlineShardingAlgorithm(c.Expression, c.Columns...)
		if err != nil {
			return nil, err
		}
		return NewComplexShardingStrategy(algorithm, algorithm.columns...), nil
	}

	if c.Column == "" {
		return nil, fmt.Errorf("%w: %s strategy needs a column", ErrInvalidRule, kind)
	}
	var algorithm ShardingAlgorithm
	switch kind {
	case "MOD":
		algorithm = ModShardingAlgorithm{ShardingCount: c.ShardingCount}
	case "HASH_MOD":
		algorithm = HashModShardingAlgorithm{ShardingCount: c.ShardingCount}
	case "INLINE":
		a, err := NewInlineShardingAlgorithm(c.Expression)
		if err != nil {
			return nil, err
		}
		algorithm = a
	case "BOUNDARY_RANGE":
		a, err := NewBoundaryRangeShardingAlgorithm(c.Boundaries...)
		if err != nil {
			return nil, err
		}
		algorithm = a
	case "LIST":
		a := ListShardingAlgorithm{Values: c.Values, DefaultPartition: -1}
		if c.DefaultPartition != nil {
			a.DefaultPartition = *c.DefaultPartition
		}
		algorithm = a
	default:
		return nil, fmt.Errorf("%w: unknown sharding algorithm type %q", ErrInvalidRule, c.Type)
	}
	return NewStandardShardingStrategy(c.Column, algorithm), nil
}

func (c *KeyGeneratorConfig) build() (KeyGenerator, error) {
	if c == nil {
		return nil, nil
	}
	switch strings.ToUpper(c.Type) {
	case "SNOWFLAKE":
		g, err := NewSnowflakeKeyGenerator(c.Node)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "UUID":
		return UUIDKeyGenerator{}, nil
	case "INCREMENT":
		return NewIncrementKeyGenerator(c.Start), nil
	}
	return nil, fmt.Errorf("%w: unknown key generator type %q", ErrInvalidRule, c.Type)
}

// ExpandInlineExpression expands a data node expression such as
// "ds_${0..1}.t_order_${0..1}" or "ds_${['a','b']}.t_user". Every placeholder
// multiplies the result; comma separated expressions are concatenated.
func ExpandInlineExpression(expression string) ([]string, error) {
	var out []string
	for _, segment := range splitInlineExpression(expression) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		results := []string{""}
		last := 0
		for _, m := range inlinePattern.FindAllStringSubmatchIndex(segment, -1) {
			choices, err := inlineChoices(segment[m[2]:m[3]])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, expression, err)
			}
			prefix := segment[last:m[0]]
			next := make([]string, 0, len(results)*len(choices))
			for _, r := range results {
				for _, c := range choices {
					next = append(next, r+prefix+c)
				}
			}
			results = next
			last = m[1]
		}
		for _, r := range results {
			out = append(out, r+segment[last:])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty inline expression", ErrInvalidRule)
	}
	return out, nil
}

// splitInlineExpression splits on commas outside ${}.
func splitInlineExpression(expression string) []string {
	var (
		parts []string
		depth int
		last  int
	)
	for i := 0; i < len(expression); i++ {
		switch expression[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, expression[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, expression[last:])
}

func inlineChoices(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if i := strings.Index(body, ".."); i >= 0 {
		from, err := strconv.Atoi(strings.TrimSpace(body[:i]))
		if err != nil {
			return nil, fmt.Errorf("invalid range start in ${%s}", body)
		}
		to, err := strconv.Atoi(strings.TrimSpace(body[i+2:]))
		if err != nil {
			return nil, fmt.Errorf("invalid range end in ${%s}", body)
		}
		if from > to {
			return nil, fmt.Errorf("range ${%s} is empty", body)
		}
		out := make([]string, 0, to-from+1)
		for n := from; n <= to; n++ {
			out = append(out, strconv.Itoa(n))
		}
		return out, nil
	}
	if strings.HasPrefix(body, "[") && strings.HasSuffix(body, "]") {
		var out []string
		for _, item := range strings.Split(body[1:len(body)-1], ",") {
			item = strings.Trim(strings.TrimSpace(item), `'"`)
			if item != "" {
				out = append(out, item)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("list ${%s} is empty", body)
		}
		return out, nil
	}
	if body == "" {
		return nil, fmt.Errorf("empty placeholder")
	}
	return []string{body}, nil
}
