package sharding

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// ShardingAlgorithm picks the targets, data sources or actual tables, that may
// hold rows for value. Range values the algorithm can not narrow should
// return every target.
type ShardingAlgorithm interface {
	Shard(targets []string, column string, value Value) ([]string, error)
}

// ComplexShardingAlgorithm shards on several columns at once.
type ComplexShardingAlgorithm interface {
	ShardComplex(targets []string, values map[string]Value) ([]string, error)
}

// ShardingAlgorithmFunc adapts a function to ShardingAlgorithm.
type ShardingAlgorithmFunc func(targets []string, column string, value Value) ([]string, error)

func (f ShardingAlgorithmFunc) Shard(targets []string, column string, value Value) ([]string, error) {
	return f(targets, column, value)
}

// ComplexShardingAlgorithmFunc adapts a function to ComplexShardingAlgorithm.
type ComplexShardingAlgorithmFunc func(targets []string, values map[string]Value) ([]string, error)

func (f ComplexShardingAlgorithmFunc) ShardComplex(targets []string, values map[string]Value) ([]string, error) {
	return f(targets, values)
}

// shardEach applies pick to every member of a list value. Ranges and anything
// else go to all targets.
func shardEach(targets []string, value Value, pick func(v any) ([]string, error)) ([]string, error) {
	list, ok := value.(ListValue)
	if !ok {
		if _, isFalse := value.(AlwaysFalse); isFalse {
			return nil, nil
		}
		return append([]string(nil), targets...), nil
	}
	var out []string
	for _, v := range list.values {
		picked, err := pick(v)
		if err != nil {
			return nil, err
		}
		out = append(out, picked...)
	}
	return out, nil
}

// targetSuffix parses the trailing digits of a target name, so "t_order_07"
// yields 7.
func targetSuffix(target string) (int64, bool) {
	i := len(target)
	for i > 0 && target[i-1] >= '0' && target[i-1] <= '9' {
		i--
	}
	if i == len(target) {
		return 0, false
	}
	n, err := strconv.ParseInt(target[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func targetsWithSuffix(targets []string, n int64) []string {
	var out []string
	for _, t := range targets {
		if suffix, ok := targetSuffix(t); ok && suffix == n {
			out = append(out, t)
		}
	}
	return out
}

// ModShardingAlgorithm routes integer values to the target whose numeric
// suffix equals value mod ShardingCount. A zero ShardingCount uses the number
// of targets.
type ModShardingAlgorithm struct {
	ShardingCount int64
}

func (a ModShardingAlgorithm) Shard(targets []string, column string, value Value) ([]string, error) {
	count := a.ShardingCount
	if count <= 0 {
		count = int64(len(targets))
	}
	if count == 0 {
		return nil, nil
	}
	return shardEach(targets, value, func(v any) ([]string, error) {
		n, err := modOf(v, count)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", column, err)
		}
		return targetsWithSuffix(targets, n), nil
	})
}

func modOf(v any, count int64) (int64, error) {
	switch x := v.(type) {
	case int64:
		m := x % count
		if m < 0 {
			m += count
		}
		return m, nil
	case *big.Int:
		return new(big.Int).Mod(x, big.NewInt(count)).Int64(), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("mod sharding needs an integer, got %v", x)
		}
		return modOf(int64(x), count)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("mod sharding needs an integer, got %q", x)
		}
		return modOf(n, count)
	}
	return 0, fmt.Errorf("mod sharding does not support %T", v)
}

// HashModShardingAlgorithm hashes the value with crc32 before taking the mod,
// so strings spread evenly.
type HashModShardingAlgorithm struct {
	ShardingCount int64
}

func (a HashModShardingAlgorithm) Shard(targets []string, column string, value Value) ([]string, error) {
	count := a.ShardingCount
	if count <= 0 {
		count = int64(len(targets))
	}
	if count == 0 {
		return nil, nil
	}
	return shardEach(targets, value, func(v any) ([]string, error) {
		sum := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%v", v)))
		return targetsWithSuffix(targets, int64(sum)%count), nil
	})
}

// BoundaryRangeShardingAlgorithm splits an integer domain at ascending
// boundaries. Partition 0 holds values below Boundaries[0], partition i holds
// [Boundaries[i-1], Boundaries[i]) and the last partition everything above.
// Partitions map to targets by numeric suffix.
type BoundaryRangeShardingAlgorithm struct {
	Boundaries []int64
}

func NewBoundaryRangeShardingAlgorithm(boundaries ...int64) (*BoundaryRangeShardingAlgorithm, error) {
	if !sort.SliceIsSorted(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] }) {
		return nil, fmt.Errorf("%w: range boundaries must be ascending", ErrInvalidRule)
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] == boundaries[i-1] {
			return nil, fmt.Errorf("%w: duplicate range boundary %d", ErrInvalidRule, boundaries[i])
		}
	}
	return &BoundaryRangeShardingAlgorithm{Boundaries: boundaries}, nil
}

func (a *BoundaryRangeShardingAlgorithm) partition(v int64) int64 {
	return int64(sort.Search(len(a.Boundaries), func(i int) bool { return a.Boundaries[i] > v }))
}

func (a *BoundaryRangeShardingAlgorithm) Shard(targets []string, column string, value Value) ([]string, error) {
	switch x := value.(type) {
	case ListValue:
		return shardEach(targets, x, func(v any) ([]string, error) {
			n, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("boundary range sharding on %s needs an integer, got %T", column, v)
			}
			return targetsWithSuffix(targets, a.partition(n)), nil
		})
	case RangeValue:
		first, last := int64(0), int64(len(a.Boundaries))
		if x.HasLower() {
			n, ok := x.Lower.Value.(int64)
			if !ok {
				return append([]string(nil), targets...), nil
			}
			first = a.partition(n)
		}
		if x.HasUpper() {
			n, ok := x.Upper.Value.(int64)
			if !ok {
				return append([]string(nil), targets...), nil
			}
			if !x.Upper.Inclusive {
				n--
			}
			last = a.partition(n)
		}
		var out []string
		for p := first; p <= last; p++ {
			out = append(out, targetsWithSuffix(targets, p)...)
		}
		return out, nil
	}
	return nil, nil
}

// ListShardingAlgorithm maps string representations of values to partition
// numbers. Values that are not listed go to DefaultPartition, or nowhere when
// it is negative.
type ListShardingAlgorithm struct {
	Values           map[string]int
	DefaultPartition int
}

func (a ListShardingAlgorithm) Shard(targets []string, column string, value Value) ([]string, error) {
	return shardEach(targets, value, func(v any) ([]string, error) {
		key := fmt.Sprintf("%v", v)
		partition, ok := a.Values[key]
		if !ok {
			for k, p := range a.Values {
				if strings.EqualFold(k, key) {
					partition, ok = p, true
					break
				}
			}
		}
		if !ok {
			if a.DefaultPartition < 0 {
				if DefaultLogLevel >= LogLevelDebug {
					debugLog("value '%s' of %s is not in the partition list", key, column)
				}
				return nil, nil
			}
			partition = a.DefaultPartition
		}
		return targetsWithSuffix(targets, int64(partition)), nil
	})
}

var inlinePattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// InlineShardingAlgorithm evaluates a Groovy style template such as
// "t_order_${order_id % 2}" against the sharding value.
type InlineShardingAlgorithm struct {
	template *inlineTemplate
}

func NewInlineShardingAlgorithm(expression string) (*InlineShardingAlgorithm, error) {
	t, err := compileInlineTemplate(expression)
	if err != nil {
		return nil, err
	}
	return &InlineShardingAlgorithm{template: t}, nil
}

func (a *InlineShardingAlgorithm) Shard(targets []string, column string, value Value) ([]string, error) {
	return shardEach(targets, value, func(v any) ([]string, error) {
		name, err := a.template.render(map[string]any{column: v})
		if err != nil {
			return nil, err
		}
		return pickTargets(targets, name), nil
	})
}

// ComplexInlineShardingAlgorithm renders an inline template over several
// columns. Every combination of list members is rendered; a column that is
// missing or constrained by a range routes to all targets.
type ComplexInlineShardingAlgorithm struct {
	template *inlineTemplate
	columns  []string
}

func NewComplexInlineShardingAlgorithm(expression string, columns ...string) (*ComplexInlineShardingAlgorithm, error) {
	t, err := compileInlineTemplate(expression)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		columns = t.variables()
	}
	lowered := make([]string, len(columns))
	for i, c := range columns {
		lowered[i] = strings.ToLower(c)
	}
	return &ComplexInlineShardingAlgorithm{template: t, columns: lowered}, nil
}

func (a *ComplexInlineShardingAlgorithm) ShardComplex(targets []string, values map[string]Value) ([]string, error) {
	combos := []map[string]any{{}}
	for _, column := range a.columns {
		list, ok := values[column].(ListValue)
		if !ok {
			if _, isFalse := values[column].(AlwaysFalse); isFalse {
				return nil, nil
			}
			return append([]string(nil), targets...), nil
		}
		next := make([]map[string]any, 0, len(combos)*list.Len())
		for _, combo := range combos {
			for _, v := range list.values {
				m := make(map[string]any, len(combo)+1)
				for k, cv := range combo {
					m[k] = cv
				}
				m[column] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	var out []string
	for _, combo := range combos {
		name, err := a.template.render(combo)
		if err != nil {
			return nil, err
		}
		out = append(out, pickTargets(targets, name)...)
	}
	return out, nil
}

func pickTargets(targets []string, name string) []string {
	for _, t := range targets {
		if strings.EqualFold(t, name) {
			return []string{t}
		}
	}
	return nil
}

type inlineTemplate struct {
	source string
	parts  []string
	exprs  []*govaluate.EvaluableExpression
}

func compileInlineTemplate(expression string) (*inlineTemplate, error) {
	matches := inlinePattern.FindAllStringSubmatchIndex(expression, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: inline expression %q has no ${} placeholder", ErrInvalidRule, expression)
	}
	t := &inlineTemplate{source: expression}
	last := 0
	for _, m := range matches {
		t.parts = append(t.parts, expression[last:m[0]])
		expr, err := govaluate.NewEvaluableExpression(expression[m[2]:m[3]])
		if err != nil {
			return nil, fmt.Errorf("%w: inline expression %q: %v", ErrInvalidRule, expression, err)
		}
		t.exprs = append(t.exprs, expr)
		last = m[1]
	}
	t.parts = append(t.parts, expression[last:])
	return t, nil
}

func (t *inlineTemplate) variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.exprs {
		for _, v := range e.Vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func (t *inlineTemplate) render(params map[string]any) (string, error) {
	evalParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch x := v.(type) {
		case *big.Int:
			f, _ := new(big.Float).SetInt(x).Float64()
			evalParams[k] = f
		default:
			evalParams[k] = x
		}
	}
	var sb strings.Builder
	for i, e := range t.exprs {
		sb.WriteString(t.parts[i])
		result, err := e.Evaluate(evalParams)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate %q: %w", t.source, err)
		}
		sb.WriteString(formatInlineResult(result))
	}
	sb.WriteString(t.parts[len(t.parts)-1])
	return sb.String(), nil
}

func formatInlineResult(v interface{}) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}

var errNoAlgorithm = errors.New("sharding strategy has no algorithm")
