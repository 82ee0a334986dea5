package sharding

import (
	"fmt"
	"strings"
)

// ShardingStrategy narrows the targets of one axis, data sources or tables,
// given the merged values of a table's columns keyed by lower-cased name.
type ShardingStrategy interface {
	ShardingColumns() []string
	DoSharding(targets []string, values map[string]Value) ([]string, error)
}

// StandardShardingStrategy shards on a single column.
type StandardShardingStrategy struct {
	Column    string
	Algorithm ShardingAlgorithm
}

func NewStandardShardingStrategy(column string, algorithm ShardingAlgorithm) *StandardShardingStrategy {
	return &StandardShardingStrategy{Column: strings.ToLower(column), Algorithm: algorithm}
}

func (s *StandardShardingStrategy) ShardingColumns() []string {
	return []string{strings.ToLower(s.Column)}
}

func (s *StandardShardingStrategy) DoSharding(targets []string, values map[string]Value) ([]string, error) {
	if s.Algorithm == nil {
		return nil, errNoAlgorithm
	}
	column := strings.ToLower(s.Column)
	value, ok := values[column]
	if !ok {
		return append([]string(nil), targets...), nil
	}
	picked, err := s.Algorithm.Shard(targets, column, value)
	if err != nil {
		return nil, err
	}
	return restrictTargets(targets, picked), nil
}

// ComplexShardingStrategy hands all of its columns to one algorithm.
type ComplexShardingStrategy struct {
	Columns   []string
	Algorithm ComplexShardingAlgorithm
}

func NewComplexShardingStrategy(algorithm ComplexShardingAlgorithm, columns ...string) *ComplexShardingStrategy {
	lowered := make([]string, len(columns))
	for i, c := range columns {
		lowered[i] = strings.ToLower(c)
	}
	return &ComplexShardingStrategy{Columns: lowered, Algorithm: algorithm}
}

func (s *ComplexShardingStrategy) ShardingColumns() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = strings.ToLower(c)
	}
	return out
}

func (s *ComplexShardingStrategy) DoSharding(targets []string, values map[string]Value) ([]string, error) {
	if s.Algorithm == nil {
		return nil, errNoAlgorithm
	}
	own := make(map[string]Value, len(s.Columns))
	for _, c := range s.ShardingColumns() {
		if v, ok := values[c]; ok {
			own[c] = v
		}
	}
	if len(own) == 0 {
		return append([]string(nil), targets...), nil
	}
	picked, err := s.Algorithm.ShardComplex(targets, own)
	if err != nil {
		return nil, err
	}
	return restrictTargets(targets, picked), nil
}

// NoneShardingStrategy keeps every target.
type NoneShardingStrategy struct{}

func (NoneShardingStrategy) ShardingColumns() []string { return nil }

func (NoneShardingStrategy) DoSharding(targets []string, _ map[string]Value) ([]string, error) {
	return append([]string(nil), targets...), nil
}

// restrictTargets drops anything the algorithm returned that is not a known
// target and removes duplicates, keeping target order.
func restrictTargets(targets, picked []string) []string {
	if len(picked) == 0 {
		return nil
	}
	want := make(map[string]bool, len(picked))
	for _, p := range picked {
		want[strings.ToLower(p)] = true
	}
	out := make([]string, 0, len(picked))
	for _, t := range targets {
		if want[strings.ToLower(t)] {
			out = append(out, t)
			delete(want, strings.ToLower(t))
		}
	}
	return out
}

func strategyName(s ShardingStrategy) string {
	switch x := s.(type) {
	case *StandardShardingStrategy:
		return fmt.Sprintf("standard(%s)", x.Column)
	case *ComplexShardingStrategy:
		return fmt.Sprintf("complex(%s)", strings.Join(x.Columns, ","))
	case NoneShardingStrategy, *NoneShardingStrategy, nil:
		return "none"
	}
	return fmt.Sprintf("%T", s)
}
