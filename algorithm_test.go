package sharding

import (
	"fmt"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fourTables = []string{"t_order_0", "t_order_1", "t_order_2", "t_order_3"}

func TestTargetSuffix(t *testing.T) {
	tests := []struct {
		target string
		n      int64
		ok     bool
	}{
		{"t_order_07", 7, true},
		{"ds1", 1, true},
		{"t_order", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		n, ok := targetSuffix(tt.target)
		assert.Equal(t, tt.ok, ok, tt.target)
		assert.Equal(t, tt.n, n, tt.target)
	}
}

func TestModShardingAlgorithm(t *testing.T) {
	alg := ModShardingAlgorithm{ShardingCount: 4}
	tests := []struct {
		name   string
		value  Value
		expect []string
	}{
		{"single", mustList(t, 6), []string{"t_order_2"}},
		{"several", mustList(t, 1, 5, 8), []string{"t_order_1", "t_order_1", "t_order_0"}},
		{"negative", mustList(t, -1), []string{"t_order_3"}},
		{"numeric string", mustList(t, "7"), []string{"t_order_3"}},
		{"range", mustRange(t, Closed(1), Closed(3)), fourTables},
		{"always false", AlwaysFalse{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := alg.Shard(fourTables, "order_id", tt.value)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.expect, got)
		})
	}

	_, err := alg.Shard(fourTables, "order_id", mustList(t, 1.5))
	assert.ErrorContains(t, err, "order_id")

	// zero count falls back to the number of targets
	got, err := ModShardingAlgorithm{}.Shard([]string{"ds_0", "ds_1"}, "user_id", mustList(t, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_1"}, got)
}

func TestHashModShardingAlgorithm(t *testing.T) {
	alg := HashModShardingAlgorithm{ShardingCount: 4}
	for _, key := range []string{"alice", "bob", "carol"} {
		got, err := alg.Shard(fourTables, "name", mustList(t, key))
		require.NoError(t, err)
		want := fmt.Sprintf("t_order_%d", int64(crc32.ChecksumIEEE([]byte(key)))%4)
		assert.Equal(t, []string{want}, got, key)
	}
}

func TestBoundaryRangeShardingAlgorithm(t *testing.T) {
	alg, err := NewBoundaryRangeShardingAlgorithm(100, 200)
	require.NoError(t, err)
	targets := fourTables[:3]

	tests := []struct {
		name   string
		value  Value
		expect []string
	}{
		{"below first", mustList(t, 5), []string{"t_order_0"}},
		{"on boundary", mustList(t, 100), []string{"t_order_1"}},
		{"above last", mustList(t, 500), []string{"t_order_2"}},
		{"closed range", mustRange(t, Closed(150), Closed(250)), []string{"t_order_1", "t_order_2"}},
		{"open upper", mustRange(t, Closed(0), Open(100)), []string{"t_order_0"}},
		{"lower only", mustRange(t, Closed(150), Unbounded()), []string{"t_order_1", "t_order_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := alg.Shard(targets, "order_id", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got)
		})
	}

	_, err = NewBoundaryRangeShardingAlgorithm(200, 100)
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = NewBoundaryRangeShardingAlgorithm(100, 100)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestListShardingAlgorithm(t *testing.T) {
	targets := []string{"t_user_0", "t_user_1", "t_user_2"}
	alg := ListShardingAlgorithm{Values: map[string]int{"cn": 0, "US": 1}, DefaultPartition: 2}

	got, err := alg.Shard(targets, "region", mustList(t, "cn", "us"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t_user_0", "t_user_1"}, got)

	got, err = alg.Shard(targets, "region", mustList(t, "fr"))
	require.NoError(t, err)
	assert.Equal(t, []string{"t_user_2"}, got)

	alg.DefaultPartition = -1
	got, err = alg.Shard(targets, "region", mustList(t, "fr"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInlineShardingAlgorithm(t *testing.T) {
	alg, err := NewInlineShardingAlgorithm("t_order_${order_id % 4}")
	require.NoError(t, err)

	got, err := alg.Shard(fourTables, "order_id", mustList(t, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_3", "t_order_2"}, got)

	got, err = alg.Shard(fourTables, "order_id", mustRange(t, Closed(1), Unbounded()))
	require.NoError(t, err)
	assert.Equal(t, fourTables, got)

	_, err = NewInlineShardingAlgorithm("t_order")
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = NewInlineShardingAlgorithm("t_order_${order_id %}")
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestComplexInlineShardingAlgorithm(t *testing.T) {
	targets := []string{"t_0_0", "t_0_1", "t_1_0", "t_1_1"}
	alg, err := NewComplexInlineShardingAlgorithm("t_${user_id % 2}_${order_id % 2}")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "order_id"}, alg.columns)

	got, err := alg.ShardComplex(targets, map[string]Value{
		"user_id":  mustList(t, 1, 2),
		"order_id": mustList(t, 3),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t_1_1", "t_0_1"}, got)

	got, err = alg.ShardComplex(targets, map[string]Value{"user_id": mustList(t, 1)})
	require.NoError(t, err)
	assert.Equal(t, targets, got)
}

func TestStrategies(t *testing.T) {
	standard := NewStandardShardingStrategy("Order_ID", ModShardingAlgorithm{ShardingCount: 4})
	assert.Equal(t, []string{"order_id"}, standard.ShardingColumns())

	got, err := standard.DoSharding(fourTables, map[string]Value{"order_id": mustList(t, 5)})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_1"}, got)

	got, err = standard.DoSharding(fourTables, map[string]Value{"user_id": mustList(t, 5)})
	require.NoError(t, err)
	assert.Equal(t, fourTables, got)

	// unknown and duplicate picks are dropped
	noisy := NewStandardShardingStrategy("order_id", ShardingAlgorithmFunc(
		func(targets []string, column string, value Value) ([]string, error) {
			return []string{"T_ORDER_3", "t_order_9", "t_order_3", "t_order_0"}, nil
		}))
	got, err = noisy.DoSharding(fourTables, map[string]Value{"order_id": mustList(t, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_0", "t_order_3"}, got)

	complexAlg, err := NewComplexInlineShardingAlgorithm("t_order_${(user_id + order_id) % 4}")
	require.NoError(t, err)
	complexStrategy := NewComplexShardingStrategy(complexAlg, "user_id", "order_id")
	got, err = complexStrategy.DoSharding(fourTables, map[string]Value{
		"user_id":  mustList(t, 1),
		"order_id": mustList(t, 2),
		"status":   mustList(t, "new"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_order_3"}, got)

	got, err = NoneShardingStrategy{}.DoSharding(fourTables, nil)
	require.NoError(t, err)
	assert.Equal(t, fourTables, got)

	_, err = (&StandardShardingStrategy{Column: "id"}).DoSharding(fourTables, map[string]Value{"id": mustList(t, 1)})
	assert.Error(t, err)

	assert.Equal(t, "standard(order_id)", strategyName(standard))
	assert.Equal(t, "complex(user_id,order_id)", strategyName(complexStrategy))
	assert.Equal(t, "none", strategyName(NoneShardingStrategy{}))
}
