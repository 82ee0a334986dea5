package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeOf(t *testing.T, a, b Value) Value {
	t.Helper()
	v, err := MergeValues(a, b)
	require.NoError(t, err)
	return v
}

func TestMergeValues(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Value
		expect Value
	}{
		{
			name:   "list and list",
			a:      mustList(t, 1, 2, 3),
			b:      mustList(t, 2, 3, 4),
			expect: mustList(t, 2, 3),
		},
		{
			name:   "disjoint lists",
			a:      mustList(t, 1, 2),
			b:      mustList(t, 3, 4),
			expect: AlwaysFalse{},
		},
		{
			name:   "list and between",
			a:      mustList(t, 1, 2, 3, 4),
			b:      mustRange(t, Closed(2), Closed(3)),
			expect: mustList(t, 2, 3),
		},
		{
			name:   "list outside range",
			a:      mustList(t, 1, 2),
			b:      mustRange(t, Open(5), Unbounded()),
			expect: AlwaysFalse{},
		},
		{
			name:   "overlapping ranges",
			a:      mustRange(t, Closed(1), Open(10)),
			b:      mustRange(t, Open(5), Closed(20)),
			expect: RangeValue{Lower: Open(int64(5)), Upper: Open(int64(10))},
		},
		{
			name:   "ranges touching at a point",
			a:      mustRange(t, Closed(1), Closed(5)),
			b:      mustRange(t, Closed(5), Unbounded()),
			expect: mustList(t, 5),
		},
		{
			name:   "ranges touching at an open point",
			a:      mustRange(t, Closed(1), Open(5)),
			b:      mustRange(t, Closed(5), Unbounded()),
			expect: AlwaysFalse{},
		},
		{
			name:   "always false absorbs",
			a:      AlwaysFalse{},
			b:      mustList(t, 1),
			expect: AlwaysFalse{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeOf(t, tt.a, tt.b)
			assert.True(t, EqualValues(tt.expect, got), "got %s", got)
			// merge is commutative
			back := mergeOf(t, tt.b, tt.a)
			assert.True(t, EqualValues(got, back), "reversed got %s", back)
		})
	}
}

func TestMergeValuesAlgebra(t *testing.T) {
	values := []Value{
		mustList(t, 1, 2, 3, 4),
		mustList(t, 2, 4, 6),
		mustRange(t, Closed(2), Closed(5)),
		mustRange(t, Open(3), Unbounded()),
		mustRange(t, Unbounded(), Open(4)),
		AlwaysFalse{},
	}
	for _, a := range values {
		assert.True(t, EqualValues(a, mergeOf(t, a, a)), "idempotent %s", a)
		for _, b := range values {
			ab := mergeOf(t, a, b)
			assert.True(t, EqualValues(ab, mergeOf(t, b, a)), "commutative %s %s", a, b)
			for _, c := range values {
				left := mergeOf(t, ab, c)
				right := mergeOf(t, a, mergeOf(t, b, c))
				assert.True(t, EqualValues(left, right), "associative %s %s %s", a, b, c)
			}
		}
	}
}

func TestMergeValuesMixedTypes(t *testing.T) {
	_, err := MergeValues(mustList(t, 1), mustList(t, "1"))
	assert.ErrorIs(t, err, ErrMixedShardingValueType)

	_, err = MergeValues(mustList(t, "a"), mustRange(t, Closed(1), Closed(2)))
	assert.ErrorIs(t, err, ErrMixedShardingValueType)
}

func TestMergeAndGroup(t *testing.T) {
	id := NewColumn("order_id", "t_order")
	user := NewColumn("user_id", "t_order")

	group := AndGroup{RowIndex: -1}
	group.add(user, mustList(t, 7))
	group.add(id, mustList(t, 1, 2, 3, 4))
	group.add(id, mustRange(t, Closed(2), Closed(3)))

	cond, err := MergeAndGroup(group)
	require.NoError(t, err)
	require.False(t, cond.AlwaysFalse)
	require.Len(t, cond.Values, 2)
	assert.Equal(t, user, cond.Values[0].Column)
	v, ok := cond.ValueOf(id)
	require.True(t, ok)
	assert.True(t, EqualValues(mustList(t, 2, 3), v))
	assert.Equal(t, "{t_order.user_id=[7], t_order.order_id=[2, 3]}", cond.String())
	assert.Len(t, cond.ValuesForTable("T_ORDER"), 2)

	group.add(user, mustList(t, 8))
	cond, err = MergeAndGroup(group)
	require.NoError(t, err)
	assert.True(t, cond.AlwaysFalse)
	assert.Empty(t, cond.Values)

	bad := AndGroup{RowIndex: -1}
	bad.add(id, mustList(t, 1))
	bad.add(id, mustList(t, "x"))
	_, err = MergeAndGroup(bad)
	var mixed *MixedShardingValueTypeError
	require.ErrorAs(t, err, &mixed)
	assert.Equal(t, id, mixed.Column)
}

func TestShardingConditionsAlwaysFalse(t *testing.T) {
	assert.False(t, ShardingConditions{}.AlwaysFalse())
	assert.True(t, ShardingConditions{}.IsEmpty())

	conds := ShardingConditions{Conditions: []ShardingCondition{{AlwaysFalse: true}, {AlwaysFalse: true}}}
	assert.True(t, conds.AlwaysFalse())

	conds.Conditions = append(conds.Conditions, ShardingCondition{})
	assert.False(t, conds.AlwaysFalse())
}
