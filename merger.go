package sharding

import "errors"

// MergeValues intersects two values constraining the same column.
func MergeValues(a, b Value) (Value, error) {
	switch x := a.(type) {
	case AlwaysFalse:
		return AlwaysFalse{}, nil
	case ListValue:
		switch y := b.(type) {
		case AlwaysFalse:
			return AlwaysFalse{}, nil
		case ListValue:
			return intersectLists(x, y)
		case RangeValue:
			return filterList(x, y)
		}
	case RangeValue:
		switch y := b.(type) {
		case AlwaysFalse:
			return AlwaysFalse{}, nil
		case ListValue:
			return filterList(y, x)
		case RangeValue:
			return intersectRanges(x, y)
		}
	}
	return nil, errors.New("unknown sharding value kind")
}

func intersectLists(a, b ListValue) (Value, error) {
	var out []any
	i, j := 0, 0
	for i < len(a.values) && j < len(b.values) {
		c, ok := compareScalars(a.values[i], b.values[j])
		if !ok {
			return nil, &MixedShardingValueTypeError{Left: a.values[i], Right: b.values[j]}
		}
		switch {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			out = append(out, a.values[i])
			i++
			j++
		}
	}
	if len(out) == 0 {
		// a type clash hidden by an early exit still has to surface
		if err := checkComparable(a, b); err != nil {
			return nil, err
		}
		return AlwaysFalse{}, nil
	}
	return ListValue{values: out}, nil
}

// checkComparable makes sure every member of a can be compared with every
// member of b. Lists are homogeneous, so the first members decide.
func checkComparable(a, b ListValue) error {
	if len(a.values) == 0 || len(b.values) == 0 {
		return nil
	}
	if _, ok := compareScalars(a.values[0], b.values[0]); !ok {
		return &MixedShardingValueTypeError{Left: a.values[0], Right: b.values[0]}
	}
	return nil
}

func filterList(list ListValue, r RangeValue) (Value, error) {
	var out []any
	for _, v := range list.values {
		in, ok := r.Contains(v)
		if !ok {
			other := r.Lower.Value
			if other == nil {
				other = r.Upper.Value
			}
			return nil, &MixedShardingValueTypeError{Left: v, Right: other}
		}
		if in {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return AlwaysFalse{}, nil
	}
	return ListValue{values: out}, nil
}

func intersectRanges(a, b RangeValue) (Value, error) {
	lower, err := tighterBound(a.Lower, b.Lower, 1)
	if err != nil {
		return nil, err
	}
	upper, err := tighterBound(a.Upper, b.Upper, -1)
	if err != nil {
		return nil, err
	}
	return NewRangeValue(lower, upper)
}

// tighterBound keeps the bound closer to the middle of the interval: the larger
// lower bound when dir is 1, the smaller upper bound when dir is -1. On a tie
// the exclusive edge wins.
func tighterBound(a, b Bound, dir int) (Bound, error) {
	if a.IsUnbounded() {
		return b, nil
	}
	if b.IsUnbounded() {
		return a, nil
	}
	c, ok := compareScalars(a.Value, b.Value)
	if !ok {
		return Bound{}, &MixedShardingValueTypeError{Left: a.Value, Right: b.Value}
	}
	switch {
	case c*dir > 0:
		return a, nil
	case c*dir < 0:
		return b, nil
	}
	return Bound{Value: a.Value, Inclusive: a.Inclusive && b.Inclusive}, nil
}

// MergeAndGroup folds every column of group into one value. Any always-false
// column makes the whole condition always-false with no values. Columns keep
// the order in which they first appeared.
func MergeAndGroup(group AndGroup) (ShardingCondition, error) {
	result := ShardingCondition{RowIndex: group.RowIndex}
	index := make(map[Column]int, len(group.Values))
	for _, cv := range group.Values {
		pos, seen := index[cv.Column]
		if !seen {
			index[cv.Column] = len(result.Values)
			result.Values = append(result.Values, cv)
			continue
		}
		merged, err := MergeValues(result.Values[pos].Value, cv.Value)
		if err != nil {
			var mixed *MixedShardingValueTypeError
			if errors.As(err, &mixed) && mixed.Column.Name == "" {
				mixed.Column = cv.Column
			}
			return ShardingCondition{}, err
		}
		result.Values[pos].Value = merged
	}
	for _, cv := range result.Values {
		if _, ok := cv.Value.(AlwaysFalse); ok {
			return ShardingCondition{AlwaysFalse: true, RowIndex: group.RowIndex}, nil
		}
	}
	return result, nil
}

// MergeAndGroups merges every group in order.
func MergeAndGroups(groups []AndGroup) (ShardingConditions, error) {
	conditions := ShardingConditions{Conditions: make([]ShardingCondition, 0, len(groups))}
	for _, g := range groups {
		c, err := MergeAndGroup(g)
		if err != nil {
			return ShardingConditions{}, err
		}
		conditions.Conditions = append(conditions.Conditions, c)
	}
	return conditions, nil
}
