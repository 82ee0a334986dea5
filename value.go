package sharding

import (
	"fmt"
	"sort"
	"strings"
)

// Value is the set of values a statement allows for one sharding column. It is
// one of ListValue, RangeValue or AlwaysFalse and is never mutated once built.
type Value interface {
	fmt.Stringer
	isValue()
}

// ListValue is a finite set of scalars, kept normalized, deduplicated and sorted.
type ListValue struct {
	values []any
}

// NewListValue builds a ListValue from raw Go values. NULL members are
// rejected with ErrShardingValueIsNull, incomparable members with
// ErrMixedShardingValueType.
func NewListValue(values ...any) (ListValue, error) {
	normalized := make([]any, 0, len(values))
	for _, v := range values {
		n, err := normalizeScalar(v)
		if err != nil {
			return ListValue{}, err
		}
		if n == nil {
			return ListValue{}, ErrShardingValueIsNull
		}
		normalized = append(normalized, n)
	}
	return newSortedList(normalized)
}

func newSortedList(values []any) (ListValue, error) {
	var mixed error
	sort.SliceStable(values, func(i, j int) bool {
		c, ok := compareScalars(values[i], values[j])
		if !ok && mixed == nil {
			mixed = &MixedShardingValueTypeError{Left: values[i], Right: values[j]}
		}
		return c < 0
	})
	if mixed != nil {
		return ListValue{}, mixed
	}
	deduped := values[:0:0]
	for _, v := range values {
		if len(deduped) > 0 {
			if c, _ := compareScalars(deduped[len(deduped)-1], v); c == 0 {
				continue
			}
		}
		deduped = append(deduped, v)
	}
	return ListValue{values: deduped}, nil
}

// Values returns a copy of the members in ascending order.
func (l ListValue) Values() []any {
	out := make([]any, len(l.values))
	copy(out, l.values)
	return out
}

func (l ListValue) Len() int { return len(l.values) }

// Contains reports whether v is a member. Incomparable values are never members.
func (l ListValue) Contains(v any) bool {
	n, err := normalizeScalar(v)
	if err != nil || n == nil {
		return false
	}
	i := sort.Search(len(l.values), func(i int) bool {
		c, _ := compareScalars(l.values[i], n)
		return c >= 0
	})
	if i >= len(l.values) {
		return false
	}
	c, ok := compareScalars(l.values[i], n)
	return ok && c == 0
}

func (l ListValue) String() string {
	parts := make([]string, len(l.values))
	for i, v := range l.values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (ListValue) isValue() {}

// Bound is one end of a RangeValue. A nil Value means the side is unbounded.
type Bound struct {
	Value     any
	Inclusive bool
}

func Unbounded() Bound { return Bound{} }

func Closed(v any) Bound { return Bound{Value: v, Inclusive: true} }

func Open(v any) Bound { return Bound{Value: v} }

func (b Bound) IsUnbounded() bool { return b.Value == nil }

// RangeValue is an interval over one column.
type RangeValue struct {
	Lower Bound
	Upper Bound
}

// NewRangeValue builds the interval between lower and upper. Empty intervals
// come back as AlwaysFalse and single point closed intervals as a ListValue.
func NewRangeValue(lower, upper Bound) (Value, error) {
	var err error
	if lower, err = normalizeBound(lower); err != nil {
		return nil, err
	}
	if upper, err = normalizeBound(upper); err != nil {
		return nil, err
	}
	if lower.IsUnbounded() || upper.IsUnbounded() {
		return RangeValue{Lower: lower, Upper: upper}, nil
	}
	c, ok := compareScalars(lower.Value, upper.Value)
	if !ok {
		return nil, &MixedShardingValueTypeError{Left: lower.Value, Right: upper.Value}
	}
	switch {
	case c > 0:
		return AlwaysFalse{}, nil
	case c == 0 && lower.Inclusive && upper.Inclusive:
		return ListValue{values: []any{lower.Value}}, nil
	case c == 0:
		return AlwaysFalse{}, nil
	}
	return RangeValue{Lower: lower, Upper: upper}, nil
}

func normalizeBound(b Bound) (Bound, error) {
	if b.Value == nil {
		return Bound{}, nil
	}
	n, err := normalizeScalar(b.Value)
	if err != nil {
		return Bound{}, err
	}
	if n == nil {
		return Bound{}, ErrShardingValueIsNull
	}
	return Bound{Value: n, Inclusive: b.Inclusive}, nil
}

func (r RangeValue) HasLower() bool { return !r.Lower.IsUnbounded() }

func (r RangeValue) HasUpper() bool { return !r.Upper.IsUnbounded() }

// Contains reports whether v lies inside the interval. ok is false when v can
// not be compared with the bounds.
func (r RangeValue) Contains(v any) (in bool, ok bool) {
	n, err := normalizeScalar(v)
	if err != nil || n == nil {
		return false, false
	}
	if r.HasLower() {
		c, comparable := compareScalars(n, r.Lower.Value)
		if !comparable {
			return false, false
		}
		if c < 0 || (c == 0 && !r.Lower.Inclusive) {
			return false, true
		}
	}
	if r.HasUpper() {
		c, comparable := compareScalars(n, r.Upper.Value)
		if !comparable {
			return false, false
		}
		if c > 0 || (c == 0 && !r.Upper.Inclusive) {
			return false, true
		}
	}
	return true, true
}

func (r RangeValue) String() string {
	var sb strings.Builder
	if r.HasLower() && r.Lower.Inclusive {
		sb.WriteString("[")
	} else {
		sb.WriteString("(")
	}
	if r.HasLower() {
		fmt.Fprintf(&sb, "%v", r.Lower.Value)
	} else {
		sb.WriteString("-inf")
	}
	sb.WriteString(", ")
	if r.HasUpper() {
		fmt.Fprintf(&sb, "%v", r.Upper.Value)
	} else {
		sb.WriteString("+inf")
	}
	if r.HasUpper() && r.Upper.Inclusive {
		sb.WriteString("]")
	} else {
		sb.WriteString(")")
	}
	return sb.String()
}

func (RangeValue) isValue() {}

// AlwaysFalse marks a column no row can satisfy.
type AlwaysFalse struct{}

func (AlwaysFalse) String() string { return "always-false" }

func (AlwaysFalse) isValue() {}

// EqualValues compares two values structurally.
func EqualValues(a, b Value) bool {
	switch x := a.(type) {
	case ListValue:
		y, ok := b.(ListValue)
		if !ok || len(x.values) != len(y.values) {
			return false
		}
		for i := range x.values {
			if c, comparable := compareScalars(x.values[i], y.values[i]); !comparable || c != 0 {
				return false
			}
		}
		return true
	case RangeValue:
		y, ok := b.(RangeValue)
		return ok && equalBound(x.Lower, y.Lower) && equalBound(x.Upper, y.Upper)
	case AlwaysFalse:
		_, ok := b.(AlwaysFalse)
		return ok
	}
	return false
}

func equalBound(a, b Bound) bool {
	if a.IsUnbounded() || b.IsUnbounded() {
		return a.IsUnbounded() && b.IsUnbounded()
	}
	c, ok := compareScalars(a.Value, b.Value)
	return ok && c == 0 && a.Inclusive == b.Inclusive
}
