package sharding

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"
)

// Numeric carries arbitrary precision integers, for example token amounts that
// are used as sharding values.
type Numeric struct {
	I *big.Int
}

type UInt256 struct {
	Numeric
}

func (u *UInt256) ToInt64() int64 {
	return u.I.Int64()
}

func (n *Numeric) ToInt64() int64 {
	return n.I.Int64()
}

// normalizeScalar maps a Go value onto the small set of scalar types the value
// model compares: int64, *big.Int, float64, string, bool and time.Time.
// A nil result with a nil error means the value is SQL NULL.
func normalizeScalar(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return normalizeUint(uint64(v)), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return normalizeUint(v), nil
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return v, nil
	case time.Time:
		return v, nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return normalizeBig(v), nil
	case Numeric:
		return normalizeScalar(v.I)
	case *Numeric:
		if v == nil {
			return nil, nil
		}
		return normalizeScalar(v.I)
	case UInt256:
		return normalizeScalar(v.I)
	case *UInt256:
		if v == nil {
			return nil, nil
		}
		return normalizeScalar(v.I)
	case driver.Valuer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil, nil
		}
		inner, err := v.Value()
		if err != nil {
			return nil, fmt.Errorf("failed to read sharding value: %w", err)
		}
		return normalizeScalar(inner)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeScalar(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	}
	return nil, fmt.Errorf("unsupported sharding value type %T", value)
}

func normalizeUint(v uint64) any {
	if v > math.MaxInt64 {
		return new(big.Int).SetUint64(v)
	}
	return int64(v)
}

// NaN has no place in an ordered value set.
func normalizeFloat(v float64) (any, error) {
	if math.IsNaN(v) {
		return nil, fmt.Errorf("%w: NaN", ErrInvalidShardingValue)
	}
	return v, nil
}

func normalizeBig(v *big.Int) any {
	if v.IsInt64() {
		return v.Int64()
	}
	return new(big.Int).Set(v)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int64, float64, *big.Int:
		return true
	}
	return false
}

// compareScalars orders two normalized scalars. ok is false when the two values
// belong to different, mutually incomparable kinds.
func compareScalars(a, b any) (result int, ok bool) {
	if isNumeric(a) && isNumeric(b) {
		return compareNumeric(a, b), true
	}
	switch x := a.(type) {
	case string:
		if y, isString := b.(string); isString {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, isBool := b.(bool); isBool {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if y, isTime := b.(time.Time); isTime {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func compareNumeric(a, b any) int {
	if x, isInt := a.(int64); isInt {
		if y, isInt := b.(int64); isInt {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	_, aFloat := a.(float64)
	_, bFloat := b.(float64)
	if aFloat || bFloat {
		return toBigFloat(a).Cmp(toBigFloat(b))
	}
	return toBigInt(a).Cmp(toBigInt(b))
}

func toBigInt(v any) *big.Int {
	switch x := v.(type) {
	case int64:
		return big.NewInt(x)
	case *big.Int:
		return x
	}
	return new(big.Int)
}

func toBigFloat(v any) *big.Float {
	switch x := v.(type) {
	case int64:
		return new(big.Float).SetInt64(x)
	case float64:
		return big.NewFloat(x)
	case *big.Int:
		return new(big.Float).SetInt(x)
	}
	return new(big.Float)
}

// formatScalar renders a normalized scalar as a SQL literal.
func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case time.Time:
		return "'" + x.Format("2006-01-02 15:04:05.999999") + "'"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case *big.Int:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}
