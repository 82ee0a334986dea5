package sharding

import (
	"errors"
	"fmt"
)

var (
	ErrNoShardingRouteFound    = errors.New("no sharding route found")
	ErrShardingValueIsNull     = errors.New("sharding value can not be null")
	ErrMixedShardingValueType  = errors.New("mixed sharding value types")
	ErrInvalidShardingValue    = errors.New("invalid sharding value")
	ErrUnresolvablePlaceholder = errors.New("unresolvable placeholder")
	ErrInvalidRule             = errors.New("invalid sharding rule")
	ErrNoDataSource            = errors.New("no data source available")
	ErrMultipleRouteUnits      = errors.New("query routed to more than one unit, result merging is not supported")
	ErrInsertColumnsRequired   = errors.New("insert statement must list its columns to carry a generated key")
	ErrUnsupportedStatement    = errors.New("unsupported statement")
	ErrInvalidToken            = errors.New("invalid rewrite token")
	ErrDistributedTransaction  = errors.New("statement routes outside the connection of the current transaction")
)

// NoShardingRouteFoundError reports an algorithm that returned no target for a
// non-empty sharding value.
type NoShardingRouteFoundError struct {
	Table  string
	Column string
	Value  Value
}

func (e *NoShardingRouteFoundError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("no sharding route found for table %s", e.Table)
	}
	return fmt.Sprintf("no sharding route found for %s.%s with value %s", e.Table, e.Column, e.Value)
}

func (e *NoShardingRouteFoundError) Unwrap() error { return ErrNoShardingRouteFound }

type ShardingValueIsNullError struct {
	Column Column
}

func (e *ShardingValueIsNullError) Error() string {
	return fmt.Sprintf("sharding value can not be null for column %s", e.Column)
}

func (e *ShardingValueIsNullError) Unwrap() error { return ErrShardingValueIsNull }

type MixedShardingValueTypeError struct {
	Column Column
	Left   any
	Right  any
}

func (e *MixedShardingValueTypeError) Error() string {
	if e.Column.Name == "" {
		return fmt.Sprintf("can not compare sharding values %v (%T) and %v (%T)", e.Left, e.Left, e.Right, e.Right)
	}
	return fmt.Sprintf("can not compare sharding values %v (%T) and %v (%T) on column %s",
		e.Left, e.Left, e.Right, e.Right, e.Column)
}

func (e *MixedShardingValueTypeError) Unwrap() error { return ErrMixedShardingValueType }

// UnresolvablePlaceholderError is returned by the rewriter when a token refers
// to a logic table the route unit does not map.
type UnresolvablePlaceholderError struct {
	Kind       string
	LogicTable string
	Unit       RouteUnit
}

func (e *UnresolvablePlaceholderError) Error() string {
	return fmt.Sprintf("can not resolve %s placeholder for table %s in route unit %s", e.Kind, e.LogicTable, e.Unit.Key())
}

func (e *UnresolvablePlaceholderError) Unwrap() error { return ErrUnresolvablePlaceholder }
