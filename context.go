package sharding

import "context"

// Define context key for sharding
type contextKey string

const (
	// NoShardingKey marks a context whose statements skip routing
	NoShardingKey contextKey = "sharding_disabled"
)

// WithoutSharding returns a context whose statements are executed as written.
func WithoutSharding(ctx context.Context) context.Context {
	return context.WithValue(ctx, NoShardingKey, true)
}

func shardingDisabled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	disabled, _ := ctx.Value(NoShardingKey).(bool)
	return disabled
}
