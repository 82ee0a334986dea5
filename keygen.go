package sharding

import (
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// KeyGenerator produces count keys for rows inserted into table.
// Implementations must be safe for concurrent use.
type KeyGenerator interface {
	Next(table string, count int) ([]any, error)
}

// KeyGeneratorFunc adapts a function to KeyGenerator.
type KeyGeneratorFunc func(table string, count int) ([]any, error)

func (f KeyGeneratorFunc) Next(table string, count int) ([]any, error) {
	return f(table, count)
}

// SnowflakeKeyGenerator hands out snowflake ids from a single node.
type SnowflakeKeyGenerator struct {
	node *snowflake.Node
}

func NewSnowflakeKeyGenerator(nodeID int64) (*SnowflakeKeyGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node error, %w", err)
	}
	return &SnowflakeKeyGenerator{node: node}, nil
}

func (g *SnowflakeKeyGenerator) Next(_ string, count int) ([]any, error) {
	keys := make([]any, count)
	for i := range keys {
		keys[i] = g.node.Generate().Int64()
	}
	return keys, nil
}

// UUIDKeyGenerator generates random (version 4) UUID strings.
type UUIDKeyGenerator struct{}

func (UUIDKeyGenerator) Next(_ string, count int) ([]any, error) {
	keys := make([]any, count)
	for i := range keys {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("failed to generate uuid: %w", err)
		}
		keys[i] = id.String()
	}
	return keys, nil
}

// IncrementKeyGenerator counts up from its start value. It is process local
// and mostly useful for tests.
type IncrementKeyGenerator struct {
	next atomic.Int64
}

func NewIncrementKeyGenerator(start int64) *IncrementKeyGenerator {
	g := &IncrementKeyGenerator{}
	g.next.Store(start)
	return g
}

func (g *IncrementKeyGenerator) Next(_ string, count int) ([]any, error) {
	last := g.next.Add(int64(count))
	keys := make([]any, count)
	for i := range keys {
		keys[i] = last - int64(count) + int64(i)
	}
	return keys, nil
}
