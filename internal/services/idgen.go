package services

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// IDGenerator mints external ids for payment sessions
type IDGenerator interface {
	NextExternalID() int64
}

// SnowflakeIDGenerator produces time-ordered ids that are unique per node
type SnowflakeIDGenerator struct {
	node *snowflake.Node
}

func NewSnowflakeIDGenerator(nodeID int64) (*SnowflakeIDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDGenerator{node: node}, nil
}

func (g *SnowflakeIDGenerator) NextExternalID() int64 {
	return g.node.Generate().Int64()
}

// NewStateToken returns a random anti-replay nonce
func NewStateToken() string {
	return uuid.NewString()
}
