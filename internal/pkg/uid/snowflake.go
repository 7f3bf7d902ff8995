package uid

import "github.com/bwmarrin/snowflake"

// Snowflake generates Twitter-snowflake-style distributed int64 ids
// rendered as base-10 strings, suitable for a stable, sortable
// x-message-id stamped once per outbound envelope.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake constructs a Snowflake generator for the given node id
// (0-1023). Deployments running more than one producer process must assign
// distinct node ids to avoid collisions.
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &Snowflake{node: node}, nil
}

// Generate returns the next id as a base-10 string.
func (s *Snowflake) Generate() string {
	return s.node.Generate().String()
}
