package utils

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// InitPublicIDs sets the snowflake node id. Calling it is optional; the first
// PublicID call otherwise initialises node 1.
func InitPublicIDs(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// PublicID returns a new time-ordered, URL-safe identifier for external references.
func PublicID() string {
	if err := InitPublicIDs(1); err != nil {
		panic(err)
	}
	return node.Generate().Base58()
}
