package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// Business numbers
// ============================================================================
//
// Transaction and subscription numbers are printed on statements, so they
// must be unique across instances and roughly time ordered. Each instance
// gets its own snowflake node id from config.
//
//   TXN20261016143052_1846612004374331392
//   SUB20261016143052_1846612004374331392
//
// ============================================================================

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// Init sets the node id. Later calls are ignored.
func Init(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// NextID returns the next snowflake id, defaulting to node 1.
func NextID() int64 {
	if err := Init(1); err != nil {
		panic(err)
	}
	return node.Generate().Int64()
}

func generate(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s_%d", prefix, time.Now().UTC().Format("20060102150405"), id)
}

func GenerateTransactionNo() string {
	return generate("TXN")
}

func GenerateSubscriptionNo() string {
	return generate("SUB")
}
