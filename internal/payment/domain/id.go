package domain

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
)

const paymentIDPrefix = "pay_"

// IDGenerator issues time ordered payment ids that are unique across instances
// as long as every instance has its own node id.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator uses nodeID when it is within 0..1023, otherwise derives one
// from the hostname.
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = hostNodeID()
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &IDGenerator{node: node}, nil
}

func (g *IDGenerator) NewPaymentID() string {
	return paymentIDPrefix + g.node.Generate().String()
}

func hostNodeID() int64 {
	host, _ := os.Hostname()
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return int64(h.Sum32()) & 0x3FF
}
