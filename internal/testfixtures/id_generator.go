package testfixtures

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator yields "<prefix>-1", "<prefix>-2", ... so reservation trees
// have predictable identifiers.
type IDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

// NewIDGenerator defaults an empty prefix to "r".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "r"
	}
	return &IDGenerator{prefix: prefix}
}

// Next is suitable for scheduler.WithIDGenerator.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.counter.Add(1))
}

// Issued returns how many identifiers were handed out.
func (g *IDGenerator) Issued() uint64 {
	return g.counter.Load()
}
