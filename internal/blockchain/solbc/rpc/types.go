// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	// DefaultCooldown is how long a failed node is skipped before it is tried again.
	DefaultCooldown = 30 * time.Second
)

// NodeClient is a single RPC node.
type NodeClient struct {
	Client   *rpc.Client
	URL      string
	active   bool
	failedAt time.Time
	mutex    sync.RWMutex
	metrics  *metrics
}

// metrics holds per-node call counters.
type metrics struct {
	successCount uint64
	errorCount   uint64
	latency      time.Duration
	mutex        sync.RWMutex
}

// NodeStats is a snapshot of a node's health.
type NodeStats struct {
	URL       string
	Active    bool
	Successes uint64
	Errors    uint64
	Latency   time.Duration
}

// Pool is a round-robin set of RPC nodes with failover.
type Pool struct {
	clients  []*NodeClient
	logger   *zap.Logger
	cooldown time.Duration
	next     int
	mutex    sync.Mutex
	now      func() time.Time
}
