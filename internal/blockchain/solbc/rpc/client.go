// internal/blockchain/solbc/rpc/client.go
package rpc

import (
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// NewClient creates a NodeClient for url.
func NewClient(url string) *NodeClient {
	return &NodeClient{
		Client:  solanarpc.New(url),
		URL:     url,
		active:  true,
		metrics: &metrics{},
	}
}

// GetMetrics returns success count, error count and the smoothed latency.
func (c *NodeClient) GetMetrics() (uint64, uint64, time.Duration) {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()
	return c.metrics.successCount, c.metrics.errorCount, c.metrics.latency
}

// markFailed takes the node out of rotation until the cooldown passes.
func (c *NodeClient) markFailed(at time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.active = false
	c.failedAt = at
}

func (c *NodeClient) markHealthy() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.active = true
}

// available reports whether the node may be tried at now.
func (c *NodeClient) available(now time.Time, cooldown time.Duration) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.active || now.Sub(c.failedAt) >= cooldown
}

func (c *NodeClient) IsActive() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.active
}

func (c *NodeClient) updateMetrics(success bool, latency time.Duration) {
	c.metrics.mutex.Lock()
	defer c.metrics.mutex.Unlock()

	if success {
		c.metrics.successCount++
	} else {
		c.metrics.errorCount++
	}

	if c.metrics.latency == 0 {
		c.metrics.latency = latency
		return
	}
	c.metrics.latency = (c.metrics.latency + latency) / 2
}
