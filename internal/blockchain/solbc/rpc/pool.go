// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// NewPool creates a pool over urls. Nodes are tried in round-robin order.
func NewPool(urls []string, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	clients := make([]*NodeClient, 0, len(urls))
	for _, url := range urls {
		clients = append(clients, NewClient(url))
	}
	return &Pool{
		clients:  clients,
		logger:   logger.Named("rpc-pool"),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}, nil
}

// SetCooldown changes how long a failed node stays out of rotation.
func (p *Pool) SetCooldown(d time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cooldown = d
}

// candidates returns the available nodes starting at the round-robin cursor,
// and advances the cursor. When every node is cooling down all of them are returned.
func (p *Pool) candidates() []*NodeClient {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	start := p.next
	p.next = (p.next + 1) % len(p.clients)

	ordered := make([]*NodeClient, 0, len(p.clients))
	var cooling []*NodeClient
	for i := range p.clients {
		c := p.clients[(start+i)%len(p.clients)]
		if c.available(now, p.cooldown) {
			ordered = append(ordered, c)
		} else {
			cooling = append(cooling, c)
		}
	}
	if len(ordered) == 0 {
		return cooling
	}
	return ordered
}

// Execute runs op against one node. It moves on to the next node only when
// the node itself failed; an answer from the node, error or not, is final.
// Callers own retries.
func (p *Pool) Execute(ctx context.Context, method string, op func(*solanarpc.Client) error) error {
	nodes := p.candidates()
	if len(nodes) == 0 {
		return ErrNoActiveClients
	}

	var lastErr error
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		start := time.Now()
		err := op(node.Client)
		node.updateMetrics(err == nil, time.Since(start))

		if err == nil {
			node.markHealthy()
			return nil
		}

		lastErr = NewError(err, node.URL, method)
		if !IsNodeFailure(err) || ctx.Err() != nil {
			return lastErr
		}

		node.markFailed(p.now())
		p.logger.Debug("RPC node failed, trying next node",
			zap.String("url", node.URL),
			zap.String("method", method),
			zap.Error(err))
	}

	return lastErr
}

// Stats returns a snapshot of every node in the pool.
func (p *Pool) Stats() []NodeStats {
	stats := make([]NodeStats, 0, len(p.clients))
	for _, c := range p.clients {
		success, failures, latency := c.GetMetrics()
		stats = append(stats, NodeStats{
			URL:       c.URL,
			Active:    c.IsActive(),
			Successes: success,
			Errors:    failures,
			Latency:   latency,
		})
	}
	return stats
}
