package solbc

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
)

type confirmOutcome struct {
	result *blockchain.ConfirmResult
	err    error
}

// Confirm waits until sig reaches the client commitment. It gives up with
// blockchain.ErrBlockReferenceExpired once the block height passes the
// reference's last valid height, so the wait is bounded by the chain itself.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature, ref blockchain.BlockReference) (*blockchain.ConfirmResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan confirmOutcome, 2)
	go func() {
		result, err := c.awaitSignature(ctx, sig)
		outcomes <- confirmOutcome{result: result, err: err}
	}()
	go func() {
		outcomes <- confirmOutcome{err: c.watchExpiry(ctx, ref)}
	}()

	out := <-outcomes
	return out.result, out.err
}

func (c *Client) awaitSignature(ctx context.Context, sig solana.Signature) (*blockchain.ConfirmResult, error) {
	if c.wsURL != "" {
		result, err := c.subscribeSignature(ctx, sig)
		if err == nil || ctx.Err() != nil {
			return result, err
		}
		c.logger.Warn("Websocket confirmation unavailable, falling back to polling",
			zap.String("signature", sig.String()),
			zap.Error(err))
	}
	return c.pollSignature(ctx, sig)
}

func (c *Client) subscribeSignature(ctx context.Context, sig solana.Signature) (*blockchain.ConfirmResult, error) {
	client, err := ws.Connect(ctx, c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	defer client.Close()

	sub, err := client.SignatureSubscribe(sig, c.commitment)
	if err != nil {
		return nil, fmt.Errorf("signature subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	// The notification is not replayed for a signature that landed before
	// the subscription was registered.
	if result, ok := c.checkStatus(ctx, sig); ok {
		return result, nil
	}

	res, err := sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &blockchain.ConfirmResult{
		Slot: res.Context.Slot,
		Err:  res.Value.Err,
	}, nil
}

func (c *Client) pollSignature(ctx context.Context, sig solana.Signature) (*blockchain.ConfirmResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if result, ok := c.checkStatus(ctx, sig); ok {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkStatus reports a result once the signature has reached the commitment
// or already carries an execution error.
func (c *Client) checkStatus(ctx context.Context, sig solana.Signature) (*blockchain.ConfirmResult, bool) {
	status, err := c.GetSignatureStatus(ctx, sig)
	if err != nil {
		c.logger.Debug("Signature status poll failed", zap.Error(err))
		return nil, false
	}
	if status == nil {
		return nil, false
	}
	if status.Err != nil || c.reached(status.Depth) {
		return &blockchain.ConfirmResult{Slot: status.Slot, Err: status.Err}, true
	}
	return nil, false
}

func (c *Client) reached(depth solanarpc.ConfirmationStatusType) bool {
	switch depth {
	case solanarpc.ConfirmationStatusFinalized:
		return true
	case solanarpc.ConfirmationStatusConfirmed:
		return c.commitment != solanarpc.CommitmentFinalized
	default:
		return false
	}
}

// watchExpiry returns blockchain.ErrBlockReferenceExpired once the block height
// exceeds ref.LastValidBlockHeight. A zero height never expires.
func (c *Client) watchExpiry(ctx context.Context, ref blockchain.BlockReference) error {
	if ref.LastValidBlockHeight == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		height, err := c.GetBlockHeight(ctx)
		if err != nil {
			c.logger.Debug("Block height poll failed", zap.Error(err))
		} else if height > ref.LastValidBlockHeight {
			c.logger.Debug("Block reference expired",
				zap.Uint64("block_height", height),
				zap.Uint64("last_valid_block_height", ref.LastValidBlockHeight))
			return blockchain.ErrBlockReferenceExpired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
