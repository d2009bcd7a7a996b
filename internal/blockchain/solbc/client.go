// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain/solbc/rpc"
)

const defaultPollInterval = 500 * time.Millisecond

// Config configures the Solana provider.
type Config struct {
	RPCURLs []string
	// WebsocketURL enables signatureSubscribe based confirmation. Empty means polling.
	WebsocketURL string
	Commitment   solanarpc.CommitmentType
	PollInterval time.Duration
}

// Client implements blockchain.Provider on top of solana-go and a pool of RPC nodes.
type Client struct {
	pool         *rpc.Pool
	wsURL        string
	commitment   solanarpc.CommitmentType
	pollInterval time.Duration
	analyzer     *ErrorAnalyzer
	logger       *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	logger = logger.Named("solbc-client")

	pool, err := rpc.NewPool(cfg.RPCURLs, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Client{
		pool:         pool,
		wsURL:        cfg.WebsocketURL,
		commitment:   cfg.Commitment,
		pollInterval: cfg.PollInterval,
		analyzer:     NewErrorAnalyzer(logger),
		logger:       logger,
	}, nil
}

// Pool exposes the node pool for health reporting.
func (c *Client) Pool() *rpc.Pool {
	return c.pool
}

func (c *Client) GetLatestBlockReference(ctx context.Context) (blockchain.BlockReference, error) {
	var result *solanarpc.GetLatestBlockhashResult
	err := c.pool.Execute(ctx, "getLatestBlockhash", func(node *solanarpc.Client) error {
		var err error
		result, err = node.GetLatestBlockhash(ctx, c.commitment)
		return err
	})
	if err != nil {
		c.logger.Debug("GetLatestBlockhash error", zap.Error(err))
		return blockchain.BlockReference{}, err
	}
	if result == nil || result.Value == nil || result.Value.Blockhash.IsZero() {
		return blockchain.BlockReference{}, fmt.Errorf("empty getLatestBlockhash response")
	}

	return blockchain.BlockReference{
		Blockhash:            result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// Broadcast submits raw transaction bytes with preflight simulation enabled.
func (c *Client) Broadcast(ctx context.Context, raw []byte) (solana.Signature, error) {
	var sig solana.Signature
	err := c.pool.Execute(ctx, "sendTransaction", func(node *solanarpc.Client) error {
		var err error
		sig, err = node.SendRawTransactionWithOpts(ctx, raw, solanarpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: c.commitment,
		})
		return err
	})
	if err != nil {
		return solana.Signature{}, c.analyzer.Classify(err)
	}
	return sig, nil
}

func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*blockchain.SignatureStatus, error) {
	var result *solanarpc.GetSignatureStatusesResult
	err := c.pool.Execute(ctx, "getSignatureStatuses", func(node *solanarpc.Client) error {
		var err error
		result, err = node.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if errors.Is(err, solanarpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, nil
	}

	status := result.Value[0]
	return &blockchain.SignatureStatus{
		Slot:  status.Slot,
		Depth: status.ConfirmationStatus,
		Err:   status.Err,
	}, nil
}

func (c *Client) GetTransactionRecord(ctx context.Context, sig solana.Signature) (*blockchain.TransactionRecord, error) {
	var result *solanarpc.GetTransactionResult
	err := c.pool.Execute(ctx, "getTransaction", func(node *solanarpc.Client) error {
		var err error
		result, err = node.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     solanarpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: solanarpc.NewTransactionVersion(0),
		})
		return err
	})
	if errors.Is(err, solanarpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record := &blockchain.TransactionRecord{Slot: result.Slot}
	if result.Meta != nil {
		record.Err = result.Meta.Err
		record.Fee = result.Meta.Fee
		record.Logs = result.Meta.LogMessages
	}
	return record, nil
}

// GetBlockHeight returns the current block height at the client commitment.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.pool.Execute(ctx, "getBlockHeight", func(node *solanarpc.Client) error {
		var err error
		height, err = node.GetBlockHeight(ctx, c.commitment)
		return err
	})
	return height, err
}

var _ blockchain.Provider = (*Client)(nil)
