// internal/relay/jito/client.go
package jito

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

// MainnetEndpoint is the public block engine bundle endpoint.
const MainnetEndpoint = "https://mainnet.block-engine.jito.wtf/api/v1/bundles"

// TipAccounts are the published mainnet tip accounts. GetTipAccounts can refresh them.
var TipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// MaxBundleSize is the largest bundle the block engine accepts.
const MaxBundleSize = 5

var (
	ErrEmptyBundle    = errors.New("bundle has no transactions")
	ErrBundleTooLarge = fmt.Errorf("bundle exceeds %d transactions", MaxBundleSize)
)

// BundleStatus is the block engine's view of a landed bundle.
type BundleStatus struct {
	BundleID           string   `json:"bundle_id"`
	Transactions       []string `json:"transactions"`
	Slot               uint64   `json:"slot"`
	ConfirmationStatus string   `json:"confirmation_status"`
	// Err is {"Ok": null} for a bundle that executed.
	Err map[string]interface{} `json:"err"`
}

type bundleStatusesResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value []*BundleStatus `json:"value"`
}

// Client talks to a block engine over JSON-RPC.
type Client struct {
	rpc      jsonrpc.RPCClient
	endpoint string
	logger   *zap.Logger

	mu   sync.RWMutex
	tips []solana.PublicKey
}

func NewClient(endpoint string, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = MainnetEndpoint
	}
	return &Client{
		rpc:      jsonrpc.NewClient(endpoint),
		endpoint: endpoint,
		logger:   logger.Named("jito"),
		tips:     append([]solana.PublicKey(nil), TipAccounts...),
	}
}

// SubmitBundle sends base64-encoded transactions, in order, as one bundle and
// returns the bundle id. The id acknowledges receipt only. There is no retry:
// a resent bundle may pay the tip twice.
func (c *Client) SubmitBundle(ctx context.Context, encoded []string) (string, error) {
	if len(encoded) == 0 {
		return "", ErrEmptyBundle
	}
	if len(encoded) > MaxBundleSize {
		return "", ErrBundleTooLarge
	}

	var bundleID string
	err := c.rpc.CallForInto(ctx, &bundleID, "sendBundle", []interface{}{
		encoded,
		map[string]interface{}{"encoding": "base64"},
	})
	if err != nil {
		c.logger.Error("sendBundle failed",
			zap.String("endpoint", c.endpoint),
			zap.Int("transactions", len(encoded)),
			zap.Error(err))
		return "", fmt.Errorf("sendBundle: %w", err)
	}
	if bundleID == "" {
		return "", errors.New("sendBundle: empty bundle id")
	}

	c.logger.Info("Bundle accepted", zap.String("bundle_id", bundleID), zap.Int("transactions", len(encoded)))
	return bundleID, nil
}

// GetTipAccounts fetches the current tip accounts and caches them.
func (c *Client) GetTipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	var raw []string
	if err := c.rpc.CallForInto(ctx, &raw, "getTipAccounts", nil); err != nil {
		return nil, fmt.Errorf("getTipAccounts: %w", err)
	}

	accounts := make([]solana.PublicKey, 0, len(raw))
	for _, s := range raw {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("getTipAccounts: invalid account %q: %w", s, err)
		}
		accounts = append(accounts, key)
	}
	if len(accounts) == 0 {
		return nil, errors.New("getTipAccounts: empty response")
	}

	c.mu.Lock()
	c.tips = accounts
	c.mu.Unlock()
	return accounts, nil
}

// Tips returns the cached tip accounts.
func (c *Client) Tips() []solana.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]solana.PublicKey(nil), c.tips...)
}

// GetBundleStatuses returns the status of each bundle id; unknown ids map to nil.
func (c *Client) GetBundleStatuses(ctx context.Context, bundleIDs ...string) ([]*BundleStatus, error) {
	if len(bundleIDs) == 0 {
		return nil, nil
	}
	var out bundleStatusesResult
	if err := c.rpc.CallForInto(ctx, &out, "getBundleStatuses", []interface{}{bundleIDs}); err != nil {
		return nil, fmt.Errorf("getBundleStatuses: %w", err)
	}
	return out.Value, nil
}
