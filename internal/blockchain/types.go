// internal/blockchain/types.go
package blockchain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrBlockReferenceExpired is returned by Confirm once the chain has moved past
	// the last block height at which the transaction could land.
	ErrBlockReferenceExpired = errors.New("block reference expired")

	// ErrBlockhashNotFound is returned by Broadcast when the node no longer
	// knows the transaction's blockhash.
	ErrBlockhashNotFound = errors.New("blockhash not found")

	// ErrTransactionRejected is returned by Broadcast when the node refused the
	// transaction itself, for example on a failed preflight simulation.
	// Sending the same bytes again gives the same answer.
	ErrTransactionRejected = errors.New("transaction rejected by node")
)

// BlockReference is a recent blockhash together with the last block height
// at which a transaction referencing it is still valid.
type BlockReference struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// SignatureStatus is the node's view of a signature.
type SignatureStatus struct {
	Slot  uint64
	Depth rpc.ConfirmationStatusType
	// Err is the on-chain execution error, nil when the transaction succeeded.
	Err interface{}
}

// TransactionRecord is the stored record of a landed transaction.
type TransactionRecord struct {
	Slot uint64
	Fee  uint64
	Logs []string
	Err  interface{}
}

// ConfirmResult is returned by a blocking confirm once the signature reached
// the requested commitment.
type ConfirmResult struct {
	Slot uint64
	Err  interface{}
}

// Provider is the ledger node boundary used by the dispatchers and the verifier.
type Provider interface {
	// GetLatestBlockReference returns a fresh block reference.
	GetLatestBlockReference(ctx context.Context) (BlockReference, error)
	// Broadcast submits serialized transaction bytes with preflight simulation enabled.
	Broadcast(ctx context.Context, raw []byte) (solana.Signature, error)
	// GetSignatureStatus returns nil, nil when the node does not know the signature.
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
	// GetTransactionRecord returns nil, nil when no record exists yet.
	GetTransactionRecord(ctx context.Context, sig solana.Signature) (*TransactionRecord, error)
	// Confirm blocks until the signature is confirmed, the reference expires or ctx ends.
	Confirm(ctx context.Context, sig solana.Signature, ref BlockReference) (*ConfirmResult, error)
}
