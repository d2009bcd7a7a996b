package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
	"github.com/rovshanmuradov/solana-dispatch/internal/transaction"
	"github.com/rovshanmuradov/solana-dispatch/internal/wallet"
)

// SignedTransaction is built, signed and serialized exactly once.
// Every submission attempt sends Raw as is.
type SignedTransaction struct {
	Tx        *solana.Transaction
	Raw       []byte
	Signature solana.Signature
	Reference blockchain.BlockReference
}

// Preparer turns an instruction set into a SignedTransaction.
type Preparer struct {
	provider    blockchain.Provider
	validator   *transaction.Validator
	policy      RetryPolicy
	signTimeout time.Duration
	logger      *zap.Logger
}

// PreparerOption configures a Preparer.
type PreparerOption func(*Preparer)

// WithSignTimeout replaces wallet.DefaultSignTimeout.
func WithSignTimeout(d time.Duration) PreparerOption {
	return func(p *Preparer) {
		if d > 0 {
			p.signTimeout = d
		}
	}
}

func NewPreparer(provider blockchain.Provider, validator *transaction.Validator, policy RetryPolicy, logger *zap.Logger, opts ...PreparerOption) *Preparer {
	p := &Preparer{
		provider:    provider,
		validator:   validator,
		policy:      policy,
		signTimeout: wallet.DefaultSignTimeout,
		logger:      logger.Named("preparer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare fetches a fresh block reference and signs set with signer.
func (p *Preparer) Prepare(ctx context.Context, set transaction.InstructionSet, signer wallet.Signer) (*SignedTransaction, error) {
	ref, err := p.FetchReference(ctx)
	if err != nil {
		return nil, err
	}
	return p.Sign(ctx, set, signer, ref)
}

// FetchReference gets the latest block reference, retrying per the policy.
func (p *Preparer) FetchReference(ctx context.Context) (blockchain.BlockReference, error) {
	attempts := 0
	ref, err := backoff.Retry(ctx, func() (blockchain.BlockReference, error) {
		attempts++
		return p.provider.GetLatestBlockReference(ctx)
	}, p.policy.options(func(err error, next time.Duration) {
		p.logger.Debug("Block reference fetch failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("next", next),
			zap.Error(err))
	})...)
	if err != nil {
		p.logger.Warn("No fresh block reference", zap.Int("attempts", attempts), zap.Error(err))
		return blockchain.BlockReference{}, fmt.Errorf("%w after %d attempt(s): %w", ErrStaleBlockReference, attempts, unwrapPermanent(err))
	}
	return ref, nil
}

// Sign compiles set against ref, asks signer for exactly one signature and
// validates the serialized result. The signer gets a single bounded wait.
func (p *Preparer) Sign(ctx context.Context, set transaction.InstructionSet, signer wallet.Signer, ref blockchain.BlockReference) (*SignedTransaction, error) {
	payer := signer.PublicKey()
	tx, err := solana.NewTransaction(set.Instructions(), ref.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if n := int(tx.Message.Header.NumRequiredSignatures); n != 1 {
		return nil, fmt.Errorf("%w: %d required", ErrMultipleSigners, n)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}

	signCtx, cancel := context.WithTimeout(ctx, p.signTimeout)
	defer cancel()

	sig, err := signer.Sign(signCtx, message)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = wallet.ErrSignerTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signatures = []solana.Signature{sig}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	if _, err := p.validator.ValidateRaw(raw); err != nil {
		return nil, fmt.Errorf("signed transaction rejected locally: %w", err)
	}

	p.logger.Debug("Transaction signed",
		zap.String("signature", sig.String()),
		zap.String("blockhash", ref.Blockhash.String()),
		zap.Uint64("last_valid_block_height", ref.LastValidBlockHeight),
		zap.Int("size", len(raw)))

	return &SignedTransaction{
		Tx:        tx,
		Raw:       raw,
		Signature: sig,
		Reference: ref,
	}, nil
}
