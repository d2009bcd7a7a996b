package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
)

// Direct broadcasts a single signed transaction to an RPC provider.
type Direct struct {
	provider  blockchain.Provider
	policy    RetryPolicy
	logger    *zap.Logger
	onAttempt func(err error)
}

// DirectOption configures a Direct dispatcher.
type DirectOption func(*Direct)

// WithAttemptHook reports the outcome of every broadcast attempt.
func WithAttemptHook(hook func(err error)) DirectOption {
	return func(d *Direct) {
		d.onAttempt = hook
	}
}

func NewDirect(provider blockchain.Provider, policy RetryPolicy, logger *zap.Logger, opts ...DirectOption) *Direct {
	d := &Direct{
		provider: provider,
		policy:   policy,
		logger:   logger.Named("direct"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends signed.Raw with preflight enabled. Retries resend the same
// bytes. A rejection by the node ends the loop early since the same bytes get
// the same answer.
func (d *Direct) Dispatch(ctx context.Context, signed *SignedTransaction) (solana.Signature, error) {
	logger := d.logger.With(zap.String("signature", signed.Signature.String()))

	attempts := 0
	sig, err := backoff.Retry(ctx, func() (solana.Signature, error) {
		attempts++
		sig, err := d.provider.Broadcast(ctx, signed.Raw)
		if err == nil && !sig.Equals(signed.Signature) {
			err = backoff.Permanent(ErrSignatureMismatch)
			logger.Error("Node acknowledged a different signature", zap.String("returned", sig.String()))
		}
		if d.onAttempt != nil {
			d.onAttempt(unwrapPermanent(err))
		}
		if err != nil && isRejection(err) {
			return solana.Signature{}, backoff.Permanent(err)
		}
		return sig, err
	}, d.policy.options(func(err error, next time.Duration) {
		logger.Warn("Broadcast failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("next", next),
			zap.Error(err))
	})...)
	if err != nil {
		err = unwrapPermanent(err)
		logger.Error("Broadcast failed", zap.Int("attempts", attempts), zap.Error(err))
		return solana.Signature{}, &BroadcastError{Attempts: attempts, Err: err}
	}

	logger.Info("Transaction broadcast", zap.Int("attempts", attempts))
	return sig, nil
}

func isRejection(err error) bool {
	return errors.Is(err, blockchain.ErrTransactionRejected) || errors.Is(err, blockchain.ErrBlockhashNotFound)
}
