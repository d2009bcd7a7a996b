// Package confirm decides whether a broadcast transaction landed.
package confirm

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
)

// Verifier runs up to Config.Attempts rounds of three probes against a
// Provider. A probe that errors or returns nothing is inconclusive, never a
// failure.
type Verifier struct {
	provider blockchain.Provider
	config   Config
	logger   *zap.Logger
	observe  func(Observation)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithObserver reports every probe round.
func WithObserver(fn func(Observation)) Option {
	return func(v *Verifier) {
		v.observe = fn
	}
}

func NewVerifier(provider blockchain.Provider, config Config, logger *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		provider: provider,
		config:   config.withDefaults(),
		logger:   logger.Named("verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify probes sig until one probe is conclusive or the attempts run out.
// There is no wait after the last round. When ctx ends early the verdict is
// Inconclusive without Exhausted.
func (v *Verifier) Verify(ctx context.Context, sig solana.Signature, ref blockchain.BlockReference) Verdict {
	logger := v.logger.With(zap.String("signature", sig.String()))

	for attempt := 1; attempt <= v.config.Attempts; attempt++ {
		verdict := v.round(ctx, logger, sig, ref)
		verdict.Attempts = attempt

		if v.observe != nil {
			v.observe(Observation{Attempt: attempt, State: verdict.State, Probe: verdict.Probe})
		}
		if verdict.State != Inconclusive {
			logger.Info("Verification concluded",
				zap.Stringer("state", verdict.State),
				zap.String("probe", string(verdict.Probe)),
				zap.Int("attempt", attempt),
				zap.Uint64("slot", verdict.Slot))
			return verdict
		}

		if attempt == v.config.Attempts {
			break
		}

		timer := time.NewTimer(v.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn("Verification interrupted", zap.Int("attempt", attempt), zap.Error(ctx.Err()))
			return Verdict{State: Inconclusive, Attempts: attempt}
		case <-timer.C:
		}
	}

	logger.Warn("Verification exhausted", zap.Int("attempts", v.config.Attempts))
	return Verdict{State: Inconclusive, Attempts: v.config.Attempts, Exhausted: true}
}

func (v *Verifier) round(ctx context.Context, logger *zap.Logger, sig solana.Signature, ref blockchain.BlockReference) Verdict {
	if verdict := v.probeStatus(ctx, logger, sig); verdict.State != Inconclusive {
		return verdict
	}
	if verdict := v.probeRecord(ctx, logger, sig); verdict.State != Inconclusive {
		return verdict
	}
	return v.probeConfirm(ctx, logger, sig, ref)
}

func (v *Verifier) probeStatus(ctx context.Context, logger *zap.Logger, sig solana.Signature) Verdict {
	ctx, cancel := context.WithTimeout(ctx, v.config.ProbeTimeout)
	defer cancel()

	status, err := v.provider.GetSignatureStatus(ctx, sig)
	if err != nil {
		logger.Debug("Signature status unavailable", zap.Error(err))
		return Verdict{State: Inconclusive}
	}
	if status == nil {
		return Verdict{State: Inconclusive}
	}
	if status.Err != nil {
		return Verdict{State: Failed, Probe: ProbeStatus, Slot: status.Slot, TxErr: status.Err}
	}
	switch status.Depth {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return Verdict{State: Success, Probe: ProbeStatus, Slot: status.Slot}
	}
	return Verdict{State: Inconclusive}
}

func (v *Verifier) probeRecord(ctx context.Context, logger *zap.Logger, sig solana.Signature) Verdict {
	ctx, cancel := context.WithTimeout(ctx, v.config.ProbeTimeout)
	defer cancel()

	record, err := v.provider.GetTransactionRecord(ctx, sig)
	if err != nil {
		logger.Debug("Transaction record unavailable", zap.Error(err))
		return Verdict{State: Inconclusive}
	}
	if record == nil {
		return Verdict{State: Inconclusive}
	}
	if record.Err != nil {
		return Verdict{State: Failed, Probe: ProbeRecord, Slot: record.Slot, TxErr: record.Err}
	}
	return Verdict{State: Success, Probe: ProbeRecord, Slot: record.Slot}
}

func (v *Verifier) probeConfirm(ctx context.Context, logger *zap.Logger, sig solana.Signature, ref blockchain.BlockReference) Verdict {
	ctx, cancel := context.WithTimeout(ctx, v.config.ProbeTimeout)
	defer cancel()

	result, err := v.provider.Confirm(ctx, sig, ref)
	if err != nil {
		logger.Debug("Confirm inconclusive", zap.Error(err))
		return Verdict{State: Inconclusive}
	}
	if result == nil {
		return Verdict{State: Inconclusive}
	}
	if result.Err != nil {
		return Verdict{State: Failed, Probe: ProbeConfirm, Slot: result.Slot, TxErr: result.Err}
	}
	return Verdict{State: Success, Probe: ProbeConfirm, Slot: result.Slot}
}
