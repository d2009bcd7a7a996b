// Package engine runs a dispatch end to end: assemble, sign, submit and
// verify in the background while reporting progress on a status stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
	"github.com/rovshanmuradov/solana-dispatch/internal/confirm"
	"github.com/rovshanmuradov/solana-dispatch/internal/dispatch"
	applog "github.com/rovshanmuradov/solana-dispatch/internal/logger"
	"github.com/rovshanmuradov/solana-dispatch/internal/transaction"
	"github.com/rovshanmuradov/solana-dispatch/internal/types"
	"github.com/rovshanmuradov/solana-dispatch/internal/wallet"
)

var (
	ErrRelayUnavailable = errors.New("relayed bundle mode needs a relay")
	ErrUnknownSignature = errors.New("unknown signature")
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Provider  blockchain.Provider
	Signer    wallet.Signer
	Assembler *transaction.Assembler
	// Relay is optional. Without it only direct-priority dispatches work.
	Relay dispatch.Relay
}

// Config tunes retries, signing, verification and stream buffering.
type Config struct {
	ReferenceRetry     dispatch.RetryPolicy
	BroadcastRetry     dispatch.RetryPolicy
	SignTimeout        time.Duration
	Confirm            confirm.Config
	StrictConfirmation bool
	StreamBuffer       int
	// ResultRetention bounds how long settled results stay queryable.
	ResultRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReferenceRetry:  dispatch.DefaultRetryPolicy(),
		BroadcastRetry:  dispatch.DefaultRetryPolicy(),
		SignTimeout:     wallet.DefaultSignTimeout,
		Confirm:         confirm.DefaultConfig(),
		StreamBuffer:    DefaultStreamBuffer,
		ResultRetention: DefaultResultRetention,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics replaces the unregistered default collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Request is a single-transaction dispatch.
type Request struct {
	Mode       types.DispatchMode
	Tier       types.FeeTier
	Payload    transaction.Payload
	Commission *transaction.CommissionRequest
	// Status receives progress phrases. A new stream is created when nil.
	Status *StatusStream
}

// BundleRequest is a multi-transaction relayed bundle. Only the first
// transaction carries the tip and only it is verified.
type BundleRequest struct {
	Tier       types.FeeTier
	Payloads   []transaction.Payload
	Commission *transaction.CommissionRequest
	Status     *StatusStream
}

type Engine struct {
	signer    wallet.Signer
	assembler *transaction.Assembler
	preparer  *dispatch.Preparer
	direct    *dispatch.Direct
	bundle    *dispatch.Bundle
	verifier  *confirm.Verifier
	metrics   *Metrics
	registry  *registry
	config    Config
	wg        sync.WaitGroup
	logger    *zap.Logger
}

func New(deps Deps, config Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if deps.Provider == nil {
		return nil, errors.New("engine needs a provider")
	}
	if deps.Signer == nil {
		return nil, errors.New("engine needs a signer")
	}
	if deps.Assembler == nil {
		return nil, errors.New("engine needs an assembler")
	}

	e := &Engine{
		signer:    deps.Signer,
		assembler: deps.Assembler,
		registry:  newRegistry(config.ResultRetention),
		config:    config,
		logger:    logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	validator := transaction.NewValidator(logger)
	e.preparer = dispatch.NewPreparer(deps.Provider, validator, config.ReferenceRetry, logger, dispatch.WithSignTimeout(config.SignTimeout))
	e.direct = dispatch.NewDirect(deps.Provider, config.BroadcastRetry, logger, dispatch.WithAttemptHook(e.metrics.broadcastAttempt))
	if deps.Relay != nil {
		e.bundle = dispatch.NewBundle(deps.Relay, validator, deps.Assembler, logger)
	}
	e.verifier = confirm.NewVerifier(deps.Provider, config.Confirm, logger, confirm.WithObserver(e.metrics.verificationRound))

	return e, nil
}

// Send assembles, signs and submits one transaction, then verifies it in the
// background. The returned error is non-nil only when nothing was broadcast.
func (e *Engine) Send(ctx context.Context, req Request) (solana.Signature, error) {
	stream := e.stream(req.Status)
	logger, _ := applog.WithDispatch(e.logger, string(req.Mode), string(req.Tier))

	if req.Mode == types.ModeBundle && e.bundle == nil {
		return e.fail(stream, logger, req.Mode, "assemble", ErrRelayUnavailable)
	}

	stream.Publish(PhraseConstructing)
	payer, err := e.payer()
	if err != nil {
		return e.fail(stream, logger, req.Mode, "sign", err)
	}
	set, err := e.assembler.Assemble(req.Mode, req.Tier, payer, req.Payload, req.Commission)
	if err != nil {
		return e.fail(stream, logger, req.Mode, "assemble", err)
	}

	ref, err := e.preparer.FetchReference(ctx)
	if err != nil {
		return e.fail(stream, logger, req.Mode, "block reference", err)
	}

	stream.Publish(PhraseAwaitingSign)
	signed, err := e.preparer.Sign(ctx, set, e.signer, ref)
	if err != nil {
		return e.fail(stream, logger, req.Mode, "sign", err)
	}

	stream.Publish(PhraseSubmitting)
	var bundleID string
	switch req.Mode {
	case types.ModeBundle:
		bundleID, err = e.bundle.DispatchBundle(ctx, []*dispatch.SignedTransaction{signed})
	default:
		_, err = e.direct.Dispatch(ctx, signed)
	}
	if err != nil {
		return e.fail(stream, logger, req.Mode, "submit", err)
	}

	e.track(ctx, logger, signed, bundleID, req.Mode, stream)
	return signed.Signature, nil
}

// SendBundle signs every payload against one block reference and submits
// them as one relayed bundle. It returns the signature of the tipped first
// transaction.
func (e *Engine) SendBundle(ctx context.Context, req BundleRequest) (solana.Signature, error) {
	stream := e.stream(req.Status)
	logger, _ := applog.WithDispatch(e.logger, string(types.ModeBundle), string(req.Tier))

	if e.bundle == nil {
		return e.fail(stream, logger, types.ModeBundle, "assemble", ErrRelayUnavailable)
	}

	stream.Publish(PhraseConstructing)
	payer, err := e.payer()
	if err != nil {
		return e.fail(stream, logger, types.ModeBundle, "sign", err)
	}
	sets, err := e.assembler.AssembleBundle(req.Tier, payer, req.Payloads, req.Commission)
	if err != nil {
		return e.fail(stream, logger, types.ModeBundle, "assemble", err)
	}

	ref, err := e.preparer.FetchReference(ctx)
	if err != nil {
		return e.fail(stream, logger, types.ModeBundle, "block reference", err)
	}

	stream.Publish(PhraseAwaitingSign)
	signed := make([]*dispatch.SignedTransaction, 0, len(sets))
	for i, set := range sets {
		st, err := e.preparer.Sign(ctx, set, e.signer, ref)
		if err != nil {
			return e.fail(stream, logger, types.ModeBundle, "sign", fmt.Errorf("bundle transaction %d: %w", i, err))
		}
		signed = append(signed, st)
	}

	stream.Publish(PhraseSubmitting)
	bundleID, err := e.bundle.DispatchBundle(ctx, signed)
	if err != nil {
		return e.fail(stream, logger, types.ModeBundle, "submit", err)
	}

	e.track(ctx, logger.With(zap.Int("transactions", len(signed))), signed[0], bundleID, types.ModeBundle, stream)
	return signed[0].Signature, nil
}

// Result returns the current record of sig.
func (e *Engine) Result(sig solana.Signature) (Result, bool) {
	result, _, ok := e.registry.get(sig)
	return result, ok
}

// Subscribe attaches to the status stream of sig, replaying its history.
func (e *Engine) Subscribe(sig solana.Signature) (<-chan string, func(), error) {
	_, stream, ok := e.registry.get(sig)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSignature, sig)
	}
	ch, cancel := stream.Subscribe()
	return ch, cancel, nil
}

// Wait blocks until every background verification has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.logger.Warn("Verifications still running at shutdown")
		return ctx.Err()
	}
}

// payer is the signer's key. A signer without a key has no backend to sign with.
func (e *Engine) payer() (solana.PublicKey, error) {
	pub := e.signer.PublicKey()
	if pub.IsZero() {
		return solana.PublicKey{}, wallet.ErrSignerUnavailable
	}
	return pub, nil
}

func (e *Engine) stream(s *StatusStream) *StatusStream {
	if s != nil {
		return s
	}
	return NewStatusStream(e.config.StreamBuffer, e.logger)
}

// fail ends a dispatch that never reached the network.
func (e *Engine) fail(stream *StatusStream, logger *zap.Logger, mode types.DispatchMode, stage string, err error) (solana.Signature, error) {
	outcome := "failed"
	phrase := PhraseFailed
	if errors.Is(err, wallet.ErrUserRejected) {
		outcome = "declined"
		phrase = PhraseDeclined
	}

	logger.Error("Dispatch failed", zap.String("stage", stage), zap.Error(err))
	e.metrics.dispatched(mode, outcome)
	stream.Publish(phrase)
	stream.Close()
	return solana.Signature{}, err
}

// track records the broadcast and verifies it in a goroutine that outlives ctx.
func (e *Engine) track(
	ctx context.Context,
	logger *zap.Logger,
	signed *dispatch.SignedTransaction,
	bundleID string,
	mode types.DispatchMode,
	stream *StatusStream,
) {
	result := Result{
		Signature: signed.Signature,
		BundleID:  bundleID,
		Mode:      mode,
		Verdict:   confirm.Verdict{State: confirm.Pending},
		SentAt:    time.Now(),
		Strict:    e.config.StrictConfirmation,
	}
	e.registry.add(result, stream)
	e.metrics.dispatched(mode, "sent")

	logger = logger.With(zap.String("signature", signed.Signature.String()))
	if bundleID != "" {
		logger = logger.With(zap.String("bundle_id", bundleID))
	}
	logger.Info("Transaction sent")
	stream.Publish(PhraseSent)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.verify(context.WithoutCancel(ctx), logger, signed, result.SentAt, stream)
	}()
}

func (e *Engine) verify(ctx context.Context, logger *zap.Logger, signed *dispatch.SignedTransaction, sentAt time.Time, stream *StatusStream) {
	defer stream.Close()

	stream.Publish(PhraseVerifying)
	verdict := e.verifier.Verify(ctx, signed.Signature, signed.Reference)
	e.registry.settle(signed.Signature, verdict)
	e.metrics.verdict(verdict, time.Since(sentAt))

	switch verdict.State {
	case confirm.Success:
		logger.Info("Transaction confirmed",
			zap.String("probe", string(verdict.Probe)),
			zap.Uint64("slot", verdict.Slot),
			zap.Int("attempts", verdict.Attempts))
		stream.Publish(PhraseConfirmed)
	case confirm.Failed:
		logger.Error("Transaction failed on chain",
			zap.String("probe", string(verdict.Probe)),
			zap.Any("error", verdict.TxErr))
		stream.Publish(PhraseFailed)
	default:
		logger.Warn("Transaction not verified",
			zap.Int("attempts", verdict.Attempts),
			zap.Bool("exhausted", verdict.Exhausted),
			zap.Bool("strict", e.config.StrictConfirmation))
		stream.Publish(PhrasePending)
	}
}
