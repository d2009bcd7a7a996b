package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain/blockchaintest"
	"github.com/rovshanmuradov/solana-dispatch/internal/confirm"
	"github.com/rovshanmuradov/solana-dispatch/internal/dispatch"
	"github.com/rovshanmuradov/solana-dispatch/internal/transaction"
	"github.com/rovshanmuradov/solana-dispatch/internal/types"
	"github.com/rovshanmuradov/solana-dispatch/internal/wallet"
)

var (
	testRef = blockchain.BlockReference{Blockhash: solana.Hash{3, 1, 4}, LastValidBlockHeight: 900}
	tipKey  = solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe")

	phrases = map[string]bool{
		PhraseConstructing: true,
		PhraseAwaitingSign: true,
		PhraseSubmitting:   true,
		PhraseSent:         true,
		PhraseVerifying:    true,
		PhraseConfirmed:    true,
		PhraseFailed:       true,
		PhrasePending:      true,
		PhraseDeclined:     true,
	}
)

type mockRelay struct {
	mock.Mock
}

func (m *mockRelay) SubmitBundle(ctx context.Context, encoded []string) (string, error) {
	args := m.Called(ctx, encoded)
	return args.String(0), args.Error(1)
}

type fixture struct {
	engine   *Engine
	provider *blockchaintest.MockProvider
	relay    *mockRelay
	signer   wallet.Signer
	metrics  *Metrics
}

func testConfig() Config {
	return Config{
		ReferenceRetry: dispatch.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
		BroadcastRetry: dispatch.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
		SignTimeout:    time.Second,
		Confirm:        confirm.Config{Attempts: 2, Interval: time.Millisecond, ProbeTimeout: time.Second},
	}
}

func newFixture(t *testing.T, signer wallet.Signer, config Config) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	if signer == nil {
		w, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
		require.NoError(t, err)
		signer = w
	}

	assembler := transaction.NewAssembler(types.NewPriorityManager(logger), transaction.AssemblerConfig{
		ComputeUnits: types.DefaultComputeUnits,
		TipLamports:  10_000,
		TipAccounts:  []solana.PublicKey{tipKey},
		Commission:   transaction.Commission,
	}, logger)

	f := &fixture{
		provider: new(blockchaintest.MockProvider),
		relay:    new(mockRelay),
		signer:   signer,
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.provider.On("GetLatestBlockReference", mock.Anything).Return(testRef, nil)

	e, err := New(Deps{
		Provider:  f.provider,
		Signer:    signer,
		Assembler: assembler,
		Relay:     f.relay,
	}, config, logger, WithMetrics(f.metrics))
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) confirmed() {
	f.provider.On("GetSignatureStatus", mock.Anything, mock.Anything).
		Return(&blockchain.SignatureStatus{Slot: 10, Depth: rpc.ConfirmationStatusConfirmed}, nil)
}

func (f *fixture) unknown() {
	f.provider.On("GetSignatureStatus", mock.Anything, mock.Anything).Return(nil, nil)
	f.provider.On("GetTransactionRecord", mock.Anything, mock.Anything).Return(nil, nil)
	f.provider.On("Confirm", mock.Anything, mock.Anything, mock.Anything).Return(nil, blockchain.ErrBlockReferenceExpired)
}

func transfer() transaction.Payload {
	return transaction.Payload{Transfer: &transaction.Transfer{To: solana.NewWallet().PublicKey(), Lamports: 1_000_000}}
}

func wait(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

func TestSendConfirmed(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.provider.EchoBroadcast()
	f.confirmed()

	stream := NewStatusStream(0, zaptest.NewLogger(t))
	sig, err := f.engine.Send(context.Background(), Request{
		Mode:       types.ModeDirect,
		Tier:       types.TierHigh,
		Payload:    transfer(),
		Commission: &transaction.CommissionRequest{},
		Status:     stream,
	})
	require.NoError(t, err)
	wait(t, f.engine)

	assert.Equal(t, []string{
		PhraseConstructing,
		PhraseAwaitingSign,
		PhraseSubmitting,
		PhraseSent,
		PhraseVerifying,
		PhraseConfirmed,
	}, stream.History())
	assert.True(t, stream.Closed())

	result, ok := f.engine.Result(sig)
	require.True(t, ok)
	assert.Equal(t, confirm.Success, result.Verdict.State)
	assert.True(t, result.Accepted())
	assert.True(t, result.Done())
	assert.Equal(t, types.ModeDirect, result.Mode)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.dispatches.WithLabelValues("direct-priority", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.broadcastAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.verificationRounds.WithLabelValues("success")))
}

func TestSendExhaustedVerificationEndsPending(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(map[bool]string{false: "optimistic", true: "strict"}[strict], func(t *testing.T) {
			config := testConfig()
			config.StrictConfirmation = strict
			f := newFixture(t, nil, config)
			f.provider.EchoBroadcast()
			f.unknown()

			sig, err := f.engine.Send(context.Background(), Request{Mode: types.ModeDirect, Tier: types.TierLow, Payload: transfer()})
			require.NoError(t, err)
			wait(t, f.engine)

			ch, cancel, err := f.engine.Subscribe(sig)
			require.NoError(t, err)
			defer cancel()

			var got []string
			for phrase := range ch {
				got = append(got, phrase)
			}
			require.NotEmpty(t, got)
			assert.Equal(t, PhrasePending, got[len(got)-1])

			result, ok := f.engine.Result(sig)
			require.True(t, ok)
			assert.Equal(t, confirm.Inconclusive, result.Verdict.State)
			assert.True(t, result.Verdict.Exhausted)
			assert.Equal(t, !strict, result.Accepted())
		})
	}
}

func TestSendOnChainFailure(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.provider.EchoBroadcast()
	f.provider.On("GetSignatureStatus", mock.Anything, mock.Anything).
		Return(&blockchain.SignatureStatus{Slot: 3, Err: map[string]interface{}{"InstructionError": []interface{}{1, "Custom"}}}, nil)

	stream := NewStatusStream(0, zaptest.NewLogger(t))
	sig, err := f.engine.Send(context.Background(), Request{Mode: types.ModeDirect, Tier: types.TierMedium, Payload: transfer(), Status: stream})
	require.NoError(t, err)
	wait(t, f.engine)

	assert.Equal(t, PhraseFailed, stream.Last())
	result, _ := f.engine.Result(sig)
	assert.Equal(t, confirm.Failed, result.Verdict.State)
	assert.False(t, result.Accepted())
}

func TestSendSignatureDeclined(t *testing.T) {
	device := wallet.NewPairedSigner(time.Second, zaptest.NewLogger(t))
	requests := device.Pair(solana.NewWallet().PublicKey())
	go func() {
		for req := range requests {
			req.Reject()
		}
	}()
	t.Cleanup(device.Unpair)

	f := newFixture(t, device, testConfig())
	stream := NewStatusStream(0, zaptest.NewLogger(t))

	_, err := f.engine.Send(context.Background(), Request{Mode: types.ModeDirect, Tier: types.TierLow, Payload: transfer(), Status: stream})
	assert.ErrorIs(t, err, wallet.ErrUserRejected)

	assert.Equal(t, []string{PhraseConstructing, PhraseAwaitingSign, PhraseDeclined}, stream.History())
	assert.True(t, stream.Closed())
	f.provider.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.dispatches.WithLabelValues("direct-priority", "declined")))
}

func TestStreamNeverCarriesRawErrors(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.provider.On("Broadcast", mock.Anything, mock.Anything).
		Return(solana.Signature{}, errors.New("dial tcp 10.0.0.1:8899: connection refused"))

	stream := NewStatusStream(0, zaptest.NewLogger(t))
	_, err := f.engine.Send(context.Background(), Request{Mode: types.ModeDirect, Tier: types.TierLow, Payload: transfer(), Status: stream})

	var broadcastErr *dispatch.BroadcastError
	require.ErrorAs(t, err, &broadcastErr)
	assert.Equal(t, 3, broadcastErr.Attempts)

	for _, phrase := range stream.History() {
		assert.True(t, phrases[phrase], "unexpected phrase %q", phrase)
	}
	assert.Equal(t, PhraseFailed, stream.Last())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.broadcastAttempts.WithLabelValues("error")))
}

func TestSendStaleReferenceNeverSigns(t *testing.T) {
	signed := false
	device := wallet.NewPairedSigner(time.Second, zaptest.NewLogger(t))
	requests := device.Pair(solana.NewWallet().PublicKey())
	go func() {
		for req := range requests {
			signed = true
			req.Reject()
		}
	}()
	t.Cleanup(device.Unpair)

	logger := zaptest.NewLogger(t)
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(blockchain.BlockReference{}, errors.New("node lagging"))

	assembler := transaction.NewAssembler(types.NewPriorityManager(logger), transaction.AssemblerConfig{ComputeUnits: 1}, logger)
	e, err := New(Deps{Provider: provider, Signer: device, Assembler: assembler}, testConfig(), logger)
	require.NoError(t, err)

	_, err = e.Send(context.Background(), Request{Mode: types.ModeDirect, Tier: types.TierLow, Payload: transfer()})
	assert.ErrorIs(t, err, dispatch.ErrStaleBlockReference)
	assert.False(t, signed)
	provider.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestSendBundleMode(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.relay.On("SubmitBundle", mock.Anything, mock.MatchedBy(func(encoded []string) bool { return len(encoded) == 1 })).
		Return("bundle-abc", nil).Once()
	f.confirmed()

	sig, err := f.engine.Send(context.Background(), Request{Mode: types.ModeBundle, Tier: types.TierHigh, Payload: transfer()})
	require.NoError(t, err)
	wait(t, f.engine)

	result, ok := f.engine.Result(sig)
	require.True(t, ok)
	assert.Equal(t, "bundle-abc", result.BundleID)
	assert.Equal(t, confirm.Success, result.Verdict.State)
	f.relay.AssertExpectations(t)
	f.provider.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestSendBundleOfSeveralTransactions(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.relay.On("SubmitBundle", mock.Anything, mock.MatchedBy(func(encoded []string) bool { return len(encoded) == 3 })).
		Return("bundle-xyz", nil).Once()
	f.confirmed()

	sig, err := f.engine.SendBundle(context.Background(), BundleRequest{
		Tier:     types.TierVeryHigh,
		Payloads: []transaction.Payload{transfer(), transfer(), transfer()},
	})
	require.NoError(t, err)
	wait(t, f.engine)

	result, ok := f.engine.Result(sig)
	require.True(t, ok)
	assert.Equal(t, "bundle-xyz", result.BundleID)
	assert.Equal(t, types.ModeBundle, result.Mode)
	f.provider.AssertCalled(t, "GetSignatureStatus", mock.Anything, sig)
	f.provider.AssertNumberOfCalls(t, "GetLatestBlockReference", 1)
}

func TestSendBundleRelayFailure(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.relay.On("SubmitBundle", mock.Anything, mock.Anything).Return("", errors.New("rate limited"))

	stream := NewStatusStream(0, zaptest.NewLogger(t))
	_, err := f.engine.SendBundle(context.Background(), BundleRequest{Tier: types.TierLow, Payloads: []transaction.Payload{transfer()}, Status: stream})

	var relayErr *dispatch.RelayError
	assert.ErrorAs(t, err, &relayErr)
	assert.Equal(t, PhraseFailed, stream.Last())
	f.relay.AssertNumberOfCalls(t, "SubmitBundle", 1)
}

func TestBundleModeRequiresRelay(t *testing.T) {
	logger := zaptest.NewLogger(t)
	w, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)
	assembler := transaction.NewAssembler(types.NewPriorityManager(logger), transaction.AssemblerConfig{}, logger)

	e, err := New(Deps{Provider: new(blockchaintest.MockProvider), Signer: w, Assembler: assembler}, testConfig(), logger)
	require.NoError(t, err)

	_, err = e.Send(context.Background(), Request{Mode: types.ModeBundle, Payload: transfer()})
	assert.ErrorIs(t, err, ErrRelayUnavailable)
	_, err = e.SendBundle(context.Background(), BundleRequest{Payloads: []transaction.Payload{transfer()}})
	assert.ErrorIs(t, err, ErrRelayUnavailable)
}

func TestVerificationOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	f.provider.EchoBroadcast()
	f.confirmed()

	ctx, cancel := context.WithCancel(context.Background())
	sig, err := f.engine.Send(ctx, Request{Mode: types.ModeDirect, Tier: types.TierLow, Payload: transfer()})
	require.NoError(t, err)
	cancel()
	wait(t, f.engine)

	result, _ := f.engine.Result(sig)
	assert.Equal(t, confirm.Success, result.Verdict.State)
}

func TestSubscribeUnknownSignature(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	_, _, err := f.engine.Subscribe(solana.Signature{1})
	assert.ErrorIs(t, err, ErrUnknownSignature)

	_, ok := f.engine.Result(solana.Signature{1})
	assert.False(t, ok)
}

func TestNewRequiresDependencies(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := New(Deps{}, testConfig(), logger)
	assert.Error(t, err)
}

func TestSendWithoutPairedDevice(t *testing.T) {
	device := wallet.NewPairedSigner(time.Second, zaptest.NewLogger(t))
	f := newFixture(t, device, testConfig())

	stream := NewStatusStream(0, zaptest.NewLogger(t))
	_, err := f.engine.Send(context.Background(), Request{Mode: types.ModeDirect, Tier: types.TierLow, Payload: transfer(), Status: stream})
	assert.ErrorIs(t, err, wallet.ErrSignerUnavailable)
	assert.Equal(t, []string{PhraseConstructing, PhraseFailed}, stream.History())
	assert.True(t, stream.Closed())

	bundleStream := NewStatusStream(0, zaptest.NewLogger(t))
	_, err = f.engine.SendBundle(context.Background(), BundleRequest{Tier: types.TierLow, Payloads: []transaction.Payload{transfer()}, Status: bundleStream})
	assert.ErrorIs(t, err, wallet.ErrSignerUnavailable)
	assert.Equal(t, []string{PhraseConstructing, PhraseFailed}, bundleStream.History())

	f.provider.AssertNotCalled(t, "GetLatestBlockReference", mock.Anything)
	f.relay.AssertNotCalled(t, "SubmitBundle", mock.Anything, mock.Anything)
}

func TestSendBundleModeRejectsZeroTip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	w, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)
	assembler := transaction.NewAssembler(types.NewPriorityManager(logger), transaction.AssemblerConfig{
		ComputeUnits: types.DefaultComputeUnits,
		TipAccounts:  []solana.PublicKey{tipKey},
	}, logger)
	provider := new(blockchaintest.MockProvider)
	relay := new(mockRelay)

	e, err := New(Deps{Provider: provider, Signer: w, Assembler: assembler, Relay: relay}, testConfig(), logger)
	require.NoError(t, err)

	stream := NewStatusStream(0, logger)
	_, err = e.Send(context.Background(), Request{Mode: types.ModeBundle, Tier: types.TierHigh, Payload: transfer(), Status: stream})
	assert.ErrorIs(t, err, transaction.ErrZeroTip)
	assert.Equal(t, PhraseFailed, stream.Last())
	relay.AssertNotCalled(t, "SubmitBundle", mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}
