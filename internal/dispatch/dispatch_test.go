package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain/blockchaintest"
	"github.com/rovshanmuradov/solana-dispatch/internal/transaction"
	"github.com/rovshanmuradov/solana-dispatch/internal/wallet"
)

var fastPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}

var testReference = blockchain.BlockReference{
	Blockhash:            solana.Hash{4, 2},
	LastValidBlockHeight: 1_000,
}

func newTestWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)
	return w
}

func transferSet(from solana.PublicKey) transaction.InstructionSet {
	return transaction.InstructionSet{Steps: []transaction.Step{{
		Kind:        transaction.StepTransfer,
		Instruction: system.NewTransferInstruction(1_000, from, solana.NewWallet().PublicKey()).Build(),
		Lamports:    1_000,
	}}}
}

// signerFunc adapts a function to wallet.Signer.
type signerFunc struct {
	key  solana.PublicKey
	sign func(ctx context.Context, message []byte) (solana.Signature, error)
}

func (s signerFunc) PublicKey() solana.PublicKey { return s.key }

func (s signerFunc) Sign(ctx context.Context, message []byte) (solana.Signature, error) {
	return s.sign(ctx, message)
}

func newPreparer(t *testing.T, provider blockchain.Provider) *Preparer {
	logger := zaptest.NewLogger(t)
	return NewPreparer(provider, transaction.NewValidator(logger), fastPolicy, logger)
}

func TestPrepareRetriesBlockReference(t *testing.T) {
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(blockchain.BlockReference{}, errors.New("node busy")).Twice()
	provider.On("GetLatestBlockReference", mock.Anything).Return(testReference, nil).Once()

	w := newTestWallet(t)
	signed, err := newPreparer(t, provider).Prepare(context.Background(), transferSet(w.PublicKey()), w)
	require.NoError(t, err)

	provider.AssertNumberOfCalls(t, "GetLatestBlockReference", 3)
	provider.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)

	assert.Equal(t, testReference, signed.Reference)
	assert.Equal(t, testReference.Blockhash, signed.Tx.Message.RecentBlockhash)
	assert.Equal(t, signed.Signature, signed.Tx.Signatures[0])
	assert.Equal(t, signed.Signature, blockchaintest.RawSignature(signed.Raw))
	require.NoError(t, signed.Tx.VerifySignatures())
}

func TestPrepareStaleBlockReference(t *testing.T) {
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(blockchain.BlockReference{}, errors.New("timeout"))

	signCalled := false
	signer := signerFunc{key: solana.NewWallet().PublicKey(), sign: func(context.Context, []byte) (solana.Signature, error) {
		signCalled = true
		return solana.Signature{}, nil
	}}

	_, err := newPreparer(t, provider).Prepare(context.Background(), transferSet(signer.key), signer)
	assert.ErrorIs(t, err, ErrStaleBlockReference)
	assert.False(t, signCalled)
	provider.AssertNumberOfCalls(t, "GetLatestBlockReference", 3)
}

func TestPrepareSurfacesSignerErrors(t *testing.T) {
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(testReference, nil)

	for _, want := range []error{wallet.ErrUserRejected, wallet.ErrSignerTimeout, wallet.ErrSignerUnavailable} {
		t.Run(want.Error(), func(t *testing.T) {
			calls := 0
			signer := signerFunc{key: solana.NewWallet().PublicKey(), sign: func(context.Context, []byte) (solana.Signature, error) {
				calls++
				return solana.Signature{}, want
			}}

			_, err := newPreparer(t, provider).Prepare(context.Background(), transferSet(signer.key), signer)
			assert.ErrorIs(t, err, want)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestPrepareRejectsForgedSignature(t *testing.T) {
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(testReference, nil)

	signer := signerFunc{key: solana.NewWallet().PublicKey(), sign: func(context.Context, []byte) (solana.Signature, error) {
		return solana.Signature{1, 2, 3}, nil
	}}

	_, err := newPreparer(t, provider).Prepare(context.Background(), transferSet(signer.key), signer)
	assert.ErrorIs(t, err, transaction.ErrInvalidSignature)
}

func TestPrepareRejectsEmptySet(t *testing.T) {
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(testReference, nil)

	w := newTestWallet(t)
	_, err := newPreparer(t, provider).Prepare(context.Background(), transaction.InstructionSet{}, w)
	assert.Error(t, err)
}

func prepared(t *testing.T) *SignedTransaction {
	t.Helper()
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(testReference, nil)

	w := newTestWallet(t)
	signed, err := newPreparer(t, provider).Prepare(context.Background(), transferSet(w.PublicKey()), w)
	require.NoError(t, err)
	return signed
}

func TestDirectRetriesWithIdenticalBytes(t *testing.T) {
	signed := prepared(t)
	provider := new(blockchaintest.MockProvider)

	var sent [][]byte
	record := func(args mock.Arguments) { sent = append(sent, args.Get(1).([]byte)) }
	provider.On("Broadcast", mock.Anything, mock.Anything).Return(solana.Signature{}, errors.New("connection reset")).Run(record).Twice()
	provider.On("Broadcast", mock.Anything, mock.Anything).Return(signed.Signature, nil).Run(record).Once()

	var observed []error
	direct := NewDirect(provider, fastPolicy, zaptest.NewLogger(t), WithAttemptHook(func(err error) {
		observed = append(observed, err)
	}))

	sig, err := direct.Dispatch(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Signature, sig)

	require.Len(t, sent, 3)
	for _, raw := range sent {
		assert.Equal(t, signed.Raw, raw)
	}
	require.Len(t, observed, 3)
	assert.Error(t, observed[0])
	assert.NoError(t, observed[2])
}

func TestDirectExhaustsAttempts(t *testing.T) {
	signed := prepared(t)
	provider := new(blockchaintest.MockProvider)
	provider.On("Broadcast", mock.Anything, mock.Anything).Return(solana.Signature{}, errors.New("503"))

	_, err := NewDirect(provider, fastPolicy, zaptest.NewLogger(t)).Dispatch(context.Background(), signed)

	var broadcastErr *BroadcastError
	require.ErrorAs(t, err, &broadcastErr)
	assert.Equal(t, 3, broadcastErr.Attempts)
	provider.AssertNumberOfCalls(t, "Broadcast", 3)
}

func TestDirectStopsOnRejection(t *testing.T) {
	for _, cause := range []error{blockchain.ErrTransactionRejected, blockchain.ErrBlockhashNotFound} {
		t.Run(cause.Error(), func(t *testing.T) {
			signed := prepared(t)
			provider := new(blockchaintest.MockProvider)
			provider.On("Broadcast", mock.Anything, mock.Anything).Return(solana.Signature{}, fmt.Errorf("%w: simulation", cause))

			_, err := NewDirect(provider, fastPolicy, zaptest.NewLogger(t)).Dispatch(context.Background(), signed)

			var broadcastErr *BroadcastError
			require.ErrorAs(t, err, &broadcastErr)
			assert.Equal(t, 1, broadcastErr.Attempts)
			assert.ErrorIs(t, err, cause)
			provider.AssertNumberOfCalls(t, "Broadcast", 1)
		})
	}
}

func TestDirectRejectsSignatureMismatch(t *testing.T) {
	signed := prepared(t)
	provider := new(blockchaintest.MockProvider)
	provider.On("Broadcast", mock.Anything, mock.Anything).Return(solana.Signature{9, 9}, nil)

	_, err := NewDirect(provider, fastPolicy, zaptest.NewLogger(t)).Dispatch(context.Background(), signed)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	provider.AssertNumberOfCalls(t, "Broadcast", 1)
}

func TestDirectEchoProvider(t *testing.T) {
	signed := prepared(t)
	provider := new(blockchaintest.MockProvider)
	provider.EchoBroadcast()

	sig, err := NewDirect(provider, fastPolicy, zaptest.NewLogger(t)).Dispatch(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Signature, sig)
}

func TestPrepareBoundsSignerWait(t *testing.T) {
	provider := new(blockchaintest.MockProvider)
	provider.On("GetLatestBlockReference", mock.Anything).Return(testReference, nil)

	signer := signerFunc{key: solana.NewWallet().PublicKey(), sign: func(ctx context.Context, _ []byte) (solana.Signature, error) {
		<-ctx.Done()
		return solana.Signature{}, ctx.Err()
	}}

	logger := zaptest.NewLogger(t)
	preparer := NewPreparer(provider, transaction.NewValidator(logger), fastPolicy, logger, WithSignTimeout(10*time.Millisecond))

	_, err := preparer.Prepare(context.Background(), transferSet(signer.key), signer)
	assert.ErrorIs(t, err, wallet.ErrSignerTimeout)
}
