// Package blockchaintest provides a testify mock of blockchain.Provider.
package blockchaintest

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/mock"

	"github.com/rovshanmuradov/solana-dispatch/internal/blockchain"
)

// MockProvider implements blockchain.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetLatestBlockReference(ctx context.Context) (blockchain.BlockReference, error) {
	args := m.Called(ctx)
	return args.Get(0).(blockchain.BlockReference), args.Error(1)
}

func (m *MockProvider) Broadcast(ctx context.Context, raw []byte) (solana.Signature, error) {
	args := m.Called(ctx, raw)

	var sig solana.Signature
	if fn, ok := args.Get(0).(func(context.Context, []byte) solana.Signature); ok {
		sig = fn(ctx, raw)
	} else {
		sig = args.Get(0).(solana.Signature)
	}
	return sig, args.Error(1)
}

func (m *MockProvider) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*blockchain.SignatureStatus, error) {
	args := m.Called(ctx, sig)
	status, _ := args.Get(0).(*blockchain.SignatureStatus)
	return status, args.Error(1)
}

func (m *MockProvider) GetTransactionRecord(ctx context.Context, sig solana.Signature) (*blockchain.TransactionRecord, error) {
	args := m.Called(ctx, sig)
	record, _ := args.Get(0).(*blockchain.TransactionRecord)
	return record, args.Error(1)
}

func (m *MockProvider) Confirm(ctx context.Context, sig solana.Signature, ref blockchain.BlockReference) (*blockchain.ConfirmResult, error) {
	args := m.Called(ctx, sig, ref)
	result, _ := args.Get(0).(*blockchain.ConfirmResult)
	return result, args.Error(1)
}

// EchoBroadcast makes Broadcast answer with the signature embedded in the raw
// transaction bytes, as a node does.
func (m *MockProvider) EchoBroadcast() *mock.Call {
	return m.On("Broadcast", mock.Anything, mock.Anything).Return(
		func(_ context.Context, raw []byte) solana.Signature {
			return RawSignature(raw)
		},
		nil,
	)
}

// RawSignature extracts the first signature of serialized transaction bytes.
func RawSignature(raw []byte) solana.Signature {
	var sig solana.Signature
	if len(raw) >= 1+len(sig) {
		copy(sig[:], raw[1:1+len(sig)])
	}
	return sig
}

var _ blockchain.Provider = (*MockProvider)(nil)
