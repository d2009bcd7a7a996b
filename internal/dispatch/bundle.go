package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-dispatch/internal/transaction"
)

// systemTransferID is the system program instruction index of Transfer.
const systemTransferID = 2

// Relay submits ordered bundles of base64-encoded transactions.
type Relay interface {
	SubmitBundle(ctx context.Context, encoded []string) (string, error)
}

// TipAccounts recognizes relay tip accounts. *transaction.Assembler implements it.
type TipAccounts interface {
	IsTipAccount(key solana.PublicKey) bool
}

// Bundle submits signed transactions as one relayed bundle.
type Bundle struct {
	relay     Relay
	validator *transaction.Validator
	tips      TipAccounts
	logger    *zap.Logger
}

func NewBundle(relay Relay, validator *transaction.Validator, tips TipAccounts, logger *zap.Logger) *Bundle {
	return &Bundle{
		relay:     relay,
		validator: validator,
		tips:      tips,
		logger:    logger.Named("bundle"),
	}
}

// DispatchBundle validates and encodes every transaction, keeping their order,
// and submits them in a single relay call. The returned id only acknowledges
// receipt. Relay failures are not retried.
func (b *Bundle) DispatchBundle(ctx context.Context, signed []*SignedTransaction) (string, error) {
	if len(signed) == 0 {
		return "", ErrEmptyBundle
	}
	if !b.hasTip(signed) {
		return "", ErrMissingTip
	}

	encoded := make([]string, len(signed))
	g, _ := errgroup.WithContext(ctx)
	for i, st := range signed {
		g.Go(func() error {
			if _, err := b.validator.ValidateRaw(st.Raw); err != nil {
				return fmt.Errorf("bundle transaction %d: %w", i, err)
			}
			encoded[i] = base64.StdEncoding.EncodeToString(st.Raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	bundleID, err := b.relay.SubmitBundle(ctx, encoded)
	if err != nil {
		b.logger.Error("Relay refused bundle",
			zap.Int("transactions", len(signed)),
			zap.String("first_signature", signed[0].Signature.String()),
			zap.Error(err))
		return "", &RelayError{Err: err}
	}

	b.logger.Info("Bundle submitted",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(signed)))
	return bundleID, nil
}

func (b *Bundle) hasTip(signed []*SignedTransaction) bool {
	for _, st := range signed {
		if st.Tx != nil && b.paysTip(st.Tx) {
			return true
		}
	}
	return false
}

// paysTip reports whether the first instruction of tx is a system transfer
// to a known tip account.
func (b *Bundle) paysTip(tx *solana.Transaction) bool {
	if len(tx.Message.Instructions) == 0 {
		return false
	}
	first := tx.Message.Instructions[0]

	program, err := tx.Message.Program(first.ProgramIDIndex)
	if err != nil || !program.Equals(solana.SystemProgramID) {
		return false
	}
	if len(first.Data) < 12 || binary.LittleEndian.Uint32(first.Data[:4]) != systemTransferID {
		return false
	}
	if len(first.Accounts) < 2 {
		return false
	}
	recipient := int(first.Accounts[1])
	if recipient >= len(tx.Message.AccountKeys) {
		return false
	}

	return b.tips.IsTipAccount(tx.Message.AccountKeys[recipient])
}
