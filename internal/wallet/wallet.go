// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet is the embedded signer backed by a local private key.
type Wallet struct {
	Name       string
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// NewWallet creates a wallet from a base58-encoded 64-byte private key.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}, nil
}

// LoadWallets loads named wallets from a CSV file with columns [Name, PrivateKeyBase58].
// Rows that fail to parse are reported together after the whole file is read.
func LoadWallets(path string) (map[string]*Wallet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file is empty or missing data")
	}

	wallets := make(map[string]*Wallet)
	var errs []error
	for i, record := range records[1:] {
		if len(record) != 2 {
			errs = append(errs, fmt.Errorf("row %d: expected 2 columns, got %d", i+2, len(record)))
			continue
		}
		name := strings.TrimSpace(record[0])
		w, err := NewWallet(record[1])
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d (%s): %w", i+2, name, err))
			continue
		}
		w.Name = name
		wallets[name] = w
	}
	if len(wallets) == 0 {
		return nil, errors.Join(append([]error{errors.New("no valid wallets in CSV")}, errs...)...)
	}
	return wallets, errors.Join(errs...)
}

func (w *Wallet) PublicKey() solana.PublicKey {
	return w.publicKey
}

// Sign signs the serialized message with the local key. It never blocks.
func (w *Wallet) Sign(ctx context.Context, message []byte) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	sig, err := w.privateKey.Sign(message)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	return sig, nil
}

// String returns the wallet public key.
func (w *Wallet) String() string {
	return w.publicKey.String()
}
