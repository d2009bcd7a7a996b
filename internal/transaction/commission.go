package transaction

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
)

const basisPointsDenominator = 10_000

// CommissionSpec describes the platform fee taken from a transfer.
type CommissionSpec struct {
	BasisPoints uint64
	Recipient   solana.PublicKey
}

// Commission is the fee applied by the engine. It is not configurable.
var Commission = CommissionSpec{
	BasisPoints: 50,
	Recipient:   solana.MustPublicKeyFromBase58("CHnDDM9Ei3wqcGWN1fzA9LZ5w1W36rEzLRNMco6NUM5J"),
}

// Fee returns floor(amount * bps / 10000).
func (c CommissionSpec) Fee(amount uint64) uint64 {
	if amount == 0 || c.BasisPoints == 0 {
		return 0
	}
	fee := new(big.Int).SetUint64(amount)
	fee.Mul(fee, new(big.Int).SetUint64(c.BasisPoints))
	fee.Quo(fee, big.NewInt(basisPointsDenominator))
	return fee.Uint64()
}
