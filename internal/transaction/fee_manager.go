// internal/transaction/fee_manager.go
package transaction

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-dispatch/internal/types"
)

var (
	ErrNoTipAccounts      = errors.New("no relay tip accounts configured")
	ErrZeroTip            = errors.New("relayed bundle tip must be positive")
	ErrZeroPayer          = errors.New("fee payer is not set")
	ErrCommissionTooLarge = errors.New("commission exceeds principal transfer")
	ErrInvalidCommission  = errors.New("commission basis points exceed 10000")
)

// AssemblerConfig holds the static inputs of instruction assembly.
type AssemblerConfig struct {
	ComputeUnits uint32
	TipLamports  uint64
	TipAccounts  []solana.PublicKey
	Commission   CommissionSpec
}

// Assembler turns a fee tier, a dispatch mode and a payload into an ordered InstructionSet.
// It performs no I/O.
type Assembler struct {
	priority *types.PriorityManager
	config   AssemblerConfig
	logger   *zap.Logger
	pickTip  func(n int) int
}

func NewAssembler(priority *types.PriorityManager, config AssemblerConfig, logger *zap.Logger) *Assembler {
	return &Assembler{
		priority: priority,
		config:   config,
		logger:   logger.Named("assembler"),
		pickTip:  rand.IntN,
	}
}

// Assemble builds the instruction set of a single transaction.
//
//	direct-priority: [limit, price, transfer?, payload..., commission?]
//	relayed-bundle:  [tip, limit, transfer?, payload..., commission?]
func (a *Assembler) Assemble(
	mode types.DispatchMode,
	tier types.FeeTier,
	payer solana.PublicKey,
	payload Payload,
	commission *CommissionRequest,
) (InstructionSet, error) {
	if payer.IsZero() {
		return InstructionSet{}, ErrZeroPayer
	}

	var set InstructionSet
	switch mode {
	case types.ModeDirect:
		set.Steps = append(set.Steps,
			Step{Kind: StepComputeLimit, Instruction: a.priority.LimitInstruction(a.config.ComputeUnits)},
			Step{Kind: StepComputePrice, Instruction: a.priority.PriceInstruction(tier)},
		)
	case types.ModeBundle:
		tip, err := a.tipStep(payer)
		if err != nil {
			return InstructionSet{}, err
		}
		set.Steps = append(set.Steps,
			tip,
			Step{Kind: StepComputeLimit, Instruction: a.priority.LimitInstruction(a.config.ComputeUnits)},
		)
	default:
		return InstructionSet{}, fmt.Errorf("unsupported dispatch mode: %q", mode)
	}

	fee, err := a.commissionFee(payload, commission)
	if err != nil {
		return InstructionSet{}, err
	}

	set.Steps = append(set.Steps, a.payloadSteps(payer, payload, fee)...)
	if fee > 0 {
		set.Steps = append(set.Steps, a.commissionStep(payer, fee))
	}

	a.logger.Debug("Instruction set assembled",
		zap.String("mode", string(mode)),
		zap.String("tier", string(tier)),
		zap.Int("instructions", set.Len()),
		zap.Uint64("commission", fee))

	return set, nil
}

// AssembleBundle builds the instruction sets of a multi-transaction bundle.
// Only the first transaction carries the tip; the commission goes to the last one.
func (a *Assembler) AssembleBundle(
	tier types.FeeTier,
	payer solana.PublicKey,
	payloads []Payload,
	commission *CommissionRequest,
) ([]InstructionSet, error) {
	if len(payloads) == 0 {
		return nil, errors.New("bundle needs at least one payload")
	}

	sets := make([]InstructionSet, 0, len(payloads))
	for i, payload := range payloads {
		var req *CommissionRequest
		if i == len(payloads)-1 {
			req = commission
		}

		if i == 0 {
			set, err := a.Assemble(types.ModeBundle, tier, payer, payload, req)
			if err != nil {
				return nil, fmt.Errorf("bundle transaction %d: %w", i, err)
			}
			sets = append(sets, set)
			continue
		}

		fee, err := a.commissionFee(payload, req)
		if err != nil {
			return nil, fmt.Errorf("bundle transaction %d: %w", i, err)
		}
		set := InstructionSet{Steps: []Step{
			{Kind: StepComputeLimit, Instruction: a.priority.LimitInstruction(a.config.ComputeUnits)},
		}}
		set.Steps = append(set.Steps, a.payloadSteps(payer, payload, fee)...)
		if fee > 0 {
			set.Steps = append(set.Steps, a.commissionStep(payer, fee))
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// IsTipAccount reports whether key is one of the configured relay tip accounts.
func (a *Assembler) IsTipAccount(key solana.PublicKey) bool {
	for _, tip := range a.config.TipAccounts {
		if tip.Equals(key) {
			return true
		}
	}
	return false
}

func (a *Assembler) tipStep(payer solana.PublicKey) (Step, error) {
	if len(a.config.TipAccounts) == 0 {
		return Step{}, ErrNoTipAccounts
	}
	if a.config.TipLamports == 0 {
		return Step{}, ErrZeroTip
	}
	account := a.config.TipAccounts[a.pickTip(len(a.config.TipAccounts))]
	return Step{
		Kind:        StepTip,
		Instruction: system.NewTransferInstruction(a.config.TipLamports, payer, account).Build(),
		Lamports:    a.config.TipLamports,
	}, nil
}

// commissionFee computes the fee from the caller supplied gross amount,
// never from the instructions already assembled.
func (a *Assembler) commissionFee(payload Payload, req *CommissionRequest) (uint64, error) {
	if req == nil {
		return 0, nil
	}
	if a.config.Commission.BasisPoints > basisPointsDenominator {
		return 0, ErrInvalidCommission
	}

	gross := req.GrossAmount
	if gross == 0 && payload.Transfer != nil {
		gross = payload.Transfer.Lamports
	}
	fee := a.config.Commission.Fee(gross)
	if payload.Transfer != nil && fee > payload.Transfer.Lamports {
		return 0, fmt.Errorf("%w: fee %d, principal %d", ErrCommissionTooLarge, fee, payload.Transfer.Lamports)
	}
	return fee, nil
}

func (a *Assembler) payloadSteps(payer solana.PublicKey, payload Payload, fee uint64) []Step {
	if payload.empty() {
		return nil
	}

	steps := make([]Step, 0, len(payload.Instructions)+1)
	if payload.Transfer != nil {
		principal := payload.Transfer.Lamports - fee
		steps = append(steps, Step{
			Kind:        StepTransfer,
			Instruction: system.NewTransferInstruction(principal, payer, payload.Transfer.To).Build(),
			Lamports:    principal,
		})
	}
	for _, inst := range payload.Instructions {
		steps = append(steps, Step{Kind: StepPayload, Instruction: inst})
	}
	return steps
}

func (a *Assembler) commissionStep(payer solana.PublicKey, fee uint64) Step {
	return Step{
		Kind:        StepCommission,
		Instruction: system.NewTransferInstruction(fee, payer, a.config.Commission.Recipient).Build(),
		Lamports:    fee,
	}
}
