// internal/transaction/transaction.go
package transaction

import (
	"github.com/gagliardetto/solana-go"
)

// StepKind tags the role of an instruction inside an InstructionSet.
type StepKind string

const (
	StepComputeLimit StepKind = "compute-unit-limit"
	StepComputePrice StepKind = "compute-unit-price"
	StepTip          StepKind = "tip"
	StepTransfer     StepKind = "transfer"
	StepPayload      StepKind = "payload"
	StepCommission   StepKind = "commission"
)

// Step is a single instruction together with its role.
type Step struct {
	Kind        StepKind
	Instruction solana.Instruction
	// Lamports is set for transfer-like steps (tip, transfer, commission).
	Lamports uint64
}

// InstructionSet is an ordered list of instructions ready to be compiled into a message.
// Budget steps always precede payload steps; in bundle mode the tip is the first step.
type InstructionSet struct {
	Steps []Step
}

// Instructions returns the plain instruction list in order.
func (s InstructionSet) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(s.Steps))
	for _, step := range s.Steps {
		out = append(out, step.Instruction)
	}
	return out
}

func (s InstructionSet) Len() int {
	return len(s.Steps)
}

// Find returns the first step of the given kind.
func (s InstructionSet) Find(kind StepKind) (Step, bool) {
	for _, step := range s.Steps {
		if step.Kind == kind {
			return step, true
		}
	}
	return Step{}, false
}

// Transfer is a principal SOL transfer supplied by the caller.
type Transfer struct {
	To       solana.PublicKey
	Lamports uint64
}

// Payload is the caller supplied part of a transaction.
type Payload struct {
	// Transfer is emitted first and is reduced by the commission when one is requested.
	Transfer *Transfer
	// Instructions are opaque program instructions appended after the transfer.
	Instructions []solana.Instruction
}

func (p Payload) empty() bool {
	return p.Transfer == nil && len(p.Instructions) == 0
}

// CommissionRequest asks the assembler to append a commission transfer.
type CommissionRequest struct {
	// GrossAmount is the amount the fee is computed from.
	// Zero means the principal transfer amount.
	GrossAmount uint64
}
