package types

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"go.uber.org/zap"
)

// FeeTier selects the priority unit price of a transaction.
type FeeTier string

const (
	TierLow      FeeTier = "low"
	TierMedium   FeeTier = "medium"
	TierHigh     FeeTier = "high"
	TierVeryHigh FeeTier = "very-high"
)

// DefaultComputeUnits is the compute unit limit used when none is configured.
const DefaultComputeUnits uint32 = 200_000

// PriorityConfig describes one row of the fee tier table.
type PriorityConfig struct {
	PriorityFee uint64 // micro-lamports per compute unit
}

var priorityProfiles = map[FeeTier]PriorityConfig{
	TierLow:      {PriorityFee: 1_000},
	TierMedium:   {PriorityFee: 5_000},
	TierHigh:     {PriorityFee: 10_000},
	TierVeryHigh: {PriorityFee: 50_000},
}

// FeeTiers returns every tier of the fixed table, cheapest first.
func FeeTiers() []FeeTier {
	return []FeeTier{TierLow, TierMedium, TierHigh, TierVeryHigh}
}

// ParseFeeTier accepts the canonical names plus a few spellings used in configs.
func ParseFeeTier(s string) (FeeTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, nil
	case "", "medium", "default":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	case "very-high", "veryhigh", "very_high", "extreme":
		return TierVeryHigh, nil
	}
	return "", fmt.Errorf("unknown fee tier %q, want one of %v", s, FeeTiers())
}

// PriorityManager resolves fee tiers into compute budget instructions.
type PriorityManager struct {
	profiles map[FeeTier]PriorityConfig
	logger   *zap.Logger
}

func NewPriorityManager(logger *zap.Logger) *PriorityManager {
	return &PriorityManager{
		profiles: priorityProfiles,
		logger:   logger.Named("priority"),
	}
}

// Price returns the unit price for tier. Unknown tiers fall back to medium.
func (pm *PriorityManager) Price(tier FeeTier) uint64 {
	if cfg, ok := pm.profiles[tier]; ok {
		return cfg.PriorityFee
	}
	pm.logger.Debug("Unknown fee tier, using medium",
		zap.String("tier", string(tier)))
	return pm.profiles[TierMedium].PriorityFee
}

// LimitInstruction sets the compute unit limit.
func (pm *PriorityManager) LimitInstruction(units uint32) solana.Instruction {
	if units == 0 {
		units = DefaultComputeUnits
	}
	return computebudget.NewSetComputeUnitLimitInstruction(units).Build()
}

// PriceInstruction sets the compute unit price for tier.
func (pm *PriorityManager) PriceInstruction(tier FeeTier) solana.Instruction {
	return computebudget.NewSetComputeUnitPriceInstruction(pm.Price(tier)).Build()
}
