package ledger

import (
	"fmt"
	"math"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethereum/go-ethereum/params"
)

// FeeMode selects the transaction envelope.
type FeeMode string

const (
	FeeModeLegacy  FeeMode = "legacy"
	FeeModeDynamic FeeMode = "dynamic"
)

// FeePolicy decides gas limit and price for attestation transactions.
// Zero prices mean "ask the node".
type FeePolicy struct {
	Mode               FeeMode `yaml:"mode"`
	GasLimit           uint64  `yaml:"gas_limit"`
	GasPriceGwei       float64 `yaml:"gas_price_gwei"`
	TipCapGwei         float64 `yaml:"tip_cap_gwei"`
	FeeCapGwei         float64 `yaml:"fee_cap_gwei"`
	Estimate           bool    `yaml:"estimate"`
	EstimateMultiplier float64 `yaml:"estimate_multiplier"`
	GasLimitCeiling    uint64  `yaml:"gas_limit_ceiling"`
}

// DefaultFeePolicy matches the fixed limit and price the registry has always used.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		Mode:               FeeModeLegacy,
		GasLimit:           2_000_000,
		GasPriceGwei:       50,
		EstimateMultiplier: 1.2,
		GasLimitCeiling:    5_000_000,
	}
}

// LoadFeePolicy overlays a YAML file on the defaults.
func LoadFeePolicy(path string) (FeePolicy, error) {
	policy := DefaultFeePolicy()
	raw, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read fee policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return policy, fmt.Errorf("parse fee policy: %w", err)
	}
	return policy, policy.Validate()
}

func (p FeePolicy) Validate() error {
	switch p.Mode {
	case FeeModeLegacy, FeeModeDynamic:
	default:
		return fmt.Errorf("unknown fee mode %q", p.Mode)
	}
	if !p.Estimate && p.GasLimit == 0 {
		return fmt.Errorf("gas_limit is required when estimation is off")
	}
	if p.Estimate && p.EstimateMultiplier < 1 {
		return fmt.Errorf("estimate_multiplier must be >= 1")
	}
	if p.GasLimitCeiling != 0 && p.GasLimit > p.GasLimitCeiling {
		return fmt.Errorf("gas_limit exceeds gas_limit_ceiling")
	}
	return nil
}

// gasFromEstimate scales an estimate and clamps it to the ceiling.
func (p FeePolicy) gasFromEstimate(estimate uint64) uint64 {
	scaled := uint64(math.Ceil(float64(estimate) * p.EstimateMultiplier))
	if p.GasLimitCeiling != 0 && scaled > p.GasLimitCeiling {
		return p.GasLimitCeiling
	}
	return scaled
}

func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei)).Int(nil)
	return wei
}
