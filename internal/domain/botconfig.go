package domain

import "fmt"

// CommonBotConfig carries the fields every strategy mode understands. The
// HTTP layer validates raw user input; the core receives parsed values.
type CommonBotConfig struct {
	WalletID         string
	WalletLabels     []string
	AmountToSpend    float64 // UI units of the input asset per trade
	SlippageBps      int
	MaxSlippagePct   float64 // reject quotes whose price impact exceeds this
	IntervalSec      int
	MaxTrades        int
	TakeProfit       float64 // percent
	StopLoss         float64 // percent
	HaltOnFailures   int
	MaxDailyVolume   float64 // UI units, 0 = unlimited
	MaxTokenAgeMin   int     // 0 = no age filter
	DisableSafety    bool
	SafetyChecks     *SafetyFlags
	DryRun           bool
}

// SniperConfig watches the new-listings feed for fresh mints.
type SniperConfig struct {
	EntryThresholdPct  float64 // min short-window price gain
	VolumeThresholdUSD float64
	LimitPrice         float64 // only buy at or below, 0 = unset
}

// ScalperConfig trades short price oscillations on a watched mint set.
type ScalperConfig struct {
	Mints           []string
	PriceWindowSec  int
	EntryDropPct    float64 // buy after a drop of at least this much
	VolumeFloorUSD  float64
}

// BreakoutConfig buys when price breaks above a recent range.
type BreakoutConfig struct {
	Mints          []string
	PriceWindowSec int
	BreakoutPct    float64
	VolumeFloorUSD float64
}

// TrendConfig follows sustained directional movement.
type TrendConfig struct {
	Mints          []string
	PriceWindowSec int
	MinTrendPct    float64
}

// DipConfig buys configured mints on sharp drawdowns.
type DipConfig struct {
	Mints      []string
	DipPct     float64
	WindowSec  int
}

// ChadConfig chases strong upward momentum regardless of age.
type ChadConfig struct {
	Mints         []string
	MomentumPct   float64
	WindowSec     int
}

// StealthForward controls when purchased funds are swept to cold storage.
type StealthForward string

const (
	ForwardNever    StealthForward = "never"
	ForwardOnEachBuy StealthForward = "onEachBuy"
	ForwardOnFinish StealthForward = "onFinish"
)

// StealthConfig splits buys over a wallet rotation with per-wallet jitter.
type StealthConfig struct {
	Mint               string
	SizeJitterPct      float64
	SlippageJitterPct  float64
	DelayMinMs         int
	DelayMaxMs         int
	AutoForward        StealthForward
	ForwardDestination string // cold wallet public key
	SolFloorLamports   uint64
}

// RebalancerConfig keeps portfolio weights near their targets.
type RebalancerConfig struct {
	TargetWeights map[string]float64 // mint -> weight (0..1)
	BandPct       float64            // rebalance when drift exceeds this
}

// RotationConfig rotates the position into the strongest of a candidate set.
type RotationConfig struct {
	Mints         []string
	WindowSec     int
	HoldMinutes   int
}

// BotConfig is the tagged per-mode configuration. Exactly one mode section is
// non-nil; Mode names it. Paper mode wraps any other section and routes
// executions through the simulated path.
type BotConfig struct {
	Mode   string
	Common CommonBotConfig

	Sniper     *SniperConfig
	Scalper    *ScalperConfig
	Breakout   *BreakoutConfig
	Trend      *TrendConfig
	Dip        *DipConfig
	Chad       *ChadConfig
	Stealth    *StealthConfig
	Rebalancer *RebalancerConfig
	Rotation   *RotationConfig
}

// Validate checks that the tagged section matches Mode and that the common
// numeric fields are sane.
func (c BotConfig) Validate() error {
	sections := map[string]bool{
		"sniper":     c.Sniper != nil,
		"scalper":    c.Scalper != nil,
		"breakout":   c.Breakout != nil,
		"trend":      c.Trend != nil,
		"dip":        c.Dip != nil,
		"chad":       c.Chad != nil,
		"stealth":    c.Stealth != nil,
		"rebalancer": c.Rebalancer != nil,
		"rotation":   c.Rotation != nil,
	}
	mode := c.Mode
	if mode == "paper" {
		// Paper wraps another section; require exactly one set.
		n := 0
		for _, set := range sections {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("paper config must carry exactly one strategy section, got %d", n)
		}
	} else {
		set, known := sections[mode]
		if !known {
			return fmt.Errorf("unknown bot mode %q", mode)
		}
		if !set {
			return fmt.Errorf("mode %q requires its config section", mode)
		}
		for name, s := range sections {
			if s && name != mode {
				return fmt.Errorf("mode %q carries extra %s section", mode, name)
			}
		}
	}
	if c.Common.AmountToSpend <= 0 && mode != "rebalancer" && mode != "rotation" {
		return fmt.Errorf("amountToSpend must be > 0")
	}
	if c.Common.IntervalSec <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.Common.WalletID == "" && len(c.Common.WalletLabels) == 0 {
		return fmt.Errorf("walletId or walletLabels required")
	}
	return nil
}
