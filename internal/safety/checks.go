package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// Check keys.
const (
	CheckSimulation = "simulation"
	CheckLiquidity  = "liquidity"
	CheckAuthority  = "authority"
	CheckTopHolders = "topHolders"
	CheckVerified   = "verified"
)

// Tunable defaults.
const (
	// simProbeLamports is the exact-in probe size: 0.005 SOL.
	simProbeLamports     = 5_000_000
	defaultMaxImpactPct  = 5.0
	defaultMinOutTokens  = 5
	defaultMinLiquidity  = 5_000.0
	liquidityCacheTTL    = 30 * time.Second
	defaultMaxHolderPct  = 0.80
)

// softPass builds the verdict for an unreachable upstream.
func softPass(key, label string, err error) domain.CheckResult {
	return domain.CheckResult{
		Key:    key,
		Label:  label,
		Passed: true,
		Reason: "check unavailable: " + err.Error(),
	}
}

// SimulationCheck quotes a small probe swap and fails on excessive price
// impact or a dust-level output.
type SimulationCheck struct {
	Quotes       domain.QuoteSource
	MaxImpactPct float64
	MinOutTokens uint64
}

func (c *SimulationCheck) Key() string { return CheckSimulation }

func (c *SimulationCheck) Check(ctx context.Context, mint string) domain.CheckResult {
	maxImpact := c.MaxImpactPct
	if maxImpact <= 0 {
		maxImpact = defaultMaxImpactPct
	}
	minOut := c.MinOutTokens
	if minOut == 0 {
		minOut = defaultMinOutTokens
	}

	quote, err := c.Quotes.GetQuote(ctx, domain.QuoteRequest{
		InputMint:  domain.MintSOL,
		OutputMint: mint,
		Amount:     simProbeLamports,
	})
	if err != nil {
		return softPass(CheckSimulation, "Swap simulation", err)
	}
	if quote.PriceImpactPct > maxImpact {
		return domain.CheckResult{
			Key:    CheckSimulation,
			Label:  "Swap simulation",
			Passed: false,
			Reason: fmt.Sprintf("price impact %.2f%% exceeds %.2f%%", quote.PriceImpactPct, maxImpact),
		}
	}
	if quote.OutAmount < minOut {
		return domain.CheckResult{
			Key:    CheckSimulation,
			Label:  "Swap simulation",
			Passed: false,
			Reason: fmt.Sprintf("probe output %d below minimum %d", quote.OutAmount, minOut),
		}
	}
	return domain.CheckResult{Key: CheckSimulation, Label: "Swap simulation", Passed: true}
}

// LiquidityCheck requires a minimum USD liquidity, cached per mint for 30s.
type LiquidityCheck struct {
	Oracle       domain.PriceOracle
	Cache        domain.PriceCache
	MinLiquidity float64
}

func (c *LiquidityCheck) Key() string { return CheckLiquidity }

func (c *LiquidityCheck) Check(ctx context.Context, mint string) domain.CheckResult {
	min := c.MinLiquidity
	if min <= 0 {
		min = defaultMinLiquidity
	}

	var price domain.TokenPrice
	var err error
	if c.Cache != nil {
		if cached, cacheErr := c.Cache.GetPrice(ctx, mint); cacheErr == nil {
			price = cached
			err = nil
		} else {
			price, err = c.Oracle.GetPrice(ctx, mint)
			if err == nil {
				_ = c.Cache.SetPrice(ctx, mint, price, liquidityCacheTTL)
			}
		}
	} else {
		price, err = c.Oracle.GetPrice(ctx, mint)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CheckResult{
				Key: CheckLiquidity, Label: "Liquidity", Passed: false,
				Reason: "mint unknown to price oracle",
			}
		}
		return softPass(CheckLiquidity, "Liquidity", err)
	}
	if price.LiquidityUSD < min {
		return domain.CheckResult{
			Key: CheckLiquidity, Label: "Liquidity", Passed: false,
			Reason: fmt.Sprintf("liquidity $%.0f below $%.0f", price.LiquidityUSD, min),
			Data:   map[string]any{"liquidityUsd": price.LiquidityUSD},
		}
	}
	return domain.CheckResult{
		Key: CheckLiquidity, Label: "Liquidity", Passed: true,
		Data: map[string]any{"liquidityUsd": price.LiquidityUSD},
	}
}

// AuthorityCheck passes only when mint and freeze authorities are both
// renounced. The meta source is oracle-first with a direct RPC fallback; the
// verdict is tagged with its source.
type AuthorityCheck struct {
	Meta domain.TokenMetaSource
}

func (c *AuthorityCheck) Key() string { return CheckAuthority }

func (c *AuthorityCheck) Check(ctx context.Context, mint string) domain.CheckResult {
	meta, err := c.Meta.GetTokenMeta(ctx, mint)
	if err != nil {
		return softPass(CheckAuthority, "Mint & freeze authority", err)
	}
	result := domain.CheckResult{
		Key:    CheckAuthority,
		Label:  "Mint & freeze authority",
		Source: "oracle+rpc",
	}
	switch {
	case meta.MintAuthority && meta.FreezeAuthority:
		result.Reason = "mint and freeze authority still held"
	case meta.MintAuthority:
		result.Reason = "mint authority still held"
	case meta.FreezeAuthority:
		result.Reason = "freeze authority still held"
	default:
		result.Passed = true
	}
	return result
}

// TopHoldersCheck fails when the top holders control too much supply.
type TopHoldersCheck struct {
	Meta         domain.TokenMetaSource
	MaxHolderPct float64
}

func (c *TopHoldersCheck) Key() string { return CheckTopHolders }

func (c *TopHoldersCheck) Check(ctx context.Context, mint string) domain.CheckResult {
	max := c.MaxHolderPct
	if max <= 0 {
		max = defaultMaxHolderPct
	}
	meta, err := c.Meta.GetTokenMeta(ctx, mint)
	if err != nil {
		return softPass(CheckTopHolders, "Holder concentration", err)
	}
	if meta.TopHolderPct > max {
		return domain.CheckResult{
			Key: CheckTopHolders, Label: "Holder concentration", Passed: false,
			Reason: fmt.Sprintf("top holders own %.0f%% (limit %.0f%%)", meta.TopHolderPct*100, max*100),
			Data:   map[string]any{"topHolderPct": meta.TopHolderPct},
		}
	}
	return domain.CheckResult{
		Key: CheckTopHolders, Label: "Holder concentration", Passed: true,
		Data: map[string]any{"topHolderPct": meta.TopHolderPct},
	}
}

// VerifiedCheck requires metadata extensions (socials, coingecko listing).
type VerifiedCheck struct {
	Meta domain.TokenMetaSource
}

func (c *VerifiedCheck) Key() string { return CheckVerified }

func (c *VerifiedCheck) Check(ctx context.Context, mint string) domain.CheckResult {
	meta, err := c.Meta.GetTokenMeta(ctx, mint)
	if err != nil {
		return softPass(CheckVerified, "Verified metadata", err)
	}
	if !meta.HasSocials {
		return domain.CheckResult{
			Key: CheckVerified, Label: "Verified metadata", Passed: false,
			Reason: "no social or registry extensions",
		}
	}
	return domain.CheckResult{Key: CheckVerified, Label: "Verified metadata", Passed: true}
}
