// Package safety runs the composable pre-trade checks. Each check returns a
// structured verdict; the engine ANDs the selected checks. A check that
// cannot reach its upstream oracle soft-passes with a reason — availability
// failures must never block trading on their own.
package safety

import (
	"context"
	"log/slog"

	"github.com/averylane/soltraderd/internal/domain"
)

// Engine evaluates the selected safety checks for a mint.
type Engine struct {
	checks map[string]domain.SafetyCheck
	order  []string
	logger *slog.Logger
}

// NewEngine creates an Engine over the given checks, evaluated in order.
func NewEngine(logger *slog.Logger, checks ...domain.SafetyCheck) *Engine {
	e := &Engine{
		checks: make(map[string]domain.SafetyCheck, len(checks)),
		logger: logger.With(slog.String("component", "safety")),
	}
	for _, c := range checks {
		if _, dup := e.checks[c.Key()]; dup {
			continue
		}
		e.checks[c.Key()] = c
		e.order = append(e.order, c.Key())
	}
	return e
}

// selected maps flag selection onto check keys.
func selected(flags domain.SafetyFlags) map[string]bool {
	return map[string]bool{
		CheckSimulation: flags.Simulation,
		CheckLiquidity:  flags.Liquidity,
		CheckAuthority:  flags.Authority,
		CheckTopHolders: flags.TopHolders,
		CheckVerified:   flags.Verified,
	}
}

// Evaluate runs the checks enabled by flags and aggregates the verdicts.
func (e *Engine) Evaluate(ctx context.Context, mint string, flags domain.SafetyFlags) domain.SafetyReport {
	report := domain.SafetyReport{Mint: mint, Passed: true}
	want := selected(flags)

	for _, key := range e.order {
		if !want[key] {
			continue
		}
		result := e.checks[key].Check(ctx, mint)
		report.Results = append(report.Results, result)
		if !result.Passed {
			report.Passed = false
		}
	}

	if !report.Passed {
		e.logger.Debug("safety failed",
			slog.String("mint", mint),
			slog.Any("failed", report.FailedKeys()),
		)
	}
	return report
}
