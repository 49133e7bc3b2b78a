package domain

import "context"

// SafetyFlags selects which pre-trade checks run. The zero value is not
// useful; use DefaultSafetyFlags.
type SafetyFlags struct {
	Simulation bool
	Liquidity  bool
	Authority  bool
	TopHolders bool
	Verified   bool
}

// DefaultSafetyFlags enables every check.
func DefaultSafetyFlags() SafetyFlags {
	return SafetyFlags{Simulation: true, Liquidity: true, Authority: true, TopHolders: true, Verified: true}
}

// CheckResult is one check's verdict.
type CheckResult struct {
	Key    string         `json:"key"`
	Label  string         `json:"label"`
	Passed bool           `json:"passed"`
	Reason string         `json:"reason,omitempty"`
	Detail string         `json:"detail,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Source string         `json:"source,omitempty"`
}

// SafetyReport aggregates the selected checks. Passed is the AND of every
// executed check; checks that soft-pass on oracle unavailability count as
// passed with Reason set.
type SafetyReport struct {
	Mint    string        `json:"mint"`
	Passed  bool          `json:"passed"`
	Results []CheckResult `json:"results"`
}

// FailedKeys returns the keys of the checks that failed.
func (r SafetyReport) FailedKeys() []string {
	var keys []string
	for _, c := range r.Results {
		if !c.Passed {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// SafetyCheck is one pluggable pre-trade verdict.
type SafetyCheck interface {
	Key() string
	Check(ctx context.Context, mint string) CheckResult
}
