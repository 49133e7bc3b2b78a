package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrKillSwitchActive   = errors.New("kill switch active")
	ErrAutomationNotArmed = errors.New("automation not armed")
	ErrCoolOffActive      = errors.New("cool-off active")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrBadInput           = errors.New("bad input")
	ErrQuorumTimeout      = errors.New("quorum timeout")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrLockHeld           = errors.New("lock already held")
)

// SafetyError marks a candidate that failed a pre-trade check. Strategies skip
// the candidate without counting it toward the failure limit.
type SafetyError struct {
	Rule   string
	Reason string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("safety check %s failed: %s", e.Rule, e.Reason)
}

// FailureClass buckets swap failures for retry and alerting decisions.
type FailureClass string

const (
	FailureUser    FailureClass = "USER"
	FailureNet     FailureClass = "NET"
	FailureUnknown FailureClass = "UNKNOWN"
)

// SwapError wraps a failed swap submission with its classification.
type SwapError struct {
	Class  FailureClass
	Detail string
	Err    error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap failed (%s): %s", e.Class, e.Detail)
}

func (e *SwapError) Unwrap() error { return e.Err }

// ClassifySwapFailure maps an error message onto a FailureClass. Slippage and
// balance problems are user-recoverable; blockhash and rate-limit problems are
// network-transient.
func ClassifySwapFailure(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "slippage"),
		strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "0x1771"): // Jupiter slippage custom error
		return FailureUser
	case strings.Contains(msg, "blockhash"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"):
		return FailureNet
	default:
		return FailureUnknown
	}
}
