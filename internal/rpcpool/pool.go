// Package rpcpool broadcasts signed transactions across multiple RPC
// endpoints. A round-robin cursor serves single-endpoint reads; quorum sends
// fan a raw transaction out to N endpoints with a small per-target stagger
// and resolve as soon as enough acknowledgements arrive.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/averylane/soltraderd/internal/domain"
)

// Defaults for quorum sends, overridable per call or via RPC_POOL_* env.
const (
	DefaultQuorum    = 1
	DefaultStaggerMs = 50
	DefaultTimeoutMs = 10_000

	jitterMaxMs = 5
)

// SentinelOK is returned when a quorum was reached but no sender produced a
// usable signature and no hint was supplied.
const SentinelOK = "ok"

// RawSender submits one raw transaction to a single endpoint.
type RawSender interface {
	SendRaw(ctx context.Context, raw []byte, skipPreflight bool) (string, error)
}

// Endpoint is one pool member with its send counters.
type Endpoint struct {
	URL    string
	sender RawSender

	successes atomic.Int64
	errors    atomic.Int64
}

// Successes returns the endpoint's acknowledged send count.
func (e *Endpoint) Successes() int64 { return e.successes.Load() }

// Errors returns the endpoint's failed send count.
func (e *Endpoint) Errors() int64 { return e.errors.Load() }

// solanaSender adapts a solana-go rpc client to RawSender.
type solanaSender struct {
	client *rpc.Client
}

func (s *solanaSender) SendRaw(ctx context.Context, raw []byte, skipPreflight bool) (string, error) {
	sig, err := s.client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// QuorumOpts tunes one quorum send. Zero fields fall back to the pool-level
// defaults.
type QuorumOpts struct {
	Quorum        int
	MaxFanout     int // 0 = all endpoints
	StaggerMs     int
	TimeoutMs     int
	SkipPreflight bool
	// TreatAlreadyProcessedAsOk counts "already processed" style errors as
	// acknowledgements: another endpoint beat this one to the leader.
	TreatAlreadyProcessedAsOk bool
	// SigHint is returned when no endpoint yields a parseable signature.
	SigHint string
}

// Pool is an ordered set of RPC endpoints.
type Pool struct {
	endpoints []*Endpoint
	cursor    atomic.Uint64
	logger    *slog.Logger
}

// New builds a Pool with one solana-go client per endpoint URL.
func New(urls []string, logger *slog.Logger) *Pool {
	p := &Pool{logger: logger.With(slog.String("component", "rpc_pool"))}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		p.endpoints = append(p.endpoints, &Endpoint{URL: u, sender: &solanaSender{client: rpc.New(u)}})
	}
	return p
}

// NewWithSenders builds a Pool over injected senders. Tests use it.
func NewWithSenders(urls []string, senders []RawSender, logger *slog.Logger) *Pool {
	p := &Pool{logger: logger.With(slog.String("component", "rpc_pool"))}
	for i, u := range urls {
		p.endpoints = append(p.endpoints, &Endpoint{URL: u, sender: senders[i]})
	}
	return p
}

// Size returns the endpoint count.
func (p *Pool) Size() int { return len(p.endpoints) }

// Endpoints returns the pool members for counter inspection.
func (p *Pool) Endpoints() []*Endpoint { return p.endpoints }

// Get returns the next endpoint round-robin, or nil when the pool is empty.
func (p *Pool) Get() *Endpoint {
	n := len(p.endpoints)
	if n == 0 {
		return nil
	}
	idx := p.cursor.Add(1) - 1
	return p.endpoints[idx%uint64(n)]
}

// alreadyProcessed matches error shapes indicating the transaction landed via
// another endpoint.
func alreadyProcessed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"already processed",
		"already known",
		"transaction signature already",
		"in block",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// looksLikeSignature accepts a plausible base58 transaction signature.
func looksLikeSignature(s string) bool {
	if len(s) < 80 || len(s) > 92 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz", r) {
			return false
		}
	}
	return true
}

type sendOutcome struct {
	idx int
	sig string
	err error
}

// SendRawTransactionQuorum fans raw out to up to MaxFanout endpoints starting
// at a rotating index, staggered by idx*StaggerMs plus 0-5ms jitter, and
// resolves once Quorum acknowledgements arrive. It returns the first base58
// signature observed, the SigHint, or SentinelOK, in that preference order.
//
// If the deadline passes with at least one success the call still resolves;
// with none it fails with the first error. When the outstanding sends can no
// longer reach quorum the call fails immediately.
func (p *Pool) SendRawTransactionQuorum(ctx context.Context, raw []byte, opts QuorumOpts) (string, error) {
	n := len(p.endpoints)
	if n == 0 {
		return "", fmt.Errorf("rpcpool: no endpoints configured")
	}

	quorum := opts.Quorum
	if quorum <= 0 {
		quorum = DefaultQuorum
	}
	fanout := opts.MaxFanout
	if fanout <= 0 || fanout > n {
		fanout = n
	}
	if quorum > fanout {
		quorum = fanout
	}
	staggerMs := opts.StaggerMs
	if staggerMs <= 0 {
		staggerMs = DefaultStaggerMs
	}
	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}

	start := int(p.cursor.Add(1)-1) % n
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan sendOutcome, fanout)
	var wg sync.WaitGroup
	for i := 0; i < fanout; i++ {
		ep := p.endpoints[(start+i)%n]
		delay := time.Duration(i*staggerMs)*time.Millisecond + time.Duration(rand.Intn(jitterMaxMs+1))*time.Millisecond
		wg.Add(1)
		go func(idx int, ep *Endpoint, delay time.Duration) {
			defer wg.Done()
			if delay > 0 {
				select {
				case <-sendCtx.Done():
					outcomes <- sendOutcome{idx: idx, err: sendCtx.Err()}
					return
				case <-time.After(delay):
				}
			}
			sig, err := ep.sender.SendRaw(sendCtx, raw, opts.SkipPreflight)
			if err != nil {
				ep.errors.Add(1)
			} else {
				ep.successes.Add(1)
			}
			outcomes <- sendOutcome{idx: idx, sig: sig, err: err}
		}(i, ep, delay)
	}
	go func() { wg.Wait(); close(outcomes) }()

	deadline := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer deadline.Stop()

	var (
		acks     int
		failures int
		firstSig string
		firstErr error
	)
	resolve := func() (string, error) {
		switch {
		case firstSig != "":
			return firstSig, nil
		case opts.SigHint != "":
			return opts.SigHint, nil
		default:
			return SentinelOK, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			if acks > 0 {
				return resolve()
			}
			return "", ctx.Err()

		case <-deadline.C:
			if acks > 0 {
				p.logger.Warn("quorum deadline with partial acks",
					slog.Int("acks", acks), slog.Int("quorum", quorum))
				return resolve()
			}
			if firstErr != nil {
				return "", fmt.Errorf("%w: %s", domain.ErrQuorumTimeout, firstErr.Error())
			}
			return "", domain.ErrQuorumTimeout

		case out, ok := <-outcomes:
			if !ok {
				// Every sender finished below quorum.
				if acks > 0 {
					return resolve()
				}
				if firstErr != nil {
					return "", firstErr
				}
				return "", domain.ErrQuorumTimeout
			}
			switch {
			case out.err == nil:
				acks++
				if firstSig == "" && looksLikeSignature(out.sig) {
					firstSig = out.sig
				}
			case opts.TreatAlreadyProcessedAsOk && alreadyProcessed(out.err):
				acks++
			case errors.Is(out.err, context.Canceled):
				failures++
			default:
				failures++
				if firstErr == nil {
					firstErr = out.err
				}
			}

			if acks >= quorum {
				return resolve()
			}
			// Short-circuit: remaining possible successes cannot reach quorum.
			if fanout-failures < quorum {
				if firstErr != nil {
					return "", firstErr
				}
				return "", fmt.Errorf("rpcpool: quorum unreachable (%d acks of %d needed)", acks, quorum)
			}
		}
	}
}
