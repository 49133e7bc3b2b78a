// Package executor is the arm-aware trade execution core. Every buy-side
// trade in the system funnels through ExecTrade, which applies the kill
// switch, duplicate and idempotency gates, per-mint cool-off, key custody,
// broadcast, enrichment, persistence, and alerting — strictly in that order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	"github.com/averylane/soltraderd/internal/arm"
	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/envelope"
	"github.com/averylane/soltraderd/internal/rpcpool"
)

const (
	// duplicateWindow is the pre-send duplicate guard lookback.
	duplicateWindow = 60 * time.Second

	decimalsCacheTTL = time.Hour
	priceCacheTTL    = 30 * time.Second

	sweepInterval = 60 * time.Second
)

// Strategies that manage their own exits and never get TP/SL rules installed.
var noTpSlStrategies = map[string]bool{
	"rotation":   true,
	"rebalancer": true,
}

// TradeMeta carries the per-call execution parameters.
type TradeMeta struct {
	UserID   string
	WalletID string
	Strategy string
	Category string
	BotID    string

	TP        float64
	SL        float64
	TPPercent float64
	SLPercent float64
	SellPct   float64 // TP/SL rule sell fraction, defaults to 1

	SlippageBps              int
	PriorityFeeMicroLamports *uint64 // nil = user default
	Turbo                    bool

	RPCEndpoints []string
	RPCQuorum    int
	RPCMaxFanout int
	RPCStaggerMs int
	RPCTimeoutMs int

	IdempotencyKey string
	IdempotencyTTL time.Duration
}

// ExecRequest is one trade attempt.
type ExecRequest struct {
	Quote     domain.Quote
	Mint      string
	Meta      TradeMeta
	Simulated bool
}

// TradeAlert is the structured message emitted after a persisted trade.
type TradeAlert struct {
	UserID    string
	Category  string
	Strategy  string
	Mint      string
	TxHash    string
	AmountUI  float64
	USDValue  float64
	ImpactPct float64
	Simulated bool
}

// Alerter delivers trade alerts to the UI / Telegram fan-out.
type Alerter interface {
	TradeExecuted(ctx context.Context, a TradeAlert)
}

// Deps bundles the executor's collaborators.
type Deps struct {
	Wallets   domain.WalletStore
	Users     domain.UserStore
	Trades    domain.TradeStore
	Rules     domain.TpSlRuleStore
	ArmCache  *arm.Cache
	LegacyKey []byte // process-wide legacy wallet key, may be nil
	Swaps     domain.SwapExecutor
	Oracle    domain.PriceOracle
	TokenMeta domain.TokenMetaSource
	Prices    domain.PriceCache
	Decimals  domain.DecimalsCache
	Pool      *rpcpool.Pool
	RPC       *rpc.Client // direct connection for balance reads and sweeps
	Alerter   Alerter

	// QuorumDefaults seeds the broadcast fan-out from operator config.
	// Non-zero per-call meta fields override individual values.
	QuorumDefaults rpcpool.QuorumOpts
}

// Executor is safe for concurrent use by many bot runtimes.
type Executor struct {
	deps       Deps
	gate       *IdempotencyGate
	coolOff    *CoolOffMap
	reducer    Reducer
	killSwitch atomic.Bool
	logger     *slog.Logger

	// newPool builds a pool for per-call endpoint overrides; tests replace it.
	newPool func(urls []string) *rpcpool.Pool
}

// New creates an Executor.
func New(deps Deps, logger *slog.Logger) *Executor {
	e := &Executor{
		deps:    deps,
		gate:    NewIdempotencyGate(),
		coolOff: NewCoolOffMap(0),
		logger:  logger.With(slog.String("component", "executor")),
	}
	e.newPool = func(urls []string) *rpcpool.Pool { return rpcpool.New(urls, logger) }
	return e
}

// SetKillSwitch flips the process-wide trade rejection flag.
func (e *Executor) SetKillSwitch(on bool) { e.killSwitch.Store(on) }

// KillSwitch reports the flag.
func (e *Executor) KillSwitch() bool { return e.killSwitch.Load() }

// Run sweeps the gates until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.gate.Cleanup()
			e.coolOff.Cleanup()
		}
	}
}

// ExecTrade runs one trade attempt. It returns the transaction hash, or ""
// with a nil error when the attempt was suppressed by the idempotency gate.
// Duplicate-guard hits return the existing txHash and do no new work.
func (e *Executor) ExecTrade(ctx context.Context, req ExecRequest) (string, error) {
	meta := req.Meta
	log := e.logger.With(
		slog.String("user_id", meta.UserID),
		slog.String("wallet_id", meta.WalletID),
		slog.String("mint", req.Mint),
		slog.String("strategy", meta.Strategy),
	)

	// 1. Kill switch.
	if e.killSwitch.Load() && !req.Simulated {
		return "", domain.ErrKillSwitchActive
	}

	// 2. Pre-send duplicate guard.
	key := domain.PositionKey{UserID: meta.UserID, WalletID: meta.WalletID, Mint: req.Mint, Strategy: meta.Strategy}
	if prev, err := e.deps.Trades.RecentBuy(ctx, key, time.Now().Add(-duplicateWindow)); err == nil {
		log.Info("duplicate guard hit, returning existing trade", slog.String("tx", prev.TxHash))
		return prev.TxHash, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("executor: duplicate guard: %w", err)
	}

	// 3. Idempotency gate.
	idemKey := meta.IdempotencyKey
	if idemKey == "" {
		idemKey = DeriveIdempotencyKey(meta.UserID, meta.WalletID, meta.Strategy, req.Mint, req.Quote.InAmount, time.Now())
	}
	if cached, suppress := e.gate.Begin(idemKey, meta.IdempotencyTTL); suppress {
		log.Debug("idempotency suppression", slog.String("key", idemKey), slog.Bool("cached", cached != ""))
		return cached, nil
	}

	// 4. Per-mint cool-off.
	if e.coolOff.Active(req.Mint) {
		e.gate.Clear(idemKey)
		return "", fmt.Errorf("%w: %s", domain.ErrCoolOffActive, req.Mint)
	}

	// 5. Key acquisition.
	wallet, err := e.deps.Wallets.GetByID(ctx, meta.WalletID)
	if err != nil {
		e.gate.Clear(idemKey)
		return "", fmt.Errorf("executor: loading wallet: %w", err)
	}

	prefs, err := e.deps.Users.GetPreferences(ctx, meta.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.gate.Clear(idemKey)
		return "", fmt.Errorf("executor: loading preferences: %w", err)
	}

	var pk []byte
	if !req.Simulated {
		pk, err = e.loadKey(wallet)
		if err != nil {
			e.gate.Clear(idemKey)
			return "", err
		}
	}

	// 6. MEV parameter resolution.
	shared := prefs.MEVMode == domain.MEVModeSecure
	priorityFee := prefs.DefaultPriorityFee
	if meta.PriorityFeeMicroLamports != nil {
		priorityFee = *meta.PriorityFeeMicroLamports
	}
	bribery := prefs.BriberyAmount

	// 7. Broadcast.
	var txHash string
	if req.Simulated {
		txHash = "sim-" + uuid.New().String()
	} else {
		txHash, err = e.broadcast(ctx, req, pk, shared, priorityFee, bribery)
		envelope.Zeroize(pk)
		if err != nil {
			e.coolOff.Trip(req.Mint)
			e.gate.Clear(idemKey)
			log.Warn("swap failed, cool-off set", slog.String("error", err.Error()))
			return "", err
		}
	}

	// 8. Enrichment.
	inDecimals := e.decimals(ctx, req.Quote.InputMint)
	outDecimals := e.decimals(ctx, req.Quote.OutputMint)
	inUSD := e.inputUSDPrice(ctx, req.Quote.InputMint)

	inUi := float64(req.Quote.InAmount) / math.Pow10(inDecimals)
	outUi := float64(req.Quote.OutAmount) / math.Pow10(outDecimals)
	entryPrice := 0.0
	if outUi > 0 {
		entryPrice = inUi / outUi
	}
	entryPriceUSD := entryPrice * inUSD
	usdValue := inUi * inUSD

	// 9. Persist the lot.
	trade := domain.Trade{
		ID:            uuid.New().String(),
		UserID:        meta.UserID,
		WalletID:      meta.WalletID,
		WalletLabel:   wallet.Label,
		Strategy:      meta.Strategy,
		BotID:         meta.BotID,
		Mint:          req.Mint,
		Side:          domain.SideBuy,
		InAmount:      req.Quote.InAmount,
		OutAmount:     req.Quote.OutAmount,
		EntryPrice:    entryPrice,
		EntryPriceUSD: entryPriceUSD,
		Unit:          domain.UnitForMint(req.Quote.InputMint),
		Decimals:      outDecimals,
		USDValue:      usdValue,
		SlippageBps:   meta.SlippageBps,
		MEVMode:       prefs.MEVMode,
		PriorityFee:   priorityFee,
		BriberyAmount: bribery,
		InputMint:     req.Quote.InputMint,
		OutputMint:    req.Quote.OutputMint,
		TxHash:        txHash,
		Simulated:     req.Simulated,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.deps.Trades.Create(ctx, trade); err != nil {
		// The swap landed; cache the hash so a retry suppressed inside the
		// idempotency window still surfaces it instead of an empty result.
		e.gate.StoreResult(idemKey, txHash, meta.IdempotencyTTL)
		return "", fmt.Errorf("executor: persisting trade: %w", err)
	}

	// 10. TP/SL rule.
	if (meta.TP != 0 || meta.SL != 0 || meta.TPPercent != 0 || meta.SLPercent != 0) && !noTpSlStrategies[meta.Strategy] {
		sellPct := meta.SellPct
		if sellPct <= 0 || sellPct > 1 {
			sellPct = 1
		}
		rule := domain.TpSlRule{
			ID:         uuid.New().String(),
			UserID:     meta.UserID,
			WalletID:   meta.WalletID,
			Mint:       req.Mint,
			Strategy:   meta.Strategy,
			TP:         meta.TP,
			SL:         meta.SL,
			TPPercent:  meta.TPPercent,
			SLPercent:  meta.SLPercent,
			EntryPrice: entryPrice,
			SellPct:    sellPct,
			Enabled:    true,
			Status:     domain.RuleActive,
		}
		if err := e.deps.Rules.Upsert(ctx, rule); err != nil {
			log.Warn("tp/sl rule upsert failed", slog.String("error", err.Error()))
		}
	}

	// 11. Idempotency result cache.
	e.gate.StoreResult(idemKey, txHash, meta.IdempotencyTTL)

	// 12. Alert.
	if e.deps.Alerter != nil {
		e.deps.Alerter.TradeExecuted(ctx, TradeAlert{
			UserID:    meta.UserID,
			Category:  meta.Category,
			Strategy:  meta.Strategy,
			Mint:      req.Mint,
			TxHash:    txHash,
			AmountUI:  inUi,
			USDValue:  usdValue,
			ImpactPct: req.Quote.PriceImpactPct,
			Simulated: req.Simulated,
		})
	}

	log.Info("trade executed",
		slog.String("tx", txHash),
		slog.Bool("simulated", req.Simulated),
		slog.Float64("usd_value", usdValue),
	)
	return txHash, nil
}

// loadKey resolves the wallet's signing key. Envelope wallets require a live
// arm session; legacy wallets decrypt under the process key. The caller owns
// the returned buffer and must zeroise it.
func (e *Executor) loadKey(wallet domain.Wallet) ([]byte, error) {
	aad := wallet.AAD()

	if wallet.Envelope != nil {
		dek := e.deps.ArmCache.GetDEK(wallet.UserID, wallet.ID)
		if dek == nil {
			// Protected wallets and require-arm users surface the arm prompt;
			// either way there is no DEK to decrypt with.
			return nil, domain.ErrAutomationNotArmed
		}
		pk, err := envelope.DecryptPrivateKey(wallet.Envelope, dek, aad)
		if err != nil {
			return nil, fmt.Errorf("executor: envelope decrypt: %w", err)
		}
		return pk, nil
	}

	if wallet.LegacyCiphertext == "" {
		return nil, fmt.Errorf("executor: wallet %s has no key material: %w", wallet.ID, domain.ErrBadInput)
	}
	if len(e.deps.LegacyKey) == 0 {
		return nil, fmt.Errorf("executor: legacy wallet %s but no legacy key configured: %w", wallet.ID, domain.ErrBadInput)
	}
	return envelope.DecryptLegacy(wallet.LegacyCiphertext, e.deps.LegacyKey)
}

// broadcast configures the quorum sender from the operator defaults plus any
// per-call meta overrides, then submits the swap.
func (e *Executor) broadcast(ctx context.Context, req ExecRequest, pk []byte, shared bool, priorityFee, bribery uint64) (string, error) {
	meta := req.Meta

	pool := e.deps.Pool
	if len(meta.RPCEndpoints) > 0 {
		pool = e.newPool(meta.RPCEndpoints)
	}

	var sendRaw domain.RawSendFunc
	if pool != nil && pool.Size() > 0 {
		opts := e.deps.QuorumDefaults
		opts.SkipPreflight = meta.Turbo
		opts.TreatAlreadyProcessedAsOk = true
		if meta.RPCQuorum > 0 {
			opts.Quorum = meta.RPCQuorum
		}
		if meta.RPCMaxFanout > 0 {
			opts.MaxFanout = meta.RPCMaxFanout
		}
		if meta.RPCStaggerMs > 0 {
			opts.StaggerMs = meta.RPCStaggerMs
		}
		if meta.RPCTimeoutMs > 0 {
			opts.TimeoutMs = meta.RPCTimeoutMs
		}
		sendRaw = func(ctx context.Context, raw []byte, sigHint string) (string, error) {
			o := opts
			o.SigHint = sigHint
			return pool.SendRawTransactionQuorum(ctx, raw, o)
		}
	}

	swapReq := domain.SwapRequest{
		Quote:                         req.Quote,
		PrivateKey:                    pk,
		Shared:                        shared,
		ComputeUnitPriceMicroLamports: priorityFee,
		TipLamports:                   bribery,
		SendRaw:                       sendRaw,
	}
	if meta.Turbo {
		return e.deps.Swaps.ExecuteSwapTurbo(ctx, swapReq)
	}
	return e.deps.Swaps.ExecuteSwap(ctx, swapReq)
}

// decimals resolves mint decimals through the 1h cache.
func (e *Executor) decimals(ctx context.Context, mint string) int {
	if mint == domain.MintSOL {
		return 9
	}
	if mint == domain.MintUSDC {
		return 6
	}
	if e.deps.Decimals != nil {
		if d, err := e.deps.Decimals.GetDecimals(ctx, mint); err == nil {
			return d
		}
	}
	meta, err := e.deps.TokenMeta.GetTokenMeta(ctx, mint)
	if err != nil {
		e.logger.Warn("decimals lookup failed, assuming 9", slog.String("mint", mint), slog.String("error", err.Error()))
		return 9
	}
	if e.deps.Decimals != nil {
		_ = e.deps.Decimals.SetDecimals(ctx, mint, meta.Decimals, decimalsCacheTTL)
	}
	return meta.Decimals
}

// inputUSDPrice resolves the input mint's USD price through the 30s cache.
func (e *Executor) inputUSDPrice(ctx context.Context, mint string) float64 {
	if e.deps.Prices != nil {
		if p, err := e.deps.Prices.GetPrice(ctx, mint); err == nil {
			return p.PriceUSD
		}
	}
	p, err := e.deps.Oracle.GetPrice(ctx, mint)
	if err != nil {
		e.logger.Debug("input price lookup failed", slog.String("mint", mint), slog.String("error", err.Error()))
		return 0
	}
	if e.deps.Prices != nil {
		_ = e.deps.Prices.SetPrice(ctx, mint, p, priceCacheTTL)
	}
	return p.PriceUSD
}
