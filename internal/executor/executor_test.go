package executor

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/averylane/soltraderd/internal/arm"
	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/envelope"
	"github.com/averylane/soltraderd/internal/rpcpool"
)

const testMint = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"

type fakeWallets struct {
	wallets map[string]domain.Wallet
}

func (f *fakeWallets) GetByID(_ context.Context, id string) (domain.Wallet, error) {
	w, ok := f.wallets[id]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}
func (f *fakeWallets) GetActive(context.Context, string) (domain.Wallet, error) {
	return domain.Wallet{}, domain.ErrNotFound
}
func (f *fakeWallets) GetByLabel(context.Context, string, string) (domain.Wallet, error) {
	return domain.Wallet{}, domain.ErrNotFound
}
func (f *fakeWallets) ListByUser(context.Context, string) ([]domain.Wallet, error) {
	return nil, nil
}

type fakeUsers struct {
	prefs domain.UserPreference
}

func (f *fakeUsers) GetPreferences(context.Context, string) (domain.UserPreference, error) {
	return f.prefs, nil
}
func (f *fakeUsers) GetTelegramPreference(context.Context, string) (domain.TelegramPreference, error) {
	return domain.TelegramPreference{}, domain.ErrNotFound
}

type fakeTrades struct {
	recent    *domain.Trade
	created   []domain.Trade
	createErr error
}

func (f *fakeTrades) Create(_ context.Context, t domain.Trade) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, t)
	return nil
}
func (f *fakeTrades) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (f *fakeTrades) RecentBuy(context.Context, domain.PositionKey, time.Time) (domain.Trade, error) {
	if f.recent != nil {
		return *f.recent, nil
	}
	return domain.Trade{}, domain.ErrNotFound
}
func (f *fakeTrades) ListOpen(context.Context, domain.PositionKey) ([]domain.Trade, error) {
	return nil, nil
}
func (f *fakeTrades) ListOpenByUser(context.Context, string) ([]domain.Trade, error) {
	return nil, nil
}
func (f *fakeTrades) ListActiveUsers(context.Context) ([]string, error) { return nil, nil }
func (f *fakeTrades) SumDailyVolume(context.Context, string, string, time.Time) (float64, error) {
	return 0, nil
}

type fakeRules struct {
	upserted []domain.TpSlRule
}

func (f *fakeRules) Upsert(_ context.Context, r domain.TpSlRule) error {
	f.upserted = append(f.upserted, r)
	return nil
}
func (f *fakeRules) ListEnabled(context.Context) ([]domain.TpSlRule, error) { return nil, nil }
func (f *fakeRules) Claim(context.Context, string) (bool, error)            { return true, nil }
func (f *fakeRules) Release(context.Context, string, bool) error            { return nil }
func (f *fakeRules) Reactivate(context.Context, string) error               { return nil }
func (f *fakeRules) DeleteForPosition(context.Context, domain.PositionKey) error {
	return nil
}

type fakeSwaps struct {
	sig        string
	err        error
	calls      int
	turboCalls int
	lastReq    domain.SwapRequest
	lastKey    []byte
}

func (f *fakeSwaps) execute(req domain.SwapRequest) (string, error) {
	f.calls++
	f.lastReq = req
	// The executor zeroises the key buffer right after the call.
	f.lastKey = append([]byte(nil), req.PrivateKey...)
	return f.sig, f.err
}
func (f *fakeSwaps) ExecuteSwap(_ context.Context, req domain.SwapRequest) (string, error) {
	return f.execute(req)
}
func (f *fakeSwaps) ExecuteSwapTurbo(_ context.Context, req domain.SwapRequest) (string, error) {
	f.turboCalls++
	return f.execute(req)
}

type fakeOracle struct {
	price float64
}

func (f *fakeOracle) GetPrice(_ context.Context, mint string) (domain.TokenPrice, error) {
	return domain.TokenPrice{Mint: mint, PriceUSD: f.price}, nil
}
func (f *fakeOracle) GetPrices(_ context.Context, mints []string) (map[string]domain.TokenPrice, error) {
	out := make(map[string]domain.TokenPrice, len(mints))
	for _, m := range mints {
		out[m] = domain.TokenPrice{Mint: m, PriceUSD: f.price}
	}
	return out, nil
}

type fakeMeta struct {
	decimals int
}

func (f *fakeMeta) GetTokenMeta(_ context.Context, mint string) (domain.TokenMeta, error) {
	return domain.TokenMeta{Mint: mint, Decimals: f.decimals}, nil
}

type fakeAlerter struct {
	alerts []TradeAlert
}

func (f *fakeAlerter) TradeExecuted(_ context.Context, a TradeAlert) {
	f.alerts = append(f.alerts, a)
}

type fakeReducer struct {
	req    domain.ReduceRequest
	result domain.ReduceResult
	err    error
	calls  int
}

func (f *fakeReducer) Reduce(_ context.Context, req domain.ReduceRequest) (domain.ReduceResult, error) {
	f.calls++
	f.req = req
	return f.result, f.err
}

// execEnv bundles an executor with every fake behind it.
type execEnv struct {
	exec    *Executor
	wallets *fakeWallets
	users   *fakeUsers
	trades  *fakeTrades
	rules   *fakeRules
	swaps   *fakeSwaps
	alerter *fakeAlerter
	armed   *arm.Cache
	legacy  []byte
}

func sealUnderKey(t *testing.T, key, plaintext []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("iv: %v", err)
	}
	return base64.StdEncoding.EncodeToString(append(iv, gcm.Seal(nil, iv, plaintext, nil)...))
}

// newExecEnv builds an executor around a legacy wallet u1/w1 whose keypair is
// 64 bytes of 0x42, sealed under a process legacy key.
func newExecEnv(t *testing.T) *execEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	legacy := bytes.Repeat([]byte{0x10}, 32)
	keypair := bytes.Repeat([]byte{0x42}, 64)

	env := &execEnv{
		wallets: &fakeWallets{wallets: map[string]domain.Wallet{
			"w1": {
				ID:               "w1",
				UserID:           "u1",
				Label:            "main",
				LegacyCiphertext: sealUnderKey(t, legacy, keypair),
			},
		}},
		users:   &fakeUsers{prefs: domain.UserPreference{UserID: "u1"}},
		trades:  &fakeTrades{},
		rules:   &fakeRules{},
		swaps:   &fakeSwaps{sig: "5xTxHash"},
		alerter: &fakeAlerter{},
		armed:   arm.NewCache(logger),
		legacy:  legacy,
	}
	env.exec = New(Deps{
		Wallets:   env.wallets,
		Users:     env.users,
		Trades:    env.trades,
		Rules:     env.rules,
		ArmCache:  env.armed,
		LegacyKey: legacy,
		Swaps:     env.swaps,
		Oracle:    &fakeOracle{price: 200},
		TokenMeta: &fakeMeta{decimals: 6},
		Alerter:   env.alerter,
	}, logger)
	return env
}

func buyRequest() ExecRequest {
	return ExecRequest{
		Quote: domain.Quote{
			InputMint:  domain.MintSOL,
			OutputMint: testMint,
			InAmount:   1_000_000_000, // 1 SOL
			OutAmount:  4_000_000,     // 4 tokens at 6 decimals
		},
		Mint: testMint,
		Meta: TradeMeta{UserID: "u1", WalletID: "w1", Strategy: "sniper", Category: "trade"},
	}
}

func TestExecTradePersistsAndEnriches(t *testing.T) {
	env := newExecEnv(t)

	tx, err := env.exec.ExecTrade(context.Background(), buyRequest())
	if err != nil {
		t.Fatalf("ExecTrade: %v", err)
	}
	if tx != "5xTxHash" {
		t.Fatalf("tx = %q", tx)
	}
	if env.swaps.calls != 1 {
		t.Fatalf("swap calls = %d", env.swaps.calls)
	}
	if !bytes.Equal(env.swaps.lastKey, bytes.Repeat([]byte{0x42}, 64)) {
		t.Fatal("swap did not receive the decrypted keypair")
	}

	if len(env.trades.created) != 1 {
		t.Fatalf("trades persisted = %d", len(env.trades.created))
	}
	trade := env.trades.created[0]
	// 1 SOL at $200 buying 4 tokens: entry 0.25 SOL, $50 per token, $200 lot.
	if trade.EntryPrice != 0.25 || trade.EntryPriceUSD != 50 || trade.USDValue != 200 {
		t.Fatalf("enrichment: entry=%v entryUSD=%v usd=%v", trade.EntryPrice, trade.EntryPriceUSD, trade.USDValue)
	}
	if trade.Decimals != 6 || trade.Side != domain.SideBuy || trade.WalletLabel != "main" {
		t.Fatalf("trade fields: %+v", trade)
	}

	if len(env.alerter.alerts) != 1 || env.alerter.alerts[0].TxHash != tx {
		t.Fatalf("alerts: %+v", env.alerter.alerts)
	}
}

func TestExecTradeKillSwitch(t *testing.T) {
	env := newExecEnv(t)
	env.exec.SetKillSwitch(true)

	if _, err := env.exec.ExecTrade(context.Background(), buyRequest()); !errors.Is(err, domain.ErrKillSwitchActive) {
		t.Fatalf("got %v, want ErrKillSwitchActive", err)
	}

	// Simulated trades bypass the switch and never touch key material.
	req := buyRequest()
	req.Simulated = true
	tx, err := env.exec.ExecTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("simulated ExecTrade: %v", err)
	}
	if !strings.HasPrefix(tx, "sim-") {
		t.Fatalf("tx = %q, want sim- prefix", tx)
	}
	if env.swaps.calls != 0 {
		t.Fatal("simulated trade reached the swap adapter")
	}
	if len(env.trades.created) != 1 || !env.trades.created[0].Simulated {
		t.Fatal("simulated trade not persisted as simulated")
	}
}

func TestExecTradeDuplicateGuard(t *testing.T) {
	env := newExecEnv(t)
	env.trades.recent = &domain.Trade{TxHash: "prevTx"}

	tx, err := env.exec.ExecTrade(context.Background(), buyRequest())
	if err != nil {
		t.Fatalf("ExecTrade: %v", err)
	}
	if tx != "prevTx" {
		t.Fatalf("tx = %q, want the existing trade's hash", tx)
	}
	if env.swaps.calls != 0 || len(env.trades.created) != 0 {
		t.Fatal("duplicate guard hit still did work")
	}
}

func TestExecTradeIdempotencySuppression(t *testing.T) {
	env := newExecEnv(t)
	req := buyRequest()
	req.Meta.IdempotencyKey = "fixed-key"

	tx, err := env.exec.ExecTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("first ExecTrade: %v", err)
	}

	tx2, err := env.exec.ExecTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("suppressed ExecTrade: %v", err)
	}
	if tx2 != tx {
		t.Fatalf("suppressed attempt returned %q, want cached %q", tx2, tx)
	}
	if env.swaps.calls != 1 || len(env.trades.created) != 1 {
		t.Fatal("suppressed attempt re-executed")
	}
}

func TestExecTradeCoolOffAfterFailure(t *testing.T) {
	env := newExecEnv(t)
	env.swaps.err = errors.New("blockhash not found")
	req := buyRequest()
	req.Meta.IdempotencyKey = "fixed-key"

	if _, err := env.exec.ExecTrade(context.Background(), req); err == nil {
		t.Fatal("expected broadcast failure")
	}

	// The failure must clear the idempotency window so the retry reaches the
	// cool-off gate instead of being silently suppressed.
	env.swaps.err = nil
	_, err := env.exec.ExecTrade(context.Background(), req)
	if !errors.Is(err, domain.ErrCoolOffActive) {
		t.Fatalf("got %v, want ErrCoolOffActive", err)
	}
	if len(env.trades.created) != 0 {
		t.Fatal("failed attempts persisted a trade")
	}
}

func TestExecTradePersistFailureCachesResult(t *testing.T) {
	env := newExecEnv(t)
	env.trades.createErr = errors.New("pg down")
	req := buyRequest()
	req.Meta.IdempotencyKey = "persist-key"

	if _, err := env.exec.ExecTrade(context.Background(), req); err == nil {
		t.Fatal("persist failure not surfaced")
	}

	// The swap landed: a retry inside the idempotency window must surface the
	// broadcast hash instead of an empty suppression.
	env.trades.createErr = nil
	tx, err := env.exec.ExecTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("suppressed retry: %v", err)
	}
	if tx != "5xTxHash" {
		t.Fatalf("suppressed retry returned %q, want the broadcast hash", tx)
	}
	if env.swaps.calls != 1 {
		t.Fatalf("swap calls = %d, want 1", env.swaps.calls)
	}
}

// relaySwaps routes the signed transaction through the request's raw sender so
// the pool's quorum path is exercised end to end.
type relaySwaps struct{}

func (relaySwaps) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	return req.SendRaw(ctx, []byte("signed"), "")
}
func (relaySwaps) ExecuteSwapTurbo(ctx context.Context, req domain.SwapRequest) (string, error) {
	return req.SendRaw(ctx, []byte("signed"), "")
}

type staticSender struct {
	sig string
	err error
}

func (s *staticSender) SendRaw(context.Context, []byte, bool) (string, error) {
	return s.sig, s.err
}

// quorumExec builds an executor over a two-endpoint pool where the second
// endpoint always refuses.
func quorumExec(t *testing.T, defaults rpcpool.QuorumOpts) (*Executor, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	legacy := bytes.Repeat([]byte{0x10}, 32)
	sig := strings.Repeat("4", 88)
	pool := rpcpool.NewWithSenders(
		[]string{"http://a", "http://b"},
		[]rpcpool.RawSender{
			&staticSender{sig: sig},
			&staticSender{err: errors.New("connection refused")},
		},
		logger,
	)
	exec := New(Deps{
		Wallets: &fakeWallets{wallets: map[string]domain.Wallet{
			"w1": {
				ID:               "w1",
				UserID:           "u1",
				LegacyCiphertext: sealUnderKey(t, legacy, bytes.Repeat([]byte{0x42}, 64)),
			},
		}},
		Users:          &fakeUsers{prefs: domain.UserPreference{UserID: "u1"}},
		Trades:         &fakeTrades{},
		Rules:          &fakeRules{},
		ArmCache:       arm.NewCache(logger),
		LegacyKey:      legacy,
		Swaps:          relaySwaps{},
		Oracle:         &fakeOracle{price: 200},
		TokenMeta:      &fakeMeta{decimals: 6},
		Pool:           pool,
		QuorumDefaults: defaults,
	}, logger)
	return exec, sig
}

func TestExecTradeQuorumDefaults(t *testing.T) {
	defaults := rpcpool.QuorumOpts{Quorum: 2, StaggerMs: 1, TimeoutMs: 2000}

	// The configured quorum of 2 is unreachable with one refusing endpoint.
	exec, _ := quorumExec(t, defaults)
	if _, err := exec.ExecTrade(context.Background(), buyRequest()); err == nil {
		t.Fatal("configured quorum ignored: broadcast resolved with a single ack")
	}

	// A per-call override drops the quorum back to 1 and the send resolves.
	exec, sig := quorumExec(t, defaults)
	req := buyRequest()
	req.Meta.RPCQuorum = 1
	tx, err := exec.ExecTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("overridden quorum: %v", err)
	}
	if tx != sig {
		t.Fatalf("tx = %q, want the pool signature", tx)
	}
}

func TestExecTradeArmGating(t *testing.T) {
	env := newExecEnv(t)
	keypair := bytes.Repeat([]byte{0x55}, 64)
	blob, err := envelope.EncryptPrivateKey(keypair, "pw", domain.WalletAAD("u1", "w2"),
		&envelope.KDFParams{Memory: 8 * 1024, Time: 1, Threads: 1})
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}
	env.wallets.wallets["w2"] = domain.Wallet{ID: "w2", UserID: "u1", Envelope: blob}

	req := buyRequest()
	req.Meta.WalletID = "w2"
	if _, err := env.exec.ExecTrade(context.Background(), req); !errors.Is(err, domain.ErrAutomationNotArmed) {
		t.Fatalf("got %v, want ErrAutomationNotArmed", err)
	}

	dek, err := envelope.UnwrapDEK(blob, "pw", domain.WalletAAD("u1", "w2"))
	if err != nil {
		t.Fatalf("UnwrapDEK: %v", err)
	}
	env.armed.Arm("u1", "w2", dek, time.Minute)

	if _, err := env.exec.ExecTrade(context.Background(), req); err != nil {
		t.Fatalf("armed ExecTrade: %v", err)
	}
	if !bytes.Equal(env.swaps.lastKey, keypair) {
		t.Fatal("swap did not receive the envelope-decrypted keypair")
	}
}

func TestExecTradeMEVAndPriorityFee(t *testing.T) {
	env := newExecEnv(t)
	env.users.prefs.MEVMode = domain.MEVModeSecure
	env.users.prefs.DefaultPriorityFee = 1000
	env.users.prefs.BriberyAmount = 5000

	override := uint64(9999)
	req := buyRequest()
	req.Meta.PriorityFeeMicroLamports = &override
	req.Meta.Turbo = true

	if _, err := env.exec.ExecTrade(context.Background(), req); err != nil {
		t.Fatalf("ExecTrade: %v", err)
	}
	if !env.swaps.lastReq.Shared {
		t.Fatal("secure MEV mode did not route through shared accounts")
	}
	if env.swaps.lastReq.ComputeUnitPriceMicroLamports != 9999 {
		t.Fatalf("priority fee = %d, want the per-call override", env.swaps.lastReq.ComputeUnitPriceMicroLamports)
	}
	if env.swaps.lastReq.TipLamports != 5000 {
		t.Fatalf("tip = %d", env.swaps.lastReq.TipLamports)
	}
	if env.swaps.turboCalls != 1 {
		t.Fatal("turbo request did not use the turbo path")
	}
}

func TestExecTradeTpSlRule(t *testing.T) {
	env := newExecEnv(t)
	req := buyRequest()
	req.Meta.TPPercent = 0.5
	req.Meta.SLPercent = 0.2
	req.Meta.SellPct = 3 // out of range, must default to 1

	if _, err := env.exec.ExecTrade(context.Background(), req); err != nil {
		t.Fatalf("ExecTrade: %v", err)
	}
	if len(env.rules.upserted) != 1 {
		t.Fatalf("rules upserted = %d", len(env.rules.upserted))
	}
	rule := env.rules.upserted[0]
	if rule.SellPct != 1 || rule.EntryPrice != 0.25 || !rule.Enabled {
		t.Fatalf("rule: %+v", rule)
	}

	// Exit-managing strategies never get rules.
	env.rules.upserted = nil
	req.Meta.Strategy = "rotation"
	req.Meta.IdempotencyKey = "other-key"
	if _, err := env.exec.ExecTrade(context.Background(), req); err != nil {
		t.Fatalf("ExecTrade: %v", err)
	}
	if len(env.rules.upserted) != 0 {
		t.Fatal("rotation strategy got a tp/sl rule")
	}
}

func TestExecSellReducesPosition(t *testing.T) {
	env := newExecEnv(t)
	red := &fakeReducer{result: domain.ReduceResult{SoldAmount: 4_000_000, PositionFlat: true}}
	env.exec.SetReducer(red)

	tx, err := env.exec.ExecSell(context.Background(), SellRequest{
		Quote: domain.Quote{
			InputMint:  testMint,
			OutputMint: domain.MintSOL,
			InAmount:   4_000_000,
			OutAmount:  1_000_000_000,
		},
		Key:         domain.PositionKey{UserID: "u1", WalletID: "w1", Mint: testMint, Strategy: "sniper"},
		TriggerType: domain.TriggerTP,
	})
	if err != nil {
		t.Fatalf("ExecSell: %v", err)
	}
	if tx != "5xTxHash" {
		t.Fatalf("tx = %q", tx)
	}
	if red.calls != 1 {
		t.Fatalf("reducer calls = %d", red.calls)
	}
	if red.req.RemovedAmount != 4_000_000 || red.req.TxHash != tx || red.req.TriggerType != domain.TriggerTP {
		t.Fatalf("reduce request: %+v", red.req)
	}
	// 4 tokens out to 1 SOL at $200: exit 0.25 SOL per token.
	if red.req.ExitPrice != 0.25 || red.req.ExitPriceUSD != 50 {
		t.Fatalf("exit pricing: %v / %v", red.req.ExitPrice, red.req.ExitPriceUSD)
	}
}

func TestExecSellGates(t *testing.T) {
	env := newExecEnv(t)
	key := domain.PositionKey{UserID: "u1", WalletID: "w1", Mint: testMint, Strategy: "sniper"}

	if _, err := env.exec.ExecSell(context.Background(), SellRequest{Key: key}); err == nil {
		t.Fatal("sell without a reducer succeeded")
	}

	env.exec.SetReducer(&fakeReducer{})
	env.exec.SetKillSwitch(true)
	if _, err := env.exec.ExecSell(context.Background(), SellRequest{Key: key}); !errors.Is(err, domain.ErrKillSwitchActive) {
		t.Fatalf("got %v, want ErrKillSwitchActive", err)
	}
}

func TestExecSellSurfacesBookkeepingFailure(t *testing.T) {
	env := newExecEnv(t)
	red := &fakeReducer{err: errors.New("deadlock")}
	env.exec.SetReducer(red)

	tx, err := env.exec.ExecSell(context.Background(), SellRequest{
		Quote: domain.Quote{
			InputMint:  testMint,
			OutputMint: domain.MintSOL,
			InAmount:   1_000_000,
			OutAmount:  250_000_000,
		},
		Key:         domain.PositionKey{UserID: "u1", WalletID: "w1", Mint: testMint, Strategy: "sniper"},
		TriggerType: domain.TriggerSL,
	})
	if err == nil {
		t.Fatal("bookkeeping failure not surfaced")
	}
	// The swap landed: the hash must come back so callers do not re-sell.
	if tx != "5xTxHash" {
		t.Fatalf("tx = %q, want the landed hash alongside the error", tx)
	}
}
