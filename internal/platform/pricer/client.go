// Package pricer is the price-oracle client. Spot prices, liquidity, and
// token metadata come from the external price API; mint authority and holder
// distribution can also be resolved directly over RPC when the oracle is
// unavailable or returns suspicious data.
package pricer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/averylane/soltraderd/internal/domain"
)

// ClientConfig configures the pricer client.
type ClientConfig struct {
	Host    string // price API base URL
	RPCURL  string // direct RPC fallback endpoint
	Timeout time.Duration
}

// Client resolves prices and token metadata.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	rpc    *rpc.Client
	logger *slog.Logger
}

// New creates a pricer Client. The RPC fallback is optional.
func New(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "pricer")),
	}
	if cfg.RPCURL != "" {
		c.rpc = rpc.New(cfg.RPCURL)
	}
	return c
}

type priceEntry struct {
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	Volume24h float64 `json:"volume24h"`
}

type metaEntry struct {
	Decimals        int     `json:"decimals"`
	MintAuthority   *string `json:"mintAuthority"`
	FreezeAuthority *string `json:"freezeAuthority"`
	TopHoldersPct   float64 `json:"topHoldersPct"`
	CreatedAt       int64   `json:"createdAt"`
	Extensions      struct {
		Twitter     string `json:"twitter"`
		Website     string `json:"website"`
		CoingeckoID string `json:"coingecko_id"`
	} `json:"extensions"`
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.cfg.Host + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pricer: %s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// GetPrice returns the oracle spot price and USD liquidity for a mint.
func (c *Client) GetPrice(ctx context.Context, mint string) (domain.TokenPrice, error) {
	var out map[string]priceEntry
	q := url.Values{"ids": {mint}}
	if err := c.get(ctx, "/price", q, &out); err != nil {
		return domain.TokenPrice{}, fmt.Errorf("pricer: price %s: %w", mint, err)
	}
	entry, ok := out[mint]
	if !ok {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	return domain.TokenPrice{Mint: mint, PriceUSD: entry.Price, LiquidityUSD: entry.Liquidity, VolumeUSD: entry.Volume24h}, nil
}

// GetPrices batches price lookups. Mints the oracle does not know are omitted.
func (c *Client) GetPrices(ctx context.Context, mints []string) (map[string]domain.TokenPrice, error) {
	if len(mints) == 0 {
		return map[string]domain.TokenPrice{}, nil
	}
	var out map[string]priceEntry
	q := url.Values{"ids": {strings.Join(mints, ",")}}
	if err := c.get(ctx, "/price", q, &out); err != nil {
		return nil, fmt.Errorf("pricer: prices: %w", err)
	}
	result := make(map[string]domain.TokenPrice, len(out))
	for mint, entry := range out {
		result[mint] = domain.TokenPrice{Mint: mint, PriceUSD: entry.Price, LiquidityUSD: entry.Liquidity, VolumeUSD: entry.Volume24h}
	}
	return result, nil
}

// GetTokenMeta resolves mint metadata, oracle first, falling back to a direct
// on-chain decode when the oracle is unreachable or its answer looks wrong.
func (c *Client) GetTokenMeta(ctx context.Context, mint string) (domain.TokenMeta, error) {
	meta, err := c.metaFromOracle(ctx, mint)
	if err == nil && !suspicious(meta) {
		return meta, nil
	}
	if c.rpc == nil {
		if err != nil {
			return domain.TokenMeta{}, err
		}
		return meta, nil
	}
	onchain, rpcErr := c.metaFromChain(ctx, mint)
	if rpcErr != nil {
		if err == nil {
			return meta, nil
		}
		return domain.TokenMeta{}, fmt.Errorf("pricer: meta %s: oracle: %v, rpc: %w", mint, err, rpcErr)
	}
	// Keep oracle-only fields when the oracle answered at all.
	if err == nil {
		onchain.HasSocials = meta.HasSocials
		onchain.CreatedAt = meta.CreatedAt
		if onchain.TopHolderPct == 0 {
			onchain.TopHolderPct = meta.TopHolderPct
		}
	}
	return onchain, nil
}

// suspicious flags oracle answers worth re-checking on-chain.
func suspicious(m domain.TokenMeta) bool {
	return m.Decimals == 0 && !m.MintAuthority && !m.FreezeAuthority && m.TopHolderPct == 0
}

func (c *Client) metaFromOracle(ctx context.Context, mint string) (domain.TokenMeta, error) {
	var entry metaEntry
	if err := c.get(ctx, "/token/"+mint, nil, &entry); err != nil {
		return domain.TokenMeta{}, err
	}
	return domain.TokenMeta{
		Mint:            mint,
		Decimals:        entry.Decimals,
		MintAuthority:   entry.MintAuthority != nil && *entry.MintAuthority != "",
		FreezeAuthority: entry.FreezeAuthority != nil && *entry.FreezeAuthority != "",
		TopHolderPct:    entry.TopHoldersPct,
		HasSocials:      entry.Extensions.Twitter != "" || entry.Extensions.Website != "" || entry.Extensions.CoingeckoID != "",
		CreatedAt:       entry.CreatedAt,
	}, nil
}

// SPL mint account layout offsets.
const (
	mintAuthorityOffset   = 0  // COption<u32 tag> + 32-byte key
	decimalsOffset        = 44
	freezeAuthorityOffset = 46 // COption<u32 tag> + 32-byte key
	mintAccountMinLen     = 82
)

// metaFromChain decodes the raw mint account and queries the top holder
// share. Results are tagged with source "rpc" by the safety engine.
func (c *Client) metaFromChain(ctx context.Context, mint string) (domain.TokenMeta, error) {
	pub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return domain.TokenMeta{}, fmt.Errorf("pricer: mint %s: %w", mint, domain.ErrBadInput)
	}
	info, err := c.rpc.GetAccountInfo(ctx, pub)
	if err != nil {
		return domain.TokenMeta{}, err
	}
	if info == nil || info.Value == nil {
		return domain.TokenMeta{}, domain.ErrNotFound
	}
	data := info.Value.Data.GetBinary()
	if len(data) < mintAccountMinLen {
		return domain.TokenMeta{}, fmt.Errorf("pricer: mint account truncated (%d bytes)", len(data))
	}

	mintAuthSet := coptionSet(data[mintAuthorityOffset:])
	freezeAuthSet := coptionSet(data[freezeAuthorityOffset:])
	decimals := int(data[decimalsOffset])

	meta := domain.TokenMeta{
		Mint:            mint,
		Decimals:        decimals,
		MintAuthority:   mintAuthSet,
		FreezeAuthority: freezeAuthSet,
	}

	if pct, err := c.topHolderShare(ctx, pub); err == nil {
		meta.TopHolderPct = pct
	} else {
		c.logger.Debug("top holder query failed", slog.String("mint", mint), slog.String("error", err.Error()))
	}
	return meta, nil
}

// coptionSet reads a little-endian COption tag.
func coptionSet(b []byte) bool {
	return len(b) >= 4 && (b[0] != 0 || b[1] != 0 || b[2] != 0 || b[3] != 0)
}

// topHolderShare returns the combined supply fraction of the largest
// accounts.
func (c *Client) topHolderShare(ctx context.Context, mint solana.PublicKey) (float64, error) {
	supply, err := c.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, err
	}
	if supply == nil || supply.Value == nil {
		return 0, domain.ErrNotFound
	}
	total := parseRawUint(supply.Value.Amount)
	if total == 0 {
		return 0, nil
	}
	largest, err := c.rpc.GetTokenLargestAccounts(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, err
	}
	var held uint64
	for _, acc := range largest.Value {
		held += parseRawUint(acc.Amount)
	}
	return float64(held) / float64(total), nil
}

func parseRawUint(s string) uint64 {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint64(r-'0')
	}
	return n
}

var (
	_ domain.PriceOracle     = (*Client)(nil)
	_ domain.TokenMetaSource = (*Client)(nil)
)
