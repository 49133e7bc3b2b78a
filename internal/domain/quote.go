package domain

import "context"

// QuoteRequest asks the aggregator for a route between two mints.
type QuoteRequest struct {
	InputMint    string
	OutputMint   string
	Amount       uint64 // raw input units, exact-in
	SlippageBps  int    // defaults to 100 when <= 0
	AllowedDexes []string
	ExcludedDexes []string
	ForceFresh   bool
}

// RoutePlanStep is one hop of an aggregator route.
type RoutePlanStep struct {
	AMM     string  `json:"amm"`
	Label   string  `json:"label"`
	Percent float64 `json:"percent"`
}

// Quote is the aggregator's priced route.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	SlippageBps    int
	RoutePlan      []RoutePlanStep

	// Raw is the aggregator's original quote response, passed back verbatim
	// when requesting the swap transaction.
	Raw []byte
}

// QuoteSource fetches priced routes from the aggregator.
type QuoteSource interface {
	GetQuote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// RawSendFunc submits a fully signed, serialised transaction and returns the
// observed base58 signature. The quorum pool provides one; tests inject fakes.
type RawSendFunc func(ctx context.Context, raw []byte, sigHint string) (string, error)

// SwapRequest builds, signs, and submits a swap for a previously fetched
// quote. PrivateKey is the 64-byte ed25519 keypair; the adapter must not
// retain it past the call.
type SwapRequest struct {
	Quote       Quote
	PrivateKey  []byte
	Shared      bool   // route through MEV-protected shared accounts
	ComputeUnitPriceMicroLamports uint64
	TipLamports uint64
	PrivateRPCURL string
	SkipPreflight bool
	SendRaw     RawSendFunc // nil = adapter's default connection
}

// SwapExecutor signs and submits swap transactions. Turbo defaults
// skipPreflight and may use a private RPC endpoint.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, req SwapRequest) (string, error)
	ExecuteSwapTurbo(ctx context.Context, req SwapRequest) (string, error)
}

// TokenPrice is a spot price observation from the oracle.
type TokenPrice struct {
	Mint         string
	PriceUSD     float64
	LiquidityUSD float64
	VolumeUSD    float64 // 24h volume
}

// PriceOracle reads spot prices and liquidity from an external price API.
type PriceOracle interface {
	GetPrice(ctx context.Context, mint string) (TokenPrice, error)
	GetPrices(ctx context.Context, mints []string) (map[string]TokenPrice, error)
}

// TokenMeta is the mint metadata the safety engine and executor need.
type TokenMeta struct {
	Mint             string
	Decimals         int
	MintAuthority    bool // true when an authority is still set
	FreezeAuthority  bool
	TopHolderPct     float64 // combined share of the top holders (0..1)
	HasSocials       bool    // twitter/website/coingecko extensions present
	CreatedAt        int64   // unix seconds, 0 when unknown
}

// TokenMetaSource resolves mint metadata, typically oracle-first with a
// direct RPC fallback.
type TokenMetaSource interface {
	GetTokenMeta(ctx context.Context, mint string) (TokenMeta, error)
}

// Listing is one entry from the new-listings feed.
type Listing struct {
	Mint          string
	Symbol        string
	PriceUSD      float64
	PriceChangePct float64 // short-window change
	VolumeUSD     float64
	ListedAt      int64 // unix seconds
}

// ListingsFeed exposes the most recent new token listings.
type ListingsFeed interface {
	Recent(ctx context.Context, limit int) ([]Listing, error)
}
