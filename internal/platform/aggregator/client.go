// Package aggregator is the client for the external DEX-aggregator quote and
// swap API. Quotes are fetched over HTTP; swap transactions are deserialised,
// signed locally, and submitted through the injected raw sender (usually the
// RPC quorum pool) or this client's default connection.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSlippageBps is applied when a quote request carries no slippage.
const DefaultSlippageBps = 100

// ClientConfig configures the aggregator client.
type ClientConfig struct {
	QuoteHost  string // e.g. https://quote-api.jup.ag/v6
	DefaultRPC string // fallback send endpoint when no sender is injected
	PrivateRPC string // optional MEV-protected endpoint for the turbo path
	Timeout    time.Duration
}

// Client talks to the aggregator API.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

// New creates an aggregator Client.
func New(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "aggregator")),
	}
}

// quoteResponse mirrors the aggregator's quote payload.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
	RoutePlan      []struct {
		SwapInfo struct {
			AmmKey string `json:"ammKey"`
			Label  string `json:"label"`
		} `json:"swapInfo"`
		Percent float64 `json:"percent"`
	} `json:"routePlan"`
}

// swapResponse mirrors the aggregator's swap payload.
type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	RecentBlockhash      string `json:"recentBlockhash"`
}

func (c *Client) getJSON(ctx context.Context, u string, out any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator: %s: status %d: %s", req.URL.Path, resp.StatusCode, truncate(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("aggregator: decoding %s: %w", req.URL.Path, err)
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, u string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aggregator: %s: status %d: %s", req.URL.Path, resp.StatusCode, truncate(data))
	}
	return json.Unmarshal(data, out)
}

func truncate(b []byte) string {
	const max = 300
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// buildQuoteURL assembles the quote query.
func (c *Client) buildQuoteURL(inputMint, outputMint string, amount uint64, slippageBps int, allowed, excluded []string, forceFresh bool) string {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("swapMode", "ExactIn")
	if len(allowed) > 0 {
		q.Set("dexes", strings.Join(allowed, ","))
	}
	if len(excluded) > 0 {
		q.Set("excludeDexes", strings.Join(excluded, ","))
	}
	if forceFresh {
		q.Set("ts", strconv.FormatInt(time.Now().UnixNano(), 10))
	}
	return c.cfg.QuoteHost + "/quote?" + q.Encode()
}
