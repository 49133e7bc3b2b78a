// Package listings maintains a rolling window of new token listings streamed
// from the listings WebSocket feed. The sniper strategy reads from it.
package listings

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/averylane/soltraderd/internal/domain"
)

const (
	defaultWindow   = 512
	readDeadline    = 60 * time.Second
	reconnectBase   = 2 * time.Second
	reconnectJitter = 500 * time.Millisecond
)

// listingMsg mirrors one feed message.
type listingMsg struct {
	Type           string  `json:"type"`
	Mint           string  `json:"mint"`
	Symbol         string  `json:"symbol"`
	PriceUSD       float64 `json:"priceUsd"`
	PriceChangePct float64 `json:"priceChangePct"`
	VolumeUSD      float64 `json:"volumeUsd"`
	ListedAt       int64   `json:"listedAt"`
}

// Feed connects to the listings WebSocket and keeps the most recent listings
// in memory. It reconnects with jittered backoff on disconnect.
type Feed struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.Mutex
	window []domain.Listing
	max    int
}

// NewFeed creates a Feed for the given WebSocket URL.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "listings_feed")),
		max:    defaultWindow,
	}
}

// Recent returns up to limit listings, newest first.
func (f *Feed) Recent(_ context.Context, limit int) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.window)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Listing, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.window[i])
	}
	return out, nil
}

func (f *Feed) record(l domain.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.window = append(f.window, l)
	if overflow := len(f.window) - f.max; overflow > 0 {
		f.window = append([]domain.Listing(nil), f.window[overflow:]...)
	}
}

// Run connects and consumes the feed until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := f.runConnection(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("listings feed disconnected, reconnecting", slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := reconnectBase + time.Duration(rand.Int63n(int64(reconnectJitter)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (f *Feed) runConnection(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"op": "subscribe", "channel": "new_listings"}); err != nil {
		return err
	}
	f.logger.Info("listings feed connected", slog.String("url", f.wsURL))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg listingMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("skipping malformed feed message", slog.String("error", err.Error()))
			continue
		}
		if msg.Type != "listing" || msg.Mint == "" {
			continue
		}
		f.record(domain.Listing{
			Mint:           msg.Mint,
			Symbol:         msg.Symbol,
			PriceUSD:       msg.PriceUSD,
			PriceChangePct: msg.PriceChangePct,
			VolumeUSD:      msg.VolumeUSD,
			ListedAt:       msg.ListedAt,
		})
	}
}

var _ domain.ListingsFeed = (*Feed)(nil)
