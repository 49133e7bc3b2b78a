package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/averylane/soltraderd/internal/domain"
)

// GetQuote fetches a priced route. Slippage defaults to 100 bps when the
// request carries none.
func (c *Client) GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = DefaultSlippageBps
	}

	u := c.buildQuoteURL(req.InputMint, req.OutputMint, req.Amount, slippage, req.AllowedDexes, req.ExcludedDexes, req.ForceFresh)
	var qr quoteResponse
	raw, err := c.getJSON(ctx, u, &qr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%w: %s", domain.ErrQuoteUnavailable, err.Error())
	}

	quote := domain.Quote{
		InputMint:      qr.InputMint,
		OutputMint:     qr.OutputMint,
		InAmount:       parseUint(qr.InAmount),
		OutAmount:      parseUint(qr.OutAmount),
		PriceImpactPct: parseFloat(qr.PriceImpactPct) * 100,
		SlippageBps:    qr.SlippageBps,
		Raw:            raw,
	}
	for _, step := range qr.RoutePlan {
		quote.RoutePlan = append(quote.RoutePlan, domain.RoutePlanStep{
			AMM:     step.SwapInfo.AmmKey,
			Label:   step.SwapInfo.Label,
			Percent: step.Percent,
		})
	}
	if quote.OutAmount == 0 {
		return domain.Quote{}, fmt.Errorf("%w: empty route", domain.ErrQuoteUnavailable)
	}
	return quote, nil
}

// ExecuteSwap requests a swap transaction for the quote, signs it with the
// supplied keypair, and submits it through req.SendRaw or the default
// connection. It confirms against the aggregator-returned blockhash window
// and returns the base58 signature.
func (c *Client) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	return c.executeSwap(ctx, req, false)
}

// ExecuteSwapTurbo is ExecuteSwap with skipPreflight forced on and the
// private RPC endpoint preferred for the default send path.
func (c *Client) ExecuteSwapTurbo(ctx context.Context, req domain.SwapRequest) (string, error) {
	req.SkipPreflight = true
	return c.executeSwap(ctx, req, true)
}

func (c *Client) executeSwap(ctx context.Context, req domain.SwapRequest, turbo bool) (string, error) {
	if len(req.PrivateKey) != 64 {
		return "", fmt.Errorf("aggregator: keypair must be 64 bytes: %w", domain.ErrBadInput)
	}
	key := solana.PrivateKey(req.PrivateKey)
	payer := key.PublicKey()

	payload := map[string]any{
		"quoteResponse":      json.RawMessage(req.Quote.Raw),
		"userPublicKey":      payer.String(),
		"wrapAndUnwrapSol":   true,
		"useSharedAccounts":  req.Shared,
		"dynamicComputeUnitLimit": true,
	}
	if req.ComputeUnitPriceMicroLamports > 0 {
		payload["computeUnitPriceMicroLamports"] = req.ComputeUnitPriceMicroLamports
	}
	if req.TipLamports > 0 {
		payload["prioritizationFeeLamports"] = map[string]any{
			"jitoTipLamports": req.TipLamports,
		}
	}

	var sr swapResponse
	if err := c.postJSON(ctx, c.cfg.QuoteHost+"/swap", payload, &sr); err != nil {
		return "", &domain.SwapError{Class: domain.ClassifySwapFailure(err), Detail: "swap build: " + err.Error(), Err: err}
	}

	// Handles both versioned and legacy wire formats.
	tx, err := solana.TransactionFromBase64(sr.SwapTransaction)
	if err != nil {
		return "", &domain.SwapError{Class: domain.FailureUnknown, Detail: "tx decode: " + err.Error(), Err: err}
	}

	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(payer) {
			return &key
		}
		return nil
	}); err != nil {
		return "", &domain.SwapError{Class: domain.FailureUnknown, Detail: "sign: " + err.Error(), Err: err}
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", &domain.SwapError{Class: domain.FailureUnknown, Detail: "serialize: " + err.Error(), Err: err}
	}

	// First signature as a base58 hint for opaque quorum responses.
	sigHint := ""
	if len(tx.Signatures) > 0 {
		sigHint = tx.Signatures[0].String()
	}

	var sig string
	if req.SendRaw != nil {
		sig, err = req.SendRaw(ctx, raw, sigHint)
	} else {
		sig, err = c.sendDefault(ctx, raw, req, turbo)
	}
	if err != nil {
		return "", &domain.SwapError{Class: domain.ClassifySwapFailure(err), Detail: "send: " + err.Error(), Err: err}
	}
	if sig == "" {
		sig = sigHint
	}

	if err := c.confirm(ctx, sigHint, sr.LastValidBlockHeight); err != nil {
		return "", err
	}

	c.logger.Info("swap submitted",
		slog.String("signature", sig),
		slog.String("input_mint", req.Quote.InputMint),
		slog.String("output_mint", req.Quote.OutputMint),
		slog.Bool("turbo", turbo),
	)
	return sig, nil
}

// sendDefault submits through this client's own connection; the turbo path
// prefers the private endpoint when configured.
func (c *Client) sendDefault(ctx context.Context, raw []byte, req domain.SwapRequest, turbo bool) (string, error) {
	endpoint := c.cfg.DefaultRPC
	if turbo {
		if req.PrivateRPCURL != "" {
			endpoint = req.PrivateRPCURL
		} else if c.cfg.PrivateRPC != "" {
			endpoint = c.cfg.PrivateRPC
		}
	}
	client := rpc.New(endpoint)
	sig, err := client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       req.SkipPreflight,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// confirm polls signature status until the transaction is confirmed or the
// blockhash window expires.
func (c *Client) confirm(ctx context.Context, sig string, lastValidBlockHeight uint64) error {
	if sig == "" || c.cfg.DefaultRPC == "" {
		return nil
	}
	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return nil
	}
	client := rpc.New(c.cfg.DefaultRPC)

	ticker := time.NewTicker(800 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(45 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return &domain.SwapError{Class: domain.FailureNet, Detail: "confirmation timeout for " + sig}
		case <-ticker.C:
			st, err := client.GetSignatureStatuses(ctx, false, signature)
			if err != nil || st == nil || len(st.Value) == 0 || st.Value[0] == nil {
				if lastValidBlockHeight > 0 {
					if bh, bhErr := client.GetBlockHeight(ctx, rpc.CommitmentConfirmed); bhErr == nil && bh > lastValidBlockHeight {
						return &domain.SwapError{Class: domain.FailureNet, Detail: "blockhash expired for " + sig}
					}
				}
				continue
			}
			status := st.Value[0]
			if status.Err != nil {
				return &domain.SwapError{Class: domain.FailureUnknown, Detail: fmt.Sprintf("tx %s failed on-chain: %v", sig, status.Err)}
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// Compile-time capability checks.
var (
	_ domain.QuoteSource  = (*Client)(nil)
	_ domain.SwapExecutor = (*Client)(nil)
)
