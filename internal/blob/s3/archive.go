package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/averylane/soltraderd/internal/domain"
)

// Archive retention and cadence defaults.
const (
	defaultRetention = 90 * 24 * time.Hour
	archiveInterval  = 24 * time.Hour
	uploadPartSize   = 8 * 1024 * 1024
)

// TradeArchiver periodically uploads closed trades older than the retention
// window as JSON Lines objects under archive/closed-trades/.
type TradeArchiver struct {
	client    *s3.Client
	bucket    string
	closed    domain.ClosedTradeStore
	retention time.Duration
	logger    *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver. retention 0 means 90 days.
func NewTradeArchiver(c *Client, closed domain.ClosedTradeStore, retention time.Duration, logger *slog.Logger) *TradeArchiver {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &TradeArchiver{
		client:    c.S3(),
		bucket:    c.Bucket(),
		closed:    closed,
		retention: retention,
		logger:    logger.With(slog.String("component", "trade_archiver")),
	}
}

// Run archives once a day until ctx is cancelled.
func (a *TradeArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveOnce uploads every closed trade older than the retention cutoff.
func (a *TradeArchiver) ArchiveOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-a.retention)
	trades, err := a.closed.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: archive list: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ct := range trades {
		if err := enc.Encode(ct); err != nil {
			return fmt.Errorf("s3blob: archive encode: %w", err)
		}
	}

	key := fmt.Sprintf("archive/closed-trades/%s.jsonl", time.Now().UTC().Format("2006-01-02"))
	uploader := manager.NewUploader(a.client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", key, err)
	}

	a.logger.Info("closed trades archived",
		slog.Int("count", len(trades)),
		slog.String("key", key),
	)
	return nil
}
