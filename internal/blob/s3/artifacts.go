package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/averylane/soltraderd/internal/domain"
)

// ArtifactStore writes crash reports under crashes/{botId}/{timestamp}.json.
type ArtifactStore struct {
	client *s3.Client
	bucket string
}

// NewArtifactStore creates an ArtifactStore on the client's bucket.
func NewArtifactStore(c *Client) *ArtifactStore {
	return &ArtifactStore{client: c.S3(), bucket: c.Bucket()}
}

// WriteCrashReport uploads one crash artifact.
func (a *ArtifactStore) WriteCrashReport(ctx context.Context, report domain.CrashReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal crash report: %w", err)
	}
	key := fmt.Sprintf("crashes/%s/%s.json", report.BotID, report.OccurredAt.UTC().Format("20060102T150405Z"))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put crash report %s: %w", key, err)
	}
	return nil
}
