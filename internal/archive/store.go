package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// ErrNotArchived is returned by Fetch for inline references, which keep
// only a digest of the payload.
var ErrNotArchived = errors.New("archive: payload not archived")

// S3API is the subset of the S3 client used by WebhookArchive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// WebhookArchive keeps raw provider payloads so failed events can be
// inspected and replayed. Without a bucket it only records a digest.
type WebhookArchive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

func NewWebhookArchive(s3Client S3API, bucket string, logger *logging.Logger) *WebhookArchive {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookArchive{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (a *WebhookArchive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// InlineRef is the reference stored when no bucket is configured.
func InlineRef(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "inline:sha256:" + hex.EncodeToString(sum[:])
}

// Key is the object key for an event received at the given time.
func Key(provider, eventID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("webhooks/%s/%d/%02d/%02d/%s.json", provider, at.Year(), at.Month(), at.Day(), eventID)
}

// Archive stores payload and returns the reference to persist with the event.
func (a *WebhookArchive) Archive(ctx context.Context, provider, eventID string, payload []byte, at time.Time) (string, error) {
	if !a.Enabled() {
		return InlineRef(payload), nil
	}
	key := Key(provider, eventID, at)
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	a.logger.Debug("archived webhook payload", "provider", provider, "event_id", eventID, "s3_key", key)
	return "s3://" + a.bucket + "/" + key, nil
}

// Fetch reads back a payload previously returned by Archive.
func (a *WebhookArchive) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "inline:") {
		return nil, ErrNotArchived
	}
	if !a.Enabled() {
		return nil, fmt.Errorf("archive: bucket not configured")
	}
	prefix := "s3://" + a.bucket + "/"
	if !strings.HasPrefix(ref, prefix) {
		return nil, fmt.Errorf("archive: reference %q outside bucket %s", ref, a.bucket)
	}
	key := strings.TrimPrefix(ref, prefix)
	out, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotArchived
		}
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
