package persistence

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/execution"
)

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads audit exports to a bucket, encrypting them at rest with
// KMS when a key is configured.
type S3Exporter struct {
	client   S3API
	bucket   string
	prefix   string
	kmsKeyID string
	policy   execution.Policy
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

type S3ExporterOption func(*S3Exporter)

func WithS3Prefix(prefix string) S3ExporterOption {
	return func(e *S3Exporter) { e.prefix = prefix }
}

func WithS3KMSKey(keyID string) S3ExporterOption {
	return func(e *S3Exporter) { e.kmsKeyID = keyID }
}

func WithS3Policy(p execution.Policy) S3ExporterOption {
	return func(e *S3Exporter) { e.policy = p }
}

func NewS3Exporter(client S3API, bucket string, logger *slog.Logger, opts ...S3ExporterOption) *S3Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &S3Exporter{
		client:  client,
		bucket:  bucket,
		prefix:  "audit/",
		policy:  execution.DefaultPolicy,
		breaker: newBreaker("audit-s3", DefaultBreakerConfig),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func NewS3ExporterFromConfig(cfg aws.Config, bucket string, logger *slog.Logger, opts ...S3ExporterOption) *S3Exporter {
	return NewS3Exporter(s3.NewFromConfig(cfg), bucket, logger, opts...)
}

// Upload stores body under the exporter's prefix.
func (e *S3Exporter) Upload(ctx context.Context, key, contentType string, body []byte) error {
	objectKey := path.Join(e.prefix, key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}
	if e.kmsKeyID != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(e.kmsKeyID)
	}

	_, err := e.breaker.Execute(func() (interface{}, error) {
		return execution.Do(ctx, e.policy, func(ctx context.Context) (*s3.PutObjectOutput, error) {
			input.Body = bytes.NewReader(body)
			return e.client.PutObject(ctx, input)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to put audit export to S3: %w", err)
	}
	e.logger.InfoContext(ctx, "audit export uploaded", "bucket", e.bucket, "key", objectKey, "bytes", len(body))
	return nil
}
