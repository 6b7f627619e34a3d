package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/learnhub/membership-service/internal/config"
)

const defaultS3BatchSize = 100

// ObjectPutter is the subset of the S3 client used by S3Shipper
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Shipper buffers entries and archives them as NDJSON objects under
// <prefix>/YYYY/MM/DD/. A batch is written once BatchSize entries accumulate
// and on Close.
type S3Shipper struct {
	client    ObjectPutter
	bucket    string
	prefix    string
	batchSize int

	mu      sync.Mutex
	pending []*LogEntry
	now     func() time.Time
}

// NewS3Shipper creates an S3 shipper using the default AWS credential chain.
// Endpoint overrides the service URL for S3-compatible stores such as MinIO.
func NewS3Shipper(ctx context.Context, cfg *config.AuditS3Config) (*S3Shipper, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3ShipperWithClient(client, cfg), nil
}

// NewS3ShipperWithClient creates an S3 shipper around an existing client
func NewS3ShipperWithClient(client ObjectPutter, cfg *config.AuditS3Config) *S3Shipper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultS3BatchSize
	}
	return &S3Shipper{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		batchSize: batch,
		now:       time.Now,
	}
}

// Ship implements Shipper
func (s *S3Shipper) Ship(ctx context.Context, entry *LogEntry) error {
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	if len(s.pending) < s.batchSize {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	return s.put(ctx, batch)
}

// Flush writes any buffered entries
func (s *S3Shipper) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.put(ctx, batch)
}

// Close flushes the remaining entries
func (s *S3Shipper) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

func (s *S3Shipper) put(ctx context.Context, batch []*LogEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
	}

	now := s.now().UTC()
	key := path.Join(s.prefix, now.Format("2006/01/02"),
		fmt.Sprintf("%d-%s.ndjson", now.UnixNano(), uuid.New().String()))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit batch to s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
