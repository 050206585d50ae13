package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// services (MinIO, Ceph RGW, ...).
	Endpoint string
	// KeyPrefix is prepended to every object key, e.g. "exports/disk0/".
	KeyPrefix string
	// ForcePathStyle is required by most non-AWS S3-compatible services.
	ForcePathStyle bool
}

// S3Backend stores one object per block in an S3-compatible bucket, keyed
// "<prefix><block_id>.block". Grounded on the same client construction and
// not-found detection as a conventional S3-backed object store client.
type S3Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewS3Backend builds an S3-compatible backend from cfg, loading AWS
// credentials and region from the default SDK credential chain.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 backend: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Backend{
		client:    s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (b *S3Backend) key(blockID int64) string {
	return b.keyPrefix + strconv.FormatInt(blockID, 10) + ".block"
}

// HealthCheck verifies the bucket is reachable, for use as a connect-time
// probe the same way SeafileBackend.Ping is used.
func (b *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("s3 backend: head bucket: %w", err)
	}
	return nil
}

func (b *S3Backend) FetchBlock(ctx context.Context, blockID int64, buf []byte) error {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(blockID)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("s3 get object: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read s3 object body: %w", err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (b *S3Backend) UploadBlock(ctx context.Context, blockID int64, buf []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(blockID)),
		Body:   bytes.NewReader(buf),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "NoSuchKey") || strings.Contains(s, "NotFound") || strings.Contains(s, "404")
}

var _ Backend = (*S3Backend)(nil)
