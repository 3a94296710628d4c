// Package s3backend adapts the teacher's S3 storage client into ffbox's
// backend.Backend contract: head/list/get/range-get/put/download against an
// S3-compatible bucket, with a CargoShip-optimized upload path, a pooled
// connection set, and an anonymous-credentials fallback for public buckets.
package s3backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoshipconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/ffbox/ffbox/internal/backend"
	"github.com/ffbox/ffbox/internal/circuit"
	"github.com/ffbox/ffbox/pkg/ferrors"
	"github.com/ffbox/ffbox/pkg/retry"
)

// Config configures a Backend.
type Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
	Anonymous      bool // use aws.AnonymousCredentials, for public buckets

	MaxRetries     int
	RequestTimeout time.Duration
	PoolSize       int

	EnableCargoShip  bool
	TargetThroughput float64 // MB/s, advisory, logged only
}

// DefaultConfig returns sensible defaults, matching the teacher's pool
// sizing and retry budget.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RequestTimeout:   30 * time.Second,
		PoolSize:         8,
		EnableCargoShip:  true,
		TargetThroughput: 800.0,
	}
}

// Backend is the S3-compatible backend.Backend implementation.
type Backend struct {
	client    *s3.Client
	bucket    string
	prefix    string
	pathStyle bool

	pool   *connectionPool
	config Config

	transporter *cargoships3.Transporter
	breaker     *circuit.CircuitBreaker
	retryer     *retry.Retryer
	logger      *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates an S3 backend for bucket, rooted at prefix (may be empty).
// When cfg.Anonymous is set, or both AWS_ACCESS_KEY_ID and AWS_PROFILE
// are unset in the environment, credentials resolve to anonymous — the mount-from-cloud
// path ffbox's CLI uses for unauthenticated public buckets.
func New(ctx context.Context, bucket, prefix string, cfg Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	anonymous := cfg.Anonymous
	if !anonymous && os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
		anonymous = true
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if anonymous {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}
	client := s3.NewFromConfig(awsCfg, clientOpts)

	pool, err := newConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg, clientOpts), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	logger := slog.Default().With("component", "s3backend", "bucket", bucket)
	if anonymous {
		logger.Info("using anonymous credentials for public bucket access")
	}

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShip {
		cargoCfg := cargoshipconfig.S3Config{
			Bucket:             bucket,
			StorageClass:       cargoshipconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        cfg.PoolSize,
		}
		transporter = cargoships3.NewTransporter(client, cargoCfg)
		logger.Info("cargoship upload optimization enabled",
			"target_throughput_mbps", cfg.TargetThroughput, "chunk_size", "16MB")
	}

	breakerCfg := circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries

	return &Backend{
		client:      client,
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		pathStyle:   cfg.ForcePathStyle,
		pool:        pool,
		config:      cfg,
		transporter: transporter,
		breaker:     circuit.NewCircuitBreaker("s3:"+bucket, breakerCfg),
		retryer:     retry.New(retryCfg),
		logger:      logger,
	}, nil
}

func (b *Backend) fullKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + strings.TrimPrefix(key, "/")
}

// Head returns metadata for key.
func (b *Backend) Head(ctx context.Context, key string) (*backend.ObjectInfo, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	var info *backend.ObjectInfo
	err := b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.fullKey(key)),
			})
			if err != nil {
				return b.translateError(err, "Head", key)
			}
			info = &backend.ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(out.ContentLength),
				LastModified: aws.ToTime(out.LastModified),
				ETag:         aws.ToString(out.ETag),
				ContentType:  aws.ToString(out.ContentType),
			}
			return nil
		})
	})
	return info, err
}

// List enumerates keys under prefix, honoring delimiter.
func (b *Backend) List(ctx context.Context, prefix, delimiter string) (*backend.ListResult, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	result := &backend.ListResult{}
	err := b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			input := &s3.ListObjectsV2Input{
				Bucket: aws.String(b.bucket),
				Prefix: aws.String(b.fullKey(prefix)),
			}
			if delimiter != "" {
				input.Delimiter = aws.String(delimiter)
			}
			out, err := client.ListObjectsV2(ctx, input)
			if err != nil {
				return b.translateError(err, "List", prefix)
			}

			trimPrefix := b.prefix
			if trimPrefix != "" {
				trimPrefix += "/"
			}

			keys := make([]backend.ObjectInfo, 0, len(out.Contents))
			for _, obj := range out.Contents {
				keys = append(keys, backend.ObjectInfo{
					Key:          strings.TrimPrefix(aws.ToString(obj.Key), trimPrefix),
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
					ETag:         aws.ToString(obj.ETag),
				})
			}

			commonPrefixes := make([]string, 0, len(out.CommonPrefixes))
			for _, cp := range out.CommonPrefixes {
				commonPrefixes = append(commonPrefixes, strings.TrimPrefix(aws.ToString(cp.Prefix), trimPrefix))
			}

			result.Keys = keys
			result.CommonPrefixes = commonPrefixes
			result.IsTruncated = aws.ToBool(out.IsTruncated)
			result.ContinuationKey = aws.ToString(out.NextContinuationToken)
			if result.IsTruncated {
				b.logger.Warn("listing truncated", "prefix", prefix)
			}
			return nil
		})
	})
	return result, err
}

// Get fetches the whole object.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	return b.get(ctx, key, nil)
}

// GetRange fetches an inclusive byte range.
func (b *Backend) GetRange(ctx context.Context, key string, start, endInclusive int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, endInclusive)
	return b.get(ctx, key, &rangeHeader)
}

func (b *Backend) get(ctx context.Context, key string, rangeHeader *string) ([]byte, error) {
	client := b.pool.Get()
	defer b.pool.Put(client)

	var data []byte
	err := b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			out, err := client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.fullKey(key)),
				Range:  rangeHeader,
			})
			if err != nil {
				return b.translateError(err, "Get", key)
			}
			defer out.Body.Close()

			body, err := io.ReadAll(out.Body)
			if err != nil {
				return fmt.Errorf("reading object body for %s: %w", key, err)
			}
			data = body
			return nil
		})
	})
	return data, err
}

// Download streams key directly into localPath.
func (b *Backend) Download(ctx context.Context, key, localPath string) error {
	client := b.pool.Get()
	defer b.pool.Put(client)

	return b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			out, err := client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.fullKey(key)),
			})
			if err != nil {
				return b.translateError(err, "Download", key)
			}
			defer out.Body.Close()

			f, err := os.Create(localPath)
			if err != nil {
				return fmt.Errorf("creating local file %s: %w", localPath, err)
			}
			defer f.Close()

			if _, err := io.Copy(f, out.Body); err != nil {
				return fmt.Errorf("downloading %s to %s: %w", key, localPath, err)
			}
			return nil
		})
	})
}

// Put stores data at key, using the CargoShip optimized transporter when
// enabled and falling back to a plain PutObject on any transporter error.
func (b *Backend) Put(ctx context.Context, key string, data []byte) error {
	fullKey := b.fullKey(key)

	if b.transporter != nil {
		archive := cargoships3.Archive{
			Key:          fullKey,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: cargoshipconfig.StorageClassStandard,
			Metadata: map[string]string{
				"ffbox-upload": "true",
				"content-type": detectContentType(key),
			},
		}
		result, err := b.transporter.Upload(ctx, archive)
		if err == nil {
			b.logger.Debug("cargoship upload completed", "key", fullKey, "size", len(data),
				"throughput", result.Throughput, "duration", result.Duration)
			return nil
		}
		b.logger.Warn("cargoship upload failed, falling back to standard PutObject", "key", fullKey, "error", err)
	}

	client := b.pool.Get()
	defer b.pool.Put(client)

	return b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			_, err := client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(b.bucket),
				Key:           aws.String(fullKey),
				Body:          bytes.NewReader(data),
				ContentLength: aws.Int64(int64(len(data))),
				ContentType:   aws.String(detectContentType(key)),
			})
			if err != nil {
				return b.translateError(err, "Put", key)
			}
			return nil
		})
	})
}

// Close releases pooled connections.
func (b *Backend) Close() error {
	return b.pool.Close()
}

func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err):
		return ferrors.New(ferrors.ErrCodeObjectNotFound, fmt.Sprintf("object not found: %s", key)).
			WithComponent("s3backend").WithOperation(operation).WithPath(key).WithCause(err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return ferrors.New(ferrors.ErrCodeBucketNotFound, fmt.Sprintf("bucket not found: %s", b.bucket)).
			WithComponent("s3backend").WithOperation(operation).WithCause(err)
	default:
		return ferrors.New(ferrors.ErrCodeStorageRead, fmt.Sprintf("%s failed for %s", operation, key)).
			WithComponent("s3backend").WithOperation(operation).WithPath(key).WithCause(err)
	}
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
