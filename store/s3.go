package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config selects the bucket that receives downloads.
type S3Config struct {
	Bucket string
	Prefix string // key prefix, no leading slash
	Region string // empty uses the SDK default chain
	// Endpoint and UsePathStyle point the client at S3-compatible stores
	// such as MinIO or R2.
	Endpoint     string
	UsePathStyle bool
}

// Validate rejects configs the SDK would only fail on at first write.
func (c *S3Config) Validate() error {
	switch n := len(c.Bucket); {
	case n == 0:
		return errors.New("S3 bucket is required")
	case n < 3 || n > 63:
		return fmt.Errorf("S3 bucket %q: name must be 3-63 characters", c.Bucket)
	case strings.ContainsAny(c.Bucket, "/ "):
		return fmt.Errorf("S3 bucket %q: name contains '/' or space", c.Bucket)
	}
	return nil
}

// Location is the bucket/prefix shown to users.
func (c *S3Config) Location() string {
	if c.Prefix == "" {
		return c.Bucket
	}
	return path.Join(c.Bucket, c.Prefix)
}

// ParseS3Path splits "bucket", "bucket/prefix" or "s3://bucket/prefix/".
// Surrounding slashes on the prefix are dropped.
func ParseS3Path(p string) (bucket, prefix string) {
	p = strings.TrimPrefix(p, "s3://")
	bucket, prefix, _ = strings.Cut(p, "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewS3Saver stores downloads in S3 with credentials from the default
// chain (environment, shared config, instance role).
func NewS3Saver(ctx context.Context, cfg S3Config) (*LodeSaver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, wrap("init", cfg.Bucket, err)
	}
	st, err := lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	if err != nil {
		return nil, wrap("init", cfg.Bucket, err)
	}
	return NewSaverWithStore(st, BackendS3, cfg.Location()), nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var load []func(*config.LoadOptions) error
	if cfg.Region != "" {
		load = append(load, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
