// Package s3blob archives pass reports and closed positions to S3 or an
// S3-compatible store (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection settings for the archive bucket.
// Endpoint is empty for AWS itself. Prefix namespaces every key so several
// deployments can share one bucket.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// Client wraps the SDK client with the archive bucket and key namespace.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New creates a client for cfg. Static credentials are used when an access
// key is configured; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: normalisePrefix(cfg.Prefix),
	}, nil
}

// Health checks that the archive bucket exists and is reachable with the
// configured credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: bucket %s: %w", c.bucket, err)
	}
	return nil
}

// key maps an archive path to its object key.
func (c *Client) key(path string) string {
	return c.prefix + path
}

// path is the inverse of key.
func (c *Client) path(key string) string {
	return strings.TrimPrefix(key, c.prefix)
}

func normalisePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// normaliseEndpoint prepends a scheme when the endpoint has none.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
