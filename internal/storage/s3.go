package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/xxxsen/romget/internal/config"
)

type s3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client builds a storage client backed by AWS S3 (or compatible) based on config.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket must be provided")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Host)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &s3Client{client: client, bucket: cfg.Bucket}, nil
}

func (c *s3Client) DownloadToFile(ctx context.Context, key, destPath string) error {
	res, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object %s/%s: %w", c.bucket, key, err)
	}
	defer res.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("ensure dest dir %s: %w", destPath, err)
	}

	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create dest %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, res.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write dest %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close dest %s: %w", tmp, err)
	}
	return os.Rename(tmp, destPath)
}

func normalizeEndpoint(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}

	if strings.Contains(host, "://") {
		return host
	}

	u := url.URL{
		Scheme: "https",
		Host:   host,
	}
	return u.String()
}
