// Package storage resolves stored screenshot references into fetchable
// URLs via an S3-compatible presigner.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Presigner signs bare object keys into time-limited GET URLs.
// References that are already absolute URLs pass through unchanged.
type Presigner struct {
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
}

// NewPresigner builds a presigner from the storage configuration.
func NewPresigner(ctx context.Context, cfg config.StorageConfig) (*Presigner, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Presigner{
		presigner: s3.NewPresignClient(s3.NewFromConfig(awsCfg)),
		bucket:    cfg.Bucket,
		ttl:       cfg.SignTTL,
	}, nil
}

// Sign resolves a screenshot reference to a fetchable URL.
func (p *Presigner) Sign(ctx context.Context, ref string) (string, error) {
	if isAbsoluteURL(ref) {
		return ref, nil
	}

	key := strings.TrimPrefix(ref, "s3://"+p.bucket+"/")
	key = strings.TrimPrefix(key, "/")

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return req.URL, nil
}

// Passthrough is the signer used when no bucket is configured: absolute
// URLs resolve as-is, anything else is a storage failure.
type Passthrough struct{}

func (Passthrough) Sign(_ context.Context, ref string) (string, error) {
	if isAbsoluteURL(ref) {
		return ref, nil
	}
	return "", models.NewHarvestError(models.ErrCodeStorage,
		fmt.Sprintf("screenshot reference %q needs a configured storage bucket to sign", ref), nil)
}

func isAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
