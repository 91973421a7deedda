package api

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/logoforge/logoforge/pkg/config"
)

// presignCacheEntry holds a cached presigned URL and its expiration time.
type presignCacheEntry struct {
	url       string
	expiresAt time.Time
}

// s3Storage uploads logos to S3 and generates presigned GET URLs for
// serving stored objects.
type s3Storage struct {
	log           logrus.FieldLogger
	cfg           *config.S3StorageConfig
	client        *s3.Client
	presignClient *s3.PresignClient
	expiry        time.Duration
	keyPrefix     string
	cacheTTL      time.Duration
	mu            sync.RWMutex
	cache         map[string]presignCacheEntry
}

// newS3Storage creates a new S3 storage backend from the given
// configuration.
func newS3Storage(
	log logrus.FieldLogger,
	cfg *config.S3StorageConfig,
) (*s3Storage, error) {
	expiry, err := time.ParseDuration(cfg.PresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("parsing presign_expiry: %w", err)
	}

	client := newS3Client(cfg)

	return &s3Storage{
		log:           log.WithField("component", "s3-storage"),
		cfg:           cfg,
		client:        client,
		presignClient: s3.NewPresignClient(client),
		expiry:        expiry,
		keyPrefix:     strings.Trim(cfg.KeyPrefix, "/"),
		cacheTTL:      expiry / 2,
		cache:         make(map[string]presignCacheEntry),
	}, nil
}

// Save uploads the object under the configured key prefix.
func (p *s3Storage) Save(ctx context.Context, key string, src io.Reader) error {
	if !p.isAllowedPath(key) {
		return fmt.Errorf("key %q is not allowed", key)
	}

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.objectKey(key)),
		Body:   src,
	})
	if err != nil {
		return fmt.Errorf("uploading %q: %w", key, err)
	}

	return nil
}

// GeneratePresignedURL returns a presigned GET URL for the given key.
// Results are cached for half the presigned URL expiry duration so
// repeated requests do not presign redundantly while returned URLs
// always have sufficient remaining validity.
func (p *s3Storage) GeneratePresignedURL(
	ctx context.Context,
	key string,
) (string, error) {
	if !p.isAllowedPath(key) {
		return "", fmt.Errorf("key %q is not allowed", key)
	}

	now := time.Now()

	// Fast path: check cache under read lock.
	p.mu.RLock()
	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		p.mu.RUnlock()

		return entry.url, nil
	}
	p.mu.RUnlock()

	// Slow path: acquire write lock and double-check.
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[key]; ok && now.Before(entry.expiresAt) {
		return entry.url, nil
	}

	result, err := p.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.objectKey(key)),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning URL for %q: %w", key, err)
	}

	p.cache[key] = presignCacheEntry{
		url:       result.URL,
		expiresAt: now.Add(p.cacheTTL),
	}

	return result.URL, nil
}

// HeadObject returns object metadata for HEAD file requests.
func (p *s3Storage) HeadObject(
	ctx context.Context,
	key string,
) (*s3.HeadObjectOutput, error) {
	if !p.isAllowedPath(key) {
		return nil, fmt.Errorf("key %q is not allowed", key)
	}

	return p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.objectKey(key)),
	})
}

// objectKey prepends the configured key prefix.
func (p *s3Storage) objectKey(key string) string {
	if p.keyPrefix == "" {
		return key
	}

	return p.keyPrefix + "/" + key
}

// isAllowedPath rejects empty, unclean, or traversal keys.
func (p *s3Storage) isAllowedPath(key string) bool {
	if key == "" {
		return false
	}

	if strings.Contains(key, "..") {
		return false
	}

	return path.Clean(key) == key && !strings.HasPrefix(key, "/")
}

// newS3Client constructs an S3 client from the storage config.
func newS3Client(cfg *config.S3StorageConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
