// Package publish uploads run summaries and build logs to S3-compatible
// object storage.
package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// DefaultUploadTimeout bounds a single object upload
const DefaultUploadTimeout = 5 * time.Minute

// Validate checks that cfg is complete enough to connect
func Validate(cfg types.PublishConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return types.NewConfigurationError("publish.endpoint", "endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return types.NewConfigurationError("publish.endpoint",
			fmt.Sprintf("endpoint must not include scheme: %q", cfg.Endpoint))
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return types.NewConfigurationError("publish.access_key", "access key is required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return types.NewConfigurationError("publish.secret_key", "secret key is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return types.NewConfigurationError("publish.bucket", "bucket is required")
	}
	return nil
}

// ObjectStore is the subset of the minio client used for publishing
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewClient connects to the configured endpoint
func NewClient(cfg types.PublishConfig) (*minio.Client, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return client, nil
}

// Publisher uploads the artifacts of one run
type Publisher struct {
	store  ObjectStore
	bucket string
	region string
	prefix string
	logger logger.Logger
}

// New creates a publisher backed by a minio client
func New(cfg types.PublishConfig, log logger.Logger) (*Publisher, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, client, log), nil
}

// NewWithStore creates a publisher with a custom object store
func NewWithStore(cfg types.PublishConfig, store ObjectStore, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		store:  store,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: log,
	}
}

// Result lists what was uploaded and what failed
type Result struct {
	Uploaded []string
	Failed   map[string]error
}

// SummaryKey returns the object key of a run summary
func (p *Publisher) SummaryKey(runID, summaryPath string) string {
	return p.key(runID, filepath.Base(summaryPath))
}

// LogKey returns the object key of a crate log
func (p *Publisher) LogKey(runID string, id types.CrateID) string {
	return p.key(runID, "logs", string(id)+".log")
}

func (p *Publisher) key(parts ...string) string {
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return path.Join(parts...)
}

// PublishRun uploads the summary and the given crate logs. Individual upload
// failures are collected in the result; only a bucket problem aborts.
func (p *Publisher) PublishRun(ctx context.Context, runID, summaryPath string, logs map[types.CrateID]string) (Result, error) {
	result := Result{Failed: make(map[string]error)}

	if err := p.ensureBucket(ctx); err != nil {
		return result, err
	}

	uploads := map[string]string{}
	if summaryPath != "" {
		uploads[p.SummaryKey(runID, summaryPath)] = summaryPath
	}
	for id, logPath := range logs {
		if logPath == "" {
			continue
		}
		uploads[p.LogKey(runID, id)] = logPath
	}

	keys := make([]string, 0, len(uploads))
	for k := range uploads {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := p.upload(ctx, key, uploads[key]); err != nil {
			p.logger.Warn("Failed to publish "+key, logger.WithError(err))
			result.Failed[key] = err
			continue
		}
		result.Uploaded = append(result.Uploaded, key)
	}

	p.logger.Info(fmt.Sprintf("Published %d object(s) to %s", len(result.Uploaded), p.bucket))
	return result, ctx.Err()
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.store.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", p.bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", p.bucket, err)
	}
	return nil
}

func (p *Publisher) upload(ctx context.Context, key, filePath string) error {
	putCtx, cancel := context.WithTimeout(ctx, DefaultUploadTimeout)
	defer cancel()

	_, err := p.store.FPutObject(putCtx, p.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	return err
}
