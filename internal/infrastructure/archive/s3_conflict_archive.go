// Package archive stores conflict payload pairs in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// Ensure S3ConflictArchive implements ConflictArchiver
var _ ledger.ConflictArchiver = (*S3ConflictArchive)(nil)

// Config holds object storage connection configuration.
// Compatible with any S3-compatible backend (AWS S3, RustFS, MinIO, etc.)
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// S3ConflictArchive writes one JSON object per conflict holding both
// diverged documents and their fingerprints. Objects are immutable; a
// conflict is archived once, at detection time.
type S3ConflictArchive struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// conflictEnvelope is the archived object layout.
type conflictEnvelope struct {
	ConflictID                string          `json:"conflict_id"`
	TenantID                  string          `json:"tenant_id"`
	EntityType                string          `json:"entity_type"`
	LocalID                   string          `json:"local_id"`
	RemoteID                  string          `json:"remote_id"`
	CorrelationID             string          `json:"correlation_id"`
	DetectedAt                time.Time       `json:"detected_at"`
	LocalFingerprint          string          `json:"local_fingerprint"`
	RemoteFingerprint         string          `json:"remote_fingerprint"`
	BaselineLocalFingerprint  string          `json:"baseline_local_fingerprint"`
	BaselineRemoteFingerprint string          `json:"baseline_remote_fingerprint"`
	LocalDocument             ledger.Document `json:"local_document"`
	RemoteDocument            ledger.Document `json:"remote_document"`
}

// NewS3ConflictArchive creates a new S3-backed conflict archive.
func NewS3ConflictArchive(cfg Config, logger *zap.Logger) (*S3ConflictArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("archive access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("archive secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid archive endpoint: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	if logger == nil {
		logger = zap.NewNop()
	}

	return &S3ConflictArchive{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during application startup to ensure the bucket is ready.
func (a *S3ConflictArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		// Ignore "BucketAlreadyOwnedByYou" error (race condition)
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ArchiveConflict stores the payload pair and returns the object key.
func (a *S3ConflictArchive) ArchiveConflict(ctx context.Context, conflict *ledger.ConflictRecord) (string, error) {
	if conflict == nil {
		return "", errors.New("conflict record is required")
	}

	key := conflictKey(conflict)
	payload, err := json.Marshal(buildEnvelope(conflict))
	if err != nil {
		return "", fmt.Errorf("failed to encode conflict payload: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive conflict %s: %w", conflict.ID, err)
	}

	a.logger.Debug("Conflict archived",
		zap.String("conflict_id", conflict.ID.String()),
		zap.String("key", key),
	)
	return key, nil
}

// conflictKey builds the object key for a conflict.
func conflictKey(conflict *ledger.ConflictRecord) string {
	return fmt.Sprintf("conflicts/%s/%s/%s.json",
		conflict.TenantID, strings.ToLower(conflict.EntityType.String()), conflict.ID)
}

// buildEnvelope projects a conflict record onto the archived layout.
func buildEnvelope(conflict *ledger.ConflictRecord) conflictEnvelope {
	return conflictEnvelope{
		ConflictID:                conflict.ID.String(),
		TenantID:                  conflict.TenantID.String(),
		EntityType:                conflict.EntityType.String(),
		LocalID:                   conflict.LocalID.String(),
		RemoteID:                  conflict.RemoteID,
		CorrelationID:             conflict.CorrelationID.String(),
		DetectedAt:                conflict.DetectedAt,
		LocalFingerprint:          conflict.LocalFingerprint,
		RemoteFingerprint:         conflict.RemoteFingerprint,
		BaselineLocalFingerprint:  conflict.BaselineLocalFingerprint,
		BaselineRemoteFingerprint: conflict.BaselineRemoteFingerprint,
		LocalDocument:             conflict.LocalDocument,
		RemoteDocument:            conflict.RemoteDocument,
	}
}
