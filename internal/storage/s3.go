package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// S3Settings configures the S3-compatible destination backend (AWS S3,
// MinIO, Wasabi). Credentials are deployment-wide; schedules pick bucket
// and prefix per destination. Empty credentials fall back to the SDK's
// default chain (environment, shared config, IAM role).
type S3Settings struct {
	Endpoint        string
	Region          string
	Bucket          string // default bucket when the destination names none
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// s3Uploader and s3API are the slices of the SDK the backend touches,
// kept as interfaces for testability.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3API interface {
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 uploads archives to S3-compatible object storage. The zero destination
// config uses the deployment's default bucket; a schedule can point at its
// own bucket and key prefix via the destination config.
type S3 struct {
	settings S3Settings
	client   s3API
	uploader s3Uploader
	logger   zerolog.Logger
}

// NewS3 creates the S3 backend from deployment settings.
func NewS3(ctx context.Context, settings S3Settings, logger zerolog.Logger) (*S3, error) {
	region := settings.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if settings.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.AccessKeyID,
			settings.SecretAccessKey,
			"",
		)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if settings.Endpoint != "" {
		endpoint := settings.Endpoint
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	} else if settings.UsePathStyle {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, clientOpts...)
	return &S3{
		settings: settings,
		client:   client,
		uploader: manager.NewUploader(client),
		logger:   logger.With().Str("component", "s3_storage").Logger(),
	}, nil
}

// Ping verifies access to the default bucket. No-op when the deployment
// has no default bucket (every schedule then names its own).
func (s *S3) Ping(ctx context.Context) error {
	if s.settings.Bucket == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.settings.Bucket),
	})
	if err != nil {
		return fmt.Errorf("access bucket %s: %w", s.settings.Bucket, err)
	}
	return nil
}

// s3DestinationConfig is the destination-level configuration carried on a
// schedule. Both fields are optional.
type s3DestinationConfig struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// forDestination binds the backend to a destination's bucket and prefix.
func (s *S3) forDestination(raw json.RawMessage) (ObjectStore, error) {
	var cfg s3DestinationConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse s3 destination config: %w", err)
		}
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = s.settings.Bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 destination has no bucket: %w", ErrDestinationUnavailable)
	}

	return &s3Destination{
		s3:     s,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// s3Destination is an ObjectStore bound to one bucket and prefix.
type s3Destination struct {
	s3     *S3
	bucket string
	prefix string
}

// UploadFile streams the archive to the bucket. userID is ignored: S3
// credentials are deployment-scoped, not per user. The returned FileID is
// the object key.
func (d *s3Destination) UploadFile(ctx context.Context, userID uuid.UUID, src io.Reader, size int64, fileName, mimeType, folderPath string) (*UploadResult, error) {
	key := d.objectKey(folderPath, fileName)

	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   src,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	out, err := d.s3.uploader.Upload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("upload s3 object %s: %w", key, err)
	}

	d.s3.logger.Debug().
		Str("bucket", d.bucket).
		Str("key", key).
		Int64("size_bytes", size).
		Msg("uploaded archive to S3")

	return &UploadResult{FileID: key, WebViewLink: out.Location}, nil
}

// DeleteFile removes an object by key. Deleting a missing key succeeds,
// matching S3 semantics.
func (d *s3Destination) DeleteFile(ctx context.Context, userID uuid.UUID, fileID string) error {
	_, err := d.s3.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("delete s3 object %s: %w", fileID, err)
	}

	d.s3.logger.Debug().
		Str("bucket", d.bucket).
		Str("key", fileID).
		Msg("deleted archive from S3")
	return nil
}

func (d *s3Destination) objectKey(folderPath, fileName string) string {
	key := path.Join(d.prefix, strings.Trim(folderPath, "/"), fileName)
	return strings.TrimPrefix(key, "/")
}
