package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockS3Uploader struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (m *mockS3Uploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if input.Body != nil {
		b, _ := io.ReadAll(input.Body)
		m.bodies = append(m.bodies, string(b))
	}
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return &manager.UploadOutput{Location: "https://example.com/" + aws.ToString(input.Key)}, nil
}

type s3Deletion struct {
	bucket string
	key    string
}

type mockS3Client struct {
	deletions []s3Deletion
	deleteErr error
	headErr   error
}

func (m *mockS3Client) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deletions = append(m.deletions, s3Deletion{bucket: aws.ToString(input.Bucket), key: aws.ToString(input.Key)})
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestS3(defaultBucket string) (*S3, *mockS3Uploader, *mockS3Client) {
	uploader := &mockS3Uploader{}
	client := &mockS3Client{}
	return &S3{
		settings: S3Settings{Bucket: defaultBucket},
		client:   client,
		uploader: uploader,
		logger:   zerolog.Nop(),
	}, uploader, client
}

func TestS3ForDestination_ExplicitBucket(t *testing.T) {
	backend, _, _ := newTestS3("default-bucket")

	store, err := backend.forDestination(json.RawMessage(`{"bucket":"tenant-bucket","prefix":"archives/"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := store.(*s3Destination)
	if dest.bucket != "tenant-bucket" {
		t.Errorf("expected bucket tenant-bucket, got %s", dest.bucket)
	}
	if dest.prefix != "archives" {
		t.Errorf("expected trimmed prefix archives, got %q", dest.prefix)
	}
}

func TestS3ForDestination_DefaultBucket(t *testing.T) {
	backend, _, _ := newTestS3("default-bucket")

	store, err := backend.forDestination(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest := store.(*s3Destination); dest.bucket != "default-bucket" {
		t.Errorf("expected default bucket, got %s", dest.bucket)
	}
}

func TestS3ForDestination_NoBucket(t *testing.T) {
	backend, _, _ := newTestS3("")

	_, err := backend.forDestination(nil)
	if !errors.Is(err, ErrDestinationUnavailable) {
		t.Fatalf("expected ErrDestinationUnavailable, got %v", err)
	}
}

func TestS3ForDestination_InvalidConfig(t *testing.T) {
	backend, _, _ := newTestS3("default-bucket")

	if _, err := backend.forDestination(json.RawMessage(`{`)); err == nil {
		t.Fatal("expected error for invalid destination config")
	}
}

func TestS3UploadFile(t *testing.T) {
	backend, uploader, _ := newTestS3("")
	store, err := backend.forDestination(json.RawMessage(`{"bucket":"tenant-bucket","prefix":"archives"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := store.UploadFile(context.Background(), uuid.New(),
		strings.NewReader("zipbytes"), 8, "backup_prod_appdb_2025-03-10T02-30-00Z.zip",
		"application/zip", "backup/prod-cluster/appdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(uploader.inputs) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploader.inputs))
	}
	input := uploader.inputs[0]
	wantKey := "archives/backup/prod-cluster/appdb/backup_prod_appdb_2025-03-10T02-30-00Z.zip"
	if got := aws.ToString(input.Key); got != wantKey {
		t.Errorf("expected key %s, got %s", wantKey, got)
	}
	if got := aws.ToString(input.Bucket); got != "tenant-bucket" {
		t.Errorf("expected bucket tenant-bucket, got %s", got)
	}
	if got := aws.ToString(input.ContentType); got != "application/zip" {
		t.Errorf("expected content type application/zip, got %s", got)
	}
	if uploader.bodies[0] != "zipbytes" {
		t.Errorf("expected body to be streamed, got %q", uploader.bodies[0])
	}
	if result.FileID != wantKey {
		t.Errorf("expected FileID to be the object key, got %s", result.FileID)
	}
	if result.WebViewLink == "" {
		t.Error("expected the upload location as the view link")
	}
}

func TestS3UploadFile_Error(t *testing.T) {
	backend, uploader, _ := newTestS3("default-bucket")
	uploader.err = errors.New("access denied")

	store, err := backend.forDestination(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = store.UploadFile(context.Background(), uuid.New(), strings.NewReader("x"), 1, "a.zip", "application/zip", "backup")
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected upload error, got %v", err)
	}
}

func TestS3DeleteFile(t *testing.T) {
	backend, _, client := newTestS3("")
	store, err := backend.forDestination(json.RawMessage(`{"bucket":"tenant-bucket"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.DeleteFile(context.Background(), uuid.New(), "backup/prod/appdb/a.zip"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.deletions) != 1 {
		t.Fatalf("expected 1 deletion, got %d", len(client.deletions))
	}
	if client.deletions[0].bucket != "tenant-bucket" || client.deletions[0].key != "backup/prod/appdb/a.zip" {
		t.Errorf("unexpected deletion target: %+v", client.deletions[0])
	}
}

func TestS3Ping(t *testing.T) {
	backend, _, client := newTestS3("default-bucket")
	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.headErr = errors.New("forbidden")
	if err := backend.Ping(context.Background()); err == nil {
		t.Fatal("expected error when the bucket is unreachable")
	}

	backend.settings.Bucket = ""
	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("expected no-op without a default bucket, got %v", err)
	}
}
