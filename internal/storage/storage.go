// Package storage provides the object-store backends backup archives are
// uploaded to: the creator's Google Drive, an S3-compatible bucket, or a
// directory on the server. A Router picks the backend for a schedule's
// destination.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/mongardhq/mongard/internal/models"
)

var (
	// ErrDestinationUnavailable is returned when a destination's backend
	// is not configured on this deployment.
	ErrDestinationUnavailable = errors.New("destination backend not configured")

	// ErrNotConnected is returned when a drive upload is attempted for a
	// user who has not completed the OAuth flow.
	ErrNotConnected = errors.New("drive account not connected")

	// ErrFileNotFound is returned when a stored object no longer exists.
	ErrFileNotFound = errors.New("stored file not found")
)

// UploadResult identifies a stored archive.
type UploadResult struct {
	// FileID is the backend's opaque handle, used later for deletion.
	FileID string

	// WebViewLink is a URL a person can open, when the backend has one.
	WebViewLink string
}

// ObjectStore is a backup artifact destination. folderPath is a /-separated
// logical path; backends create missing folders idempotently. userID selects
// per-user credentials on backends that have them and is ignored elsewhere.
type ObjectStore interface {
	UploadFile(ctx context.Context, userID uuid.UUID, src io.Reader, size int64, fileName, mimeType, folderPath string) (*UploadResult, error)
	DeleteFile(ctx context.Context, userID uuid.UUID, fileID string) error
}

// Resolver picks the ObjectStore serving a destination.
type Resolver interface {
	For(dest models.Destination) (ObjectStore, error)
}

// Router maps destination types onto the backends configured at startup.
// A nil backend means that destination type is unavailable on this
// deployment.
type Router struct {
	drive *Drive
	s3    *S3
	local *Local
}

// NewRouter creates a Router over the configured backends. Any of them may
// be nil.
func NewRouter(drive *Drive, s3 *S3, local *Local) *Router {
	return &Router{drive: drive, s3: s3, local: local}
}

// For returns the ObjectStore for the destination, bound to the
// destination's own settings where the backend supports them.
func (r *Router) For(dest models.Destination) (ObjectStore, error) {
	switch dest.Type {
	case models.DestinationDrive:
		if r.drive == nil {
			return nil, ErrDestinationUnavailable
		}
		return r.drive, nil
	case models.DestinationS3:
		if r.s3 == nil {
			return nil, ErrDestinationUnavailable
		}
		return r.s3.forDestination(dest.Config)
	case models.DestinationLocal:
		if r.local == nil {
			return nil, ErrDestinationUnavailable
		}
		return r.local, nil
	default:
		return nil, ErrDestinationUnavailable
	}
}
