package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mongardhq/mongard/internal/auth"
)

// ExportRequest describes a direct archive download. The caller receives
// the zip immediately instead of routing it through a destination backend.
type ExportRequest struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	ConnectionID   uuid.UUID
	DatabaseName   string
	Collections    []string
	BackupPassword string
}

// ExportResult points at the staged archive. The caller removes Path once
// it has been streamed out.
type ExportResult struct {
	Path      string
	FileName  string
	SizeBytes int64

	// Clean lists collections archived without error, in archive order.
	Clean []string

	// Failed maps collection name to the error that replaced its dump.
	Failed map[string]string
}

// Export dumps the requested collections and stages a zip for download.
// Unlike ExecuteAdHoc it records no BackupLog and uploads nothing; the
// caller owns the artifact. The same canBackup gate applies.
func (e *Executor) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.DatabaseName == "" {
		return nil, errors.New("database name is required")
	}

	ok, err := e.gate.CanBackup(ctx, req.UserID, req.OrganizationID, req.BackupPassword)
	if err != nil {
		return nil, fmt.Errorf("backup permission check: %w", err)
	}
	if !ok {
		return nil, auth.ErrPermissionDenied
	}

	client, conn, err := e.registry.Resolve(ctx, req.UserID, req.OrganizationID, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	if e.staging != nil {
		if err := e.staging.CheckStaging(ctx); err != nil {
			return nil, fmt.Errorf("staging area check: %w", err)
		}
	}

	src := e.newSource(client, req.DatabaseName)
	targets, err := targetCollections(ctx, src, req.Collections)
	if err != nil {
		return nil, fmt.Errorf("determine target collections: %w", err)
	}

	result, err := assembleArchive(ctx, src, targets, e.config.StagingDir, e.logger)
	if err != nil {
		return nil, fmt.Errorf("assemble archive: %w", err)
	}
	if !result.ok() {
		os.Remove(result.path)
		return nil, errors.New("no collections archived successfully")
	}

	name := fmt.Sprintf("backup_%s_%s_%s.zip",
		sanitizeNameComponent(conn.Name),
		sanitizeNameComponent(req.DatabaseName),
		time.Now().UTC().Format(archiveTimestampLayout))

	e.logger.Info().
		Str("connection", conn.Name).
		Str("database", req.DatabaseName).
		Int64("size_bytes", result.sizeBytes).
		Int("collections", len(result.clean)).
		Int("failed_collections", len(result.failed)).
		Msg("Export staged")

	return &ExportResult{
		Path:      result.path,
		FileName:  name,
		SizeBytes: result.sizeBytes,
		Clean:     result.clean,
		Failed:    result.failed,
	}, nil
}
