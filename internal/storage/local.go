package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Local writes archives to a directory on the server. A SQLite catalog next
// to the files maps the opaque file ids handed to callers onto relative
// paths, so retention can delete by id like every other backend.
type Local struct {
	baseDir string
	db      *sql.DB
	logger  zerolog.Logger
}

// NewLocal opens (or creates) the destination directory and its catalog.
func NewLocal(baseDir string, logger zerolog.Logger) (*Local, error) {
	if baseDir == "" {
		return nil, errors.New("local storage: base directory is required")
	}
	if !filepath.IsAbs(baseDir) {
		return nil, errors.New("local storage: base directory must be absolute")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, "catalog.db")
	catalog, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	l := &Local{
		baseDir: baseDir,
		db:      catalog,
		logger:  logger.With().Str("component", "local_storage").Logger(),
	}

	if err := l.migrate(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	l.logger.Info().Str("path", baseDir).Msg("local storage initialized")
	return l, nil
}

func (l *Local) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS stored_files (
			id TEXT PRIMARY KEY,
			rel_path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			mime_type TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_stored_files_rel_path ON stored_files(rel_path);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the catalog handle.
func (l *Local) Close() error {
	return l.db.Close()
}

// UploadFile writes the archive under baseDir/folderPath, records it in the
// catalog and returns the catalog id. userID is ignored: the directory is
// deployment-scoped.
func (l *Local) UploadFile(ctx context.Context, userID uuid.UUID, src io.Reader, size int64, fileName, mimeType, folderPath string) (*UploadResult, error) {
	rel := filepath.Join(filepath.FromSlash(folderPath), fileName)
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("local storage: path %q escapes the storage directory", rel)
	}
	abs := filepath.Join(l.baseDir, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("create destination folder: %w", err)
	}

	written, err := l.writeFile(ctx, abs, src)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO stored_files (id, rel_path, size_bytes, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, filepath.ToSlash(rel), written, mimeType, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		os.Remove(abs)
		return nil, fmt.Errorf("catalog archive: %w", err)
	}

	l.logger.Debug().
		Str("file_id", id).
		Str("path", rel).
		Int64("size_bytes", written).
		Msg("stored archive locally")

	return &UploadResult{FileID: id}, nil
}

// writeFile stages into a temp file in the destination directory and
// renames over, so a crashed upload never leaves a half-written archive
// under its final name.
func (l *Local) writeFile(ctx context.Context, abs string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("stage archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write archive: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return 0, fmt.Errorf("commit archive: %w", err)
	}
	return written, nil
}

// DeleteFile removes the archive and its catalog row. Unknown ids map to
// ErrFileNotFound; a catalog row whose file is already gone still deletes
// cleanly.
func (l *Local) DeleteFile(ctx context.Context, userID uuid.UUID, fileID string) error {
	var rel string
	err := l.db.QueryRowContext(ctx, `SELECT rel_path FROM stored_files WHERE id = ?`, fileID).Scan(&rel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFileNotFound
		}
		return fmt.Errorf("look up archive: %w", err)
	}

	abs := filepath.Join(l.baseDir, filepath.FromSlash(rel))
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, `DELETE FROM stored_files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("uncatalog archive: %w", err)
	}

	l.logger.Debug().
		Str("file_id", fileID).
		Str("path", rel).
		Msg("deleted local archive")
	return nil
}
