package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	local, err := NewLocal(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return local
}

func TestNewLocal_Validation(t *testing.T) {
	if _, err := NewLocal("", zerolog.Nop()); err == nil {
		t.Error("expected error for empty base directory")
	}
	if _, err := NewLocal("relative/path", zerolog.Nop()); err == nil {
		t.Error("expected error for relative base directory")
	}
}

func TestLocalUploadFile(t *testing.T) {
	local := newTestLocal(t)

	result, err := local.UploadFile(context.Background(), uuid.New(),
		strings.NewReader("zipbytes"), 8, "backup_prod_appdb.zip", "application/zip", "backup/prod-cluster/appdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FileID == "" {
		t.Fatal("expected a catalog id")
	}
	if result.WebViewLink != "" {
		t.Errorf("local storage has no view link, got %q", result.WebViewLink)
	}

	abs := filepath.Join(local.baseDir, "backup", "prod-cluster", "appdb", "backup_prod_appdb.zip")
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("expected archive on disk: %v", err)
	}
	if string(data) != "zipbytes" {
		t.Errorf("expected archive content zipbytes, got %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(abs))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Errorf("staging file left behind: %s", e.Name())
		}
	}
}

func TestLocalUploadFile_RejectsEscapingPath(t *testing.T) {
	local := newTestLocal(t)

	_, err := local.UploadFile(context.Background(), uuid.New(),
		strings.NewReader("x"), 1, "evil.zip", "application/zip", "../outside")
	if err == nil {
		t.Fatal("expected error for path escaping the storage directory")
	}
}

func TestLocalDeleteFile(t *testing.T) {
	local := newTestLocal(t)

	result, err := local.UploadFile(context.Background(), uuid.New(),
		strings.NewReader("zipbytes"), 8, "a.zip", "application/zip", "backup/conn/db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := local.DeleteFile(context.Background(), uuid.New(), result.FileID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	abs := filepath.Join(local.baseDir, "backup", "conn", "db", "a.zip")
	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Error("expected archive to be removed")
	}

	if err := local.DeleteFile(context.Background(), uuid.New(), result.FileID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound on second delete, got %v", err)
	}
}

func TestLocalDeleteFile_UnknownID(t *testing.T) {
	local := newTestLocal(t)

	if err := local.DeleteFile(context.Background(), uuid.New(), uuid.NewString()); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestLocalDeleteFile_MissingFileStillUncatalogs(t *testing.T) {
	local := newTestLocal(t)

	result, err := local.UploadFile(context.Background(), uuid.New(),
		strings.NewReader("x"), 1, "a.zip", "application/zip", "backup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.Remove(filepath.Join(local.baseDir, "backup", "a.zip")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := local.DeleteFile(context.Background(), uuid.New(), result.FileID); err != nil {
		t.Fatalf("expected delete to tolerate a missing file, got %v", err)
	}
}
