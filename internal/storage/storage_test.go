package storage

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

func TestRouterFor_UnconfiguredBackends(t *testing.T) {
	router := NewRouter(nil, nil, nil)

	for _, destType := range models.ValidDestinationTypes() {
		if _, err := router.For(models.Destination{Type: destType}); !errors.Is(err, ErrDestinationUnavailable) {
			t.Errorf("destination %s: expected ErrDestinationUnavailable, got %v", destType, err)
		}
	}

	if _, err := router.For(models.Destination{Type: "ftp"}); !errors.Is(err, ErrDestinationUnavailable) {
		t.Errorf("unknown destination: expected ErrDestinationUnavailable, got %v", err)
	}
}

func TestRouterFor_S3BindsDestinationConfig(t *testing.T) {
	backend, _, _ := newTestS3("default-bucket")
	router := NewRouter(nil, backend, nil)

	store, err := router.For(models.Destination{
		Type:   models.DestinationS3,
		Config: json.RawMessage(`{"bucket":"tenant-bucket"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest := store.(*s3Destination); dest.bucket != "tenant-bucket" {
		t.Errorf("expected destination-bound bucket, got %s", dest.bucket)
	}
}

func TestRouterFor_LocalAndDrive(t *testing.T) {
	local, err := NewLocal(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer local.Close()

	drive := NewDrive(DriveConfig{ClientID: "cid"}, nil, nil, nil, nil, zerolog.Nop())
	router := NewRouter(drive, nil, local)

	got, err := router.For(models.Destination{Type: models.DestinationLocal})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ObjectStore(local) {
		t.Error("expected the local backend")
	}

	got, err = router.For(models.Destination{Type: models.DestinationDrive})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ObjectStore(drive) {
		t.Error("expected the drive backend")
	}
}
