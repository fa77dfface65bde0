package backup

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSource struct {
	names []string
	docs  map[string]string
	errs  map[string]error
}

func (f *fakeSource) collections(_ context.Context) ([]string, error) {
	return f.names, nil
}

func (f *fakeSource) dumpCollection(_ context.Context, name, dir string) (string, error) {
	if err := f.errs[name]; err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "fake-*.json")
	if err != nil {
		return "", err
	}
	if _, err := tmp.WriteString(f.docs[name]); err != nil {
		tmp.Close()
		return "", err
	}
	return tmp.Name(), tmp.Close()
}

func readZipEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()

	entries := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		entries[f.Name] = string(data)
	}
	return entries
}

func TestSanitizeNameComponent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"prod-cluster_1", "prod-cluster_1"},
		{"Prod Cluster!", "Prod_Cluster_"},
		{"a.b/c:d", "a_b_c_d"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := sanitizeNameComponent(tc.in); got != tc.want {
			t.Errorf("sanitizeNameComponent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestArchiveObjectPath(t *testing.T) {
	startedAt := time.Date(2025, 3, 10, 8, 5, 30, 0, time.UTC)
	got := archiveObjectPath("Prod Cluster", "appdb", startedAt)
	want := "backup/Prod_Cluster/appdb/backup_Prod_Cluster_appdb_2025-03-10T08-05-30Z.zip"
	if got != want {
		t.Errorf("archiveObjectPath = %q, want %q", got, want)
	}
}

func TestArchiveObjectPath_NonUTCStart(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	startedAt := time.Date(2025, 3, 10, 4, 0, 0, 0, loc) // 08:00 UTC
	got := archiveObjectPath("c", "d", startedAt)
	want := "backup/c/d/backup_c_d_2025-03-10T08-00-00Z.zip"
	if got != want {
		t.Errorf("archiveObjectPath = %q, want %q", got, want)
	}
}

func TestTargetCollections_ExplicitSelection(t *testing.T) {
	src := &fakeSource{names: []string{"ignored"}}
	got, err := targetCollections(context.Background(), src, []string{"users", "accounts"})
	if err != nil {
		t.Fatalf("targetCollections: %v", err)
	}
	if len(got) != 2 || got[0] != "accounts" || got[1] != "users" {
		t.Errorf("expected sorted explicit selection, got %v", got)
	}
}

func TestTargetCollections_ExcludesSystem(t *testing.T) {
	src := &fakeSource{names: []string{"users", "system.views", "accounts", "system.profile"}}
	got, err := targetCollections(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("targetCollections: %v", err)
	}
	if len(got) != 2 || got[0] != "accounts" || got[1] != "users" {
		t.Errorf("expected system collections excluded, got %v", got)
	}
}

func TestAssembleArchive(t *testing.T) {
	src := &fakeSource{
		docs: map[string]string{
			"accounts": `[{"_id":1}]`,
			"users":    `[{"_id":1},{"_id":2}]`,
		},
		errs: map[string]error{
			"events": errors.New("cursor timed out"),
		},
	}

	dir := t.TempDir()
	result, err := assembleArchive(context.Background(), src, []string{"accounts", "events", "users"}, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("assembleArchive: %v", err)
	}
	defer os.Remove(result.path)

	if !result.ok() {
		t.Error("expected run with clean collections to count as success")
	}
	if len(result.clean) != 2 || result.clean[0] != "accounts" || result.clean[1] != "users" {
		t.Errorf("unexpected clean set %v", result.clean)
	}
	if result.failed["events"] != "cursor timed out" {
		t.Errorf("unexpected failure map %v", result.failed)
	}
	if result.sizeBytes <= 0 {
		t.Errorf("expected positive archive size, got %d", result.sizeBytes)
	}

	entries := readZipEntries(t, result.path)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries["users.json"] != `[{"_id":1},{"_id":2}]` {
		t.Errorf("unexpected users entry %q", entries["users.json"])
	}
	if entries["events.json"] != `{"error":"cursor timed out"}` {
		t.Errorf("unexpected error entry %q", entries["events.json"])
	}
}

func TestAssembleArchive_AllCollectionsFailed(t *testing.T) {
	src := &fakeSource{
		errs: map[string]error{
			"users": errors.New("no permission"),
		},
	}

	dir := t.TempDir()
	result, err := assembleArchive(context.Background(), src, []string{"users"}, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("assembleArchive: %v", err)
	}
	defer os.Remove(result.path)

	if result.ok() {
		t.Error("expected run with zero clean collections to count as failure")
	}
}

func TestAssembleArchive_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{docs: map[string]string{"users": "[]"}}
	_, err := assembleArchive(ctx, src, []string{"users"}, t.TempDir(), zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
