package snapshot

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

func TestSaveGetListReadImage(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	older, err := store.Save(Meta{RunID: "run-1", Portal: "fast", ErrorCode: failure.CodeStaleContent, CreatedAt: time.Now().Add(-time.Hour)}, []byte("old"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	newer, err := store.Save(Meta{RunID: "run-2", Portal: "classic"}, []byte("\x89PNG"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if newer.Format != "png" || newer.SizeBytes != 4 || newer.ID == "" {
		t.Fatalf("Save() meta = %+v; want defaults filled", newer)
	}

	got, err := store.Get(older.ID)
	if err != nil || got.RunID != "run-1" {
		t.Fatalf("Get() = %+v, %v; want run-1", got, err)
	}

	all, err := store.List("")
	if err != nil || len(all) != 2 || all[0].ID != newer.ID {
		t.Fatalf("List() = %+v, %v; want newest first", all, err)
	}
	fast, _ := store.List("fast")
	if len(fast) != 1 || fast[0].ID != older.ID {
		t.Fatalf("List(fast) = %+v; want only the fast entry", fast)
	}

	data, format, err := store.ReadImage(newer.ID)
	if err != nil || format != "png" || string(data) != "\x89PNG" {
		t.Fatalf("ReadImage() = %q, %q, %v", data, format, err)
	}
}

func TestGetValidatesAndReportsNotFound(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if _, err := store.Get("../../etc/passwd"); failure.CodeOf(err) != failure.CodeValidation {
		t.Fatalf("Get(traversal) = %v; want VALIDATION", err)
	}
	if _, err := store.Get("123e4567-e89b-12d3-a456-426614174000"); failure.CodeOf(err) != failure.CodeNotFound {
		t.Fatalf("Get(missing) = %v; want NOT_FOUND", err)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	base := time.Now()
	var ids []string
	for i := 0; i < 4; i++ {
		m, err := store.Save(Meta{Portal: "fast", CreatedAt: base.Add(time.Duration(i) * time.Minute)}, []byte{byte(i)})
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		ids = append(ids, m.ID)
	}
	removed, err := store.Prune(2)
	if err != nil || removed != 2 {
		t.Fatalf("Prune(2) = %d, %v; want 2, nil", removed, err)
	}
	left, _ := store.List("")
	if len(left) != 2 || left[0].ID != ids[3] || left[1].ID != ids[2] {
		t.Fatalf("List() after Prune = %+v; want the two newest", left)
	}
}

func TestDeleteLogsImageCleanupFailureWhenImageMissing(t *testing.T) {
	dir := t.TempDir()
	store := &Store{dir: dir}
	id := "123e4567-e89b-12d3-a456-426614174000"

	metaBytes, err := json.Marshal(Meta{ID: id, Format: "png"})
	if err != nil {
		t.Fatalf("json.Marshal() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), metaBytes, 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}

	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete() = %v; want nil", err)
	}
	if !strings.Contains(buf.String(), "snapshot image cleanup failed") {
		t.Fatalf("expected image cleanup debug log, got %q", buf.String())
	}
}
