package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints"), opts...)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestSaveAssignsIDAndSize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cp, err := store.Save(ctx, SaveRequest{
		WorkflowID:   "wf_1",
		WorkflowType: "research",
		AgentID:      "Clarify",
		Snapshot:     `{"hello":"world"}`,
		Metadata:     NewMetadata("before-Clarify", true, nil),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(cp.ID, "ckpt_") {
		t.Errorf("checkpoint id %q missing ckpt_ prefix", cp.ID)
	}
	if cp.StateSizeBytes != len(`{"hello":"world"}`) {
		t.Errorf("StateSizeBytes = %d, want %d", cp.StateSizeBytes, len(`{"hello":"world"}`))
	}
	if cp.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", cp.SchemaVersion, SchemaVersion)
	}
}

func TestSaveRejectsOversizedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithMaxCheckpointSize(4))

	_, err := store.Save(ctx, SaveRequest{WorkflowID: "wf_1", Snapshot: "way too big"})
	if err == nil {
		t.Fatal("expected SizeExceeded error")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	saved, err := store.Save(ctx, SaveRequest{WorkflowID: "wf_1", WorkflowType: "research", Snapshot: `{"a":1}`, Metadata: NewMetadata("after-Clarify", true, []string{"Clarify"})})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if loaded.ID != saved.ID || loaded.Snapshot != saved.Snapshot {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, saved)
	}
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	store := newTestStore(t)
	cp, err := store.Load(context.Background(), "ckpt_does_not_exist")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp != nil {
		t.Fatalf("expected nil checkpoint, got %+v", cp)
	}
}

func TestListForWorkflowOrderedDescending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		cp, err := store.Save(ctx, SaveRequest{WorkflowID: "wf_1", Snapshot: `{}`})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, cp.ID)
	}

	list, err := store.ListForWorkflow(ctx, "wf_1")
	if err != nil {
		t.Fatalf("ListForWorkflow: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].CreatedAt.Before(list[i].CreatedAt) {
			t.Fatalf("list not in descending created_at order")
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cp, _ := store.Save(ctx, SaveRequest{WorkflowID: "wf_1", Snapshot: `{}`})

	if err := store.Delete(ctx, cp.ID); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := store.Delete(ctx, cp.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestValidateCorruptCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	cp, err := store.Save(ctx, SaveRequest{WorkflowID: "wf_1", Snapshot: `{"ok":true}`})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	corruptPath := filepath.Join(dir, cp.ID+".json")
	corrupt := []byte(`{ invalid json content without closing`)
	if err := os.WriteFile(corruptPath, corrupt, 0o644); err != nil {
		t.Fatalf("corrupting checkpoint file: %v", err)
	}

	valid, verr := store.Validate(ctx, cp.ID)
	if valid {
		t.Fatal("expected Validate to report invalid")
	}
	if verr == nil || !strings.Contains(verr.Error(), "not valid JSON") {
		t.Fatalf("expected error mentioning 'not valid JSON', got %v", verr)
	}
}

func TestRetentionEnforced(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithMaxCheckpointsPerWorkflow(2))

	for i := 0; i < 5; i++ {
		if _, err := store.Save(ctx, SaveRequest{WorkflowID: "wf_1", Snapshot: `{}`}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	list, err := store.ListForWorkflow(ctx, "wf_1")
	if err != nil {
		t.Fatalf("ListForWorkflow: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2 after retention", len(list))
	}
}
