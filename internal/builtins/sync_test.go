package builtins

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stepwise-cli/stepwise/internal/registry"
	"github.com/stepwise-cli/stepwise/internal/storage"
)

func newSyncFuncs(t *testing.T) map[string]registry.Func {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return SyncFuncs(store)
}

func TestSyncMarkAndLast(t *testing.T) {
	funcs := newSyncFuncs(t)
	ctx := context.Background()

	out, err := funcs["last"](ctx, map[string]any{"task": "photos", "field": "modified_at"})
	if err != nil {
		t.Fatal(err)
	}
	if out["found"] != false {
		t.Errorf("fresh task should not be found: %v", out)
	}

	if _, err := funcs["mark"](ctx, map[string]any{
		"task": "photos", "field": "modified_at", "value": "2026-08-20T12:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}

	out, err = funcs["last"](ctx, map[string]any{"task": "photos", "field": "modified_at"})
	if err != nil {
		t.Fatal(err)
	}
	if out["found"] != true || out["value"] != "2026-08-20T12:00:00Z" {
		t.Errorf("mark not readable: %v", out)
	}
}

func TestSyncClear(t *testing.T) {
	funcs := newSyncFuncs(t)
	ctx := context.Background()

	funcs["mark"](ctx, map[string]any{"task": "mail", "field": "uid", "value": "900"})
	if _, err := funcs["clear"](ctx, map[string]any{"task": "mail"}); err != nil {
		t.Fatal(err)
	}

	out, err := funcs["last"](ctx, map[string]any{"task": "mail", "field": "uid"})
	if err != nil {
		t.Fatal(err)
	}
	if out["found"] != false {
		t.Errorf("cleared task still has marks: %v", out)
	}
}

func TestSyncMarkValidatesArgs(t *testing.T) {
	funcs := newSyncFuncs(t)

	_, err := funcs["mark"](context.Background(), map[string]any{"task": "photos"})
	if err == nil {
		t.Error("expected error for missing field argument")
	}
}
