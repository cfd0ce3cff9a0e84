package builtins

import (
	"context"

	"github.com/stepwise-cli/stepwise/internal/registry"
	"github.com/stepwise-cli/stepwise/internal/storage"
)

// SyncFuncs builds the sync namespace over a store: incremental-sync
// high-water marks that jobs read before fetching and advance after.
func SyncFuncs(store *storage.Storage) map[string]registry.Func {
	return map[string]registry.Func{
		// sync.mark(task, field, value) advances a high-water mark.
		"mark": func(ctx context.Context, args map[string]any) (map[string]any, error) {
			task, err := requireString(args, "sync.mark", "task")
			if err != nil {
				return nil, err
			}
			field, err := requireString(args, "sync.mark", "field")
			if err != nil {
				return nil, err
			}
			value, err := requireString(args, "sync.mark", "value")
			if err != nil {
				return nil, err
			}
			if err := store.SetHighWaterMark(task, field, value); err != nil {
				return nil, err
			}
			return map[string]any{"task": task, "field": field, "value": value}, nil
		},

		// sync.last(task, field) reads a mark; found is false when the
		// task has never synced.
		"last": func(ctx context.Context, args map[string]any) (map[string]any, error) {
			task, err := requireString(args, "sync.last", "task")
			if err != nil {
				return nil, err
			}
			field, err := requireString(args, "sync.last", "field")
			if err != nil {
				return nil, err
			}
			value, found, err := store.HighWaterMark(task, field)
			if err != nil {
				return nil, err
			}
			return map[string]any{"task": task, "field": field, "value": value, "found": found}, nil
		},

		// sync.clear(task) drops all marks for a task (full refresh).
		"clear": func(ctx context.Context, args map[string]any) (map[string]any, error) {
			task, err := requireString(args, "sync.clear", "task")
			if err != nil {
				return nil, err
			}
			if err := store.ClearTask(task); err != nil {
				return nil, err
			}
			return map[string]any{"task": task, "cleared": true}, nil
		},
	}
}
