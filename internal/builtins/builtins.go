// Package builtins provides the step-function namespaces a host process
// registers with the resolver: shell commands, file housekeeping,
// sandboxed Lua scripts, and sync high-water marks.
package builtins

import (
	"github.com/stepwise-cli/stepwise/internal/registry"
	"github.com/stepwise-cli/stepwise/internal/storage"
)

// Register installs the built-in namespaces. The sync namespace needs a
// store for its state and is skipped when none is supplied.
func Register(r *registry.Registry, store *storage.Storage) {
	r.Register("shell", map[string]registry.Func{
		"run": ShellRun,
	})
	r.Register("files", map[string]registry.Func{
		"clean": FilesClean,
		"stats": FilesStats,
	})
	r.Register("script", map[string]registry.Func{
		"run": ScriptRun,
	})
	if store != nil {
		r.Register("sync", SyncFuncs(store))
	}
}
