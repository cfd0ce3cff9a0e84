package builtins

import (
	"context"
	"os"
	"path/filepath"
	"sort"
)

// FilesClean deletes everything directly under a directory, files and
// subtrees alike. The directory itself stays. With dry_run, it only
// reports what would go.
//
// Args: dir (required, ~ expanded), dry_run (default false).
// Returns: deleted (paths), count.
func FilesClean(ctx context.Context, args map[string]any) (map[string]any, error) {
	dir, err := requireString(args, "files.clean", "dir")
	if err != nil {
		return nil, err
	}
	dryRun := boolArg(args, "dry_run", false)

	root := expandHome(dir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"deleted": []any{}, "count": 0}, nil
		}
		return nil, err
	}

	deleted := make([]any, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		deleted = append(deleted, path)
		if !dryRun {
			if err := os.RemoveAll(path); err != nil {
				return nil, err
			}
		}
	}

	return map[string]any{"deleted": deleted, "count": len(deleted)}, nil
}

// FilesStats counts regular files per immediate subdirectory of a
// directory, plus loose files at the top level under "".
//
// Args: dir (required, ~ expanded).
// Returns: counts (subdirectory name to file count), total.
func FilesStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	dir, err := requireString(args, "files.stats", "dir")
	if err != nil {
		return nil, err
	}

	root := expandHome(dir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"counts": map[string]any{}, "total": 0}, nil
		}
		return nil, err
	}

	counts := make(map[string]any)
	total := 0
	loose := 0

	var subdirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, entry.Name())
		} else {
			loose++
		}
	}
	sort.Strings(subdirs)

	for _, name := range subdirs {
		sub, err := os.ReadDir(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		n := 0
		for _, f := range sub {
			if !f.IsDir() {
				n++
			}
		}
		counts[name] = n
		total += n
	}

	if loose > 0 {
		counts[""] = loose
		total += loose
	}

	return map[string]any{"counts": counts, "total": total}, nil
}
