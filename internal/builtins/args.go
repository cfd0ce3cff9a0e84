package builtins

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Argument values arrive from YAML or after substitution, so numbers may
// be ints, floats, or strings and booleans may be "true"/"false" text.

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func requireString(args map[string]any, fn, key string) (string, error) {
	v, ok := stringArg(args, key)
	if !ok {
		return "", fmt.Errorf("%s requires a %q argument", fn, key)
	}
	return v, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string, def bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return def
}

// expandHome resolves a leading ~ against the current user's home.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
