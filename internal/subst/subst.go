// Package subst rewrites {name} placeholders inside nested argument
// structures.
//
// Substitution is a single pass: each placeholder is replaced with its
// variable's value exactly once, and replacement text is never re-scanned
// for further placeholders, so a variable value cannot inject new
// substitutions. There is no escape syntax for a literal brace pair;
// values that need one must be restructured by the job author.
package subst

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// Apply returns a copy of value with every {name} occurrence in string
// scalars replaced by vars[name]. Placeholders whose name is not in vars
// are left in place for Check to report. Mappings and sequences are
// rewritten recursively; non-string scalars pass through unchanged.
func Apply(value any, vars map[string]string) any {
	switch v := value.(type) {
	case string:
		return placeholderRE.ReplaceAllStringFunc(v, func(m string) string {
			name := m[1 : len(m)-1]
			if val, ok := vars[name]; ok {
				return val
			}
			return m
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Apply(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Apply(item, vars)
		}
		return out
	default:
		return value
	}
}

// ApplyMap is Apply specialized to an argument mapping. A nil map yields
// an empty one.
func ApplyMap(args map[string]any, vars map[string]string) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return Apply(args, vars).(map[string]any)
}

// UnresolvedError reports every placeholder left in a step's arguments
// whose name was never supplied as a variable.
type UnresolvedError struct {
	Step  string
	Names []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("step %q has unresolved variables: %s", e.Step, strings.Join(e.Names, ", "))
}

// Check scans a substituted value for placeholders whose name is absent
// from vars and fails with an UnresolvedError naming all of them. A
// placeholder whose name is in vars is tolerated here: it can only have
// been introduced by a replacement value, which by contract is not
// re-scanned.
func Check(value any, step string, vars map[string]string) error {
	found := make(map[string]struct{})
	collect(value, vars, found)
	if len(found) == 0 {
		return nil
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return &UnresolvedError{Step: step, Names: names}
}

func collect(value any, vars map[string]string, found map[string]struct{}) {
	switch v := value.(type) {
	case string:
		for _, m := range placeholderRE.FindAllStringSubmatch(v, -1) {
			name := m[1]
			if _, ok := vars[name]; !ok {
				found[name] = struct{}{}
			}
		}
	case map[string]any:
		for _, item := range v {
			collect(item, vars, found)
		}
	case []any:
		for _, item := range v {
			collect(item, vars, found)
		}
	}
}
