// Package registry resolves dotted step references against a closed set
// of namespaces supplied by the host process at startup.
//
// There is no reflection and no dynamic loading: a reference can only
// reach a function the host explicitly registered, and the allowlist
// check is a pure string-prefix test that runs before any lookup.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Func is the contract every registered step function satisfies: it takes
// the step's substituted arguments and returns a flat, serializable
// key/value result. Failure is signaled through the error, never by
// exiting the process, and functions must not print to shared output
// streams.
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry maps namespace names to their function tables.
type Registry struct {
	namespaces map[string]map[string]Func
}

func New() *Registry {
	return &Registry{namespaces: make(map[string]map[string]Func)}
}

// Register binds a namespace name to its function table. Registering the
// same namespace again replaces the table wholesale.
func (r *Registry) Register(namespace string, funcs map[string]Func) {
	r.namespaces[namespace] = funcs
}

// Namespaces returns the allowed namespace prefixes, sorted, each with
// the trailing dot a reference must carry.
func (r *Registry) Namespaces() []string {
	out := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		out = append(out, name+".")
	}
	sort.Strings(out)
	return out
}

// NotAllowedError means the reference is outside the namespace allowlist.
// This is a policy violation, distinct from a missing symbol.
type NotAllowedError struct {
	Call    string
	Allowed []string
}

func (e *NotAllowedError) Error() string {
	return fmt.Sprintf("call %q not allowed, must start with one of: %s", e.Call, strings.Join(e.Allowed, ", "))
}

// NotFoundError means the reference used an allowed namespace but no such
// function is registered there. This is an authoring mistake, not a
// security violation.
type NotFoundError struct {
	Call string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("call %q not found", e.Call)
}

// Resolve maps a dotted reference to its registered function. The
// allowlist check happens first and on its own: a reference outside every
// registered namespace fails with NotAllowedError before any table is
// consulted.
func (r *Registry) Resolve(call string) (Func, error) {
	var namespace string
	for name := range r.namespaces {
		if strings.HasPrefix(call, name+".") {
			namespace = name
			break
		}
	}
	if namespace == "" {
		return nil, &NotAllowedError{Call: call, Allowed: r.Namespaces()}
	}

	symbol := strings.TrimPrefix(call, namespace+".")
	fn, ok := r.namespaces[namespace][symbol]
	if !ok || fn == nil {
		return nil, &NotFoundError{Call: call}
	}
	return fn, nil
}
