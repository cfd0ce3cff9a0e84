// Package jobs loads job definitions from YAML documents.
//
// Each document maps job identifiers to job specifications:
//
//	jobs:
//	  sync_contacts:
//	    description: "Pull contacts"
//	    steps:
//	      - name: pull
//	        call: shell.run
//	        args:
//	          command: "contacts pull --out {out}"
//
// Documents are read in lexicographic filename order and merged into one
// map. A job identifier defined in two documents resolves to the
// last-sorted file; this is deliberate, so a later file can override a
// job from a base file. Parse failures never skip a file silently: every
// failing document is collected and reported in a single aggregate error.
package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stepwise-cli/stepwise/internal/models"
)

// document is the top-level shape of one job-definition file.
type document struct {
	Jobs map[string]*models.Job `yaml:"jobs"`
}

// LoadFailure is one unparsable document.
type LoadFailure struct {
	Path string
	Err  error
}

// LoadError aggregates every document that failed to parse during a load.
type LoadError struct {
	Failures []LoadFailure
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("failed to load job files:")
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  - %s: %v", f.Path, f.Err)
	}
	return b.String()
}

// NotFoundError reports an unknown job identifier along with the
// identifiers that were loaded, so a typo is immediately diagnosable.
type NotFoundError struct {
	JobID string
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s, available: %s", e.JobID, strings.Join(e.Known, ", "))
}

// LoadAll loads every job definition under dir. All-or-nothing: if any
// document fails to parse, the whole load fails with a LoadError naming
// each failing file. A missing directory yields an empty map.
func LoadAll(dir string) (map[string]*models.Job, error) {
	all, failures := LoadAllPartial(dir)
	if len(failures) > 0 {
		return nil, &LoadError{Failures: failures}
	}
	return all, nil
}

// LoadAllPartial loads what it can and returns the successfully parsed
// jobs alongside the per-file failures, for callers that want to report
// errors separately from the job list.
func LoadAllPartial(dir string) (map[string]*models.Job, []LoadFailure) {
	all := make(map[string]*models.Job)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return all, []LoadFailure{{Path: dir, Err: err}}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var failures []LoadFailure
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			failures = append(failures, LoadFailure{Path: path, Err: err})
			continue
		}

		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			failures = append(failures, LoadFailure{Path: path, Err: err})
			continue
		}

		// Last-sorted file wins on duplicate job identifiers.
		for id, job := range doc.Jobs {
			all[id] = job
		}
	}

	return all, failures
}

// Get returns a single job definition by identifier.
func Get(jobID, dir string) (*models.Job, error) {
	all, err := LoadAll(dir)
	if err != nil {
		return nil, err
	}
	job, ok := all[jobID]
	if !ok {
		return nil, &NotFoundError{JobID: jobID, Known: KnownIDs(all)}
	}
	return job, nil
}

// Info is one entry in a job listing.
type Info struct {
	ID          string
	Description string
}

// List returns every loaded job's identifier and description, sorted by
// identifier.
func List(dir string) ([]Info, error) {
	all, err := LoadAll(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(all))
	for id, job := range all {
		infos = append(infos, Info{ID: id, Description: job.Description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// KnownIDs returns the sorted identifiers of a loaded job map.
func KnownIDs(all map[string]*models.Job) []string {
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
