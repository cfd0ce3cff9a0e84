// Package events is the append-only JSONL event trail for job runs.
//
// The set of event kinds is fixed and closed; an unrecognized kind is
// rejected outright. Records are never rewritten, rotated, or compacted.
// Retention is an operator concern.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	JobStarted    Kind = "job.started"
	StepCompleted Kind = "step.completed"
	JobCompleted  Kind = "job.completed"
	JobFailed     Kind = "job.failed"
)

var allowedKinds = map[Kind]struct{}{
	JobStarted:    {},
	StepCompleted: {},
	JobCompleted:  {},
	JobFailed:     {},
}

// Kinds returns the allowed event kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(allowedKinds))
	for k := range allowedKinds {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Event is one self-contained record in the log, one JSON object per line.
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	Type          Kind           `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	Status        string         `json:"status"`
	Payload       map[string]any `json:"payload"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// Log appends events to a JSONL file. Appends are serialized by a mutex
// and each record is written and synced as one complete line, so
// concurrent appenders never interleave partial records.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open prepares a log at path, creating parent directories as needed. The
// file itself is created on first append.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record. The kind must be one of the fixed set.
func (l *Log) Append(kind Kind, correlationID, status string, payload map[string]any, errorMessage string) error {
	if _, ok := allowedKinds[kind]; !ok {
		return fmt.Errorf("unknown event type %q, allowed: %s", kind, strings.Join(Kinds(), ", "))
	}
	if payload == nil {
		payload = map[string]any{}
	}

	line, err := json.Marshal(Event{
		Timestamp:     time.Now().UTC(),
		Type:          kind,
		CorrelationID: correlationID,
		Status:        status,
		Payload:       payload,
		ErrorMessage:  errorMessage,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return f.Sync()
}

// Read decodes every record in the log file at path, in emission order.
// A missing file yields no events.
func Read(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("decode event log line: %w", err)
		}
		out = append(out, ev)
	}
	return out, scanner.Err()
}
