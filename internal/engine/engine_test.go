package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stepwise-cli/stepwise/internal/events"
	"github.com/stepwise-cli/stepwise/internal/jobs"
	"github.com/stepwise-cli/stepwise/internal/models"
	"github.com/stepwise-cli/stepwise/internal/registry"
	"github.com/stepwise-cli/stepwise/internal/subst"
)

// testEnv wires an engine against a temp jobs dir and event log, with a
// recording registry so tests can assert what was invoked and with what.
type testEnv struct {
	engine    *Engine
	eventPath string
	calls     []recordedCall
}

type recordedCall struct {
	call string
	args map[string]any
}

func newTestEnv(t *testing.T, jobsYAML string) *testEnv {
	t.Helper()

	jobsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(jobsDir, "jobs.yaml"), []byte(jobsYAML), 0644); err != nil {
		t.Fatal(err)
	}

	eventPath := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := events.Open(eventPath)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{eventPath: eventPath}

	reg := registry.New()
	reg.Register("shell", map[string]registry.Func{
		"run": func(ctx context.Context, args map[string]any) (map[string]any, error) {
			env.calls = append(env.calls, recordedCall{call: "shell.run", args: args})
			return map[string]any{"stdout": "ok"}, nil
		},
		"fail": func(ctx context.Context, args map[string]any) (map[string]any, error) {
			env.calls = append(env.calls, recordedCall{call: "shell.fail", args: args})
			return nil, fmt.Errorf("command exited with code 1")
		},
	})
	reg.Register("files", map[string]registry.Func{
		"clean": func(ctx context.Context, args map[string]any) (map[string]any, error) {
			env.calls = append(env.calls, recordedCall{call: "files.clean", args: args})
			return map[string]any{"count": 0}, nil
		},
	})

	env.engine = New(jobsDir, reg, log)
	return env
}

func (env *testEnv) events(t *testing.T) []events.Event {
	t.Helper()
	evs, err := events.Read(env.eventPath)
	if err != nil {
		t.Fatal(err)
	}
	return evs
}

func eventKinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestRunSuccess(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  deploy:
    description: "Two-step job"
    steps:
      - name: build
        call: shell.run
        args:
          command: "make build"
      - name: tidy
        call: files.clean
        args:
          dir: /tmp/build
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.RunStatusSuccess {
		t.Errorf("status = %q", res.Status)
	}
	if !strings.HasPrefix(res.RunID, "deploy-") {
		t.Errorf("run id %q should start with the job id", res.RunID)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(res.Steps))
	}
	for _, step := range res.Steps {
		if step.Status != models.StepStatusSuccess {
			t.Errorf("step %q status = %q", step.Step, step.Status)
		}
	}
	if res.Steps[0].Result["stdout"] != "ok" {
		t.Errorf("step result not captured: %v", res.Steps[0].Result)
	}

	kinds := eventKinds(env.events(t))
	want := []events.Kind{events.JobStarted, events.StepCompleted, events.StepCompleted, events.JobCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestRunSubstitutesVariables(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  greet:
    description: "Variable job"
    steps:
      - name: say
        call: shell.run
        args:
          command: "echo {message}"
`)

	_, err := env.engine.Run(context.Background(), Request{
		JobID:     "greet",
		Variables: map[string]string{"message": "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(env.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(env.calls))
	}
	if got := env.calls[0].args["command"]; got != "echo hello" {
		t.Errorf("command = %q, want substituted value", got)
	}
}

func TestRunUnresolvedVariableHaltsRun(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  partial:
    description: "Second step needs a variable"
    steps:
      - name: first
        call: shell.run
        args:
          command: "echo ok"
      - name: second
        call: shell.run
        args:
          command: "echo {missing_var}"
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "partial"})

	var unresolved *subst.UnresolvedError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedError, got %v", err)
	}
	if unresolved.Step != "second" {
		t.Errorf("step = %q", unresolved.Step)
	}
	if len(unresolved.Names) != 1 || unresolved.Names[0] != "missing_var" {
		t.Errorf("names = %v", unresolved.Names)
	}

	if res == nil {
		t.Fatal("failed run must still return the partial result")
	}
	if res.Status != models.RunStatusFailed {
		t.Errorf("status = %q", res.Status)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected first step's outcome plus the failed one, got %d", len(res.Steps))
	}
	if res.Steps[0].Status != models.StepStatusSuccess {
		t.Errorf("first outcome status = %q", res.Steps[0].Status)
	}
	if res.Steps[1].Status != models.StepStatusFailed {
		t.Errorf("second outcome status = %q", res.Steps[1].Status)
	}

	// The second step's function was never invoked.
	if len(env.calls) != 1 {
		t.Errorf("expected 1 invocation, got %d", len(env.calls))
	}
}

func TestRunDisallowedCall(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  sneaky:
    description: "Call outside the allowlist"
    steps:
      - name: danger
        call: other_namespace.danger
        args: {}
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "sneaky"})

	var notAllowed *registry.NotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected NotAllowedError, got %v", err)
	}
	if len(env.calls) != 0 {
		t.Error("nothing may be invoked for a disallowed call")
	}
	if res.Status != models.RunStatusFailed {
		t.Errorf("status = %q", res.Status)
	}

	kinds := eventKinds(env.events(t))
	want := []events.Kind{events.JobStarted, events.JobFailed}
	if len(kinds) != 2 || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestRunStepFunctionError(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  doomed:
    description: "Step fails mid-run"
    steps:
      - name: breaks
        call: shell.fail
        args: {}
      - name: never
        call: shell.run
        args:
          command: "echo unreachable"
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "doomed"})

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "breaks" {
		t.Errorf("step = %q", stepErr.Step)
	}
	if res.Status != models.RunStatusFailed {
		t.Errorf("status = %q", res.Status)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("expected only the failed outcome, got %d", len(res.Steps))
	}
	if res.Steps[0].Error == "" {
		t.Error("failed outcome must carry the error message")
	}

	evs := env.events(t)
	kinds := eventKinds(evs)
	want := []events.Kind{events.JobStarted, events.JobFailed}
	if len(kinds) != 2 || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Fatalf("events = %v, want %v (no step.completed for a failed step)", kinds, want)
	}
	if evs[1].ErrorMessage == "" {
		t.Error("job.failed event must carry the error message")
	}
}

func TestRunDryRun(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  preview:
    description: "Previewable job"
    steps:
      - name: one
        call: shell.run
        args:
          command: "echo {msg}"
      - name: two
        call: files.clean
        args:
          dir: /tmp/x
`)

	res, err := env.engine.Run(context.Background(), Request{
		JobID:     "preview",
		Variables: map[string]string{"msg": "hi"},
		DryRun:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.RunStatusSuccess {
		t.Errorf("status = %q", res.Status)
	}
	if len(env.calls) != 0 {
		t.Error("dry run must not invoke anything")
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(res.Steps))
	}
	for _, step := range res.Steps {
		if step.Status != models.StepStatusSkipped {
			t.Errorf("step %q status = %q, want skipped", step.Step, step.Status)
		}
		if !step.DryRun {
			t.Errorf("step %q not marked dry run", step.Step)
		}
	}
	// Substitution still happened.
	if got := res.Steps[0].Args["command"]; got != "echo hi" {
		t.Errorf("args = %v, want substituted values", res.Steps[0].Args)
	}

	kinds := eventKinds(env.events(t))
	want := []events.Kind{events.JobStarted, events.JobCompleted}
	if len(kinds) != 2 || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("events = %v, want %v (no step.completed in dry runs)", kinds, want)
	}
}

func TestRunDryRunStillResolvesCalls(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  bad_preview:
    description: "Preview catches the bad call"
    steps:
      - name: danger
        call: other_namespace.danger
        args: {}
`)

	_, err := env.engine.Run(context.Background(), Request{JobID: "bad_preview", DryRun: true})
	var notAllowed *registry.NotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("dry run must surface resolution errors, got %v", err)
	}
}

func TestRunUnknownJobEmitsNoEvents(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  real:
    description: "Exists"
    steps: []
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "ghost"})
	var notFound *jobs.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if res != nil {
		t.Error("no run starts for an unknown job")
	}
	if evs := env.events(t); len(evs) != 0 {
		t.Errorf("expected no events, got %v", eventKinds(evs))
	}
}

func TestRunUnnamedStepGetsPlaceholderName(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  anon:
    description: "Step with no name"
    steps:
      - call: shell.run
        args:
          command: "echo x"
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "anon"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps[0].Step != "unnamed" {
		t.Errorf("step name = %q", res.Steps[0].Step)
	}
}

func TestResultJSONShape(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  shape:
    description: "Result encoding"
    steps:
      - name: only
        call: shell.run
        args:
          command: "echo x"
`)

	res, err := env.engine.Run(context.Background(), Request{JobID: "shape"})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"run_id", "status", "steps"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("encoded result missing %q: %s", key, data)
		}
	}
	if len(decoded) != 3 {
		t.Errorf("encoded result has extra keys: %s", data)
	}
}

type fakeHistory struct {
	recorded []*models.Result
	err      error
}

func (h *fakeHistory) RecordRun(res *models.Result) error {
	h.recorded = append(h.recorded, res)
	return h.err
}

func TestRunRecordsHistory(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  tracked:
    description: "Recorded run"
    steps:
      - name: only
        call: shell.run
        args:
          command: "echo x"
`)

	hist := &fakeHistory{}
	env.engine.History = hist

	res, err := env.engine.Run(context.Background(), Request{JobID: "tracked"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist.recorded) != 1 || hist.recorded[0].RunID != res.RunID {
		t.Errorf("run not recorded: %v", hist.recorded)
	}
}

func TestRunFailureStillRecorded(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  doomed:
    description: "Failed runs are recorded too"
    steps:
      - name: breaks
        call: shell.fail
        args: {}
`)

	hist := &fakeHistory{}
	env.engine.History = hist

	_, err := env.engine.Run(context.Background(), Request{JobID: "doomed"})
	if err == nil {
		t.Fatal("expected run error")
	}
	if len(hist.recorded) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(hist.recorded))
	}
	if hist.recorded[0].Status != models.RunStatusFailed {
		t.Errorf("recorded status = %q", hist.recorded[0].Status)
	}
}

func TestRunIDsUnique(t *testing.T) {
	env := newTestEnv(t, `
jobs:
  repeat:
    description: "Same job twice"
    steps: []
`)

	first, err := env.engine.Run(context.Background(), Request{JobID: "repeat"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.engine.Run(context.Background(), Request{JobID: "repeat"})
	if err != nil {
		t.Fatal(err)
	}
	if first.RunID == second.RunID {
		t.Errorf("run ids collide: %q", first.RunID)
	}
}
