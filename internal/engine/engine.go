// Package engine executes jobs: it loads definitions, substitutes step
// arguments, resolves each step's target through the registry, invokes
// the target unless previewing, and records the run on the event trail.
//
// Steps run strictly in document order, one at a time. There is no retry
// and no rollback: the run halts at the first failing step, and the
// outcomes of steps that already succeeded remain in the partial result.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stepwise-cli/stepwise/internal/events"
	"github.com/stepwise-cli/stepwise/internal/jobs"
	"github.com/stepwise-cli/stepwise/internal/models"
	"github.com/stepwise-cli/stepwise/internal/registry"
	"github.com/stepwise-cli/stepwise/internal/subst"
)

// History receives completed runs for persistence. The engine treats it
// as optional: without one, runs leave no trace beyond the event log.
type History interface {
	RecordRun(res *models.Result) error
}

// Engine owns the run lifecycle. Every collaborator is injected; the
// engine never locates its own configuration and performs no side effects
// beyond the event log and the optional history sink.
type Engine struct {
	JobsDir  string
	Registry *registry.Registry
	Events   *events.Log
	History  History
}

func New(jobsDir string, reg *registry.Registry, log *events.Log) *Engine {
	return &Engine{
		JobsDir:  jobsDir,
		Registry: reg,
		Events:   log,
	}
}

// Request describes one run of one job.
type Request struct {
	JobID     string
	Variables map[string]string
	DryRun    bool
}

// StepError wraps the error raised by an invoked step function.
type StepError struct {
	Step string
	Call string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %v", e.Step, e.Call, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Run executes one job. The returned Result is non-nil whenever a run
// was started: on failure it carries the outcomes accumulated before the
// failing step alongside the returned error. An unknown job identifier
// fails before any event is emitted.
func (e *Engine) Run(ctx context.Context, req Request) (*models.Result, error) {
	defs, err := jobs.LoadAll(e.JobsDir)
	if err != nil {
		return nil, err
	}

	job, ok := defs[req.JobID]
	if !ok {
		return nil, &jobs.NotFoundError{JobID: req.JobID, Known: jobs.KnownIDs(defs)}
	}

	res := &models.Result{
		RunID:     newRunID(req.JobID),
		Status:    models.RunStatusSuccess,
		Steps:     []*models.StepOutcome{},
		JobID:     req.JobID,
		DryRun:    req.DryRun,
		StartedAt: time.Now().UTC(),
	}

	if err := e.Events.Append(events.JobStarted, res.RunID, "success",
		map[string]any{"job_id": req.JobID, "dry_run": req.DryRun}, ""); err != nil {
		return nil, err
	}

	runErr := e.runSteps(ctx, job, req, res)

	completed := time.Now().UTC()
	res.CompletedAt = &completed

	if runErr != nil {
		res.Status = models.RunStatusFailed
		res.Error = runErr.Error()
		e.Events.Append(events.JobFailed, res.RunID, "failed",
			map[string]any{"job_id": req.JobID}, runErr.Error())
	} else if err := e.Events.Append(events.JobCompleted, res.RunID, "success",
		map[string]any{"job_id": req.JobID}, ""); err != nil {
		runErr = err
	}

	if e.History != nil {
		if herr := e.History.RecordRun(res); herr != nil && runErr == nil {
			runErr = fmt.Errorf("record run history: %w", herr)
		}
	}

	return res, runErr
}

func (e *Engine) runSteps(ctx context.Context, job *models.Job, req Request, res *models.Result) error {
	for _, step := range job.Steps {
		name := step.Name
		if name == "" {
			name = "unnamed"
		}

		args := subst.ApplyMap(step.Args, req.Variables)
		if err := subst.Check(args, name, req.Variables); err != nil {
			res.Steps = append(res.Steps, failedOutcome(name, step.Call, args, err))
			return err
		}

		// Resolved in dry runs too, so not-allowed and not-found
		// surface before anyone runs the job for real.
		fn, err := e.Registry.Resolve(step.Call)
		if err != nil {
			res.Steps = append(res.Steps, failedOutcome(name, step.Call, args, err))
			return err
		}

		if req.DryRun {
			res.Steps = append(res.Steps, &models.StepOutcome{
				Step:   name,
				Call:   step.Call,
				Status: models.StepStatusSkipped,
				Args:   args,
				DryRun: true,
			})
			continue
		}

		result, err := fn(ctx, args)
		if err != nil {
			serr := &StepError{Step: name, Call: step.Call, Err: err}
			res.Steps = append(res.Steps, failedOutcome(name, step.Call, args, serr))
			return serr
		}

		res.Steps = append(res.Steps, &models.StepOutcome{
			Step:   name,
			Call:   step.Call,
			Status: models.StepStatusSuccess,
			Args:   args,
			Result: result,
		})

		if err := e.Events.Append(events.StepCompleted, res.RunID, "success",
			map[string]any{"step": name, "call": step.Call}, ""); err != nil {
			return err
		}
	}
	return nil
}

func failedOutcome(name, call string, args map[string]any, err error) *models.StepOutcome {
	return &models.StepOutcome{
		Step:   name,
		Call:   call,
		Status: models.StepStatusFailed,
		Args:   args,
		Error:  err.Error(),
	}
}

// newRunID builds the run's correlation identifier:
// <job>-<utc timestamp>-<random suffix>.
func newRunID(jobID string) string {
	return fmt.Sprintf("%s-%s-%s",
		jobID,
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString()[:8])
}
