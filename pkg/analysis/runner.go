// Package analysis runs the selection pipeline end to end: load the project
// snapshot, reconcile it with the recorded check state, select, check and
// record the outcome.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ritzau/ttcn-selector/pkg/checker"
	"github.com/ritzau/ttcn-selector/pkg/classify"
	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
	"github.com/ritzau/ttcn-selector/pkg/project"
	"github.com/ritzau/ttcn-selector/pkg/pubsub"
	"github.com/ritzau/ttcn-selector/pkg/report"
	"github.com/ritzau/ttcn-selector/pkg/selection"
	"github.com/ritzau/ttcn-selector/pkg/state"
)

const totalSteps = 4

// ErrNoRun is returned by Last before the first successful run
var ErrNoRun = errors.New("no selection run yet")

// Options configures a Runner
type Options struct {
	// Snapshot is the path of the project snapshot file
	Snapshot  string
	Selection selection.Config

	// DebugOut receives the infection report when Selection.Debug is set;
	// stderr when empty
	DebugOut string

	// DryRun previews a run without recording modules as checked
	DryRun bool
}

// RunOptions describes one run
type RunOptions struct {
	Reason string // e.g., "initial run", "snapshot changed"
}

// Outcome is everything one run produced
type Outcome struct {
	RunID       string
	Project     *model.Project
	Changes     project.Changes
	Invalidated []string
	Result      *selection.Result
	Summary     checker.Summary
	StartedAt   time.Time
}

// Report returns the printable form of the outcome
func (o *Outcome) Report(snapshot string, dryRun bool) report.Run {
	return report.Run{
		Project:  o.Project.Name,
		RunID:    o.RunID,
		Changes:  o.Changes,
		Result:   o.Result,
		Checked:  o.Summary,
		DryRun:   dryRun,
		Modules:  len(o.Project.Modules),
		Snapshot: snapshot,
	}
}

// Runner orchestrates selection runs
type Runner struct {
	opts      Options
	store     *state.Store
	checker   checker.SemanticChecker
	publisher pubsub.Publisher
	now       func() time.Time

	mu sync.Mutex // Prevent concurrent runs

	lastMu sync.RWMutex
	last   *Outcome
}

// NewRunner creates a runner. store and publisher may be nil.
func NewRunner(opts Options, store *state.Store, c checker.SemanticChecker, publisher pubsub.Publisher) *Runner {
	return &Runner{
		opts:      opts,
		store:     store,
		checker:   c,
		publisher: publisher,
		now:       time.Now,
	}
}

// Options returns the runner configuration
func (r *Runner) Options() Options {
	return r.opts
}

// Last returns the outcome of the most recent successful run
func (r *Runner) Last() (*Outcome, error) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	if r.last == nil {
		return nil, ErrNoRun
	}
	return r.last, nil
}

// History returns the most recent recorded runs of the last run's project
func (r *Runner) History(ctx context.Context, limit int) ([]state.Run, error) {
	last, err := r.Last()
	if err != nil || r.store == nil {
		return nil, err
	}
	return r.store.Runs(ctx, last.Project.Name, limit)
}

// Forget drops the recorded check state of the last run's project. The next
// run trusts the snapshot timestamps again.
func (r *Runner) Forget(ctx context.Context) error {
	last, err := r.Last()
	if err != nil {
		return err
	}
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Forget(ctx, last.Project.Name); err != nil {
		return err
	}
	logging.InfoContext(ctx, "forgot recorded check state", "project", last.Project.Name)
	return nil
}

// Run executes one selection run with the given options
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	out := &Outcome{RunID: runID, StartedAt: r.now()}

	logging.InfoContext(ctx, "starting selection run", "reason", opts.Reason)

	if err := r.run(ctx, out); err != nil {
		logging.ErrorContext(ctx, "selection run failed", "error", err)
		r.publishStatus(runID, pubsub.StateFailed, err.Error(), 0)
		return nil, err
	}

	r.lastMu.Lock()
	r.last = out
	r.lastMu.Unlock()

	r.publishStatus(runID, pubsub.StateReady, "Selection complete", totalSteps)
	r.publishResult(out)

	logging.InfoContext(ctx, "selection run complete",
		"reason", opts.Reason,
		"modules", out.Summary.ModulesChecked,
		"definitions", out.Summary.DefinitionsChecked,
		"durationMs", r.now().Sub(out.StartedAt).Milliseconds())
	return out, nil
}

func (r *Runner) run(ctx context.Context, out *Outcome) error {
	r.publishStatus(out.RunID, pubsub.StateLoading, "Loading project snapshot...", 1)

	p, err := project.Load(r.opts.Snapshot)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	out.Project = p

	var records map[string]state.Record
	if r.store != nil {
		records, err = r.store.Records(ctx, p.Name)
		if err != nil {
			return fmt.Errorf("reading check state: %w", err)
		}
	}

	restore(p, records)
	out.Changes = project.Diff(state.Fingerprints(records), p)
	out.Invalidated = project.Invalidate(p, out.Changes)
	if !out.Changes.Empty() {
		logging.InfoContext(ctx, "project changed",
			"added", len(out.Changes.Added),
			"changed", len(out.Changes.Changed),
			"removed", len(out.Changes.Removed))
	}

	r.publishStatus(out.RunID, pubsub.StateSelecting, "Selecting definitions...", 2)

	cfg := r.opts.Selection
	if cfg.Classify == nil {
		cfg.Classify = classify.NewResolver(p).Func()
	}
	sel, err := selection.New(cfg)
	if err != nil {
		return err
	}

	res, err := sel.Select(ctx, selection.Input{
		Modules: p.Modules,
		Checked: state.CheckedSet(records, p.Modules),
	})
	if err != nil {
		return fmt.Errorf("selecting: %w", err)
	}
	out.Result = res

	r.publishStatus(out.RunID, pubsub.StateChecking, "Checking selected definitions...", 3)

	out.Summary = checker.NewOrchestrator(r.checker).Check(ctx, res, r.now())

	if r.store != nil && !r.opts.DryRun {
		if err := r.store.Save(ctx, p.Name, p.Modules); err != nil {
			return fmt.Errorf("saving check state: %w", err)
		}
		err := r.store.AddRun(ctx, state.Run{
			ID:          out.RunID,
			Project:     p.Name,
			Mode:        string(res.Mode),
			StartedAt:   out.StartedAt,
			Modules:     len(p.Modules),
			Checked:     out.Summary.ModulesChecked,
			Definitions: out.Summary.DefinitionsChecked,
		})
		if err != nil {
			logging.WarnContext(ctx, "could not record run", "error", err)
		}
	}

	if cfg.Debug {
		if err := r.writeDebug(res); err != nil {
			logging.WarnContext(ctx, "could not write debug report", "error", err)
		}
	}
	return nil
}

// restore gives modules without a timestamp in the snapshot the timestamp of
// their last recorded check, as long as their content is unchanged
func restore(p *model.Project, records map[string]state.Record) {
	for _, m := range p.Modules {
		if m.LastChecked != nil {
			continue
		}
		if rec, ok := records[m.Name]; ok && rec.Fingerprint == m.Fingerprint {
			checkedAt := rec.CheckedAt
			m.LastChecked = &checkedAt
		}
	}
}

func (r *Runner) writeDebug(res *selection.Result) error {
	if r.opts.DebugOut == "" {
		return report.WriteDebug(os.Stderr, res)
	}

	f, err := os.Create(r.opts.DebugOut)
	if err != nil {
		return fmt.Errorf("creating debug report: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return report.WriteDebug(f, res)
}

func (r *Runner) publishStatus(runID, st, message string, step int) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.Publish(pubsub.TopicSelectionStatus, st, pubsub.SelectionStatus{
		RunID:   runID,
		State:   st,
		Message: message,
		Step:    step,
		Total:   totalSteps,
	})
	if err != nil {
		logging.Debug("could not publish status", "state", st, "error", err)
	}
}

func (r *Runner) publishResult(out *Outcome) {
	if r.publisher == nil {
		return
	}

	res := out.Result
	modules := make([]string, 0, len(res.ModulesToCheck))
	for _, m := range res.ModulesToCheck {
		modules = append(modules, m.Name)
	}

	err := r.publisher.Publish(pubsub.TopicSelectionResult, string(res.Mode), pubsub.SelectionSummary{
		RunID:               out.RunID,
		Mode:                string(res.Mode),
		WholeModule:         res.WholeModule,
		DirtyRatio:          res.DirtyRatio,
		StartModules:        res.StartModules,
		ModulesToCheck:      modules,
		ModulesSkipped:      len(res.ModulesToSkip),
		InfectedDefinitions: res.InfectedCount(),
		DurationMs:          out.Summary.Duration.Milliseconds(),
	})
	if err != nil {
		logging.Debug("could not publish result", "error", err)
	}
}
