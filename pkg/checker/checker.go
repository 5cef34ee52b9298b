// Package checker drives the semantic checker over a selection result.
package checker

import (
	"context"
	"time"

	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
	"github.com/ritzau/ttcn-selector/pkg/selection"
)

// SemanticChecker is the host's semantic analyzer. Its methods are assumed to
// be total over resolved input; the orchestrator does not guard them.
type SemanticChecker interface {
	// CheckModule checks every definition of a module
	CheckModule(ctx context.Context, m *model.Module)
	// CheckDefinitions checks only the given definitions of a module
	CheckDefinitions(ctx context.Context, m *model.Module, defs []*model.Definition)
	// PostCheck runs the module-level checks that follow definition checking
	PostCheck(ctx context.Context, m *model.Module)
}

// Summary describes what an orchestrator run did
type Summary struct {
	ModulesChecked     int           `json:"modules_checked"`
	DefinitionsChecked int           `json:"definitions_checked"`
	ModulesSkipped     int           `json:"modules_skipped"`
	WholeModule        bool          `json:"whole_module"`
	Duration           time.Duration `json:"duration_ns"`
}

// Orchestrator checks exactly what a selection result names
type Orchestrator struct {
	checker SemanticChecker
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator around a semantic checker
func NewOrchestrator(c SemanticChecker) *Orchestrator {
	return &Orchestrator{checker: c, now: time.Now}
}

// Check runs the checker over res, then the post-checks, then sets the skip
// flags: unchecked modules are flagged, checked modules are cleared and
// stamped with compiledAt.
func (o *Orchestrator) Check(ctx context.Context, res *selection.Result, compiledAt time.Time) Summary {
	start := o.now()
	summary := Summary{WholeModule: res.WholeModule}

	checked := make([]*model.Module, 0, len(res.ModulesToCheck))
	if res.WholeModule {
		for _, m := range res.ModulesToCheck {
			logging.DebugContext(ctx, "checking module", "module", m.Name)
			o.checker.CheckModule(ctx, m)
			checked = append(checked, m)
			summary.DefinitionsChecked += len(m.Definitions)
		}
	} else {
		for _, m := range res.ModulesToCheck {
			defs := res.DefinitionsOf(m.Name)
			logging.DebugContext(ctx, "checking definitions", "module", m.Name, "definitions", len(defs))
			o.checker.CheckDefinitions(ctx, m, defs)
			checked = append(checked, m)
			summary.DefinitionsChecked += len(defs)
		}
	}

	for _, m := range checked {
		o.checker.PostCheck(ctx, m)
	}

	for _, m := range res.ModulesToSkip {
		m.SkipSemanticChecking = true
	}
	for _, m := range checked {
		m.SkipSemanticChecking = false
		stamp := compiledAt
		m.LastChecked = &stamp
	}

	summary.ModulesChecked = len(checked)
	summary.ModulesSkipped = len(res.ModulesToSkip)
	summary.Duration = o.now().Sub(start)

	logging.InfoContext(ctx, "semantic check finished",
		"modules", summary.ModulesChecked,
		"definitions", summary.DefinitionsChecked,
		"skipped", summary.ModulesSkipped,
		"durationMs", summary.Duration.Milliseconds())
	return summary
}
