package checker

import (
	"context"
	"sync"

	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// Call is one invocation recorded by a DryRun checker
type Call struct {
	Op          string   `json:"op"` // "module", "definitions" or "postcheck"
	Module      string   `json:"module"`
	Definitions []string `json:"definitions,omitempty"`
}

// DryRun stands in for the real semantic checker: it logs and records what
// would be checked without checking anything.
type DryRun struct {
	mu    sync.Mutex
	calls []Call
}

// NewDryRun creates a dry-run checker
func NewDryRun() *DryRun {
	return &DryRun{}
}

func (d *DryRun) CheckModule(ctx context.Context, m *model.Module) {
	logging.InfoContext(ctx, "would check module", "module", m.Name, "definitions", len(m.Definitions))
	d.record(Call{Op: "module", Module: m.Name})
}

func (d *DryRun) CheckDefinitions(ctx context.Context, m *model.Module, defs []*model.Definition) {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	logging.InfoContext(ctx, "would check definitions", "module", m.Name, "definitions", names)
	d.record(Call{Op: "definitions", Module: m.Name, Definitions: names})
}

func (d *DryRun) PostCheck(ctx context.Context, m *model.Module) {
	logging.DebugContext(ctx, "would post-check module", "module", m.Name)
	d.record(Call{Op: "postcheck", Module: m.Name})
}

func (d *DryRun) record(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

// Calls returns the recorded invocations in order
func (d *DryRun) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Reset forgets recorded invocations
func (d *DryRun) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}
