// Package selection decides which modules and definitions must be
// semantically re-checked after an edit.
//
// Two strategies exist. Original re-checks everything. BrokenParts starts from
// the dirty modules and follows references: infection spreads along the
// inverted import graph only through contagious definitions, and inside a
// module until a fixed point. When too much of the project is dirty it falls
// back to plain import reachability.
package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/ritzau/ttcn-selector/pkg/classify"
	"github.com/ritzau/ttcn-selector/pkg/graph"
	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// Mode names a selection strategy
type Mode string

const (
	ModeOriginal                 Mode = "original"
	ModeBrokenReferencesInverted Mode = "broken-references-inverted"
)

// DefaultBrokenModulesLimit keeps fine-grained selection unless every module is dirty
const DefaultBrokenModulesLimit = 100

// Identity names how definitions are matched while closing a module
type Identity string

const (
	// IdentityName matches by display name; the first definition of a name wins
	IdentityName Identity = "name"
	// IdentityID keys definitions by their ID and reports shared names
	IdentityID Identity = "id"
)

var (
	// ErrUnknownMode is returned by New for an unsupported mode
	ErrUnknownMode = errors.New("unknown selection mode")
	// ErrUnknownIdentity is returned by IndexFor for an unsupported identity
	ErrUnknownIdentity = errors.New("unknown definition identity")
)

// IndexFor returns the index constructor of an identity
func IndexFor(id Identity) (infection.IndexFunc, error) {
	switch id {
	case IdentityName, "":
		return infection.ByName, nil
	case IdentityID:
		return infection.ByID, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, id)
	}
}

// Config configures a selector
type Config struct {
	Mode Mode

	// BrokenModulesLimit is the dirty-module percentage from which whole-module
	// selection is used instead of following references.
	BrokenModulesLimit int

	// Classify produces the references of a definition. Defaults to classify.Declared.
	Classify classify.Func

	// Index builds the lookup used inside a module. Defaults to infection.ByName.
	Index infection.IndexFunc

	// Debug logs every selected definition with its infection reasons. Hosts
	// also use it to decide whether to write the debug report.
	Debug bool
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Mode:               ModeBrokenReferencesInverted,
		BrokenModulesLimit: DefaultBrokenModulesLimit,
		Classify:           classify.Declared,
		Index:              infection.ByName,
	}
}

// Input is what the host project model supplies for one run
type Input struct {
	Modules []*model.Module
	// Checked holds the names of modules known to be semantically checked
	Checked map[string]bool
}

// Selector computes a Result for one run
type Selector interface {
	Mode() Mode
	Select(ctx context.Context, in Input) (*Result, error)
}

// New returns the selector for cfg.Mode
func New(cfg Config) (Selector, error) {
	switch cfg.Mode {
	case ModeOriginal:
		return &Original{}, nil
	case ModeBrokenReferencesInverted, "":
		return NewBrokenParts(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOriginal, ModeBrokenReferencesInverted:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Result is the outcome of one selection run
type Result struct {
	Mode Mode

	// WholeModule is true when ModulesToCheck must be checked as a whole
	// (original mode or the dirty-ratio fallback)
	WholeModule bool

	// Definitions maps module name to its infected definition states. Only
	// modules with at least one infected definition appear. Empty in
	// whole-module mode.
	Definitions map[string][]*infection.State

	ModulesToCheck []*model.Module
	ModulesToSkip  []*model.Module

	StartModules []string
	DirtyRatio   int
	Graph        *graph.ImportGraph

	// Ambiguous lists, per module, names shared by several infected
	// definitions. Only filled when the index can tell them apart.
	Ambiguous map[string][]string

	order []string
}

func newResult(mode Mode, ig *graph.ImportGraph, start []string) *Result {
	return &Result{
		Mode:         mode,
		Definitions:  make(map[string][]*infection.State),
		Ambiguous:    make(map[string][]string),
		StartModules: start,
		Graph:        ig,
	}
}

// InfectedModules returns the modules of Definitions in the order they were reached
func (r *Result) InfectedModules() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DefinitionsOf returns the infected definitions of a module
func (r *Result) DefinitionsOf(module string) []*model.Definition {
	states := r.Definitions[module]
	defs := make([]*model.Definition, 0, len(states))
	for _, s := range states {
		defs = append(defs, s.Definition())
	}
	return defs
}

// InfectedCount returns the number of infected definitions
func (r *Result) InfectedCount() int {
	count := 0
	for _, states := range r.Definitions {
		count += len(states)
	}
	return count
}

// ShouldCheck reports whether module is selected in any form
func (r *Result) ShouldCheck(module string) bool {
	for _, m := range r.ModulesToCheck {
		if m.Name == module {
			return true
		}
	}
	return false
}

// split fills ModulesToCheck and ModulesToSkip, keeping project order
func (r *Result) split(modules []*model.Module, selected map[string]bool) {
	r.ModulesToCheck = r.ModulesToCheck[:0]
	r.ModulesToSkip = r.ModulesToSkip[:0]
	for _, m := range modules {
		if selected[m.Name] {
			r.ModulesToCheck = append(r.ModulesToCheck, m)
		} else {
			r.ModulesToSkip = append(r.ModulesToSkip, m)
		}
	}
}
