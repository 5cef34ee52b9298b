package selection

import (
	"context"
	"fmt"

	"github.com/ritzau/ttcn-selector/pkg/classify"
	"github.com/ritzau/ttcn-selector/pkg/graph"
	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/logging"
)

// Original selects every module for a whole-module check
type Original struct{}

func (o *Original) Mode() Mode { return ModeOriginal }

func (o *Original) Select(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("original selection: %w", err)
	}

	ig, start := graph.Build(in.Modules, in.Checked)
	res := newResult(ModeOriginal, ig, start)
	res.WholeModule = true
	res.DirtyRatio = dirtyRatio(len(start), len(in.Modules))
	res.ModulesToCheck = append(res.ModulesToCheck, in.Modules...)

	logging.DebugContext(ctx, "original selection", "modules", len(res.ModulesToCheck))
	return res, nil
}

// BrokenParts selects definitions by following references from dirty modules
type BrokenParts struct {
	cfg Config
}

// NewBrokenParts creates the reference-following selector
func NewBrokenParts(cfg Config) *BrokenParts {
	if cfg.Classify == nil {
		cfg.Classify = classify.Declared
	}
	if cfg.Index == nil {
		cfg.Index = infection.ByName
	}
	return &BrokenParts{cfg: cfg}
}

func (b *BrokenParts) Mode() Mode { return ModeBrokenReferencesInverted }

func (b *BrokenParts) Select(ctx context.Context, in Input) (*Result, error) {
	ig, start := graph.Build(in.Modules, in.Checked)
	res := newResult(ModeBrokenReferencesInverted, ig, start)
	if len(in.Modules) == 0 {
		return res, nil
	}

	res.DirtyRatio = dirtyRatio(len(start), len(in.Modules))
	if res.DirtyRatio >= b.cfg.BrokenModulesLimit {
		logging.InfoContext(ctx, "too many dirty modules, selecting whole modules",
			"dirtyRatio", res.DirtyRatio, "limit", b.cfg.BrokenModulesLimit)
		return b.wholeModules(ctx, in, res)
	}

	p := newPropagation(b.cfg.Classify, b.cfg.Index, ig, in.Modules)
	order, err := p.run(ctx, start)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(order))
	for _, name := range order {
		res.Definitions[name] = p.infected(name)
		selected[name] = true
		if names := p.ambiguousNames(name); len(names) > 0 {
			res.Ambiguous[name] = names
			logging.WarnContext(ctx, "definitions share a name", "module", name, "names", names)
		}
		if b.cfg.Debug {
			for _, s := range res.Definitions[name] {
				logging.DebugContext(ctx, "selected definition",
					"module", name, "definition", s.Name(), "contagious", s.Contagious(),
					"infectedRefs", s.InfectedRefs(), "reasons", s.Reasons())
			}
		}
	}
	res.order = order
	res.split(in.Modules, selected)

	logging.DebugContext(ctx, "selected definitions by references",
		"startModules", len(start), "modules", len(order), "definitions", res.InfectedCount())
	return res, nil
}

// wholeModules selects every module that transitively imports a start module
func (b *BrokenParts) wholeModules(ctx context.Context, in Input, res *Result) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whole-module selection: %w", err)
	}

	res.WholeModule = true
	selected := make(map[string]bool)
	for _, name := range res.Graph.Reachable(res.StartModules) {
		selected[name] = true
	}
	res.split(in.Modules, selected)
	return res, nil
}

func dirtyRatio(dirty, total int) int {
	if total == 0 {
		return 0
	}
	return 100 * dirty / total
}
