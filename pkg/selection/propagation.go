package selection

import (
	"context"
	"fmt"
	"sort"

	"github.com/ritzau/ttcn-selector/pkg/classify"
	"github.com/ritzau/ttcn-selector/pkg/graph"
	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// propagation is the state of one fine-grained run: the definition states of
// every module touched so far and the modules retained for the result.
type propagation struct {
	classify classify.Func
	index    infection.IndexFunc
	graph    *graph.ImportGraph
	modules  map[string]*model.Module

	states    map[string][]*infection.State // materialized once per run
	retained  map[string]bool
	ambiguous map[string]map[string]bool
}

func newPropagation(cl classify.Func, index infection.IndexFunc, ig *graph.ImportGraph, modules []*model.Module) *propagation {
	p := &propagation{
		classify:  cl,
		index:     index,
		graph:     ig,
		modules:   make(map[string]*model.Module, len(modules)),
		states:    make(map[string][]*infection.State),
		retained:  make(map[string]bool),
		ambiguous: make(map[string]map[string]bool),
	}
	for _, m := range modules {
		if _, exists := p.modules[m.Name]; !exists {
			p.modules[m.Name] = m
		}
	}
	return p
}

// materialize classifies all definitions of a module once per run
func (p *propagation) materialize(name string) []*infection.State {
	if states, ok := p.states[name]; ok {
		return states
	}

	m := p.modules[name]
	states := make([]*infection.State, 0, len(m.Definitions))
	for _, def := range m.Definitions {
		states = append(states, infection.NewState(m.Name, def, p.classify(m, def)))
	}
	p.states[name] = states

	logging.Trace("materialized module", "module", name, "definitions", len(states))
	return states
}

// seed infects the definitions of a start module
func (p *propagation) seed(name string) {
	states := p.materialize(name)

	if p.modules[name].LastChecked == nil {
		for _, s := range states {
			s.Infect(infection.ReasonTimestampInvalidated, true)
		}
	}
	p.closeModule(name, states)

	if hasInfected(states) {
		p.retained[name] = true
	}
}

// run spreads infection from the start modules along the inverted import
// graph. The worklist only grows at the tail, so modules are visited
// breadth-first and each at most once.
func (p *propagation) run(ctx context.Context, start []string) ([]string, error) {
	for _, name := range start {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("seeding start modules: %w", err)
		}
		p.seed(name)
	}

	worklist := make([]string, 0, len(start))
	queued := make(map[string]bool, len(start))
	for _, name := range start {
		if !queued[name] {
			queued[name] = true
			worklist = append(worklist, name)
		}
	}

	for i := 0; i < len(worklist); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("propagating infection: %w", err)
		}

		name := worklist[i]
		sources := contagiousInfected(p.states[name])
		if len(sources) == 0 {
			continue
		}

		for _, importer := range p.graph.Importers(name) {
			states := p.materialize(importer)
			for _, src := range sources {
				for _, s := range states {
					s.Check(src)
				}
			}
			p.closeModule(importer, states)

			if !hasInfected(states) {
				delete(p.retained, importer)
				logging.Trace("importer stays clean", "module", importer, "via", name)
				continue
			}

			p.retained[importer] = true
			if !queued[importer] {
				queued[importer] = true
				worklist = append(worklist, importer)
				logging.Debug("module infected through import", "module", importer, "via", name)
			}
		}
	}

	var order []string
	for _, name := range worklist {
		if p.retained[name] {
			order = append(order, name)
		}
	}
	return order, nil
}

// infected returns the infected states of a retained module
func (p *propagation) infected(name string) []*infection.State {
	var out []*infection.State
	for _, s := range p.states[name] {
		if s.Infected() {
			out = append(out, s)
		}
	}
	return out
}

// closeModule runs the closure of one module and remembers names the index
// found on more than one infected definition
func (p *propagation) closeModule(name string, states []*infection.State) {
	broken, notBroken := infection.Partition(states)
	idx := p.index(broken...)
	infection.Close(broken, notBroken, idx)

	a, ok := idx.(interface{ Ambiguous() []string })
	if !ok {
		return
	}
	for _, dup := range a.Ambiguous() {
		if p.ambiguous[name] == nil {
			p.ambiguous[name] = make(map[string]bool)
		}
		p.ambiguous[name][dup] = true
	}
}

func (p *propagation) ambiguousNames(name string) []string {
	names := make([]string, 0, len(p.ambiguous[name]))
	for n := range p.ambiguous[name] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func hasInfected(states []*infection.State) bool {
	for _, s := range states {
		if s.Infected() {
			return true
		}
	}
	return false
}

func contagiousInfected(states []*infection.State) []*infection.State {
	var out []*infection.State
	for _, s := range states {
		if s.Infected() && s.Contagious() {
			out = append(out, s)
		}
	}
	return out
}
