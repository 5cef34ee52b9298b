package classify

import (
	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// Resolver classifies declared references and additionally binds every name
// against the definitions visible from the owning module: its own definitions
// and those of the modules it imports. Names that bind nowhere are reported as
// unresolved.
//
// A Resolver caches visibility per module and is meant to live for a single
// selection run.
type Resolver struct {
	project *model.Project
	visible map[string]NameSet
}

// NewResolver creates a resolver over a project
func NewResolver(p *model.Project) *Resolver {
	return &Resolver{
		project: p,
		visible: make(map[string]NameSet),
	}
}

// Func returns the resolver as a classification function
func (r *Resolver) Func() Func {
	return r.Classify
}

// Classify implements Func
func (r *Resolver) Classify(m *model.Module, def *model.Definition) ReferenceSet {
	refs := Declared(m, def)
	scope := r.scope(m)

	local := scope
	if def.Kind.IsComponent() && len(def.Fields) > 0 {
		local = scope.Clone()
		for _, field := range def.Fields {
			local.Add(field.Name)
		}
	}

	seen := NewNameSet(refs.Unresolved...)
	check := func(names NameSet) {
		for _, n := range names.Sorted() {
			if local.Has(n) || seen.Has(n) {
				continue
			}
			seen.Add(n)
			refs.Unresolved = append(refs.Unresolved, n)
			logging.Trace("unresolved reference", "module", m.Name, "definition", def.Name, "ref", n)
		}
	}
	check(refs.Contagious)
	check(refs.NonContagious)
	check(refs.Fields)

	return refs
}

func (r *Resolver) scope(m *model.Module) NameSet {
	if s, ok := r.visible[m.Name]; ok {
		return s
	}

	s := NewNameSet()
	for _, def := range m.Definitions {
		s.Add(def.Name)
	}
	for _, imported := range m.Imports {
		im := r.project.Module(imported)
		if im == nil {
			continue
		}
		for _, def := range im.Definitions {
			s.Add(def.Name)
		}
	}

	r.visible[m.Name] = s
	return s
}
