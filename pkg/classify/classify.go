// Package classify turns a definition into the set of names it references,
// split by whether each reference is part of the definition's observable
// contract (contagious) or purely internal (non-contagious).
//
// The selection engine only sees classification through Func, so hosts with a
// real AST can plug their own visitor in, and tests can pass synthetic graphs.
package classify

import (
	"sort"

	"github.com/ritzau/ttcn-selector/pkg/model"
)

// NameSet is a set of definition display names
type NameSet map[string]struct{}

// NewNameSet creates a set holding the given names
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts a name; empty names are ignored
func (s NameSet) Add(name string) {
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

// Has reports whether the set contains name
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Union adds every name of other
func (s NameSet) Union(other NameSet) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Clone returns an independent copy
func (s NameSet) Clone() NameSet {
	c := make(NameSet, len(s))
	c.Union(s)
	return c
}

// Sorted returns the names in lexical order
func (s NameSet) Sorted() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReferenceSet is the classification of one definition's outgoing references
type ReferenceSet struct {
	Contagious    NameSet
	NonContagious NameSet

	// Fields holds references found inside nested definitions of a component
	// type. They are non-contagious to the outside unless a field is hit.
	Fields NameSet

	// Unresolved lists references that could not be bound to any definition
	Unresolved []string
}

// NewReferenceSet creates an empty reference set
func NewReferenceSet() ReferenceSet {
	return ReferenceSet{
		Contagious:    NewNameSet(),
		NonContagious: NewNameSet(),
		Fields:        NewNameSet(),
	}
}

// HasErrors reports whether any reference is unresolved or erroneous
func (r ReferenceSet) HasErrors() bool {
	return len(r.Unresolved) > 0
}

// Func classifies one definition of a module
type Func func(m *model.Module, def *model.Definition) ReferenceSet

// Declared classifies a definition from its declared reference lists without
// any resolution: only explicitly unresolved references count as errors.
func Declared(m *model.Module, def *model.Definition) ReferenceSet {
	refs := NewReferenceSet()
	collect(def, &refs)
	return refs
}

func collect(def *model.Definition, refs *ReferenceSet) {
	for _, n := range def.Contagious {
		refs.Contagious.Add(n)
	}
	for _, n := range def.NonContagious {
		refs.NonContagious.Add(n)
	}
	refs.Unresolved = append(refs.Unresolved, def.Unresolved...)

	if !def.Kind.IsComponent() {
		return
	}

	// a component's base types are part of its public shape
	for _, n := range def.Extends {
		refs.Contagious.Add(n)
	}
	for _, field := range def.Fields {
		for _, n := range field.Contagious {
			refs.Fields.Add(n)
		}
		for _, n := range field.NonContagious {
			refs.Fields.Add(n)
		}
		refs.Unresolved = append(refs.Unresolved, field.Unresolved...)
	}
}
