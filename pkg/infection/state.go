// Package infection holds the per-definition bookkeeping of a selection run:
// whether a definition must be re-checked (infected), whether that infection
// spreads to its dependents (contagious), and why.
package infection

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ritzau/ttcn-selector/pkg/classify"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// Reasons recorded by the engine
const (
	ReasonTimestampInvalidated = "compilation timestamp invalidated by incremental parsing"
	ReasonInfectedReference    = "definition contains an infected reference"
	ReasonUnresolvedReference  = "definition contains an unresolved reference"
)

// Kind tags the variant of a State
type Kind int

const (
	Plain Kind = iota
	Component
)

func (k Kind) String() string {
	if k == Component {
		return "component"
	}
	return "plain"
}

// ComponentExtra is the payload of component-type states: references collected
// from the nested field definitions.
type ComponentExtra struct {
	FieldRefs classify.NameSet
}

// State is the infection state of one definition during one selection run.
// Infected and Contagious only ever go from false to true.
type State struct {
	module     string
	definition *model.Definition
	kind       Kind
	component  *ComponentExtra

	infected   bool
	contagious bool

	contagiousRefs    classify.NameSet
	nonContagiousRefs classify.NameSet
	infectedRefs      classify.NameSet
	reasons           []string
}

// NewState builds the state of a definition from its classified references.
// Definitions with unresolved references start out infected and contagious.
func NewState(module string, def *model.Definition, refs classify.ReferenceSet) *State {
	s := &State{
		module:            module,
		definition:        def,
		kind:              Plain,
		contagiousRefs:    cloneOrNew(refs.Contagious),
		nonContagiousRefs: cloneOrNew(refs.NonContagious),
		infectedRefs:      classify.NewNameSet(),
	}

	if def.Kind.IsComponent() {
		s.kind = Component
		s.component = &ComponentExtra{FieldRefs: cloneOrNew(refs.Fields)}
	}

	if refs.HasErrors() {
		s.Infect(ReasonUnresolvedReference, true)
		for _, n := range refs.Unresolved {
			s.infectedRefs.Add(n)
		}
	}

	return s
}

func cloneOrNew(s classify.NameSet) classify.NameSet {
	if s == nil {
		return classify.NewNameSet()
	}
	return s.Clone()
}

// Name is the display name, the key used for propagation
func (s *State) Name() string { return s.definition.Name }

// ID is the stable identity assigned when the definition was loaded
func (s *State) ID() uuid.UUID { return s.definition.ID }

// Module is the name of the owning module
func (s *State) Module() string { return s.module }

// Definition returns the underlying definition
func (s *State) Definition() *model.Definition { return s.definition }

// Kind returns the variant tag
func (s *State) Kind() Kind { return s.kind }

// Component returns the component payload, or nil for plain states
func (s *State) Component() *ComponentExtra { return s.component }

// Infected reports whether the definition must be re-checked
func (s *State) Infected() bool { return s.infected }

// Contagious reports whether the infection spreads to dependents
func (s *State) Contagious() bool { return s.contagious }

// ContagiousRefs returns the contagious reference names. Callers must not modify it.
func (s *State) ContagiousRefs() classify.NameSet { return s.contagiousRefs }

// NonContagiousRefs returns the non-contagious reference names. Callers must not modify it.
func (s *State) NonContagiousRefs() classify.NameSet { return s.nonContagiousRefs }

// MergedNonContagious returns non-contagious references together with the
// references made by nested field definitions.
func (s *State) MergedNonContagious() classify.NameSet {
	if s.component == nil || len(s.component.FieldRefs) == 0 {
		return s.nonContagiousRefs
	}
	merged := s.nonContagiousRefs.Clone()
	merged.Union(s.component.FieldRefs)
	return merged
}

// InfectedRefs returns the references that caused the infection
func (s *State) InfectedRefs() []string { return s.infectedRefs.Sorted() }

// Reasons returns the recorded causes in the order they were added
func (s *State) Reasons() []string {
	out := make([]string, len(s.reasons))
	copy(out, s.reasons)
	return out
}

// Infect marks the state infected, optionally contagious, and records reason
func (s *State) Infect(reason string, contagious bool) {
	s.infected = true
	if contagious {
		s.contagious = true
	}
	s.reasons = append(s.reasons, reason)
}

// Check updates s against another, already classified, definition. When other
// is infected and s refers to it, s becomes infected; a contagious reference
// also makes s contagious. For component states a reference from a nested
// field is checked first and promoted into the contagious set.
//
// Check reports whether s changed.
func (s *State) Check(other *State) bool {
	if other == nil || other == s || !other.infected {
		return false
	}

	name := other.Name()
	changed := false

	if s.component != nil && s.component.FieldRefs.Has(name) {
		if s.recordInfection(other, "field") {
			changed = true
		}
		if !s.contagiousRefs.Has(name) {
			s.contagiousRefs.Add(name)
			changed = true
		}
		if !s.contagious {
			s.contagious = true
			changed = true
		}
	}

	contagiousRef := s.contagiousRefs.Has(name)
	if !contagiousRef && !s.nonContagiousRefs.Has(name) {
		return changed
	}

	kind := "non-contagious"
	if contagiousRef {
		kind = "contagious"
	}
	if s.recordInfection(other, kind) {
		changed = true
	}
	if contagiousRef && !s.contagious {
		s.contagious = true
		changed = true
	}

	return changed
}

// recordInfection infects s because of other, once per referenced name
func (s *State) recordInfection(other *State, refKind string) bool {
	name := other.Name()
	if s.infected && s.infectedRefs.Has(name) {
		return false
	}
	s.infected = true
	s.infectedRefs.Add(name)
	s.reasons = append(s.reasons, fmt.Sprintf("%s reference to infected definition %s.%s", refKind, other.module, name))
	return true
}

func (s *State) String() string {
	return fmt.Sprintf("%s.%s(%s infected=%t contagious=%t)", s.module, s.Name(), s.kind, s.infected, s.contagious)
}
