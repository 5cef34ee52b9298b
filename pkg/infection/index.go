package infection

import (
	"sort"

	"github.com/google/uuid"
)

// Index looks up states of broken definitions while infection spreads.
//
// Propagation matches references by display name. NameIndex keeps that
// behavior; IDIndex keys by the stable definition ID and only uses names as a
// secondary lookup, so the two can be swapped once references carry IDs.
type Index interface {
	Add(s *State)
	Lookup(name string) (*State, bool)
	Len() int
}

// IndexFunc builds the index used while closing a module
type IndexFunc func(states ...*State) Index

// ByName builds a NameIndex
func ByName(states ...*State) Index { return NewNameIndex(states...) }

// ByID builds an IDIndex
func ByID(states ...*State) Index { return NewIDIndex(states...) }

// NameIndex keys states by display name. The first state added for a name wins.
type NameIndex map[string]*State

// NewNameIndex creates a name index holding states
func NewNameIndex(states ...*State) NameIndex {
	idx := make(NameIndex, len(states))
	for _, s := range states {
		idx.Add(s)
	}
	return idx
}

func (idx NameIndex) Add(s *State) {
	if _, exists := idx[s.Name()]; !exists {
		idx[s.Name()] = s
	}
}

func (idx NameIndex) Lookup(name string) (*State, bool) {
	s, ok := idx[name]
	return s, ok
}

func (idx NameIndex) Len() int { return len(idx) }

// IDIndex keys states by definition ID with a name lookup on the side
type IDIndex struct {
	byID   map[uuid.UUID]*State
	byName map[string][]*State
}

// NewIDIndex creates an ID index holding states
func NewIDIndex(states ...*State) *IDIndex {
	idx := &IDIndex{
		byID:   make(map[uuid.UUID]*State, len(states)),
		byName: make(map[string][]*State, len(states)),
	}
	for _, s := range states {
		idx.Add(s)
	}
	return idx
}

func (idx *IDIndex) Add(s *State) {
	if _, exists := idx.byID[s.ID()]; exists {
		return
	}
	idx.byID[s.ID()] = s
	idx.byName[s.Name()] = append(idx.byName[s.Name()], s)
}

// Lookup returns the first state registered under name
func (idx *IDIndex) Lookup(name string) (*State, bool) {
	states := idx.byName[name]
	if len(states) == 0 {
		return nil, false
	}
	return states[0], true
}

// LookupID returns the state of the definition with the given ID
func (idx *IDIndex) LookupID(id uuid.UUID) (*State, bool) {
	s, ok := idx.byID[id]
	return s, ok
}

// Ambiguous reports names shared by more than one registered definition, sorted
func (idx *IDIndex) Ambiguous() []string {
	var names []string
	for name, states := range idx.byName {
		if len(states) > 1 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (idx *IDIndex) Len() int { return len(idx.byID) }
