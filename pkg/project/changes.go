package project

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

// canonical forms exclude IDs and timestamps so that only content counts
type canonicalDefinition struct {
	Name          string                `json:"n"`
	Kind          model.DefinitionKind  `json:"k"`
	Contagious    []string              `json:"c,omitempty"`
	NonContagious []string              `json:"nc,omitempty"`
	Unresolved    []string              `json:"u,omitempty"`
	Extends       []string              `json:"e,omitempty"`
	Fields        []canonicalDefinition `json:"f,omitempty"`
}

type canonicalModule struct {
	Imports     []string              `json:"i,omitempty"`
	Definitions []canonicalDefinition `json:"d,omitempty"`
}

func canonical(defs []*model.Definition) []canonicalDefinition {
	out := make([]canonicalDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, canonicalDefinition{
			Name:          def.Name,
			Kind:          def.Kind,
			Contagious:    def.Contagious,
			NonContagious: def.NonContagious,
			Unresolved:    def.Unresolved,
			Extends:       def.Extends,
			Fields:        canonical(def.Fields),
		})
	}
	return out
}

// Fingerprint hashes the content of a module: its imports and definitions
func Fingerprint(m *model.Module) string {
	data, err := json.Marshal(canonicalModule{
		Imports:     m.Imports,
		Definitions: canonical(m.Definitions),
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Changes lists modules that differ between two versions of a project
type Changes struct {
	Added   []string `json:"added,omitempty"`
	Changed []string `json:"changed,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether nothing changed
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

// Diff compares the fingerprints of a previous version (module name to
// fingerprint) with the current project. A nil previous map means there is no
// history, so nothing is reported.
func Diff(previous map[string]string, current *model.Project) Changes {
	var c Changes
	if previous == nil {
		return c
	}

	present := make(map[string]bool, len(current.Modules))
	for _, m := range current.Modules {
		present[m.Name] = true
		old, known := previous[m.Name]
		switch {
		case !known:
			c.Added = append(c.Added, m.Name)
		case old != m.Fingerprint:
			c.Changed = append(c.Changed, m.Name)
		}
	}

	for name := range previous {
		if !present[name] {
			c.Removed = append(c.Removed, name)
		}
	}
	sort.Strings(c.Removed)
	return c
}

// Invalidate clears the timestamp of every added or changed module, which is
// what an incremental re-parse does to the modules it touched. Importers of
// removed modules are invalidated too since their imports no longer resolve.
func Invalidate(p *model.Project, c Changes) []string {
	removed := make(map[string]bool, len(c.Removed))
	for _, name := range c.Removed {
		removed[name] = true
	}

	touched := make(map[string]bool)
	for _, name := range append(append([]string{}, c.Added...), c.Changed...) {
		touched[name] = true
	}
	for _, m := range p.Modules {
		for _, imp := range m.Imports {
			if removed[imp] {
				touched[m.Name] = true
			}
		}
	}

	var invalidated []string
	for _, m := range p.Modules {
		if touched[m.Name] {
			m.Invalidate()
			invalidated = append(invalidated, m.Name)
		}
	}

	if len(invalidated) > 0 {
		logging.Debug("invalidated modules", "modules", invalidated)
	}
	return invalidated
}
