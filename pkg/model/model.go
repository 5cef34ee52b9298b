package model

import (
	"time"

	"github.com/google/uuid"
)

// DefinitionKind is the kind of a TTCN-3 definition (assignment)
type DefinitionKind string

const (
	KindFunction  DefinitionKind = "function"
	KindAltstep   DefinitionKind = "altstep"
	KindTestcase  DefinitionKind = "testcase"
	KindTemplate  DefinitionKind = "template"
	KindType      DefinitionKind = "type"
	KindConst     DefinitionKind = "const"
	KindModulePar DefinitionKind = "modulepar"
	KindVariable  DefinitionKind = "var"
	KindComponent DefinitionKind = "component"
	KindExternal  DefinitionKind = "external"
	KindSignature DefinitionKind = "signature"
	KindPortType  DefinitionKind = "port"
	KindUnknown   DefinitionKind = ""
)

// IsComponent reports whether definitions of this kind own nested field definitions
func (k DefinitionKind) IsComponent() bool {
	return k == KindComponent
}

// Definition is a named entity inside a module (function, template, type, component type, ...).
//
// The reference lists describe what the definition body refers to, by display name.
// They are what the host's AST visitor would report; the selection engine only sees
// them through a classify.Func.
type Definition struct {
	ID   uuid.UUID      `yaml:"-" json:"id"`
	Name string         `yaml:"name" json:"name"`
	Kind DefinitionKind `yaml:"kind" json:"kind"`

	Contagious    []string `yaml:"contagious,omitempty" json:"contagious,omitempty"`       // refs visible in the definition's contract
	NonContagious []string `yaml:"nonContagious,omitempty" json:"nonContagious,omitempty"` // refs used only internally
	Unresolved    []string `yaml:"unresolved,omitempty" json:"unresolved,omitempty"`       // refs the resolver could not bind

	// Component types only
	Extends []string      `yaml:"extends,omitempty" json:"extends,omitempty"`
	Fields  []*Definition `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Module is a TTCN-3 compilation unit
type Module struct {
	Name        string        `yaml:"name" json:"name"`
	Imports     []string      `yaml:"imports,omitempty" json:"imports,omitempty"`
	LastChecked *time.Time    `yaml:"lastChecked,omitempty" json:"lastChecked,omitempty"` // nil when never checked or invalidated
	Definitions []*Definition `yaml:"definitions,omitempty" json:"definitions,omitempty"`

	// SkipSemanticChecking is set by the checking orchestrator once selection completes
	SkipSemanticChecking bool `yaml:"-" json:"skipSemanticChecking"`

	// Fingerprint is a content hash used for change detection between snapshots
	Fingerprint string `yaml:"-" json:"fingerprint,omitempty"`
}

// Definition returns the first definition with the given display name
func (m *Module) Definition(name string) *Definition {
	for _, def := range m.Definitions {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// Defines reports whether the module has a top-level definition with the given name
func (m *Module) Defines(name string) bool {
	return m.Definition(name) != nil
}

// Invalidate clears the last-checked timestamp, as an incremental re-parse does
func (m *Module) Invalidate() {
	m.LastChecked = nil
}

// Project is the ordered list of modules the host build system knows about
type Project struct {
	Name    string    `yaml:"name" json:"name"`
	Modules []*Module `yaml:"modules" json:"modules"`

	byName map[string]*Module
}

// NewProject creates a project from an ordered module list
func NewProject(name string, modules []*Module) *Project {
	p := &Project{Name: name, Modules: modules}
	p.Reindex()
	return p
}

// Reindex rebuilds the name lookup after Modules changed
func (p *Project) Reindex() {
	p.byName = make(map[string]*Module, len(p.Modules))
	for _, m := range p.Modules {
		if _, exists := p.byName[m.Name]; !exists {
			p.byName[m.Name] = m
		}
	}
}

// Module returns the module with the given name, or nil
func (p *Project) Module(name string) *Module {
	if p.byName == nil {
		p.Reindex()
	}
	return p.byName[name]
}

// ModuleNames returns the module names in project order
func (p *Project) ModuleNames() []string {
	names := make([]string, 0, len(p.Modules))
	for _, m := range p.Modules {
		names = append(names, m.Name)
	}
	return names
}

// DefinitionCount returns the number of top-level definitions across all modules
func (p *Project) DefinitionCount() int {
	count := 0
	for _, m := range p.Modules {
		count += len(m.Definitions)
	}
	return count
}
