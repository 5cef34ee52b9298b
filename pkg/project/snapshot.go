// Package project loads the in-memory project model the selection engine
// works on. A snapshot is a YAML file listing the modules of a TTCN-3 project
// with their imports and the references each definition makes, as the host's
// parser and resolver would report them.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ritzau/ttcn-selector/pkg/model"
)

var (
	// ErrDuplicateModule is returned when two modules share a name
	ErrDuplicateModule = errors.New("duplicate module")
	// ErrInvalidSnapshot is returned for snapshots that parse but make no sense
	ErrInvalidSnapshot = errors.New("invalid project snapshot")
)

// Load reads and parses a snapshot file. A project without a name is named
// after the file.
func Load(path string) (*model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse decodes a snapshot, validates it, assigns definition IDs and computes
// module fingerprints.
func Parse(data []byte) (*model.Project, error) {
	var p model.Project

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	if err := validate(&p); err != nil {
		return nil, err
	}

	for _, m := range p.Modules {
		assignIDs(m.Definitions)
		m.Fingerprint = Fingerprint(m)
	}
	p.Reindex()
	return &p, nil
}

func validate(p *model.Project) error {
	seen := make(map[string]bool, len(p.Modules))
	for i, m := range p.Modules {
		if m == nil || m.Name == "" {
			return fmt.Errorf("%w: module #%d has no name", ErrInvalidSnapshot, i+1)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
		}
		seen[m.Name] = true

		for j, def := range m.Definitions {
			if def == nil || def.Name == "" {
				return fmt.Errorf("%w: definition #%d of module %s has no name", ErrInvalidSnapshot, j+1, m.Name)
			}
			if len(def.Fields) > 0 && !def.Kind.IsComponent() {
				return fmt.Errorf("%w: %s.%s has fields but is not a component", ErrInvalidSnapshot, m.Name, def.Name)
			}
		}
	}
	return nil
}

func assignIDs(defs []*model.Definition) {
	for _, def := range defs {
		if def.ID == uuid.Nil {
			def.ID = uuid.New()
		}
		assignIDs(def.Fields)
	}
}

// Marshal encodes a project back into snapshot form
func Marshal(p *model.Project) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	return buf.Bytes(), nil
}
