package cycles

import (
	"github.com/ritzau/ttcn-selector/pkg/graph"
)

// ImportCycle is a set of modules that import each other, directly or not.
// Selection tolerates them; they are only reported.
type ImportCycle struct {
	Modules []string `json:"modules"`
}

// FindImportCycles finds all import cycles of the project, in project order
func FindImportCycles(ig *graph.ImportGraph) []ImportCycle {
	sccs := NewTarjanSCC(ig.Graph()).FindSCCs()

	cycles := make([]ImportCycle, 0, len(sccs))
	for _, scc := range sccs {
		modules := make([]string, 0, len(scc))
		for _, id := range scc {
			if name, ok := ig.NameOf(id); ok {
				modules = append(modules, name)
			}
		}
		if len(modules) > 1 {
			cycles = append(cycles, ImportCycle{Modules: modules})
		}
	}
	return cycles
}
