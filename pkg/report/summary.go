// Package report renders selection runs for people: a colored console
// summary, a plain-text debug listing of every infected definition and a
// Graphviz view of how infection travelled.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ritzau/ttcn-selector/pkg/checker"
	"github.com/ritzau/ttcn-selector/pkg/cycles"
	"github.com/ritzau/ttcn-selector/pkg/project"
	"github.com/ritzau/ttcn-selector/pkg/selection"
)

// Run is what a summary is printed from
type Run struct {
	Project  string
	RunID    string
	Changes  project.Changes
	Result   *selection.Result
	Checked  checker.Summary
	DryRun   bool
	Modules  int
	Snapshot string
}

// PrintSummary prints a colored summary of a selection run
func PrintSummary(w io.Writer, run Run) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	res := run.Result

	bold.Fprintln(w, "TTCN-3 Semantic Check Selection")
	bold.Fprintln(w, "===============================")
	fmt.Fprintf(w, "Project: %s\n", run.Project)
	if run.Snapshot != "" {
		fmt.Fprintf(w, "Snapshot: %s\n", run.Snapshot)
	}
	fmt.Fprintf(w, "Mode: %s\n", res.Mode)
	fmt.Fprintf(w, "Modules: %d\n", run.Modules)

	if !run.Changes.Empty() {
		fmt.Fprintf(w, "Changes: %d added, %d changed, %d removed\n",
			len(run.Changes.Added), len(run.Changes.Changed), len(run.Changes.Removed))
	}

	if len(res.StartModules) == 0 {
		green.Fprintln(w, "Dirty modules: none")
	} else {
		yellow.Fprintf(w, "Dirty modules: %d (%d%%)\n", len(res.StartModules), res.DirtyRatio)
		cyan.Fprintf(w, "  %s\n", strings.Join(res.StartModules, ", "))
	}
	fmt.Fprintln(w)

	if res.WholeModule {
		bold.Fprintf(w, "MODULES TO CHECK (whole module): %d\n", len(res.ModulesToCheck))
		for _, m := range res.ModulesToCheck {
			yellow.Fprintf(w, "  %s\n", m.Name)
		}
	} else {
		bold.Fprintf(w, "DEFINITIONS TO CHECK: %d in %d module(s)\n", res.InfectedCount(), len(res.ModulesToCheck))
		for _, name := range res.InfectedModules() {
			yellow.Fprintf(w, "  %s\n", name)
			for _, s := range res.Definitions[name] {
				marker := ""
				if s.Contagious() {
					marker = " (contagious)"
				}
				fmt.Fprintf(w, "    %s%s\n", s.Name(), marker)
			}
		}
	}
	fmt.Fprintln(w)

	if res.Graph != nil {
		if found := cycles.FindImportCycles(res.Graph); len(found) > 0 {
			red.Fprintf(w, "IMPORT CYCLES: %d\n", len(found))
			for _, c := range found {
				cyan.Fprintf(w, "  %s\n", strings.Join(c.Modules, " <-> "))
			}
			fmt.Fprintln(w)
		}
	}

	summaryColor := green
	if len(res.ModulesToCheck) > 0 {
		summaryColor = yellow
	}
	if res.WholeModule && len(res.ModulesToCheck) == run.Modules && run.Modules > 0 {
		summaryColor = red
	}

	verb := "Checked"
	if run.DryRun {
		verb = "Would check"
	}
	summaryColor.Fprintf(w, "Summary: %s %d module(s), %d definition(s); skipped %d module(s)\n",
		verb, run.Checked.ModulesChecked, run.Checked.DefinitionsChecked, run.Checked.ModulesSkipped)

	if len(res.ModulesToCheck) == 0 {
		green.Fprintln(w, "✓ Nothing needs semantic checking")
	}
}
