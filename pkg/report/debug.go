package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/selection"
)

// WriteDebug writes every infected definition with its flags, the references
// that infected it and the reasons recorded along the way. Modules appear in
// the order infection reached them.
func WriteDebug(w io.Writer, res *selection.Result) error {
	var b strings.Builder

	fmt.Fprintf(&b, "mode: %s\n", res.Mode)
	fmt.Fprintf(&b, "start modules: %s\n", strings.Join(res.StartModules, " "))
	fmt.Fprintf(&b, "dirty ratio: %d%%\n", res.DirtyRatio)

	if res.WholeModule {
		b.WriteString("whole-module selection:\n")
		for _, m := range res.ModulesToCheck {
			fmt.Fprintf(&b, "  %s\n", m.Name)
		}
	} else {
		for _, name := range res.InfectedModules() {
			states := res.Definitions[name]
			fmt.Fprintf(&b, "module %s: %d infected\n", name, len(states))
			for _, s := range states {
				writeState(&b, s)
			}
			if names := res.Ambiguous[name]; len(names) > 0 {
				fmt.Fprintf(&b, "  ambiguous names: %s\n", strings.Join(names, " "))
			}
		}
	}

	if len(res.ModulesToSkip) > 0 {
		names := make([]string, 0, len(res.ModulesToSkip))
		for _, m := range res.ModulesToSkip {
			names = append(names, m.Name)
		}
		fmt.Fprintf(&b, "skipped: %s\n", strings.Join(names, " "))
	}

	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("writing debug report: %w", err)
	}
	return nil
}

func writeState(b *strings.Builder, s *infection.State) {
	fmt.Fprintf(b, "  %s [%s] infected=%t contagious=%t\n", s.Name(), s.Kind(), s.Infected(), s.Contagious())
	if refs := s.InfectedRefs(); len(refs) > 0 {
		fmt.Fprintf(b, "    infected refs: %s\n", strings.Join(refs, " "))
	}
	for _, reason := range s.Reasons() {
		fmt.Fprintf(b, "    - %s\n", reason)
	}
}
