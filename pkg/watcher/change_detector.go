package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ChangeAnalysis describes what changed and whether a selection run is due
type ChangeAnalysis struct {
	NeedRun      bool
	ConfigStale  bool // config changed; takes effect on restart
	Reason       string
	ChangedFiles []string
}

// AnalyzeChanges decides what a change event requires
func AnalyzeChanges(event ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	names := make([]string, 0, len(event.Paths))
	for _, p := range event.Paths {
		names = append(names, filepath.Base(p))
	}

	switch event.Type {
	case ChangeTypeSnapshot:
		// The snapshot is the project model; every change may dirty modules
		analysis.NeedRun = true
		analysis.Reason = fmt.Sprintf("snapshot changed (%s)", strings.Join(names, ", "))

	case ChangeTypeConfig:
		analysis.ConfigStale = true
		analysis.Reason = fmt.Sprintf("config changed (%s)", strings.Join(names, ", "))
	}

	return analysis
}
