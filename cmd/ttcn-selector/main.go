package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ritzau/ttcn-selector/pkg/analysis"
	"github.com/ritzau/ttcn-selector/pkg/checker"
	"github.com/ritzau/ttcn-selector/pkg/config"
	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/pubsub"
	"github.com/ritzau/ttcn-selector/pkg/report"
	"github.com/ritzau/ttcn-selector/pkg/selection"
	"github.com/ritzau/ttcn-selector/pkg/state"
	"github.com/ritzau/ttcn-selector/pkg/watcher"
	"github.com/ritzau/ttcn-selector/pkg/web"
)

func main() {
	f := pflag.NewFlagSet("ttcn-selector", pflag.ExitOnError)
	f.StringP("project", "p", "project.yaml", "Path to the project snapshot (YAML)")
	f.String("state", ".ttcn-selector/state.db", "Path to the check state database (empty disables it)")
	f.StringP("mode", "m", string(selection.ModeBrokenReferencesInverted),
		fmt.Sprintf("Selection mode: %s or %s", selection.ModeBrokenReferencesInverted, selection.ModeOriginal))
	f.String("identity", string(selection.IdentityName),
		fmt.Sprintf("Definition identity inside a module: %s or %s", selection.IdentityName, selection.IdentityID))
	f.Int("broken-modules-limit", selection.DefaultBrokenModulesLimit,
		"Dirty module percentage from which whole modules are selected")
	f.Bool("debug", false, "Write the infection report after each run")
	f.String("debug-out", "", "File for the infection report (default stderr)")
	f.String("dot-out", "", "Write the infection graph in Graphviz format to this file")
	f.Bool("dry-run", false, "Preview the selection without recording modules as checked")
	f.BoolP("watch", "w", false, "Re-run whenever the snapshot changes")
	f.Bool("web", false, "Serve the selection over HTTP")
	f.Int("port", 8080, "Port for the web server (only used with --web)")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.Bool("json-logs", false, "Log as JSON")
	_ = f.Parse(os.Args[1:])

	cfg, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logging.SetJSONOutput(cfg.JSONLogs)
	logging.SetLevel(logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("ttcn-selector failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var store *state.Store
	if cfg.State != "" {
		var err error
		store, err = state.Open(cfg.State)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
	}

	var publisher *pubsub.SSEPublisher
	if cfg.WebMode {
		publisher = web.NewPublisher()
		defer publisher.Close() //nolint:errcheck
	}

	runner := analysis.NewRunner(analysis.Options{
		Snapshot:  cfg.Project,
		Selection: cfg.Selection(),
		DebugOut:  cfg.DebugOut,
		DryRun:    cfg.DryRun,
	}, store, checker.NewDryRun(), publisherOrNil(publisher))

	if err := runOnce(ctx, runner, cfg, "initial run"); err != nil {
		if !cfg.WebMode && !cfg.Watch {
			return err
		}
		// keep serving; the next snapshot change or POST /api/run may succeed
		logging.Warn("initial run failed", "error", err)
	}

	if !cfg.WebMode && !cfg.Watch {
		return nil
	}

	var tasks []func(context.Context) error
	if cfg.Watch {
		tasks = append(tasks, func(ctx context.Context) error { return watch(ctx, runner, cfg) })
	}
	if cfg.WebMode {
		server := web.NewServer(runner, publisher)
		tasks = append(tasks, func(ctx context.Context) error { return server.Start(ctx, cfg.Port) })
	}
	return supervise(ctx, tasks...)
}

// supervise runs tasks until ctx ends or one of them returns, then cancels
// the others and waits for all of them. The first result is returned.
func supervise(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- task(ctx)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	cancel()
	wg.Wait()
	return err
}

// publisherOrNil keeps a nil *SSEPublisher from becoming a non-nil interface
func publisherOrNil(p *pubsub.SSEPublisher) pubsub.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func runOnce(ctx context.Context, runner *analysis.Runner, cfg *config.Config, reason string) error {
	out, err := runner.Run(ctx, analysis.RunOptions{Reason: reason})
	if err != nil {
		return err
	}

	report.PrintSummary(os.Stdout, out.Report(cfg.Project, cfg.DryRun))

	if cfg.DotOut != "" {
		if err := writeDot(cfg.DotOut, out); err != nil {
			logging.Warn("could not write dot graph", "path", cfg.DotOut, "error", err)
		}
	}
	return nil
}

func writeDot(path string, out *analysis.Outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck
	return report.WriteDot(f, report.BuildGraph(out.Result))
}

func watch(ctx context.Context, runner *analysis.Runner, cfg *config.Config) error {
	configPath := ""
	if _, err := os.Stat(config.FileName); err == nil {
		configPath = config.FileName
	}

	fw, err := watcher.NewFileWatcher(cfg.Project, configPath)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	debouncer := watcher.NewDebouncer(fw.Events(), 500*time.Millisecond, 5*time.Second)
	debouncer.Start(ctx)

	for event := range debouncer.Output() {
		change := watcher.AnalyzeChanges(event)
		if change.ConfigStale {
			logging.Warn("configuration changed; restart to apply it", "files", change.ChangedFiles)
		}
		if !change.NeedRun {
			continue
		}
		if err := runOnce(ctx, runner, cfg, change.Reason); err != nil {
			logging.Error("selection run failed", "reason", change.Reason, "error", err)
		}
	}
	return nil
}
