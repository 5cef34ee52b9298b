package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/ttcn-selector/pkg/analysis"
	"github.com/ritzau/ttcn-selector/pkg/checker"
	"github.com/ritzau/ttcn-selector/pkg/cycles"
	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/project"
	"github.com/ritzau/ttcn-selector/pkg/pubsub"
	"github.com/ritzau/ttcn-selector/pkg/report"
	"github.com/ritzau/ttcn-selector/pkg/state"
)

// SelectionView is the JSON form of a selection run
type SelectionView struct {
	RunID               string               `json:"run_id"`
	Project             string               `json:"project"`
	Mode                string               `json:"mode"`
	WholeModule         bool                 `json:"whole_module"`
	DirtyRatio          int                  `json:"dirty_ratio"`
	StartModules        []string             `json:"start_modules"`
	ModulesToCheck      []string             `json:"modules_to_check"`
	ModulesToSkip       []string             `json:"modules_to_skip"`
	InfectedDefinitions int                  `json:"infected_definitions"`
	Changes             project.Changes      `json:"changes"`
	Invalidated         []string             `json:"invalidated,omitempty"`
	Cycles              []cycles.ImportCycle `json:"cycles,omitempty"`
	Summary             checker.Summary      `json:"summary"`
	StartedAt           time.Time            `json:"started_at"`
}

// ModuleView is the JSON form of one module after a run
type ModuleView struct {
	Name        string           `json:"name"`
	Imports     []string         `json:"imports,omitempty"`
	LastChecked *time.Time       `json:"last_checked,omitempty"`
	Skip        bool             `json:"skip_semantic_checking"`
	Dirty       bool             `json:"dirty"`
	Selected    bool             `json:"selected"`
	Definitions int              `json:"definitions"`
	Infected    []DefinitionView `json:"infected,omitempty"`
}

// DefinitionView is the JSON form of an infected definition
type DefinitionView struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Contagious   bool     `json:"contagious"`
	InfectedRefs []string `json:"infected_refs,omitempty"`
	Reasons      []string `json:"reasons"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	runner    *analysis.Runner
	publisher pubsub.Publisher
}

// NewPublisher creates the publisher the runner and server share
func NewPublisher() *pubsub.SSEPublisher {
	p := pubsub.NewSSEPublisher()

	// A late subscriber sees every step of the current run but only the
	// latest result
	p.ConfigureTopic(pubsub.TopicSelectionStatus, pubsub.TopicConfig{Replay: pubsub.ReplayRun})
	p.ConfigureTopic(pubsub.TopicSelectionResult, pubsub.TopicConfig{Replay: pubsub.ReplayLatest})
	return p
}

// NewServer creates a new web server around a runner
func NewServer(runner *analysis.Runner, publisher pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		runner:    runner,
		publisher: publisher,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(logging.RequestIDMiddleware)

	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	s.router.HandleFunc("/api/selection", s.handleSelection).Methods("GET")
	s.router.HandleFunc("/api/modules", s.handleModules).Methods("GET")
	s.router.HandleFunc("/api/modules/{name}", s.handleModule).Methods("GET")
	s.router.HandleFunc("/api/graph", s.handleGraph).Methods("GET")
	s.router.HandleFunc("/api/graph.dot", s.handleGraphDot).Methods("GET")
	s.router.HandleFunc("/api/debug", s.handleDebug).Methods("GET")
	s.router.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	s.router.HandleFunc("/api/run", s.handleRun).Methods("POST")
	s.router.HandleFunc("/api/state", s.handleForget).Methods("DELETE")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	switch topic {
	case pubsub.TopicSelectionStatus, pubsub.TopicSelectionResult:
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown topic %q", topic))
		return
	}
	pubsub.Stream(w, r, s.publisher, topic)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome(w)
	if !ok {
		return
	}
	writeJSON(w, selectionView(out))
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome(w)
	if !ok {
		return
	}

	views := make([]ModuleView, 0, len(out.Project.Modules))
	for _, m := range out.Project.Modules {
		views = append(views, moduleView(out, m.Name, false))
	}
	writeJSON(w, views)
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome(w)
	if !ok {
		return
	}

	name := mux.Vars(r)["name"]
	if out.Project.Module(name) == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("module %q not found", name))
		return
	}
	writeJSON(w, moduleView(out, name, true))
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome(w)
	if !ok {
		return
	}
	g := report.BuildGraph(out.Result)
	if focus := r.URL.Query().Get("focus"); focus != "" {
		depth := -1
		if v := r.URL.Query().Get("depth"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid depth %q", v))
				return
			}
			depth = n
		}
		g = report.Focus(g, strings.Split(focus, ","), depth)
	}
	writeJSON(w, g)
}

func (s *Server) handleGraphDot(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	if err := report.WriteDot(w, report.BuildGraph(out.Result)); err != nil {
		logging.ErrorContext(r.Context(), "failed to write dot graph", "error", err)
	}
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	out, ok := s.lastOutcome(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := report.WriteDebug(w, out.Result); err != nil {
		logging.ErrorContext(r.Context(), "failed to write debug report", "error", err)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := s.runner.History(r.Context(), limit)
	switch {
	case errors.Is(err, analysis.ErrNoRun):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []state.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "requested over HTTP"
	}

	out, err := s.runner.Run(r.Context(), analysis.RunOptions{Reason: reason})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, selectionView(out))
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	err := s.runner.Forget(r.Context())
	switch {
	case errors.Is(err, analysis.ErrNoRun):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) lastOutcome(w http.ResponseWriter) (*analysis.Outcome, bool) {
	out, err := s.runner.Last()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return nil, false
	}
	return out, true
}

func selectionView(out *analysis.Outcome) SelectionView {
	res := out.Result
	v := SelectionView{
		RunID:               out.RunID,
		Project:             out.Project.Name,
		Mode:                string(res.Mode),
		WholeModule:         res.WholeModule,
		DirtyRatio:          res.DirtyRatio,
		StartModules:        nonNil(res.StartModules),
		ModulesToCheck:      make([]string, 0, len(res.ModulesToCheck)),
		ModulesToSkip:       make([]string, 0, len(res.ModulesToSkip)),
		InfectedDefinitions: res.InfectedCount(),
		Changes:             out.Changes,
		Invalidated:         out.Invalidated,
		Summary:             out.Summary,
		StartedAt:           out.StartedAt,
	}
	for _, m := range res.ModulesToCheck {
		v.ModulesToCheck = append(v.ModulesToCheck, m.Name)
	}
	for _, m := range res.ModulesToSkip {
		v.ModulesToSkip = append(v.ModulesToSkip, m.Name)
	}
	if res.Graph != nil {
		v.Cycles = cycles.FindImportCycles(res.Graph)
	}
	return v
}

func moduleView(out *analysis.Outcome, name string, detail bool) ModuleView {
	m := out.Project.Module(name)
	res := out.Result

	v := ModuleView{
		Name:        m.Name,
		Imports:     m.Imports,
		LastChecked: m.LastChecked,
		Skip:        m.SkipSemanticChecking,
		Selected:    res.ShouldCheck(name),
		Definitions: len(m.Definitions),
	}
	for _, start := range res.StartModules {
		if start == name {
			v.Dirty = true
			break
		}
	}
	if detail {
		for _, st := range res.Definitions[name] {
			v.Infected = append(v.Infected, definitionView(st))
		}
	}
	return v
}

func definitionView(st *infection.State) DefinitionView {
	return DefinitionView{
		Name:         st.Name(),
		Kind:         st.Kind().String(),
		Contagious:   st.Contagious(),
		InfectedRefs: st.InfectedRefs(),
		Reasons:      st.Reasons(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Start serves on the given port until ctx is done
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Closing the publisher ends open SSE streams
	srv.RegisterOnShutdown(func() { _ = s.publisher.Close() })

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logging.Info("stopping web server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down web server: %w", err)
		}
		return nil
	}
}
