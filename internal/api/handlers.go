package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vrpbench/internal/experiment"
	"vrpbench/internal/model"
	"vrpbench/internal/report"
	"vrpbench/internal/store"
)

// ExperimentsHandler handles POST/GET /v1/experiments
func (s *Server) ExperimentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/experiments" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !s.Limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "experiment submissions are rate limited", r.URL.Path)
			return
		}
		var req model.ExperimentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateExperimentRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid experiment request", err.Error(), r.URL.Path)
			return
		}
		plan, err := s.planFor(req)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid experiment request", err.Error(), r.URL.Path)
			return
		}
		exp, err := s.startExperiment(r.Context(), plan)
		if errors.Is(err, errShuttingDown) {
			writeProblem(w, http.StatusServiceUnavailable, "Shutting down", err.Error(), r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Start experiment failed", err.Error(), r.URL.Path)
			return
		}
		w.Header().Set("Location", "/v1/experiments/"+exp.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{"experimentId": exp.ID, "status": exp.Status, "total": exp.Total})
	case http.MethodGet:
		limit, ok := limitParam(w, r)
		if !ok {
			return
		}
		items, next, err := s.Store.ListExperiments(r.Context(), r.URL.Query().Get("cursor"), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List experiments failed", err.Error(), r.URL.Path)
			return
		}
		if items == nil {
			items = []model.Experiment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// planFor narrows the server plan to the request.
func (s *Server) planFor(req model.ExperimentRequest) (experiment.Plan, error) {
	plan, err := s.Base.Select(req.Problems, req.FirstSolutionStrategies, req.LocalSearchStrategies)
	if err != nil {
		return experiment.Plan{}, err
	}
	if req.TimeLimitMs > 0 {
		plan.TimeLimit = time.Duration(req.TimeLimitMs) * time.Millisecond
	}
	if req.Workers > 0 {
		plan.Workers = req.Workers
	}
	if req.Seed != 0 {
		plan.Seed = req.Seed
	}
	return plan, nil
}

// ExperimentByIDHandler handles GET/DELETE /v1/experiments/{id} and GET /v1/experiments/{id}/stream
func (s *Server) ExperimentByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/experiments/")
	if rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 2 && parts[1] == "stream" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamExperiment(w, r, id)
		return
	}
	if len(parts) > 1 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		exp, err := s.Store.GetExperiment(r.Context(), id)
		if err != nil {
			writeStoreError(w, r, "Experiment", err)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	case http.MethodDelete:
		if s.cancelExperiment(id) {
			writeJSON(w, http.StatusAccepted, map[string]string{"experimentId": id, "status": "cancelling"})
			return
		}
		if _, err := s.Store.GetExperiment(r.Context(), id); err != nil {
			writeStoreError(w, r, "Experiment", err)
			return
		}
		writeProblem(w, http.StatusConflict, "Experiment not running", "", path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// streamExperiment sends run records as server-sent events until the
// experiment finishes or the client leaves.
func (s *Server) streamExperiment(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Store.GetExperiment(r.Context(), id); err != nil {
		writeStoreError(w, r, "Experiment", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"experimentId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	send := func(evt Event) {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", evt.Data)
		flusher.Flush()
	}
	heartbeat()
	// re-read after subscribing so a finish in between is not missed
	exp, err := s.Store.GetExperiment(r.Context(), id)
	if err == nil && exp.Done() {
		send(newEvent(EventExperimentFinished, exp))
		return
	}
	ticker := time.NewTicker(s.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if evt.Type == EventExperimentFinished {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

// RunsHandler handles GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	f := store.RunFilter{ExperimentID: q.Get("experimentId"), Problem: q.Get("problem"), Status: q.Get("status")}
	items, next, err := s.Store.ListRuns(r.Context(), f, q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id}. With ?format=text it returns the
// run as an entry of the results file.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "Run", err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_ = report.WriteEntry(w, report.Entry{
			Problem:       rec.Problem,
			FirstSolution: rec.FirstSolution,
			LocalSearch:   rec.LocalSearch,
			Elapsed:       time.Duration(rec.ElapsedMs) * time.Millisecond,
			Body:          rec.Summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// InstancesHandler handles GET /v1/instances
func (s *Server) InstancesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items := make([]model.InstanceOut, 0, len(s.Base.Problems))
	for _, in := range s.Base.Problems {
		items = append(items, model.Describe(in))
	}
	strategies := make([]string, 0, len(s.Base.FirstSolutions))
	for _, fs := range s.Base.FirstSolutions {
		strategies = append(strategies, fs.String())
	}
	metas := make([]string, 0, len(s.Base.Metaheuristics))
	for _, mh := range s.Base.Metaheuristics {
		metas = append(metas, mh.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":                   items,
		"firstSolutionStrategies": strategies,
		"localSearchStrategies":   metas,
	})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	type pinger interface{ Ping(ctx context.Context) error }
	if p, ok := s.Broker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", fmt.Sprintf("limit %q", v), r.URL.Path)
		return 0, false
	}
	return n, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, what+" not found", err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Get "+strings.ToLower(what)+" failed", err.Error(), r.URL.Path)
}

func storeKind(st store.Store) string {
	switch st.(type) {
	case *store.Postgres:
		return "postgres"
	case *store.SQLite:
		return "sqlite"
	case *store.Memory:
		return "memory"
	default:
		return fmt.Sprintf("%T", st)
	}
}
