// internal/webhook/server.go
package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/user/magpie/internal/dispatch"
	"github.com/user/magpie/internal/types"
)

// Server exposes the webhook trigger endpoints and a small read-only API
// over the run ledger.
type Server struct {
	dispatcher *dispatch.Dispatcher
	runs       types.RunStore
	steps      types.StepStore
	goals      types.GoalStore
	mux        *http.ServeMux
}

// NewServer creates a webhook Server over the given dispatcher and stores.
func NewServer(dispatcher *dispatch.Dispatcher, runs types.RunStore, steps types.StepStore, goals types.GoalStore) *Server {
	s := &Server{
		dispatcher: dispatcher,
		runs:       runs,
		steps:      steps,
		goals:      goals,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleAdHoc)
	s.mux.HandleFunc("POST /webhook/", s.handleTemplate)
	s.mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	s.mux.HandleFunc("GET /api/runs/", s.handleAPIRunSteps)
	s.mux.HandleFunc("GET /api/goals", s.handleAPIGoals)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// adHocRequest is the JSON body for POST /webhook.
type adHocRequest struct {
	Type         string          `json:"type"`
	Config       json.RawMessage `json:"config"`
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt"`
	MaxSteps     int             `json:"max_steps"`
}

func (s *Server) handleAdHoc(w http.ResponseWriter, r *http.Request) {
	var req adHocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, `{"error":"type is required"}`, http.StatusBadRequest)
		return
	}

	run, err := s.dispatcher.StartRun(r.Context(), dispatch.StartRequest{
		Type:         types.WorkflowType(req.Type),
		Trigger:      types.TriggerUser,
		Config:       req.Config,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		MaxSteps:     req.MaxSteps,
	})
	if err != nil {
		slog.Error("webhook ad-hoc start failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeRun(w, http.StatusAccepted, run)
}

// templateRequest is the optional JSON body for POST /webhook/{template}.
type templateRequest struct {
	Config       json.RawMessage `json:"config"`
	SystemPrompt string          `json:"system_prompt"`
	MaxSteps     int             `json:"max_steps"`
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if name == "" {
		http.Error(w, `{"error":"template name required"}`, http.StatusBadRequest)
		return
	}

	req := dispatch.StartRequest{
		TemplateName: name,
		Trigger:      types.TriggerTemplate,
	}

	// Allow body to override the template's task config, system prompt,
	// and step cap for this run only.
	var body templateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		if len(body.Config) > 0 {
			req.Config = body.Config
		}
		req.SystemPrompt = body.SystemPrompt
		req.MaxSteps = body.MaxSteps
	}

	run, err := s.dispatcher.StartRun(r.Context(), req)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			http.Error(w, `{"error":"template not found"}`, http.StatusNotFound)
			return
		}
		if errors.Is(err, dispatch.ErrTemplateDisabled) {
			http.Error(w, `{"error":"template is disabled"}`, http.StatusForbidden)
			return
		}
		slog.Error("webhook template start failed", "template", name, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeRun(w, http.StatusAccepted, run)
}

func writeRun(w http.ResponseWriter, status int, run *types.WorkflowRun) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(run)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context())
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.Status == types.RunStatus(status) {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	if runs == nil {
		runs = []*types.WorkflowRun{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func (s *Server) handleAPIRunSteps(w http.ResponseWriter, r *http.Request) {
	// Path: /api/runs/{id}/steps
	path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[1] != "steps" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	runID := types.RunID(parts[0])

	if _, err := s.runs.Get(r.Context(), runID); err != nil {
		http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
		return
	}

	steps, err := s.steps.ListByRun(r.Context(), runID)
	if err != nil {
		slog.Error("list steps failed", "run_id", runID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if steps == nil {
		steps = []*types.WorkflowStep{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(steps)
}

type goalResponse struct {
	*types.Goal
	Remaining int `json:"remaining"`
}

func (s *Server) handleAPIGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.goals.List(r.Context())
	if err != nil {
		slog.Error("list goals failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	result := make([]goalResponse, 0, len(goals))
	for _, g := range goals {
		remaining := g.TargetValue - g.CurrentValue
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, goalResponse{Goal: g, Remaining: remaining})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
