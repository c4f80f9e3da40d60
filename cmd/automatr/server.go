package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mor/automatr/listener"
	"github.com/mor/automatr/rules"
	"github.com/mor/automatr/settings"
	"github.com/mor/automatr/workflow"
)

// ProgramResetter drops compiled predicates, called after settings change
type ProgramResetter interface {
	Reset()
}

// Server is the ops HTTP surface of the worker
type Server struct {
	manager   *workflow.Manager
	listeners []*listener.Listener
	store     settings.Store
	programs  ProgramResetter
	metrics   http.Handler
	version   string
	logger    *slog.Logger
	router    *chi.Mux
}

// ServerOptions wires a Server; Store, Programs and Metrics may be nil
type ServerOptions struct {
	Manager   *workflow.Manager
	Listeners []*listener.Listener
	Store     settings.Store
	Programs  ProgramResetter
	Metrics   http.Handler
	Version   string
	Logger    *slog.Logger
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:   opts.Manager,
		listeners: opts.Listeners,
		store:     opts.Store,
		programs:  opts.Programs,
		metrics:   opts.Metrics,
		version:   opts.Version,
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Get("/api/v1/workflows", s.handleListWorkflows)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	if s.store != nil {
		r.Route("/api/v1/settings", func(r chi.Router) {
			r.Get("/", s.handleListSettings)
			if _, ok := s.store.(settings.MutableStore); ok {
				r.Get("/{key}", s.handleGetSetting)
				r.Put("/{key}", s.handlePutSetting)
				r.Delete("/{key}", s.handleDeleteSetting)
			}
		})
	}

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}

// Health check handler. A failed listener makes the worker unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Listeners: make([]ListenerStatus, 0, len(s.listeners)),
	}
	for _, l := range s.listeners {
		state := l.State()
		if state == listener.StateFailed {
			resp.Status = "unhealthy"
		}
		resp.Listeners = append(resp.Listeners, ListenerStatus{Workflow: l.Workflow(), State: state})
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs := s.manager.List()
	resp := WorkflowsListResponse{Workflows: make([]WorkflowResponse, 0, len(wfs))}
	for _, wf := range wfs {
		item := WorkflowResponse{
			Name:       wf.Name,
			Title:      wf.Title,
			RoutingKey: wf.RoutingKey,
			Policy:     wf.Policy,
			Action:     wf.Action,
			RuleSets:   make([]RuleSetResponse, 0, len(wf.RuleSets)),
		}
		for _, rs := range wf.RuleSets {
			item.RuleSets = append(item.RuleSets, RuleSetResponse{
				Key:    rs.Key,
				Title:  rs.Title,
				Active: rs.Active,
				Rules:  len(rs.Rules),
			})
		}
		resp.Workflows = append(resp.Workflows, item)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Dry-run evaluation handler: no actions, no audit notes
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Workflow == "" {
		respondError(w, http.StatusBadRequest, "workflow is required", nil)
		return
	}
	if req.MeldingURL == "" {
		respondError(w, http.StatusBadRequest, "melding_url is required", nil)
		return
	}

	engine, err := s.manager.Engine(req.Workflow)
	if err != nil {
		respondError(w, http.StatusNotFound, "workflow not found", err)
		return
	}

	trace, err := engine.Evaluate(r.Context(), req.MeldingURL)
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to fetch melding", err)
		return
	}

	resp := EvaluateResponse{
		Workflow:    req.Workflow,
		MeldingURL:  req.MeldingURL,
		Evaluations: trace,
	}
	if resp.Evaluations == nil {
		resp.Evaluations = []rules.Evaluation{}
	}
	for _, ev := range trace {
		if ev.Matched {
			resp.Matched = true
			break
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to list settings", err)
		return
	}

	resp := SettingsListResponse{Settings: make([]SettingResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Settings = append(resp.Settings, toSettingResponse(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	store := s.store.(settings.MutableStore)

	entry, err := store.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondStoreError(w, "failed to get setting", err)
		return
	}
	respondJSON(w, http.StatusOK, toSettingResponse(*entry))
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	store := s.store.(settings.MutableStore)

	var req PutSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var shape any
	if err := json.Unmarshal(req.Variables, &shape); err != nil {
		respondError(w, http.StatusBadRequest, "variables must be valid JSON", err)
		return
	}
	switch shape.(type) {
	case map[string]any, []any:
	default:
		respondError(w, http.StatusBadRequest, "variables must be an object or an array", nil)
		return
	}

	entry := &settings.Entry{
		Key:       chi.URLParam(r, "key"),
		Name:      req.Name,
		Variables: req.Variables,
	}
	if err := store.Put(r.Context(), entry); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store setting", err)
		return
	}

	s.resetPrograms()
	s.logger.Info("settings entry stored", "key", entry.Key)
	respondJSON(w, http.StatusOK, toSettingResponse(*entry))
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	store := s.store.(settings.MutableStore)
	key := chi.URLParam(r, "key")

	if err := store.Delete(r.Context(), key); err != nil {
		respondStoreError(w, "failed to delete setting", err)
		return
	}

	s.resetPrograms()
	s.logger.Info("settings entry deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetPrograms() {
	if s.programs != nil {
		s.programs.Reset()
	}
}

func toSettingResponse(e settings.Entry) SettingResponse {
	resp := SettingResponse{Key: e.Key, Name: e.Name, Variables: e.Variables}
	if !e.CreatedAt.IsZero() {
		created := e.CreatedAt
		resp.CreatedAt = &created
	}
	if !e.UpdatedAt.IsZero() {
		updated := e.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func respondStoreError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, settings.ErrNotFound) {
		respondError(w, http.StatusNotFound, "setting not found", err)
		return
	}
	respondError(w, http.StatusInternalServerError, message, err)
}
