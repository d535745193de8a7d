// Package api exposes the context engine over HTTP: aggregation, session
// appends, milestone transitions and corpus ingestion.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pathlight/contextd/internal/engine"
	"github.com/pathlight/contextd/internal/journey"
	"github.com/pathlight/contextd/internal/knowledge"
	"github.com/pathlight/contextd/internal/milestone"
	"github.com/pathlight/contextd/internal/session"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	agg       *engine.Aggregator
	sessions  session.Store
	resolver  *milestone.Resolver
	graph     *milestone.Graph
	knowledge *knowledge.Retriever
	facts     *journey.Ingestor
	logger    *zap.Logger
}

// NewHandler creates a new API handler. The knowledge retriever and fact
// ingestor may be nil when their backing stores are not configured; the
// corresponding ingestion routes then answer 503.
func NewHandler(
	agg *engine.Aggregator,
	sessions session.Store,
	resolver *milestone.Resolver,
	graph *milestone.Graph,
	kn *knowledge.Retriever,
	facts *journey.Ingestor,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		agg:       agg,
		sessions:  sessions,
		resolver:  resolver,
		graph:     graph,
		knowledge: kn,
		facts:     facts,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/context", h.aggregateContext)
		r.Post("/sessions/turns", h.appendTurn)
		r.Post("/transitions", h.prepareTransition)
		r.Get("/milestones/{id}/dependencies", h.milestoneDependencies)
		r.Post("/knowledge", h.indexKnowledge)
		r.Post("/journey/facts", h.addFact)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"degraded_events": h.agg.DegradedEvents(),
	})
}

// aggregateContext assembles the token-budgeted payload for one chat turn.
// Degraded layers are reported in the body, never as an HTTP error.
func (h *Handler) aggregateContext(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agg, err := h.agg.Aggregate(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("aggregation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type appendTurnRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// appendTurn records one conversation turn. The chat-turn handler calls
// this; the aggregator itself never writes session state.
func (h *Handler) appendTurn(w http.ResponseWriter, r *http.Request) {
	var req appendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.SessionID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "user_id, session_id and content are required")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}

	turn := session.Turn{Role: req.Role, Content: req.Content, Timestamp: time.Now()}
	if err := h.sessions.Append(r.Context(), req.UserID, req.SessionID, turn); err != nil {
		h.logger.Error("session append failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "session append failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

type transitionRequest struct {
	UserID string `json:"user_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// prepareTransition handles milestone completion: it resolves the next
// milestone's dependency set and pre-warms the aggregate cache.
func (h *Handler) prepareTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	bundle, err := h.resolver.PrepareTransition(r.Context(), req.UserID, req.From, req.To)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("transition failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "transition failed")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Handler) milestoneDependencies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	required, err := h.graph.RequiredMilestones(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown milestone")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone": id,
		"required":  required,
	})
}

type indexKnowledgeRequest struct {
	MilestoneID string `json:"milestone_id"`
	Content     string `json:"content"`
	Source      string `json:"source"`
}

func (h *Handler) indexKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not configured")
		return
	}
	var req indexKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.knowledge.Index(r.Context(), req.MilestoneID, req.Content, req.Source)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("knowledge indexing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "indexing failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type addFactRequest struct {
	UserID      string `json:"user_id"`
	MilestoneID string `json:"milestone_id"`
	Content     string `json:"content"`
}

func (h *Handler) addFact(w http.ResponseWriter, r *http.Request) {
	if h.facts == nil {
		writeError(w, http.StatusServiceUnavailable, "journey store not configured")
		return
	}
	var req addFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.facts.AddFact(r.Context(), req.UserID, req.MilestoneID, req.Content)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("fact ingestion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "fact ingestion failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
