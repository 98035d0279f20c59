package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-rag-pipeline/internal/rag"
	"github-rag-pipeline/internal/search"
)

// maxQuestionLen bounds the accepted question size.
const maxQuestionLen = 2000

// Asker answers natural-language questions about the indexed data.
type Asker interface {
	Ask(ctx context.Context, question string, maxResults int) (*rag.Response, error)
}

// StatsProvider reports index statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) (*search.Stats, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	asker  Asker
	stats  StatsProvider
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(asker Asker, stats StatsProvider, logger *slog.Logger) http.Handler {
	h := &Handler{
		asker:  asker,
		stats:  stats,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", h.ask)
		r.Get("/stats", h.getStats)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Question   string `json:"question"`
	MaxResults int    `json:"max_results"`
}

// ask handles a natural-language question about the indexed repositories.
// POST /v1/ask
func (h *Handler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		respondWithError(w, http.StatusBadRequest, "'question' is required")
		return
	}
	if len(req.Question) > maxQuestionLen {
		respondWithError(w, http.StatusBadRequest, "'question' is too long")
		return
	}
	if req.MaxResults < 0 || req.MaxResults > 100 {
		respondWithError(w, http.StatusBadRequest, "'max_results' must be between 0 and 100")
		return
	}

	resp, err := h.asker.Ask(r.Context(), req.Question, req.MaxResults)
	if err != nil {
		h.logger.Error("Failed to answer question", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// getStats returns index statistics.
// GET /v1/stats
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to get index stats", "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "Search engine unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}
