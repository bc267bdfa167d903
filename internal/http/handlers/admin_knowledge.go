package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aurora-insure/concierge/internal/knowledge"
	"github.com/aurora-insure/concierge/pkg/logging"
)

// AdminKnowledgeHandler lets operators reindex policy wording per market and
// inspect what each market currently carries.
type AdminKnowledgeHandler struct {
	repo   *knowledge.Repository
	logger *logging.Logger
}

// NewAdminKnowledgeHandler builds the handler.
func NewAdminKnowledgeHandler(repo *knowledge.Repository, logger *logging.Logger) *AdminKnowledgeHandler {
	if repo == nil {
		panic("handlers: knowledge repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminKnowledgeHandler{
		repo:   repo,
		logger: logger.Component("admin_knowledge"),
	}
}

// ReindexMarket handles PUT /admin/knowledge/{market}: replaces the market's
// snippet set wholesale so searches never mix document versions.
func (h *AdminKnowledgeHandler) ReindexMarket(w http.ResponseWriter, r *http.Request) {
	market := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "market")))
	if market == "" {
		http.Error(w, "market is required", http.StatusBadRequest)
		return
	}

	var payload struct {
		Snippets []knowledge.Snippet `json:"snippets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for i, s := range payload.Snippets {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Body) == "" {
			http.Error(w, "every snippet needs an id and body", http.StatusBadRequest)
			return
		}
		payload.Snippets[i].Market = market
	}

	if err := h.repo.ReplaceMarket(r.Context(), market, payload.Snippets); err != nil {
		h.logger.Error("knowledge reindex failed", "market", market, "error", err)
		http.Error(w, "reindex failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("knowledge market reindexed", "market", market, "snippets", len(payload.Snippets))
	writeJSON(w, http.StatusOK, map[string]any{
		"market":   market,
		"indexed":  len(payload.Snippets),
	})
}

// GetCounts handles GET /admin/knowledge: snippet counts per market.
func (h *AdminKnowledgeHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountByMarket(r.Context())
	if err != nil {
		h.logger.Error("knowledge count query failed", "error", err)
		http.Error(w, "count query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": counts})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
