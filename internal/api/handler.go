package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/summary"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *engine.Service
	summary *summary.Service
	watch   *rules.Engine
	repo    domain.Repository
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Service, sum *summary.Service, watch *rules.Engine, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		engine:  eng,
		summary: sum,
		watch:   watch,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// IngestSnapshot handles POST /api/v1/snapshots.
func (h *Handler) IngestSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchantId is required",
		})
		return
	}

	snap, err := h.engine.IngestSnapshot(ctx, tenantID, &req)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GetReport handles GET /api/v1/merchants/{id}/report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	report, err := h.engine.Troubleshoot(ctx, tenantID, merchantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GetInsight handles GET /api/v1/merchants/{id}/insight.
func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	insight, err := h.engine.GenerateInsight(ctx, tenantID, merchantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, insight)
}

// GetMonthly handles GET /api/v1/merchants/{id}/monthly.
func (h *Handler) GetMonthly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	stats, err := h.engine.CompareMonthly(ctx, tenantID, merchantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchantId": merchantID,
		"months":     stats,
	})
}

// GetLocation handles GET /api/v1/merchants/{id}/location. It returns
// the last persisted resolution, not a fresh proposal.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	res, err := h.repo.GetResolution(ctx, tenantID, merchantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no location resolution for merchant",
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ResolveLocation handles POST /api/v1/merchants/{id}/location/resolve.
// The engine proposes; the API layer persists the accepted proposal.
func (h *Handler) ResolveLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	res, err := h.engine.ResolveLocation(ctx, tenantID, merchantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.repo.SaveResolution(ctx, tenantID, res); err != nil {
		slog.Error("failed to persist resolution",
			"merchant_id", merchantID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListMerchants handles GET /api/v1/merchants.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ids, err := h.repo.ListMerchantIDs(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchants": ids,
		"count":     len(ids),
	})
}

// GetDashboardSummary handles GET /api/v1/dashboard/summary.
func (h *Handler) GetDashboardSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	sum, err := h.summary.GetSummary(ctx, tenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

// GetAIStatus handles GET /api/v1/ai/status.
func (h *Handler) GetAIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.AIStatus())
}

// CreateWatchRuleRequest is the request body for creating a watch rule.
type CreateWatchRuleRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"expression"`
	Bands       []domain.WatchBand `json:"bands"`
	Enabled     bool               `json:"enabled"`
}

// CreateWatchRule handles POST /api/v1/watch-rules. The rule is persisted
// for the requesting tenant and loaded into the engine immediately.
func (h *Handler) CreateWatchRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateWatchRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.WatchRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.watch.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveWatchRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save watch rule", "id", rule.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	slog.Info("watch rule created", "id", rule.ID, "name", rule.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, rule)
}

// ListWatchRules handles GET /api/v1/watch-rules.
func (h *Handler) ListWatchRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	list, err := h.repo.ListWatchRules(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

// GetWatchRule handles GET /api/v1/watch-rules/{id}.
func (h *Handler) GetWatchRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	list, err := h.repo.ListWatchRules(ctx, tenantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	for _, rule := range list {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "watch rule not found",
	})
}

// DeleteWatchRule handles DELETE /api/v1/watch-rules/{id}. The rule is
// soft-deleted and the engine reloaded from the store.
func (h *Handler) DeleteWatchRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteWatchRule(ctx, tenantID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "watch rule not found",
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	h.reloadFromStore(w, r, true)
}

// ReloadWatchRules handles POST /api/v1/watch-rules/reload. It replaces
// the engine's rule set with the tenant's persisted rules.
func (h *Handler) ReloadWatchRules(w http.ResponseWriter, r *http.Request) {
	h.reloadFromStore(w, r, false)
}

func (h *Handler) reloadFromStore(w http.ResponseWriter, r *http.Request, afterDelete bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	list, err := h.repo.ListWatchRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list watch rules", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	if err := h.watch.ReloadRules(list); err != nil {
		slog.Error("failed to reload watch rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("watch rules reloaded", "tenant_id", tenantID, "count", len(list))
	message := "rules reloaded successfully"
	if afterDelete {
		message = "rule deleted and engine reloaded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": message,
		"count":   len(list),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeDomainError maps pipeline errors to HTTP status codes. Store
// outages are 503, unknown merchants 404, everything else 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMerchantNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "merchant not found",
		})
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
