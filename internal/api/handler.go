package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/validate"
)

// decisionCacheTTL bounds how long a scored decision is served from
// cache before falling back to the repository.
const decisionCacheTTL = 5 * time.Minute

func decisionCacheKey(txID string) string {
	return "decision:" + txID
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *engine.Engine
	history   *history.Service
	validator *validate.Validator
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, hist *history.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		history:   hist,
		validator: validate.New(),
		version:   version,
	}
}

// ScoreTransaction handles POST /api/transactions.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input domain.TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.engine.Score(ctx, &input)
	if err != nil {
		h.writeScoringError(w, err)
		return
	}

	h.persistResult(ctx, result)

	writeJSON(w, http.StatusOK, result)
}

// BatchRequest is the request body for POST /api/transactions/batch.
type BatchRequest struct {
	Transactions []*domain.TransactionInput `json:"transactions"`
}

// ScoreBatch handles POST /api/transactions/batch. Items fail
// independently; the response carries per-index outcomes.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions is required and must not be empty",
		})
		return
	}

	batch, err := h.engine.ScoreBatch(ctx, req.Transactions)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch scoring failed",
		})
		return
	}

	for i := range batch.Results {
		if batch.Results[i].Result != nil {
			h.persistResult(ctx, batch.Results[i].Result)
		}
	}

	writeJSON(w, http.StatusOK, batch)
}

// ListDecisions handles GET /api/transactions.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	filter := domain.DecisionFilter{
		RiskLevel: domain.RiskLevel(r.URL.Query().Get("riskLevel")),
		Action:    domain.Action(r.URL.Query().Get("action")),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}

	decisions, err := h.repo.ListDecisions(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list decisions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list decisions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// GetDecision handles GET /api/transactions/{id}. It returns the full
// scoring detail when the record carries it, the summary row otherwise.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), decisionCacheKey(txID)); err == nil && cached != nil {
			var result domain.ScoreResult
			if err := json.Unmarshal(cached, &result); err == nil {
				writeJSON(w, http.StatusOK, &result)
				return
			}
		}
	}

	rec, err := h.repo.GetDecision(r.Context(), txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	if len(rec.Detail) > 0 {
		var result domain.ScoreResult
		if err := json.Unmarshal(rec.Detail, &result); err == nil {
			if h.cache != nil {
				_ = h.cache.Set(r.Context(), decisionCacheKey(txID), rec.Detail, decisionCacheTTL)
			}
			writeJSON(w, http.StatusOK, &result)
			return
		}
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListAlerts handles GET /api/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	filter := domain.AlertFilter{
		Severity: domain.AlertSeverity(r.URL.Query().Get("severity")),
		Status:   domain.AlertStatus(r.URL.Query().Get("status")),
		Limit:    queryInt(r, "limit"),
	}

	alerts, err := h.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// TrainRequest is the request body for POST /api/model/train. An empty
// body trains from the synthetic corpus.
type TrainRequest struct {
	Transactions []*domain.TransactionInput `json:"transactions,omitempty"`
	Labels       []int                      `json:"labels,omitempty"`
}

// TrainModel handles POST /api/model/train.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TrainRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	var txs []*domain.Transaction
	for i, input := range req.Transactions {
		outcome := h.validator.Validate(input)
		if !outcome.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "invalid training transaction",
				"index":  i,
				"errors": outcome.Errors,
			})
			return
		}
		txs = append(txs, outcome.Transaction)
	}

	report, err := h.engine.TrainModel(ctx, txs, req.Labels)
	if err != nil {
		var trainErr *domain.TrainingError
		if errors.As(err, &trainErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": trainErr.Error(),
			})
			return
		}
		slog.Error("training failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "training failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ModelInfo handles GET /api/model/info.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ModelInfo())
}

// ListRules returns all rules loaded in the fraud engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules().LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Increment   float64 `json:"increment"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule registers a new CEL rule in the fraud engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}
	if req.Increment <= 0 || req.Increment > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "increment must be between 0 (exclusive) and 1",
		})
		return
	}

	rule := &fraud.Rule{
		ID:          req.ID,
		Description: req.Description,
		Expression:  req.Expression,
		Increment:   req.Increment,
		Enabled:     req.Enabled,
	}

	if err := h.engine.Rules().RegisterRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	slog.Info("rule registered", "id", rule.ID)
	writeJSON(w, http.StatusCreated, rule)
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

// Ready returns whether the server is ready to score traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.engine.ModelInfo().Trained {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "model not trained",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// persistResult records the transaction into history, saves the
// decision and alert, and publishes bus events. Persistence failures
// are logged rather than failing the already-scored request.
func (h *Handler) persistResult(ctx context.Context, result *domain.ScoreResult) {
	if h.history != nil {
		if err := h.history.Record(ctx, result.Transaction); err != nil {
			slog.Error("failed to record transaction",
				"tx_id", result.Transaction.ID,
				"error", err,
			)
		}
	}

	rec := decisionRecord(result)

	if h.cache != nil && len(rec.Detail) > 0 {
		if err := h.cache.Set(ctx, decisionCacheKey(rec.TransactionID), rec.Detail, decisionCacheTTL); err != nil {
			slog.Warn("failed to cache decision",
				"tx_id", result.Transaction.ID,
				"error", err,
			)
		}
	}

	if h.repo != nil {
		if err := h.repo.SaveDecision(ctx, rec); err != nil {
			slog.Error("failed to save decision",
				"tx_id", result.Transaction.ID,
				"error", err,
			)
		}
		if result.Alert != nil {
			if err := h.repo.SaveAlert(ctx, result.Alert); err != nil {
				slog.Error("failed to save alert",
					"tx_id", result.Transaction.ID,
					"error", err,
				)
			}
		}
	}

	if h.bus != nil {
		if payload, err := json.Marshal(rec); err == nil {
			_ = h.bus.Publish(ctx, domain.TopicDecision, payload)
		}
		if result.Alert != nil {
			if payload, err := json.Marshal(result.Alert); err == nil {
				_ = h.bus.Publish(ctx, domain.TopicAlert, payload)
			}
		}
	}
}

func (h *Handler) writeScoringError(w http.ResponseWriter, err error) {
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"errors": valErr.Violations,
		})
		return
	}

	if errors.Is(err, ml.ErrNotTrained) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model not trained",
		})
		return
	}

	slog.Error("scoring failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "scoring failed",
	})
}

// decisionRecord flattens a score result into a persistable row.
func decisionRecord(result *domain.ScoreResult) *domain.DecisionRecord {
	detail, _ := json.Marshal(result)

	return &domain.DecisionRecord{
		ID:            uuid.New().String(),
		TransactionID: result.Transaction.ID,
		FinalScore:    result.FinalDecision.FinalRiskScore,
		Action:        result.FinalDecision.Action,
		Reason:        result.FinalDecision.Reason,
		Confidence:    result.FinalDecision.Confidence,
		RiskLevel:     domain.LevelForScore(result.FinalDecision.FinalRiskScore),
		Merchant:      result.Transaction.Merchant,
		Amount:        result.Transaction.Amount.InexactFloat64(),
		Location:      result.Transaction.Location,
		Detail:        detail,
		CreatedAt:     result.ScoredAt,
	}
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
