// Package worker provides async scoring off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
)

// Worker consumes ingested transactions from the event bus, scores
// them, persists the outcome and republishes the decision and alert.
// It serves producers that ingest transactions over the bus instead of
// the synchronous HTTP surface.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	engine  *engine.Engine
	history *history.Service

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a new async worker.
func New(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, hist *history.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		engine:  eng,
		history: hist,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the ingest topic and begins processing.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.processTransaction)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// processTransaction scores one ingested transaction.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var input domain.TransactionInput
	if err := json.Unmarshal(msg.Payload, &input); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	result, err := w.engine.Score(ctx, &input)
	if err != nil {
		slog.Error("async scoring failed",
			"tx_id", input.ID,
			"error", err,
		)
		return err
	}

	if w.history != nil {
		if err := w.history.Record(ctx, result.Transaction); err != nil {
			slog.Error("failed to record transaction",
				"tx_id", result.Transaction.ID,
				"error", err,
			)
		}
	}

	rec := decisionRecord(result)

	if w.repo != nil {
		if err := w.repo.SaveDecision(ctx, rec); err != nil {
			slog.Error("failed to save decision",
				"tx_id", result.Transaction.ID,
				"error", err,
			)
		}
		if result.Alert != nil {
			if err := w.repo.SaveAlert(ctx, result.Alert); err != nil {
				slog.Error("failed to save alert",
					"tx_id", result.Transaction.ID,
					"error", err,
				)
			}
		}
	}

	if payload, err := json.Marshal(rec); err == nil {
		if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
			slog.Error("failed to publish decision",
				"tx_id", result.Transaction.ID,
				"error", err,
			)
		}
	}

	if result.Alert != nil {
		if payload, err := json.Marshal(result.Alert); err == nil {
			if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert",
					"tx_id", result.Transaction.ID,
					"error", err,
				)
			}
		}
	}

	slog.Info("transaction processed",
		"tx_id", result.Transaction.ID,
		"action", result.FinalDecision.Action,
		"score", result.FinalDecision.FinalRiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

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
