// Package engine wires the validator, the three analyzers, the
// arbiter and the alert generator into the scoring facade.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/riskscore"
	"github.com/opensource-finance/kestrel/internal/validate"
)

const defaultBatchConcurrency = 8

// HistoryProvider supplies optional per-card context for scoring.
// Implementations must be read-only; recording a transaction into
// history is an ingest concern, not a scoring one.
type HistoryProvider interface {
	Context(ctx context.Context, cardNumber string, at time.Time) (*domain.HistoryContext, error)
}

// Config assembles an Engine.
type Config struct {
	History          HistoryProvider // nil means every transaction scores cold
	Logger           *slog.Logger
	BatchConcurrency int
	SyntheticSamples int
}

// Engine scores transactions and manages the model lifecycle. All
// methods are safe for concurrent use; scoring never mutates state.
type Engine struct {
	validator *validate.Validator
	rules     *fraud.Engine
	scorer    *riskscore.Scorer
	models    *ml.Store
	trainer   *ml.Trainer
	arbiter   *decision.Arbiter
	alerts    *decision.AlertGenerator
	history   HistoryProvider

	logger           *slog.Logger
	tracer           trace.Tracer
	batchConcurrency int
}

func New(cfg Config) (*Engine, error) {
	rules, err := fraud.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	store := ml.NewStore()
	return &Engine{
		validator:        validate.New(),
		rules:            rules,
		scorer:           riskscore.New(),
		models:           store,
		trainer:          ml.NewTrainer(store, logger, cfg.SyntheticSamples),
		arbiter:          decision.NewArbiter(),
		alerts:           decision.NewAlertGenerator(),
		history:          cfg.History,
		logger:           logger,
		tracer:           otel.Tracer("kestrel/engine"),
		batchConcurrency: concurrency,
	}, nil
}

// Rules exposes the rule engine for administrative reloads.
func (e *Engine) Rules() *fraud.Engine { return e.rules }

// Score validates and scores one transaction. The three sub-analyses
// run concurrently; if any one fails the transaction fails rather
// than degrading to a partial decision.
func (e *Engine) Score(ctx context.Context, input *domain.TransactionInput) (*domain.ScoreResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Score")
	defer span.End()

	outcome := e.validator.Validate(input)
	if !outcome.Valid {
		return nil, &domain.ValidationError{
			TransactionID: input.ID,
			Violations:    outcome.Errors,
		}
	}
	tx := outcome.Transaction
	span.SetAttributes(attribute.String("transaction.id", tx.ID))

	hist, err := e.historyFor(ctx, tx)
	if err != nil {
		return nil, &domain.ScoringError{Stage: "history", Err: err}
	}

	var (
		wg        sync.WaitGroup
		fraudSig  *domain.FraudSignal
		riskRes   *domain.RiskAssessment
		mlPred    *domain.MLPrediction
		fraudErr  error
		riskErr   error
		mlPredErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		fraudSig, fraudErr = e.rules.Analyze(ctx, tx, hist)
	}()
	go func() {
		defer wg.Done()
		riskRes, riskErr = e.scorer.Assess(ctx, tx, hist)
	}()
	go func() {
		defer wg.Done()
		mlPred, mlPredErr = e.models.Predict(tx)
	}()
	wg.Wait()

	if fraudErr != nil {
		return nil, &domain.ScoringError{Stage: "fraud", Err: fraudErr}
	}
	if riskErr != nil {
		return nil, &domain.ScoringError{Stage: "risk", Err: riskErr}
	}
	if mlPredErr != nil {
		return nil, &domain.ScoringError{Stage: "ml", Err: mlPredErr}
	}

	final, err := e.arbiter.Decide(fraudSig, riskRes, mlPred)
	if err != nil {
		return nil, &domain.ScoringError{Stage: "decision", Err: err}
	}

	result := &domain.ScoreResult{
		Transaction:   tx,
		Warnings:      outcome.Warnings,
		FraudAnalysis: fraudSig,
		RiskAnalysis:  riskRes,
		MLPrediction:  mlPred,
		FinalDecision: final,
		Alert:         e.alerts.Generate(tx, final, fraudSig, riskRes, mlPred),
		ScoredAt:      time.Now().UTC(),
	}

	e.logger.Info("transaction scored",
		"transaction_id", tx.ID,
		"score", final.FinalRiskScore,
		"action", final.Action,
		"alert", result.Alert != nil)
	return result, nil
}

// ScoreBatch scores a list of transactions with bounded concurrency.
// Items are isolated: a validation or scoring failure is recorded at
// its index and never affects siblings.
func (e *Engine) ScoreBatch(ctx context.Context, inputs []*domain.TransactionInput) (*domain.BatchResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ScoreBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(inputs)))

	results := make([]domain.BatchItem, len(inputs))
	sem := make(chan struct{}, e.batchConcurrency)

	var wg sync.WaitGroup
	for i, input := range inputs {
		i, input := i, input
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item := domain.BatchItem{Index: i}
			res, err := e.Score(ctx, input)
			if err != nil {
				item.Errors = itemErrors(err)
			} else {
				item.Result = res
			}
			results[i] = item
		}()
	}
	wg.Wait()

	summary := domain.BatchSummary{Processed: len(inputs)}
	for _, item := range results {
		if item.Failed() {
			summary.Failed++
		} else {
			summary.Successful++
		}
	}
	if summary.Processed > 0 {
		summary.ValidationRate = 100 * float64(summary.Successful) / float64(summary.Processed)
	}

	return &domain.BatchResult{Results: results, Summary: summary}, nil
}

// TrainModel fits and atomically publishes a new model state.
func (e *Engine) TrainModel(ctx context.Context, txs []*domain.Transaction, labels []int) (*domain.TrainingReport, error) {
	ctx, span := e.tracer.Start(ctx, "engine.TrainModel")
	defer span.End()
	return e.trainer.Train(ctx, txs, labels)
}

// ModelInfo describes the active model state.
func (e *Engine) ModelInfo() *domain.ModelInfo {
	return e.models.Info()
}

func (e *Engine) historyFor(ctx context.Context, tx *domain.Transaction) (*domain.HistoryContext, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.Context(ctx, tx.CardNumber, tx.Timestamp)
}

func itemErrors(err error) []string {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Violations
	}
	return []string{err.Error()}
}
