// Package history supplies per-card transaction context to the
// scoring pipeline and records ingested transactions.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service reads per-card history from the repository. Reads are the
// scoring path and never write; Record is the ingest path and is the
// only method with side effects.
type Service struct {
	repo           domain.Repository
	cache          domain.Cache
	velocityWindow time.Duration
	historyLimit   int
}

func NewService(repo domain.Repository, cache domain.Cache, velocityWindow time.Duration, historyLimit int) *Service {
	if velocityWindow <= 0 {
		velocityWindow = 5 * time.Minute
	}
	if historyLimit <= 0 {
		historyLimit = 30
	}
	return &Service{
		repo:           repo,
		cache:          cache,
		velocityWindow: velocityWindow,
		historyLimit:   historyLimit,
	}
}

// Context loads the scoring context for one card: recent transactions
// newest first, plus the count inside the velocity window preceding
// the given timestamp.
func (s *Service) Context(ctx context.Context, cardNumber string, at time.Time) (*domain.HistoryContext, error) {
	if s.repo == nil {
		return nil, nil
	}
	if cardNumber == "" {
		return nil, fmt.Errorf("card number is required")
	}

	since := at.Add(-30 * 24 * time.Hour)
	recent, err := s.repo.RecentByCard(ctx, cardNumber, since, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load card history: %w", err)
	}

	count, err := s.velocity(ctx, cardNumber, at)
	if err != nil {
		return nil, err
	}

	return &domain.HistoryContext{
		Recent:        recent,
		VelocityCount: count,
	}, nil
}

// velocity reads the windowed cache counter maintained by Record.
// The counter only tracks the live window, so a cold counter (process
// restart, historical timestamp) falls back to counting repository
// rows inside the window.
func (s *Service) velocity(ctx context.Context, cardNumber string, at time.Time) (int64, error) {
	if s.cache != nil {
		age := time.Since(at)
		if age >= 0 && age < s.velocityWindow {
			count, err := s.cache.GetCounter(ctx, "velocity:"+cardNumber)
			if err != nil {
				return 0, fmt.Errorf("failed to read velocity counter: %w", err)
			}
			if count > 0 {
				return count, nil
			}
		}
	}

	count, err := s.repo.CountByCard(ctx, cardNumber, at.Add(-s.velocityWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to count card velocity: %w", err)
	}
	return count, nil
}

// Record persists a scored transaction and bumps the card's windowed
// velocity counter. Called after scoring completes, never during it.
func (s *Service) Record(ctx context.Context, tx *domain.Transaction) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	if s.cache != nil {
		key := fmt.Sprintf("velocity:%s", tx.CardNumber)
		if _, err := s.cache.IncrementCounter(ctx, key, s.velocityWindow); err != nil {
			return fmt.Errorf("failed to bump velocity counter: %w", err)
		}
	}
	return nil
}
