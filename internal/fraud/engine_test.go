package fraud

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestTransaction(amount string, merchant, location string, hour int) *domain.Transaction {
	return &domain.Transaction{
		ID:         "TX-FRAUD-001",
		Amount:     decimal.RequireFromString(amount),
		Merchant:   merchant,
		Location:   location,
		Timestamp:  time.Date(2025, 6, 10, hour, 0, 0, 0, time.UTC),
		CardNumber: "****1234",
		Currency:   "USD",
	}
}

func TestCleanTransactionTriggersNothing(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tx := newTestTransaction("25.50", "Starbucks", "New York, US", 14)
	signal, err := engine.Analyze(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if signal.RiskScore != 0 {
		t.Errorf("expected zero score, got %f", signal.RiskScore)
	}
	if len(signal.Factors) != 0 {
		t.Errorf("expected no factors, got %v", signal.Factors)
	}
	if signal.RiskLevel != domain.RiskMinimal {
		t.Errorf("expected MINIMAL level, got %s", signal.RiskLevel)
	}
}

func TestHighRiskTransactionStacksFactors(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tx := newTestTransaction("15000.00", "UNKNOWN MERCHANT", "High Risk Country", 3)
	signal, err := engine.Analyze(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	want := []string{"high_amount", "unusual_location", "risky_merchant", "odd_hour"}
	if !slices.Equal(signal.Factors, want) {
		t.Errorf("factors = %v, want %v", signal.Factors, want)
	}

	// 0.4 + 0.4 + 0.3 + 0.2 clamps to 1.0.
	if signal.RiskScore != 1.0 {
		t.Errorf("expected clamped score 1.0, got %f", signal.RiskScore)
	}
	if signal.RiskLevel != domain.RiskCritical {
		t.Errorf("expected CRITICAL level, got %s", signal.RiskLevel)
	}
}

func TestAmountBands(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tests := []struct {
		name       string
		amount     string
		wantFactor string
		wantScore  float64
	}{
		{name: "elevated band", amount: "3500.00", wantFactor: "elevated_amount", wantScore: 0.2},
		{name: "high band", amount: "5000.01", wantFactor: "high_amount", wantScore: 0.4},
		{name: "band boundary stays elevated", amount: "5000.00", wantFactor: "elevated_amount", wantScore: 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTestTransaction(tt.amount, "Starbucks", "New York, US", 14)
			signal, err := engine.Analyze(context.Background(), tx, nil)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if len(signal.Factors) != 1 || signal.Factors[0] != tt.wantFactor {
				t.Errorf("factors = %v, want [%s]", signal.Factors, tt.wantFactor)
			}
			if signal.RiskScore != tt.wantScore {
				t.Errorf("score = %f, want %f", signal.RiskScore, tt.wantScore)
			}
		})
	}
}

func TestVelocityFactorUsesHistory(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tx := newTestTransaction("25.50", "Starbucks", "New York, US", 14)

	signal, err := engine.Analyze(context.Background(), tx, &domain.HistoryContext{VelocityCount: 2})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(signal.Factors) != 0 {
		t.Errorf("two transactions in window should not trigger, got %v", signal.Factors)
	}

	signal, err = engine.Analyze(context.Background(), tx, &domain.HistoryContext{VelocityCount: 3})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(signal.Factors) != 1 || signal.Factors[0] != "card_velocity" {
		t.Errorf("factors = %v, want [card_velocity]", signal.Factors)
	}
	if signal.RiskScore != 0.3 {
		t.Errorf("score = %f, want 0.3", signal.RiskScore)
	}
}

func TestOddHourBounds(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	for hour, want := range map[int]bool{0: true, 5: true, 6: false, 23: false} {
		tx := newTestTransaction("25.50", "Starbucks", "New York, US", hour)
		signal, err := engine.Analyze(context.Background(), tx, nil)
		if err != nil {
			t.Fatalf("Analyze hour %d: %v", hour, err)
		}
		got := slices.Contains(signal.Factors, "odd_hour")
		if got != want {
			t.Errorf("hour %d: odd_hour triggered = %v, want %v", hour, got, want)
		}
	}
}

func TestInvalidRuleRejected(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tests := []struct {
		name string
		rule *Rule
	}{
		{
			name: "bad syntax",
			rule: &Rule{ID: "broken", Expression: `amount >`, Increment: 0.1, Enabled: true},
		},
		{
			name: "non-bool result",
			rule: &Rule{ID: "numeric", Expression: `amount + 1.0`, Increment: 0.1, Enabled: true},
		},
		{
			name: "unknown variable",
			rule: &Rule{ID: "missing", Expression: `account_age > 30`, Increment: 0.1, Enabled: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.ValidateRule(tt.rule); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestReloadReplacesRules(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if engine.RulesCount() != len(BuiltinRules()) {
		t.Fatalf("expected %d builtin rules, got %d", len(BuiltinRules()), engine.RulesCount())
	}

	custom := []*Rule{
		{ID: "euro_only", Expression: `currency == "EUR"`, Increment: 0.5, Enabled: true},
		{ID: "disabled", Expression: `true`, Increment: 0.9, Enabled: false},
	}
	if err := engine.ReloadRules(custom); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("disabled rules must be skipped, count = %d", engine.RulesCount())
	}

	tx := newTestTransaction("10.00", "Starbucks", "Paris, FR", 14)
	tx.Currency = "EUR"
	signal, err := engine.Analyze(context.Background(), tx, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if signal.RiskScore != 0.5 {
		t.Errorf("score = %f, want 0.5", signal.RiskScore)
	}
}
