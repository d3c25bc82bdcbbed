// Package fraud provides the CEL-based rule analyzer. It is the cheap
// first line of defense: deterministic heuristic predicates with fixed
// score increments, no learned state.
package fraud

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule is one heuristic predicate. When its expression evaluates true
// the rule contributes Increment to the fraud score and appends its ID
// to the triggered factor list.
type Rule struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Expression  string  `json:"expression"` // CEL, must return bool
	Increment   float64 `json:"increment"`
	Enabled     bool    `json:"enabled"`
}

// Engine evaluates rules against transactions. Rules are compiled once
// at load; evaluation order follows load order so triggered factor
// lists are stable and reproducible.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*compiledRule
}

type compiledRule struct {
	rule    *Rule
	program cel.Program
}

// NewEngine creates an engine with the standard transaction variables
// and loads the built-in rule set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("merchant_upper", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("location_upper", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	if err := e.ReloadRules(BuiltinRules()); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("rule is required")
	}
	_, err := e.compileRule(r)
	return err
}

// RegisterRule compiles and appends one rule.
func (e *Engine) RegisterRule(r *Rule) error {
	compiled, err := e.compileRule(r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = append(e.compiled, compiled)
	return nil
}

// ReloadRules replaces all loaded rules, preserving slice order.
// Disabled rules are skipped.
func (e *Engine) ReloadRules(rules []*Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		c, err := e.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = compiled
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rules in evaluation order.
func (e *Engine) LoadedRules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*Rule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c.rule)
	}
	return rules
}

// Analyze evaluates every loaded rule against the transaction. The
// score is the sum of triggered increments, clamped to [0,1]; factors
// follow rule load order.
func (e *Engine) Analyze(ctx context.Context, tx *domain.Transaction, hist *domain.HistoryContext) (*domain.FraudSignal, error) {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	var velocityCount int64
	if hist != nil {
		velocityCount = hist.VelocityCount
	}

	activation := map[string]any{
		"amount":         tx.Amount.InexactFloat64(),
		"currency":       tx.Currency,
		"merchant":       tx.Merchant,
		"merchant_upper": strings.ToUpper(tx.Merchant),
		"location":       tx.Location,
		"location_upper": strings.ToUpper(tx.Location),
		"hour":           int64(tx.Timestamp.Hour()),
		"weekday":        int64(tx.Timestamp.Weekday()),
		"velocity_count": velocityCount,
	}

	signal := &domain.FraudSignal{
		TransactionID: tx.ID,
		Factors:       []string{},
	}

	score := 0.0
	for _, c := range compiled {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s evaluation failed: %w", c.rule.ID, err)
		}

		triggered, ok := out.(types.Bool)
		if !ok {
			return nil, fmt.Errorf("rule %s returned non-bool result", c.rule.ID)
		}
		if bool(triggered) {
			score += c.rule.Increment
			signal.Factors = append(signal.Factors, c.rule.ID)
		}
	}

	signal.RiskScore = domain.ClampScore(score)
	signal.RiskLevel = domain.LevelForScore(signal.RiskScore)
	return signal, nil
}

func (e *Engine) compileRule(r *Rule) (*compiledRule, error) {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}

	return &compiledRule{rule: r, program: program}, nil
}
