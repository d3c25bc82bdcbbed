package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// newTestServer creates a server backed by a temp SQLite database,
// an LRU cache and the channel bus, with a model trained from the
// synthetic corpus.
func newTestServer(t *testing.T) *Server {
	server, _ := newTestServerWithCache(t)
	return server
}

func newTestServerWithCache(t *testing.T) (*Server, *cache.LRUCache) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(1000)
	t.Cleanup(func() { lru.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	hist := history.NewService(repo, lru, 5*time.Minute, 30)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng, err := engine.New(engine.Config{
		History:          hist,
		Logger:           logger,
		SyntheticSamples: 600,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if _, err := eng.TrainModel(context.Background(), nil, nil); err != nil {
		t.Fatalf("failed to train model: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, lru, eventBus, eng, hist, "test-v1"), lru
}

// timestampAtHour returns an RFC3339 timestamp at the given UTC hour,
// dated yesterday so it is always in the past.
func timestampAtHour(hour int) string {
	day := time.Now().UTC().Add(-24 * time.Hour)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 30, 0, 0, time.UTC).Format(time.RFC3339)
}

func postJSON(t *testing.T, server *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func getJSON(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestScoreTransactionEndpoint(t *testing.T) {
	server := newTestServer(t)

	t.Run("CleanTransactionApproved", func(t *testing.T) {
		input := domain.TransactionInput{
			ID:         "api-clean-001",
			Amount:     "25.50",
			Merchant:   "Starbucks",
			Location:   "New York, NY, US",
			Timestamp:  timestampAtHour(14),
			CardNumber: "****4242",
			Currency:   "USD",
		}

		rr := postJSON(t, server, "/api/transactions", input)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.FinalDecision.Action != domain.ActionApprove {
			t.Errorf("expected APPROVE, got %s", result.FinalDecision.Action)
		}
		if result.Alert != nil {
			t.Error("expected no alert for a clean transaction")
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request id header on response")
		}
	})

	t.Run("HighRiskTransactionBlocked", func(t *testing.T) {
		input := domain.TransactionInput{
			ID:         "api-risky-001",
			Amount:     "15000.00",
			Merchant:   "UNKNOWN MERCHANT",
			Location:   "High Risk Country",
			Timestamp:  timestampAtHour(3),
			CardNumber: "****6666",
			Currency:   "USD",
		}

		rr := postJSON(t, server, "/api/transactions", input)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.FinalDecision.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.FinalDecision.Action)
		}
		if result.Alert == nil {
			t.Fatal("expected an alert for a blocked transaction")
		}
		if result.Alert.Severity != domain.SeverityCritical {
			t.Errorf("expected CRITICAL severity, got %s", result.Alert.Severity)
		}
	})

	t.Run("DecisionRetrievable", func(t *testing.T) {
		rr := getJSON(t, server, "/api/transactions/api-risky-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.FinalDecision.Action != domain.ActionBlock {
			t.Errorf("expected persisted BLOCK decision, got %s", result.FinalDecision.Action)
		}
	})

	t.Run("DecisionNotFound", func(t *testing.T) {
		rr := getJSON(t, server, "/api/transactions/no-such-tx")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		input := domain.TransactionInput{
			ID:         "api-invalid-001",
			Amount:     "-10",
			Merchant:   "Store",
			Location:   "New York, NY, US",
			Timestamp:  timestampAtHour(14),
			CardNumber: "****1111",
		}

		rr := postJSON(t, server, "/api/transactions", input)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Error  string   `json:"error"`
			Errors []string `json:"errors"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Errors) == 0 {
			t.Error("expected per-field validation errors")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/transactions", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestBatchEndpoint(t *testing.T) {
	server := newTestServer(t)

	inputs := []*domain.TransactionInput{}
	for i := 0; i < 3; i++ {
		inputs = append(inputs, &domain.TransactionInput{
			ID:         fmt.Sprintf("api-batch-%03d", i),
			Amount:     "42.00",
			Merchant:   "Grocery Store",
			Location:   "Chicago, IL, US",
			Timestamp:  timestampAtHour(12),
			CardNumber: fmt.Sprintf("****%04d", 2000+i),
			Currency:   "USD",
		})
	}
	// Second item fails validation
	inputs[1].Amount = "not-a-number"

	rr := postJSON(t, server, "/api/transactions/batch", BatchRequest{Transactions: inputs})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var batch domain.BatchResult
	if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if batch.Summary.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", batch.Summary.Processed)
	}
	if batch.Summary.Successful != 2 || batch.Summary.Failed != 1 {
		t.Errorf("expected 2 successful and 1 failed, got %d and %d",
			batch.Summary.Successful, batch.Summary.Failed)
	}
	if len(batch.Results[1].Errors) == 0 {
		t.Error("expected errors on the invalid item")
	}

	t.Run("EmptyBatchRejected", func(t *testing.T) {
		rr := postJSON(t, server, "/api/transactions/batch", BatchRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestListEndpoints(t *testing.T) {
	server := newTestServer(t)

	// Score one clean and one risky transaction to populate the store.
	clean := domain.TransactionInput{
		ID:         "api-list-clean",
		Amount:     "18.75",
		Merchant:   "Gas Station",
		Location:   "Los Angeles, CA, US",
		Timestamp:  timestampAtHour(11),
		CardNumber: "****3001",
		Currency:   "USD",
	}
	risky := domain.TransactionInput{
		ID:         "api-list-risky",
		Amount:     "15000.00",
		Merchant:   "UNKNOWN MERCHANT",
		Location:   "High Risk Country",
		Timestamp:  timestampAtHour(3),
		CardNumber: "****3002",
		Currency:   "USD",
	}
	if rr := postJSON(t, server, "/api/transactions", clean); rr.Code != http.StatusOK {
		t.Fatalf("clean scoring failed: %d %s", rr.Code, rr.Body.String())
	}
	if rr := postJSON(t, server, "/api/transactions", risky); rr.Code != http.StatusOK {
		t.Fatalf("risky scoring failed: %d %s", rr.Code, rr.Body.String())
	}

	t.Run("ListDecisions", func(t *testing.T) {
		rr := getJSON(t, server, "/api/transactions")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Decisions []*domain.DecisionRecord `json:"decisions"`
			Count     int                      `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 2 {
			t.Errorf("expected 2 decisions, got %d", resp.Count)
		}
	})

	t.Run("FilterByAction", func(t *testing.T) {
		rr := getJSON(t, server, "/api/transactions?action=BLOCK")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Decisions []*domain.DecisionRecord `json:"decisions"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Decisions) != 1 {
			t.Fatalf("expected 1 blocked decision, got %d", len(resp.Decisions))
		}
		if resp.Decisions[0].TransactionID != "api-list-risky" {
			t.Errorf("unexpected transaction: %s", resp.Decisions[0].TransactionID)
		}
	})

	t.Run("ListAlerts", func(t *testing.T) {
		rr := getJSON(t, server, "/api/alerts?status=OPEN")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Alerts []*domain.Alert `json:"alerts"`
			Count  int             `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Fatalf("expected 1 open alert, got %d", resp.Count)
		}
		if resp.Alerts[0].TransactionID != "api-list-risky" {
			t.Errorf("unexpected alert transaction: %s", resp.Alerts[0].TransactionID)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		rr := getJSON(t, server, "/api/stats")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var stats domain.EngineStats
		if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if stats.TotalTransactions != 2 {
			t.Errorf("expected 2 transactions, got %d", stats.TotalTransactions)
		}
		if stats.AlertCount != 1 {
			t.Errorf("expected 1 alert, got %d", stats.AlertCount)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := newTestServer(t)

	t.Run("Info", func(t *testing.T) {
		rr := getJSON(t, server, "/api/model/info")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var info domain.ModelInfo
		if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !info.Trained {
			t.Error("expected trained model")
		}
		if !info.ClassifierPresent {
			t.Error("expected classifier on synthetic training")
		}
	})

	t.Run("RetrainSynthetic", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/model/train", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var report domain.TrainingReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !report.Trained {
			t.Error("expected successful training")
		}
	})

	t.Run("LabelMismatchRejected", func(t *testing.T) {
		body := TrainRequest{
			Transactions: []*domain.TransactionInput{{
				ID:         "api-train-001",
				Amount:     "50.00",
				Merchant:   "Store",
				Location:   "New York, NY, US",
				Timestamp:  timestampAtHour(10),
				CardNumber: "****5005",
			}},
			Labels: []int{0, 1},
		}

		rr := postJSON(t, server, "/api/model/train", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := newTestServer(t)

	t.Run("ListBuiltins", func(t *testing.T) {
		rr := getJSON(t, server, "/api/rules")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 6 {
			t.Errorf("expected 6 builtin rules, got %d", resp.Count)
		}
	})

	t.Run("CreateRule", func(t *testing.T) {
		body := CreateRuleRequest{
			ID:          "foreign_currency",
			Description: "Non-USD settlement",
			Expression:  `currency != "USD"`,
			Increment:   0.1,
			Enabled:     true,
		}

		rr := postJSON(t, server, "/api/rules", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		listRR := getJSON(t, server, "/api/rules")
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(listRR.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 7 {
			t.Errorf("expected 7 rules after create, got %d", resp.Count)
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		body := CreateRuleRequest{
			ID:         "broken",
			Expression: "amount +",
			Increment:  0.1,
			Enabled:    true,
		}

		rr := postJSON(t, server, "/api/rules", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := getJSON(t, server, "/health")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := getJSON(t, server, "/ready")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestNumericAmountDecoding(t *testing.T) {
	server := newTestServer(t)

	postRaw := func(t *testing.T, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/api/transactions", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("NumericAmountAccepted", func(t *testing.T) {
		body := fmt.Sprintf(`{
			"id": "api-num-001",
			"amount": 25.5,
			"merchant": "Starbucks",
			"location": "New York, NY, US",
			"timestamp": %q,
			"cardNumber": "****4242",
			"currency": "USD"
		}`, timestampAtHour(14))

		rr := postRaw(t, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if result.Transaction.Amount.String() != "25.5" {
			t.Errorf("expected amount 25.5, got %s", result.Transaction.Amount)
		}
	})

	t.Run("NumericNegativeAmountReported", func(t *testing.T) {
		body := fmt.Sprintf(`{
			"id": "api-num-002",
			"amount": -10,
			"merchant": "Store",
			"location": "New York, NY, US",
			"timestamp": %q,
			"cardNumber": "****0001"
		}`, timestampAtHour(12))

		rr := postRaw(t, body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Error  string   `json:"error"`
			Errors []string `json:"errors"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse error response: %v", err)
		}
		if len(resp.Errors) == 0 {
			t.Error("expected per-field validation errors, not a decode failure")
		}
	})
}

func TestDecisionCache(t *testing.T) {
	server, lru := newTestServerWithCache(t)
	ctx := context.Background()

	t.Run("ScoringPrimesCache", func(t *testing.T) {
		input := domain.TransactionInput{
			ID:         "api-cache-001",
			Amount:     "42.00",
			Merchant:   "Grocery Store",
			Location:   "Chicago, IL, US",
			Timestamp:  timestampAtHour(13),
			CardNumber: "****3131",
			Currency:   "USD",
		}

		rr := postJSON(t, server, "/api/transactions", input)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		cached, err := lru.Get(ctx, "decision:api-cache-001")
		if err != nil {
			t.Fatalf("cache read failed: %v", err)
		}
		if cached == nil {
			t.Fatal("expected the scored decision to be cached")
		}

		var result domain.ScoreResult
		if err := json.Unmarshal(cached, &result); err != nil {
			t.Fatalf("cached decision is not a score result: %v", err)
		}
		if result.Transaction.ID != "api-cache-001" {
			t.Errorf("cached decision holds wrong transaction: %s", result.Transaction.ID)
		}
	})

	t.Run("ReadServedFromCache", func(t *testing.T) {
		// Seed an entry that only exists in the cache. A 200 response
		// proves the read path consults the cache before the database.
		result := domain.ScoreResult{
			Transaction: &domain.Transaction{ID: "api-cache-only-001"},
			FinalDecision: &domain.FinalDecision{
				FinalRiskScore: 0.1,
				Action:         domain.ActionApprove,
				Reason:         "transaction appears legitimate",
			},
			ScoredAt: time.Now().UTC(),
		}
		payload, err := json.Marshal(&result)
		if err != nil {
			t.Fatalf("failed to marshal seed: %v", err)
		}
		if err := lru.Set(ctx, "decision:api-cache-only-001", payload, time.Minute); err != nil {
			t.Fatalf("failed to seed cache: %v", err)
		}

		rr := getJSON(t, server, "/api/transactions/api-cache-only-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 from cache, got %d: %s", rr.Code, rr.Body.String())
		}

		var fetched domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if fetched.FinalDecision.Action != domain.ActionApprove {
			t.Errorf("expected APPROVE from cached decision, got %s", fetched.FinalDecision.Action)
		}
	})
}
