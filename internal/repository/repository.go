// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a validated transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, amount, merchant, location, timestamp,
			card_number, currency, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Amount.String(), tx.Merchant, tx.Location,
		tx.Timestamp, tx.CardNumber, tx.Currency, tx.Description,
		time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, amount, merchant, location, timestamp,
			   card_number, currency, description
		FROM transactions
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// RecentByCard retrieves recent transactions on a card, newest first.
func (r *SQLRepository) RecentByCard(ctx context.Context, cardNumber string, since time.Time, limit int) ([]*domain.Transaction, error) {
	if cardNumber == "" {
		return nil, fmt.Errorf("%w: card number is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT id, amount, merchant, location, timestamp,
			   card_number, currency, description
		FROM transactions
		WHERE card_number = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), cardNumber, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// CountByCard counts transactions on a card since the given time.
func (r *SQLRepository) CountByCard(ctx context.Context, cardNumber string, since time.Time) (int64, error) {
	if cardNumber == "" {
		return 0, fmt.Errorf("%w: card number is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM transactions WHERE card_number = ? AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), cardNumber, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// SaveDecision stores a decision record.
func (r *SQLRepository) SaveDecision(ctx context.Context, rec *domain.DecisionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO decisions (
			id, transaction_id, final_score, action, reason, confidence,
			risk_level, merchant, amount, location, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.TransactionID, rec.FinalScore, string(rec.Action),
		rec.Reason, rec.Confidence, string(rec.RiskLevel),
		rec.Merchant, rec.Amount, rec.Location,
		string(rec.Detail), rec.CreatedAt,
	)
	return err
}

// GetDecision retrieves the latest decision for a transaction.
func (r *SQLRepository) GetDecision(ctx context.Context, txID string) (*domain.DecisionRecord, error) {
	query := `
		SELECT id, transaction_id, final_score, action, reason, confidence,
			   risk_level, merchant, amount, location, detail, created_at
		FROM decisions
		WHERE transaction_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	rec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListDecisions retrieves decision records matching the filter, newest
// first.
func (r *SQLRepository) ListDecisions(ctx context.Context, filter domain.DecisionFilter) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT id, transaction_id, final_score, action, reason, confidence,
			   risk_level, merchant, amount, location, detail, created_at
		FROM decisions
		WHERE 1=1
	`
	var args []any
	if filter.RiskLevel != "" {
		query += " AND risk_level = ?"
		args = append(args, string(filter.RiskLevel))
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveAlert stores an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			id, transaction_id, severity, risk_score, action_required,
			reason, merchant, amount, location, created_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionID, string(alert.Severity),
		alert.RiskScore, string(alert.ActionRequired), alert.Reason,
		alert.Merchant, alert.Amount, alert.Location,
		alert.CreatedAt, string(alert.Status),
	)
	return err
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, severity, risk_score, action_required,
			   reason, merchant, amount, location, created_at, status
		FROM alerts
		WHERE 1=1
	`
	var args []any
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, action, status string

		if err := rows.Scan(
			&a.ID, &a.TransactionID, &severity, &a.RiskScore, &action,
			&a.Reason, &a.Merchant, &a.Amount, &a.Location,
			&a.CreatedAt, &status,
		); err != nil {
			return nil, err
		}

		a.Severity = domain.AlertSeverity(severity)
		a.ActionRequired = domain.Action(action)
		a.Status = domain.AlertStatus(status)
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus transitions an alert's case-management status.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus) error {
	query := `UPDATE alerts SET status = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), alertID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates scored traffic for the stats endpoint.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.EngineStats, error) {
	stats := &domain.EngineStats{
		RiskDistribution: make(map[domain.RiskLevel]int64),
	}

	rows, err := r.db.QueryContext(ctx, `SELECT risk_level, COUNT(*) FROM decisions GROUP BY risk_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flagged int64
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		stats.RiskDistribution[domain.RiskLevel(level)] = count
		stats.TotalTransactions += count
		if level == string(domain.RiskHigh) || level == string(domain.RiskCritical) {
			flagged += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalTransactions > 0 {
		stats.FraudRate = 100 * float64(flagged) / float64(stats.TotalTransactions)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&stats.AlertCount); err != nil {
		return nil, err
	}
	return stats, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount string

	if err := row.Scan(
		&tx.ID, &amount, &tx.Merchant, &tx.Location, &tx.Timestamp,
		&tx.CardNumber, &tx.Currency, &tx.Description,
	); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
	}
	tx.Amount = parsed
	return &tx, nil
}

func scanDecision(row rowScanner) (*domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	var action, level, detail string

	if err := row.Scan(
		&rec.ID, &rec.TransactionID, &rec.FinalScore, &action,
		&rec.Reason, &rec.Confidence, &level,
		&rec.Merchant, &rec.Amount, &rec.Location,
		&detail, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Action = domain.Action(action)
	rec.RiskLevel = domain.RiskLevel(level)
	rec.Detail = []byte(detail)
	return &rec, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
