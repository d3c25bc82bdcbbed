package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Transaction amounts are
// stored as decimal strings to avoid float drift on money values.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    amount TEXT NOT NULL,
    merchant TEXT NOT NULL,
    location TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    card_number TEXT NOT NULL,
    currency TEXT NOT NULL,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_number, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    final_score REAL NOT NULL,
    action TEXT NOT NULL,
    reason TEXT NOT NULL,
    confidence REAL NOT NULL,
    risk_level TEXT NOT NULL,
    merchant TEXT NOT NULL,
    amount REAL NOT NULL,
    location TEXT NOT NULL,
    detail TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tx ON decisions(transaction_id);
CREATE INDEX IF NOT EXISTS idx_decisions_risk_level ON decisions(risk_level);
CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    risk_score REAL NOT NULL,
    action_required TEXT NOT NULL,
    reason TEXT NOT NULL,
    merchant TEXT NOT NULL,
    amount REAL NOT NULL,
    location TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaDecisions,
		schemaAlerts,
	}
}
