package repository

// Schema definitions for Loadguard database.
// Compatible with both SQLite and PostgreSQL.

// schemaProcessedOutputs holds one row per adjudicated load. Rows of the same
// run share process_id; position keeps the evaluation order inside a run.
const schemaProcessedOutputs = `
CREATE TABLE IF NOT EXISTS processed_outputs (
    process_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    filename TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    accepted INTEGER NOT NULL,
    original_amount TEXT NOT NULL,
    effective_amount TEXT NOT NULL,
    rules_evaluated TEXT NOT NULL,
    transaction_time TEXT NOT NULL,
    is_monday INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    flags TEXT,
    PRIMARY KEY (process_id, position)
);

CREATE INDEX IF NOT EXISTS idx_processed_outputs_timestamp ON processed_outputs(timestamp);
CREATE INDEX IF NOT EXISTS idx_processed_outputs_customer ON processed_outputs(customer_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProcessedOutputs,
	}
}
