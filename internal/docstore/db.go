package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the document tables when they are missing. Each
// collection stores one JSON document per row under a store-assigned id.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS golden_clauses (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS historical_decisions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS regulatory_mappings (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			doc JSONB NOT NULL
		)`,
		// Idempotency key for precedent writes retried through the gateway.
		`CREATE UNIQUE INDEX IF NOT EXISTS historical_decisions_decision_id
			ON historical_decisions ((doc->>'decision_id'))`,
		`CREATE INDEX IF NOT EXISTS golden_clauses_contract_types
			ON golden_clauses USING GIN ((doc->'contract_types'))`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
