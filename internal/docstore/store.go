// Package docstore is the client for the structured record store holding
// policy clauses, precedent decisions, and regulation metadata. All reads
// and writes go through the shared gateway with the store's terminal-error
// classifier.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"lexroute/api/internal/gateway"
)

const (
	CollectionGoldenClauses       = "golden_clauses"
	CollectionHistoricalDecisions = "historical_decisions"
	CollectionRegulatoryMappings  = "regulatory_mappings"
)

var collections = map[string]bool{
	CollectionGoldenClauses:       true,
	CollectionHistoricalDecisions: true,
	CollectionRegulatoryMappings:  true,
}

// ErrUnknownCollection is terminal: retrying cannot make a collection exist.
var ErrUnknownCollection = errors.New("docstore: unknown collection")

// IsTerminal classifies document-store errors for the gateway. Not-found
// and invalid-request errors are never retried.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrUnknownCollection) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "invalid")
}

type Store struct {
	db     *sql.DB
	policy gateway.Policy
}

// New creates a document store client. A zero Terminal on the policy is
// replaced with IsTerminal.
func New(db *sql.DB, policy gateway.Policy) *Store {
	if policy.Terminal == nil {
		policy.Terminal = IsTerminal
	}
	return &Store{db: db, policy: policy}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// QueryGoldenClauses selects policy clauses whose contract-type set contains
// contractType, optionally filtered by jurisdiction and mandatory flag.
// Rows that fail to decode are skipped with a warning.
func (s *Store) QueryGoldenClauses(ctx context.Context, contractType, jurisdiction string, mandatoryOnly bool, limit int) ([]GoldenClause, error) {
	query, args := goldenClauseSelector(contractType, jurisdiction, mandatoryOnly, limit)
	return gateway.Do(ctx, s.policy, "docstore.QueryGoldenClauses", func(ctx context.Context) ([]GoldenClause, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query golden clauses: %w", err)
		}
		defer rows.Close()

		var clauses []GoldenClause
		for rows.Next() {
			var id string
			var doc []byte
			if err := rows.Scan(&id, &doc); err != nil {
				return nil, fmt.Errorf("scan golden clause: %w", err)
			}
			clause, err := decodeGoldenClause(doc)
			if err != nil {
				log.Printf("docstore: skipping malformed golden clause %s: %v", id, err)
				continue
			}
			clauses = append(clauses, clause)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate golden clauses: %w", err)
		}
		return clauses, nil
	})
}

// GetPrecedents selects historical decisions of contractType with
// confidence >= minConfidence, sorted by confidence descending.
func (s *Store) GetPrecedents(ctx context.Context, contractType, jurisdiction string, minConfidence float64, limit int) ([]PrecedentDecision, error) {
	query, args := precedentSelector(contractType, jurisdiction, minConfidence, limit)
	return gateway.Do(ctx, s.policy, "docstore.GetPrecedents", func(ctx context.Context) ([]PrecedentDecision, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query precedents: %w", err)
		}
		defer rows.Close()

		var decisions []PrecedentDecision
		for rows.Next() {
			var id string
			var doc []byte
			if err := rows.Scan(&id, &doc); err != nil {
				return nil, fmt.Errorf("scan precedent: %w", err)
			}
			var decision PrecedentDecision
			if err := json.Unmarshal(doc, &decision); err != nil {
				log.Printf("docstore: skipping malformed precedent %s: %v", id, err)
				continue
			}
			decisions = append(decisions, decision)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate precedents: %w", err)
		}
		return decisions, nil
	})
}

// StorePrecedent persists a decision and returns the store-assigned id.
// The write upserts on the decision's business id, so a gateway retry after
// a lost acknowledgment lands on the same row instead of duplicating it.
func (s *Store) StorePrecedent(ctx context.Context, decision PrecedentDecision) (string, error) {
	if strings.TrimSpace(decision.DecisionID) == "" {
		return "", errors.New("docstore: invalid precedent: decision_id is required")
	}
	doc, err := json.Marshal(decision)
	if err != nil {
		return "", fmt.Errorf("marshal precedent: %w", err)
	}
	return gateway.Do(ctx, s.policy, "docstore.StorePrecedent", func(ctx context.Context) (string, error) {
		const insert = `
			INSERT INTO historical_decisions (doc)
			VALUES ($1)
			ON CONFLICT ((doc->>'decision_id')) DO UPDATE SET doc = EXCLUDED.doc
			RETURNING id
		`
		var id string
		if err := s.db.QueryRowContext(ctx, insert, doc).Scan(&id); err != nil {
			return "", fmt.Errorf("store precedent: %w", err)
		}
		return id, nil
	})
}

// GetRegulatoryMappings selects mapping records by optional equality
// filters; without filters it returns up to limit records unfiltered.
func (s *Store) GetRegulatoryMappings(ctx context.Context, jurisdiction, regulationType string, limit int) ([]RegulatoryMapping, error) {
	query, args := mappingSelector(jurisdiction, regulationType, limit)
	return gateway.Do(ctx, s.policy, "docstore.GetRegulatoryMappings", func(ctx context.Context) ([]RegulatoryMapping, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query regulatory mappings: %w", err)
		}
		defer rows.Close()

		var mappings []RegulatoryMapping
		for rows.Next() {
			var id string
			var doc []byte
			if err := rows.Scan(&id, &doc); err != nil {
				return nil, fmt.Errorf("scan regulatory mapping: %w", err)
			}
			var mapping RegulatoryMapping
			if err := json.Unmarshal(doc, &mapping); err != nil {
				log.Printf("docstore: skipping malformed regulatory mapping %s: %v", id, err)
				continue
			}
			mappings = append(mappings, mapping)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate regulatory mappings: %w", err)
		}
		return mappings, nil
	})
}

// GetDocumentByID is a point lookup returning nil, not an error, when the
// document does not exist.
func (s *Store) GetDocumentByID(ctx context.Context, collection, id string) (map[string]any, error) {
	if !collections[collection] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return gateway.Do(ctx, s.policy, "docstore.GetDocumentByID", func(ctx context.Context) (map[string]any, error) {
		var doc []byte
		err := s.db.QueryRowContext(ctx, `SELECT doc FROM `+collection+` WHERE id = $1`, id).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get document: %w", err)
		}
		var result map[string]any
		if err := json.Unmarshal(doc, &result); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		return result, nil
	})
}

// CollectionStatus reports per-collection health.
type CollectionStatus struct {
	Status   string `json:"status"`
	DocCount int    `json:"doc_count,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Health pings the store and counts documents per collection.
func (s *Store) Health(ctx context.Context) (map[string]CollectionStatus, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping docstore: %w", err)
	}
	result := make(map[string]CollectionStatus, len(collections))
	for name := range collections {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+name).Scan(&count); err != nil {
			result[name] = CollectionStatus{Status: "error", Error: err.Error()}
			continue
		}
		result[name] = CollectionStatus{Status: "ok", DocCount: count}
	}
	return result, nil
}

func decodeGoldenClause(doc []byte) (GoldenClause, error) {
	var clause GoldenClause
	if err := json.Unmarshal(doc, &clause); err != nil {
		return GoldenClause{}, err
	}
	if clause.ClauseID == "" || clause.Text == "" {
		return GoldenClause{}, errors.New("missing clause_id or text")
	}
	return clause, nil
}

func goldenClauseSelector(contractType, jurisdiction string, mandatoryOnly bool, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, doc FROM golden_clauses WHERE doc->'contract_types' ? $1`)
	args := []any{contractType}
	if jurisdiction != "" {
		args = append(args, jurisdiction)
		fmt.Fprintf(&b, ` AND doc->>'jurisdiction' = $%d`, len(args))
	}
	if mandatoryOnly {
		b.WriteString(` AND (doc->>'mandatory')::boolean`)
	}
	args = append(args, limit)
	fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	return b.String(), args
}

func precedentSelector(contractType, jurisdiction string, minConfidence float64, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, doc FROM historical_decisions WHERE doc->>'contract_type' = $1 AND (doc->>'confidence')::float8 >= $2`)
	args := []any{contractType, minConfidence}
	if jurisdiction != "" {
		args = append(args, jurisdiction)
		fmt.Fprintf(&b, ` AND doc->>'jurisdiction' = $%d`, len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, ` ORDER BY (doc->>'confidence')::float8 DESC LIMIT $%d`, len(args))
	return b.String(), args
}

func mappingSelector(jurisdiction, regulationType string, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, doc FROM regulatory_mappings`)
	var args []any
	if jurisdiction != "" {
		args = append(args, jurisdiction)
		fmt.Fprintf(&b, ` WHERE doc->>'jurisdiction' = $%d`, len(args))
	}
	if regulationType != "" {
		args = append(args, regulationType)
		if len(args) == 1 {
			fmt.Fprintf(&b, ` WHERE doc->>'regulation_type' = $%d`, len(args))
		} else {
			fmt.Fprintf(&b, ` AND doc->>'regulation_type' = $%d`, len(args))
		}
	}
	args = append(args, limit)
	fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	return b.String(), args
}
