package docstore

// GoldenClause is an approved policy template clause. Documents are stored
// as JSON; fields absent in a stored document decode to zero values, and
// documents that fail validation are skipped at query time.
type GoldenClause struct {
	ClauseID      string   `json:"clause_id"`
	Type          string   `json:"type"`
	ContractTypes []string `json:"contract_types"`
	Text          string   `json:"text"`
	Jurisdiction  string   `json:"jurisdiction"`
	Mandatory     bool     `json:"mandatory"`
	RiskLevel     string   `json:"risk_level"`
	LastReviewed  string   `json:"last_reviewed"`
	ApprovedBy    string   `json:"approved_by"`
	Tags          []string `json:"tags,omitempty"`
}

// PrecedentDecision is a historical contract decision. DecisionID is the
// caller's business identifier and doubles as the idempotency key for
// StorePrecedent; the store-assigned row id is separate.
type PrecedentDecision struct {
	DecisionID      string   `json:"decision_id"`
	ContractType    string   `json:"contract_type"`
	ContractID      string   `json:"contract_id"`
	ClauseModified  string   `json:"clause_modified"`
	OriginalText    string   `json:"original_text"`
	ModifiedText    string   `json:"modified_text"`
	Rationale       string   `json:"rationale"`
	ApprovedBy      string   `json:"approved_by"`
	Date            string   `json:"date"`
	Jurisdiction    string   `json:"jurisdiction"`
	Confidence      float64  `json:"confidence"`
	Tags            []string `json:"tags,omitempty"`
	RegulatoryBasis []string `json:"regulatory_basis,omitempty"`
}

// RegulatoryMapping links a regulation to its object-store location.
type RegulatoryMapping struct {
	RegulationID    string   `json:"regulation_id"`
	RegulationName  string   `json:"regulation_name"`
	RegulationType  string   `json:"regulation_type"`
	Jurisdiction    string   `json:"jurisdiction"`
	EffectiveDate   string   `json:"effective_date"`
	ObjectKey       string   `json:"object_key"`
	Description     string   `json:"description"`
	KeyRequirements []string `json:"key_requirements,omitempty"`
	LastUpdated     string   `json:"last_updated"`
	Tags            []string `json:"tags,omitempty"`
}
