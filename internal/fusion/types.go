package fusion

import (
	"fmt"
	"math"
	"time"
)

// Alignment classifies how a signal relates to the contract.
type Alignment string

const (
	AlignmentMatch    Alignment = "MATCH"
	AlignmentConflict Alignment = "CONFLICT"
	AlignmentPartial  Alignment = "PARTIAL"
	AlignmentUnknown  Alignment = "UNKNOWN"
)

// Severity grades a compliance gap.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Clause is one extracted contract clause supplied by the caller.
type Clause struct {
	Section string `json:"section"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// InternalSignal is a comparison between the contract and one policy clause.
type InternalSignal struct {
	Source     string    `json:"source"`
	ClauseType string    `json:"type"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Alignment  Alignment `json:"alignment"`
}

// ExternalSignal is a comparison between the contract and one regulation
// requirement.
type ExternalSignal struct {
	Source      string    `json:"source"`
	Regulation  string    `json:"regulation"`
	Requirement string    `json:"requirement"`
	Confidence  float64   `json:"confidence"`
	Alignment   Alignment `json:"alignment"`
}

// HistoricalSignal is a precedent decision matched to the current case.
type HistoricalSignal struct {
	DecisionID      string    `json:"decision_id"`
	ContractType    string    `json:"contract_type"`
	Modification    string    `json:"modification"`
	Rationale       string    `json:"rationale"`
	Confidence      float64   `json:"confidence"`
	SimilarityScore float64   `json:"similarity_score"`
	Date            time.Time `json:"date"`
}

// ComplianceGap is a derived issue requiring remediation, created from a
// CONFLICT-aligned signal.
type ComplianceGap struct {
	Clause          string   `json:"clause"`
	Issue           string   `json:"issue"`
	Severity        Severity `json:"severity"`
	Recommendation  string   `json:"recommendation"`
	Confidence      float64  `json:"confidence"`
	RegulatoryBasis []string `json:"regulatory_basis"`
}

// SourceStatus reports whether an upstream evidence source contributed or
// was degraded to an empty result.
type SourceStatus struct {
	Name     string `json:"name"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// Analysis is the complete signal fusion result. It is immutable once
// returned and never persisted.
type Analysis struct {
	InternalSignals   []InternalSignal   `json:"internal_signals"`
	ExternalSignals   []ExternalSignal   `json:"external_signals"`
	HistoricalSignals []HistoricalSignal `json:"historical_signals"`
	Gaps              []ComplianceGap    `json:"gaps"`
	OverallConfidence float64            `json:"overall_confidence"`
	Sources           []SourceStatus     `json:"sources,omitempty"`
}

// ValidConfidence reports whether v is a finite score in [0, 1].
func ValidConfidence(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 1
}

// Validate checks every confidence-bearing field of the analysis.
func (a Analysis) Validate() error {
	if !ValidConfidence(a.OverallConfidence) {
		return fmt.Errorf("overall_confidence %v out of range", a.OverallConfidence)
	}
	for _, s := range a.InternalSignals {
		if !ValidConfidence(s.Confidence) {
			return fmt.Errorf("internal signal %q confidence %v out of range", s.Source, s.Confidence)
		}
	}
	for _, s := range a.ExternalSignals {
		if !ValidConfidence(s.Confidence) {
			return fmt.Errorf("external signal %q confidence %v out of range", s.Source, s.Confidence)
		}
	}
	for _, s := range a.HistoricalSignals {
		if !ValidConfidence(s.Confidence) || !ValidConfidence(s.SimilarityScore) {
			return fmt.Errorf("historical signal %q scores out of range", s.DecisionID)
		}
	}
	for _, g := range a.Gaps {
		if !ValidConfidence(g.Confidence) {
			return fmt.Errorf("gap %q confidence %v out of range", g.Clause, g.Confidence)
		}
		if len(g.RegulatoryBasis) == 0 {
			return fmt.Errorf("gap %q has no source attribution", g.Clause)
		}
	}
	return nil
}
