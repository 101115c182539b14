// Package routing converts a fusion analysis into a risk score, complexity
// class, and review workflow path.
package routing

import (
	"context"
	"fmt"
	"log"
	"strings"

	"lexroute/api/internal/fusion"
	"lexroute/api/internal/inference"
)

type Complexity string

const (
	ComplexityRoutine  Complexity = "ROUTINE"
	ComplexityStandard Complexity = "STANDARD"
	ComplexityComplex  Complexity = "COMPLEX"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

type WorkflowPath string

const (
	WorkflowAutoApprove     WorkflowPath = "AUTO_APPROVE"
	WorkflowParalegalReview WorkflowPath = "PARALEGAL_REVIEW"
	WorkflowGCEscalation    WorkflowPath = "GC_ESCALATION"
)

// Metadata describes the contract being routed.
type Metadata struct {
	ContractID   string `json:"contract_id,omitempty"`
	Type         string `json:"type"`
	Jurisdiction string `json:"jurisdiction"`
}

// Decision is the routing outcome for one contract. Complexity, risk level,
// and workflow path are pure functions of the risk score.
type Decision struct {
	Complexity          Complexity   `json:"complexity"`
	RiskLevel           RiskLevel    `json:"risk_level"`
	RiskScore           float64      `json:"risk_score"`
	WorkflowPath        WorkflowPath `json:"workflow_path"`
	HumanReviewRequired bool         `json:"human_review_required"`
	Justification       string       `json:"justification"`
	EscalationLevel     string       `json:"escalation_level"`
}

// Router scores analyses and drafts decision justifications.
type Router struct {
	generator fusion.Generator
}

func NewRouter(generator fusion.Generator) *Router {
	return &Router{generator: generator}
}

// Classify derives the full routing decision for an analysis. A failed
// justification generation falls back to a deterministic template, never an
// error.
func (r *Router) Classify(ctx context.Context, analysis fusion.Analysis, meta Metadata) Decision {
	score := RiskScore(analysis)
	complexity := ClassifyComplexity(score)
	path := DetermineWorkflow(complexity, score)

	return Decision{
		Complexity:          complexity,
		RiskLevel:           ClassifyRiskLevel(score),
		RiskScore:           score,
		WorkflowPath:        path,
		HumanReviewRequired: path != WorkflowAutoApprove,
		Justification:       r.justify(ctx, analysis, meta, complexity, score, path),
		EscalationLevel:     EscalationLevel(path),
	}
}

func severityWeight(s fusion.Severity) float64 {
	switch s {
	case fusion.SeverityLow:
		return 0.1
	case fusion.SeverityHigh:
		return 0.7
	default:
		return 0.3
	}
}

// RiskScore blends gap severity (60%) with inverted analysis confidence
// (40%), clamped to [0, 1].
func RiskScore(analysis fusion.Analysis) float64 {
	gapRisk := 0.0
	if n := len(analysis.Gaps); n > 0 {
		total := 0.0
		for _, gap := range analysis.Gaps {
			total += severityWeight(gap.Severity)
		}
		gapRisk = total / float64(n) * float64(n) * 0.2
		if gapRisk > 1 {
			gapRisk = 1
		}
	}
	confidenceRisk := 1.0 - analysis.OverallConfidence
	return clamp(gapRisk*0.6 + confidenceRisk*0.4)
}

func ClassifyComplexity(score float64) Complexity {
	switch {
	case score < 0.3:
		return ComplexityRoutine
	case score < 0.7:
		return ComplexityStandard
	default:
		return ComplexityComplex
	}
}

func ClassifyRiskLevel(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskLow
	case score < 0.7:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func DetermineWorkflow(complexity Complexity, score float64) WorkflowPath {
	switch {
	case complexity == ComplexityComplex || score >= 0.7:
		return WorkflowGCEscalation
	case complexity == ComplexityStandard || score >= 0.2:
		return WorkflowParalegalReview
	default:
		return WorkflowAutoApprove
	}
}

func EscalationLevel(path WorkflowPath) string {
	switch path {
	case WorkflowAutoApprove:
		return "NONE"
	case WorkflowParalegalReview:
		return "PARALEGAL"
	default:
		return "GENERAL_COUNSEL"
	}
}

func (r *Router) justify(ctx context.Context, analysis fusion.Analysis, meta Metadata, complexity Complexity, score float64, path WorkflowPath) string {
	gapCount := len(analysis.Gaps)
	confidence := analysis.OverallConfidence

	if r.generator != nil {
		temperature := 0.1
		prompt := fmt.Sprintf(`Generate a concise justification for this contract routing decision.

Contract Type: %s
Jurisdiction: %s
Compliance Gaps: %d
Overall Confidence: %.2f
Risk Score: %.2f
Complexity: %s
Workflow Path: %s

Provide a 2-3 sentence justification explaining:
1. Why this complexity level was assigned
2. Key risk factors
3. Why this workflow path is appropriate

Keep response professional and concise.`,
			meta.Type, meta.Jurisdiction, gapCount, confidence, score, complexity, path)

		result, err := r.generator.Generate(ctx, inference.Request{Prompt: prompt, MaxTokens: 150, Temperature: &temperature})
		if err == nil {
			return strings.TrimSpace(result.Text)
		}
		log.Printf("routing: justification generation failed, using template: %v", err)
	}

	return templateJustification(gapCount, confidence, score, complexity, path)
}

func templateJustification(gapCount int, confidence, score float64, complexity Complexity, path WorkflowPath) string {
	switch complexity {
	case ComplexityRoutine:
		return fmt.Sprintf("Contract classified as ROUTINE with %d gap(s) and high confidence (%.2f). Risk score of %.2f supports %s.",
			gapCount, confidence, score, path)
	case ComplexityStandard:
		return fmt.Sprintf("Contract classified as STANDARD with %d gap(s) and moderate confidence (%.2f). Risk score of %.2f requires %s.",
			gapCount, confidence, score, path)
	default:
		return fmt.Sprintf("Contract classified as COMPLEX with %d gap(s) and confidence (%.2f). Risk score of %.2f necessitates %s.",
			gapCount, confidence, score, path)
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
