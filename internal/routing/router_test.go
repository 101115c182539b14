package routing

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"lexroute/api/internal/fusion"
	"lexroute/api/internal/inference"
)

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(_ context.Context, _ inference.Request) (inference.Result, error) {
	if s.err != nil {
		return inference.Result{}, s.err
	}
	return inference.Result{Text: s.text}, nil
}

func analysisWith(confidence float64, severities ...fusion.Severity) fusion.Analysis {
	gaps := make([]fusion.ComplianceGap, len(severities))
	for i, s := range severities {
		gaps[i] = fusion.ComplianceGap{Severity: s, Confidence: 0.85, RegulatoryBasis: []string{"test"}}
	}
	return fusion.Analysis{Gaps: gaps, OverallConfidence: confidence}
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		analysis fusion.Analysis
		want     float64
	}{
		{"no gaps full confidence", analysisWith(1.0), 0},
		{"no gaps mid confidence", analysisWith(0.5), 0.2},
		{"one high gap", analysisWith(0.8, fusion.SeverityHigh), 0.7*0.2*0.6 + 0.2*0.4},
		{"two medium gaps", analysisWith(0.9, fusion.SeverityMedium, fusion.SeverityMedium), 0.6*0.2*0.6 + 0.1*0.4},
		{"gap risk capped", analysisWith(1.0,
			fusion.SeverityHigh, fusion.SeverityHigh, fusion.SeverityHigh, fusion.SeverityHigh,
			fusion.SeverityHigh, fusion.SeverityHigh, fusion.SeverityHigh, fusion.SeverityHigh), 0.6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RiskScore(tc.analysis)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RiskScore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClassificationThresholds(t *testing.T) {
	tests := []struct {
		score      float64
		complexity Complexity
		risk       RiskLevel
	}{
		{0.0, ComplexityRoutine, RiskLow},
		{0.25, ComplexityRoutine, RiskLow},
		{0.3, ComplexityStandard, RiskMedium},
		{0.45, ComplexityStandard, RiskMedium},
		{0.69, ComplexityStandard, RiskMedium},
		{0.7, ComplexityComplex, RiskHigh},
		{1.0, ComplexityComplex, RiskHigh},
	}
	for _, tc := range tests {
		if got := ClassifyComplexity(tc.score); got != tc.complexity {
			t.Errorf("ClassifyComplexity(%.2f) = %s, want %s", tc.score, got, tc.complexity)
		}
		if got := ClassifyRiskLevel(tc.score); got != tc.risk {
			t.Errorf("ClassifyRiskLevel(%.2f) = %s, want %s", tc.score, got, tc.risk)
		}
	}
}

func TestDetermineWorkflow(t *testing.T) {
	tests := []struct {
		score float64
		want  WorkflowPath
	}{
		{0.0, WorkflowAutoApprove},
		{0.15, WorkflowAutoApprove},
		{0.2, WorkflowParalegalReview},
		{0.25, WorkflowParalegalReview},
		{0.45, WorkflowParalegalReview},
		{0.7, WorkflowGCEscalation},
		{0.95, WorkflowGCEscalation},
	}
	for _, tc := range tests {
		got := DetermineWorkflow(ClassifyComplexity(tc.score), tc.score)
		if got != tc.want {
			t.Errorf("DetermineWorkflow(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestWorkflowMonotonic(t *testing.T) {
	rank := map[WorkflowPath]int{
		WorkflowAutoApprove:     0,
		WorkflowParalegalReview: 1,
		WorkflowGCEscalation:    2,
	}
	prev := -1
	for score := 0.0; score <= 1.0; score += 0.01 {
		path := DetermineWorkflow(ClassifyComplexity(score), score)
		if rank[path] < prev {
			t.Fatalf("workflow became less restrictive at score %.2f: %s", score, path)
		}
		prev = rank[path]
	}
}

func TestClassifyDecision(t *testing.T) {
	router := NewRouter(&stubGenerator{text: "Moderate risk requires paralegal review."})
	// risk score 0.284: ROUTINE complexity, but >= 0.2 still routes to review.
	analysis := analysisWith(0.5, fusion.SeverityHigh)

	decision := router.Classify(t.Context(), analysis, Metadata{Type: "MSA", Jurisdiction: "US"})
	if decision.Complexity != ComplexityRoutine {
		t.Errorf("complexity = %s, want ROUTINE", decision.Complexity)
	}
	if decision.WorkflowPath != WorkflowParalegalReview {
		t.Errorf("workflow = %s, want PARALEGAL_REVIEW", decision.WorkflowPath)
	}
	if !decision.HumanReviewRequired {
		t.Error("human review should be required outside AUTO_APPROVE")
	}
	if decision.EscalationLevel != "PARALEGAL" {
		t.Errorf("escalation = %s, want PARALEGAL", decision.EscalationLevel)
	}
	if decision.Justification != "Moderate risk requires paralegal review." {
		t.Errorf("justification = %q", decision.Justification)
	}
}

func TestClassifyJustificationFallback(t *testing.T) {
	router := NewRouter(&stubGenerator{err: errors.New("model unavailable")})
	analysis := analysisWith(0.95)

	decision := router.Classify(t.Context(), analysis, Metadata{Type: "NDA", Jurisdiction: "US"})
	if decision.WorkflowPath != WorkflowAutoApprove {
		t.Fatalf("workflow = %s, want AUTO_APPROVE", decision.WorkflowPath)
	}
	if decision.HumanReviewRequired {
		t.Error("AUTO_APPROVE should not require human review")
	}
	if decision.EscalationLevel != "NONE" {
		t.Errorf("escalation = %s, want NONE", decision.EscalationLevel)
	}
	if !strings.Contains(decision.Justification, "ROUTINE") || !strings.Contains(decision.Justification, "AUTO_APPROVE") {
		t.Errorf("template justification = %q", decision.Justification)
	}
}
