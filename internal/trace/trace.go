// Package trace assembles auditable analysis reports from fusion output,
// routing decisions, and precedent evidence.
package trace

import (
	"fmt"
	"strings"
	"time"

	"lexroute/api/internal/fusion"
	"lexroute/api/internal/routing"
)

type Action string

const (
	ActionApprove  Action = "APPROVE"
	ActionModify   Action = "MODIFY"
	ActionReview   Action = "REVIEW"
	ActionReject   Action = "REJECT"
	ActionEscalate Action = "ESCALATE"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// RecommendedAction is one remediation step derived from a compliance gap,
// or the single default action when no gaps exist.
type RecommendedAction struct {
	Clause          string   `json:"clause"`
	Action          Action   `json:"action"`
	Rationale       string   `json:"rationale"`
	Confidence      float64  `json:"confidence"`
	Priority        Priority `json:"priority"`
	CurrentText     string   `json:"current_text,omitempty"`
	RecommendedText string   `json:"recommended_text,omitempty"`
}

// Input collects everything a trace covers.
type Input struct {
	ContractID   string
	ContractType string
	Jurisdiction string
	Analysis     fusion.Analysis
	Decision     routing.Decision
	Precedents   []fusion.HistoricalSignal
}

// Output is the formatted report plus the structured recommendations it was
// built from.
type Output struct {
	Report          string              `json:"trace"`
	ContractID      string              `json:"contract_id"`
	Timestamp       time.Time           `json:"timestamp"`
	Recommendations []RecommendedAction `json:"recommendations"`
}

// Synthesizer renders analysis reports. The zero value uses the wall clock.
type Synthesizer struct {
	now func() time.Time
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{now: time.Now}
}

const (
	heavyRule = "═══════════════════════════════════════════════════"
	lightRule = "───────────────────────────────────────────────────"
)

// Synthesize builds the report sections in order: header, signal analysis,
// risk assessment, recommended actions, decision summary.
func (s *Synthesizer) Synthesize(input Input) Output {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	timestamp := now().UTC()

	recommendations := Recommendations(input.Analysis)

	parts := []string{
		header(input, timestamp),
		signalAnalysis(input.Analysis, input.Precedents),
		riskAssessment(input.Decision),
		formatRecommendations(recommendations),
		summary(input.Analysis, input.Decision, recommendations),
	}

	return Output{
		Report:          strings.Join(parts, "\n\n"),
		ContractID:      input.ContractID,
		Timestamp:       timestamp,
		Recommendations: recommendations,
	}
}

// Recommendations derives one action per gap. A gap with confidence below
// 0.5 is forced to ESCALATE at HIGH priority regardless of severity. With no
// gaps, a single APPROVE or ESCALATE action is produced depending on the
// overall confidence.
func Recommendations(analysis fusion.Analysis) []RecommendedAction {
	var actions []RecommendedAction

	for _, gap := range analysis.Gaps {
		var action Action
		var priority Priority
		switch gap.Severity {
		case fusion.SeverityHigh:
			action, priority = ActionModify, PriorityHigh
		case fusion.SeverityMedium:
			action, priority = ActionModify, PriorityMedium
		default:
			action, priority = ActionReview, PriorityLow
		}
		if gap.Confidence < 0.5 {
			action, priority = ActionEscalate, PriorityHigh
		}

		rec := RecommendedAction{
			Clause:     gap.Clause,
			Action:     action,
			Rationale:  gap.Recommendation,
			Confidence: gap.Confidence,
			Priority:   priority,
		}
		if action == ActionModify {
			rec.RecommendedText = gap.Recommendation
		}
		actions = append(actions, rec)
	}

	if len(actions) == 0 {
		if analysis.OverallConfidence < 0.5 {
			actions = append(actions, RecommendedAction{
				Clause:     "Overall Contract",
				Action:     ActionEscalate,
				Rationale:  "Low confidence in analysis. Human review required despite no detected gaps.",
				Confidence: analysis.OverallConfidence,
				Priority:   PriorityHigh,
			})
		} else {
			actions = append(actions, RecommendedAction{
				Clause:     "Overall Contract",
				Action:     ActionApprove,
				Rationale:  "No compliance gaps detected. Contract aligns with all analyzed sources.",
				Confidence: analysis.OverallConfidence,
				Priority:   PriorityLow,
			})
		}
	}

	return actions
}

func header(input Input, timestamp time.Time) string {
	var b strings.Builder
	b.WriteString(heavyRule + "\n")
	b.WriteString("LEGAL LOGIC TRACE\n")
	b.WriteString(heavyRule + "\n\n")
	fmt.Fprintf(&b, "Contract ID: %s\n", input.ContractID)
	fmt.Fprintf(&b, "Contract Type: %s\n", input.ContractType)
	fmt.Fprintf(&b, "Jurisdiction: %s\n", input.Jurisdiction)
	fmt.Fprintf(&b, "Timestamp: %s", timestamp.Format(time.RFC3339))
	return b.String()
}

func alignmentIcon(a fusion.Alignment) string {
	if a == fusion.AlignmentMatch {
		return "✓"
	}
	return "⚠"
}

func signalAnalysis(analysis fusion.Analysis, precedents []fusion.HistoricalSignal) string {
	var b strings.Builder
	b.WriteString(lightRule + "\n")
	b.WriteString("SIGNAL ANALYSIS\n")
	b.WriteString(lightRule)

	if len(analysis.InternalSignals) > 0 {
		b.WriteString("\n\n**Internal Signals (Golden Clauses)**:")
		for _, s := range top5Internal(analysis.InternalSignals) {
			fmt.Fprintf(&b, "\n\n%s %s (Confidence: %.2f)\n", alignmentIcon(s.Alignment), s.Source, s.Confidence)
			fmt.Fprintf(&b, "  Type: %s\n", s.ClauseType)
			fmt.Fprintf(&b, "  Status: %s", s.Alignment)
		}
	}

	if len(analysis.ExternalSignals) > 0 {
		b.WriteString("\n\n**External Signals (Regulations)**:")
		for _, s := range top5External(analysis.ExternalSignals) {
			fmt.Fprintf(&b, "\n\n%s %s (Confidence: %.2f)\n", alignmentIcon(s.Alignment), s.Source, s.Confidence)
			fmt.Fprintf(&b, "  Regulation: %s\n", s.Regulation)
			fmt.Fprintf(&b, "  Status: %s", s.Alignment)
		}
	}

	if len(precedents) > 0 {
		sum := 0.0
		for _, p := range precedents {
			sum += p.Confidence
		}
		b.WriteString("\n\n**Historical Signals (Precedents)**:")
		fmt.Fprintf(&b, "\n\n✓ Precedents Found: %d similar cases\n", len(precedents))
		fmt.Fprintf(&b, "  Average Confidence: %.2f\n", sum/float64(len(precedents)))
		b.WriteString("  Status: SUPPORTS ANALYSIS")
	}

	return b.String()
}

func top5Internal(signals []fusion.InternalSignal) []fusion.InternalSignal {
	if len(signals) > 5 {
		return signals[:5]
	}
	return signals
}

func top5External(signals []fusion.ExternalSignal) []fusion.ExternalSignal {
	if len(signals) > 5 {
		return signals[:5]
	}
	return signals
}

func riskAssessment(decision routing.Decision) string {
	var b strings.Builder
	b.WriteString(lightRule + "\n")
	b.WriteString("RISK ASSESSMENT\n")
	b.WriteString(lightRule + "\n")

	fmt.Fprintf(&b, "\nOverall Risk Score: %.2f (%s)\n", decision.RiskScore, decision.RiskLevel)
	fmt.Fprintf(&b, "Complexity Classification: %s\n", decision.Complexity)
	fmt.Fprintf(&b, "Routing Decision: %s\n", decision.WorkflowPath)
	review := "NO"
	if decision.HumanReviewRequired {
		review = "YES"
	}
	fmt.Fprintf(&b, "Human Review Required: %s\n", review)

	b.WriteString("\n**Justification:**\n")
	b.WriteString(decision.Justification)
	return b.String()
}

func formatRecommendations(recommendations []RecommendedAction) string {
	var b strings.Builder
	b.WriteString(lightRule + "\n")
	b.WriteString("RECOMMENDED ACTIONS\n")
	b.WriteString(lightRule)

	for i, rec := range recommendations {
		fmt.Fprintf(&b, "\n\n**Action %d: %s %s**\n", i+1, rec.Action, rec.Clause)
		fmt.Fprintf(&b, "Confidence: %.2f\n", rec.Confidence)
		fmt.Fprintf(&b, "Priority: %s", rec.Priority)
		if rec.Confidence < 0.5 {
			b.WriteString("\n⚠ **LOW CONFIDENCE - HUMAN REVIEW REQUIRED**")
		}
		b.WriteString("\n\n**Rationale:**\n")
		b.WriteString(rec.Rationale)
		if rec.RecommendedText != "" {
			b.WriteString("\n\n**Recommended Text:**\n")
			text := rec.RecommendedText
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			b.WriteString(text)
		}
	}
	return b.String()
}

func summary(analysis fusion.Analysis, decision routing.Decision, recommendations []RecommendedAction) string {
	hasHighPriority := false
	hasLowConfidence := false
	for _, rec := range recommendations {
		if rec.Priority == PriorityHigh {
			hasHighPriority = true
		}
		if rec.Confidence < 0.5 {
			hasLowConfidence = true
		}
	}

	var verdict string
	switch {
	case hasLowConfidence:
		verdict = "⚠ REQUIRES EXPERT REVIEW"
	case hasHighPriority:
		verdict = "⚠ APPROVED WITH MODIFICATIONS"
	case decision.WorkflowPath == routing.WorkflowAutoApprove:
		verdict = "✓ APPROVED"
	default:
		verdict = "⚠ REQUIRES REVIEW"
	}

	var b strings.Builder
	b.WriteString(lightRule + "\n")
	b.WriteString("DECISION SUMMARY\n")
	b.WriteString(lightRule + "\n")

	fmt.Fprintf(&b, "\n%s\n", verdict)
	fmt.Fprintf(&b, "Overall Confidence: %.2f\n", analysis.OverallConfidence)

	b.WriteString("\n**Next Steps:**\n")
	switch decision.WorkflowPath {
	case routing.WorkflowAutoApprove:
		b.WriteString("1. Contract ready for signature\n")
		b.WriteString("2. No additional legal review required")
	case routing.WorkflowParalegalReview:
		b.WriteString("1. Route to paralegal for review\n")
		b.WriteString("2. Apply recommended modifications\n")
		b.WriteString("3. Verify compliance with flagged issues")
	default:
		b.WriteString("1. Escalate to General Counsel\n")
		b.WriteString("2. Comprehensive legal review required\n")
		b.WriteString("3. Address all high-priority recommendations")
	}

	b.WriteString("\n\n" + heavyRule)
	return b.String()
}
