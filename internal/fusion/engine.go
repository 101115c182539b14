// Package fusion correlates a contract against policy clauses, regulation
// text, and precedent decisions, producing alignment signals and compliance
// gaps.
package fusion

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"lexroute/api/internal/docstore"
	"lexroute/api/internal/inference"
	"lexroute/api/internal/objstore"
)

const (
	// SourcePolicyClauses and SourceRegulations name the degradable
	// upstream evidence sources in Analysis.Sources.
	SourcePolicyClauses = "policy_clauses"
	SourceRegulations   = "regulations"

	maxPolicyClauses = 10
	maxRegulations   = 5
	// maxConcurrentComparisons bounds classification fan-out to respect
	// the inference service's rate limits.
	maxConcurrentComparisons = 4

	contractExcerptLen = 1000
	regulationSliceLen = 2000
)

// PolicySource supplies policy template clauses.
type PolicySource interface {
	QueryGoldenClauses(ctx context.Context, contractType, jurisdiction string, mandatoryOnly bool, limit int) ([]docstore.GoldenClause, error)
}

// RegulationSource supplies regulation metadata and text.
type RegulationSource interface {
	ListRegulations(ctx context.Context, jurisdiction, prefix string) ([]objstore.ObjectInfo, error)
	GetRegulation(ctx context.Context, jurisdiction, name string, useCache bool) (string, bool, error)
}

// Input is one analysis request.
type Input struct {
	ContractText string
	ContractType string
	Jurisdiction string
	Clauses      []Clause
}

type Engine struct {
	policies    PolicySource
	regulations RegulationSource
	generator   Generator
	classifier  Classifier
}

func NewEngine(policies PolicySource, regulations RegulationSource, generator Generator, classifier Classifier) *Engine {
	if classifier == nil {
		classifier = NewGenerativeClassifier(generator)
	}
	return &Engine{policies: policies, regulations: regulations, generator: generator, classifier: classifier}
}

type regulationSection struct {
	source       string
	jurisdiction string
	content      string
}

// Analyze runs the fusion pipeline. Unavailable sources degrade to empty
// results and are reported in Analysis.Sources; only internal failures of
// the pipeline itself return an error.
func (e *Engine) Analyze(ctx context.Context, input Input) (Analysis, error) {
	if strings.TrimSpace(input.ContractText) == "" {
		return Analysis{}, fmt.Errorf("fusion: contract text is required")
	}

	var (
		clauses    []docstore.GoldenClause
		regs       []objstore.ObjectInfo
		policyErr  error
		reguleErr  error
		fetchGroup errgroup.Group
	)
	fetchGroup.Go(func() error {
		clauses, policyErr = e.policies.QueryGoldenClauses(ctx, input.ContractType, "", false, maxPolicyClauses)
		return nil
	})
	fetchGroup.Go(func() error {
		regs, reguleErr = e.regulations.ListRegulations(ctx, input.Jurisdiction, "")
		return nil
	})
	_ = fetchGroup.Wait()

	sources := []SourceStatus{
		sourceStatus(SourcePolicyClauses, policyErr),
		sourceStatus(SourceRegulations, reguleErr),
	}
	if policyErr != nil {
		log.Printf("fusion: policy clause fetch degraded: %v", policyErr)
		clauses = nil
	}
	if reguleErr != nil {
		log.Printf("fusion: regulation fetch degraded: %v", reguleErr)
		regs = nil
	}

	sections := e.extractRegulatorySections(ctx, regs, input)

	excerpt := truncate(input.ContractText, contractExcerptLen)
	internal := e.analyzeInternalSignals(ctx, clauses, excerpt)
	external := e.analyzeExternalSignals(ctx, sections, excerpt)

	gaps := e.identifyComplianceGaps(ctx, internal, external)

	return Analysis{
		InternalSignals:   internal,
		ExternalSignals:   external,
		HistoricalSignals: []HistoricalSignal{},
		Gaps:              gaps,
		OverallConfidence: overallConfidence(internal, external, len(gaps)),
		Sources:           sources,
	}, nil
}

// extractRegulatorySections fetches up to maxRegulations regulation texts
// and asks the generator for the requirement sections most relevant to the
// contract type. Per-regulation failures are skipped, not fatal.
func (e *Engine) extractRegulatorySections(ctx context.Context, regs []objstore.ObjectInfo, input Input) []regulationSection {
	if len(regs) > maxRegulations {
		regs = regs[:maxRegulations]
	}

	var sections []regulationSection
	for _, reg := range regs {
		name := strings.TrimPrefix(reg.Key, input.Jurisdiction+"/")
		content, found, err := e.regulations.GetRegulation(ctx, input.Jurisdiction, name, true)
		if err != nil {
			log.Printf("fusion: skipping regulation %s: %v", reg.Key, err)
			continue
		}
		if !found || content == "" {
			continue
		}

		temperature := 0.1
		prompt := fmt.Sprintf(`Analyze this regulatory document and identify sections relevant to a %s contract.

Regulatory Document: %s

Contract Type: %s

Extract the most relevant regulatory requirements (max 3 sections). For each section, provide the section reference, the requirement text, and why it applies.`,
			input.ContractType, truncate(content, regulationSliceLen), input.ContractType)

		result, err := e.generator.Generate(ctx, inference.Request{Prompt: prompt, MaxTokens: 500, Temperature: &temperature})
		if err != nil {
			log.Printf("fusion: section extraction failed for %s: %v", reg.Key, err)
			continue
		}
		sections = append(sections, regulationSection{
			source:       name,
			jurisdiction: input.Jurisdiction,
			content:      result.Text,
		})
	}
	return sections
}

// analyzeInternalSignals classifies each policy clause against the contract
// excerpt under a bounded concurrency limit, preserving clause order.
func (e *Engine) analyzeInternalSignals(ctx context.Context, clauses []docstore.GoldenClause, excerpt string) []InternalSignal {
	results := make([]*InternalSignal, len(clauses))
	var group errgroup.Group
	group.SetLimit(maxConcurrentComparisons)

	for i, clause := range clauses {
		group.Go(func() error {
			label := fmt.Sprintf("Golden Clause #%s", clause.ClauseID)
			alignment, err := e.classifier.Classify(ctx, label+" ("+clause.Type+")", clause.Text, excerpt)
			if err != nil {
				log.Printf("fusion: skipping policy clause %s: %v", clause.ClauseID, err)
				return nil
			}
			results[i] = &InternalSignal{
				Source:     label,
				ClauseType: clause.Type,
				Text:       truncate(clause.Text, 200),
				Confidence: internalConfidence(alignment),
				Alignment:  alignment,
			}
			return nil
		})
	}
	_ = group.Wait()

	signals := make([]InternalSignal, 0, len(results))
	for _, s := range results {
		if s != nil {
			signals = append(signals, *s)
		}
	}
	return signals
}

// analyzeExternalSignals classifies each extracted regulation section
// against the contract excerpt.
func (e *Engine) analyzeExternalSignals(ctx context.Context, sections []regulationSection, excerpt string) []ExternalSignal {
	results := make([]*ExternalSignal, len(sections))
	var group errgroup.Group
	group.SetLimit(maxConcurrentComparisons)

	for i, section := range sections {
		group.Go(func() error {
			alignment, err := e.classifier.Classify(ctx, section.source, truncate(section.content, 500), excerpt)
			if err != nil {
				log.Printf("fusion: skipping regulation section %s: %v", section.source, err)
				return nil
			}
			results[i] = &ExternalSignal{
				Source:      section.source,
				Regulation:  section.source,
				Requirement: truncate(section.content, 200),
				Confidence:  externalConfidence(alignment),
				Alignment:   alignment,
			}
			return nil
		})
	}
	_ = group.Wait()

	signals := make([]ExternalSignal, 0, len(results))
	for _, s := range results {
		if s != nil {
			signals = append(signals, *s)
		}
	}
	return signals
}

// identifyComplianceGaps derives one gap per CONFLICT-aligned signal. A
// remediation-generation failure skips that gap.
func (e *Engine) identifyComplianceGaps(ctx context.Context, internal []InternalSignal, external []ExternalSignal) []ComplianceGap {
	type conflict struct {
		source     string
		confidence float64
	}
	var conflicts []conflict
	for _, s := range internal {
		if s.Alignment == AlignmentConflict {
			conflicts = append(conflicts, conflict{source: s.Source, confidence: s.Confidence})
		}
	}
	for _, s := range external {
		if s.Alignment == AlignmentConflict {
			conflicts = append(conflicts, conflict{source: s.Source, confidence: s.Confidence})
		}
	}

	var gaps []ComplianceGap
	for _, c := range conflicts {
		severity := SeverityMedium
		if c.confidence > 0.8 {
			severity = SeverityHigh
		}

		temperature := 0.1
		prompt := fmt.Sprintf(`Generate a specific recommendation to resolve this compliance conflict.

Conflict: %s conflicts with the contract
Confidence: %.2f

Provide the clause to modify, the recommended action, and the regulatory basis. Keep the response concise (max 100 words).`,
			c.source, c.confidence)

		result, err := e.generator.Generate(ctx, inference.Request{Prompt: prompt, MaxTokens: 150, Temperature: &temperature})
		if err != nil {
			log.Printf("fusion: skipping gap for %s: remediation generation failed: %v", c.source, err)
			continue
		}

		gaps = append(gaps, ComplianceGap{
			Clause:          "Section TBD",
			Issue:           fmt.Sprintf("Conflict with %s", c.source),
			Severity:        severity,
			Recommendation:  truncate(result.Text, 200),
			Confidence:      c.confidence,
			RegulatoryBasis: []string{c.source},
		})
	}
	return gaps
}

func internalConfidence(a Alignment) float64 {
	switch a {
	case AlignmentMatch:
		return 0.9
	case AlignmentConflict:
		return 0.85
	case AlignmentPartial:
		return 0.75
	default:
		return 0.7
	}
}

func externalConfidence(a Alignment) float64 {
	switch a {
	case AlignmentMatch:
		return 0.9
	case AlignmentConflict:
		return 0.85
	default:
		return 0.75
	}
}

// overallConfidence is the mean signal confidence reduced by a gap penalty
// capped at 0.2, clamped to [0, 1]. With no signals it defaults to 0.5.
func overallConfidence(internal []InternalSignal, external []ExternalSignal, gapCount int) float64 {
	n := len(internal) + len(external)
	if n == 0 {
		return 0.5
	}
	sum := 0.0
	for _, s := range internal {
		sum += s.Confidence
	}
	for _, s := range external {
		sum += s.Confidence
	}
	penalty := float64(gapCount) * 0.05
	if penalty > 0.2 {
		penalty = 0.2
	}
	return math.Round(clamp(sum/float64(n)-penalty)*100) / 100
}

func sourceStatus(name string, err error) SourceStatus {
	status := SourceStatus{Name: name}
	if err != nil {
		status.Degraded = true
		status.Error = err.Error()
	}
	return status
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
