package app

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"lexroute/api/internal/docstore"
	"lexroute/api/internal/fusion"
	"lexroute/api/internal/inference"
	"lexroute/api/internal/objstore"
	"lexroute/api/internal/routing"
	"lexroute/api/internal/trace"
)

// Analyzer runs the fusion pipeline for one contract.
type Analyzer interface {
	Analyze(ctx context.Context, input fusion.Input) (fusion.Analysis, error)
}

// PrecedentStore is the slice of the document store the service uses.
type PrecedentStore interface {
	GetPrecedents(ctx context.Context, contractType, jurisdiction string, minConfidence float64, limit int) ([]docstore.PrecedentDecision, error)
	StorePrecedent(ctx context.Context, decision docstore.PrecedentDecision) (string, error)
	Ping(ctx context.Context) error
}

// InferenceMeter exposes the inference client's usage counters and probe.
type InferenceMeter interface {
	ModelID() string
	Usage() inference.Usage
	ResetUsage()
	HealthCheck(ctx context.Context) inference.HealthStatus
}

// ObjectHealth reports object store reachability. Optional.
type ObjectHealth interface {
	Health(ctx context.Context) (objstore.BucketStatus, error)
}

type Service struct {
	analyzer    Analyzer
	router      *routing.Router
	synthesizer *trace.Synthesizer
	precedents  PrecedentStore
	objects     ObjectHealth
	meter       InferenceMeter
}

type Deps struct {
	Analyzer    Analyzer
	Router      *routing.Router
	Synthesizer *trace.Synthesizer
	Precedents  PrecedentStore
	Objects     ObjectHealth
	Meter       InferenceMeter
}

func NewService(deps Deps) *Service {
	if deps.Synthesizer == nil {
		deps.Synthesizer = trace.NewSynthesizer()
	}
	return &Service{
		analyzer:    deps.Analyzer,
		router:      deps.Router,
		synthesizer: deps.Synthesizer,
		precedents:  deps.Precedents,
		objects:     deps.Objects,
		meter:       deps.Meter,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.precedents.Ping(ctx)
}

type AnalyzeInput struct {
	ContractText string          `json:"contract_text"`
	ContractType string          `json:"contract_type"`
	Jurisdiction string          `json:"jurisdiction"`
	Clauses      []fusion.Clause `json:"clauses,omitempty"`
}

func (s *Service) Analyze(ctx context.Context, input AnalyzeInput) (fusion.Analysis, error) {
	if strings.TrimSpace(input.ContractText) == "" {
		return fusion.Analysis{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "contract_text is required", nil)
	}
	if input.ContractType == "" {
		return fusion.Analysis{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "contract_type is required", nil)
	}
	if input.Jurisdiction == "" {
		input.Jurisdiction = "US"
	}

	analysis, err := s.analyzer.Analyze(ctx, fusion.Input{
		ContractText: input.ContractText,
		ContractType: input.ContractType,
		Jurisdiction: input.Jurisdiction,
		Clauses:      input.Clauses,
	})
	if err != nil {
		return fusion.Analysis{}, domainError(http.StatusInternalServerError, "FUSION_ANALYSIS_FAILED", "Failed to analyze contract: "+err.Error(), nil)
	}
	return analysis, nil
}

func (s *Service) Classify(ctx context.Context, analysis fusion.Analysis, meta routing.Metadata) (routing.Decision, error) {
	if err := analysis.Validate(); err != nil {
		return routing.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	if meta.Type == "" {
		return routing.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "contract_metadata.type is required", nil)
	}
	return s.router.Classify(ctx, analysis, meta), nil
}

type PrecedentQuery struct {
	ContractType string `json:"contract_type"`
	Jurisdiction string `json:"jurisdiction"`
	ClauseType   string `json:"clause_type,omitempty"`
	Limit        int    `json:"limit"`
}

type PrecedentResult struct {
	Precedents    []fusion.HistoricalSignal `json:"precedents"`
	TotalFound    int                       `json:"total_found"`
	AvgConfidence float64                   `json:"avg_confidence"`
}

// QueryPrecedents retrieves prior decisions for the contract type and scores
// each for similarity to the requested clause type.
func (s *Service) QueryPrecedents(ctx context.Context, query PrecedentQuery) (PrecedentResult, error) {
	if query.ContractType == "" {
		return PrecedentResult{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "contract_type is required", nil)
	}
	if query.Limit < 1 {
		query.Limit = 10
	}
	if query.Limit > 50 {
		query.Limit = 50
	}

	decisions, err := s.precedents.GetPrecedents(ctx, query.ContractType, query.Jurisdiction, 0, query.Limit)
	if err != nil {
		return PrecedentResult{}, domainError(http.StatusInternalServerError, "MEMORY_QUERY_FAILED", "Failed to query precedents: "+err.Error(), nil)
	}

	signals := make([]fusion.HistoricalSignal, 0, len(decisions))
	sum := 0.0
	for _, decision := range decisions {
		confidence := decision.Confidence
		if confidence == 0 {
			confidence = 0.7
		}
		signals = append(signals, fusion.HistoricalSignal{
			DecisionID:      decision.DecisionID,
			ContractType:    decision.ContractType,
			Modification:    decision.ModifiedText,
			Rationale:       decision.Rationale,
			Confidence:      confidence,
			SimilarityScore: similarityScore(decision, query.ClauseType),
			Date:            parseDecisionDate(decision.Date),
		})
		sum += confidence
	}

	result := PrecedentResult{Precedents: signals, TotalFound: len(signals)}
	if len(signals) > 0 {
		result.AvgConfidence = math.Round(sum/float64(len(signals))*100) / 100
	}
	return result, nil
}

func (s *Service) StorePrecedent(ctx context.Context, decision docstore.PrecedentDecision) (string, error) {
	if decision.DecisionID == "" {
		return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "decision_id is required", nil)
	}
	id, err := s.precedents.StorePrecedent(ctx, decision)
	if err != nil {
		return "", domainError(http.StatusInternalServerError, "MEMORY_STORE_FAILED", "Failed to store precedent: "+err.Error(), nil)
	}
	return id, nil
}

func (s *Service) GenerateTrace(ctx context.Context, input trace.Input) (trace.Output, error) {
	if input.ContractID == "" {
		return trace.Output{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "contract_id is required", nil)
	}
	if err := input.Analysis.Validate(); err != nil {
		return trace.Output{}, domainError(http.StatusBadRequest, "TRACE_GENERATION_FAILED", err.Error(), nil)
	}
	return s.synthesizer.Synthesize(input), nil
}

func (s *Service) InferenceUsage() inference.Usage {
	return s.meter.Usage()
}

// ResetInferenceUsage zeroes the token counters and returns the fresh
// snapshot.
func (s *Service) ResetInferenceUsage() inference.Usage {
	s.meter.ResetUsage()
	return s.meter.Usage()
}

func (s *Service) InferenceModelID() string {
	return s.meter.ModelID()
}

// InferenceHealth issues a minimal generation probe, so it spends tokens.
func (s *Service) InferenceHealth(ctx context.Context) inference.HealthStatus {
	return s.meter.HealthCheck(ctx)
}

func (s *Service) ObjectStoreHealth(ctx context.Context) (objstore.BucketStatus, error) {
	if s.objects == nil {
		return objstore.BucketStatus{}, nil
	}
	return s.objects.Health(ctx)
}

// similarityScore is a keyword-level stand-in for embedding similarity: a
// 0.7 base, boosted 0.2 on a clause-type tag match, averaged with the
// precedent's own confidence.
func similarityScore(decision docstore.PrecedentDecision, clauseType string) float64 {
	score := 0.7
	if clauseType != "" {
		for _, tag := range decision.Tags {
			if strings.EqualFold(tag, clauseType) {
				score += 0.2
				break
			}
		}
	}
	confidence := decision.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	score = (score + confidence) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func parseDecisionDate(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
