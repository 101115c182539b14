package fusion

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"lexroute/api/internal/docstore"
	"lexroute/api/internal/inference"
	"lexroute/api/internal/objstore"
)

type stubPolicies struct {
	clauses []docstore.GoldenClause
	err     error
}

func (s *stubPolicies) QueryGoldenClauses(_ context.Context, _, _ string, _ bool, limit int) ([]docstore.GoldenClause, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.clauses) > limit {
		return s.clauses[:limit], nil
	}
	return s.clauses, nil
}

type stubRegulations struct {
	objects []objstore.ObjectInfo
	texts   map[string]string
	err     error
	fetches atomic.Int64
}

func (s *stubRegulations) ListRegulations(_ context.Context, _, _ string) ([]objstore.ObjectInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.objects, nil
}

func (s *stubRegulations) GetRegulation(_ context.Context, _, name string, _ bool) (string, bool, error) {
	s.fetches.Add(1)
	text, ok := s.texts[name]
	return text, ok, nil
}

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

// stubClassifier resolves alignment by substring of the reference text.
type stubClassifier struct {
	byReference map[string]Alignment
	err         error
}

func (s *stubClassifier) Classify(_ context.Context, _, referenceText, _ string) (Alignment, error) {
	if s.err != nil {
		return AlignmentUnknown, s.err
	}
	for substr, a := range s.byReference {
		if strings.Contains(referenceText, substr) {
			return a, nil
		}
	}
	return AlignmentUnknown, nil
}

func testInput() Input {
	return Input{
		ContractText: "This agreement governs the sale of services between the parties.",
		ContractType: "MSA",
		Jurisdiction: "US",
	}
}

func TestAnalyzeCorrelatesSignals(t *testing.T) {
	policies := &stubPolicies{clauses: []docstore.GoldenClause{
		{ClauseID: "GC-001", Type: "indemnification", Text: "indemnify and hold harmless"},
		{ClauseID: "GC-002", Type: "liability", Text: "limitation of liability cap"},
	}}
	regulations := &stubRegulations{
		objects: []objstore.ObjectInfo{{Key: "US/data-privacy.txt"}},
		texts:   map[string]string{"data-privacy.txt": "personal data must be protected"},
	}
	classifier := &stubClassifier{byReference: map[string]Alignment{
		"indemnify":  AlignmentMatch,
		"limitation": AlignmentConflict,
	}}
	engine := NewEngine(policies, regulations, &stubGenerator{text: "Revise the liability clause."}, classifier)

	analysis, err := engine.Analyze(t.Context(), testInput())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(analysis.InternalSignals) != 2 {
		t.Fatalf("internal signals = %d, want 2", len(analysis.InternalSignals))
	}
	if analysis.InternalSignals[0].Alignment != AlignmentMatch || analysis.InternalSignals[0].Confidence != 0.9 {
		t.Errorf("signal[0] = %s/%.2f, want MATCH/0.90",
			analysis.InternalSignals[0].Alignment, analysis.InternalSignals[0].Confidence)
	}
	if analysis.InternalSignals[1].Alignment != AlignmentConflict || analysis.InternalSignals[1].Confidence != 0.85 {
		t.Errorf("signal[1] = %s/%.2f, want CONFLICT/0.85",
			analysis.InternalSignals[1].Alignment, analysis.InternalSignals[1].Confidence)
	}
	if len(analysis.ExternalSignals) != 1 {
		t.Fatalf("external signals = %d, want 1", len(analysis.ExternalSignals))
	}

	if len(analysis.Gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(analysis.Gaps))
	}
	gap := analysis.Gaps[0]
	if gap.Severity != SeverityHigh {
		t.Errorf("gap severity = %s, want HIGH for confidence 0.85", gap.Severity)
	}
	if !strings.Contains(gap.Issue, "Golden Clause #GC-002") {
		t.Errorf("gap issue = %q, want conflict source named", gap.Issue)
	}
	if len(gap.RegulatoryBasis) != 1 {
		t.Errorf("regulatory basis = %v, want one entry", gap.RegulatoryBasis)
	}

	// mean(0.9, 0.85, 0.75) minus one 0.05 gap penalty, rounded.
	if analysis.OverallConfidence != 0.78 {
		t.Errorf("overall confidence = %.2f, want 0.78", analysis.OverallConfidence)
	}
	if err := analysis.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAnalyzeDegradedSources(t *testing.T) {
	policies := &stubPolicies{err: errors.New("connection refused")}
	regulations := &stubRegulations{err: errors.New("bucket unavailable")}
	engine := NewEngine(policies, regulations, &stubGenerator{text: "n/a"}, &stubClassifier{})

	analysis, err := engine.Analyze(t.Context(), testInput())
	if err != nil {
		t.Fatalf("Analyze should degrade, not fail: %v", err)
	}
	if len(analysis.InternalSignals) != 0 || len(analysis.ExternalSignals) != 0 {
		t.Errorf("degraded run produced signals: %d internal, %d external",
			len(analysis.InternalSignals), len(analysis.ExternalSignals))
	}
	if analysis.OverallConfidence != 0.5 {
		t.Errorf("overall confidence = %.2f, want 0.5 default", analysis.OverallConfidence)
	}
	for _, src := range analysis.Sources {
		if !src.Degraded || src.Error == "" {
			t.Errorf("source %s = %+v, want degraded with error", src.Name, src)
		}
	}
}

func TestAnalyzeRequiresContractText(t *testing.T) {
	engine := NewEngine(&stubPolicies{}, &stubRegulations{}, &stubGenerator{}, &stubClassifier{})
	if _, err := engine.Analyze(t.Context(), Input{ContractText: "   "}); err == nil {
		t.Fatal("expected error for blank contract text")
	}
}

func TestAnalyzeSkipsFailedClassifications(t *testing.T) {
	policies := &stubPolicies{clauses: []docstore.GoldenClause{
		{ClauseID: "GC-001", Type: "payment", Text: "net thirty days"},
	}}
	engine := NewEngine(policies, &stubRegulations{}, &stubGenerator{},
		&stubClassifier{err: errors.New("model unavailable")})

	analysis, err := engine.Analyze(t.Context(), testInput())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.InternalSignals) != 0 {
		t.Errorf("internal signals = %d, want 0 after classification failure", len(analysis.InternalSignals))
	}
}

func TestAnalyzeSkipsGapWhenRemediationFails(t *testing.T) {
	policies := &stubPolicies{clauses: []docstore.GoldenClause{
		{ClauseID: "GC-003", Type: "termination", Text: "termination for convenience"},
	}}
	classifier := &stubClassifier{byReference: map[string]Alignment{"termination": AlignmentConflict}}
	engine := NewEngine(policies, &stubRegulations{}, &stubGenerator{err: errors.New("timeout")}, classifier)

	analysis, err := engine.Analyze(t.Context(), testInput())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.InternalSignals) != 1 {
		t.Fatalf("internal signals = %d, want 1", len(analysis.InternalSignals))
	}
	if len(analysis.Gaps) != 0 {
		t.Errorf("gaps = %d, want 0 when remediation generation fails", len(analysis.Gaps))
	}
}

func TestAnalyzeCapsRegulationFetches(t *testing.T) {
	var objects []objstore.ObjectInfo
	texts := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		objects = append(objects, objstore.ObjectInfo{Key: "US/" + name})
		texts[name] = "requirement " + name
	}
	regulations := &stubRegulations{objects: objects, texts: texts}
	engine := NewEngine(&stubPolicies{}, regulations, &stubGenerator{text: "sections"}, &stubClassifier{})

	if _, err := engine.Analyze(t.Context(), testInput()); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := regulations.fetches.Load(); got != 5 {
		t.Errorf("regulation fetches = %d, want 5", got)
	}
}

func TestOverallConfidence(t *testing.T) {
	signals := func(confs ...float64) []InternalSignal {
		out := make([]InternalSignal, len(confs))
		for i, c := range confs {
			out[i] = InternalSignal{Confidence: c}
		}
		return out
	}

	tests := []struct {
		name     string
		internal []InternalSignal
		gaps     int
		want     float64
	}{
		{"no signals", nil, 0, 0.5},
		{"single signal no gaps", signals(0.9), 0, 0.9},
		{"penalty per gap", signals(0.9, 0.9), 2, 0.8},
		{"penalty capped at 0.2", signals(0.9, 0.9), 10, 0.7},
		{"clamped at zero", signals(0.1), 10, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := overallConfidence(tc.internal, nil, tc.gaps)
			if got != tc.want {
				t.Errorf("overallConfidence = %.2f, want %.2f", got, tc.want)
			}
		})
	}
}
