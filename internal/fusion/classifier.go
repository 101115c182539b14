package fusion

import (
	"context"
	"fmt"
	"strings"

	"lexroute/api/internal/inference"
)

// Classifier determines the alignment of one reference text against a
// contract excerpt. Production classification rides on model output and is
// therefore isolated behind this interface; tests substitute a
// deterministic stub.
type Classifier interface {
	Classify(ctx context.Context, referenceLabel, referenceText, contractExcerpt string) (Alignment, error)
}

// Generator is the slice of the inference client the fusion engine needs.
type Generator interface {
	Generate(ctx context.Context, req inference.Request) (inference.Result, error)
}

// GenerativeClassifier prompts the generation service for a structured
// ALIGNMENT line and parses it, falling back to keyword scanning of the
// free text when the model ignores the output contract.
type GenerativeClassifier struct {
	generator Generator
}

func NewGenerativeClassifier(generator Generator) *GenerativeClassifier {
	return &GenerativeClassifier{generator: generator}
}

func (c *GenerativeClassifier) Classify(ctx context.Context, referenceLabel, referenceText, contractExcerpt string) (Alignment, error) {
	temperature := 0.1
	prompt := fmt.Sprintf(`Compare this reference text with the contract excerpt and determine alignment.

Reference (%s):
%s

Contract Text (excerpt):
%s

Respond with exactly one line in this form, then a brief explanation:
ALIGNMENT: MATCH | CONFLICT | PARTIAL | UNKNOWN`, referenceLabel, referenceText, contractExcerpt)

	result, err := c.generator.Generate(ctx, inference.Request{
		Prompt:      prompt,
		MaxTokens:   200,
		Temperature: &temperature,
	})
	if err != nil {
		return AlignmentUnknown, err
	}
	return ParseAlignment(result.Text), nil
}

// ParseAlignment reads the structured ALIGNMENT field first and falls back
// to keyword search over the whole response. Unparseable output is UNKNOWN.
func ParseAlignment(text string) Alignment {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		if !strings.HasPrefix(upper, "ALIGNMENT:") {
			continue
		}
		value := strings.TrimSpace(upper[len("ALIGNMENT:"):])
		switch {
		case strings.HasPrefix(value, "MATCH"):
			return AlignmentMatch
		case strings.HasPrefix(value, "CONFLICT"):
			return AlignmentConflict
		case strings.HasPrefix(value, "PARTIAL"):
			return AlignmentPartial
		case strings.HasPrefix(value, "UNKNOWN"):
			return AlignmentUnknown
		}
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "MATCH"):
		return AlignmentMatch
	case strings.Contains(upper, "CONFLICT"):
		return AlignmentConflict
	case strings.Contains(upper, "PARTIAL"):
		return AlignmentPartial
	default:
		return AlignmentUnknown
	}
}
