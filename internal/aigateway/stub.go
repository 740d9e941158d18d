package aigateway

import "context"

const stubTextRiskThreshold = 200

// StubAnalyzer returns deterministic analyses so the credit flow can be
// exercised without a model account. Not for production.
type StubAnalyzer struct{}

// NewStubAnalyzer wires a StubAnalyzer.
func NewStubAnalyzer() *StubAnalyzer {
	return &StubAnalyzer{}
}

// AnalyzeImage returns a fixed low-risk image analysis.
func (analyzer *StubAnalyzer) AnalyzeImage(_ context.Context, _ []byte, _ string, instruction string) (Result, error) {
	recommendations := []string{
		"Adjust lighting and contrast.",
		"Avoid visually noisy backgrounds.",
		"Add an objective caption with a call to action.",
	}
	if instruction != "" {
		recommendations = append([]string{"Consider the stated intent: " + instruction}, recommendations...)
	}
	return Result{
		Summary:         "Simulated analysis. The image looks suitable for social networks.",
		RiskScore:       12,
		Tags:            []string{"stub", "preview"},
		Recommendations: recommendations,
	}, nil
}

// AnalyzeText scores short texts lower than long ones.
func (analyzer *StubAnalyzer) AnalyzeText(_ context.Context, text string) (Result, error) {
	score := int64(5)
	if len(text) >= stubTextRiskThreshold {
		score = 15
	}
	return Result{
		Summary:         "Simulated analysis. The text reads clear and objective.",
		RiskScore:       score,
		Tags:            []string{"stub", "copywriting", "preview"},
		Recommendations: []string{
			"Review spelling and punctuation.",
			"Highlight one concrete benefit.",
			"Close with a clear call to action.",
		},
	}, nil
}
