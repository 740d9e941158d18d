package aigateway

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	fallbackRiskScore    = 50
	fallbackSummary      = "Analysis complete."
	summaryPreviewLength = 240
)

type rawResult struct {
	Summary         json.RawMessage `json:"summary"`
	RiskScore       json.RawMessage `json:"score_risk"`
	Tags            json.RawMessage `json:"tags"`
	Recommendations json.RawMessage `json:"recommendations"`
}

// sanitizeModelOutput turns whatever the model produced into a usable
// Result. Markdown fences are stripped, the score is clamped to 0..100, and
// unparseable output degrades to a preview summary instead of an error.
func sanitizeModelOutput(output string) Result {
	trimmed := stripMarkdownFences(strings.TrimSpace(output))

	var raw rawResult
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Result{
			Summary:         previewSummary(trimmed),
			RiskScore:       fallbackRiskScore,
			Tags:            []string{},
			Recommendations: []string{},
		}
	}
	return Result{
		Summary:         coerceString(raw.Summary),
		RiskScore:       coerceScore(raw.RiskScore),
		Tags:            coerceStringList(raw.Tags),
		Recommendations: coerceStringList(raw.Recommendations),
	}
}

// stripMarkdownFences extracts the JSON object from a ```json fenced reply.
func stripMarkdownFences(output string) string {
	if !strings.HasPrefix(output, "```") {
		return output
	}
	for _, chunk := range strings.Split(output, "```") {
		candidate := strings.TrimSpace(chunk)
		candidate = strings.TrimSpace(strings.TrimPrefix(candidate, "json"))
		if strings.HasPrefix(candidate, "{") && strings.HasSuffix(candidate, "}") {
			return candidate
		}
	}
	return output
}

func previewSummary(output string) string {
	if output == "" {
		return fallbackSummary
	}
	if len(output) <= summaryPreviewLength {
		return output
	}
	// Back off to a rune boundary so the cut never emits invalid UTF-8.
	cut := summaryPreviewLength
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + "..."
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return strings.TrimSpace(string(raw))
}

func coerceScore(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return fallbackRiskScore
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return fallbackRiskScore
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &number); err != nil {
			return fallbackRiskScore
		}
	}
	score := int64(number)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err == nil {
		return values
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	return []string{strings.TrimSpace(string(raw))}
}
