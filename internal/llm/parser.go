package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/expense-flow/internal/catalog"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/agnivade/levenshtein"
)

// ErrInvalidResponse indicates the model's reply could not be used.
var ErrInvalidResponse = errors.New("invalid classification response")

const defaultConfidence = 0.5

type suggestionPayload struct {
	Confidence *float64 `json:"confidence"`
	Category   string   `json:"category"`
	Reasoning  string   `json:"reasoning"`
}

// ParseSuggestion extracts a suggestion from raw model output and validates
// its category against labels. Unknown categories fall back to Other.
func ParseSuggestion(content string, labels []string) (model.Suggestion, error) {
	content = cleanMarkdownWrapper(content)

	var payload suggestionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return model.Suggestion{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	raw := strings.TrimSpace(payload.Category)
	if raw == "" {
		return model.Suggestion{}, fmt.Errorf("%w: no category found in response", ErrInvalidResponse)
	}

	confidence := defaultConfidence
	if payload.Confidence != nil {
		confidence = clamp(*payload.Confidence)
	}

	suggestion := model.Suggestion{
		Confidence: confidence,
		Reasoning:  strings.TrimSpace(payload.Reasoning),
	}

	if label, ok := catalog.ValidateCategory(raw, labels); ok {
		suggestion.Category = label
		return suggestion, nil
	}

	suggestion.Category = model.OtherCategory
	suggestion.Reasoning = fmt.Sprintf("AI suggested %q which is not in the category list", raw)
	if closest, ok := closestLabel(raw, labels); ok {
		suggestion.Reasoning += fmt.Sprintf(" (closest match %q)", closest)
	}
	return suggestion, nil
}

// cleanMarkdownWrapper strips code fences and any prose around the JSON object.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```JSON")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

// closestLabel finds a label within a small edit distance of candidate.
func closestLabel(candidate string, labels []string) (string, bool) {
	needle := strings.ToLower(candidate)
	best := ""
	bestDist := -1

	for _, label := range labels {
		if label == model.OtherCategory {
			continue
		}
		dist := levenshtein.ComputeDistance(needle, strings.ToLower(label))
		if bestDist < 0 || dist < bestDist {
			best, bestDist = label, dist
		}
	}

	threshold := len(needle) / 3
	if threshold < 2 {
		threshold = 2
	}
	if bestDist < 0 || bestDist > threshold {
		return "", false
	}
	return best, true
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
