package scanning

import (
	"encoding/json"
	"strings"
)

// parseRecognitionText cleans a model response. Responses may be plain text,
// text in a markdown code block, or a JSON object whose natural_text member
// holds the transcription.
func parseRecognitionText(text string) (string, error) {
	text = stripCodeFence(text)

	if strings.HasPrefix(text, "{") {
		startIdx := strings.Index(text, "{")
		endIdx := strings.LastIndex(text, "}")
		if endIdx > startIdx {
			var payload struct {
				NaturalText *string `json:"natural_text"`
			}
			if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &payload); err == nil && payload.NaturalText != nil {
				text = *payload.NaturalText
			}
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", errNoText
	}
	return text, nil
}

// stripCodeFence removes a surrounding markdown code block if present
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the language tag on the opening line, e.g. ```json or ```markdown
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], " |:") {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
