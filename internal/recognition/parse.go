package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseTranscriptJSON parses the JSON response from a vision model. Models
// wrap output in markdown fences or chatter around it despite instructions,
// so the parser isolates the outermost JSON object before unmarshaling.
func parseTranscriptJSON(text string) (*Transcript, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var payload struct {
		Text  string     `json:"text"`
		Items []LineItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	payload.Text = strings.TrimSpace(payload.Text)
	if payload.Text == "" {
		return nil, fmt.Errorf("empty transcription in response")
	}

	return &Transcript{
		Text:  payload.Text,
		Items: payload.Items,
	}, nil
}
