package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawVerdict is the JSON contract the model must return.
type rawVerdict struct {
	IsSafe     bool   `json:"is_safe"`
	ThreatType string `json:"threat_type"`
	Reason     string `json:"reason"`
}

// parseVerdict extracts the verdict object from model output. Models
// frequently wrap JSON in markdown fences or pad it with prose; strip the
// fences and cut to the outermost braces before decoding. A response that
// still fails to decode is a judge failure, not a silent allow.
func parseVerdict(text string) (rawVerdict, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return rawVerdict{}, fmt.Errorf("no JSON object in judge response")
	}

	var v rawVerdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
		return rawVerdict{}, fmt.Errorf("malformed judge response: %w", err)
	}
	return v, nil
}
