package recognition

import "strings"

// Verdict is the validator's accept/reject decision plus confidence score.
type Verdict struct {
	IsValid    bool `json:"isValid"`
	Confidence int  `json:"confidence"`
}

// Validate scores recognized text against three independent signals: an
// amount-like token (30 points), a date-like token (30 points), and more than
// two non-blank lines (40 points). The text is accepted only when all three
// are present. This is a coarse gate for rejecting non-receipt photos before
// the user wastes a filing step, not a guarantee that extraction is correct.
func Validate(text string) Verdict {
	hasAmount := amountPattern.MatchString(text)
	hasDate := datePattern.MatchString(text)

	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	hasBody := lines > 2

	confidence := 0
	if hasAmount {
		confidence += 30
	}
	if hasDate {
		confidence += 30
	}
	if hasBody {
		confidence += 40
	}

	return Verdict{
		IsValid:    hasAmount && hasDate && hasBody,
		Confidence: confidence,
	}
}
