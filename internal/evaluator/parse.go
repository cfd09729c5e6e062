package evaluator

import (
	"encoding/json"
	"strings"

	"datecoach/internal/domain"
	"datecoach/internal/llm"
)

// scoringSchema is the shape a scoring reply must have. Extra keys are tolerated.
var scoringSchema = &llm.Schema{
	Name: "training-evaluation",
	Definition: map[string]any{
		"type":     "object",
		"required": []string{"status", "feedback"},
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{"pass", "fail"},
			},
			"feedback": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"observed": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"interpretation": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
		},
	},
}

type scoringReply struct {
	Status   string          `json:"status"`
	Feedback domain.Feedback `json:"feedback"`
}

// stripFences removes a markdown code fence around the reply, with or
// without a language tag.
func stripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	parts := strings.Split(clean, "```")
	if len(parts) < 2 {
		return clean
	}
	clean = strings.TrimSpace(parts[1])
	if len(clean) >= 4 && strings.EqualFold(clean[:4], "json") {
		clean = clean[4:]
	}
	return strings.TrimSpace(clean)
}

// ParseScoringResponse turns a raw scoring reply into an outcome and
// feedback. ok is false when the reply was unusable, in which case the
// result is a fail with empty feedback. It never returns an error.
func ParseScoringResponse(raw string) (outcome domain.Outcome, feedback domain.Feedback, ok bool) {
	clean := stripFences(raw)
	if _, err := llm.Validate(scoringSchema, []byte(clean)); err != nil {
		return domain.OutcomeFail, domain.EmptyFeedback(), false
	}
	var reply scoringReply
	if err := json.Unmarshal([]byte(clean), &reply); err != nil {
		return domain.OutcomeFail, domain.EmptyFeedback(), false
	}
	outcome, err := domain.ParseOutcome(reply.Status)
	if err != nil {
		return domain.OutcomeFail, domain.EmptyFeedback(), false
	}
	return outcome, reply.Feedback.Normalize(), true
}
