package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"datecoach/internal/domain"
)

const validReply = `{"status":"pass","feedback":{"observed":["asked an open question"],"interpretation":["shows curiosity"]}}`

func TestParseScoringResponseValid(t *testing.T) {
	outcome, fb, ok := ParseScoringResponse(validReply)
	assert.True(t, ok)
	assert.Equal(t, domain.OutcomePass, outcome)
	assert.Equal(t, []string{"asked an open question"}, fb.Observed)
	assert.Equal(t, []string{"shows curiosity"}, fb.Interpretation)
}

func TestParseScoringResponseFencesParseIdentically(t *testing.T) {
	want, wantFB, _ := ParseScoringResponse(validReply)
	for _, raw := range []string{
		"```json\n" + validReply + "\n```",
		"```\n" + validReply + "\n```",
		"  ```JSON" + validReply + "```  ",
		"```json\n" + validReply + "\n```\nHope this helps!",
	} {
		outcome, fb, ok := ParseScoringResponse(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, outcome, raw)
		assert.Equal(t, wantFB, fb, raw)
	}
}

func TestParseScoringResponseFailSafe(t *testing.T) {
	for _, raw := range []string{
		"",
		"I think the user did great!",
		"```",
		"{",
		`[]`,
		`"pass"`,
		`{"status":"PASSED","feedback":{}}`,
		`{"status":"pass"}`,
		`{"feedback":{"observed":[],"interpretation":[]}}`,
		`{"status":"pass","feedback":{"observed":"one string","interpretation":[]}}`,
		`{"status":"pass","feedback":{"observed":[1,2],"interpretation":[]}}`,
		`{"status":"pass","feedback":[]}`,
	} {
		outcome, fb, ok := ParseScoringResponse(raw)
		assert.False(t, ok, raw)
		assert.Equal(t, domain.OutcomeFail, outcome, raw)
		assert.Equal(t, domain.EmptyFeedback(), fb, raw)
	}
}

func TestParseScoringResponseLenientExtras(t *testing.T) {
	outcome, fb, ok := ParseScoringResponse(`{"status":"fail","score":3,"feedback":{"observed":["x"]}}`)
	assert.True(t, ok)
	assert.Equal(t, domain.OutcomeFail, outcome)
	assert.Equal(t, []string{"x"}, fb.Observed)
	assert.Equal(t, []string{}, fb.Interpretation)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(" {\"a\":1} "))
}
