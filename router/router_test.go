package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Greeting(t *testing.T) {
	c := Classify("Hello there")
	assert.Equal(t, CategoryGreeting, c.Category)
}

func TestClassify_Code(t *testing.T) {
	c := Classify("here's a snippet:\n```go\nfunc main() {}\n```")
	assert.Equal(t, CategoryCode, c.Category)
}

func TestClassify_QuestionRetrieveFact(t *testing.T) {
	c := Classify("What is the capital of France?")
	assert.Equal(t, CategoryQuestion, c.Category)
	assert.Equal(t, IntentRetrieveFact, c.Intent)
}

func TestClassify_QuestionFindProcedure(t *testing.T) {
	c := Classify("How do I reset my password?")
	assert.Equal(t, CategoryQuestion, c.Category)
	assert.Equal(t, IntentFindProcedure, c.Intent)
}

func TestClassify_Task(t *testing.T) {
	c := Classify("remind me to call the dentist tomorrow")
	assert.Equal(t, CategoryTask, c.Category)
}

func TestClassify_FallsBackToGeneral(t *testing.T) {
	c := Classify("the weather is nice today")
	assert.Equal(t, CategoryGeneral, c.Category)
}

func TestComplexityScore_LongReasoningQuestionScoresHigherThanGreeting(t *testing.T) {
	simple := ComplexityScore("hi")
	complex := ComplexityScore("Can you explain in detail why this approach is better, and compare it step-by-step against the alternative, because I need to understand the full reasoning?")
	assert.Greater(t, complex, simple)
}

func TestTierForScore(t *testing.T) {
	assert.Equal(t, TierTiny, TierForScore(0))
	assert.Equal(t, TierSmall, TierForScore(0.3))
	assert.Equal(t, TierMedium, TierForScore(0.6))
	assert.Equal(t, TierLarge, TierForScore(0.9))
}

func TestModelTierRouter_PicksHighestQualityAvailable(t *testing.T) {
	r := NewModelTierRouter(map[Tier][]ModelCandidate{
		TierSmall: {
			{Name: "a", Quality: 0.5, Available: true},
			{Name: "b", Quality: 0.9, Available: false},
			{Name: "c", Quality: 0.7, Available: true},
		},
	})
	assert.Equal(t, "c", r.PickModel(TierSmall))
}

func TestModelTierRouter_NoneAvailableReturnsEmpty(t *testing.T) {
	r := NewModelTierRouter(map[Tier][]ModelCandidate{
		TierTiny: {{Name: "a", Quality: 0.5, Available: false}},
	})
	assert.Equal(t, "", r.PickModel(TierTiny))
}
