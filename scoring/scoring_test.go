package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_Bounded(t *testing.T) {
	s := NewScorer(nil)
	fixedNow := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	s.Clock = func() time.Time { return fixedNow }

	cases := []Input{
		{Content: "", AccessCount: -5, CreatedAt: fixedNow.Add(48 * time.Hour)},
		{Content: "hi", AccessCount: 0, CreatedAt: time.Time{}},
		{Content: "Python is a programming language used widely in data science and web development across the industry today", Metadata: map[string]any{"category": "fact", "important": true, "entities": []any{"Python"}}, AccessCount: 1000, CreatedAt: fixedNow.Add(-1000 * 24 * time.Hour)},
	}
	for _, c := range cases {
		score := s.Score(c)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestScore_HighImportanceFact(t *testing.T) {
	s := NewScorer(nil)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	s.Clock = func() time.Time { return now }

	score := s.Score(Input{
		Content:     "Python is a programming language",
		Metadata:    map[string]any{"category": "fact"},
		AccessCount: 5,
		CreatedAt:   now,
	})
	require.InDelta(t, 0.75, score, 0.1)
	assert.Equal(t, "working", string(Tier(score)))
}

func TestTier_Boundaries(t *testing.T) {
	assert.Equal(t, "working", string(Tier(0.7)))
	assert.Equal(t, "short_term", string(Tier(0.4)))
	assert.Equal(t, "short_term", string(Tier(0.69)))
	assert.Equal(t, "long_term", string(Tier(0.39)))
}
