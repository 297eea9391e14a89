package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/memory"
)

func TestDetect_HashDuplicate(t *testing.T) {
	r := New(nil, Config{EnableLLMCheck: false})

	newMemory := "Python is a programming language"
	candidates := []Candidate{
		{ID: "m1", Data: newMemory, Hash: memory.Digest(newMemory)},
	}

	conflicts, err := r.Detect(context.Background(), newMemory, nil, candidates)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, TypeDuplicate, conflicts[0].Type)
	assert.Equal(t, 1.0, conflicts[0].Confidence)
}

func TestDetect_SimilarityWithoutLLM(t *testing.T) {
	r := New(nil, Config{EnableLLMCheck: false, SimilarityThreshold: 0.9})

	candidates := []Candidate{
		{ID: "m1", Data: "existing", Hash: "other-hash", Embedding: []float32{1, 0, 0}},
	}

	conflicts, err := r.Detect(context.Background(), "new", []float32{1, 0, 0}, candidates)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, TypeEquivalent, conflicts[0].Type)
	assert.Equal(t, ActionSkip, conflicts[0].Suggestion)
}

func TestDetect_BelowThresholdIsNoConflict(t *testing.T) {
	r := New(nil, Config{EnableLLMCheck: false, SimilarityThreshold: 0.99})

	candidates := []Candidate{
		{ID: "m1", Data: "existing", Hash: "other-hash", Embedding: []float32{1, 0, 0}},
	}

	conflicts, err := r.Detect(context.Background(), "new", []float32{0, 1, 0}, candidates)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestResolve_ActionMapping(t *testing.T) {
	r := New(nil, Config{})
	ctx := context.Background()

	dup, err := r.Resolve(ctx, Conflict{Type: TypeDuplicate, MemoryID: "m1"}, "new")
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, dup.Action)

	equiv, err := r.Resolve(ctx, Conflict{Type: TypeEquivalent, MemoryID: "m1"}, "new")
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, equiv.Action)
	assert.True(t, equiv.IncrementAccess)

	contra, err := r.Resolve(ctx, Conflict{Type: TypeContradictory, MemoryID: "m1"}, "new statement")
	require.NoError(t, err)
	assert.Equal(t, ActionMarkConflict, contra.Action)
	require.NotNil(t, contra.ConflictMeta)
	assert.Equal(t, "contradiction", contra.ConflictMeta.Type)

	unrelated, err := r.Resolve(ctx, Conflict{Type: TypeUnrelated, MemoryID: "m1"}, "new")
	require.NoError(t, err)
	assert.Equal(t, ActionKeepBoth, unrelated.Action)
}

func TestCosineSimilarity_Identical(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}))
}
