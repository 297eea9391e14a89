package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smileformylove/memscreen/vectorstore"
)

func TestRewriteForVision_ExpandsKnownNouns(t *testing.T) {
	out := RewriteForVision("red button")
	assert.Contains(t, out, "button")
	assert.Contains(t, out, "clickable")
}

func TestRewriteForVision_LeavesUnknownWordsAlone(t *testing.T) {
	out := RewriteForVision("xyzzy")
	assert.Equal(t, "xyzzy", out)
}

func TestFuse_TextOnlyPreservesRankOrder(t *testing.T) {
	textHits := []vectorstore.Hit{
		{ID: "a", Payload: map[string]any{"x": 1}},
		{ID: "b", Payload: map[string]any{"x": 2}},
	}
	fused := fuse(textHits, nil, 60, 0.6, 10)
	assert.Equal(t, "a", fused[0].ID)
	assert.Equal(t, "b", fused[1].ID)
}

func TestFuse_CombinesBothSides(t *testing.T) {
	textHits := []vectorstore.Hit{{ID: "shared"}, {ID: "text-only"}}
	visionHits := []vectorstore.Hit{{ID: "shared"}, {ID: "vision-only"}}

	fused := fuse(textHits, visionHits, 60, 0.6, 10)
	assert.Equal(t, "shared", fused[0].ID, "present on both sides scores highest")
	assert.Len(t, fused, 3)
}

func TestCacheKey_OrderIndependentFilters(t *testing.T) {
	k1 := cacheKey("q", "", map[string]string{"a": "1", "b": "2"}, 5)
	k2 := cacheKey("q", "", map[string]string{"b": "2", "a": "1"}, 5)
	assert.Equal(t, k1, k2)
}

func TestCacheKey_DiffersOnLimit(t *testing.T) {
	k1 := cacheKey("q", "", nil, 5)
	k2 := cacheKey("q", "", nil, 10)
	assert.NotEqual(t, k1, k2)
}
