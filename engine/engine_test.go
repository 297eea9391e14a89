package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/config"
	"github.com/smileformylove/memscreen/router"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		VectorStore: config.VectorStoreConfig{
			Provider:       "sqlitevec",
			CollectionName: "memories",
			Path:           filepath.Join(t.TempDir(), "vectors.db"),
		},
		Embedder: config.EmbedderConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			BaseURL:       "http://127.0.0.1:11434",
			EmbeddingDims: 3,
		},
		LLM: config.LLMConfig{
			Provider: "ollama",
			Model:    "llama3",
			BaseURL:  "http://127.0.0.1:11434",
		},
		HistoryDBPath: ":memory:",
		Version:       config.APIVersionV11,
		Timezone:      "US/Pacific",
		ConfigDir:     t.TempDir(),
	}
}

func TestNew_WiresEveryCollaborator(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })

	assert.NotNil(t, e.Store)
	assert.NotNil(t, e.Embed)
	assert.NotNil(t, e.LLM)
	assert.Nil(t, e.MLLM, "no mllm configured")
	assert.NotNil(t, e.History)
	assert.NotNil(t, e.Conflicts)
	assert.NotNil(t, e.Tiered)
	assert.NotNil(t, e.Retrieval)
	assert.NotNil(t, e.Ingest)
	assert.NotNil(t, e.Router)
}

func TestNew_PersistsUserIDAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	firstUserID, err := cfg.LoadOrCreateUserID(uuidGenerator)
	require.NoError(t, err)
	_ = first.Close(ctx)

	second, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(ctx) })

	secondUserID, err := cfg.LoadOrCreateUserID(uuidGenerator)
	require.NoError(t, err)
	assert.Equal(t, firstUserID, secondUserID)
}

func TestNewModelTierRouter_RegistersConfiguredModelAcrossTiers(t *testing.T) {
	cfg := testConfig(t)
	r := newModelTierRouter(cfg)
	assert.Equal(t, "llama3", r.PickModel(router.TierTiny))
}
