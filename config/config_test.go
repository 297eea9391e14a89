package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	return withDefaults(Config{
		VectorStore: VectorStoreConfig{Provider: "sqlitevec", CollectionName: "memories", Path: "/tmp/memscreen.db"},
		Embedder:    EmbedderConfig{Provider: "ollama", Model: "nomic-embed-text", BaseURL: "http://localhost:11434", EmbeddingDims: 768},
		LLM:         LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: "http://localhost:11434", Temperature: 0.2, TopP: 0.7},
		ConfigDir:   t.TempDir(),
	})
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsMissingVectorStorePathAndHost(t *testing.T) {
	cfg := validConfig(t)
	cfg.VectorStore.Path = ""
	cfg.VectorStore.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadProvider(t *testing.T) {
	cfg := validConfig(t)
	cfg.Embedder.Provider = "notareal provider"
	assert.Error(t, cfg.Validate())
}

func TestWithDefaults_FillsTimezoneVersionAndConfigDir(t *testing.T) {
	cfg := withDefaults(Config{})
	assert.Equal(t, "US/Pacific", cfg.Timezone)
	assert.Equal(t, APIVersionV11, cfg.Version)
	assert.NotEmpty(t, cfg.ConfigDir)
	assert.NotEmpty(t, cfg.HistoryDBPath)
}

func TestLoadOrCreateUserID_PersistsAcrossCalls(t *testing.T) {
	cfg := validConfig(t)
	counter := 0
	newID := func() string {
		counter++
		return "generated-id"
	}

	first, err := cfg.LoadOrCreateUserID(newID)
	require.NoError(t, err)
	assert.Equal(t, "generated-id", first)
	assert.Equal(t, 1, counter)

	second, err := cfg.LoadOrCreateUserID(newID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter, "second call must not regenerate the id")

	raw, err := os.ReadFile(filepath.Join(cfg.ConfigDir, "config.json"))
	require.NoError(t, err)
	var state processState
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, "generated-id", state.UserID)
}
