package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smileformylove/memscreen/config"
	"github.com/smileformylove/memscreen/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
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

	eng, err := engine.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	return NewServer(eng)
}

func TestHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	router := s.NewRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestAddMemories_RejectsMissingMessages(t *testing.T) {
	s := newTestServer(t)
	router := s.NewRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/memories", strings.NewReader(`{"user_id":"u1"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddMemories_RejectsMissingScope(t *testing.T) {
	s := newTestServer(t)
	router := s.NewRouter()

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/memories", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "scope")
}

func TestQuery_RejectsEmptyInput(t *testing.T) {
	s := newTestServer(t)
	router := s.NewRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
