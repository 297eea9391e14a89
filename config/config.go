// Package config implements the typed, validated configuration §6
// describes: provider selection for the vector store, embedder, and both
// text and vision LLM backends, the history log path, graph/versioning
// toggles, and the process-wide state directory holding the persisted
// user id.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// VectorStoreConfig configures C3's backend selection.
type VectorStoreConfig struct {
	Provider       string `validate:"required,oneof=qdrant sqlitevec"`
	CollectionName string `validate:"required"`
	Path           string
	Host           string
	Port           int
}

// validatePathOrHost enforces §6's "at least one of path or (host, port)
// required".
func (v VectorStoreConfig) validatePathOrHost() error {
	if v.Path != "" {
		return nil
	}
	if v.Host != "" && v.Port != 0 {
		return nil
	}
	return fmt.Errorf("memscreen: config: vector_store requires either path or host+port")
}

// EmbedderConfig configures C1's backend selection.
type EmbedderConfig struct {
	Provider      string `validate:"required,oneof=ollama openai"`
	Model         string `validate:"required"`
	BaseURL       string `validate:"required,url"`
	EmbeddingDims int    `validate:"required,gt=0"`
}

// LLMConfig configures C2's backend selection and generation defaults for
// either the text (`llm`) or vision (`mllm`) role.
type LLMConfig struct {
	Provider    string  `validate:"required,oneof=ollama openai"`
	Model       string  `validate:"required"`
	BaseURL     string  `validate:"required,url"`
	Temperature float64 `validate:"gte=0,lte=2"`
	MaxTokens   int     `validate:"gte=0"`
	TopP        float64 `validate:"gte=0,lte=1"`
	TopK        int     `validate:"gte=0"`
	NumCtx      int     `validate:"gte=0"`
}

// APIVersion selects C9 stage 10's output shape.
type APIVersion string

const (
	APIVersionV10 APIVersion = "v1.0"
	APIVersionV11 APIVersion = "v1.1"
)

// Config is the top-level typed configuration §6 describes.
type Config struct {
	VectorStore VectorStoreConfig `validate:"required"`
	Embedder    EmbedderConfig    `validate:"required"`
	LLM         LLMConfig         `validate:"required"`
	MLLM        *LLMConfig        // vision-enabled calls; nil disables vision ingestion/retrieval

	HistoryDBPath string     `validate:"required"`
	EnableGraph   bool
	Version       APIVersion `validate:"required,oneof=v1.0 v1.1"`
	Timezone      string     `validate:"required"`

	CustomFactExtractionPrompt string
	CustomUpdateMemoryPrompt   string

	// ConfigDir is the process-wide state directory (default
	// ~/.memscreen) holding config.json and any file-backed collection
	// data.
	ConfigDir string
}

func withDefaults(c Config) Config {
	if c.Timezone == "" {
		c.Timezone = "US/Pacific"
	}
	if c.Version == "" {
		c.Version = APIVersionV11
	}
	if c.ConfigDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.ConfigDir = filepath.Join(home, ".memscreen")
		} else {
			c.ConfigDir = ".memscreen"
		}
	}
	if c.HistoryDBPath == "" {
		c.HistoryDBPath = filepath.Join(c.ConfigDir, "history.db")
	}
	return c
}

var validate = validator.New()

// Validate enforces every struct tag plus the vector-store path/host
// cross-field rule §6 calls out explicitly.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("memscreen: config: %w", err)
	}
	if err := c.VectorStore.validatePathOrHost(); err != nil {
		return err
	}
	if c.MLLM != nil {
		if err := validate.Struct(c.MLLM); err != nil {
			return fmt.Errorf("memscreen: config: mllm: %w", err)
		}
	}
	return nil
}

// Load reads a .env file at envPath (if present; a missing file is not an
// error) via godotenv, decodes environment variables into a Config with the
// hand-written field mapping in env.go, applies defaults, and validates the
// result.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("memscreen: config: load %s: %w", envPath, err)
		}
	}

	cfg := withDefaults(fromEnvironment())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureConfigDir creates cfg.ConfigDir (and any missing parents) if it
// does not already exist, per §6's "created on first use".
func (c Config) EnsureConfigDir() error {
	if err := os.MkdirAll(c.ConfigDir, 0o700); err != nil {
		return fmt.Errorf("memscreen: config: create config dir: %w", err)
	}
	return nil
}

// processState is the on-disk config.json shape: currently just the
// persisted user id §6's "process-wide state" calls for.
type processState struct {
	UserID string `json:"user_id"`
}

// LoadOrCreateUserID reads config.json under cfg.ConfigDir, generating and
// persisting a new random user id on first run.
func (c Config) LoadOrCreateUserID(newID func() string) (string, error) {
	if err := c.EnsureConfigDir(); err != nil {
		return "", err
	}
	path := filepath.Join(c.ConfigDir, "config.json")

	data, err := os.ReadFile(path)
	if err == nil {
		var state processState
		if jsonErr := json.Unmarshal(data, &state); jsonErr == nil && state.UserID != "" {
			return state.UserID, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("memscreen: config: read %s: %w", path, err)
	}

	state := processState{UserID: newID()}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("memscreen: config: encode config.json: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return "", fmt.Errorf("memscreen: config: write %s: %w", path, err)
	}
	return state.UserID, nil
}
