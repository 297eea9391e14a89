package config

import (
	"os"
	"strconv"
)

// fromEnvironment reads the recognized environment variables §6 lists
// into a Config. Missing variables leave the corresponding field at its
// zero value; withDefaults and Validate handle the rest.
func fromEnvironment() Config {
	return Config{
		VectorStore: VectorStoreConfig{
			Provider:       os.Getenv("VECTOR_STORE_PROVIDER"),
			CollectionName: os.Getenv("VECTOR_STORE_COLLECTION"),
			Path:           os.Getenv("VECTOR_STORE_PATH"),
			Host:           os.Getenv("VECTOR_STORE_HOST"),
			Port:           envInt("VECTOR_STORE_PORT"),
		},
		Embedder: EmbedderConfig{
			Provider:      os.Getenv("EMBEDDER_PROVIDER"),
			Model:         os.Getenv("EMBEDDER_MODEL"),
			BaseURL:       os.Getenv("EMBEDDER_BASE_URL"),
			EmbeddingDims: envInt("EMBEDDER_DIMS"),
		},
		LLM:  llmFromEnvironment(""),
		MLLM: mllmFromEnvironment(),

		HistoryDBPath:              os.Getenv("HISTORY_DB_PATH"),
		EnableGraph:                envBool("ENABLE_GRAPH"),
		Version:                    APIVersion(os.Getenv("API_VERSION")),
		Timezone:                   os.Getenv("TIMEZONE"),
		CustomFactExtractionPrompt: os.Getenv("CUSTOM_FACT_EXTRACTION_PROMPT"),
		CustomUpdateMemoryPrompt:   os.Getenv("CUSTOM_UPDATE_MEMORY_PROMPT"),
	}
}

func llmFromEnvironment(prefix string) LLMConfig {
	return LLMConfig{
		Provider:    os.Getenv(prefix + "LLM_PROVIDER"),
		Model:       os.Getenv(prefix + "LLM_MODEL"),
		BaseURL:     os.Getenv(prefix + "LLM_BASE_URL"),
		Temperature: envFloat(prefix + "LLM_TEMPERATURE"),
		MaxTokens:   envInt(prefix + "LLM_MAX_TOKENS"),
		TopP:        envFloat(prefix + "LLM_TOP_P"),
		TopK:        envInt(prefix + "LLM_TOP_K"),
		NumCtx:      envInt(prefix + "LLM_NUM_CTX"),
	}
}

// mllmFromEnvironment returns nil (vision disabled) unless MLLM_MODEL is
// set, since MLLM is an optional section of §6's configuration.
func mllmFromEnvironment() *LLMConfig {
	if os.Getenv("MLLM_MODEL") == "" {
		return nil
	}
	cfg := llmFromEnvironment("M")
	return &cfg
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}
