package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverJSON_Plain(t *testing.T) {
	var out struct {
		Facts []string `json:"facts"`
	}
	err := RecoverJSON(`{"facts": ["a", "b"]}`, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Facts)
}

func TestRecoverJSON_CodeFenced(t *testing.T) {
	var out struct {
		Facts []string `json:"facts"`
	}
	raw := "```json\n{\"facts\": [\"a\"]}\n```"
	err := RecoverJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Facts)
}

func TestRecoverJSON_ReasoningPrelude(t *testing.T) {
	var out struct {
		Type string `json:"type"`
	}
	raw := "Let me think about this step by step.\nThe statements seem equivalent.\n\n{\"type\": \"equivalent\"}"
	err := RecoverJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "equivalent", out.Type)
}

func TestRecoverJSON_PythonLiteral(t *testing.T) {
	var out struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Ok         bool    `json:"ok"`
	}
	raw := `{'type': 'contradictory', 'confidence': 0.9, 'ok': True,}`
	err := RecoverJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "contradictory", out.Type)
	assert.True(t, out.Ok)
}

func TestRecoverJSON_Unrecoverable(t *testing.T) {
	var out map[string]any
	err := RecoverJSON("I cannot help with that.", &out)
	assert.ErrorIs(t, err, ErrUnrecoverable)
}
