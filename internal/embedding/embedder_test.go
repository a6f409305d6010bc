package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WhenProviderUnknown_ShouldFail(t *testing.T) {
	_, err := New(Config{Provider: "clip"})
	assert.Error(t, err)
}

func TestNew_WhenOpenAIKeyMissing_ShouldFail(t *testing.T) {
	_, err := New(Config{Provider: ProviderOpenAI, Model: "text-embedding-3-small"})
	assert.Error(t, err)
}

func TestNew_DefaultsToOllama(t *testing.T) {
	emb, err := New(Config{Model: "all-minilm:l6-v2", OllamaHost: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "all-minilm:l6-v2", emb.Model())
}

func TestLangChainImplementsEmbedder(t *testing.T) {
	var _ Embedder = (*LangChain)(nil)
}
