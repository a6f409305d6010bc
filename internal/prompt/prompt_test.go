package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainText(t *testing.T) {
	content := `<p><span class="h-card"><a href="https://example.social/@bot" class="u-url mention">@<span>bot</span></a></span> a red cat<br>negative: blurry</p><p>steps=30</p>`
	assert.Equal(t, "@bot a red cat\nnegative: blurry\nsteps=30", PlainText(content))
}

func TestPlainText_UnescapesEntities(t *testing.T) {
	assert.Equal(t, "cats & dogs", PlainText("<p>cats &amp; dogs</p>"))
}

func TestParse_SplitsPositiveNegativeAndArgs(t *testing.T) {
	p := Parse("@bot #diffuse_me a red cat\n  on a   sofa \nNegative: blurry, dark\nsteps=30\ncfg_scale = 7")
	require.NotNil(t, p.Positive)
	assert.Equal(t, "a red cat on a sofa", *p.Positive)
	require.NotNil(t, p.Negative)
	assert.Equal(t, "blurry, dark", *p.Negative)
	assert.Equal(t, map[string]string{"steps": "30", "cfg_scale": "7"}, p.Args)
}

func TestParse_AbsentPartsAreNil(t *testing.T) {
	p := Parse("@bot@example.social #diffuse_game")
	assert.Nil(t, p.Positive)
	assert.Nil(t, p.Negative)
	assert.Empty(t, p.Args)

	p = Parse("a blue dog\nneg:")
	require.NotNil(t, p.Positive)
	assert.Equal(t, "a blue dog", *p.Positive)
	assert.Nil(t, p.Negative)
}

func TestParse_KeepsHashInsideWords(t *testing.T) {
	p := Parse("portrait of mr#1 by artist")
	require.NotNil(t, p.Positive)
	assert.Equal(t, "portrait of mr#1 by artist", *p.Positive)
}
