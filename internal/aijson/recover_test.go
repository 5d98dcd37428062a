package aijson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Primary    string  `json:"primary_category"`
	Confidence float64 `json:"confidence"`
}

func TestUnmarshal_Clean(t *testing.T) {
	var s sample
	require.NoError(t, Unmarshal(`{"primary_category":"Fitness","confidence":0.9}`, &s))
	assert.Equal(t, "Fitness", s.Primary)
	assert.Equal(t, 0.9, s.Confidence)
}

func TestUnmarshal_CodeFence(t *testing.T) {
	raw := "Here is the classification:\n```json\n{\"primary_category\":\"Travel\",\"confidence\":0.8}\n```\nLet me know if you need more."
	var s sample
	require.NoError(t, Unmarshal(raw, &s))
	assert.Equal(t, "Travel", s.Primary)
}

func TestUnmarshal_ProseWrapped(t *testing.T) {
	raw := `Sure! The answer is {"primary_category":"Food","confidence":0.7} based on the caption.`
	var s sample
	require.NoError(t, Unmarshal(raw, &s))
	assert.Equal(t, "Food", s.Primary)
}

func TestUnmarshal_BracesInsideStrings(t *testing.T) {
	raw := `noise {"primary_category":"Humor {and} Memes","confidence":0.5} trailing`
	var s sample
	require.NoError(t, Unmarshal(raw, &s))
	assert.Equal(t, "Humor {and} Memes", s.Primary)
}

func TestUnmarshal_Array(t *testing.T) {
	raw := "```\n[\"growth\",\"mindset\"]\n```"
	var kws []string
	require.NoError(t, Unmarshal(raw, &kws))
	assert.Equal(t, []string{"growth", "mindset"}, kws)
}

func TestUnmarshal_TotalFailure(t *testing.T) {
	var s sample
	assert.Error(t, Unmarshal("I cannot classify this content.", &s))
	assert.Error(t, Unmarshal("", &s))
	assert.Error(t, Unmarshal("{unterminated", &s))
}

// Recovery must be idempotent: re-parsing the marshalled result of a parse
// yields the same value.
func TestUnmarshal_Idempotent(t *testing.T) {
	raw := "```json\n{\"primary_category\":\"Fitness\",\"confidence\":0.9}\n```"
	var first sample
	require.NoError(t, Unmarshal(raw, &first))

	var second sample
	require.NoError(t, Unmarshal(`{"primary_category":"Fitness","confidence":0.9}`, &second))
	assert.Equal(t, first, second)
}

func TestExtractBalanced_None(t *testing.T) {
	assert.Empty(t, ExtractBalanced("no json here"))
	assert.Empty(t, ExtractBalanced("{never closed"))
}

func TestStripFences_NoFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("  {\"a\":1}  "))
}
