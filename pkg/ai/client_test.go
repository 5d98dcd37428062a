package ai

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("key", Options{}).(*sdkClient)
	assert.Equal(t, "claude-haiku-4-5-20251001", c.opts.Model)
	assert.Equal(t, int64(1024), c.opts.MaxTokens)
}

func TestBuildParams_RequestOverridesDefaults(t *testing.T) {
	c := NewClient("key", Options{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   1024,
		Temperature: 0.7,
	}).(*sdkClient)

	temp := 0.1
	params := c.buildParams(Request{
		System:      "be terse",
		Prompt:      "hello",
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: &temp,
	})

	assert.Equal(t, sdk.Model("claude-sonnet-4-5-20250929"), params.Model)
	assert.Equal(t, int64(4096), params.MaxTokens)
	require.True(t, params.Temperature.Valid())
	assert.InDelta(t, 0.1, params.Temperature.Value, 0.001)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
	require.Len(t, params.Messages, 1)
}

func TestBuildParams_FallsBackToClientDefaults(t *testing.T) {
	c := NewClient("key", Options{Temperature: 0.5}).(*sdkClient)

	params := c.buildParams(Request{Prompt: "hello"})

	assert.Equal(t, sdk.Model("claude-haiku-4-5-20251001"), params.Model)
	assert.Equal(t, int64(1024), params.MaxTokens)
	require.True(t, params.Temperature.Valid())
	assert.InDelta(t, 0.5, params.Temperature.Value, 0.001)
	assert.Empty(t, params.System)
}

func TestTextFromMessage(t *testing.T) {
	msg := &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "first "},
			{Type: "tool_use"},
			{Type: "text", Text: "second"},
		},
	}
	assert.Equal(t, "first second", textFromMessage(msg))
}

func TestTextFromMessage_Empty(t *testing.T) {
	assert.Equal(t, "", textFromMessage(&sdk.Message{}))
}
