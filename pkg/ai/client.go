// Package ai exposes the LLM chat adapter used for categorisation and the
// viral-ideas workflow. Callers must treat responses as possibly malformed
// and parse them through aijson.
package ai

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Request is a single prompt with generation settings.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int64
	Temperature *float64
}

// Client defines the chat operation the pipeline needs.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Options carries default generation settings applied to requests that do
// not override them.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	opts   Options
}

// NewClient creates a Client backed by the SDK.
func NewClient(apiKey string, opts Options) Client {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		opts:   opts,
	}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return "", eris.Wrap(err, "ai: create message")
	}
	return textFromMessage(msg), nil
}

// buildParams resolves per-request overrides against the client defaults.
func (c *sdkClient) buildParams(req Request) sdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	temp := c.opts.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   maxTokens,
		Temperature: sdk.Float(temp),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params
}

// textFromMessage concatenates the text blocks of a response.
func textFromMessage(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
