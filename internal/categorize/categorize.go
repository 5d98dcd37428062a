// Package categorize assigns 3-level categories and keywords to profiles and
// content through the LLM. Categorisation is advisory: every path degrades
// to a default classification instead of failing the pipeline.
package categorize

import (
	"context"

	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/aijson"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/pkg/ai"
)

// defaultClassification is returned whenever the model cannot be reached or
// its output cannot be parsed.
var defaultClassification = model.Classification{
	Primary:    "Lifestyle",
	Secondary:  "General",
	Confidence: 0,
}

// Categorizer wraps the LLM client for categorisation calls.
type Categorizer struct {
	client ai.Client
	vocab  *Vocabulary
}

// New creates a Categorizer with the built-in taxonomy.
func New(client ai.Client) *Categorizer {
	return NewWithVocabulary(client, defaultVocabulary)
}

// NewWithVocabulary creates a Categorizer with a custom taxonomy.
func NewWithVocabulary(client ai.Client, vocab *Vocabulary) *Categorizer {
	if vocab == nil {
		vocab = defaultVocabulary
	}
	return &Categorizer{client: client, vocab: vocab}
}

// Default returns the fallback classification used when the model is
// unavailable.
func Default() model.Classification {
	return defaultClassification
}

// CategorizeProfile classifies an account from its bio and recent captions.
// Never returns an error: failures log and fall back to the default.
func (c *Categorizer) CategorizeProfile(ctx context.Context, p *model.PrimaryProfile, sampleCaptions []string) model.Classification {
	temp := temperature
	raw, err := c.client.Complete(ctx, ai.Request{
		System:      systemPrompt,
		Prompt:      c.vocab.profilePrompt(p, sampleCaptions),
		Model:       categorizeModel,
		MaxTokens:   categorizeMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		zap.L().Warn("profile categorisation failed",
			zap.String("username", p.Username), zap.Error(err))
		return defaultClassification
	}

	var cl model.Classification
	if err := aijson.Unmarshal(raw, &cl); err != nil {
		zap.L().Warn("profile categorisation unparseable",
			zap.String("username", p.Username), zap.Error(err))
		return defaultClassification
	}
	return c.vocab.finalize(cl)
}

// batchResult is one entry of the model's batch answer.
type batchResult struct {
	Index int `json:"index"`
	model.Classification
}

// CategorizeBatch classifies up to 20 content items in one call. The result
// slice is index-aligned with the input; items the model skipped or garbled
// get the default classification. Never returns an error.
func (c *Categorizer) CategorizeBatch(ctx context.Context, items []model.Content) []model.Classification {
	out := make([]model.Classification, len(items))
	for i := range out {
		out[i] = defaultClassification
	}
	if len(items) == 0 {
		return out
	}

	prompt, err := c.vocab.contentBatchPrompt(items)
	if err != nil {
		zap.L().Warn("content batch prompt build failed", zap.Error(err))
		return out
	}

	temp := temperature
	raw, err := c.client.Complete(ctx, ai.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Model:       categorizeModel,
		MaxTokens:   batchMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		zap.L().Warn("content batch categorisation failed",
			zap.Int("batch_size", len(items)), zap.Error(err))
		return out
	}

	var results []batchResult
	if err := aijson.Unmarshal(raw, &results); err != nil {
		zap.L().Warn("content batch categorisation unparseable",
			zap.Int("batch_size", len(items)), zap.Error(err))
		return out
	}

	for _, r := range results {
		if r.Index < 0 || r.Index >= len(items) {
			continue
		}
		out[r.Index] = c.vocab.finalize(r.Classification)
	}
	return out
}

// finalize fills gaps the model left: empty primaries take the default, and
// a missing tertiary backfills from the secondary's niche table.
func (v *Vocabulary) finalize(cl model.Classification) model.Classification {
	if cl.Primary == "" {
		return defaultClassification
	}
	if cl.Tertiary == "" {
		if t, ok := v.TertiaryBackfill[cl.Secondary]; ok {
			cl.Tertiary = t
		}
	}
	if cl.Confidence < 0 {
		cl.Confidence = 0
	}
	if cl.Confidence > 1 {
		cl.Confidence = 1
	}
	return cl
}
