// Package viralai is the four-stage LLM workflow behind viral-ideas runs:
// profile analysis, per-reel hook analysis, hook generation, and script
// generation. Stage outputs are merged into one model.AnalysisData blob.
package viralai

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/aijson"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/pkg/ai"
)

// ReelInput is one selected reel with whatever transcript was fetched for
// it. Reels without transcripts still appear in the input; only the hook
// stage skips them.
type ReelInput struct {
	Reel       model.ViralAnalysisReel
	Transcript string
}

// Input is everything one analysis run feeds the workflow.
type Input struct {
	Primary        *model.PrimaryProfile
	Strategy       model.ContentStrategy
	RecentCaptions []string
	Reels          []ReelInput
}

// Analyzer runs the workflow against an LLM client.
type Analyzer struct {
	client ai.Client
}

// New creates an Analyzer.
func New(client ai.Client) *Analyzer {
	return &Analyzer{client: client}
}

// Analyze runs all four stages. A stage whose response fails to parse
// degrades to an empty but well-typed block; only transport failure on the
// first call aborts, since nothing useful can be produced without the LLM.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (*model.AnalysisData, error) {
	if in.Primary == nil {
		return nil, eris.New("viralai: primary profile required")
	}
	log := zap.L().With(zap.String("username", in.Primary.Username))

	data := &model.AnalysisData{
		IndividualReelAnalyses: []model.HookAnalysis{},
		GeneratedHooks:         []model.GeneratedHook{},
		CompleteScripts:        []model.GeneratedScript{},
	}

	profile, err := a.analyzeProfile(ctx, in)
	if err != nil {
		return nil, err
	}
	data.ProfileAnalysis = profile

	data.IndividualReelAnalyses = a.analyzeHooks(ctx, in.Reels, log)
	data.GeneratedHooks = a.generateHooks(ctx, profile, data.IndividualReelAnalyses, log)
	data.CompleteScripts = a.generateScripts(ctx, profile, data.GeneratedHooks, data.IndividualReelAnalyses, log)

	data.AnalysisSummary = model.AnalysisSummary{
		TotalHooksAnalyzed: len(data.IndividualReelAnalyses),
		HooksGenerated:     len(data.GeneratedHooks),
		ScriptsCreated:     len(data.CompleteScripts),
	}
	return data, nil
}

// analyzeProfile is stage 1. Transport errors surface; parse failures
// degrade to the empty record.
func (a *Analyzer) analyzeProfile(ctx context.Context, in Input) (model.ProfileAnalysis, error) {
	var out model.ProfileAnalysis

	temp := analysisTemp
	resp, err := a.client.Complete(ctx, ai.Request{
		System:      systemPrompt,
		Prompt:      profileAnalysisPrompt(in.Primary, in.Strategy, in.RecentCaptions),
		Model:       analysisModel,
		MaxTokens:   analysisMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return out, eris.Wrap(err, "viralai: profile analysis")
	}
	if err := aijson.Unmarshal(resp, &out); err != nil {
		zap.L().Warn("viralai: profile analysis parse failed", zap.Error(err))
		return model.ProfileAnalysis{}, nil
	}
	return out, nil
}

// analyzeHooks is stage 2: the top outlier reels that have transcripts,
// one call each. Failed items are skipped.
func (a *Analyzer) analyzeHooks(ctx context.Context, reels []ReelInput, log *zap.Logger) []model.HookAnalysis {
	withTranscripts := make([]ReelInput, 0, len(reels))
	for _, r := range reels {
		if r.Transcript != "" {
			withTranscripts = append(withTranscripts, r)
		}
	}
	sort.SliceStable(withTranscripts, func(i, j int) bool {
		return withTranscripts[i].Reel.OutlierScore > withTranscripts[j].Reel.OutlierScore
	})
	if len(withTranscripts) > hookAnalysisReels {
		withTranscripts = withTranscripts[:hookAnalysisReels]
	}

	out := make([]model.HookAnalysis, 0, len(withTranscripts))
	for _, reel := range withTranscripts {
		temp := analysisTemp
		resp, err := a.client.Complete(ctx, ai.Request{
			System:      systemPrompt,
			Prompt:      hookAnalysisPrompt(reel),
			Model:       analysisModel,
			MaxTokens:   analysisMaxTokens,
			Temperature: &temp,
		})
		if err != nil {
			log.Warn("viralai: hook analysis failed",
				zap.String("shortcode", reel.Reel.Shortcode), zap.Error(err))
			continue
		}
		var hook model.HookAnalysis
		if err := aijson.Unmarshal(resp, &hook); err != nil {
			log.Warn("viralai: hook analysis parse failed",
				zap.String("shortcode", reel.Reel.Shortcode), zap.Error(err))
			continue
		}
		hook.ReelID = reel.Reel.ID
		hook.Username = reel.Reel.Username
		out = append(out, hook)
	}
	return out
}

// generateHooks is stage 3: one call producing the full hook set.
func (a *Analyzer) generateHooks(ctx context.Context, profile model.ProfileAnalysis, hooks []model.HookAnalysis, log *zap.Logger) []model.GeneratedHook {
	temp := generationTemp
	resp, err := a.client.Complete(ctx, ai.Request{
		System:      systemPrompt,
		Prompt:      hookGenerationPrompt(profile, hooks),
		Model:       analysisModel,
		MaxTokens:   analysisMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		log.Warn("viralai: hook generation failed", zap.Error(err))
		return []model.GeneratedHook{}
	}
	var out []model.GeneratedHook
	if err := aijson.Unmarshal(resp, &out); err != nil {
		log.Warn("viralai: hook generation parse failed", zap.Error(err))
		return []model.GeneratedHook{}
	}
	for i := range out {
		if out[i].EstimatedEffectiveness < 0 {
			out[i].EstimatedEffectiveness = 0
		}
		if out[i].EstimatedEffectiveness > 100 {
			out[i].EstimatedEffectiveness = 100
		}
	}
	return out
}

// generateScripts is stage 4: one call per generated hook.
func (a *Analyzer) generateScripts(ctx context.Context, profile model.ProfileAnalysis, hooks []model.GeneratedHook, analyses []model.HookAnalysis, log *zap.Logger) []model.GeneratedScript {
	bySource := make(map[string]*model.HookAnalysis, len(analyses))
	for i := range analyses {
		bySource[analyses[i].Username] = &analyses[i]
	}

	out := make([]model.GeneratedScript, 0, len(hooks))
	for _, hook := range hooks {
		temp := generationTemp
		resp, err := a.client.Complete(ctx, ai.Request{
			System:      systemPrompt,
			Prompt:      scriptPrompt(profile, hook, bySource[hook.SourceUsername]),
			Model:       analysisModel,
			MaxTokens:   scriptMaxTokens,
			Temperature: &temp,
		})
		if err != nil {
			log.Warn("viralai: script generation failed", zap.Error(err))
			continue
		}
		var script model.GeneratedScript
		if err := aijson.Unmarshal(resp, &script); err != nil {
			log.Warn("viralai: script parse failed", zap.Error(err))
			continue
		}
		if script.PrimaryHook == "" {
			script.PrimaryHook = hook.HookText
		}
		if script.ScriptType == "" {
			script.ScriptType = "reel"
		}
		out = append(out, script)
	}
	return out
}
