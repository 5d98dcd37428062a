package viralai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/pkg/ai"
)

// fakeAI replays canned responses in call order.
type fakeAI struct {
	responses []string
	err       error
	requests  []ai.Request
}

func (f *fakeAI) Complete(_ context.Context, req ai.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no canned response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func analysisInput() Input {
	return Input{
		Primary: &model.PrimaryProfile{
			Username: "liftheavy", Bio: "Strength coach",
			PrimaryCategory: "Health & Fitness",
		},
		Strategy: model.ContentStrategy{ContentType: "educational", Goals: "grow"},
		Reels: []ReelInput{
			{
				Reel: model.ViralAnalysisReel{
					ID: "reel-1", Username: "competitor1", Shortcode: "c1",
					ViewCount: 500000, OutlierScore: 4.2,
				},
				Transcript: "Stop doing crunches. Here is what actually works.",
			},
			{
				Reel: model.ViralAnalysisReel{
					ID: "reel-2", Username: "competitor2", Shortcode: "c2",
					ViewCount: 100000, OutlierScore: 1.1,
				},
				// No transcript: the hook stage must skip this reel.
			},
		},
	}
}

const (
	profileResp = `{"positioning": "evidence-based strength coach", "recurring_themes": ["form", "myths"], "audience_hypothesis": "intermediate lifters", "tone_of_voice": "direct"}`
	hookResp    = `{"hook_text": "Stop doing crunches.", "power_words": ["stop"], "psychological_triggers": ["pattern interrupt"], "adaptation_strategy": "negate a common habit"}`
	hooksResp   = `[{"hook_text": "Stop stretching before you lift.", "source_username": "competitor1", "estimated_effectiveness": 85, "psychological_triggers": ["pattern interrupt"]}]`
	scriptResp  = `{"title": "Why stretching is sabotaging your lifts", "content": "Stop stretching before you lift...", "primary_hook": "Stop stretching before you lift.", "call_to_action": "Follow for more", "script_type": "reel", "estimated_duration_seconds": 45, "source_reels": {"basedOnCompetitor": "competitor1", "originalCompetitorHook": "Stop doing crunches."}}`
)

func TestAnalyze(t *testing.T) {
	fake := &fakeAI{responses: []string{profileResp, hookResp, hooksResp, scriptResp}}
	a := New(fake)

	data, err := a.Analyze(context.Background(), analysisInput())
	require.NoError(t, err)

	assert.Equal(t, "evidence-based strength coach", data.ProfileAnalysis.Positioning)

	require.Len(t, data.IndividualReelAnalyses, 1, "transcript-less reel skipped")
	hook := data.IndividualReelAnalyses[0]
	assert.Equal(t, "reel-1", hook.ReelID)
	assert.Equal(t, "competitor1", hook.Username)
	assert.Equal(t, "Stop doing crunches.", hook.HookText)

	require.Len(t, data.GeneratedHooks, 1)
	assert.Equal(t, 85, data.GeneratedHooks[0].EstimatedEffectiveness)

	require.Len(t, data.CompleteScripts, 1)
	assert.Equal(t, "competitor1", data.CompleteScripts[0].SourceReels.BasedOnCompetitor)

	assert.Equal(t, model.AnalysisSummary{
		TotalHooksAnalyzed: 1,
		HooksGenerated:     1,
		ScriptsCreated:     1,
	}, data.AnalysisSummary)

	// One call per stage: profile, hook, generation, script.
	assert.Len(t, fake.requests, 4)
}

func TestAnalyze_TransportFailureSurfaces(t *testing.T) {
	a := New(&fakeAI{err: errors.New("api down")})

	_, err := a.Analyze(context.Background(), analysisInput())
	require.Error(t, err)
}

func TestAnalyze_ParseFailuresDegrade(t *testing.T) {
	fake := &fakeAI{responses: []string{
		"profile analysis in prose, not JSON",
		"hook analysis in prose",
		"hook generation in prose",
	}}
	a := New(fake)

	data, err := a.Analyze(context.Background(), analysisInput())
	require.NoError(t, err, "parse failures never abort the run")

	assert.Equal(t, model.ProfileAnalysis{}, data.ProfileAnalysis)
	assert.Empty(t, data.IndividualReelAnalyses)
	assert.Empty(t, data.GeneratedHooks)
	assert.Empty(t, data.CompleteScripts)
	assert.Equal(t, model.AnalysisSummary{}, data.AnalysisSummary)
}

func TestAnalyze_RequiresPrimary(t *testing.T) {
	a := New(&fakeAI{})
	_, err := a.Analyze(context.Background(), Input{})
	require.Error(t, err)
}

func TestAnalyze_FencedResponses(t *testing.T) {
	fake := &fakeAI{responses: []string{
		"```json\n" + profileResp + "\n```",
		"```json\n" + hookResp + "\n```",
		"```json\n" + hooksResp + "\n```",
		"```json\n" + scriptResp + "\n```",
	}}
	a := New(fake)

	data, err := a.Analyze(context.Background(), analysisInput())
	require.NoError(t, err)
	assert.Equal(t, 1, data.AnalysisSummary.ScriptsCreated)
}

func TestGenerateHooks_ClampsEffectiveness(t *testing.T) {
	fake := &fakeAI{responses: []string{
		`[{"hook_text": "a", "estimated_effectiveness": 250}, {"hook_text": "b", "estimated_effectiveness": -5}]`,
	}}
	a := New(fake)

	hooks := a.generateHooks(context.Background(), model.ProfileAnalysis{}, nil, zap.NewNop())
	require.Len(t, hooks, 2)
	assert.Equal(t, 100, hooks[0].EstimatedEffectiveness)
	assert.Equal(t, 0, hooks[1].EstimatedEffectiveness)
}
