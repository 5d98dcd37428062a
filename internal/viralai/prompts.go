package viralai

import (
	"fmt"
	"strings"

	"github.com/viralscope/viralscope/internal/model"
)

// Generation settings. The analysis stages want longer, more creative
// output than categorisation, so they run on the larger model.
const (
	analysisModel      = "claude-sonnet-4-5-20250929"
	analysisMaxTokens  = 2048
	scriptMaxTokens    = 4096
	analysisTemp       = 0.4
	generationTemp     = 0.7
	hookAnalysisReels  = 5
	generatedHookCount = 5
)

// systemPrompt is shared by every stage.
const systemPrompt = `You are a short-form video strategist helping creators adapt proven viral formats to their own niche.

Rules:
- Return valid JSON for every response, nothing else
- Ground every suggestion in the material provided; never invent metrics
- Hooks are the first 1-2 spoken sentences of a reel, written to stop the scroll
- Scripts are written to be read aloud and timed for 30-60 seconds`

func profileAnalysisPrompt(p *model.PrimaryProfile, strategy model.ContentStrategy, captions []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Analyze this Instagram creator's positioning.

Username: %s
Bio: %s
Followers: %d
Categories: %s / %s / %s
Median views: %.0f
`, p.Username, p.Bio, p.Followers,
		p.PrimaryCategory, p.SecondaryCategory, p.TertiaryCategory,
		p.Metrics.MedianViews)

	if strategy.ContentType != "" || strategy.TargetAudience != "" || strategy.Goals != "" {
		fmt.Fprintf(&sb, "\nStated strategy: content type %q, audience %q, goals %q\n",
			strategy.ContentType, strategy.TargetAudience, strategy.Goals)
	}
	if len(captions) > 0 {
		sb.WriteString("\nRecent captions:\n")
		for i, c := range captions {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&sb, "- %s\n", truncate(c, 200))
		}
	}

	sb.WriteString(`
Respond with JSON:
{"positioning": "...", "recurring_themes": ["..."], "audience_hypothesis": "...", "tone_of_voice": "..."}`)
	return sb.String()
}

func hookAnalysisPrompt(reel ReelInput) string {
	return fmt.Sprintf(`Analyze the hook of this viral reel.

Creator: @%s
Views: %d (outlier score %.1fx the account median)
Transcript:
%s

Identify the hook (the opening line or two), the psychological triggers it uses, and how a different creator could adapt the same mechanism.

Respond with JSON:
{"hook_text": "...", "power_words": ["..."], "psychological_triggers": ["..."], "adaptation_strategy": "..."}`,
		reel.Reel.Username, reel.Reel.ViewCount, reel.Reel.OutlierScore,
		truncate(reel.Transcript, 1500))
}

func hookGenerationPrompt(profile model.ProfileAnalysis, hooks []model.HookAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Generate %d original hooks for this creator.

Creator positioning: %s
Audience: %s
Recurring themes: %s

Proven hooks from their niche:
`, generatedHookCount, profile.Positioning, profile.AudienceHypothesis,
		strings.Join(profile.RecurringThemes, ", "))

	for _, h := range hooks {
		fmt.Fprintf(&sb, "- @%s: %q (triggers: %s)\n",
			h.Username, truncate(h.HookText, 200),
			strings.Join(h.PsychologicalTriggers, ", "))
	}

	fmt.Fprintf(&sb, `
Each hook adapts a proven mechanism to the creator's own positioning. Estimate effectiveness 0-100.

Respond with a JSON array of exactly %d items:
[{"hook_text": "...", "source_username": "...", "estimated_effectiveness": 0, "psychological_triggers": ["..."]}]`,
		generatedHookCount)
	return sb.String()
}

func scriptPrompt(profile model.ProfileAnalysis, hook model.GeneratedHook, source *model.HookAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Write a complete 30-60 second reel script opening with this hook.

Hook: %s
Creator positioning: %s
Tone: %s
`, hook.HookText, profile.Positioning, profile.ToneOfVoice)

	if source != nil {
		fmt.Fprintf(&sb, "Based on @%s's hook: %q\n",
			source.Username, truncate(source.HookText, 200))
	}

	sb.WriteString(`
Respond with JSON:
{"title": "...", "content": "...", "primary_hook": "...", "call_to_action": "...", "script_type": "reel", "estimated_duration_seconds": 0, "source_reels": {"basedOnCompetitor": "...", "originalCompetitorHook": "..."}}`)
	return sb.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
