package categorize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viralscope/viralscope/internal/model"
)

// Generation settings. Categorisation wants short, deterministic answers.
const (
	categorizeModel     = "claude-haiku-4-5-20251001"
	categorizeMaxTokens = 1024
	batchMaxTokens      = 4096
	temperature         = 0.1
)

// systemPrompt is the shared instruction for all categorisation calls.
const systemPrompt = `You are a content analyst categorizing Instagram accounts and their posts for a content research tool.

Rules:
- Return valid JSON for every response, nothing else
- Use the exact category names provided; never invent new top-level categories
- Confidence is 0.0-1.0 based on how clearly the material fits the category
- Keywords are short lowercase phrases (1-3 words), most salient first
- When the material is ambiguous, pick the closest fit rather than refusing`

func (v *Vocabulary) profilePrompt(p *model.PrimaryProfile, sampleCaptions []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Categorize this Instagram account.

Username: %s
Display name: %s
Bio: %s
Followers: %d
Account type: %s
`, p.Username, p.DisplayName, p.Bio, p.Followers, p.AccountType)

	if len(sampleCaptions) > 0 {
		sb.WriteString("\nRecent captions:\n")
		for i, c := range sampleCaptions {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&sb, "- %s\n", truncate(c, 200))
		}
	}

	fmt.Fprintf(&sb, `
Primary category must be one of: %s.

Respond with JSON:
{"primary_category": "...", "secondary_category": "...", "tertiary_category": "...", "confidence": 0.0}`,
		strings.Join(v.Primaries, ", "))
	return sb.String()
}

// batchEntry is what the batch prompt shows the model per item.
type batchEntry struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Transcript  string `json:"transcript,omitempty"`
	ContentType string `json:"content_type"`
}

func (v *Vocabulary) contentBatchPrompt(items []model.Content) (string, error) {
	entries := make([]batchEntry, 0, len(items))
	for i, c := range items {
		entries = append(entries, batchEntry{
			Index:       i,
			Description: truncate(c.Description, 300),
			Transcript:  truncate(c.Transcript, 500),
			ContentType: string(c.Kind),
		})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`Categorize each Instagram post below. Posts are a JSON array; answer with a JSON array of the same length, in the same order.

Primary category must be one of: %s.

Posts:
%s

Respond with JSON only:
[{"index": 0, "primary_category": "...", "secondary_category": "...", "tertiary_category": "...", "confidence": 0.0, "keywords": ["...", "..."]}]`,
		strings.Join(v.Primaries, ", "), string(payload)), nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
