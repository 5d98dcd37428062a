package viral

import (
	"context"

	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/viralai"
)

// roleTarget returns the completed-transcript goal and the attempt cap for
// a role.
func (p *Processor) roleTarget(role model.ReelRole) (target, maxAttempts int) {
	if role == model.RolePrimary {
		return p.cfg.PrimaryTranscripts, p.cfg.PrimaryMaxAttempts
	}
	return p.cfg.CompetitorTranscripts, p.cfg.CompetitorMaxAttempts
}

// transcribe walks the ranked candidates and fetches transcripts until each
// role hits its target or runs out of attempts. A row is written for every
// attempted candidate, completed or not, so the selection trail survives.
func (p *Processor) transcribe(ctx context.Context, runID string, selected []candidate) ([]viralai.ReelInput, int) {
	completed := map[model.ReelRole]int{}
	attempted := map[model.ReelRole]int{}
	fetched := 0
	var reels []viralai.ReelInput

	for _, cand := range selected {
		if ctx.Err() != nil {
			break
		}
		target, maxAttempts := p.roleTarget(cand.role)
		if completed[cand.role] >= target || attempted[cand.role] >= maxAttempts {
			continue
		}
		attempted[cand.role]++

		row := &model.ViralAnalysisReel{
			RunID:               runID,
			ContentID:           cand.content.ContentID,
			Username:            cand.content.ProfileOwner,
			Shortcode:           cand.content.Shortcode,
			Role:                cand.role,
			SelectionRank:       cand.rank,
			ViewCount:           cand.content.ViewCount,
			LikeCount:           cand.content.LikeCount,
			CommentCount:        cand.content.CommentCount,
			OutlierScore:        cand.content.OutlierScore,
			TranscriptRequested: true,
		}
		if err := p.store.InsertAnalysisReel(ctx, row); err != nil {
			zap.L().Warn("viral: analysis reel insert failed",
				zap.String("shortcode", cand.content.Shortcode), zap.Error(err))
			continue
		}

		text, lang, err := p.fetchTranscript(ctx, cand.content)
		if err != nil {
			// The row stays; the failure is annotated, never retried here.
			if updErr := p.store.UpdateAnalysisReelTranscript(ctx, row.ID, false, err.Error()); updErr != nil {
				zap.L().Warn("viral: transcript status update failed", zap.Error(updErr))
			}
			reels = append(reels, viralai.ReelInput{Reel: *row})
			continue
		}

		if err := p.store.UpdateAnalysisReelTranscript(ctx, row.ID, true, ""); err != nil {
			zap.L().Warn("viral: transcript status update failed", zap.Error(err))
		}
		if err := p.store.UpdateTranscript(ctx, cand.content.ContentID, text, lang, true); err != nil {
			zap.L().Warn("viral: content transcript update failed",
				zap.String("content_id", cand.content.ContentID), zap.Error(err))
		}
		row.TranscriptCompleted = true
		completed[cand.role]++
		fetched++
		reels = append(reels, viralai.ReelInput{Reel: *row, Transcript: text})
	}

	zap.L().Info("viral: transcript selection finished",
		zap.String("run_id", runID),
		zap.Int("primary_completed", completed[model.RolePrimary]),
		zap.Int("competitor_completed", completed[model.RoleCompetitor]),
		zap.Int("fetched", fetched))
	return reels, fetched
}

// fetchTranscript requests one transcript and flattens it to text.
func (p *Processor) fetchTranscript(ctx context.Context, c model.Content) (text, lang string, err error) {
	tr, err := p.transcriber.Fetch(ctx, c.URL)
	if err != nil {
		return "", "", err
	}
	return tr.FullText(), tr.Language, nil
}
