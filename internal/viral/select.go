package viral

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/model"
)

// candidate is one reel queued for transcript selection, ranked within its
// role.
type candidate struct {
	content model.Content
	role    model.ReelRole
	rank    int
}

// recencyWindow is the preferred age of primary reels in an initial run.
const recencyWindow = 30 * 24 * time.Hour

// selectInitial picks transcript candidates for run #1: the primary's top
// reels from the last 30 days (all-time when the window is empty), and the
// top of each competitor's fetched reels merged by views.
func (p *Processor) selectInitial(ctx context.Context, req *model.ViralAnalysisRequest) ([]candidate, error) {
	cutoff := time.Now().Add(-recencyWindow)
	primaryReels, err := p.store.TopReels(ctx, req.PrimaryUsername, &cutoff, p.cfg.PrimaryMaxAttempts)
	if err != nil {
		return nil, eris.Wrapf(err, "viral: select primary reels %s", req.PrimaryUsername)
	}
	if len(primaryReels) == 0 {
		primaryReels, err = p.store.TopReels(ctx, req.PrimaryUsername, nil, p.cfg.PrimaryMaxAttempts)
		if err != nil {
			return nil, eris.Wrapf(err, "viral: select primary reels %s", req.PrimaryUsername)
		}
	}

	var competitorReels []model.Content
	for _, competitor := range req.Competitors {
		reels, err := p.store.TopReels(ctx, competitor, nil, p.cfg.InitialCompetitorReels)
		if err != nil {
			return nil, eris.Wrapf(err, "viral: select competitor reels %s", competitor)
		}
		competitorReels = append(competitorReels, reels...)
	}
	sort.SliceStable(competitorReels, func(i, j int) bool {
		return competitorReels[i].ViewCount > competitorReels[j].ViewCount
	})
	if len(competitorReels) > p.cfg.CompetitorMaxAttempts {
		competitorReels = competitorReels[:p.cfg.CompetitorMaxAttempts]
	}

	return rankCandidates(primaryReels, competitorReels), nil
}

// selectRecurring picks the top newly-discovered competitor reels since the
// previous completed run. Primary selection is skipped on recurring runs.
func (p *Processor) selectRecurring(ctx context.Context, req *model.ViralAnalysisRequest, since *time.Time) ([]candidate, error) {
	var discovered []model.Content
	for _, competitor := range req.Competitors {
		reels, err := p.store.TopReels(ctx, competitor, since, p.cfg.InitialCompetitorReels)
		if err != nil {
			return nil, eris.Wrapf(err, "viral: discover reels %s", competitor)
		}
		discovered = append(discovered, reels...)
	}
	sort.SliceStable(discovered, func(i, j int) bool {
		return discovered[i].ViewCount > discovered[j].ViewCount
	})
	if len(discovered) > p.cfg.RecurringTopReels {
		discovered = discovered[:p.cfg.RecurringTopReels]
	}

	return rankCandidates(nil, discovered), nil
}

// rankCandidates assigns per-role selection ranks, primary first.
func rankCandidates(primary, competitor []model.Content) []candidate {
	out := make([]candidate, 0, len(primary)+len(competitor))
	for i, c := range primary {
		out = append(out, candidate{content: c, role: model.RolePrimary, rank: i + 1})
	}
	for i, c := range competitor {
		out = append(out, candidate{content: c, role: model.RoleCompetitor, rank: i + 1})
	}
	return out
}
