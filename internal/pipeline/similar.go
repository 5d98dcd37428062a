package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/pkg/instagram"
)

// similarConcurrency bounds parallel avatar downloads on the similar branch.
const similarConcurrency = 3

// expandSimilar fetches similar accounts for the primary and shapes them
// into secondary profiles. The branch is best-effort: any failure returns
// what was gathered so far.
func (p *Pipeline) expandSimilar(ctx context.Context, username string, _ *instagram.ProfileRecord) []model.SecondaryProfile {
	log := zap.L().With(zap.String("username", username))

	records, err := p.ig.SimilarProfiles(ctx, username, p.cfg.Discovery.SimilarLimit)
	if err != nil {
		log.Warn("pipeline: similar profiles fetch degraded", zap.Error(err))
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	secondary := make([]model.SecondaryProfile, len(records))
	for i, r := range records {
		secondary[i] = model.SecondaryProfile{
			Username:       store.NormalizeUsername(r.Username),
			FullName:       r.FullName,
			Followers:      r.Followers,
			IsVerified:     r.IsVerified,
			AccountType:    model.AccountTypePersonal,
			SimilarityRank: r.Rank,
		}
	}

	p.downloadSimilarAvatars(ctx, records, secondary)
	return secondary
}

// downloadSimilarAvatars fetches avatars with bounded concurrency and a
// stagger between acquisitions so the CDN sees a trickle, not a burst.
func (p *Pipeline) downloadSimilarAvatars(ctx context.Context, records []instagram.SimilarProfileRecord, secondary []model.SecondaryProfile) {
	if p.images == nil {
		return
	}

	sem := semaphore.NewWeighted(similarConcurrency)
	var wg sync.WaitGroup
	for i := range records {
		if records[i].AvatarURL == "" {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)

			key := store.ProfileImageKey(secondary[i].Username)
			if err := p.fetchAndStore(ctx, records[i].AvatarURL, store.BucketProfileImages, key); err != nil {
				zap.L().Debug("similar avatar download failed",
					zap.String("username", secondary[i].Username), zap.Error(err))
				return
			}
			secondary[i].ImageKey = key
		}(i)

		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-time.After(p.similarStagger):
		}
	}
	wg.Wait()
}
