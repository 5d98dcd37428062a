// Package discovery grows the account network: it walks similar-profile
// edges outward from seed accounts and enqueues unseen candidates as LOW
// priority scrape work.
package discovery

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/viralscope/viralscope/internal/config"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/pkg/instagram"
)

// SimilarSource is the similar-profiles adapter surface.
type SimilarSource interface {
	SimilarProfiles(ctx context.Context, username string, limit int) ([]instagram.SimilarProfileRecord, error)
}

// Store is the persistence surface the discoverer needs.
type Store interface {
	ListPrimaryUsernames(ctx context.Context) ([]string, error)
	KnownUsernames(ctx context.Context, candidates []string) (map[string]bool, error)
	Enqueue(ctx context.Context, item *model.QueueItem) (bool, error)
}

// RoundResult is what one seed round produced.
type RoundResult struct {
	Seed       string `json:"seed"`
	Candidates int    `json:"candidates"`
	Filtered   int    `json:"filtered"`
	Queued     int    `json:"queued"`
}

// Result summarises a discovery session.
type Result struct {
	Strategy    string        `json:"strategy"`
	Rounds      []RoundResult `json:"rounds"`
	TotalQueued int           `json:"total_queued"`
}

// similarFetchLimit is how many similar accounts one seed call asks for.
const similarFetchLimit = 80

// Discoverer runs bounded multi-round network expansion.
type Discoverer struct {
	cfg     config.DiscoveryConfig
	store   Store
	similar SimilarSource
	limiter *rate.Limiter
	rng     *rand.Rand

	usedSeeds map[string]bool
}

// New creates a Discoverer.
func New(cfg config.DiscoveryConfig, st Store, similar SimilarSource) *Discoverer {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	if cfg.ProfilesPerRound <= 0 {
		cfg.ProfilesPerRound = 10
	}
	if cfg.MaxAccounts <= 0 {
		cfg.MaxAccounts = 50
	}
	return &Discoverer{
		cfg:       cfg,
		store:     st,
		similar:   similar,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		usedSeeds: map[string]bool{},
	}
}

// Run executes rounds until the queue target, the round cap, or the seed
// supply is exhausted.
func (d *Discoverer) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("strategy", "similar-expansion"))
	result := &Result{Strategy: "similar-expansion"}

	for round := 1; round <= d.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if result.TotalQueued >= d.cfg.MaxAccounts {
			break
		}

		seed, err := d.nextSeed(ctx)
		if err != nil {
			return result, err
		}
		if seed == "" {
			log.Info("discovery: seed supply exhausted", zap.Int("round", round))
			break
		}

		rr, err := d.round(ctx, seed, d.cfg.MaxAccounts-result.TotalQueued)
		if err != nil {
			log.Warn("discovery: round failed",
				zap.String("seed", seed), zap.Error(err))
			continue
		}
		result.Rounds = append(result.Rounds, *rr)
		result.TotalQueued += rr.Queued
		log.Info("discovery: round finished",
			zap.Int("round", round),
			zap.String("seed", seed),
			zap.Int("queued", rr.Queued))
	}

	log.Info("discovery: session finished",
		zap.Int("rounds", len(result.Rounds)),
		zap.Int("total_queued", result.TotalQueued))
	return result, nil
}

// nextSeed picks an unused primary profile uniformly at random, falling
// back to the configured default. An empty return means no seeds remain.
func (d *Discoverer) nextSeed(ctx context.Context) (string, error) {
	usernames, err := d.store.ListPrimaryUsernames(ctx)
	if err != nil {
		return "", eris.Wrap(err, "discovery: list seed candidates")
	}

	unused := usernames[:0:0]
	for _, u := range usernames {
		if !d.usedSeeds[u] {
			unused = append(unused, u)
		}
	}
	if len(unused) > 0 {
		seed := unused[d.rng.Intn(len(unused))]
		d.usedSeeds[seed] = true
		return seed, nil
	}

	fallback := store.NormalizeUsername(d.cfg.DefaultSeed)
	if fallback == "" || d.usedSeeds[fallback] {
		return "", nil
	}
	d.usedSeeds[fallback] = true
	return fallback, nil
}

// round expands one seed: fetch similar accounts, drop known and
// under-floor candidates, keep the biggest accounts, enqueue as LOW.
func (d *Discoverer) round(ctx context.Context, seed string, remaining int) (*RoundResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	records, err := d.similar.SimilarProfiles(ctx, seed, similarFetchLimit)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: similar profiles for %s", seed)
	}
	rr := &RoundResult{Seed: seed, Candidates: len(records)}

	candidates := make([]instagram.SimilarProfileRecord, 0, len(records))
	usernames := make([]string, 0, len(records))
	for _, r := range records {
		username := store.NormalizeUsername(r.Username)
		if username == "" || username == seed {
			continue
		}
		if d.cfg.MinFollowers > 0 && r.Followers < d.cfg.MinFollowers {
			continue
		}
		r.Username = username
		candidates = append(candidates, r)
		usernames = append(usernames, username)
	}

	known, err := d.store.KnownUsernames(ctx, usernames)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: known lookup")
	}
	fresh := candidates[:0:0]
	for _, c := range candidates {
		if !known[c.Username] {
			fresh = append(fresh, c)
		}
	}
	rr.Filtered = len(records) - len(fresh)

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Followers > fresh[j].Followers
	})
	target := min(remaining, d.cfg.ProfilesPerRound)
	if len(fresh) > target {
		fresh = fresh[:target]
	}

	for _, c := range fresh {
		queued, err := d.store.Enqueue(ctx, &model.QueueItem{
			Username: c.Username,
			Source:   "discovery:" + seed,
			Priority: model.PriorityLow,
		})
		if err != nil {
			zap.L().Warn("discovery: enqueue failed",
				zap.String("username", c.Username), zap.Error(err))
			continue
		}
		if queued {
			rr.Queued++
		}
	}
	return rr, nil
}
