package discovery

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralscope/viralscope/internal/config"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/pkg/instagram"
)

type fakeStore struct {
	primaries []string
	known     map[string]bool
	queued    []*model.QueueItem
	dupes     map[string]bool
}

func (f *fakeStore) ListPrimaryUsernames(context.Context) ([]string, error) {
	return f.primaries, nil
}

func (f *fakeStore) KnownUsernames(_ context.Context, candidates []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, c := range candidates {
		if f.known[c] {
			out[c] = true
		}
	}
	return out, nil
}

func (f *fakeStore) Enqueue(_ context.Context, item *model.QueueItem) (bool, error) {
	if f.dupes[item.Username] {
		return false, nil
	}
	f.queued = append(f.queued, item)
	return true, nil
}

type fakeSimilar struct {
	bySeed map[string][]instagram.SimilarProfileRecord
	err    error
	calls  []string
}

func (f *fakeSimilar) SimilarProfiles(_ context.Context, username string, _ int) ([]instagram.SimilarProfileRecord, error) {
	f.calls = append(f.calls, username)
	if f.err != nil {
		return nil, f.err
	}
	return f.bySeed[username], nil
}

func testDiscoverer(fs *fakeStore, sim *fakeSimilar, cfg config.DiscoveryConfig) *Discoverer {
	d := New(cfg, fs, sim)
	d.rng = rand.New(rand.NewSource(1))
	return d
}

func sims(entries ...instagram.SimilarProfileRecord) []instagram.SimilarProfileRecord {
	return entries
}

func TestRun_QueuesBiggestUnknownAccounts(t *testing.T) {
	fs := &fakeStore{
		primaries: []string{"seed1"},
		known:     map[string]bool{"alreadyknown": true},
	}
	sim := &fakeSimilar{bySeed: map[string][]instagram.SimilarProfileRecord{
		"seed1": sims(
			instagram.SimilarProfileRecord{Username: "small", Followers: 500},
			instagram.SimilarProfileRecord{Username: "big", Followers: 90000},
			instagram.SimilarProfileRecord{Username: "alreadyknown", Followers: 50000},
			instagram.SimilarProfileRecord{Username: "medium", Followers: 7000},
		),
	}}
	d := testDiscoverer(fs, sim, config.DiscoveryConfig{
		DefaultSeed:      "fallback",
		MaxRounds:        1,
		ProfilesPerRound: 2,
		MaxAccounts:      50,
		MinFollowers:     1000,
	})

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalQueued)
	require.Len(t, fs.queued, 2)
	assert.Equal(t, "big", fs.queued[0].Username, "sorted by followers")
	assert.Equal(t, "medium", fs.queued[1].Username)
	for _, item := range fs.queued {
		assert.Equal(t, model.PriorityLow, item.Priority)
		assert.Equal(t, "discovery:seed1", item.Source)
	}

	require.Len(t, res.Rounds, 1)
	assert.Equal(t, 4, res.Rounds[0].Candidates)
}

func TestRun_FallsBackToDefaultSeed(t *testing.T) {
	fs := &fakeStore{}
	sim := &fakeSimilar{bySeed: map[string][]instagram.SimilarProfileRecord{
		"fallback": sims(instagram.SimilarProfileRecord{Username: "found", Followers: 5000}),
	}}
	d := testDiscoverer(fs, sim, config.DiscoveryConfig{
		DefaultSeed: "Fallback", MaxRounds: 3, ProfilesPerRound: 10, MaxAccounts: 50,
	})

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fallback"}, sim.calls, "default used once, then supply is exhausted")
	assert.Equal(t, 1, res.TotalQueued)
}

func TestRun_StopsAtQueueTarget(t *testing.T) {
	fs := &fakeStore{primaries: []string{"s1", "s2", "s3"}}
	sim := &fakeSimilar{bySeed: map[string][]instagram.SimilarProfileRecord{}}
	for _, s := range fs.primaries {
		sim.bySeed[s] = sims(
			instagram.SimilarProfileRecord{Username: s + "a", Followers: 100},
			instagram.SimilarProfileRecord{Username: s + "b", Followers: 200},
		)
	}
	d := testDiscoverer(fs, sim, config.DiscoveryConfig{
		MaxRounds: 10, ProfilesPerRound: 10, MaxAccounts: 3,
	})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalQueued, "cap honoured mid-round")
	assert.Len(t, sim.calls, 2, "no further rounds after the cap")
}

func TestRun_RoundFailureContinues(t *testing.T) {
	fs := &fakeStore{primaries: []string{"s1"}}
	sim := &fakeSimilar{err: errors.New("adapter down")}
	d := testDiscoverer(fs, sim, config.DiscoveryConfig{
		DefaultSeed: "fallback", MaxRounds: 2, ProfilesPerRound: 5, MaxAccounts: 10,
	})

	res, err := d.Run(context.Background())
	require.NoError(t, err, "a failed round is logged, not fatal")
	assert.Zero(t, res.TotalQueued)
	assert.Len(t, sim.calls, 2, "the next round still runs with a fresh seed")
}

func TestRun_DuplicateEnqueueNotCounted(t *testing.T) {
	fs := &fakeStore{
		primaries: []string{"s1"},
		dupes:     map[string]bool{"dupe": true},
	}
	sim := &fakeSimilar{bySeed: map[string][]instagram.SimilarProfileRecord{
		"s1": sims(
			instagram.SimilarProfileRecord{Username: "dupe", Followers: 900},
			instagram.SimilarProfileRecord{Username: "new", Followers: 800},
		),
	}}
	d := testDiscoverer(fs, sim, config.DiscoveryConfig{
		MaxRounds: 1, ProfilesPerRound: 10, MaxAccounts: 10,
	})

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalQueued, "suppressed duplicates do not count")
}
