package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/pkg/instagram"
)

// fakeStore overrides only the gateway methods the handlers under test
// touch; anything else panics through the embedded nil interface.
type fakeStore struct {
	store.Store

	mu sync.Mutex

	listFilter  store.ContentFilter
	listRows    []store.ContentRow
	listHasMore bool

	profileRows []store.ContentRow

	primaries   map[string]*model.PrimaryProfile
	secondaries map[string]*model.SecondaryProfile
	listedSecs  []model.SecondaryProfile

	queueItems map[string]*model.QueueItem
	enqueued   []*model.QueueItem

	cached   []model.SimilarCacheEntry
	replaced []model.SimilarCacheEntry
	upserts  []model.SimilarCacheEntry

	viralReqs       map[string]*model.ViralAnalysisRequest
	createdReqs     []*model.ViralAnalysisRequest
	activeReq       *model.ViralAnalysisRequest
	activeForUser   *model.ViralAnalysisRequest
	completedRun    *model.ViralAnalysisRun
	latestRuns      map[model.RunStatus]*model.ViralAnalysisRun
	runReels        []model.ViralAnalysisReel
	runScripts      []model.ViralScript
	statusUpdates   []string
	progressUpdates []string
	claims          []string
	claimDenied     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		primaries:   map[string]*model.PrimaryProfile{},
		secondaries: map[string]*model.SecondaryProfile{},
		queueItems:  map[string]*model.QueueItem{},
		viralReqs:   map[string]*model.ViralAnalysisRequest{},
		latestRuns:  map[model.RunStatus]*model.ViralAnalysisRun{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) ListContent(_ context.Context, filter store.ContentFilter) ([]store.ContentRow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFilter = filter
	return f.listRows, f.listHasMore, nil
}

func (f *fakeStore) FilterOptions(context.Context) (*store.FilterOptions, error) {
	return &store.FilterOptions{PrimaryCategories: []string{"Health & Fitness"}}, nil
}

func (f *fakeStore) ProfileContent(_ context.Context, _, _ string, _, _ int) ([]store.ContentRow, bool, error) {
	return f.profileRows, false, nil
}

func (f *fakeStore) GetPrimary(_ context.Context, username string) (*model.PrimaryProfile, error) {
	return f.primaries[username], nil
}

func (f *fakeStore) GetSecondary(_ context.Context, username string) (*model.SecondaryProfile, error) {
	return f.secondaries[username], nil
}

func (f *fakeStore) ListSecondariesBy(_ context.Context, _ string, _ int) ([]model.SecondaryProfile, error) {
	return f.listedSecs, nil
}

func (f *fakeStore) QueueItemFor(_ context.Context, username string) (*model.QueueItem, error) {
	return f.queueItems[username], nil
}

func (f *fakeStore) Enqueue(_ context.Context, item *model.QueueItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, item)
	return true, nil
}

func (f *fakeStore) CachedSimilar(_ context.Context, _ string, _ int, _ time.Duration) ([]model.SimilarCacheEntry, error) {
	return f.cached, nil
}

func (f *fakeStore) ReplaceSimilarCache(_ context.Context, _ string, entries []model.SimilarCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = entries
	return nil
}

func (f *fakeStore) UpsertSimilarCacheEntry(_ context.Context, e *model.SimilarCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, *e)
	return nil
}

func (f *fakeStore) CreateViralRequest(_ context.Context, req *model.ViralAnalysisRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.ID = "vr-1"
	f.createdReqs = append(f.createdReqs, req)
	f.viralReqs[req.ID] = req
	return nil
}

func (f *fakeStore) GetViralRequest(_ context.Context, id string) (*model.ViralAnalysisRequest, error) {
	return f.viralReqs[id], nil
}

func (f *fakeStore) GetViralRequestBySession(_ context.Context, sessionID string) ([]model.ViralAnalysisRequest, error) {
	var out []model.ViralAnalysisRequest
	for _, req := range f.viralReqs {
		if req.SessionID == sessionID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveViralRequest(context.Context, string, string) (*model.ViralAnalysisRequest, error) {
	return f.activeReq, nil
}

func (f *fakeStore) ActiveViralRequestForUser(context.Context, string) (*model.ViralAnalysisRequest, error) {
	return f.activeForUser, nil
}

func (f *fakeStore) LatestCompletedRunForUser(context.Context, string) (*model.ViralAnalysisRun, error) {
	return f.completedRun, nil
}

func (f *fakeStore) LatestRun(_ context.Context, _ string, status model.RunStatus) (*model.ViralAnalysisRun, error) {
	return f.latestRuns[status], nil
}

func (f *fakeStore) RunReels(context.Context, string) ([]model.ViralAnalysisReel, error) {
	return f.runReels, nil
}

func (f *fakeStore) RunScripts(context.Context, string) ([]model.ViralScript, error) {
	return f.runScripts, nil
}

func (f *fakeStore) UpdateViralStatus(_ context.Context, id string, status model.ViralRequestStatus, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, id+":"+string(status))
	return nil
}

func (f *fakeStore) ClaimViralRequestByID(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, id)
	return !f.claimDenied, nil
}

func (f *fakeStore) UpdateViralProgress(_ context.Context, id string, _ int, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressUpdates = append(f.progressUpdates, id+":"+step)
	return nil
}

type fakeImages struct {
	mu       sync.Mutex
	uploaded map[string][]byte
}

func (f *fakeImages) UploadImage(_ context.Context, bucket, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[bucket+"/"+key] = data
	return f.PublicURL(bucket, key), nil
}

func (f *fakeImages) PublicURL(bucket, key string) string {
	return "https://cdn.test/" + bucket + "/" + key
}

type fakeIG struct {
	profile    *instagram.ProfileRecord
	profileErr error
	similar    []instagram.SimilarProfileRecord
	similarErr error

	mu           sync.Mutex
	similarCalls int
}

func (f *fakeIG) Profile(context.Context, string) (*instagram.ProfileRecord, error) {
	return f.profile, f.profileErr
}

func (f *fakeIG) SimilarProfiles(context.Context, string, int) ([]instagram.SimilarProfileRecord, error) {
	f.mu.Lock()
	f.similarCalls++
	f.mu.Unlock()
	return f.similar, f.similarErr
}

type fakeTrigger struct {
	processed chan *model.ViralAnalysisRequest
}

func (f *fakeTrigger) Process(_ context.Context, req *model.ViralAnalysisRequest) error {
	f.processed <- req
	return nil
}

func newTestServer(fs *fakeStore, ig *fakeIG, trigger Trigger) (*Server, http.Handler) {
	s := New(fs, &fakeImages{}, ig, trigger)
	return s, s.Router()
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) (int, testEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func contentRow(shortcode string, views int64) store.ContentRow {
	return store.ContentRow{
		Content: model.Content{
			ContentID: "id-" + shortcode, Shortcode: shortcode,
			ProfileOwner: "liftheavy", Kind: model.KindReel,
			ViewCount: views, ThumbKey: "thumbnails/liftheavy/" + shortcode + ".jpg",
		},
		ProfileName:     "Lift Heavy",
		ProfileImageKey: "profiles/liftheavy/profile.jpg",
		Followers:       50000,
	}
}

func TestReelsFeed(t *testing.T) {
	fs := newFakeStore()
	fs.listRows = []store.ContentRow{contentRow("abc", 1000), contentRow("def", 900)}
	fs.listHasMore = true
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodGet,
		"/api/reels?primary_categories=Fitness,Travel&min_views=100&date_range=week&sort_by=content_engagement&limit=10",
		nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var page struct {
		Reels []struct {
			Shortcode    string `json:"shortcode"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"reels"`
		IsLastPage bool `json:"isLastPage"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Reels, 2)
	assert.False(t, page.IsLastPage)
	assert.Equal(t, "https://cdn.test/content-thumbnails/thumbnails/liftheavy/abc.jpg",
		page.Reels[0].ThumbnailURL)

	assert.Equal(t, []string{"Fitness", "Travel"}, fs.listFilter.PrimaryCategories)
	assert.Equal(t, int64(100), fs.listFilter.MinViews)
	assert.Equal(t, "engagement", fs.listFilter.SortBy)
	assert.Equal(t, 10, fs.listFilter.Limit)
	require.NotNil(t, fs.listFilter.PostedAfter)
	assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), *fs.listFilter.PostedAfter, time.Minute)
}

func TestReelsFeed_RejectsBadParams(t *testing.T) {
	fs := newFakeStore()
	_, h := newTestServer(fs, &fakeIG{}, nil)

	for _, target := range []string{
		"/api/reels?limit=0",
		"/api/reels?min_views=many",
		"/api/reels?date_range=fortnight",
		"/api/reels?sort_by=chaos",
		"/api/reels?is_verified=maybe",
	} {
		code, env := doRequest(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, code, target)
		assert.False(t, env.Success, target)
		assert.NotEmpty(t, env.Error, target)
	}
}

func TestPostsFeed_ForcesPostType(t *testing.T) {
	fs := newFakeStore()
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, _ := doRequest(t, h, http.MethodGet, "/api/posts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"post"}, fs.listFilter.ContentTypes)
	assert.Equal(t, "likes", fs.listFilter.SortBy)
}

func TestRandomOrder_SeedPinnedUntilReset(t *testing.T) {
	fs := newFakeStore()
	_, h := newTestServer(fs, &fakeIG{}, nil)

	doRequest(t, h, http.MethodGet, "/api/reels?random_order=true&session_id=s1", nil)
	first := fs.listFilter.RandomSeed
	require.NotEmpty(t, first)
	assert.Equal(t, "random", fs.listFilter.SortBy)

	doRequest(t, h, http.MethodGet, "/api/reels?random_order=true&session_id=s1&offset=24", nil)
	assert.Equal(t, first, fs.listFilter.RandomSeed, "page 2 keeps the shuffle")

	code, _ := doRequest(t, h, http.MethodPost, "/api/reset-session?session_id=s1", nil)
	require.Equal(t, http.StatusOK, code)

	doRequest(t, h, http.MethodGet, "/api/reels?random_order=true&session_id=s1", nil)
	assert.NotEqual(t, first, fs.listFilter.RandomSeed, "reset starts a new shuffle")
}

func TestFilterOptions(t *testing.T) {
	fs := newFakeStore()
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodGet, "/api/filter-options", nil)
	require.Equal(t, http.StatusOK, code)

	var opts struct {
		PrimaryCategories []string `json:"primary_categories"`
		ContentStyles     []string `json:"content_styles"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &opts))
	assert.Equal(t, []string{"Health & Fitness"}, opts.PrimaryCategories)
	assert.Contains(t, opts.ContentStyles, "carousel_video")
}

func TestProfile_NotFound(t *testing.T) {
	fs := newFakeStore()
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodGet, "/api/profile/ghost", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Profile not found", env.Error)
}

func TestProfileRequest_Idempotent(t *testing.T) {
	fs := newFakeStore()
	fs.primaries["liftheavy"] = &model.PrimaryProfile{Username: "liftheavy"}
	fs.queueItems["queuedup"] = &model.QueueItem{Username: "queuedup", Status: model.StatusPending}
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodPost, "/api/profile/liftheavy/request", nil)
	require.Equal(t, http.StatusOK, code)
	var out requestOutcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.False(t, out.Queued)
	assert.Equal(t, "Profile already exists", out.Message)

	code, env = doRequest(t, h, http.MethodPost, "/api/profile/queuedup/request", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.Queued)
	assert.Empty(t, fs.enqueued, "no duplicate row for a live queue item")

	code, env = doRequest(t, h, http.MethodPost, "/api/profile/newcomer/request?source=onboarding", nil)
	require.Equal(t, http.StatusAccepted, code)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.Queued)
	require.Len(t, fs.enqueued, 1)
	assert.Equal(t, model.PriorityHigh, fs.enqueued[0].Priority)
	assert.Equal(t, "onboarding", fs.enqueued[0].Source)
}

func TestProfileStatus(t *testing.T) {
	fs := newFakeStore()
	fs.queueItems["pendinguser"] = &model.QueueItem{
		Username: "pendinguser", Status: model.StatusPending, Attempts: 1,
	}
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodGet, "/api/profile/pendinguser/status", nil)
	require.Equal(t, http.StatusOK, code)
	var out statusOutcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.False(t, out.Completed)
	assert.Equal(t, "PENDING", out.Status)
	assert.Equal(t, "Profile is pending", out.Message)

	code, _ = doRequest(t, h, http.MethodGet, "/api/profile/neverseen/status", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProfileSimilar_ScoresDecayByRank(t *testing.T) {
	fs := newFakeStore()
	fs.listedSecs = []model.SecondaryProfile{
		{Username: "first", SimilarityRank: 1, ImageKey: "profiles/first/profile.jpg"},
		{Username: "second", SimilarityRank: 2},
	}
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodGet, "/api/profile/liftheavy/similar", nil)
	require.Equal(t, http.StatusOK, code)

	var views []similarView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)
	assert.Greater(t, views[0].Score, views[1].Score)
	assert.NotEmpty(t, views[0].ImageURL)
}

func TestSimilarFast_CacheHitSkipsVendor(t *testing.T) {
	fs := newFakeStore()
	fs.cached = []model.SimilarCacheEntry{
		{SimilarUsername: "cachedone", Name: "Cached One", Rank: 1},
	}
	ig := &fakeIG{}
	_, h := newTestServer(fs, ig, nil)

	code, env := doRequest(t, h, http.MethodGet, "/api/profile/liftheavy/similar-fast", nil)
	require.Equal(t, http.StatusOK, code)

	var views []similarFastView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "cachedone", views[0].Username)
	assert.Zero(t, ig.similarCalls)
}

func TestSimilarFast_MissRefreshesCache(t *testing.T) {
	fs := newFakeStore()
	ig := &fakeIG{similar: []instagram.SimilarProfileRecord{
		{Username: "fresh1", FullName: "Fresh One", Rank: 1},
		{Username: "fresh2", FullName: "Fresh Two", Rank: 2},
	}}
	_, h := newTestServer(fs, ig, nil)

	code, env := doRequest(t, h, http.MethodGet,
		"/api/profile/liftheavy/similar-fast?force_refresh=true", nil)
	require.Equal(t, http.StatusOK, code)

	var views []similarFastView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)
	assert.Equal(t, 1, ig.similarCalls)

	require.Len(t, fs.replaced, 2)
	assert.Equal(t, "liftheavy", fs.replaced[0].PrimaryUsername)
	assert.NotEmpty(t, fs.replaced[0].BatchID)
	assert.Equal(t, fs.replaced[0].BatchID, fs.replaced[1].BatchID)
}

func TestAddCompetitor(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\xff\xd8\xffavatar"))
	}))
	defer cdn.Close()

	fs := newFakeStore()
	ig := &fakeIG{profile: &instagram.ProfileRecord{
		Username: "rival", FullName: "The Rival", AvatarURL: cdn.URL + "/rival.jpg",
	}}
	s, h := newTestServer(fs, ig, nil)
	images := s.images.(*fakeImages)

	code, env := doRequest(t, h, http.MethodPost,
		"/api/profile/liftheavy/add-competitor/rival", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Competitor added", env.Message)

	require.Len(t, fs.upserts, 1)
	entry := fs.upserts[0]
	assert.Equal(t, "liftheavy", entry.PrimaryUsername)
	assert.Equal(t, "rival", entry.SimilarUsername)
	assert.True(t, entry.ImageDownloaded)
	assert.Contains(t, images.uploaded,
		store.BucketProfileImages+"/"+store.SimilarImageKey("liftheavy", "rival"))
}

func TestHealth(t *testing.T) {
	fs := newFakeStore()
	_, h := newTestServer(fs, &fakeIG{}, nil)

	code, env := doRequest(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}
