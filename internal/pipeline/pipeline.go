// Package pipeline orchestrates profile scraping: fetch, metrics, LLM
// categorisation, similar-profile expansion, image acquisition, and the
// verified dual write into the store.
package pipeline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viralscope/viralscope/internal/config"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/pkg/instagram"
)

// InstagramAPI is the vendor surface the pipeline consumes.
type InstagramAPI interface {
	Profile(ctx context.Context, username string) (*instagram.ProfileRecord, error)
	ListReels(ctx context.Context, username string, opts instagram.ListOptions) (*instagram.Listing, error)
	ListPosts(ctx context.Context, username string, opts instagram.ListOptions) (*instagram.Listing, error)
	MediaDetail(ctx context.Context, shortcode string) (*instagram.Media, error)
	SimilarProfiles(ctx context.Context, username string, limit int) ([]instagram.SimilarProfileRecord, error)
	BulkReels(ctx context.Context, username string, opts instagram.BulkOptions) ([]instagram.Media, error)
}

// Classifier is the categorisation surface; it never errors, it degrades.
type Classifier interface {
	CategorizeProfile(ctx context.Context, p *model.PrimaryProfile, sampleCaptions []string) model.Classification
	CategorizeBatch(ctx context.Context, items []model.Content) []model.Classification
}

// Result summarises one pipeline run for logging and API responses.
type Result struct {
	Username       string                 `json:"username"`
	ProfileID      string                 `json:"profile_id"`
	ContentSaved   int                    `json:"content_saved"`
	SecondarySaved int                    `json:"secondary_saved"`
	Integrity      *store.IntegrityReport `json:"integrity,omitempty"`
	Duration       time.Duration          `json:"duration"`
}

// Pipeline wires the scrape stages together.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	images     store.ImageStore
	ig         InstagramAPI
	classifier Classifier
	httpClient *http.Client

	// categorizePause separates LLM batches; tests shorten it.
	categorizePause time.Duration
	// similarStagger separates similar-branch downloads; tests shorten it.
	similarStagger time.Duration
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, images store.ImageStore, ig InstagramAPI, classifier Classifier) *Pipeline {
	return &Pipeline{
		cfg:             cfg,
		store:           st,
		images:          images,
		ig:              ig,
		classifier:      classifier,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		categorizePause: time.Second,
		similarStagger:  500 * time.Millisecond,
	}
}

// categorizeBatchSize is how many content items go to the LLM per call.
const categorizeBatchSize = 20

// RunComplete executes the full HIGH-priority scrape for one username:
// profile, reels and posts, metrics, categorisation, similar expansion,
// images, then the verified dual write.
func (p *Pipeline) RunComplete(ctx context.Context, username string) (*Result, error) {
	start := time.Now()
	username = store.NormalizeUsername(username)
	log := zap.L().With(zap.String("username", username))
	log.Info("pipeline: starting complete scrape")

	record, err := p.ig.Profile(ctx, username)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch profile %s", username)
	}
	profile := profileFromRecord(record)

	// The content branch and the similar branch hit different hosts, so
	// they run concurrently. The similar branch degrades on its own; only
	// the content branch can abort the run.
	var (
		content   []model.Content
		secondary []model.SecondaryProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		content, err = p.collectContent(gctx, username, true)
		if err != nil {
			return err
		}
		log.Info("pipeline: content collected", zap.Int("items", len(content)))
		p.applyMetrics(profile, content)
		p.categorizeAll(gctx, profile, content)
		return nil
	})
	g.Go(func() error {
		secondary = p.expandSimilar(gctx, username, record)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	profile.Similar = usernamesOf(secondary)

	p.acquireImages(ctx, profile, record.BestAvatarURL(), content)

	return p.persist(ctx, profile, content, secondary, start)
}

// RunLowPriority executes the cheaper discovery scrape: profile plus the
// bulk-reels provider, no posts and no similar expansion.
func (p *Pipeline) RunLowPriority(ctx context.Context, username string) (*Result, error) {
	start := time.Now()
	username = store.NormalizeUsername(username)
	log := zap.L().With(zap.String("username", username))
	log.Info("pipeline: starting low-priority scrape")

	record, err := p.ig.Profile(ctx, username)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch profile %s", username)
	}
	profile := profileFromRecord(record)

	medias, err := p.ig.BulkReels(ctx, username, instagram.BulkOptions{
		MaxReels: p.cfg.Instagram.BulkMaxReels,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: bulk reels %s", username)
	}
	content := p.contentFromMedia(username, medias)

	p.applyMetrics(profile, content)
	p.categorizeAll(ctx, profile, content)
	p.acquireImages(ctx, profile, record.BestAvatarURL(), content)

	return p.persist(ctx, profile, content, nil, start)
}

// RunPostsOnly refreshes posts for an already-scraped profile.
func (p *Pipeline) RunPostsOnly(ctx context.Context, username string) (*Result, error) {
	start := time.Now()
	username = store.NormalizeUsername(username)

	existing, err := p.store.GetPrimary(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Errorf("pipeline: posts-only scrape needs an existing profile: %s", username)
	}

	listing, err := p.collectPaged(ctx, username, p.ig.ListPosts)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch posts %s", username)
	}
	content := p.contentFromMedia(username, listing)
	content = p.dropKnown(ctx, username, content)
	p.enrichDetails(ctx, content)

	// Aggregates stay as the last full scrape computed them; a posts-only
	// page would misstate the reel medians.
	model.ScoreOutliers(content)
	p.categorizeContent(ctx, content)

	saved, err := p.store.SaveContentBatch(ctx, content)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: save posts %s", username)
	}
	if _, err := p.store.UpsertPrimary(ctx, existing); err != nil {
		return nil, err
	}
	return &Result{
		Username:     username,
		ProfileID:    existing.ID,
		ContentSaved: saved,
		Duration:     time.Since(start),
	}, nil
}

// FetchForViral pulls up to limit reels for a username into the store so the
// viral workflow can select from fresh rows. Returns the stored count.
func (p *Pipeline) FetchForViral(ctx context.Context, username string, limit int) (int, error) {
	username = store.NormalizeUsername(username)

	record, err := p.ig.Profile(ctx, username)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: viral fetch profile %s", username)
	}
	profile := profileFromRecord(record)

	var collected []instagram.Media
	opts := instagram.ListOptions{Count: limit}
	for len(collected) < limit {
		listing, err := p.ig.ListReels(ctx, username, opts)
		if err != nil {
			return 0, eris.Wrapf(err, "pipeline: viral fetch reels %s", username)
		}
		collected = append(collected, listing.Items...)
		if listing.NextPageToken == "" || len(listing.Items) == 0 {
			break
		}
		opts.PageToken = listing.NextPageToken
	}
	if len(collected) > limit {
		collected = collected[:limit]
	}

	content := p.contentFromMedia(username, collected)
	p.applyMetrics(profile, content)

	if _, err := p.store.UpsertPrimary(ctx, profile); err != nil {
		return 0, err
	}
	saved, err := p.store.SaveContentBatch(ctx, content)
	if err != nil {
		return saved, eris.Wrapf(err, "pipeline: viral save content %s", username)
	}
	return saved, nil
}

// persist runs the ordered dual write and its verification. A failed
// verification rolls everything back.
func (p *Pipeline) persist(ctx context.Context, profile *model.PrimaryProfile, content []model.Content, secondary []model.SecondaryProfile, start time.Time) (*Result, error) {
	log := zap.L().With(zap.String("username", profile.Username))

	now := time.Now().UTC()
	profile.LastFullScrape = &now
	profile.AnalysisTimestamp = &now

	ownerID, err := p.store.UpsertPrimary(ctx, profile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: persist primary")
	}

	contentSaved, err := p.store.SaveContentBatch(ctx, content)
	if err != nil {
		log.Error("pipeline: content write failed, rolling back", zap.Error(err))
		if rbErr := p.store.Rollback(ctx, ownerID, profile.Username); rbErr != nil {
			log.Error("pipeline: rollback failed", zap.Error(rbErr))
		}
		return nil, eris.Wrap(err, "pipeline: persist content")
	}

	secondarySaved := 0
	if len(secondary) > 0 {
		secondarySaved, err = p.store.UpsertSecondaryBatch(ctx, secondary, ownerID)
		if err != nil {
			log.Warn("pipeline: secondary batch degraded", zap.Error(err))
		}
	}

	// Verification compares against what the pipeline attempted, not what
	// the store reported saved, so a collapsed write cannot vouch for
	// itself.
	report, err := p.store.VerifyIntegrity(ctx, ownerID, len(content), len(secondary), profile.Username)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: verify integrity")
	}
	if !report.Success {
		log.Error("pipeline: integrity check failed, rolling back",
			zap.Strings("errors", report.Errors))
		if rbErr := p.store.Rollback(ctx, ownerID, profile.Username); rbErr != nil {
			log.Error("pipeline: rollback failed", zap.Error(rbErr))
		}
		return nil, eris.Errorf("pipeline: integrity check failed for %s", profile.Username)
	}
	for _, w := range report.Warnings {
		log.Warn("pipeline: integrity warning", zap.String("warning", w))
	}

	log.Info("pipeline: scrape persisted",
		zap.Int("content", contentSaved),
		zap.Int("secondary", secondarySaved),
		zap.Duration("took", time.Since(start)))

	return &Result{
		Username:       profile.Username,
		ProfileID:      ownerID,
		ContentSaved:   contentSaved,
		SecondarySaved: secondarySaved,
		Integrity:      report,
		Duration:       time.Since(start),
	}, nil
}

// collectContent pages reels (and optionally posts) for a username, then
// drops shortcodes the store already has.
func (p *Pipeline) collectContent(ctx context.Context, username string, includePosts bool) ([]model.Content, error) {
	reels, err := p.collectPaged(ctx, username, p.ig.ListReels)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch reels %s", username)
	}
	medias := reels

	if includePosts {
		posts, err := p.collectPaged(ctx, username, p.ig.ListPosts)
		if err != nil {
			// Posts are additive; a reel-only result still counts.
			zap.L().Warn("pipeline: posts fetch degraded",
				zap.String("username", username), zap.Error(err))
		} else {
			medias = append(medias, posts...)
		}
	}

	content := p.contentFromMedia(username, medias)
	content = p.dropKnown(ctx, username, content)
	p.enrichDetails(ctx, content)
	return content, nil
}

// enrichDetails upgrades listing rows with the per-post detail endpoint,
// which is the only one that reports carousel children reliably. Items run
// through the adaptive batcher; a failed item keeps its listing values.
func (p *Pipeline) enrichDetails(ctx context.Context, content []model.Content) {
	if len(content) == 0 {
		return
	}

	byShortcode := make(map[string]*model.Content, len(content))
	codes := make([]string, 0, len(content))
	for i := range content {
		byShortcode[content[i].Shortcode] = &content[i]
		codes = append(codes, content[i].Shortcode)
	}

	var mu sync.Mutex
	stats, err := NewBatcher().Run(ctx, codes, func(ctx context.Context, code string) error {
		media, err := p.ig.MediaDetail(ctx, code)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		c := byShortcode[code]
		c.Kind = model.ContentKind(media.Kind())
		c.Style = model.ContentStyle(media.Style())
		if n := media.ChildCount(); n > 0 {
			c.CarouselMediaCount = n
		}
		if url := media.BestImageURL(); url != "" {
			c.ThumbSource = url
		}
		if d := media.Description(); d != "" {
			c.Description = d
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("pipeline: detail enrichment aborted", zap.Error(err))
		return
	}
	zap.L().Debug("pipeline: detail enrichment finished",
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("final_batch", stats.FinalSize))
}

type pagedLister func(ctx context.Context, username string, opts instagram.ListOptions) (*instagram.Listing, error)

func (p *Pipeline) collectPaged(ctx context.Context, username string, list pagedLister) ([]instagram.Media, error) {
	var out []instagram.Media
	opts := instagram.ListOptions{Count: p.cfg.Instagram.MaxContent}
	for {
		listing, err := list(ctx, username, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, listing.Items...)
		if listing.NextPageToken == "" || len(listing.Items) == 0 {
			break
		}
		if p.cfg.Instagram.MaxContent > 0 && len(out) >= p.cfg.Instagram.MaxContent {
			break
		}
		opts.PageToken = listing.NextPageToken
	}
	if p.cfg.Instagram.MaxContent > 0 && len(out) > p.cfg.Instagram.MaxContent {
		out = out[:p.cfg.Instagram.MaxContent]
	}
	return out, nil
}

func (p *Pipeline) contentFromMedia(username string, medias []instagram.Media) []model.Content {
	out := make([]model.Content, 0, len(medias))
	for i := range medias {
		m := &medias[i]
		shortcode := m.ShortcodeValue()
		if shortcode == "" {
			continue
		}
		out = append(out, model.Content{
			ContentID:          firstNonEmpty(m.IDValue(), shortcode),
			Shortcode:          shortcode,
			ProfileOwner:       username,
			Kind:               model.ContentKind(m.Kind()),
			Style:              model.ContentStyle(m.Style()),
			URL:                "https://www.instagram.com/p/" + shortcode + "/",
			Description:        m.Description(),
			ViewCount:          m.Plays(),
			LikeCount:          m.LikeCount,
			CommentCount:       m.CommentCount,
			CarouselMediaCount: m.ChildCount(),
			DatePosted:         m.PostedAt(),
			ThumbSource:        m.BestImageURL(),
		})
	}
	return out
}

func (p *Pipeline) dropKnown(ctx context.Context, username string, content []model.Content) []model.Content {
	known, err := p.store.ExistingShortcodes(ctx, username)
	if err != nil {
		zap.L().Warn("pipeline: existing shortcode lookup failed",
			zap.String("username", username), zap.Error(err))
		return content
	}
	if len(known) == 0 {
		return content
	}
	kept := content[:0:0]
	for _, c := range content {
		if !known[c.Shortcode] {
			kept = append(kept, c)
		}
	}
	return kept
}

// applyMetrics computes aggregate stats and outlier scores in place.
func (p *Pipeline) applyMetrics(profile *model.PrimaryProfile, content []model.Content) {
	profile.Metrics = model.Aggregate(content)
	model.ScoreOutliers(content)
}

// categorizeAll classifies the profile and its content.
func (p *Pipeline) categorizeAll(ctx context.Context, profile *model.PrimaryProfile, content []model.Content) {
	captions := make([]string, 0, 10)
	for _, c := range content {
		if c.Description != "" {
			captions = append(captions, c.Description)
		}
		if len(captions) == 10 {
			break
		}
	}
	cl := p.classifier.CategorizeProfile(ctx, profile, captions)
	profile.PrimaryCategory = cl.Primary
	profile.SecondaryCategory = cl.Secondary
	profile.TertiaryCategory = cl.Tertiary

	p.categorizeContent(ctx, content)
}

// categorizeContent classifies content in fixed-size batches with a pause
// between calls so the LLM vendor is not hammered.
func (p *Pipeline) categorizeContent(ctx context.Context, content []model.Content) {
	for lo := 0; lo < len(content); lo += categorizeBatchSize {
		hi := min(lo+categorizeBatchSize, len(content))
		batch := content[lo:hi]

		results := p.classifier.CategorizeBatch(ctx, batch)
		for i := range batch {
			batch[i].ApplyClassification(results[i])
		}

		if hi < len(content) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.categorizePause):
			}
		}
	}
}

func profileFromRecord(r *instagram.ProfileRecord) *model.PrimaryProfile {
	accountType := model.AccountTypePersonal
	switch {
	case r.IsBusiness:
		accountType = model.AccountTypeBusiness
	case r.IsVerified && r.Followers >= 10000:
		accountType = model.AccountTypeInfluencer
	}
	return &model.PrimaryProfile{
		Username:    store.NormalizeUsername(r.Username),
		DisplayName: r.FullName,
		Bio:         r.Biography,
		Followers:   r.Followers,
		PostsCount:  r.MediaCount,
		IsVerified:  r.IsVerified,
		AccountType: accountType,
	}
}

func usernamesOf(secondary []model.SecondaryProfile) []string {
	if len(secondary) == 0 {
		return nil
	}
	out := make([]string, 0, len(secondary))
	for _, s := range secondary {
		out = append(out, s.Username)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
