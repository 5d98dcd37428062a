package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/resilience"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/pkg/instagram"
)

const maxAvatarBytes = 8 << 20

type profileView struct {
	*model.PrimaryProfile
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	profile, err := s.store.GetPrimary(r.Context(), username)
	if err != nil {
		internalError(w, "get profile", err)
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "Profile not found")
		return
	}

	view := profileView{PrimaryProfile: profile}
	if profile.ImageKey != "" {
		view.ProfileImageURL = s.images.PublicURL(store.BucketProfileImages, profile.ImageKey)
	}
	respond(w, http.StatusOK, view)
}

func (s *Server) handleProfileReels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := chi.URLParam(r, "username")

	sortBy := "popular"
	if raw := q.Get("sort_by"); raw != "" {
		column, ok := feedSortColumns[raw]
		if !ok {
			respondError(w, http.StatusUnprocessableEntity, "unknown sort_by "+strconv.Quote(raw))
			return
		}
		sortBy = column
	}
	limit, err := boundedInt(q.Get("limit"), 24, 100)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
		return
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rows, hasMore, err := s.store.ProfileContent(r.Context(), username, sortBy, limit, offset)
	if err != nil {
		internalError(w, "profile content", err)
		return
	}
	respond(w, http.StatusOK, feedPage{
		Reels:      s.contentViews(rows),
		IsLastPage: !hasMore,
	})
}

// similarView is a discovered profile with a similarity score that decays
// with rank.
type similarView struct {
	model.SecondaryProfile
	ImageURL string `json:"image_url,omitempty"`
	Score    int    `json:"score"`
}

func (s *Server) handleProfileSimilar(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	limit, err := boundedInt(r.URL.Query().Get("limit"), 20, 80)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 80")
		return
	}

	profiles, err := s.store.ListSecondariesBy(r.Context(), username, limit)
	if err != nil {
		internalError(w, "similar profiles", err)
		return
	}

	views := make([]similarView, 0, len(profiles))
	for i, p := range profiles {
		v := similarView{SecondaryProfile: p, Score: 100 - i*2}
		if v.Score < 1 {
			v.Score = 1
		}
		if p.ImageKey != "" {
			v.ImageURL = s.images.PublicURL(store.BucketProfileImages, p.ImageKey)
		}
		views = append(views, v)
	}
	respond(w, http.StatusOK, views)
}

func (s *Server) handleSecondary(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.GetSecondary(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		internalError(w, "get secondary", err)
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "Profile not found")
		return
	}
	respond(w, http.StatusOK, profile)
}

type requestOutcome struct {
	Queued        bool   `json:"queued"`
	Message       string `json:"message"`
	EstimatedTime string `json:"estimated_time"`
}

// handleProfileRequest enqueues a HIGH priority scrape. It is idempotent:
// an existing profile or a live queue item short-circuits without a new row.
func (s *Server) handleProfileRequest(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "frontend"
	}

	profile, err := s.store.GetPrimary(r.Context(), username)
	if err != nil {
		internalError(w, "get profile", err)
		return
	}
	if profile != nil {
		respond(w, http.StatusOK, requestOutcome{
			Queued:        false,
			Message:       "Profile already exists",
			EstimatedTime: "0 minutes",
		})
		return
	}

	item, err := s.store.QueueItemFor(r.Context(), username)
	if err != nil {
		internalError(w, "queue lookup", err)
		return
	}
	if item != nil && !item.Status.Terminal() {
		respond(w, http.StatusOK, requestOutcome{
			Queued:        true,
			Message:       "Profile is already queued",
			EstimatedTime: "2-5 minutes",
		})
		return
	}

	queued, err := s.store.Enqueue(r.Context(), &model.QueueItem{
		Username: username,
		Source:   source,
		Priority: model.PriorityHigh,
	})
	if err != nil {
		internalError(w, "enqueue", err)
		return
	}
	respond(w, http.StatusAccepted, requestOutcome{
		Queued:        queued,
		Message:       "Profile queued for scraping",
		EstimatedTime: "2-5 minutes",
	})
}

type statusOutcome struct {
	Completed bool   `json:"completed"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Attempts  int    `json:"attempts,omitempty"`
}

var queueStatusMessages = map[model.QueueStatus]string{
	model.StatusPending:    "Profile is pending",
	model.StatusProcessing: "Profile is being scraped",
	model.StatusCompleted:  "Profile is ready",
	model.StatusFailed:     "Profile scrape failed",
	model.StatusPaused:     "Profile scrape is paused",
}

func (s *Server) handleProfileStatus(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	profile, err := s.store.GetPrimary(r.Context(), username)
	if err != nil {
		internalError(w, "get profile", err)
		return
	}
	if profile != nil {
		respond(w, http.StatusOK, statusOutcome{
			Completed: true, Status: "completed", Message: "Profile is ready",
		})
		return
	}

	item, err := s.store.QueueItemFor(r.Context(), username)
	if err != nil {
		internalError(w, "queue lookup", err)
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "Profile was never requested")
		return
	}
	respond(w, http.StatusOK, statusOutcome{
		Completed: item.Status == model.StatusCompleted,
		Status:    string(item.Status),
		Message:   queueStatusMessages[item.Status],
		Attempts:  item.Attempts,
	})
}

// similarFastView is one cached similar profile.
type similarFastView struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Rank     int    `json:"rank"`
	ImageURL string `json:"image_url,omitempty"`
}

// handleSimilarFast serves similar profiles from the 24h cache, refreshing
// from the vendor on a miss or when force_refresh is set. Avatars are
// backfilled in the background so the response is never blocked on images.
func (s *Server) handleSimilarFast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := chi.URLParam(r, "username")
	limit, err := boundedInt(q.Get("limit"), 20, 80)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 80")
		return
	}
	forceRefresh, _ := strconv.ParseBool(q.Get("force_refresh"))

	if !forceRefresh {
		cached, err := s.store.CachedSimilar(r.Context(), username, limit, model.SimilarCacheTTL)
		if err != nil {
			internalError(w, "similar cache", err)
			return
		}
		if len(cached) > 0 {
			respond(w, http.StatusOK, s.similarFastViews(cached))
			return
		}
	}

	records, err := s.ig.SimilarProfiles(r.Context(), username, limit)
	if err != nil {
		internalError(w, "similar fetch", err)
		return
	}

	batchID := uuid.NewString()
	entries := make([]model.SimilarCacheEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, model.SimilarCacheEntry{
			PrimaryUsername: username,
			SimilarUsername: rec.Username,
			Name:            rec.FullName,
			Rank:            rec.Rank,
			BatchID:         batchID,
		})
	}
	if err := s.store.ReplaceSimilarCache(r.Context(), username, entries); err != nil {
		internalError(w, "similar cache write", err)
		return
	}
	go s.backfillSimilarAvatars(username, batchID, records)

	respond(w, http.StatusOK, s.similarFastViews(entries))
}

func (s *Server) similarFastViews(entries []model.SimilarCacheEntry) []similarFastView {
	out := make([]similarFastView, 0, len(entries))
	for _, e := range entries {
		v := similarFastView{
			Username: e.SimilarUsername,
			Name:     e.Name,
			Rank:     e.Rank,
		}
		if e.ImageKey != "" {
			v.ImageURL = s.images.PublicURL(store.BucketProfileImages, e.ImageKey)
		}
		out = append(out, v)
	}
	return out
}

// backfillSimilarAvatars downloads avatars for a freshly cached batch and
// marks each row downloaded. Failures leave the row without an image.
func (s *Server) backfillSimilarAvatars(primary, batchID string, records []instagram.SimilarProfileRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, rec := range records {
		if rec.AvatarURL == "" {
			continue
		}
		key := store.SimilarImageKey(primary, rec.Username)
		data, err := s.fetchImage(ctx, rec.AvatarURL)
		if err == nil {
			_, err = s.images.UploadImage(ctx, store.BucketProfileImages, key, data)
		}
		if err != nil {
			zap.L().Debug("api: similar avatar backfill failed",
				zap.String("username", rec.Username), zap.Error(err))
			continue
		}
		entry := &model.SimilarCacheEntry{
			PrimaryUsername: primary,
			SimilarUsername: rec.Username,
			Name:            rec.FullName,
			ImageKey:        key,
			Rank:            rec.Rank,
			BatchID:         batchID,
			ImageDownloaded: true,
		}
		if err := s.store.UpsertSimilarCacheEntry(ctx, entry); err != nil {
			zap.L().Debug("api: similar cache update failed",
				zap.String("username", rec.Username), zap.Error(err))
		}
	}
}

// handleAddCompetitor manually places one account into a primary's similar
// cache: minimal profile fetch, avatar upload, cache upsert.
func (s *Server) handleAddCompetitor(w http.ResponseWriter, r *http.Request) {
	primary := chi.URLParam(r, "username")
	target := chi.URLParam(r, "target")

	rec, err := s.ig.Profile(r.Context(), target)
	if err != nil {
		if resilience.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Target profile not found")
			return
		}
		internalError(w, "competitor profile fetch", err)
		return
	}

	entry := &model.SimilarCacheEntry{
		PrimaryUsername: primary,
		SimilarUsername: rec.Username,
		Name:            rec.FullName,
		BatchID:         "manual",
	}
	if avatarURL := rec.BestAvatarURL(); avatarURL != "" {
		key := store.SimilarImageKey(primary, rec.Username)
		data, err := s.fetchImage(r.Context(), avatarURL)
		if err == nil {
			_, err = s.images.UploadImage(r.Context(), store.BucketProfileImages, key, data)
		}
		if err != nil {
			zap.L().Warn("api: competitor avatar upload failed",
				zap.String("username", rec.Username), zap.Error(err))
		} else {
			entry.ImageKey = key
			entry.ImageDownloaded = true
		}
	}

	if err := s.store.UpsertSimilarCacheEntry(r.Context(), entry); err != nil {
		internalError(w, "competitor cache write", err)
		return
	}
	respondMessage(w, http.StatusOK, s.similarFastViews([]model.SimilarCacheEntry{*entry})[0],
		"Competitor added")
}

func (s *Server) fetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "api: build image request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "api: fetch image")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("api: fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return nil, eris.Wrap(err, "api: read image body")
	}
	if len(data) == 0 {
		return nil, eris.New("api: empty image body")
	}
	return data, nil
}

// boundedInt parses an optional positive integer with an upper clamp.
func boundedInt(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, eris.New("api: invalid limit")
	}
	if n > max {
		n = max
	}
	return n, nil
}
