package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/viralscope/viralscope/internal/store"
)

// feedSortColumns maps public sort keys onto the store's sort vocabulary.
var feedSortColumns = map[string]string{
	"popular":            "popular",
	"views":              "views",
	"likes":              "likes",
	"comments":           "comments",
	"recent":             "recent",
	"oldest":             "oldest",
	"followers":          "followers",
	"account_engagement": "account",
	"content_engagement": "engagement",
}

// dateRanges maps the date_range param onto a posted-after cutoff.
var dateRanges = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

// contentView is a feed row with its image URLs minted.
type contentView struct {
	store.ContentRow
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DisplayURL      string `json:"display_url,omitempty"`
}

type feedPage struct {
	Reels      []contentView `json:"reels"`
	IsLastPage bool          `json:"isLastPage"`
}

func (s *Server) handleReels(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, false)
}

// handlePosts is the reels feed restricted to posts, with a likes-centric
// default ordering.
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, true)
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, posts bool) {
	filter, err := s.parseContentFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if posts {
		filter.ContentTypes = []string{"post"}
		if filter.SortBy == "" {
			filter.SortBy = "likes"
		}
	}

	rows, hasMore, err := s.store.ListContent(r.Context(), filter)
	if err != nil {
		internalError(w, "list content", err)
		return
	}
	respond(w, http.StatusOK, feedPage{
		Reels:      s.contentViews(rows),
		IsLastPage: !hasMore,
	})
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.store.FilterOptions(r.Context())
	if err != nil {
		internalError(w, "filter options", err)
		return
	}
	respond(w, http.StatusOK, struct {
		*store.FilterOptions
		ContentStyles []string `json:"content_styles"`
	}{opts, []string{"video", "image", "carousel_image", "carousel_video"}})
}

func (s *Server) parseContentFilter(q url.Values) (store.ContentFilter, error) {
	f := store.ContentFilter{
		Search:              q.Get("search"),
		PrimaryCategories:   splitCSV(q.Get("primary_categories")),
		SecondaryCategories: splitCSV(q.Get("secondary_categories")),
		TertiaryCategories:  splitCSV(q.Get("tertiary_categories")),
		Keywords:            splitCSV(q.Get("keywords")),
		ContentTypes:        splitCSV(q.Get("content_types")),
		ContentStyles:       splitCSV(q.Get("content_styles")),
		Languages:           splitCSV(q.Get("languages")),
		AccountTypes:        splitCSV(q.Get("account_types")),
		ExcludeUsernames:    splitCSV(q.Get("excluded_usernames")),
		Limit:               24,
	}

	var err error
	if f.MinOutlierScore, err = queryFloat(q, "min_outlier_score"); err != nil {
		return f, err
	}
	if f.MaxOutlierScore, err = queryFloat(q, "max_outlier_score"); err != nil {
		return f, err
	}
	if f.MinViews, err = queryInt64(q, "min_views"); err != nil {
		return f, err
	}
	if f.MaxViews, err = queryInt64(q, "max_views"); err != nil {
		return f, err
	}
	if f.MinLikes, err = queryInt64(q, "min_likes"); err != nil {
		return f, err
	}
	if f.MaxLikes, err = queryInt64(q, "max_likes"); err != nil {
		return f, err
	}
	if f.MinComments, err = queryInt64(q, "min_comments"); err != nil {
		return f, err
	}
	if f.MaxComments, err = queryInt64(q, "max_comments"); err != nil {
		return f, err
	}
	if f.MinFollowers, err = queryInt64(q, "min_followers"); err != nil {
		return f, err
	}
	if f.MaxFollowers, err = queryInt64(q, "max_followers"); err != nil {
		return f, err
	}

	if raw := q.Get("is_verified"); raw != "" {
		verified, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("is_verified must be a boolean")
		}
		f.IsVerified = &verified
	}

	switch dr := q.Get("date_range"); dr {
	case "", "all":
	default:
		span, ok := dateRanges[dr]
		if !ok {
			return f, fmt.Errorf("unknown date_range %q", dr)
		}
		after := time.Now().Add(-span)
		f.PostedAfter = &after
	}

	if sortBy := q.Get("sort_by"); sortBy != "" {
		column, ok := feedSortColumns[sortBy]
		if !ok {
			return f, fmt.Errorf("unknown sort_by %q", sortBy)
		}
		f.SortBy = column
	}
	if random, _ := strconv.ParseBool(q.Get("random_order")); random {
		f.SortBy = "random"
		f.RandomSeed = s.sessionSeed(q.Get("session_id"))
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		if limit > 100 {
			limit = 100
		}
		f.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = offset
	}
	return f, nil
}

func (s *Server) contentViews(rows []store.ContentRow) []contentView {
	out := make([]contentView, 0, len(rows))
	for _, row := range rows {
		v := contentView{ContentRow: row}
		if row.ProfileImageKey != "" {
			v.ProfileImageURL = s.images.PublicURL(store.BucketProfileImages, row.ProfileImageKey)
		}
		if row.ThumbKey != "" {
			v.ThumbnailURL = s.images.PublicURL(store.BucketContentThumbnails, row.ThumbKey)
		}
		if row.DisplayKey != "" {
			v.DisplayURL = s.images.PublicURL(store.BucketContentThumbnails, row.DisplayKey)
		}
		out = append(out, v)
	}
	return out
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func queryInt64(q url.Values, key string) (int64, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func queryFloat(q url.Values, key string) (float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", key)
	}
	return n, nil
}
