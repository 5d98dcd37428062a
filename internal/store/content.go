package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
)

// ContentFilter is the query surface of the content feed. Zero values mean
// "no constraint"; Limit defaults to 24 and is capped at 100.
type ContentFilter struct {
	Search              string
	PrimaryCategories   []string
	SecondaryCategories []string
	TertiaryCategories  []string
	Keywords            []string
	Username            string
	ContentTypes        []string
	ContentStyles       []string
	Languages           []string
	MinOutlierScore     float64
	MaxOutlierScore     float64
	MinViews            int64
	MaxViews            int64
	MinLikes            int64
	MaxLikes            int64
	MinComments         int64
	MaxComments         int64
	MinFollowers        int64
	MaxFollowers        int64
	IsVerified          *bool
	AccountTypes        []string
	PostedAfter         *time.Time
	PostedBefore        *time.Time
	ExcludeUsernames    []string
	SortBy              string
	Limit               int
	Offset              int
	RandomSeed          string
}

// ContentRow is a content record joined with its owner's profile fields,
// shaped for API responses.
type ContentRow struct {
	model.Content
	ProfileName     string            `json:"profile_name"`
	ProfileImageKey string            `json:"profile_image_key,omitempty"`
	Followers       int64             `json:"followers"`
	IsVerified      bool              `json:"is_verified"`
	AccountType     model.AccountType `json:"account_type"`
}

// FilterOptions enumerates the distinct values the feed can filter on.
type FilterOptions struct {
	PrimaryCategories   []string `json:"primary_categories"`
	SecondaryCategories []string `json:"secondary_categories"`
	TertiaryCategories  []string `json:"tertiary_categories"`
	Keywords            []string `json:"keywords"`
	Usernames           []string `json:"usernames"`
	ContentTypes        []string `json:"content_types"`
	Languages           []string `json:"languages"`
	AccountTypes        []string `json:"account_types"`
}

// contentSortColumns maps public sort keys onto ORDER BY clauses. Engagement
// sorts use likes plus comments; "random" is seeded so pagination stays
// stable within one browsing session.
var contentSortColumns = map[string]string{
	"popular":    "c.outlier_score DESC, c.view_count DESC",
	"views":      "c.view_count DESC",
	"likes":      "c.like_count DESC",
	"comments":   "c.comment_count DESC",
	"engagement": "(c.like_count + c.comment_count) DESC",
	"recent":     "c.date_posted DESC NULLS LAST",
	"oldest":     "c.date_posted ASC NULLS LAST",
	"followers":  "p.followers DESC",
	"account":    "c.username ASC, c.date_posted DESC",
}

const contentSelectCols = `c.content_id, c.shortcode, c.username, c.content_type,
	c.content_style, c.url, c.description, c.thumbnail_key, c.display_key,
	c.view_count, c.like_count, c.comment_count, c.carousel_media_count,
	c.date_posted, c.outlier_score, c.primary_category, c.secondary_category,
	c.tertiary_category, c.keyword_1, c.keyword_2, c.keyword_3, c.keyword_4,
	c.confidence, c.language, c.transcript_available, c.created_at,
	p.display_name, p.image_key, p.followers, p.is_verified, p.account_type`

// SaveContentBatch upserts content rows keyed by shortcode. Before writing,
// duplicates within the batch are dropped by shortcode and by content id
// (first occurrence wins), and rows whose shortcode is already stored under a
// different content id are skipped so a collision cannot reassign an existing
// row. A failed batch falls back to per-row upserts. Returns rows written,
// with an error when fewer than max(1, 10%) survived.
func (s *Postgres) SaveContentBatch(ctx context.Context, items []model.Content) (int, error) {
	items = dedupeContent(items)
	if len(items) == 0 {
		return 0, nil
	}
	items = s.dropReassigned(ctx, items)
	if len(items) == 0 {
		return 0, nil
	}

	if err := s.execContentBatch(ctx, items); err == nil {
		return len(items), nil
	} else {
		zap.L().Warn("content batch write failed, retrying per row",
			zap.Int("batch_size", len(items)), zap.Error(err))
	}

	saved := 0
	for i := range items {
		if err := s.upsertContent(ctx, &items[i]); err != nil {
			zap.L().Warn("content row upsert failed",
				zap.String("shortcode", items[i].Shortcode), zap.Error(err))
			continue
		}
		saved++
	}

	threshold := len(items) / 10
	if threshold < 1 {
		threshold = 1
	}
	if saved < threshold {
		return saved, eris.Errorf("postgres: content batch collapsed: %d of %d saved", saved, len(items))
	}
	return saved, nil
}

const contentUpsertSQL = `INSERT INTO content
	(content_id, shortcode, username, content_type, content_style, url,
	 description, thumbnail_key, display_key, view_count, like_count,
	 comment_count, carousel_media_count, date_posted, outlier_score,
	 primary_category, secondary_category, tertiary_category,
	 keyword_1, keyword_2, keyword_3, keyword_4, confidence, language)
	VALUES (%s)
	ON CONFLICT (shortcode) DO UPDATE SET
	  view_count = EXCLUDED.view_count, like_count = EXCLUDED.like_count,
	  comment_count = EXCLUDED.comment_count,
	  outlier_score = EXCLUDED.outlier_score,
	  description = EXCLUDED.description,
	  thumbnail_key = CASE WHEN EXCLUDED.thumbnail_key <> '' THEN EXCLUDED.thumbnail_key ELSE content.thumbnail_key END,
	  primary_category = CASE WHEN EXCLUDED.primary_category <> '' THEN EXCLUDED.primary_category ELSE content.primary_category END,
	  secondary_category = CASE WHEN EXCLUDED.secondary_category <> '' THEN EXCLUDED.secondary_category ELSE content.secondary_category END,
	  tertiary_category = CASE WHEN EXCLUDED.tertiary_category <> '' THEN EXCLUDED.tertiary_category ELSE content.tertiary_category END,
	  keyword_1 = CASE WHEN EXCLUDED.keyword_1 <> '' THEN EXCLUDED.keyword_1 ELSE content.keyword_1 END,
	  keyword_2 = CASE WHEN EXCLUDED.keyword_2 <> '' THEN EXCLUDED.keyword_2 ELSE content.keyword_2 END,
	  keyword_3 = CASE WHEN EXCLUDED.keyword_3 <> '' THEN EXCLUDED.keyword_3 ELSE content.keyword_3 END,
	  keyword_4 = CASE WHEN EXCLUDED.keyword_4 <> '' THEN EXCLUDED.keyword_4 ELSE content.keyword_4 END,
	  confidence = GREATEST(EXCLUDED.confidence, content.confidence),
	  language = CASE WHEN EXCLUDED.language <> '' THEN EXCLUDED.language ELSE content.language END,
	  updated_at = now()`

func contentArgs(c *model.Content) []any {
	return []any{
		c.ContentID, c.Shortcode, NormalizeUsername(c.ProfileOwner),
		string(c.Kind), string(c.Style), c.URL, c.Description,
		c.ThumbKey, c.DisplayKey, c.ViewCount, c.LikeCount, c.CommentCount,
		c.CarouselMediaCount, nullableTime(c.DatePosted), c.OutlierScore,
		c.PrimaryCategory, c.SecondaryCategory, c.TertiaryCategory,
		c.Keyword1, c.Keyword2, c.Keyword3, c.Keyword4,
		c.Confidence, c.Language,
	}
}

func (s *Postgres) execContentBatch(ctx context.Context, items []model.Content) error {
	const cols = 24
	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*cols)
	for i := range items {
		ph := make([]string, cols)
		for j := 0; j < cols; j++ {
			ph[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args, contentArgs(&items[i])...)
	}

	// The template's VALUES (%s) slot takes the full row list, parenthesised
	// per row, so the ON CONFLICT clause applies to every row.
	sql := fmt.Sprintf(strings.Replace(contentUpsertSQL, "(%s)", "%s", 1), strings.Join(values, ", "))
	_, err := s.pool.Exec(ctx, sql, args...)
	return eris.Wrap(err, "postgres: content batch upsert")
}

func (s *Postgres) upsertContent(ctx context.Context, c *model.Content) error {
	placeholders := make([]string, 24)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(contentUpsertSQL, strings.Join(placeholders, ", ")),
		contentArgs(c)...)
	return eris.Wrapf(err, "postgres: upsert content %s", c.Shortcode)
}

func dedupeContent(items []model.Content) []model.Content {
	seenCode := make(map[string]bool, len(items))
	seenID := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, c := range items {
		if c.Shortcode == "" || seenCode[c.Shortcode] {
			continue
		}
		if c.ContentID != "" && seenID[c.ContentID] {
			continue
		}
		seenCode[c.Shortcode] = true
		if c.ContentID != "" {
			seenID[c.ContentID] = true
		}
		out = append(out, c)
	}
	return out
}

// dropReassigned removes rows whose shortcode is already stored under a
// different content id. When the lookup itself fails the batch proceeds
// unfiltered and the upsert's conflict handling takes over.
func (s *Postgres) dropReassigned(ctx context.Context, items []model.Content) []model.Content {
	codes := make([]string, 0, len(items))
	for _, c := range items {
		codes = append(codes, c.Shortcode)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT shortcode, content_id FROM content WHERE shortcode = ANY($1)`, codes)
	if err != nil {
		zap.L().Warn("content id lookup failed, batch proceeds unfiltered", zap.Error(err))
		return items
	}
	defer rows.Close()

	existing := make(map[string]string)
	for rows.Next() {
		var sc, id string
		if err := rows.Scan(&sc, &id); err != nil {
			zap.L().Warn("content id scan failed, batch proceeds unfiltered", zap.Error(err))
			return items
		}
		existing[sc] = id
	}
	if err := rows.Err(); err != nil {
		zap.L().Warn("content id lookup failed, batch proceeds unfiltered", zap.Error(err))
		return items
	}

	kept := items[:0:0]
	for _, c := range items {
		if id, ok := existing[c.Shortcode]; ok && id != c.ContentID {
			zap.L().Warn("shortcode stored under a different content id, skipping",
				zap.String("shortcode", c.Shortcode),
				zap.String("stored_id", id),
				zap.String("incoming_id", c.ContentID))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// ExistingShortcodes returns the shortcodes already stored for a profile,
// used to skip re-fetching detail for known content.
func (s *Postgres) ExistingShortcodes(ctx context.Context, username string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT shortcode FROM content WHERE username = $1`,
		NormalizeUsername(username))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing shortcodes")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var sc string
		if err := rows.Scan(&sc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan shortcode")
		}
		out[sc] = true
	}
	return out, eris.Wrap(rows.Err(), "postgres: existing shortcodes iterate")
}

// ListContent runs the filtered feed query. The second return reports
// whether another page exists past the requested window.
func (s *Postgres) ListContent(ctx context.Context, f ContentFilter) ([]ContentRow, bool, error) {
	where, args := buildContentWhere(f)

	limit := f.Limit
	if limit <= 0 {
		limit = 24
	}
	if limit > 100 {
		limit = 100
	}

	order, ok := contentSortColumns[f.SortBy]
	if !ok {
		if f.SortBy == "random" {
			// md5 of seed+id is stable for a fixed seed, so page N+1
			// continues the same shuffle.
			args = append(args, f.RandomSeed)
			order = fmt.Sprintf("md5($%d || c.content_id)", len(args))
		} else {
			order = contentSortColumns["popular"]
		}
	}

	args = append(args, limit+1)
	query := fmt.Sprintf(
		`SELECT %s FROM content c JOIN primary_profiles p ON p.username = c.username
		 %s ORDER BY %s LIMIT $%d`,
		contentSelectCols, where, order, len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: list content")
	}
	defer rows.Close()

	out, err := scanContentRows(rows)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func buildContentWhere(f ContentFilter) (string, []any) {
	conds := []string{"true"}
	var args []any

	add := func(cond string, vals ...any) {
		start := len(args)
		args = append(args, vals...)
		refs := make([]any, len(vals))
		for i := range vals {
			refs[i] = start + i + 1
		}
		conds = append(conds, fmt.Sprintf(cond, refs...))
	}

	if f.Search != "" {
		add(`(c.description ILIKE '%%' || $%d || '%%' OR c.username ILIKE '%%' || $%d || '%%')`,
			f.Search, f.Search)
	}
	if len(f.PrimaryCategories) > 0 {
		add(`c.primary_category = ANY($%d)`, f.PrimaryCategories)
	}
	if len(f.SecondaryCategories) > 0 {
		add(`c.secondary_category = ANY($%d)`, f.SecondaryCategories)
	}
	if len(f.TertiaryCategories) > 0 {
		add(`c.tertiary_category = ANY($%d)`, f.TertiaryCategories)
	}
	if len(f.Keywords) > 0 {
		add(`ARRAY[c.keyword_1, c.keyword_2, c.keyword_3, c.keyword_4] && $%d`, f.Keywords)
	}
	if f.Username != "" {
		add(`c.username = $%d`, NormalizeUsername(f.Username))
	}
	if len(f.ContentTypes) > 0 {
		add(`c.content_type = ANY($%d)`, f.ContentTypes)
	}
	if len(f.ContentStyles) > 0 {
		add(`c.content_style = ANY($%d)`, f.ContentStyles)
	}
	if len(f.Languages) > 0 {
		add(`c.language = ANY($%d)`, f.Languages)
	}
	if f.MinOutlierScore > 0 {
		add(`c.outlier_score >= $%d`, f.MinOutlierScore)
	}
	if f.MaxOutlierScore > 0 {
		add(`c.outlier_score <= $%d`, f.MaxOutlierScore)
	}
	if f.MinViews > 0 {
		add(`c.view_count >= $%d`, f.MinViews)
	}
	if f.MaxViews > 0 {
		add(`c.view_count <= $%d`, f.MaxViews)
	}
	if f.MinLikes > 0 {
		add(`c.like_count >= $%d`, f.MinLikes)
	}
	if f.MaxLikes > 0 {
		add(`c.like_count <= $%d`, f.MaxLikes)
	}
	if f.MinComments > 0 {
		add(`c.comment_count >= $%d`, f.MinComments)
	}
	if f.MaxComments > 0 {
		add(`c.comment_count <= $%d`, f.MaxComments)
	}
	if f.MinFollowers > 0 {
		add(`p.followers >= $%d`, f.MinFollowers)
	}
	if f.MaxFollowers > 0 {
		add(`p.followers <= $%d`, f.MaxFollowers)
	}
	if f.IsVerified != nil {
		add(`p.is_verified = $%d`, *f.IsVerified)
	}
	if len(f.AccountTypes) > 0 {
		add(`p.account_type = ANY($%d)`, f.AccountTypes)
	}
	if f.PostedAfter != nil {
		add(`c.date_posted >= $%d`, *f.PostedAfter)
	}
	if f.PostedBefore != nil {
		add(`c.date_posted <= $%d`, *f.PostedBefore)
	}
	if len(f.ExcludeUsernames) > 0 {
		lower := make([]string, 0, len(f.ExcludeUsernames))
		for _, u := range f.ExcludeUsernames {
			lower = append(lower, NormalizeUsername(u))
		}
		add(`NOT (c.username = ANY($%d))`, lower)
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanContentRows(rows pgx.Rows) ([]ContentRow, error) {
	var out []ContentRow
	for rows.Next() {
		var r ContentRow
		var kind, style, accountType string
		var datePosted *time.Time
		if err := rows.Scan(&r.ContentID, &r.Shortcode, &r.ProfileOwner,
			&kind, &style, &r.URL, &r.Description, &r.ThumbKey, &r.DisplayKey,
			&r.ViewCount, &r.LikeCount, &r.CommentCount, &r.CarouselMediaCount,
			&datePosted, &r.OutlierScore, &r.PrimaryCategory,
			&r.SecondaryCategory, &r.TertiaryCategory,
			&r.Keyword1, &r.Keyword2, &r.Keyword3, &r.Keyword4,
			&r.Confidence, &r.Language, &r.TranscriptAvailable, &r.CreatedAt,
			&r.ProfileName, &r.ProfileImageKey, &r.Followers, &r.IsVerified,
			&accountType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan content row")
		}
		r.Kind = model.ContentKind(kind)
		r.Style = model.ContentStyle(style)
		r.AccountType = model.AccountType(accountType)
		if datePosted != nil {
			r.DatePosted = *datePosted
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: content rows iterate")
}

// ProfileContent lists one profile's content with the same join shape as the
// feed, for the profile detail page.
func (s *Postgres) ProfileContent(ctx context.Context, username, sortBy string, limit, offset int) ([]ContentRow, bool, error) {
	return s.ListContent(ctx, ContentFilter{
		Username: username,
		SortBy:   sortBy,
		Limit:    limit,
		Offset:   offset,
	})
}

// TopReels returns a profile's reels ordered by view count, optionally
// restricted to those posted since a cutoff.
func (s *Postgres) TopReels(ctx context.Context, username string, since *time.Time, limit int) ([]model.Content, error) {
	query := `SELECT content_id, shortcode, username, content_type, url,
	                 description, view_count, like_count, comment_count,
	                 outlier_score, date_posted, transcript_available
	          FROM content
	          WHERE username = $1 AND content_type = 'reel'`
	args := []any{NormalizeUsername(username)}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(` AND date_posted >= $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY view_count DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top reels")
	}
	defer rows.Close()

	var out []model.Content
	for rows.Next() {
		var c model.Content
		var kind string
		var datePosted *time.Time
		if err := rows.Scan(&c.ContentID, &c.Shortcode, &c.ProfileOwner, &kind,
			&c.URL, &c.Description, &c.ViewCount, &c.LikeCount, &c.CommentCount,
			&c.OutlierScore, &datePosted, &c.TranscriptAvailable); err != nil {
			return nil, eris.Wrap(err, "postgres: scan top reel")
		}
		c.Kind = model.ContentKind(kind)
		if datePosted != nil {
			c.DatePosted = *datePosted
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top reels iterate")
}

// UpdateTranscript stores a fetched transcript on the content row.
func (s *Postgres) UpdateTranscript(ctx context.Context, contentID, transcriptText, lang string, available bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE content SET transcript = $1, transcript_language = $2,
		 transcript_available = $3, transcript_fetched_at = now()
		 WHERE content_id = $4`,
		transcriptText, lang, available, contentID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update transcript %s", contentID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("content not found: %s", contentID)
	}
	return nil
}

// FilterOptions enumerates distinct filterable values across the feed.
func (s *Postgres) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts := &FilterOptions{}
	queries := []struct {
		dest *[]string
		sql  string
	}{
		{&opts.PrimaryCategories, `SELECT DISTINCT primary_category FROM content WHERE primary_category <> '' ORDER BY 1`},
		{&opts.SecondaryCategories, `SELECT DISTINCT secondary_category FROM content WHERE secondary_category <> '' ORDER BY 1`},
		{&opts.TertiaryCategories, `SELECT DISTINCT tertiary_category FROM content WHERE tertiary_category <> '' ORDER BY 1`},
		{&opts.Keywords, `SELECT DISTINCT kw FROM content, LATERAL unnest(ARRAY[keyword_1, keyword_2, keyword_3, keyword_4]) AS kw WHERE kw <> '' ORDER BY 1`},
		{&opts.Usernames, `SELECT DISTINCT username FROM content ORDER BY 1`},
		{&opts.ContentTypes, `SELECT DISTINCT content_type FROM content ORDER BY 1`},
		{&opts.Languages, `SELECT DISTINCT language FROM content WHERE language <> '' ORDER BY 1`},
		{&opts.AccountTypes, `SELECT DISTINCT account_type FROM primary_profiles ORDER BY 1`},
	}
	for _, q := range queries {
		vals, err := s.stringColumn(ctx, q.sql)
		if err != nil {
			return nil, err
		}
		*q.dest = vals
	}
	return opts, nil
}

func (s *Postgres) stringColumn(ctx context.Context, sql string) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: filter options")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan filter option")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: filter options iterate")
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
