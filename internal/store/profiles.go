package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
)

const primaryProfileCols = `id, username, display_name, bio, followers, posts_count,
	is_verified, account_type, image_key, primary_category, secondary_category,
	tertiary_category, total_reels, median_views, mean_views, std_views,
	total_views, total_likes, total_comments, similar_accounts,
	last_full_scrape, analysis_timestamp, created_at, updated_at`

// UpsertPrimary writes a primary profile keyed by username and returns the
// row id. The account type is normalised before it reaches the table.
func (s *Postgres) UpsertPrimary(ctx context.Context, p *model.PrimaryProfile) (string, error) {
	username := NormalizeUsername(p.Username)
	if username == "" {
		return "", eris.New("postgres: upsert primary: empty username")
	}

	var similarJSON []byte
	if len(p.Similar) > 0 {
		var err error
		similarJSON, err = json.Marshal(p.Similar)
		if err != nil {
			return "", eris.Wrap(err, "postgres: marshal similar accounts")
		}
	}

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO primary_profiles
		 (username, display_name, bio, followers, posts_count, is_verified,
		  account_type, image_key, primary_category, secondary_category,
		  tertiary_category, total_reels, median_views, mean_views, std_views,
		  total_views, total_likes, total_comments, similar_accounts,
		  last_full_scrape, analysis_timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (username) DO UPDATE SET
		   display_name = $2, bio = $3, followers = $4, posts_count = $5,
		   is_verified = $6, account_type = $7,
		   image_key = CASE WHEN $8 <> '' THEN $8 ELSE primary_profiles.image_key END,
		   primary_category = $9, secondary_category = $10, tertiary_category = $11,
		   total_reels = $12, median_views = $13, mean_views = $14, std_views = $15,
		   total_views = $16, total_likes = $17, total_comments = $18,
		   similar_accounts = COALESCE($19, primary_profiles.similar_accounts),
		   last_full_scrape = COALESCE($20, primary_profiles.last_full_scrape),
		   analysis_timestamp = COALESCE($21, primary_profiles.analysis_timestamp),
		   updated_at = now()
		 RETURNING id`,
		username, p.DisplayName, p.Bio, p.Followers, p.PostsCount, p.IsVerified,
		string(NormalizeAccountType(p.AccountType)), p.ImageKey,
		p.PrimaryCategory, p.SecondaryCategory, p.TertiaryCategory,
		p.Metrics.TotalReels, p.Metrics.MedianViews, p.Metrics.MeanViews,
		p.Metrics.StdViews, p.Metrics.TotalViews, p.Metrics.TotalLikes,
		p.Metrics.TotalComments, similarJSON, p.LastFullScrape, p.AnalysisTimestamp,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: upsert primary %s", username)
	}
	p.ID = id
	p.Username = username
	return id, nil
}

// GetPrimary loads one primary profile; nil when absent.
func (s *Postgres) GetPrimary(ctx context.Context, username string) (*model.PrimaryProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+primaryProfileCols+` FROM primary_profiles WHERE username = $1`,
		NormalizeUsername(username))
	p, err := scanPrimary(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get primary %s", username)
	}
	return p, nil
}

func scanPrimary(row pgx.Row) (*model.PrimaryProfile, error) {
	var p model.PrimaryProfile
	var accountType string
	var similarJSON []byte
	err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Bio, &p.Followers,
		&p.PostsCount, &p.IsVerified, &accountType, &p.ImageKey,
		&p.PrimaryCategory, &p.SecondaryCategory, &p.TertiaryCategory,
		&p.Metrics.TotalReels, &p.Metrics.MedianViews, &p.Metrics.MeanViews,
		&p.Metrics.StdViews, &p.Metrics.TotalViews, &p.Metrics.TotalLikes,
		&p.Metrics.TotalComments, &similarJSON,
		&p.LastFullScrape, &p.AnalysisTimestamp, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.AccountType = model.AccountType(accountType)
	if len(similarJSON) > 0 {
		if err := json.Unmarshal(similarJSON, &p.Similar); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal similar accounts")
		}
	}
	return &p, nil
}

// ListPrimaryUsernames returns every primary username, newest first.
func (s *Postgres) ListPrimaryUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username FROM primary_profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list primary usernames")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan username")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list primary usernames iterate")
}

// UpsertSecondaryBatch writes discovered profiles row by row so one bad
// record cannot sink the batch. Returns the number of rows written; an error
// only when fewer than max(1, 10%) of the batch survived.
func (s *Postgres) UpsertSecondaryBatch(ctx context.Context, items []model.SecondaryProfile, discoveredBy string) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	saved := 0
	for i := range items {
		if err := s.upsertSecondary(ctx, &items[i], discoveredBy); err != nil {
			zap.L().Warn("secondary profile upsert failed",
				zap.String("username", items[i].Username),
				zap.Error(err))
			continue
		}
		saved++
	}

	threshold := len(items) / 10
	if threshold < 1 {
		threshold = 1
	}
	if saved < threshold {
		return saved, eris.Errorf("postgres: secondary batch collapsed: %d of %d saved", saved, len(items))
	}
	return saved, nil
}

func (s *Postgres) upsertSecondary(ctx context.Context, p *model.SecondaryProfile, discoveredBy string) error {
	username := NormalizeUsername(p.Username)
	if username == "" {
		return eris.New("postgres: upsert secondary: empty username")
	}

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO secondary_profiles
		 (username, full_name, bio, followers, following, media_count, image_key,
		  is_verified, account_type, primary_category, secondary_category,
		  tertiary_category, similarity_rank, discovered_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (username) DO UPDATE SET
		   full_name = $2, bio = $3, followers = $4, following = $5,
		   media_count = $6,
		   image_key = CASE WHEN $7 <> '' THEN $7 ELSE secondary_profiles.image_key END,
		   is_verified = $8, account_type = $9,
		   similarity_rank = $13, discovered_by = $14
		 RETURNING id`,
		username, p.FullName, p.Bio, p.Followers, p.Following, p.MediaCount,
		p.ImageKey, p.IsVerified, string(NormalizeAccountType(p.AccountType)),
		p.PrimaryCategory, p.SecondaryCategory, p.TertiaryCategory,
		p.SimilarityRank, nullIfEmpty(discoveredBy),
	).Scan(&id)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert secondary %s", username)
	}
	p.ID = id
	p.Username = username
	return nil
}

// GetSecondary loads one secondary profile; nil when absent.
func (s *Postgres) GetSecondary(ctx context.Context, username string) (*model.SecondaryProfile, error) {
	var p model.SecondaryProfile
	var accountType string
	var discoveredBy *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, full_name, bio, followers, following, media_count,
		        image_key, is_verified, account_type, primary_category,
		        secondary_category, tertiary_category, similarity_rank,
		        discovered_by, created_at
		 FROM secondary_profiles WHERE username = $1`,
		NormalizeUsername(username),
	).Scan(&p.ID, &p.Username, &p.FullName, &p.Bio, &p.Followers, &p.Following,
		&p.MediaCount, &p.ImageKey, &p.IsVerified, &accountType,
		&p.PrimaryCategory, &p.SecondaryCategory, &p.TertiaryCategory,
		&p.SimilarityRank, &discoveredBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get secondary %s", username)
	}
	p.AccountType = model.AccountType(accountType)
	if discoveredBy != nil {
		p.DiscoveredBy = *discoveredBy
	}
	return &p, nil
}

// ListSecondariesBy returns the secondary profiles discovered via a primary
// username, best-ranked first.
func (s *Postgres) ListSecondariesBy(ctx context.Context, discoveredBy string, limit int) ([]model.SecondaryProfile, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, full_name, bio, followers, following, media_count,
		        image_key, is_verified, account_type, primary_category,
		        secondary_category, tertiary_category, similarity_rank,
		        discovered_by, created_at
		 FROM secondary_profiles WHERE discovered_by = $1
		 ORDER BY similarity_rank, followers DESC LIMIT $2`,
		NormalizeUsername(discoveredBy), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list secondaries")
	}
	defer rows.Close()

	var out []model.SecondaryProfile
	for rows.Next() {
		var p model.SecondaryProfile
		var accountType string
		var discovered *string
		if err := rows.Scan(&p.ID, &p.Username, &p.FullName, &p.Bio, &p.Followers,
			&p.Following, &p.MediaCount, &p.ImageKey, &p.IsVerified, &accountType,
			&p.PrimaryCategory, &p.SecondaryCategory, &p.TertiaryCategory,
			&p.SimilarityRank, &discovered, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan secondary")
		}
		p.AccountType = model.AccountType(accountType)
		if discovered != nil {
			p.DiscoveredBy = *discovered
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list secondaries iterate")
}

// KnownUsernames reports which of the candidates already exist as a primary
// or secondary profile. Discovery uses this to filter expansion candidates.
func (s *Postgres) KnownUsernames(ctx context.Context, candidates []string) (map[string]bool, error) {
	known := make(map[string]bool, len(candidates))
	if len(candidates) == 0 {
		return known, nil
	}

	normalized := make([]string, 0, len(candidates))
	for _, c := range candidates {
		normalized = append(normalized, NormalizeUsername(c))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT username FROM primary_profiles WHERE username = ANY($1)
		 UNION
		 SELECT username FROM secondary_profiles WHERE username = ANY($1)`,
		normalized)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: known usernames")
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan known username")
		}
		known[u] = true
	}
	return known, eris.Wrap(rows.Err(), "postgres: known usernames iterate")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
