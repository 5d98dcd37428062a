package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/model"
)

// CachedSimilar returns fresh cached similar profiles for a primary
// username, ranked. Rows older than maxAge are ignored; an empty result
// means the cache missed and the caller should hit the vendor.
func (s *Postgres) CachedSimilar(ctx context.Context, primaryUsername string, limit int, maxAge time.Duration) ([]model.SimilarCacheEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, primary_username, similar_username, profile_name, image_key,
		        rank, batch_id, image_downloaded, created_at
		 FROM similar_profiles_cache
		 WHERE primary_username = $1 AND created_at > now() - $2::interval
		 ORDER BY rank LIMIT $3`,
		NormalizeUsername(primaryUsername), maxAge.String(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cached similar")
	}
	defer rows.Close()

	var out []model.SimilarCacheEntry
	for rows.Next() {
		var e model.SimilarCacheEntry
		if err := rows.Scan(&e.ID, &e.PrimaryUsername, &e.SimilarUsername,
			&e.Name, &e.ImageKey, &e.Rank, &e.BatchID, &e.ImageDownloaded,
			&e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan similar cache entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: cached similar iterate")
}

// ReplaceSimilarCache swaps a primary username's cached batch for a new one
// in a single transaction so readers never see a half-written batch.
func (s *Postgres) ReplaceSimilarCache(ctx context.Context, primaryUsername string, entries []model.SimilarCacheEntry) error {
	primaryUsername = NormalizeUsername(primaryUsername)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace similar cache begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM similar_profiles_cache WHERE primary_username = $1`,
		primaryUsername); err != nil {
		return eris.Wrap(err, "postgres: clear similar cache")
	}

	for i := range entries {
		e := &entries[i]
		if _, err := tx.Exec(ctx,
			`INSERT INTO similar_profiles_cache
			 (primary_username, similar_username, profile_name, image_key,
			  rank, batch_id, image_downloaded)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			primaryUsername, NormalizeUsername(e.SimilarUsername), e.Name,
			e.ImageKey, e.Rank, e.BatchID, e.ImageDownloaded); err != nil {
			return eris.Wrapf(err, "postgres: insert similar cache %s", e.SimilarUsername)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace similar cache commit")
}

// UpsertSimilarCacheEntry writes one cache row, used when a background image
// download completes after the batch was cached.
func (s *Postgres) UpsertSimilarCacheEntry(ctx context.Context, e *model.SimilarCacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO similar_profiles_cache
		 (primary_username, similar_username, profile_name, image_key, rank,
		  batch_id, image_downloaded)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (primary_username, similar_username) DO UPDATE SET
		   profile_name = $3,
		   image_key = CASE WHEN $4 <> '' THEN $4 ELSE similar_profiles_cache.image_key END,
		   rank = $5, batch_id = $6,
		   image_downloaded = similar_profiles_cache.image_downloaded OR $7`,
		NormalizeUsername(e.PrimaryUsername), NormalizeUsername(e.SimilarUsername),
		e.Name, e.ImageKey, e.Rank, e.BatchID, e.ImageDownloaded)
	return eris.Wrapf(err, "postgres: upsert similar cache %s", e.SimilarUsername)
}
