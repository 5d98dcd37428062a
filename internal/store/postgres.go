package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Postgres implements Store using pgxpool.
type Postgres struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"queue_update_status": `UPDATE queue SET status = $1, error_message = NULLIF($2, ''), completed_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED') THEN now() ELSE completed_at END WHERE request_id = $3`,
	"viral_progress":      `UPDATE viral_ideas_queue SET progress = $1, current_step = $2, updated_at = now() WHERE id = $3`,
	"reel_transcript":     `UPDATE viral_analysis_reels SET transcript_completed = $1, transcript_error = NULLIF($2, '') WHERE id = $3`,
	"content_transcript":  `UPDATE content SET transcript = $1, transcript_language = $2, transcript_available = $3, transcript_fetched_at = now() WHERE content_id = $4`,
}

// NewPostgres creates a Postgres store with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool wires an existing pool; tests pass a pgxmock pool here.
func NewWithPool(pool Pool) *Postgres {
	return &Postgres{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS primary_profiles (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	username           TEXT NOT NULL UNIQUE,
	display_name       TEXT NOT NULL DEFAULT '',
	bio                TEXT NOT NULL DEFAULT '',
	followers          BIGINT NOT NULL DEFAULT 0,
	posts_count        INTEGER NOT NULL DEFAULT 0,
	is_verified        BOOLEAN NOT NULL DEFAULT false,
	account_type       TEXT NOT NULL DEFAULT 'Personal',
	image_key          TEXT NOT NULL DEFAULT '',
	primary_category   TEXT NOT NULL DEFAULT '',
	secondary_category TEXT NOT NULL DEFAULT '',
	tertiary_category  TEXT NOT NULL DEFAULT '',
	total_reels        INTEGER NOT NULL DEFAULT 0,
	median_views       DOUBLE PRECISION NOT NULL DEFAULT 0,
	mean_views         DOUBLE PRECISION NOT NULL DEFAULT 0,
	std_views          DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_views        BIGINT NOT NULL DEFAULT 0,
	total_likes        BIGINT NOT NULL DEFAULT 0,
	total_comments     BIGINT NOT NULL DEFAULT 0,
	similar_accounts   JSONB,
	last_full_scrape   TIMESTAMPTZ,
	analysis_timestamp TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS secondary_profiles (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	username           TEXT NOT NULL UNIQUE,
	full_name          TEXT NOT NULL DEFAULT '',
	bio                TEXT NOT NULL DEFAULT '',
	followers          BIGINT NOT NULL DEFAULT 0,
	following          BIGINT NOT NULL DEFAULT 0,
	media_count        INTEGER NOT NULL DEFAULT 0,
	image_key          TEXT NOT NULL DEFAULT '',
	is_verified        BOOLEAN NOT NULL DEFAULT false,
	account_type       TEXT NOT NULL DEFAULT 'Personal',
	primary_category   TEXT NOT NULL DEFAULT '',
	secondary_category TEXT NOT NULL DEFAULT '',
	tertiary_category  TEXT NOT NULL DEFAULT '',
	similarity_rank    INTEGER NOT NULL DEFAULT 0,
	discovered_by      TEXT REFERENCES primary_profiles(id) ON DELETE SET NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS content (
	content_id            TEXT PRIMARY KEY,
	shortcode             TEXT NOT NULL UNIQUE,
	username              TEXT NOT NULL REFERENCES primary_profiles(username) ON DELETE CASCADE,
	content_type          TEXT NOT NULL DEFAULT 'reel',
	content_style         TEXT NOT NULL DEFAULT 'video',
	url                   TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	thumbnail_key         TEXT NOT NULL DEFAULT '',
	display_key           TEXT NOT NULL DEFAULT '',
	view_count            BIGINT NOT NULL DEFAULT 0,
	like_count            BIGINT NOT NULL DEFAULT 0,
	comment_count         BIGINT NOT NULL DEFAULT 0,
	carousel_media_count  INTEGER NOT NULL DEFAULT 0,
	outlier_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	date_posted           TIMESTAMPTZ,
	primary_category      TEXT NOT NULL DEFAULT '',
	secondary_category    TEXT NOT NULL DEFAULT '',
	tertiary_category     TEXT NOT NULL DEFAULT '',
	confidence            DOUBLE PRECISION NOT NULL DEFAULT 0,
	language              TEXT NOT NULL DEFAULT '',
	keyword_1             TEXT NOT NULL DEFAULT '',
	keyword_2             TEXT NOT NULL DEFAULT '',
	keyword_3             TEXT NOT NULL DEFAULT '',
	keyword_4             TEXT NOT NULL DEFAULT '',
	transcript            TEXT,
	transcript_language   TEXT,
	transcript_available  BOOLEAN NOT NULL DEFAULT false,
	transcript_fetched_at TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_content_username ON content(username);
CREATE INDEX IF NOT EXISTS idx_content_outlier ON content(outlier_score DESC);
CREATE INDEX IF NOT EXISTS idx_content_views ON content(view_count DESC);
CREATE INDEX IF NOT EXISTS idx_content_posted ON content(date_posted DESC);
CREATE INDEX IF NOT EXISTS idx_content_categories ON content(primary_category, secondary_category);

CREATE TABLE IF NOT EXISTS queue (
	request_id      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	username        TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT 'manual',
	priority        TEXT NOT NULL DEFAULT 'LOW',
	status          TEXT NOT NULL DEFAULT 'PENDING',
	attempts        INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT,
	request_payload JSONB,
	submitted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_attempt_at TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_queue_claim ON queue(status, priority, submitted_at);
CREATE INDEX IF NOT EXISTS idx_queue_username ON queue(username);

CREATE TABLE IF NOT EXISTS viral_ideas_queue (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id         TEXT NOT NULL,
	primary_username   TEXT NOT NULL,
	competitors        JSONB NOT NULL DEFAULT '[]',
	content_strategy   JSONB NOT NULL DEFAULT '{}',
	status             TEXT NOT NULL DEFAULT 'pending',
	progress           INTEGER NOT NULL DEFAULT 0,
	current_step       TEXT NOT NULL DEFAULT '',
	error_message      TEXT,
	total_runs         INTEGER NOT NULL DEFAULT 0,
	next_scheduled_run TIMESTAMPTZ,
	submitted_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_viral_queue_status ON viral_ideas_queue(status, submitted_at);
CREATE INDEX IF NOT EXISTS idx_viral_queue_sched ON viral_ideas_queue(next_scheduled_run);
CREATE INDEX IF NOT EXISTS idx_viral_queue_session ON viral_ideas_queue(session_id);

CREATE TABLE IF NOT EXISTS viral_analysis_runs (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request_id              TEXT NOT NULL REFERENCES viral_ideas_queue(id) ON DELETE CASCADE,
	run_number              INTEGER NOT NULL DEFAULT 1,
	run_kind                TEXT NOT NULL DEFAULT 'initial',
	status                  TEXT NOT NULL DEFAULT 'pending',
	workflow_version        TEXT NOT NULL DEFAULT '',
	primary_reels_count     INTEGER NOT NULL DEFAULT 0,
	competitor_reels_count  INTEGER NOT NULL DEFAULT 0,
	transcripts_fetched     INTEGER NOT NULL DEFAULT 0,
	analysis_data           JSONB,
	error_message           TEXT,
	last_discovery_fetch_at TIMESTAMPTZ,
	started_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	analysis_completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_viral_runs_request ON viral_analysis_runs(request_id, run_number DESC);

CREATE TABLE IF NOT EXISTS viral_analysis_reels (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id               TEXT NOT NULL REFERENCES viral_analysis_runs(id) ON DELETE CASCADE,
	content_id           TEXT NOT NULL,
	username             TEXT NOT NULL,
	shortcode            TEXT NOT NULL,
	reel_role            TEXT NOT NULL DEFAULT 'primary',
	selection_rank       INTEGER NOT NULL DEFAULT 0,
	view_count           BIGINT NOT NULL DEFAULT 0,
	like_count           BIGINT NOT NULL DEFAULT 0,
	comment_count        BIGINT NOT NULL DEFAULT 0,
	outlier_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	transcript_requested BOOLEAN NOT NULL DEFAULT false,
	transcript_completed BOOLEAN NOT NULL DEFAULT false,
	transcript_error     TEXT,
	hook_text            TEXT,
	power_words          JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_viral_reels_run ON viral_analysis_reels(run_id, reel_role, selection_rank);

CREATE TABLE IF NOT EXISTS viral_scripts (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id              TEXT NOT NULL REFERENCES viral_analysis_runs(id) ON DELETE CASCADE,
	title               TEXT NOT NULL DEFAULT '',
	script_content      TEXT NOT NULL DEFAULT '',
	primary_hook        TEXT NOT NULL DEFAULT '',
	call_to_action      TEXT NOT NULL DEFAULT '',
	script_type         TEXT NOT NULL DEFAULT '',
	estimated_duration_seconds INTEGER NOT NULL DEFAULT 0,
	source_reels        JSONB,
	status              TEXT NOT NULL DEFAULT 'active',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_viral_scripts_run ON viral_scripts(run_id);

CREATE TABLE IF NOT EXISTS similar_profiles_cache (
	id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	primary_username TEXT NOT NULL,
	similar_username TEXT NOT NULL,
	profile_name     TEXT NOT NULL DEFAULT '',
	image_key        TEXT NOT NULL DEFAULT '',
	rank             INTEGER NOT NULL DEFAULT 0,
	batch_id         TEXT NOT NULL DEFAULT '',
	image_downloaded BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (primary_username, similar_username)
);

CREATE INDEX IF NOT EXISTS idx_similar_cache_lookup ON similar_profiles_cache(primary_username, created_at DESC);
`

func (s *Postgres) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *Postgres) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
