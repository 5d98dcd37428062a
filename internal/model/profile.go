// Package model defines the domain entities shared across the pipeline:
// profiles, content, queue items, and viral-analysis records.
package model

import "time"

// AccountType classifies an Instagram account.
type AccountType string

const (
	AccountTypePersonal   AccountType = "Personal"
	AccountTypeBusiness   AccountType = "Business Page"
	AccountTypeInfluencer AccountType = "Influencer"
	AccountTypeThemePage  AccountType = "Theme Page"
)

// AggMetrics holds aggregate content statistics for a primary profile.
type AggMetrics struct {
	TotalReels    int     `json:"total_reels" db:"total_reels"`
	MedianViews   float64 `json:"median_views" db:"median_views"`
	MeanViews     float64 `json:"mean_views" db:"mean_views"`
	StdViews      float64 `json:"std_views" db:"std_views"`
	TotalViews    int64   `json:"total_views" db:"total_views"`
	TotalLikes    int64   `json:"total_likes" db:"total_likes"`
	TotalComments int64   `json:"total_comments" db:"total_comments"`
}

// PrimaryProfile is a fully-scraped account with its own Content rows.
// Usernames are stored lowercase; the store enforces uniqueness on username.
type PrimaryProfile struct {
	ID                string      `json:"id" db:"id"`
	Username          string      `json:"username" db:"username"`
	DisplayName       string      `json:"display_name" db:"display_name"`
	Bio               string      `json:"bio" db:"bio"`
	Followers         int64       `json:"followers" db:"followers"`
	PostsCount        int         `json:"posts_count" db:"posts_count"`
	IsVerified        bool        `json:"is_verified" db:"is_verified"`
	AccountType       AccountType `json:"account_type" db:"account_type"`
	ImageKey          string      `json:"image_key,omitempty" db:"image_key"`
	PrimaryCategory   string      `json:"primary_category,omitempty" db:"primary_category"`
	SecondaryCategory string      `json:"secondary_category,omitempty" db:"secondary_category"`
	TertiaryCategory  string      `json:"tertiary_category,omitempty" db:"tertiary_category"`
	Metrics           AggMetrics  `json:"metrics"`
	Similar           []string    `json:"similar,omitempty"`
	LastFullScrape    *time.Time  `json:"last_full_scrape,omitempty" db:"last_full_scrape"`
	AnalysisTimestamp *time.Time  `json:"analysis_timestamp,omitempty" db:"analysis_timestamp"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// SecondaryProfile is a profile discovered via similar-profile expansion but
// not yet fully scraped. It may later be promoted to a PrimaryProfile (a
// separate row); this record is kept as the discovery trail.
type SecondaryProfile struct {
	ID                string      `json:"id" db:"id"`
	Username          string      `json:"username" db:"username"`
	FullName          string      `json:"full_name" db:"full_name"`
	Bio               string      `json:"bio,omitempty" db:"bio"`
	Followers         int64       `json:"followers" db:"followers"`
	Following         int64       `json:"following" db:"following"`
	MediaCount        int         `json:"media_count" db:"media_count"`
	ImageKey          string      `json:"image_key,omitempty" db:"image_key"`
	IsVerified        bool        `json:"is_verified" db:"is_verified"`
	AccountType       AccountType `json:"account_type" db:"account_type"`
	PrimaryCategory   string      `json:"primary_category,omitempty" db:"primary_category"`
	SecondaryCategory string      `json:"secondary_category,omitempty" db:"secondary_category"`
	TertiaryCategory  string      `json:"tertiary_category,omitempty" db:"tertiary_category"`
	DiscoveredBy      string      `json:"discovered_by" db:"discovered_by"`
	SimilarityRank    int         `json:"similarity_rank" db:"similarity_rank"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// SimilarProfile is a lightweight similar-account descriptor returned by the
// similar-profiles API before it is persisted as a SecondaryProfile.
type SimilarProfile struct {
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Bio        string `json:"bio,omitempty"`
	Followers  int64  `json:"followers"`
	Following  int64  `json:"following"`
	MediaCount int    `json:"media_count"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	IsVerified bool   `json:"is_verified"`
	Rank       int    `json:"rank"`
}

// SimilarCacheEntry is a cached similar-profile row keyed by
// (primary_username, similar_username). Rows expire after 24h.
type SimilarCacheEntry struct {
	ID              int64     `json:"id" db:"id"`
	PrimaryUsername string    `json:"primary_username" db:"primary_username"`
	SimilarUsername string    `json:"similar_username" db:"similar_username"`
	Name            string    `json:"name" db:"name"`
	ImageKey        string    `json:"image_key,omitempty" db:"image_key"`
	Rank            int       `json:"rank" db:"rank"`
	BatchID         string    `json:"batch_id" db:"batch_id"`
	ImageDownloaded bool      `json:"image_downloaded" db:"image_downloaded"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// SimilarCacheTTL is how long cached similar-profile rows stay fresh.
const SimilarCacheTTL = 24 * time.Hour
