// Package store is the gateway to the relational store and the image object
// store. It is the sole writer for every entity class; callers never issue
// SQL of their own.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/viralscope/viralscope/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// IntegrityReport is the outcome of a post-write verification pass.
type IntegrityReport struct {
	Success        bool     `json:"success"`
	PrimaryPresent bool     `json:"primary_present"`
	ContentCount   int      `json:"content_count"`
	SecondaryCount int      `json:"secondary_count"`
	Warnings       []string `json:"warnings,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// ProfileStore covers primary and secondary profile persistence.
type ProfileStore interface {
	UpsertPrimary(ctx context.Context, p *model.PrimaryProfile) (string, error)
	GetPrimary(ctx context.Context, username string) (*model.PrimaryProfile, error)
	ListPrimaryUsernames(ctx context.Context) ([]string, error)
	UpsertSecondaryBatch(ctx context.Context, items []model.SecondaryProfile, discoveredBy string) (int, error)
	GetSecondary(ctx context.Context, username string) (*model.SecondaryProfile, error)
	ListSecondariesBy(ctx context.Context, discoveredBy string, limit int) ([]model.SecondaryProfile, error)
	KnownUsernames(ctx context.Context, candidates []string) (map[string]bool, error)
}

// ContentStore covers content rows and their feed queries.
type ContentStore interface {
	SaveContentBatch(ctx context.Context, items []model.Content) (int, error)
	ExistingShortcodes(ctx context.Context, username string) (map[string]bool, error)
	ListContent(ctx context.Context, f ContentFilter) ([]ContentRow, bool, error)
	FilterOptions(ctx context.Context) (*FilterOptions, error)
	ProfileContent(ctx context.Context, username string, sortBy string, limit, offset int) ([]ContentRow, bool, error)
	TopReels(ctx context.Context, username string, since *time.Time, limit int) ([]model.Content, error)
	UpdateTranscript(ctx context.Context, contentID, transcriptText, lang string, available bool) error
}

// QueueStore covers the persistent two-priority work queue.
type QueueStore interface {
	Enqueue(ctx context.Context, item *model.QueueItem) (bool, error)
	ClaimNext(ctx context.Context, priority model.QueuePriority) (*model.QueueItem, error)
	UpdateQueueStatus(ctx context.Context, requestID string, status model.QueueStatus, errorMessage string) error
	QueueStats(ctx context.Context) (*model.QueueStats, error)
	HasHighPending(ctx context.Context) (bool, error)
	QueueItemFor(ctx context.Context, username string) (*model.QueueItem, error)
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
	RequeuePaused(ctx context.Context) (int, error)
}

// ViralStore covers viral-ideas requests, runs, selected reels, and scripts.
type ViralStore interface {
	CreateViralRequest(ctx context.Context, req *model.ViralAnalysisRequest) error
	GetViralRequest(ctx context.Context, id string) (*model.ViralAnalysisRequest, error)
	GetViralRequestBySession(ctx context.Context, sessionID string) ([]model.ViralAnalysisRequest, error)
	ActiveViralRequest(ctx context.Context, sessionID, primaryUsername string) (*model.ViralAnalysisRequest, error)
	ActiveViralRequestForUser(ctx context.Context, primaryUsername string) (*model.ViralAnalysisRequest, error)
	ClaimViralRequest(ctx context.Context) (*model.ViralAnalysisRequest, error)
	ClaimViralRequestByID(ctx context.Context, id string) (bool, error)
	UpdateViralProgress(ctx context.Context, id string, progress int, currentStep string) error
	UpdateViralStatus(ctx context.Context, id string, status model.ViralRequestStatus, errorMessage string) error
	ScheduleNextRun(ctx context.Context, id string, at time.Time) error
	DueRecurringRequest(ctx context.Context) (*model.ViralAnalysisRequest, error)

	CreateRun(ctx context.Context, run *model.ViralAnalysisRun) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error
	SaveRunAnalysis(ctx context.Context, runID string, analysisData []byte, transcriptsFetched int) error
	LatestRun(ctx context.Context, requestID string, status model.RunStatus) (*model.ViralAnalysisRun, error)
	LatestCompletedRunForUser(ctx context.Context, username string) (*model.ViralAnalysisRun, error)
	NextRunNumber(ctx context.Context, requestID string) (int, error)
	SetRunDiscoveryFetchedAt(ctx context.Context, runID string, at time.Time) error

	InsertAnalysisReel(ctx context.Context, reel *model.ViralAnalysisReel) error
	UpdateAnalysisReelTranscript(ctx context.Context, reelID string, completed bool, transcriptError string) error
	UpdateAnalysisReelHook(ctx context.Context, reelID, hookText string, powerWords []string) error
	RunReels(ctx context.Context, runID string) ([]model.ViralAnalysisReel, error)

	InsertScripts(ctx context.Context, runID string, scripts []model.GeneratedScript) (int, error)
	RunScripts(ctx context.Context, runID string) ([]model.ViralScript, error)
}

// SimilarCacheStore covers the 24h similar-profiles cache.
type SimilarCacheStore interface {
	CachedSimilar(ctx context.Context, primaryUsername string, limit int, maxAge time.Duration) ([]model.SimilarCacheEntry, error)
	ReplaceSimilarCache(ctx context.Context, primaryUsername string, entries []model.SimilarCacheEntry) error
	UpsertSimilarCacheEntry(ctx context.Context, entry *model.SimilarCacheEntry) error
}

// IntegrityStore covers dual-write verification and rollback.
type IntegrityStore interface {
	VerifyIntegrity(ctx context.Context, ownerID string, expectedContent, expectedSecondary int, username string) (*IntegrityReport, error)
	Rollback(ctx context.Context, ownerID, username string) error
}

// Store is the full gateway surface.
type Store interface {
	ProfileStore
	ContentStore
	QueueStore
	ViralStore
	SimilarCacheStore
	IntegrityStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// ImageStore is the object-store surface for avatar and thumbnail bytes.
// Consumers mint public URLs; they never read bytes back through the gateway.
type ImageStore interface {
	UploadImage(ctx context.Context, bucket, key string, data []byte) (string, error)
	PublicURL(bucket, key string) string
}
