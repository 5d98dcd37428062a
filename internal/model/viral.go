package model

import "time"

// ViralRequestStatus is the lifecycle of a viral-ideas analysis request.
type ViralRequestStatus string

const (
	ViralPending    ViralRequestStatus = "pending"
	ViralProcessing ViralRequestStatus = "processing"
	ViralCompleted  ViralRequestStatus = "completed"
	ViralFailed     ViralRequestStatus = "failed"
)

// ContentStrategy captures what the requester wants out of the analysis.
type ContentStrategy struct {
	ContentType    string `json:"contentType"`
	TargetAudience string `json:"targetAudience"`
	Goals          string `json:"goals"`
}

// ViralAnalysisRequest is one queued viral-ideas analysis: a primary account
// compared against a set of competitors. One active request per
// (session, primary) at a time.
type ViralAnalysisRequest struct {
	ID               string             `json:"id" db:"id"`
	SessionID        string             `json:"session_id" db:"session_id"`
	PrimaryUsername  string             `json:"primary_username" db:"primary_username"`
	Competitors      []string           `json:"competitors" db:"competitors"`
	Strategy         ContentStrategy    `json:"content_strategy" db:"content_strategy"`
	Status           ViralRequestStatus `json:"status" db:"status"`
	Progress         int                `json:"progress" db:"progress"`
	CurrentStep      string             `json:"current_step" db:"current_step"`
	ErrorMessage     string             `json:"error_message,omitempty" db:"error_message"`
	SubmittedAt      time.Time          `json:"submitted_at" db:"submitted_at"`
	StartedAt        *time.Time         `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	NextScheduledRun *time.Time         `json:"next_scheduled_run,omitempty" db:"next_scheduled_run"`
	TotalRuns        int                `json:"total_runs" db:"total_runs"`
}

// RunKind distinguishes the first full analysis from 24h refreshes.
type RunKind string

const (
	RunInitial   RunKind = "initial"
	RunRecurring RunKind = "recurring"
)

// RunStatus tracks a single analysis run. transcripts_completed is a durable
// checkpoint: transcripts are preserved even if the AI stage later fails.
type RunStatus string

const (
	RunPending              RunStatus = "pending"
	RunTranscriptsCompleted RunStatus = "transcripts_completed"
	RunCompleted            RunStatus = "completed"
	RunFailed               RunStatus = "failed"
)

// ViralAnalysisRun is one numbered execution of an analysis request.
// RunNumber increases monotonically per request.
type ViralAnalysisRun struct {
	ID                   string     `json:"id" db:"id"`
	RequestID            string     `json:"request_id" db:"request_id"`
	RunNumber            int        `json:"run_number" db:"run_number"`
	Kind                 RunKind    `json:"kind" db:"kind"`
	Status               RunStatus  `json:"status" db:"status"`
	PrimaryReelsCount    int        `json:"primary_reels_count" db:"primary_reels_count"`
	CompetitorReelsCount int        `json:"competitor_reels_count" db:"competitor_reels_count"`
	TranscriptsFetched   int        `json:"transcripts_fetched" db:"transcripts_fetched"`
	WorkflowVersion      string     `json:"workflow_version" db:"workflow_version"`
	AnalysisData         []byte     `json:"analysis_data,omitempty" db:"analysis_data"`
	ErrorMessage         string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt            time.Time  `json:"started_at" db:"started_at"`
	AnalysisCompletedAt  *time.Time `json:"analysis_completed_at,omitempty" db:"analysis_completed_at"`
	LastDiscoveryFetchAt *time.Time `json:"last_discovery_fetch_at,omitempty" db:"last_discovery_fetch_at"`
}

// ReelRole marks whether a selected reel belongs to the primary account or a
// competitor.
type ReelRole string

const (
	RolePrimary    ReelRole = "primary"
	RoleCompetitor ReelRole = "competitor"
)

// ViralAnalysisReel is a reel selected for a run, with a snapshot of its
// metrics at selection time and the transcript outcome.
type ViralAnalysisReel struct {
	ID                  string   `json:"id" db:"id"`
	RunID               string   `json:"run_id" db:"run_id"`
	ContentID           string   `json:"content_id" db:"content_id"`
	Username            string   `json:"username" db:"username"`
	Shortcode           string   `json:"shortcode" db:"shortcode"`
	Role                ReelRole `json:"role" db:"role"`
	SelectionRank       int      `json:"selection_rank" db:"selection_rank"`
	ViewCount           int64    `json:"view_count" db:"view_count"`
	LikeCount           int64    `json:"like_count" db:"like_count"`
	CommentCount        int64    `json:"comment_count" db:"comment_count"`
	OutlierScore        float64  `json:"outlier_score" db:"outlier_score"`
	TranscriptRequested bool     `json:"transcript_requested" db:"transcript_requested"`
	TranscriptCompleted bool     `json:"transcript_completed" db:"transcript_completed"`
	TranscriptError     string   `json:"transcript_error,omitempty" db:"transcript_error"`
	HookText            string   `json:"hook_text,omitempty" db:"hook_text"`
	PowerWords          []string `json:"power_words,omitempty" db:"power_words"`
}

// ViralScript is one generated script row, a denormalised projection of the
// run's analysisData for listing.
type ViralScript struct {
	ID           string    `json:"id" db:"id"`
	RunID        string    `json:"run_id" db:"run_id"`
	Title        string    `json:"title" db:"title"`
	Content      string    `json:"content" db:"content"`
	PrimaryHook  string    `json:"primary_hook" db:"primary_hook"`
	CallToAction string    `json:"call_to_action" db:"call_to_action"`
	Kind         string    `json:"script_type" db:"script_type"`
	DurationSecs int       `json:"estimated_duration_seconds" db:"estimated_duration_seconds"`
	SourceReels  []byte    `json:"source_reels,omitempty" db:"source_reels"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ProfileAnalysis is the stage-1 output of the viral AI workflow.
type ProfileAnalysis struct {
	Positioning        string   `json:"positioning"`
	RecurringThemes    []string `json:"recurring_themes"`
	AudienceHypothesis string   `json:"audience_hypothesis"`
	ToneOfVoice        string   `json:"tone_of_voice,omitempty"`
}

// HookAnalysis is the stage-2 per-reel output.
type HookAnalysis struct {
	ReelID                string   `json:"reel_id"`
	Username              string   `json:"username"`
	HookText              string   `json:"hook_text"`
	PowerWords            []string `json:"power_words"`
	PsychologicalTriggers []string `json:"psychological_triggers"`
	AdaptationStrategy    string   `json:"adaptation_strategy"`
}

// GeneratedHook is a stage-3 output hook.
type GeneratedHook struct {
	HookText               string   `json:"hook_text"`
	SourceUsername         string   `json:"source_username"`
	EstimatedEffectiveness int      `json:"estimated_effectiveness"`
	PsychologicalTriggers  []string `json:"psychological_triggers"`
}

// ScriptSourceReels records which competitor material a script was built on.
type ScriptSourceReels struct {
	BasedOnCompetitor      string `json:"basedOnCompetitor"`
	OriginalCompetitorHook string `json:"originalCompetitorHook"`
}

// GeneratedScript is a stage-4 output script.
type GeneratedScript struct {
	Title                string            `json:"title"`
	Content              string            `json:"content"`
	PrimaryHook          string            `json:"primary_hook"`
	CallToAction         string            `json:"call_to_action"`
	ScriptType           string            `json:"script_type"`
	EstimatedDurationSec int               `json:"estimated_duration_seconds"`
	SourceReels          ScriptSourceReels `json:"source_reels"`
}

// AnalysisSummary is the roll-up block inside AnalysisData.
type AnalysisSummary struct {
	TotalHooksAnalyzed int `json:"total_hooks_analyzed"`
	HooksGenerated     int `json:"hooks_generated"`
	ScriptsCreated     int `json:"scripts_created"`
}

// AnalysisData is the canonical JSON blob persisted on a completed run. The
// HTTP layer serves this object; viral_scripts rows are projections of
// CompleteScripts.
type AnalysisData struct {
	ProfileAnalysis       ProfileAnalysis   `json:"profile_analysis"`
	IndividualReelAnalyses []HookAnalysis   `json:"individual_reel_analyses"`
	GeneratedHooks        []GeneratedHook   `json:"generated_hooks"`
	CompleteScripts       []GeneratedScript `json:"complete_scripts"`
	AnalysisSummary       AnalysisSummary   `json:"analysis_summary"`
	WorkflowVersion       string            `json:"workflow_version,omitempty"`
}
