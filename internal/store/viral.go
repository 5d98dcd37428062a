package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/model"
)

const viralRequestCols = `id, session_id, primary_username, competitors,
	content_strategy, status, progress, current_step, error_message,
	total_runs, next_scheduled_run, submitted_at, started_at, completed_at`

// CreateViralRequest inserts a new analysis request in status pending.
func (s *Postgres) CreateViralRequest(ctx context.Context, req *model.ViralAnalysisRequest) error {
	req.PrimaryUsername = NormalizeUsername(req.PrimaryUsername)
	if req.PrimaryUsername == "" {
		return eris.New("postgres: create viral request: empty primary username")
	}
	if req.SessionID == "" {
		return eris.New("postgres: create viral request: empty session id")
	}

	competitors := req.Competitors
	if competitors == nil {
		competitors = []string{}
	}
	for i, c := range competitors {
		competitors[i] = NormalizeUsername(c)
	}
	competitorsJSON, err := json.Marshal(competitors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal competitors")
	}
	strategyJSON, err := json.Marshal(req.Strategy)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal content strategy")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO viral_ideas_queue
		 (session_id, primary_username, competitors, content_strategy, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 RETURNING id, submitted_at`,
		req.SessionID, req.PrimaryUsername, competitorsJSON, strategyJSON,
	).Scan(&req.ID, &req.SubmittedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: create viral request %s", req.PrimaryUsername)
	}
	req.Status = model.ViralPending
	return nil
}

// GetViralRequest loads one request by id; nil when absent.
func (s *Postgres) GetViralRequest(ctx context.Context, id string) (*model.ViralAnalysisRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+viralRequestCols+` FROM viral_ideas_queue WHERE id = $1`, id)
	req, err := scanViralRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get viral request %s", id)
	}
	return req, nil
}

// GetViralRequestBySession lists a session's requests, newest first.
func (s *Postgres) GetViralRequestBySession(ctx context.Context, sessionID string) ([]model.ViralAnalysisRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+viralRequestCols+` FROM viral_ideas_queue
		 WHERE session_id = $1 ORDER BY submitted_at DESC`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: viral requests by session")
	}
	defer rows.Close()

	var out []model.ViralAnalysisRequest
	for rows.Next() {
		req, err := scanViralRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan viral request")
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "postgres: viral requests iterate")
}

// ActiveViralRequest finds a non-terminal request for (session, primary);
// nil when none exists. Duplicate submissions reuse the active request.
func (s *Postgres) ActiveViralRequest(ctx context.Context, sessionID, primaryUsername string) (*model.ViralAnalysisRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+viralRequestCols+` FROM viral_ideas_queue
		 WHERE session_id = $1 AND primary_username = $2
		   AND status IN ('pending', 'processing')
		 ORDER BY submitted_at DESC LIMIT 1`,
		sessionID, NormalizeUsername(primaryUsername))
	req, err := scanViralRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: active viral request")
	}
	return req, nil
}

// ActiveViralRequestForUser finds a non-terminal request for a primary
// username across all sessions; nil when none.
func (s *Postgres) ActiveViralRequestForUser(ctx context.Context, primaryUsername string) (*model.ViralAnalysisRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+viralRequestCols+` FROM viral_ideas_queue
		 WHERE primary_username = $1 AND status IN ('pending', 'processing')
		 ORDER BY submitted_at DESC LIMIT 1`,
		NormalizeUsername(primaryUsername))
	req, err := scanViralRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: active viral request for user")
	}
	return req, nil
}

// ClaimViralRequest atomically claims the oldest pending request and moves it
// to processing. Returns nil when nothing is pending.
func (s *Postgres) ClaimViralRequest(ctx context.Context) (*model.ViralAnalysisRequest, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE viral_ideas_queue
		 SET status = 'processing', started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE id = (
		   SELECT id FROM viral_ideas_queue WHERE status = 'pending'
		   ORDER BY submitted_at
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING `+viralRequestCols)
	req, err := scanViralRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim viral request")
	}
	return req, nil
}

// ClaimViralRequestByID claims one specific request for immediate execution.
// Returns false when the request is already processing, so a manual trigger
// cannot race the poller onto the same work.
func (s *Postgres) ClaimViralRequestByID(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE viral_ideas_queue
		 SET status = 'processing', started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE id = $1 AND status <> 'processing'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim viral request %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func scanViralRequest(row pgx.Row) (*model.ViralAnalysisRequest, error) {
	var req model.ViralAnalysisRequest
	var status string
	var competitorsJSON, strategyJSON []byte
	var errMsg *string
	err := row.Scan(&req.ID, &req.SessionID, &req.PrimaryUsername,
		&competitorsJSON, &strategyJSON, &status, &req.Progress,
		&req.CurrentStep, &errMsg, &req.TotalRuns, &req.NextScheduledRun,
		&req.SubmittedAt, &req.StartedAt, &req.CompletedAt)
	if err != nil {
		return nil, err
	}
	req.Status = model.ViralRequestStatus(status)
	if errMsg != nil {
		req.ErrorMessage = *errMsg
	}
	if len(competitorsJSON) > 0 {
		if err := json.Unmarshal(competitorsJSON, &req.Competitors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal competitors")
		}
	}
	if len(strategyJSON) > 0 {
		if err := json.Unmarshal(strategyJSON, &req.Strategy); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal content strategy")
		}
	}
	return &req, nil
}

// UpdateViralProgress records a progress checkpoint. Progress only moves
// forward; a stale writer cannot drag the bar backwards.
func (s *Postgres) UpdateViralProgress(ctx context.Context, id string, progress int, currentStep string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE viral_ideas_queue
		 SET progress = GREATEST(progress, $1), current_step = $2, updated_at = now()
		 WHERE id = $3`,
		progress, currentStep, id)
	return eris.Wrapf(err, "postgres: update viral progress %s", id)
}

// UpdateViralStatus moves a request to a new status, setting completed_at on
// terminal states and bumping total_runs on completion.
func (s *Postgres) UpdateViralStatus(ctx context.Context, id string, status model.ViralRequestStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE viral_ideas_queue SET status = $1,
		   error_message = NULLIF($2, ''),
		   completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN now() ELSE completed_at END,
		   total_runs = total_runs + CASE WHEN $1 = 'completed' THEN 1 ELSE 0 END,
		   updated_at = now()
		 WHERE id = $3`,
		string(status), errorMessage, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update viral status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("viral request not found: %s", id)
	}
	return nil
}

// ScheduleNextRun stamps when the next recurring refresh is due.
func (s *Postgres) ScheduleNextRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE viral_ideas_queue SET next_scheduled_run = $1, updated_at = now() WHERE id = $2`,
		at, id)
	return eris.Wrapf(err, "postgres: schedule next run %s", id)
}

// DueRecurringRequest claims one completed request whose refresh is due,
// moving it back to processing. Returns nil when nothing is due.
func (s *Postgres) DueRecurringRequest(ctx context.Context) (*model.ViralAnalysisRequest, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE viral_ideas_queue
		 SET status = 'processing', updated_at = now()
		 WHERE id = (
		   SELECT id FROM viral_ideas_queue
		   WHERE status = 'completed' AND next_scheduled_run <= now()
		   ORDER BY next_scheduled_run
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING `+viralRequestCols)
	req, err := scanViralRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: due recurring request")
	}
	return req, nil
}

const viralRunCols = `id, request_id, run_number, run_kind, status,
	workflow_version, primary_reels_count, competitor_reels_count,
	transcripts_fetched, analysis_data, error_message,
	last_discovery_fetch_at, started_at, analysis_completed_at`

// CreateRun inserts a numbered run for a request.
func (s *Postgres) CreateRun(ctx context.Context, run *model.ViralAnalysisRun) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO viral_analysis_runs
		 (request_id, run_number, run_kind, status, workflow_version)
		 VALUES ($1, $2, $3, 'pending', $4)
		 RETURNING id, started_at`,
		run.RequestID, run.RunNumber, string(run.Kind), run.WorkflowVersion,
	).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: create run for %s", run.RequestID)
	}
	run.Status = model.RunPending
	return nil
}

// NextRunNumber returns max(run_number)+1 for a request.
func (s *Postgres) NextRunNumber(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(run_number), 0) + 1 FROM viral_analysis_runs WHERE request_id = $1`,
		requestID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: next run number %s", requestID)
}

// UpdateRunStatus moves a run to a new status. Completion stamps
// analysis_completed_at.
func (s *Postgres) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE viral_analysis_runs SET status = $1,
		   error_message = NULLIF($2, ''),
		   analysis_completed_at = CASE WHEN $1 = 'completed' THEN now() ELSE analysis_completed_at END
		 WHERE id = $3`,
		string(status), errorMessage, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// SaveRunAnalysis persists the canonical analysis blob and reel counters.
func (s *Postgres) SaveRunAnalysis(ctx context.Context, runID string, analysisData []byte, transcriptsFetched int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE viral_analysis_runs
		 SET analysis_data = $1, transcripts_fetched = $2,
		     primary_reels_count = (SELECT count(*) FROM viral_analysis_reels WHERE run_id = $3 AND reel_role = 'primary'),
		     competitor_reels_count = (SELECT count(*) FROM viral_analysis_reels WHERE run_id = $3 AND reel_role = 'competitor')
		 WHERE id = $3`,
		analysisData, transcriptsFetched, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run analysis %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// LatestRun returns the newest run for a request, optionally restricted to a
// status; nil when none matches.
func (s *Postgres) LatestRun(ctx context.Context, requestID string, status model.RunStatus) (*model.ViralAnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+viralRunCols+` FROM viral_analysis_runs
		 WHERE request_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY run_number DESC LIMIT 1`,
		requestID, string(status))
	run, err := scanViralRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest run %s", requestID)
	}
	return run, nil
}

// LatestCompletedRunForUser returns the newest completed run across all of a
// primary username's requests; nil when none exists.
func (s *Postgres) LatestCompletedRunForUser(ctx context.Context, username string) (*model.ViralAnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT r.id, r.request_id, r.run_number, r.run_kind, r.status,
		        r.workflow_version, r.primary_reels_count, r.competitor_reels_count,
		        r.transcripts_fetched, r.analysis_data, r.error_message,
		        r.last_discovery_fetch_at, r.started_at, r.analysis_completed_at
		 FROM viral_analysis_runs r
		 JOIN viral_ideas_queue q ON q.id = r.request_id
		 WHERE q.primary_username = $1 AND r.status = 'completed'
		 ORDER BY r.analysis_completed_at DESC NULLS LAST LIMIT 1`,
		NormalizeUsername(username))
	run, err := scanViralRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest completed run for %s", username)
	}
	return run, nil
}

// SetRunDiscoveryFetchedAt stamps when newly-discovered competitor content
// was last pulled, the cursor for recurring runs.
func (s *Postgres) SetRunDiscoveryFetchedAt(ctx context.Context, runID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE viral_analysis_runs SET last_discovery_fetch_at = $1 WHERE id = $2`,
		at, runID)
	return eris.Wrapf(err, "postgres: set discovery fetched at %s", runID)
}

func scanViralRun(row pgx.Row) (*model.ViralAnalysisRun, error) {
	var run model.ViralAnalysisRun
	var kind, status string
	var errMsg *string
	err := row.Scan(&run.ID, &run.RequestID, &run.RunNumber, &kind, &status,
		&run.WorkflowVersion, &run.PrimaryReelsCount, &run.CompetitorReelsCount,
		&run.TranscriptsFetched, &run.AnalysisData, &errMsg,
		&run.LastDiscoveryFetchAt, &run.StartedAt, &run.AnalysisCompletedAt)
	if err != nil {
		return nil, err
	}
	run.Kind = model.RunKind(kind)
	run.Status = model.RunStatus(status)
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	return &run, nil
}

// InsertAnalysisReel records one selected reel for a run. Rows are written
// for every selected reel regardless of transcript outcome.
func (s *Postgres) InsertAnalysisReel(ctx context.Context, reel *model.ViralAnalysisReel) error {
	var powerWords []byte
	if len(reel.PowerWords) > 0 {
		var err error
		powerWords, err = json.Marshal(reel.PowerWords)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal power words")
		}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO viral_analysis_reels
		 (run_id, content_id, username, shortcode, reel_role, selection_rank,
		  view_count, like_count, comment_count, outlier_score,
		  transcript_requested, transcript_completed, transcript_error,
		  hook_text, power_words)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		         NULLIF($13, ''), NULLIF($14, ''), $15)
		 RETURNING id`,
		reel.RunID, reel.ContentID, NormalizeUsername(reel.Username),
		reel.Shortcode, string(reel.Role), reel.SelectionRank,
		reel.ViewCount, reel.LikeCount, reel.CommentCount, reel.OutlierScore,
		reel.TranscriptRequested, reel.TranscriptCompleted,
		reel.TranscriptError, reel.HookText, powerWords,
	).Scan(&reel.ID)
	return eris.Wrapf(err, "postgres: insert analysis reel %s", reel.Shortcode)
}

// UpdateAnalysisReelTranscript records the transcript outcome for a reel.
func (s *Postgres) UpdateAnalysisReelTranscript(ctx context.Context, reelID string, completed bool, transcriptError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE viral_analysis_reels
		 SET transcript_completed = $1, transcript_error = NULLIF($2, '')
		 WHERE id = $3`,
		completed, transcriptError, reelID)
	return eris.Wrapf(err, "postgres: update reel transcript %s", reelID)
}

// UpdateAnalysisReelHook stores the stage-2 hook extraction for a reel.
func (s *Postgres) UpdateAnalysisReelHook(ctx context.Context, reelID, hookText string, powerWords []string) error {
	var pw []byte
	if len(powerWords) > 0 {
		var err error
		pw, err = json.Marshal(powerWords)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal power words")
		}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE viral_analysis_reels SET hook_text = $1, power_words = $2 WHERE id = $3`,
		hookText, pw, reelID)
	return eris.Wrapf(err, "postgres: update reel hook %s", reelID)
}

// RunReels lists a run's selected reels, primary first, by selection rank.
func (s *Postgres) RunReels(ctx context.Context, runID string) ([]model.ViralAnalysisReel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, content_id, username, shortcode, reel_role,
		        selection_rank, view_count, like_count, comment_count,
		        outlier_score, transcript_requested, transcript_completed,
		        transcript_error, hook_text, power_words
		 FROM viral_analysis_reels WHERE run_id = $1
		 ORDER BY CASE reel_role WHEN 'primary' THEN 0 ELSE 1 END, selection_rank`,
		runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: run reels")
	}
	defer rows.Close()

	var out []model.ViralAnalysisReel
	for rows.Next() {
		var r model.ViralAnalysisReel
		var role string
		var transcriptError, hookText *string
		var powerWords []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.ContentID, &r.Username,
			&r.Shortcode, &role, &r.SelectionRank, &r.ViewCount, &r.LikeCount,
			&r.CommentCount, &r.OutlierScore, &r.TranscriptRequested,
			&r.TranscriptCompleted, &transcriptError, &hookText,
			&powerWords); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis reel")
		}
		r.Role = model.ReelRole(role)
		if transcriptError != nil {
			r.TranscriptError = *transcriptError
		}
		if hookText != nil {
			r.HookText = *hookText
		}
		if len(powerWords) > 0 {
			if err := json.Unmarshal(powerWords, &r.PowerWords); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal power words")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: run reels iterate")
}

// InsertScripts projects stage-4 scripts into viral_scripts rows.
func (s *Postgres) InsertScripts(ctx context.Context, runID string, scripts []model.GeneratedScript) (int, error) {
	saved := 0
	for i := range scripts {
		sourceReels, err := json.Marshal(scripts[i].SourceReels)
		if err != nil {
			return saved, eris.Wrap(err, "postgres: marshal source reels")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO viral_scripts
			 (run_id, title, script_content, primary_hook, call_to_action,
			  script_type, estimated_duration_seconds, source_reels)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			runID, scripts[i].Title, scripts[i].Content, scripts[i].PrimaryHook,
			scripts[i].CallToAction, scripts[i].ScriptType,
			scripts[i].EstimatedDurationSec, sourceReels)
		if err != nil {
			return saved, eris.Wrapf(err, "postgres: insert script %q", scripts[i].Title)
		}
		saved++
	}
	return saved, nil
}

// RunScripts lists the script projections for a run.
func (s *Postgres) RunScripts(ctx context.Context, runID string) ([]model.ViralScript, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, title, script_content, primary_hook, call_to_action,
		        script_type, estimated_duration_seconds, source_reels, created_at
		 FROM viral_scripts WHERE run_id = $1 ORDER BY created_at`,
		runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: run scripts")
	}
	defer rows.Close()

	var out []model.ViralScript
	for rows.Next() {
		var sc model.ViralScript
		if err := rows.Scan(&sc.ID, &sc.RunID, &sc.Title, &sc.Content,
			&sc.PrimaryHook, &sc.CallToAction, &sc.Kind, &sc.DurationSecs,
			&sc.SourceReels, &sc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan script")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: run scripts iterate")
}
