package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
)

type viralQueueRequest struct {
	SessionID           string                `json:"session_id"`
	PrimaryUsername     string                `json:"primary_username"`
	SelectedCompetitors []string              `json:"selected_competitors"`
	ContentStrategy     model.ContentStrategy `json:"content_strategy"`
}

// handleViralQueue creates a viral-ideas analysis request. One active
// request per (session, primary): a duplicate submit returns the live one.
func (s *Server) handleViralQueue(w http.ResponseWriter, r *http.Request) {
	var body viralQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SessionID == "" || body.PrimaryUsername == "" {
		respondError(w, http.StatusUnprocessableEntity, "session_id and primary_username are required")
		return
	}

	existing, err := s.store.ActiveViralRequest(r.Context(), body.SessionID, body.PrimaryUsername)
	if err != nil {
		internalError(w, "active request lookup", err)
		return
	}
	if existing != nil {
		respondMessage(w, http.StatusAccepted, existing, "Analysis already queued")
		return
	}

	req := &model.ViralAnalysisRequest{
		SessionID:       body.SessionID,
		PrimaryUsername: body.PrimaryUsername,
		Competitors:     body.SelectedCompetitors,
		Strategy:        body.ContentStrategy,
		Status:          model.ViralPending,
	}
	if err := s.store.CreateViralRequest(r.Context(), req); err != nil {
		internalError(w, "create viral request", err)
		return
	}
	respondMessage(w, http.StatusAccepted, req, "Analysis queued")
}

func (s *Server) handleViralSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	requests, err := s.store.GetViralRequestBySession(r.Context(), sessionID)
	if err != nil {
		internalError(w, "session requests", err)
		return
	}
	if len(requests) == 0 {
		respondError(w, http.StatusNotFound, "No analysis found for session")
		return
	}
	respond(w, http.StatusOK, requests)
}

type existingAnalysis struct {
	Exists      bool       `json:"exists"`
	QueueID     string     `json:"queue_id,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	Status      string     `json:"status,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// handleViralCheckExisting prefers the latest completed run for a username
// and falls back to any active request.
func (s *Server) handleViralCheckExisting(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	run, err := s.store.LatestCompletedRunForUser(r.Context(), username)
	if err != nil {
		internalError(w, "completed run lookup", err)
		return
	}
	if run != nil {
		out := existingAnalysis{
			Exists:      true,
			QueueID:     run.RequestID,
			RunID:       run.ID,
			Status:      "completed",
			CompletedAt: run.AnalysisCompletedAt,
		}
		if req, err := s.store.GetViralRequest(r.Context(), run.RequestID); err == nil && req != nil {
			out.SessionID = req.SessionID
		}
		respond(w, http.StatusOK, out)
		return
	}

	active, err := s.store.ActiveViralRequestForUser(r.Context(), username)
	if err != nil {
		internalError(w, "active request lookup", err)
		return
	}
	if active != nil {
		respond(w, http.StatusOK, existingAnalysis{
			Exists:    true,
			QueueID:   active.ID,
			SessionID: active.SessionID,
			Status:    string(active.Status),
		})
		return
	}
	respond(w, http.StatusOK, existingAnalysis{Exists: false})
}

// handleViralStart returns a request to the pending pool so the poller
// picks it up.
func (s *Server) handleViralStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadViralRequest(w, r)
	if !ok {
		return
	}
	if req.Status == model.ViralCompleted {
		respondMessage(w, http.StatusOK, req, "Analysis already completed")
		return
	}
	if err := s.store.UpdateViralStatus(r.Context(), req.ID, model.ViralPending, ""); err != nil {
		internalError(w, "start request", err)
		return
	}
	if err := s.store.UpdateViralProgress(r.Context(), req.ID, 0, "queued"); err != nil {
		internalError(w, "start request", err)
		return
	}
	respondMessage(w, http.StatusAccepted, nil, "Analysis queued")
}

// handleViralProcess triggers immediate execution instead of waiting for
// the poll loop.
func (s *Server) handleViralProcess(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadViralRequest(w, r)
	if !ok {
		return
	}
	if s.trigger == nil {
		if err := s.store.UpdateViralStatus(r.Context(), req.ID, model.ViralPending, ""); err != nil {
			internalError(w, "queue request", err)
			return
		}
		respondMessage(w, http.StatusAccepted, nil, "Analysis queued")
		return
	}

	// The claim moves the request to processing before the goroutine spawns,
	// so a double trigger, or a race with the poller, runs the work once.
	claimed, err := s.store.ClaimViralRequestByID(r.Context(), req.ID)
	if err != nil {
		internalError(w, "claim request", err)
		return
	}
	if !claimed {
		respondMessage(w, http.StatusAccepted, nil, "Analysis is already processing")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.trigger.Process(ctx, req); err != nil {
			zap.L().Error("api: triggered analysis failed",
				zap.String("request_id", req.ID), zap.Error(err))
		}
	}()
	respondMessage(w, http.StatusAccepted, nil, "Processing started")
}

func (s *Server) loadViralRequest(w http.ResponseWriter, r *http.Request) (*model.ViralAnalysisRequest, bool) {
	req, err := s.store.GetViralRequest(r.Context(), chi.URLParam(r, "queueID"))
	if err != nil {
		internalError(w, "get viral request", err)
		return nil, false
	}
	if req == nil {
		respondError(w, http.StatusNotFound, "Analysis not found")
		return nil, false
	}
	return req, true
}

type scriptSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ScriptType   string `json:"script_type"`
	DurationSecs int    `json:"estimated_duration_seconds"`
}

// viralIdea is the legacy projection of a generated hook kept for older
// frontend builds.
type viralIdea struct {
	IdeaText        string   `json:"idea_text"`
	Explanation     string   `json:"explanation"`
	ConfidenceScore int      `json:"confidence_score"`
	PowerWords      []string `json:"power_words"`
}

type viralResults struct {
	Analysis               *model.ViralAnalysisRun   `json:"analysis"`
	PrimaryProfile         *model.PrimaryProfile     `json:"primary_profile"`
	AnalyzedReels          []model.ViralAnalysisReel `json:"analyzed_reels"`
	PrimaryUserReels       []model.ViralAnalysisReel `json:"primary_user_reels"`
	CompetitorReels        []model.ViralAnalysisReel `json:"competitor_reels"`
	CompetitorProfiles     []model.PrimaryProfile    `json:"competitor_profiles"`
	ViralScriptsTable      []model.ViralScript       `json:"viral_scripts_table"`
	AnalysisData           *model.AnalysisData       `json:"analysis_data"`
	ProfileAnalysis        model.ProfileAnalysis     `json:"profile_analysis"`
	GeneratedHooks         []model.GeneratedHook     `json:"generated_hooks"`
	IndividualReelAnalyses []model.HookAnalysis      `json:"individual_reel_analyses"`
	CompleteScripts        []model.GeneratedScript   `json:"complete_scripts"`
	ScriptsSummary         []scriptSummary           `json:"scripts_summary"`
	AnalysisSummary        model.AnalysisSummary     `json:"analysis_summary"`
	ViralIdeas             []viralIdea               `json:"viral_ideas"`
}

func (s *Server) handleViralResults(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadViralRequest(w, r)
	if !ok {
		return
	}

	run, err := s.store.LatestRun(r.Context(), req.ID, model.RunCompleted)
	if err != nil {
		internalError(w, "latest run", err)
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "Analysis is not ready yet")
		return
	}

	var data model.AnalysisData
	if len(run.AnalysisData) > 0 {
		if err := json.Unmarshal(run.AnalysisData, &data); err != nil {
			internalError(w, "decode analysis", err)
			return
		}
	}
	// The parsed blob is served separately; keep the raw bytes off the wire.
	run.AnalysisData = nil

	reels, err := s.store.RunReels(r.Context(), run.ID)
	if err != nil {
		internalError(w, "run reels", err)
		return
	}
	scripts, err := s.store.RunScripts(r.Context(), run.ID)
	if err != nil {
		internalError(w, "run scripts", err)
		return
	}

	out := viralResults{
		Analysis:               run,
		AnalyzedReels:          reels,
		ViralScriptsTable:      scripts,
		AnalysisData:           &data,
		ProfileAnalysis:        data.ProfileAnalysis,
		GeneratedHooks:         data.GeneratedHooks,
		IndividualReelAnalyses: data.IndividualReelAnalyses,
		CompleteScripts:        data.CompleteScripts,
		AnalysisSummary:        data.AnalysisSummary,
	}
	for _, reel := range reels {
		if reel.Role == model.RolePrimary {
			out.PrimaryUserReels = append(out.PrimaryUserReels, reel)
		} else {
			out.CompetitorReels = append(out.CompetitorReels, reel)
		}
	}
	for _, sc := range scripts {
		out.ScriptsSummary = append(out.ScriptsSummary, scriptSummary{
			ID: sc.ID, Title: sc.Title, ScriptType: sc.Kind, DurationSecs: sc.DurationSecs,
		})
	}
	for _, hook := range data.GeneratedHooks {
		explanation := ""
		if hook.SourceUsername != "" {
			explanation = "Adapted from @" + hook.SourceUsername
		}
		out.ViralIdeas = append(out.ViralIdeas, viralIdea{
			IdeaText:        hook.HookText,
			Explanation:     explanation,
			ConfidenceScore: hook.EstimatedEffectiveness,
			PowerWords:      hook.PsychologicalTriggers,
		})
	}

	if primary, err := s.store.GetPrimary(r.Context(), req.PrimaryUsername); err == nil {
		out.PrimaryProfile = primary
	}
	for _, competitor := range req.Competitors {
		p, err := s.store.GetPrimary(r.Context(), competitor)
		if err != nil || p == nil {
			continue
		}
		out.CompetitorProfiles = append(out.CompetitorProfiles, *p)
	}

	respond(w, http.StatusOK, out)
}

func (s *Server) handleViralContent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadViralRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	contentType := q.Get("content_type")
	if contentType == "" {
		contentType = "all"
	}
	if contentType != "all" && contentType != "primary" && contentType != "competitor" {
		respondError(w, http.StatusUnprocessableEntity, "content_type must be all, primary, or competitor")
		return
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

	// Transcripts persist even when the AI stage failed, so content is
	// served from the transcript checkpoint onwards.
	run, err := s.store.LatestRun(r.Context(), req.ID, model.RunCompleted)
	if err != nil {
		internalError(w, "latest run", err)
		return
	}
	if run == nil {
		run, err = s.store.LatestRun(r.Context(), req.ID, model.RunTranscriptsCompleted)
		if err != nil {
			internalError(w, "latest run", err)
			return
		}
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "No analysis run found")
		return
	}

	reels, err := s.store.RunReels(r.Context(), run.ID)
	if err != nil {
		internalError(w, "run reels", err)
		return
	}
	filtered := reels[:0:0]
	for _, reel := range reels {
		if contentType == "all" || string(reel.Role) == contentType {
			filtered = append(filtered, reel)
		}
	}

	if offset > len(filtered) {
		offset = len(filtered)
	}
	window := filtered[offset:]
	isLast := len(window) <= limit
	if !isLast {
		window = window[:limit]
	}
	respond(w, http.StatusOK, map[string]any{
		"reels":      window,
		"isLastPage": isLast,
	})
}
