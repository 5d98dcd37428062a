// Package viral drives viral-ideas analysis requests to completion: claim,
// fetch profiles, select reels, transcribe, run the AI workflow, persist.
package viral

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viralscope/viralscope/internal/config"
	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/internal/viralai"
	"github.com/viralscope/viralscope/pkg/transcript"
)

// Fetcher pulls fresh reels for a username into the store.
type Fetcher interface {
	FetchForViral(ctx context.Context, username string, limit int) (int, error)
}

// Transcriber fetches one reel transcript.
type Transcriber interface {
	Fetch(ctx context.Context, reelURL string) (*transcript.Transcript, error)
}

// Analyzer runs the four-stage AI workflow over the selected reels.
type Analyzer interface {
	Analyze(ctx context.Context, in viralai.Input) (*model.AnalysisData, error)
}

// Progress checkpoints reported on the request row.
const (
	progressClaimed     = 10
	progressFetching    = 20
	progressSelecting   = 60
	progressTranscripts = 70
	progressAI          = 85
	progressDone        = 100
)

// Adaptive poll delays: fast after a hit, backing off while idle.
var pollDelays = []time.Duration{
	500 * time.Millisecond,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Processor is the workflow engine. One Processor runs per process.
type Processor struct {
	cfg         config.ViralConfig
	store       store.Store
	fetcher     Fetcher
	transcriber Transcriber
	analyzer    Analyzer

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Processor.
func New(cfg config.ViralConfig, st store.Store, fetcher Fetcher, transcriber Transcriber, analyzer Analyzer) *Processor {
	if cfg.InitialPrimaryReels <= 0 {
		cfg.InitialPrimaryReels = 100
	}
	if cfg.InitialCompetitorReels <= 0 {
		cfg.InitialCompetitorReels = 25
	}
	if cfg.PrimaryTranscripts <= 0 {
		cfg.PrimaryTranscripts = 3
	}
	if cfg.PrimaryMaxAttempts <= 0 {
		cfg.PrimaryMaxAttempts = 10
	}
	if cfg.CompetitorTranscripts <= 0 {
		cfg.CompetitorTranscripts = 5
	}
	if cfg.CompetitorMaxAttempts <= 0 {
		cfg.CompetitorMaxAttempts = 20
	}
	if cfg.RecurringTopReels <= 0 {
		cfg.RecurringTopReels = 5
	}
	if cfg.RefreshHours <= 0 {
		cfg.RefreshHours = 24
	}
	return &Processor{
		cfg:         cfg,
		store:       st,
		fetcher:     fetcher,
		transcriber: transcriber,
		analyzer:    analyzer,
		sleep:       sleepCtx,
	}
}

// Run polls for claimable requests until ctx is cancelled. New requests are
// preferred; due recurring refreshes fill the idle time.
func (p *Processor) Run(ctx context.Context) error {
	idleChecks := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := p.claim(ctx)
		if err != nil {
			zap.L().Warn("viral: claim failed", zap.Error(err))
		}
		if req != nil {
			idleChecks = 0
			if err := p.Process(ctx, req); err != nil {
				zap.L().Error("viral: request failed",
					zap.String("id", req.ID),
					zap.String("primary", req.PrimaryUsername),
					zap.Error(err))
			}
		} else {
			idleChecks++
		}

		delay := pollDelays[min(idleChecks, len(pollDelays)-1)]
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// claim takes the next pending request, or a completed recurring request
// whose next scheduled run is due.
func (p *Processor) claim(ctx context.Context) (*model.ViralAnalysisRequest, error) {
	req, err := p.store.ClaimViralRequest(ctx)
	if err != nil || req != nil {
		return req, err
	}
	return p.store.DueRecurringRequest(ctx)
}

// Process drives one claimed request through a full run. The request is
// already in status processing when this is called.
func (p *Processor) Process(ctx context.Context, req *model.ViralAnalysisRequest) error {
	log := zap.L().With(
		zap.String("request_id", req.ID),
		zap.String("primary", req.PrimaryUsername))

	p.progress(ctx, req.ID, progressClaimed, "Analysis claimed")

	runNumber, err := p.store.NextRunNumber(ctx, req.ID)
	if err != nil {
		return p.failRequest(ctx, req.ID, err)
	}
	kind := model.RunInitial
	if runNumber > 1 {
		kind = model.RunRecurring
	}
	run := &model.ViralAnalysisRun{
		RequestID:       req.ID,
		RunNumber:       runNumber,
		Kind:            kind,
		WorkflowVersion: p.cfg.WorkflowVersion,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return p.failRequest(ctx, req.ID, err)
	}
	log.Info("viral: run started",
		zap.Int("run_number", runNumber), zap.String("kind", string(kind)))

	var selected []candidate
	if kind == model.RunInitial {
		selected, err = p.initialRun(ctx, req)
	} else {
		selected, err = p.recurringRun(ctx, req)
	}
	if err != nil {
		p.failRun(ctx, run.ID, err)
		return p.failRequest(ctx, req.ID, err)
	}

	p.progress(ctx, req.ID, progressTranscripts, "Processing transcripts")
	reels, fetched := p.transcribe(ctx, run.ID, selected)
	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunTranscriptsCompleted, ""); err != nil {
		return p.failRequest(ctx, req.ID, err)
	}

	p.progress(ctx, req.ID, progressAI, "Generating viral ideas")
	if err := p.analyze(ctx, req, run, reels, fetched); err != nil {
		// Transcripts stay durable; the run holds at transcripts_completed.
		log.Warn("viral: AI stage failed, transcripts preserved", zap.Error(err))
		return p.failRequest(ctx, req.ID, err)
	}

	now := time.Now().UTC()
	if err := p.store.SetRunDiscoveryFetchedAt(ctx, run.ID, now); err != nil {
		log.Warn("viral: discovery timestamp update failed", zap.Error(err))
	}
	if err := p.store.UpdateViralStatus(ctx, req.ID, model.ViralCompleted, ""); err != nil {
		return err
	}
	p.progress(ctx, req.ID, progressDone, "Analysis completed")
	if err := p.store.ScheduleNextRun(ctx, req.ID, now.Add(p.cfg.RefreshInterval())); err != nil {
		log.Warn("viral: next-run scheduling failed", zap.Error(err))
	}

	log.Info("viral: run completed",
		zap.Int("run_number", runNumber),
		zap.Int("transcripts", fetched))
	return nil
}

// initialRun fetches the primary and every competitor in parallel, then
// selects the transcript candidates. Competitor fetch failures are logged;
// only a primary failure aborts the run.
func (p *Processor) initialRun(ctx context.Context, req *model.ViralAnalysisRequest) ([]candidate, error) {
	p.progress(ctx, req.ID, progressFetching, "Fetching profiles")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.fetcher.FetchForViral(gctx, req.PrimaryUsername, p.cfg.InitialPrimaryReels)
		return eris.Wrapf(err, "viral: fetch primary %s", req.PrimaryUsername)
	})
	for _, competitor := range req.Competitors {
		g.Go(func() error {
			if _, err := p.fetcher.FetchForViral(gctx, competitor, p.cfg.InitialCompetitorReels); err != nil {
				zap.L().Warn("viral: competitor fetch failed",
					zap.String("competitor", competitor), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.progress(ctx, req.ID, progressSelecting, "Selecting top reels")
	return p.selectInitial(ctx, req)
}

// recurringRun refreshes every participant and selects the top
// newly-discovered competitor reels. The primary is skipped in recurring
// selection.
func (p *Processor) recurringRun(ctx context.Context, req *model.ViralAnalysisRequest) ([]candidate, error) {
	p.progress(ctx, req.ID, progressFetching, "Refreshing profiles")

	var since *time.Time
	if last, err := p.store.LatestRun(ctx, req.ID, model.RunCompleted); err == nil && last != nil {
		since = last.LastDiscoveryFetchAt
	}

	for _, username := range req.Competitors {
		if _, err := p.fetcher.FetchForViral(ctx, username, p.cfg.InitialCompetitorReels); err != nil {
			zap.L().Warn("viral: recurring refresh failed",
				zap.String("username", username), zap.Error(err))
		}
	}

	p.progress(ctx, req.ID, progressSelecting, "Selecting new reels")
	return p.selectRecurring(ctx, req, since)
}

// analyze runs the AI workflow and persists its outputs: the canonical
// analysis JSON, per-reel hooks, and the denormalised script rows.
func (p *Processor) analyze(ctx context.Context, req *model.ViralAnalysisRequest, run *model.ViralAnalysisRun, reels []viralai.ReelInput, transcriptsFetched int) error {
	primary, err := p.store.GetPrimary(ctx, req.PrimaryUsername)
	if err != nil {
		return err
	}
	if primary == nil {
		return eris.Errorf("viral: primary profile missing after fetch: %s", req.PrimaryUsername)
	}
	captions, err := p.recentCaptions(ctx, req.PrimaryUsername)
	if err != nil {
		zap.L().Warn("viral: caption lookup failed", zap.Error(err))
	}

	data, err := p.analyzer.Analyze(ctx, viralai.Input{
		Primary:        primary,
		Strategy:       req.Strategy,
		RecentCaptions: captions,
		Reels:          reels,
	})
	if err != nil {
		return err
	}
	data.WorkflowVersion = p.cfg.WorkflowVersion

	for _, hook := range data.IndividualReelAnalyses {
		if hook.ReelID == "" || hook.HookText == "" {
			continue
		}
		if err := p.store.UpdateAnalysisReelHook(ctx, hook.ReelID, hook.HookText, hook.PowerWords); err != nil {
			zap.L().Warn("viral: reel hook update failed",
				zap.String("reel_id", hook.ReelID), zap.Error(err))
		}
	}

	if _, err := p.store.InsertScripts(ctx, run.ID, data.CompleteScripts); err != nil {
		return eris.Wrap(err, "viral: persist scripts")
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "viral: marshal analysis data")
	}
	if err := p.store.SaveRunAnalysis(ctx, run.ID, blob, transcriptsFetched); err != nil {
		return err
	}
	return p.store.UpdateRunStatus(ctx, run.ID, model.RunCompleted, "")
}

// recentCaptions returns up to 10 recent non-empty captions for the primary.
func (p *Processor) recentCaptions(ctx context.Context, username string) ([]string, error) {
	reels, err := p.store.TopReels(ctx, username, nil, 10)
	if err != nil {
		return nil, err
	}
	captions := make([]string, 0, len(reels))
	for _, r := range reels {
		if r.Description != "" {
			captions = append(captions, r.Description)
		}
	}
	return captions, nil
}

func (p *Processor) progress(ctx context.Context, requestID string, pct int, step string) {
	if err := p.store.UpdateViralProgress(ctx, requestID, pct, step); err != nil {
		zap.L().Warn("viral: progress update failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (p *Processor) failRequest(ctx context.Context, requestID string, cause error) error {
	if err := p.store.UpdateViralStatus(ctx, requestID, model.ViralFailed, cause.Error()); err != nil {
		zap.L().Error("viral: failure status update failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
	return cause
}

func (p *Processor) failRun(ctx context.Context, runID string, cause error) {
	if err := p.store.UpdateRunStatus(ctx, runID, model.RunFailed, cause.Error()); err != nil {
		zap.L().Error("viral: run failure update failed",
			zap.String("run_id", runID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
