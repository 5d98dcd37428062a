package instagram

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/resilience"
)

// bulkSubmitEnvelope is the async job handle the bulk provider returns.
type bulkSubmitEnvelope struct {
	JobID string `json:"job_id"`
}

type bulkPollEnvelope struct {
	Status string  `json:"status"` // "pending", "running", "done", "error"
	Error  string  `json:"error"`
	Reels  []Media `json:"reels"`
}

// BulkOptions tunes the bulk-reels job polling.
type BulkOptions struct {
	MaxReels     int           // provider cap is 100
	PollInterval time.Duration // default 2s
	MaxWait      time.Duration // total-wait cap, default 2m
}

// BulkReels submits an asynchronous bulk-reels job for a username and polls
// until the provider finishes or the wait cap expires. Used by the
// LOW-priority ingest path.
func (c *Client) BulkReels(ctx context.Context, username string, opts BulkOptions) ([]Media, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if opts.MaxReels <= 0 || opts.MaxReels > 100 {
		opts.MaxReels = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Minute
	}

	var submitted bulkSubmitEnvelope
	query := url.Values{
		"username": {username},
		"count":    {strconv.Itoa(opts.MaxReels)},
	}
	if err := c.getRetried(ctx, c.cfg.AltHost, "/v2/reels/bulk", query, c.cfg.Timeout, &submitted); err != nil {
		return nil, err
	}
	if submitted.JobID == "" {
		return nil, resilience.Wrap(resilience.KindMalformed,
			eris.New("instagram: bulk submit returned no job id"))
	}

	deadline := time.Now().Add(opts.MaxWait)
	for {
		var polled bulkPollEnvelope
		pollQuery := url.Values{"job_id": {submitted.JobID}}
		if err := c.getRetried(ctx, c.cfg.AltHost, "/v2/reels/result", pollQuery, c.cfg.Timeout, &polled); err != nil {
			return nil, err
		}

		switch polled.Status {
		case "done":
			reels := polled.Reels
			if len(reels) > opts.MaxReels {
				reels = reels[:opts.MaxReels]
			}
			return reels, nil
		case "error":
			return nil, resilience.Wrap(resilience.KindMalformed,
				eris.New("instagram: bulk job failed: "+polled.Error))
		}

		if time.Now().After(deadline) {
			return nil, resilience.Wrap(resilience.KindTransient,
				eris.New("instagram: bulk job timed out"))
		}

		timer := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "instagram: bulk poll")
		case <-timer.C:
		}
	}
}
