package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBulkOpts() BulkOptions {
	return BulkOptions{
		MaxReels:     100,
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
	}
}

func TestBulkReels_SubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/reels/bulk":
			assert.Equal(t, "acct", r.URL.Query().Get("username"))
			json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1"})
		case "/v2/reels/result":
			assert.Equal(t, "job-1", r.URL.Query().Get("job_id"))
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": "done",
				"reels": []map[string]any{
					{"code": "r1", "media_type": 2, "play_count": 10},
					{"code": "r2", "media_type": 2, "play_count": 20},
				},
			})
		}
	}))

	reels, err := c.BulkReels(context.Background(), "acct", fastBulkOpts())
	require.NoError(t, err)
	assert.Len(t, reels, 2)
	assert.Equal(t, int32(3), polls.Load())
}

func TestBulkReels_JobError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/reels/bulk":
			json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1"})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": "private account"})
		}
	}))

	_, err := c.BulkReels(context.Background(), "acct", fastBulkOpts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private account")
}

func TestBulkReels_WaitCap(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/reels/bulk":
			json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1"})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
		}
	}))

	opts := fastBulkOpts()
	opts.MaxWait = 10 * time.Millisecond
	_, err := c.BulkReels(context.Background(), "acct", opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestBulkReels_MissingJobID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))

	_, err := c.BulkReels(context.Background(), "acct", fastBulkOpts())
	require.Error(t, err)
}
