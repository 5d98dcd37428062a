package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralscope/viralscope/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{
		APIKey:      "test-key",
		Host:        "scraper.test",
		SimilarHost: "similar.test",
		AltHost:     "bulk.test",
		BaseURL:     srv.URL,
		Retry:       fastRetry(),
	})
	return c, srv
}

func TestProfile_Success(t *testing.T) {
	var sawKey, sawHost string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey = r.Header.Get("x-rapidapi-key")
		sawHost = r.Header.Get("x-rapidapi-host")
		assert.Equal(t, "mindset.therapy", r.URL.Query().Get("username_or_id_or_url"))
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"username":       "Mindset.Therapy",
			"full_name":      "Mindset",
			"follower_count": 125000,
			"is_verified":    true,
			"profile_pic_url": "http://img/sd.jpg",
			"hd_profile_pic_url_info": map[string]any{"url": "http://img/hd.jpg"},
		}})
	}))

	p, err := c.Profile(context.Background(), " Mindset.Therapy ")
	require.NoError(t, err)
	assert.Equal(t, "test-key", sawKey)
	assert.Equal(t, "scraper.test", sawHost)
	assert.Equal(t, "mindset.therapy", p.Username)
	assert.Equal(t, int64(125000), p.Followers)
	assert.Equal(t, "http://img/hd.jpg", p.BestAvatarURL())
}

func TestGet_RetriesOn500(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"username": "x"}})
	}))

	_, err := c.Profile(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_FailsFastOn403(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.Profile(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, resilience.KindValidation, resilience.KindOf(err))
}

func TestGet_429ShrinksLimiterAndRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"username": "x"}})
	}))

	before := c.limiters["scraper.test"].Limit()
	_, err := c.Profile(context.Background(), "x")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int32(calls.Load()), int32(2))
	// One 429 then one success: limiter must sit below its starting rate.
	assert.Less(t, float64(c.limiters["scraper.test"].Limit()), float64(before))
}

func TestGet_RetriesOnTruncatedJSON(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.Write([]byte(`{"data": {"usern`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"username": "x"}})
	}))

	_, err := c.Profile(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProfile_404FallsBackToSecondaryHost(t *testing.T) {
	hosts := []string{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Header.Get("x-rapidapi-host")
		hosts = append(hosts, host)
		if host == "scraper.test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"username": "found"}})
	}))
	c.cfg.SecondaryHost = "secondary.test"

	p, err := c.Profile(context.Background(), "found")
	require.NoError(t, err)
	assert.Equal(t, "found", p.Username)
	assert.Contains(t, hosts, "secondary.test")
}
