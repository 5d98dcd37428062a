package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:  "k",
		Host:    "transcript.test",
		BaseURL: srv.URL,
		Backoff: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	})
}

func TestFetch_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://instagram.com/reel/abc/", r.URL.Query().Get("url"))
		json.NewEncoder(w).Encode(map[string]any{
			"success":             true,
			"language":            "en-US",
			"available_languages": []string{"en-US", "es-419", "en"},
			"segments": []map[string]any{
				{"text": "Stop scrolling.", "start": 0.0, "end": 1.2},
				{"text": "This changes everything.", "start": 1.2, "end": 3.0},
			},
		})
	}))

	tr, err := c.Fetch(context.Background(), "https://instagram.com/reel/abc/")
	require.NoError(t, err)
	assert.Equal(t, "en", tr.Language)
	assert.Equal(t, []string{"en", "es"}, tr.AvailableLanguages)
	assert.Equal(t, "Stop scrolling. This changes everything.", tr.FullText())
}

func TestFetch_NoAudioIsSoftFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "no audio"})
	}))

	_, err := c.Fetch(context.Background(), "u")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "soft failures must not retry")
}

func TestFetch_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"language": "en",
			"segments": []map[string]any{{"text": "hook"}},
		})
	}))

	tr, err := c.Fetch(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "hook", tr.FullText())
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Fetch(context.Background(), "u")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_404IsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.Fetch(context.Background(), "u")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCanonicalLanguage(t *testing.T) {
	assert.Equal(t, "en", CanonicalLanguage("en-US"))
	assert.Equal(t, "es", CanonicalLanguage("es-419"))
	assert.Equal(t, "pt", CanonicalLanguage("pt-BR"))
	assert.Equal(t, "", CanonicalLanguage("  "))
	assert.Equal(t, "??", CanonicalLanguage("??"))
}
