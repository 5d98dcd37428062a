// Package transcript wraps the reel-transcription vendor. Missing audio or
// an unsupported language is a soft failure (ErrUnavailable), not an error
// worth retrying.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"

	"github.com/viralscope/viralscope/internal/resilience"
)

// ErrUnavailable marks reels with no extractable transcript: no audio track,
// music-only, or a language the vendor does not support.
var ErrUnavailable = errors.New("transcript: unavailable for this reel")

// Segment is one timed line of a transcript.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the vendor's result for one reel.
type Transcript struct {
	Language           string    `json:"language"`
	AvailableLanguages []string  `json:"available_languages"`
	Segments           []Segment `json:"segments"`
}

// FullText concatenates segment texts in order.
func (t Transcript) FullText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// Config holds vendor credentials.
type Config struct {
	APIKey  string
	Host    string
	Timeout time.Duration

	// BaseURL overrides scheme+authority for tests.
	BaseURL string

	// Backoff overrides the 2/4/8s retry ladder; used by tests.
	Backoff []time.Duration

	HTTPClient *http.Client
}

// Client fetches transcripts with retry.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a transcript client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type vendorResponse struct {
	Success            bool      `json:"success"`
	Error              string    `json:"error"`
	Language           string    `json:"language"`
	AvailableLanguages []string  `json:"available_languages"`
	Segments           []Segment `json:"segments"`
}

// Fetch retrieves the transcript for a reel URL. Up to 3 attempts with the
// 2/4/8-second ladder for transient failures; ErrUnavailable is returned
// immediately and should be recorded as transcriptError, not retried.
func (c *Client) Fetch(ctx context.Context, reelURL string) (*Transcript, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Backoff[min(attempt-1, len(c.cfg.Backoff)-1)]
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, eris.Wrap(ctx.Err(), "transcript: fetch")
			case <-timer.C:
			}
		}

		tr, err := c.fetchOnce(ctx, reelURL)
		if err == nil {
			return tr, nil
		}
		if errors.Is(err, ErrUnavailable) || !resilience.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, reelURL string) (*Transcript, error) {
	base := c.cfg.BaseURL
	if base == "" {
		base = "https://" + c.cfg.Host
	}
	u := base + "/transcript?" + url.Values{"url": {reelURL}}.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "transcript: build request")
	}
	req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
	req.Header.Set("x-rapidapi-host", c.cfg.Host)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Wrap(resilience.KindTransient, eris.Wrap(err, "transcript: request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, resilience.WrapStatus(resp.StatusCode,
			eris.New(fmt.Sprintf("transcript: %s", string(body))))
	}

	var vr vendorResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, resilience.Wrap(resilience.KindTransient, eris.Wrap(err, "transcript: decode"))
	}

	if !vr.Success || len(vr.Segments) == 0 {
		return nil, ErrUnavailable
	}

	return &Transcript{
		Language:           CanonicalLanguage(vr.Language),
		AvailableLanguages: canonicalAll(vr.AvailableLanguages),
		Segments:           vr.Segments,
	}, nil
}

// CanonicalLanguage normalises a vendor language tag to its BCP 47 base
// ("en-US" -> "en"). Unparseable tags pass through lowercased.
func CanonicalLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	base, _ := parsed.Base()
	return base.String()
}

func canonicalAll(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		c := CanonicalLanguage(t)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
