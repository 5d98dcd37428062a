package instagram

import (
	"context"
	"net/url"
	"strings"

	"github.com/viralscope/viralscope/internal/resilience"
)

type profileEnvelope struct {
	Data rawProfile `json:"data"`
}

// Profile fetches a profile by username from the primary scraper host,
// falling back to the secondary host on a miss.
func (c *Client) Profile(ctx context.Context, username string) (*ProfileRecord, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	query := url.Values{"username_or_id_or_url": {username}}

	var env profileEnvelope
	err := c.getRetried(ctx, c.cfg.Host, "/v1/info", query, c.cfg.Timeout, &env)
	if err != nil && resilience.IsNotFound(err) && c.cfg.SecondaryHost != "" {
		err = c.getRetried(ctx, c.cfg.SecondaryHost, "/v1/info", query, c.cfg.Timeout, &env)
	}
	if err != nil {
		return nil, err
	}

	rec := env.Data.toRecord()
	if rec.Username == "" {
		rec.Username = username
	}
	return &rec, nil
}
