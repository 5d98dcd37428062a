package instagram

import (
	"context"
	"net/url"
	"strings"
)

// ListOptions controls paginated listing calls.
type ListOptions struct {
	// Count is the target number of items; 0 means one page.
	Count int
	// MaxPages caps how many pages are fetched; 0 means no cap (the scan
	// stops on Count or when the provider runs out).
	MaxPages int
	// PageToken resumes a previous scan.
	PageToken string
}

// Listing is one page-bounded slice of a profile's content.
//
// Token contract: callers that set MaxPages always receive the provider's
// next token when one exists, even if Count was also reached, so progressive
// fetching can resume. Callers without a page cap receive a token only when
// the Count limit stopped the scan.
type Listing struct {
	Items         []Media
	NextPageToken string
}

type listingEnvelope struct {
	Data struct {
		Items []Media `json:"items"`
	} `json:"data"`
	PaginationToken string `json:"pagination_token"`
}

// hardPageCap bounds any single listing call regardless of options.
const hardPageCap = 20

// ListReels lists a profile's reels, newest first.
func (c *Client) ListReels(ctx context.Context, username string, opts ListOptions) (*Listing, error) {
	return c.list(ctx, "/v1.2/reels", username, opts)
}

// ListPosts lists a profile's posts, newest first.
func (c *Client) ListPosts(ctx context.Context, username string, opts ListOptions) (*Listing, error) {
	return c.list(ctx, "/v1.2/posts", username, opts)
}

func (c *Client) list(ctx context.Context, path, username string, opts ListOptions) (*Listing, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	out := &Listing{}
	token := opts.PageToken
	pages := 0
	stoppedByCount := false

	for {
		query := url.Values{"username_or_id_or_url": {username}}
		if token != "" {
			query.Set("pagination_token", token)
		}

		var env listingEnvelope
		if err := c.getRetried(ctx, c.cfg.Host, path, query, c.cfg.Timeout, &env); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, env.Data.Items...)
		token = env.PaginationToken
		pages++

		if opts.Count > 0 && len(out.Items) >= opts.Count {
			stoppedByCount = true
			break
		}
		if token == "" {
			break
		}
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			break
		}
		if pages >= hardPageCap {
			break
		}
	}

	if opts.Count > 0 && len(out.Items) > opts.Count {
		out.Items = out.Items[:opts.Count]
	}

	// Progressive-fetch invariant: page-cap callers always get the token;
	// uncapped callers only when the count limit cut the scan short.
	if opts.MaxPages > 0 || stoppedByCount {
		out.NextPageToken = token
	}
	return out, nil
}
