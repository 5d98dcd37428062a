package instagram

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/resilience"
)

type detailEnvelope struct {
	Data Media `json:"data"`
}

// MediaDetail fetches the full media record for a shortcode, with all image
// candidates populated.
func (c *Client) MediaDetail(ctx context.Context, shortcode string) (*Media, error) {
	query := url.Values{"code_or_id_or_url": {shortcode}}

	var env detailEnvelope
	if err := c.getRetried(ctx, c.cfg.Host, "/v1/post_info", query, c.cfg.Timeout, &env); err != nil {
		return nil, err
	}
	if env.Data.ShortcodeValue() == "" && env.Data.IDValue() == "" {
		return nil, resilience.Wrap(resilience.KindMalformed,
			eris.New("instagram: post_info returned no media"))
	}
	return &env.Data, nil
}
