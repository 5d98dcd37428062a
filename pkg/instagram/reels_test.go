package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedHandler serves fixed pages of n items each; the last page carries no
// token.
func pagedHandler(pages int, perPage int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if tok := r.URL.Query().Get("pagination_token"); tok != "" {
			fmt.Sscanf(tok, "page-%d", &page)
		}
		items := make([]map[string]any, 0, perPage)
		for i := 0; i < perPage; i++ {
			items = append(items, map[string]any{
				"code":       fmt.Sprintf("sc-%d-%d", page, i),
				"media_type": 2,
				"play_count": 100,
			})
		}
		resp := map[string]any{"data": map[string]any{"items": items}}
		if page+1 < pages {
			resp["pagination_token"] = fmt.Sprintf("page-%d", page+1)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

// Quadrant 1: page cap hit, token present -> token preserved even though
// the count target was also reached.
func TestListReels_PageCapPreservesToken(t *testing.T) {
	c, _ := newTestClient(t, pagedHandler(3, 12))

	listing, err := c.ListReels(context.Background(), "acct", ListOptions{Count: 12, MaxPages: 1})
	require.NoError(t, err)
	assert.Len(t, listing.Items, 12)
	assert.Equal(t, "page-1", listing.NextPageToken)
}

// Quadrant 2: page cap set but provider exhausted -> no token to preserve.
func TestListReels_PageCapProviderExhausted(t *testing.T) {
	c, _ := newTestClient(t, pagedHandler(1, 5))

	listing, err := c.ListReels(context.Background(), "acct", ListOptions{Count: 12, MaxPages: 3})
	require.NoError(t, err)
	assert.Len(t, listing.Items, 5)
	assert.Empty(t, listing.NextPageToken)
}

// Quadrant 3: no page cap, count limit stops the scan -> token preserved.
func TestListReels_NoCapCountStopPreservesToken(t *testing.T) {
	c, _ := newTestClient(t, pagedHandler(3, 12))

	listing, err := c.ListReels(context.Background(), "acct", ListOptions{Count: 20})
	require.NoError(t, err)
	assert.Len(t, listing.Items, 20)
	assert.Equal(t, "page-2", listing.NextPageToken)
}

// Quadrant 4: no page cap, provider runs out before the count target -> no
// token.
func TestListReels_NoCapExhaustedNoToken(t *testing.T) {
	c, _ := newTestClient(t, pagedHandler(2, 6))

	listing, err := c.ListReels(context.Background(), "acct", ListOptions{Count: 50})
	require.NoError(t, err)
	assert.Len(t, listing.Items, 12)
	assert.Empty(t, listing.NextPageToken)
}

func TestListReels_TruncatesToCount(t *testing.T) {
	c, _ := newTestClient(t, pagedHandler(1, 12))

	listing, err := c.ListReels(context.Background(), "acct", ListOptions{Count: 7})
	require.NoError(t, err)
	assert.Len(t, listing.Items, 7)
}

func TestListReels_ResumeFromToken(t *testing.T) {
	var sawToken string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.URL.Query().Get("pagination_token")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"items": []any{}}})
	}))

	_, err := c.ListReels(context.Background(), "acct", ListOptions{PageToken: "page-5"})
	require.NoError(t, err)
	assert.Equal(t, "page-5", sawToken)
}

func TestListReels_HardPageCap(t *testing.T) {
	c, _ := newTestClient(t, pagedHandler(100, 1))

	listing, err := c.ListReels(context.Background(), "acct", ListOptions{Count: 500})
	require.NoError(t, err)
	assert.Len(t, listing.Items, hardPageCap)
}
