package instagram

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func similarHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

func TestSimilarProfiles_ArrayShape(t *testing.T) {
	c, _ := newTestClient(t, similarHandler(`[
		{"username":"Alpha","follower_count":100},
		{"username":"beta","follower_count":200}
	]`))

	recs, err := c.SimilarProfiles(context.Background(), "seed", 20)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alpha", recs[0].Username)
	assert.Equal(t, 1, recs[0].Rank)
	assert.Equal(t, 2, recs[1].Rank)
}

func TestSimilarProfiles_KeyedObjectShape(t *testing.T) {
	c, _ := newTestClient(t, similarHandler(`{
		"2": {"username":"third","follower_count":1},
		"0": {"username":"first","follower_count":3},
		"1": {"username":"second","follower_count":2}
	}`))

	recs, err := c.SimilarProfiles(context.Background(), "seed", 20)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "first", recs[0].Username)
	assert.Equal(t, "second", recs[1].Username)
	assert.Equal(t, "third", recs[2].Username)
}

func TestSimilarProfiles_NestedDataShape(t *testing.T) {
	c, _ := newTestClient(t, similarHandler(`{"data":[{"username":"inner"}]}`))

	recs, err := c.SimilarProfiles(context.Background(), "seed", 20)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inner", recs[0].Username)
}

func TestSimilarProfiles_LimitApplied(t *testing.T) {
	c, _ := newTestClient(t, similarHandler(`[
		{"username":"a"},{"username":"b"},{"username":"c"}
	]`))

	recs, err := c.SimilarProfiles(context.Background(), "seed", 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSimilarProfiles_NullBody(t *testing.T) {
	c, _ := newTestClient(t, similarHandler(`null`))

	recs, err := c.SimilarProfiles(context.Background(), "seed", 20)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
