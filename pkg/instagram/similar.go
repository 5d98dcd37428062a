package instagram

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/resilience"
)

// SimilarProfileRecord is one similar-account descriptor.
type SimilarProfileRecord struct {
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Followers  int64  `json:"follower_count"`
	IsVerified bool   `json:"is_verified"`
	AvatarURL  string `json:"profile_pic_url"`
	Rank       int    `json:"-"`
}

// SimilarProfiles returns up to limit similar-profile descriptors for a
// username. The provider alternates between an array body and a dict keyed
// by rank; both shapes are handled.
func (c *Client) SimilarProfiles(ctx context.Context, username string, limit int) ([]SimilarProfileRecord, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	query := url.Values{"username_or_id_or_url": {username}}

	var raw json.RawMessage
	if err := c.getRetried(ctx, c.cfg.SimilarHost, "/v1/similar_accounts", query, c.cfg.SimilarTimeout, &raw); err != nil {
		return nil, err
	}

	records, err := decodeSimilar(raw)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// decodeSimilar accepts both response shapes: a JSON array of profiles, or
// an object whose keys are rank strings ("0", "1", ...).
func decodeSimilar(raw json.RawMessage) ([]SimilarProfileRecord, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var arr []SimilarProfileRecord
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, resilience.Wrap(resilience.KindMalformed,
				eris.Wrap(err, "instagram: decode similar array"))
		}
		for i := range arr {
			arr[i].Rank = i + 1
			arr[i].Username = strings.ToLower(arr[i].Username)
		}
		return arr, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, resilience.Wrap(resilience.KindMalformed,
			eris.Wrap(err, "instagram: decode similar object"))
	}

	// Some payloads nest the list under "data".
	if data, ok := keyed["data"]; ok {
		return decodeSimilar(data)
	}

	type ranked struct {
		key int
		rec SimilarProfileRecord
	}
	out := make([]ranked, 0, len(keyed))
	for k, v := range keyed {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		var rec SimilarProfileRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		if rec.Username == "" {
			continue
		}
		rec.Username = strings.ToLower(rec.Username)
		out = append(out, ranked{key: idx, rec: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })

	records := make([]SimilarProfileRecord, len(out))
	for i, r := range out {
		records[i] = r.rec
		records[i].Rank = i + 1
	}
	return records, nil
}
