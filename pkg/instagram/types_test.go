package instagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedia_CarouselFromSidecarEdges(t *testing.T) {
	raw := `{
		"shortcode": "Cxyz",
		"edge_sidecar_to_children": {
			"edges": [
				{"node": {"is_video": true}},
				{"node": {"display_url": "x"}}
			]
		}
	}`
	var m Media
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.True(t, m.IsCarousel())
	assert.Equal(t, "carousel_video", m.Style())
	assert.Equal(t, "post", m.Kind())
	assert.Equal(t, 2, m.ChildCount())
}

func TestMedia_CarouselFromMediaType(t *testing.T) {
	m := Media{MediaType: 8, CarouselMedia: []Media{{MediaType: 1}, {MediaType: 1}}}
	assert.Equal(t, "carousel_image", m.Style())
	assert.Equal(t, "post", m.Kind())
}

func TestMedia_CarouselFromProductType(t *testing.T) {
	m := Media{ProductType: "carousel_container", CarouselMedia: []Media{{VideoVersions: []VideoVersion{{URL: "v"}}}}}
	assert.Equal(t, "carousel_video", m.Style())
}

func TestMedia_ClipsAreReels(t *testing.T) {
	m := Media{MediaType: 2, ProductType: "clips"}
	assert.Equal(t, "reel", m.Kind())
	assert.Equal(t, "video", m.Style())
}

func TestMedia_PlainImagePost(t *testing.T) {
	m := Media{MediaType: 1}
	assert.Equal(t, "post", m.Kind())
	assert.Equal(t, "image", m.Style())
}

func TestMedia_BestImageURL_Preference(t *testing.T) {
	m := Media{
		DisplayURL:   "display",
		ThumbnailURL: "thumb",
	}
	m.ImageVersions.Candidates = []ImageCandidate{{URL: "candidate"}}
	m.VideoVersions = []VideoVersion{{URL: "video_thumb"}}

	assert.Equal(t, "display", m.BestImageURL())
	m.DisplayURL = ""
	assert.Equal(t, "thumb", m.BestImageURL())
	m.ThumbnailURL = ""
	assert.Equal(t, "candidate", m.BestImageURL())
	m.ImageVersions.Candidates = nil
	assert.Equal(t, "video_thumb", m.BestImageURL())
	m.VideoVersions = nil
	assert.Empty(t, m.BestImageURL())
}

func TestMedia_FieldFallbacks(t *testing.T) {
	m := Media{PK: "123", ID: "999", Code: "abc", Shortcode: "def", PlayCount: 10, ViewCount: 5}
	assert.Equal(t, "123", m.IDValue())
	assert.Equal(t, "abc", m.ShortcodeValue())
	assert.Equal(t, int64(10), m.Plays())

	m2 := Media{ID: "999", Shortcode: "def", ViewCount: 5}
	assert.Equal(t, "999", m2.IDValue())
	assert.Equal(t, "def", m2.ShortcodeValue())
	assert.Equal(t, int64(5), m2.Plays())
}

func TestMedia_PostedAt(t *testing.T) {
	m := Media{TakenAt: 1700000000}
	assert.Equal(t, int64(1700000000), m.PostedAt().Unix())
	assert.True(t, Media{}.PostedAt().IsZero())
}

func TestProfileRecord_BestAvatarURL(t *testing.T) {
	assert.Equal(t, "hd", ProfileRecord{AvatarURL: "sd", AvatarHD: "hd"}.BestAvatarURL())
	assert.Equal(t, "sd", ProfileRecord{AvatarURL: "sd"}.BestAvatarURL())
}
