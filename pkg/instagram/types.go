package instagram

import (
	"strings"
	"time"
)

// ProfileRecord is the normalised profile shape returned by the profile
// adapter.
type ProfileRecord struct {
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Biography  string `json:"biography"`
	Followers  int64  `json:"follower_count"`
	Following  int64  `json:"following_count"`
	MediaCount int    `json:"media_count"`
	IsVerified bool   `json:"is_verified"`
	IsBusiness bool   `json:"is_business"`
	IsPrivate  bool   `json:"is_private"`
	Category   string `json:"category"`
	AvatarURL  string `json:"avatar_url"`
	AvatarHD   string `json:"avatar_hd_url"`
}

// BestAvatarURL prefers the HD avatar when present.
func (p ProfileRecord) BestAvatarURL() string {
	if p.AvatarHD != "" {
		return p.AvatarHD
	}
	return p.AvatarURL
}

// rawProfile covers the scraper API's profile payload.
type rawProfile struct {
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	Biography      string `json:"biography"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	MediaCount     int    `json:"media_count"`
	IsVerified     bool   `json:"is_verified"`
	IsBusiness     bool   `json:"is_business"`
	IsPrivate      bool   `json:"is_private"`
	Category       string `json:"category"`
	ProfilePicURL  string `json:"profile_pic_url"`
	HDProfilePic   struct {
		URL string `json:"url"`
	} `json:"hd_profile_pic_url_info"`
}

func (r rawProfile) toRecord() ProfileRecord {
	return ProfileRecord{
		Username:   strings.ToLower(r.Username),
		FullName:   r.FullName,
		Biography:  r.Biography,
		Followers:  r.FollowerCount,
		Following:  r.FollowingCount,
		MediaCount: r.MediaCount,
		IsVerified: r.IsVerified,
		IsBusiness: r.IsBusiness,
		IsPrivate:  r.IsPrivate,
		Category:   r.Category,
		AvatarURL:  r.ProfilePicURL,
		AvatarHD:   r.HDProfilePic.URL,
	}
}

// ImageCandidate is one entry of image_versions2.candidates.
type ImageCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// VideoVersion is one entry of video_versions.
type VideoVersion struct {
	URL string `json:"url"`
}

// SidecarNode is a child inside edge_sidecar_to_children.
type SidecarNode struct {
	IsVideo    bool   `json:"is_video"`
	DisplayURL string `json:"display_url"`
	VideoURL   string `json:"video_url"`
}

// Media is the union of the shapes the listing, detail, and bulk APIs return
// for a single piece of content. Individual providers populate different
// subsets; the derivation helpers work off whichever fields are present.
type Media struct {
	ID          string `json:"id"`
	PK          string `json:"pk"`
	Code        string `json:"code"`
	Shortcode   string `json:"shortcode"`
	MediaType   int    `json:"media_type"`
	ProductType string `json:"product_type"`
	IsVideo     bool   `json:"is_video"`
	VideoURL    string `json:"video_url"`
	TakenAt     int64  `json:"taken_at"`

	Caption struct {
		Text string `json:"text"`
	} `json:"caption"`
	CaptionText string `json:"caption_text"`

	PlayCount    int64 `json:"play_count"`
	ViewCount    int64 `json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`

	DisplayURL    string `json:"display_url"`
	ThumbnailURL  string `json:"thumbnail_url"`
	ImageVersions struct {
		Candidates []ImageCandidate `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []VideoVersion `json:"video_versions"`

	CarouselMedia      []Media `json:"carousel_media"`
	CarouselMediaCount int     `json:"carousel_media_count"`
	EdgeSidecar        struct {
		Edges []struct {
			Node SidecarNode `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`

	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

const (
	mediaTypeImage    = 1
	mediaTypeVideo    = 2
	mediaTypeCarousel = 8
)

// ShortcodeValue returns whichever shortcode field the provider populated.
func (m Media) ShortcodeValue() string {
	if m.Code != "" {
		return m.Code
	}
	return m.Shortcode
}

// IDValue returns the content id, falling back from pk to id.
func (m Media) IDValue() string {
	if m.PK != "" {
		return m.PK
	}
	return m.ID
}

// Description returns the caption text from either caption shape.
func (m Media) Description() string {
	if m.Caption.Text != "" {
		return m.Caption.Text
	}
	return m.CaptionText
}

// Plays returns the play/view count from whichever field is populated.
func (m Media) Plays() int64 {
	if m.PlayCount > 0 {
		return m.PlayCount
	}
	return m.ViewCount
}

// PostedAt converts the taken_at unix timestamp.
func (m Media) PostedAt() time.Time {
	if m.TakenAt == 0 {
		return time.Time{}
	}
	return time.Unix(m.TakenAt, 0).UTC()
}

// IsCarousel detects a carousel from the union of API shapes: media_type 8,
// a carousel_media array, sidecar edges, or the carousel product type.
func (m Media) IsCarousel() bool {
	return m.MediaType == mediaTypeCarousel ||
		len(m.CarouselMedia) > 0 ||
		len(m.EdgeSidecar.Edges) > 0 ||
		m.ProductType == "carousel_container"
}

// ChildCount returns the number of carousel children.
func (m Media) ChildCount() int {
	if m.CarouselMediaCount > 0 {
		return m.CarouselMediaCount
	}
	if n := len(m.CarouselMedia); n > 0 {
		return n
	}
	return len(m.EdgeSidecar.Edges)
}

// hasVideoChild reports whether any carousel child is a video.
func (m Media) hasVideoChild() bool {
	for _, c := range m.CarouselMedia {
		if c.MediaType == mediaTypeVideo || len(c.VideoVersions) > 0 || c.IsVideo || c.VideoURL != "" {
			return true
		}
	}
	for _, e := range m.EdgeSidecar.Edges {
		if e.Node.IsVideo || e.Node.VideoURL != "" {
			return true
		}
	}
	return false
}

// Style derives the content style from the union of API shapes.
func (m Media) Style() string {
	if m.IsCarousel() {
		if m.hasVideoChild() {
			return "carousel_video"
		}
		return "carousel_image"
	}
	if m.MediaType == mediaTypeVideo || m.IsVideo || len(m.VideoVersions) > 0 || m.VideoURL != "" {
		return "video"
	}
	return "image"
}

// Kind derives the content kind: clips are reels, everything else is a post.
func (m Media) Kind() string {
	if m.IsCarousel() {
		return "post"
	}
	if m.ProductType == "clips" {
		return "reel"
	}
	if m.MediaType == mediaTypeVideo || m.IsVideo {
		return "reel"
	}
	return "post"
}

// BestImageURL picks the image to persist: display image, then thumbnail,
// then the first image_versions2 candidate, then the first video-version
// thumbnail fallback.
func (m Media) BestImageURL() string {
	if m.DisplayURL != "" {
		return m.DisplayURL
	}
	if m.ThumbnailURL != "" {
		return m.ThumbnailURL
	}
	if len(m.ImageVersions.Candidates) > 0 {
		return m.ImageVersions.Candidates[0].URL
	}
	if len(m.VideoVersions) > 0 {
		return m.VideoVersions[0].URL
	}
	return ""
}
