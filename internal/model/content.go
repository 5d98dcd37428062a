package model

import "time"

// ContentKind distinguishes reels (video with views), posts, and stories.
type ContentKind string

const (
	KindReel  ContentKind = "reel"
	KindPost  ContentKind = "post"
	KindStory ContentKind = "story"
)

// ContentStyle describes the media layout of a piece of content.
type ContentStyle string

const (
	StyleVideo         ContentStyle = "video"
	StyleImage         ContentStyle = "image"
	StyleCarouselImage ContentStyle = "carousel_image"
	StyleCarouselVideo ContentStyle = "carousel_video"
)

// Classification is a 3-level category assignment with optional keywords,
// produced by the LLM categoriser.
type Classification struct {
	Primary    string   `json:"primary_category"`
	Secondary  string   `json:"secondary_category"`
	Tertiary   string   `json:"tertiary_category"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Content is a single reel, post, or story owned by a primary profile.
// Exactly one row exists per shortcode.
type Content struct {
	ContentID         string       `json:"content_id" db:"content_id"`
	Shortcode         string       `json:"shortcode" db:"shortcode"`
	ProfileOwner      string       `json:"username" db:"username"`
	Kind              ContentKind  `json:"content_type" db:"content_type"`
	Style             ContentStyle `json:"content_style" db:"content_style"`
	URL               string       `json:"url" db:"url"`
	Description       string       `json:"description" db:"description"`
	ThumbKey          string       `json:"thumbnail_key,omitempty" db:"thumbnail_key"`
	DisplayKey        string       `json:"display_key,omitempty" db:"display_key"`
	ViewCount         int64        `json:"view_count" db:"view_count"`
	LikeCount         int64        `json:"like_count" db:"like_count"`
	CommentCount      int64        `json:"comment_count" db:"comment_count"`
	CarouselMediaCount int         `json:"carousel_media_count,omitempty" db:"carousel_media_count"`
	DatePosted        time.Time    `json:"date_posted" db:"date_posted"`
	OutlierScore      float64      `json:"outlier_score" db:"outlier_score"`
	PrimaryCategory   string       `json:"primary_category,omitempty" db:"primary_category"`
	SecondaryCategory string       `json:"secondary_category,omitempty" db:"secondary_category"`
	TertiaryCategory  string       `json:"tertiary_category,omitempty" db:"tertiary_category"`
	Keyword1          string       `json:"keyword_1,omitempty" db:"keyword_1"`
	Keyword2          string       `json:"keyword_2,omitempty" db:"keyword_2"`
	Keyword3          string       `json:"keyword_3,omitempty" db:"keyword_3"`
	Keyword4          string       `json:"keyword_4,omitempty" db:"keyword_4"`
	Confidence        float64      `json:"confidence,omitempty" db:"confidence"`
	Language          string       `json:"language,omitempty" db:"language"`
	Transcript            string     `json:"transcript,omitempty" db:"transcript"`
	TranscriptLanguage    string     `json:"transcript_language,omitempty" db:"transcript_language"`
	TranscriptFetchedAt   *time.Time `json:"transcript_fetched_at,omitempty" db:"transcript_fetched_at"`
	TranscriptAvailable   bool       `json:"transcript_available" db:"transcript_available"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`

	// ThumbSource is the CDN URL the thumbnail is fetched from. It lives
	// only in memory; the stored row carries ThumbKey instead.
	ThumbSource string `json:"-" db:"-"`
}

// PerformanceValue returns the metric used for outlier scoring: view count
// for reels, like count for everything else.
func (c Content) PerformanceValue() int64 {
	if c.Kind == KindReel {
		return c.ViewCount
	}
	return c.LikeCount
}

// ApplyClassification copies a categoriser result onto the content row,
// spreading keywords over the four keyword columns.
func (c *Content) ApplyClassification(cl Classification) {
	c.PrimaryCategory = cl.Primary
	c.SecondaryCategory = cl.Secondary
	c.TertiaryCategory = cl.Tertiary
	c.Confidence = cl.Confidence
	slots := []*string{&c.Keyword1, &c.Keyword2, &c.Keyword3, &c.Keyword4}
	for i, kw := range cl.Keywords {
		if i >= len(slots) {
			break
		}
		*slots[i] = kw
	}
}
