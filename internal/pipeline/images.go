package pipeline

import (
	"context"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
)

// maxImageBytes caps a single image download.
const maxImageBytes = 8 << 20

// acquireImages downloads and stores the profile avatar and content
// thumbnails. Image acquisition is decoupled from the data write: any
// failure here is logged and the scrape continues without that image.
func (p *Pipeline) acquireImages(ctx context.Context, profile *model.PrimaryProfile, avatarURL string, content []model.Content) {
	if p.images == nil {
		return
	}
	log := zap.L().With(zap.String("username", profile.Username))

	if avatarURL != "" {
		key := store.ProfileImageKey(profile.Username)
		if err := p.fetchAndStore(ctx, avatarURL, store.BucketProfileImages, key); err != nil {
			log.Warn("pipeline: avatar upload failed", zap.Error(err))
		} else {
			profile.ImageKey = key
		}
	}

	stored := 0
	for i := range content {
		if ctx.Err() != nil {
			return
		}
		src := content[i].ThumbSource
		if src == "" {
			continue
		}
		key := store.ThumbnailKey(profile.Username, content[i].Shortcode)
		if err := p.fetchAndStore(ctx, src, store.BucketContentThumbnails, key); err != nil {
			log.Debug("pipeline: thumbnail upload failed",
				zap.String("shortcode", content[i].Shortcode), zap.Error(err))
			continue
		}
		content[i].ThumbKey = key
		content[i].DisplayKey = key
		stored++
	}
	if stored > 0 {
		log.Info("pipeline: thumbnails stored", zap.Int("count", stored))
	}
}

// fetchAndStore downloads one image and writes it to the image store.
func (p *Pipeline) fetchAndStore(ctx context.Context, srcURL, bucket, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return eris.Wrap(err, "pipeline: build image request")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "pipeline: download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("pipeline: image download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return eris.Wrap(err, "pipeline: read image body")
	}
	if len(data) == 0 {
		return eris.New("pipeline: empty image body")
	}

	if _, err := p.images.UploadImage(ctx, bucket, key, data); err != nil {
		return eris.Wrapf(err, "pipeline: upload %s/%s", bucket, key)
	}
	return nil
}
