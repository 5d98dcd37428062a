package store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// Bucket names for the two image classes.
const (
	BucketProfileImages     = "profile-images"
	BucketContentThumbnails = "content-thumbnails"
)

// S3ImageStore implements ImageStore on any S3-compatible object store.
// Setting Endpoint points it at a non-AWS provider; PublicBaseURL is the
// host images are served from.
type S3ImageStore struct {
	client        *s3.Client
	publicBaseURL string
}

// ImageStoreConfig holds object-store credentials.
type ImageStoreConfig struct {
	Region        string `yaml:"region" mapstructure:"region"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// NewS3ImageStore builds the object-store client.
func NewS3ImageStore(ctx context.Context, cfg ImageStoreConfig) (*S3ImageStore, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "images: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3ImageStore{
		client:        client,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// UploadImage writes image bytes and returns the public URL. The content
// type is sniffed from the payload.
func (s *S3ImageStore) UploadImage(ctx context.Context, bucket, key string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", eris.New("images: empty payload")
	}
	contentType := http.DetectContentType(data)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", eris.Wrapf(err, "images: put %s/%s", bucket, key)
	}
	return s.PublicURL(bucket, key), nil
}

// PublicURL mints the serving URL for a stored object.
func (s *S3ImageStore) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, bucket, key)
}

// ProfileImageKey is the object key for a profile avatar.
func ProfileImageKey(username string) string {
	return fmt.Sprintf("profiles/%s/profile.jpg", NormalizeUsername(username))
}

// ThumbnailKey is the object key for a content thumbnail.
func ThumbnailKey(username, shortcode string) string {
	return fmt.Sprintf("thumbnails/%s/%s.jpg", NormalizeUsername(username), shortcode)
}

// SimilarImageKey is the object key for a similar-profile avatar cached
// under its primary account.
func SimilarImageKey(primary, similar string) string {
	return fmt.Sprintf("similar/%s/%s_profile.jpg",
		NormalizeUsername(primary), NormalizeUsername(similar))
}
