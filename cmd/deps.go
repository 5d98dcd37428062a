package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/categorize"
	"github.com/viralscope/viralscope/internal/pipeline"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/internal/viral"
	"github.com/viralscope/viralscope/internal/viralai"
	"github.com/viralscope/viralscope/pkg/ai"
	"github.com/viralscope/viralscope/pkg/instagram"
	"github.com/viralscope/viralscope/pkg/transcript"
)

// services bundles the external dependencies every command wires up.
type services struct {
	store  *store.Postgres
	images *store.S3ImageStore
	ig     *instagram.Client
}

func initServices(ctx context.Context) (*services, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	images, err := store.NewS3ImageStore(ctx, store.ImageStoreConfig{
		Region:        cfg.Images.Region,
		Endpoint:      cfg.Images.Endpoint,
		AccessKey:     cfg.Images.AccessKey,
		SecretKey:     cfg.Images.SecretKey,
		PublicBaseURL: cfg.Images.PublicBaseURL,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	ig := instagram.New(instagram.Config{
		APIKey:         cfg.Instagram.APIKey,
		Host:           cfg.Instagram.Host,
		SimilarHost:    cfg.Instagram.SimilarHost,
		SecondaryHost:  cfg.Instagram.SecondaryHost,
		AltHost:        cfg.Instagram.AltHost,
		Timeout:        cfg.Instagram.Timeout(),
		SimilarTimeout: cfg.Instagram.SimilarTimeout(),
	})

	return &services{store: st, images: images, ig: ig}, nil
}

func (s *services) Close() {
	s.store.Close()
}

func initStore(ctx context.Context) (*store.Postgres, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not configured")
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func aiClient() ai.Client {
	return ai.NewClient(cfg.AI.Key, ai.Options{
		Model:       cfg.AI.Model,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
	})
}

func buildPipeline(s *services) (*pipeline.Pipeline, error) {
	vocab := categorize.DefaultVocabulary()
	if cfg.AI.TaxonomyPath != "" {
		loaded, err := categorize.LoadVocabulary(cfg.AI.TaxonomyPath)
		if err != nil {
			return nil, err
		}
		vocab = loaded
	}
	classifier := categorize.NewWithVocabulary(aiClient(), vocab)
	return pipeline.New(cfg, s.store, s.images, s.ig, classifier), nil
}

func buildViralProcessor(s *services, p *pipeline.Pipeline) *viral.Processor {
	transcriber := transcript.New(transcript.Config{
		APIKey:  cfg.Transcript.APIKey,
		Host:    cfg.Transcript.Host,
		Timeout: cfg.Transcript.Timeout(),
	})
	analyzer := viralai.New(aiClient())
	return viral.New(cfg.Viral, s.store, p, transcriber, analyzer)
}
