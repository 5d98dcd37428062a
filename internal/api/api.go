// Package api is the HTTP surface: the content feed, profile lookups and
// scrape requests, and the viral-ideas queue. Every response uses the
// {success, data, message?, error?} envelope.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/model"
	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/pkg/instagram"
)

// Instagram is the adapter surface the API hits directly: minimal profile
// lookups and similar-profile fetches for cache refreshes.
type Instagram interface {
	Profile(ctx context.Context, username string) (*instagram.ProfileRecord, error)
	SimilarProfiles(ctx context.Context, username string, limit int) ([]instagram.SimilarProfileRecord, error)
}

// Trigger runs a viral-ideas request to completion. The process endpoint
// uses it for immediate execution; nil means requests wait for the poller.
type Trigger interface {
	Process(ctx context.Context, req *model.ViralAnalysisRequest) error
}

// Server holds the handler dependencies.
type Server struct {
	store      store.Store
	images     store.ImageStore
	ig         Instagram
	trigger    Trigger
	httpClient *http.Client

	// sessionSeeds pins one random-order shuffle per browsing session so
	// pagination stays stable until the session is reset.
	mu           sync.Mutex
	sessionSeeds map[string]string
}

// New creates a Server.
func New(st store.Store, images store.ImageStore, ig Instagram, trigger Trigger) *Server {
	return &Server{
		store:        st,
		images:       images,
		ig:           ig,
		trigger:      trigger,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		sessionSeeds: map[string]string{},
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/reels", s.handleReels)
		r.Get("/posts", s.handlePosts)
		r.Get("/filter-options", s.handleFilterOptions)
		r.Post("/reset-session", s.handleResetSession)

		r.Route("/profile/{username}", func(r chi.Router) {
			r.Get("/", s.handleProfile)
			r.Get("/reels", s.handleProfileReels)
			r.Get("/similar", s.handleProfileSimilar)
			r.Get("/similar-fast", s.handleSimilarFast)
			r.Get("/secondary", s.handleSecondary)
			r.Get("/status", s.handleProfileStatus)
			r.Post("/request", s.handleProfileRequest)
			r.Post("/add-competitor/{target}", s.handleAddCompetitor)
		})

		r.Route("/viral-ideas", func(r chi.Router) {
			r.Post("/queue", s.handleViralQueue)
			r.Get("/queue/{sessionID}", s.handleViralSession)
			r.Get("/check-existing/{username}", s.handleViralCheckExisting)
			r.Post("/queue/{queueID}/start", s.handleViralStart)
			r.Post("/queue/{queueID}/process", s.handleViralProcess)
		})

		r.Route("/viral-analysis/{queueID}", func(r chi.Router) {
			r.Get("/results", s.handleViralResults)
			r.Get("/content", s.handleViralContent)
		})
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"service": "viralscope"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResetSession drops a session's pinned shuffle seed so the next
// random-order page starts a fresh ordering.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.mu.Lock()
	delete(s.sessionSeeds, sessionID)
	s.mu.Unlock()
	respondMessage(w, http.StatusOK, nil, "Session reset")
}

// sessionSeed returns the shuffle seed pinned to a session, minting one on
// first use. Anonymous callers share a rotating seed keyed by the hour.
func (s *Server) sessionSeed(sessionID string) string {
	if sessionID == "" {
		return time.Now().UTC().Format("2006010215")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, ok := s.sessionSeeds[sessionID]
	if !ok {
		seed = uuid.NewString()
		s.sessionSeeds[sessionID] = seed
	}
	return seed
}
