package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cache "yt-tags-api/api/cache"
	config "yt-tags-api/api/config"
	constants "yt-tags-api/api/constants"
	llm "yt-tags-api/api/llm"
	models "yt-tags-api/api/models"
)

var (
	initOnce      sync.Once
	defaultServer http.Handler
	logger        = constants.Logger
)

// Server serves the /api routes. It holds no mutable state; every field is
// set once by NewServer.
type Server struct {
	cfg   config.Config
	gen   llm.Generator
	cache *cache.Cache
	now   func() time.Time
}

// NewServer wires a server. gen may be nil when no API key is configured and
// c may be nil when caching is off.
func NewServer(cfg config.Config, gen llm.Generator, c *cache.Cache) *Server {
	return &Server{cfg: cfg, gen: gen, cache: c, now: time.Now}
}

// Bootstrap builds the generator and cache for cfg and logs, rather than
// returns, anything that prevents them from being used.
func Bootstrap(ctx context.Context, cfg config.Config) *Server {
	gen, err := llm.New(ctx, cfg)
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			logger.Warn("No API key configured, analyze requests will fail", "provider", cfg.Provider)
		} else {
			logger.Error("Failed to create LLM client", "provider", cfg.Provider, "error", err)
		}
	}

	c, err := cache.Connect(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		logger.Error("Error connecting to Redis, caching disabled", "error", err)
	} else if c.Enabled() {
		logger.Info("Successfully connected to Redis", "ttl", cfg.CacheTTL.String())
	}

	return NewServer(cfg, gen, c)
}

// Handler is the serverless entry point. The server is built from the
// environment on the first request.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		defaultServer = newDefaultServer(context.Background())
	})
	defaultServer.ServeHTTP(w, r)
}

func newDefaultServer(ctx context.Context) http.Handler {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("invalid server configuration: %v", err), nil)
		})
	}
	return Bootstrap(ctx, cfg)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Recovered from panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
			writeError(w, http.StatusInternalServerError, "internal server error", nil)
		}
	}()

	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/api"
	}

	corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		switch path {
		case "/api":
			s.handleHealth(w, r)
		case "/api/analyze":
			s.handleAnalyze(w, r)
		default:
			writeError(w, http.StatusNotFound, "not found", nil)
		}
	})(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:      "ok",
		Endpoints:   []string{"/api/analyze"},
		Provider:    s.cfg.Provider,
		Model:       s.cfg.Model(),
		CacheStatus: s.cache.Enabled(),
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Version:     constants.Version,
	})
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, models.ErrorResponse{Error: msg, Details: details})
}
