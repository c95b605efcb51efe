package constants

import (
	"log/slog"
	"os"
	"time"
)

const (
	Version          = "1.0.0"
	LlmTimeout       = 60 * time.Second
	CacheKeyPrefix   = "yt_tags_cache:"
	CacheDuration    = 24 * time.Hour
	MaxTags          = 25
	MaxTitleRunes    = 200
	MaxDescRunes     = 1000
	MaxRequestBytes  = 64 << 10
	DefaultPort      = "3000"
	DefaultGemini    = "gemini-1.5-flash"
	DefaultOpenAI    = "gpt-4o-mini"
	DefaultOpenAIURL = "https://api.openai.com/v1/"
)

var Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
