// Package llm talks to the upstream text-generation services.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	config "yt-tags-api/api/config"
)

// Generator sends a single-turn prompt and returns the model's text. An empty
// reply is returned as "" with a nil error.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Vendor() string
	Model() string
}

// Options configures a vendor client. MaxRetries only applies to the
// OpenAI-compatible client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}

const defaultMaxRetries = 2

var ErrMissingAPIKey = errors.New("missing API key")

// UpstreamError describes a failed call to the vendor. Details is safe to
// return to the client.
type UpstreamError struct {
	Vendor     string
	StatusCode int
	Details    any
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API request failed with status %d: %v", e.Vendor, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s API request failed: %v", e.Vendor, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.Config) (Generator, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("%w for %s", ErrMissingAPIKey, cfg.VendorName())
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(Options{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			MaxRetries: defaultMaxRetries,
		}), nil
	case config.ProviderGemini:
		g, err := NewGemini(ctx, Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
