package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	cache "yt-tags-api/api/cache"
	constants "yt-tags-api/api/constants"
	extract "yt-tags-api/api/extract"
	llm "yt-tags-api/api/llm"
	models "yt-tags-api/api/models"
	prompt "yt-tags-api/api/prompt"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var req models.AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxRequestBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid analyze request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}

	vendor := s.cfg.VendorName()
	if s.cfg.APIKey() == "" {
		logger.Error("Analyze request rejected, API key not configured", "provider", s.cfg.Provider)
		writeError(w, http.StatusInternalServerError, "Missing "+vendor+" API key", nil)
		return
	}
	if s.gen == nil {
		logger.Error("Analyze request rejected, LLM client not initialised", "provider", s.cfg.Provider)
		writeError(w, http.StatusInternalServerError, vendor+" client is not configured", nil)
		return
	}

	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "title or description is required", nil)
		return
	}

	p := prompt.Build(req.Title, req.Description)
	key := cache.Key(s.gen.Vendor(), s.gen.Model(), p)
	if body, ok := s.cache.Get(r.Context(), key); ok {
		logger.Info("Analyze cache hit", "key", key)
		w.Header().Set("X-Cache", "HIT")
		writeBody(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.gen.Generate(ctx, p)
	if err != nil {
		s.writeUpstreamError(ctx, w, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		text = "No response from " + s.gen.Vendor()
	}

	switch res := extract.Extract(text).(type) {
	case extract.Parsed:
		tags, hasTags := res.Tags()
		if !hasTags {
			logger.Warn("Model response has no tags array", "strategy", res.Strategy.String())
		}
		logger.Info("Analysis complete",
			"vendor", s.gen.Vendor(),
			"model", s.gen.Model(),
			"strategy", res.Strategy.String(),
			"tags", len(tags),
			"duration", time.Since(start).String(),
		)

		body := s.stamp(res.Value)
		s.cache.Set(r.Context(), key, body)
		w.Header().Set("X-Cache", "MISS")
		writeBody(w, http.StatusOK, body)

	case extract.RawFallback:
		logger.Warn("Model response was not valid JSON", "vendor", s.gen.Vendor(), "raw", res.Raw)
		if s.cfg.StrictJSON {
			writeJSON(w, http.StatusBadGateway, models.ErrorResponse{
				Error: "model response was not valid JSON",
				Raw:   res.Raw,
			})
			return
		}
		writeBody(w, http.StatusOK, s.rawBody(res.Raw))
	}
}

func (s *Server) writeUpstreamError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	var details any = err.Error()
	var ue *llm.UpstreamError
	if errors.As(err, &ue) && ue.Details != nil {
		details = ue.Details
	}

	logger.Error("Upstream request failed", "vendor", s.gen.Vendor(), "status", status, "error", err)
	writeError(w, status, s.gen.Vendor()+" API request failed", details)
}

// stamp adds generated_at to object values without re-encoding the rest of
// the document. Other JSON values pass through untouched.
func (s *Server) stamp(value []byte) []byte {
	if !gjson.ParseBytes(value).IsObject() {
		return value
	}
	out, err := sjson.SetBytes(value, "generated_at", s.now().UTC().Format(time.RFC3339))
	if err != nil {
		logger.Warn("Failed to add generated_at", "error", err)
		return value
	}
	return out
}

func (s *Server) rawBody(raw string) []byte {
	body, err := sjson.SetBytes([]byte(`{}`), "raw", raw)
	if err != nil {
		body, _ = json.Marshal(map[string]string{"raw": raw})
		return body
	}
	return s.stamp(body)
}
