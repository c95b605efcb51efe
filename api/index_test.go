package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "yt-tags-api/api/cache"
	config "yt-tags-api/api/config"
	llm "yt-tags-api/api/llm"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

const stamp = `"generated_at":"2026-01-02T03:04:05Z"`

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   bool
	panics  bool
	prompts []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.panics {
		panic("boom")
	}
	if g.block {
		<-ctx.Done()
		return "", &llm.UpstreamError{Vendor: "Gemini", Err: ctx.Err()}
	}
	return g.reply, g.err
}

func (g *stubGenerator) Vendor() string { return "Gemini" }
func (g *stubGenerator) Model() string  { return "gemini-test" }

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func testConfig() config.Config {
	return config.Config{
		Provider:     config.ProviderGemini,
		GeminiAPIKey: "test-key",
		GeminiModel:  "gemini-test",
		LLMTimeout:   time.Second,
		CacheTTL:     time.Hour,
	}
}

func newTestServer(cfg config.Config, gen llm.Generator, c *cache.Cache) *Server {
	s := NewServer(cfg, gen, c)
	s.now = func() time.Time { return fixedTime }
	return s
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	require.Contains(t, body, "error")
	return body
}

const breadBody = `{"title":"How to bake bread","description":"A simple recipe"}`

func TestAnalyzeSuccess(t *testing.T) {
	gen := &stubGenerator{reply: `{"tags":[{"tag":"bread recipe"}]}`}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"tags":[{"tag":"bread recipe"}],`+stamp+`}`, rec.Body.String())

	require.Equal(t, 1, gen.calls())
	assert.Contains(t, gen.prompts[0], "Title: How to bake bread")
	assert.Contains(t, gen.prompts[0], "Description: A simple recipe")
}

func TestAnalyzeDescriptionOnly(t *testing.T) {
	gen := &stubGenerator{reply: `{"tags":[]}`}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", `{"description":"only words"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gen.calls())
}

func TestAnalyzeFencedReply(t *testing.T) {
	gen := &stubGenerator{reply: "```json\n{\"tags\":[]}\n```"}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tags":[],`+stamp+`}`, rec.Body.String())
}

func TestAnalyzeNonObjectReply(t *testing.T) {
	gen := &stubGenerator{reply: ` [ "bread", "baking" ] `}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `["bread","baking"]`, rec.Body.String())
}

func TestAnalyzeMissingInput(t *testing.T) {
	for _, body := range []string{`{}`, ``, `{"title":"  ","description":""}`} {
		gen := &stubGenerator{reply: `{}`}
		s := newTestServer(testConfig(), gen, nil)

		rec := doRequest(s, http.MethodPost, "/api/analyze", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		decodeError(t, rec)
		assert.Zero(t, gen.calls(), body)
	}
}

func TestAnalyzeInvalidBody(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", decodeError(t, rec)["error"])

	rec = doRequest(s, http.MethodPost, "/api/analyze", `{"title":"`+strings.Repeat("a", 70000)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, gen.calls())
}

func TestAnalyzeMissingAPIKey(t *testing.T) {
	cases := map[string]config.Config{
		"gemini": {Provider: config.ProviderGemini, LLMTimeout: time.Second},
		"openai": {Provider: config.ProviderOpenAI, LLMTimeout: time.Second},
	}
	want := map[string]string{
		"gemini": "Missing Gemini API key",
		"openai": "Missing OpenAI API key",
	}
	for name, cfg := range cases {
		gen := &stubGenerator{reply: `{}`}
		s := newTestServer(cfg, gen, nil)

		rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, name)
		assert.Equal(t, want[name], decodeError(t, rec)["error"], name)
		assert.Zero(t, gen.calls(), name)
	}
}

func TestAnalyzeNoGenerator(t *testing.T) {
	s := newTestServer(testConfig(), nil, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	decodeError(t, rec)
}

func TestAnalyzeRawFallback(t *testing.T) {
	gen := &stubGenerator{reply: "sorry, I cannot help"}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"raw":"sorry, I cannot help",`+stamp+`}`, rec.Body.String())
}

func TestAnalyzeRawFallbackStrict(t *testing.T) {
	cfg := testConfig()
	cfg.StrictJSON = true
	gen := &stubGenerator{reply: "sorry, I cannot help"}
	s := newTestServer(cfg, gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "sorry, I cannot help", body["raw"])
}

func TestAnalyzeInvalidUTF8Reply(t *testing.T) {
	gen := &stubGenerator{reply: "{\"tags\":[{\"tag\":\"\xff\"}]}"}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, utf8.Valid(rec.Body.Bytes()), rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "raw")
	assert.Contains(t, body, "generated_at")
}

func TestAnalyzeEmptyReply(t *testing.T) {
	gen := &stubGenerator{reply: "  "}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"raw":"No response from Gemini",`+stamp+`}`, rec.Body.String())
}

func TestAnalyzeUpstreamError(t *testing.T) {
	gen := &stubGenerator{err: &llm.UpstreamError{
		Vendor:     "Gemini",
		StatusCode: http.StatusTooManyRequests,
		Details:    map[string]any{"message": "quota exceeded"},
		Err:        errors.New("429"),
	}}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Gemini API request failed","details":{"message":"quota exceeded"}}`, rec.Body.String())
}

func TestAnalyzePlainError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("dial tcp: connection refused")}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "dial tcp: connection refused", decodeError(t, rec)["details"])
}

func TestAnalyzeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.LLMTimeout = 20 * time.Millisecond
	gen := &stubGenerator{block: true}
	s := newTestServer(cfg, gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "Gemini API request failed", decodeError(t, rec)["error"])
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	gen := &stubGenerator{panics: true}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeError(t, rec)["error"])
}

func TestAnalyzeCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.Connect(context.Background(), "redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer c.Close()

	gen := &stubGenerator{reply: `{"tags":[{"tag":"bread recipe"}]}`}
	s := newTestServer(testConfig(), gen, c)

	first := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, gen.calls())

	other := doRequest(s, http.MethodPost, "/api/analyze", `{"title":"Sourdough starter"}`)
	require.Equal(t, http.StatusOK, other.Code)
	assert.Equal(t, 2, gen.calls())
}

func TestAnalyzeRawFallbackNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.Connect(context.Background(), "redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer c.Close()

	gen := &stubGenerator{reply: "no json here"}
	s := newTestServer(testConfig(), gen, c)

	doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	doRequest(s, http.MethodPost, "/api/analyze", breadBody)
	assert.Equal(t, 2, gen.calls())
	assert.Empty(t, mr.Keys())
}

func TestAnalyzeMethods(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestServer(testConfig(), gen, nil)

	rec := doRequest(s, http.MethodGet, "/api/analyze", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	decodeError(t, rec)

	rec = doRequest(s, http.MethodOptions, "/api/analyze", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Zero(t, gen.calls())
}

func TestHealth(t *testing.T) {
	s := newTestServer(testConfig(), &stubGenerator{}, nil)

	for _, path := range []string{"/api", "/api/"} {
		rec := doRequest(s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "gemini", body["provider"])
		assert.Equal(t, "gemini-test", body["model"])
		assert.Equal(t, false, body["cache_status"])
		assert.Equal(t, "2026-01-02T03:04:05Z", body["timestamp"])
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(testConfig(), &stubGenerator{}, nil)

	rec := doRequest(s, http.MethodGet, "/api/feed", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	decodeError(t, rec)
}

func TestBootstrapWithoutKey(t *testing.T) {
	s := Bootstrap(context.Background(), config.Config{Provider: config.ProviderGemini, LLMTimeout: time.Second, CacheTTL: time.Hour})
	assert.Nil(t, s.gen)
	assert.False(t, s.cache.Enabled())
}

func TestBootstrapUnreachableRedis(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1/0"
	s := Bootstrap(context.Background(), cfg)

	assert.NotNil(t, s.gen)
	assert.False(t, s.cache.Enabled())
}

func TestHandlerFromEnvironment(t *testing.T) {
	for _, k := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "KV_URL", "LLM_TIMEOUT", "CACHE_TTL"} {
		t.Setenv(k, "")
	}
	t.Setenv("LLM_PROVIDER", "gemini")

	rec := httptest.NewRecorder()
	Handler(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(breadBody)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Missing Gemini API key", decodeError(t, rec)["error"])
}
