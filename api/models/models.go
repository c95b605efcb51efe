package models

// AnalyzeRequest is the inbound body of POST /api/analyze.
type AnalyzeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TagSuggestion is one candidate keyword returned by the model. Only Tag is
// guaranteed; the metadata fields vary between vendors and prompts.
type TagSuggestion struct {
	Tag                    string `json:"tag"`
	RelevanceScore         *int   `json:"relevance_score,omitempty"`
	SearchVolume           string `json:"search_volume,omitempty"`
	SearchVolumeMonthlyEst string `json:"search_volume_monthly_est,omitempty"`
	UserInterestPercent    *int   `json:"user_interest_percent,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
	Raw     string `json:"raw,omitempty"`
}

type HealthResponse struct {
	Status      string   `json:"status"`
	Endpoints   []string `json:"endpoints"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	CacheStatus bool     `json:"cache_status"`
	Timestamp   string   `json:"timestamp"`
	Version     string   `json:"version"`
}
