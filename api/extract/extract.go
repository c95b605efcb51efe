// Package extract recovers a JSON value from the free text a language model
// returns. The model may answer with bare JSON, JSON inside a ```json fence,
// or JSON surrounded by commentary; anything else degrades to the raw text.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	models "yt-tags-api/api/models"
)

// Strategy records which attempt produced a Parsed result.
type Strategy int

const (
	StrategyWhole Strategy = iota + 1
	StrategyFence
	StrategyBraces
)

func (s Strategy) String() string {
	switch s {
	case StrategyWhole:
		return "whole"
	case StrategyFence:
		return "fence"
	case StrategyBraces:
		return "braces"
	default:
		return "unknown"
	}
}

// Result is either Parsed or RawFallback.
type Result interface {
	isResult()
}

// Parsed holds a syntactically valid JSON value in compact form. Its shape is
// not checked: callers use Tags to find out whether a tag list is present.
type Parsed struct {
	Value    []byte
	Strategy Strategy
}

// RawFallback carries the model output verbatim when no JSON could be found.
type RawFallback struct {
	Raw string
}

func (Parsed) isResult()      {}
func (RawFallback) isResult() {}

var fencePattern = regexp.MustCompile("(?is)```json(.*?)```")

// Extract never fails: when every strategy is exhausted it returns RawFallback.
func Extract(text string) Result {
	if v, ok := parse(text); ok {
		return Parsed{Value: v, Strategy: StrategyWhole}
	}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if v, ok := parse(m[1]); ok {
			return Parsed{Value: v, Strategy: StrategyFence}
		}
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			if v, ok := parse(text[start : end+1]); ok {
				return Parsed{Value: v, Strategy: StrategyBraces}
			}
		}
	}

	return RawFallback{Raw: text}
}

// parse accepts s only when it is valid JSON in valid UTF-8. gjson does not
// check the encoding, and the value is served as is.
func parse(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !utf8.ValidString(s) || !gjson.Valid(s) {
		return nil, false
	}
	return pretty.Ugly([]byte(s)), true
}

// Tags reads the "tags" array of the parsed value. The boolean is false when
// the value has no "tags" array at all. Entries without a tag are skipped and
// plain strings are accepted as bare tags.
func (p Parsed) Tags() ([]models.TagSuggestion, bool) {
	res := gjson.GetBytes(p.Value, "tags")
	if !res.IsArray() {
		return nil, false
	}

	tags := []models.TagSuggestion{}
	res.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			if tag := strings.TrimSpace(item.String()); tag != "" {
				tags = append(tags, models.TagSuggestion{Tag: tag})
			}
			return true
		}

		tag := strings.TrimSpace(item.Get("tag").String())
		if !item.IsObject() || tag == "" {
			return true
		}
		tags = append(tags, models.TagSuggestion{
			Tag:                    tag,
			RelevanceScore:         percent(item.Get("relevance_score")),
			SearchVolume:           item.Get("search_volume").String(),
			SearchVolumeMonthlyEst: item.Get("search_volume_monthly_est").String(),
			UserInterestPercent:    percent(item.Get("user_interest_percent")),
		})
		return true
	})
	return tags, true
}

// percent coerces a score to an int in [0, 100]. Models sometimes send
// floats or strings such as "85%".
func percent(r gjson.Result) *int {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(r.Str), "%"), 64)
		if err != nil {
			return nil
		}
		f = v
	default:
		return nil
	}
	if math.IsNaN(f) {
		return nil
	}

	n := int(math.Round(math.Max(0, math.Min(100, f))))
	return &n
}
