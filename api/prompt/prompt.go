package prompt

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	constants "yt-tags-api/api/constants"
)

const template = `You are a YouTube SEO expert. Based on the following video title and description,
generate up to %d optimized YouTube tags, ordered from most to least relevant.

Title: %s
Description: %s

Respond with JSON only, no commentary and no markdown code block, in this format:
{
  "tags": [
    {"tag": "keyword", "relevance_score": 90, "search_volume": "~10k", "user_interest_percent": 80}
  ]
}

Rules:
1. "tag" is a short keyword or phrase.
2. "relevance_score" and "user_interest_percent" are integers from 0 to 100.
3. "search_volume" is a short estimate of monthly searches such as "~10k".`

// Build renders the tag prompt for a video. Both fields go through Sanitize.
func Build(title, description string) string {
	title = Sanitize(title, constants.MaxTitleRunes)
	description = Sanitize(description, constants.MaxDescRunes)
	if description == "" {
		description = "(none)"
	}
	return fmt.Sprintf(template, constants.MaxTags, title, description)
}

// Sanitize reduces s to plain single-line text of at most limit runes.
// Markup is dropped, entities decoded, whitespace collapsed and code fences
// neutralised so user text cannot change the shape of the prompt.
func Sanitize(s string, limit int) string {
	s = stripMarkup(s)
	s = strings.ReplaceAll(s, "```", "'''")
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
	return truncate(s, limit)
}

// stripMarkup drops known HTML elements and decodes entities. Descriptions
// are mostly plain text, so anything that only looks like a tag (vector<int>)
// is kept as written and comment bodies are kept as text.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken, html.CommentToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			// TagName lowercases the buffer in place, so copy the raw form first
			raw := string(z.Raw())
			name, _ := z.TagName()
			if atom.Lookup(name) == 0 {
				b.WriteString(raw)
				continue
			}
			// <br> and block tags separate words
			b.WriteByte(' ')
		default:
			b.Write(z.Raw())
		}
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "…"
}
