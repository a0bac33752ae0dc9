package ai

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/ollama/ollama/api"
)

// Summarizer enriches article content through a local Ollama model.
type Summarizer struct {
	client *api.Client
	model  string
	policy *bluemonday.Policy
}

// Preferences are the owner's summarization settings, applied per article.
type Preferences struct {
	SummaryLength   string // "short", "medium", or "long"
	IncludeCritique bool
	FocusAreas      string // comma-separated, e.g. "main points, key findings"
}

// Result is the parsed model output for one article.
type Result struct {
	Summary    string
	Critique   string
	Tags       []string
	Categories []string
}

// NewSummarizer creates a summarizer. OLLAMA_HOST takes precedence; baseURL
// is the fallback when the environment is not set up.
func NewSummarizer(baseURL, model string) (*Summarizer, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		parsedURL, parseErr := url.Parse(baseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid base URL: %w", parseErr)
		}
		client = api.NewClient(parsedURL, nil)
	}

	return &Summarizer{
		client: client,
		model:  model,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

var lengthHints = map[string]string{
	"short":  "2-3 sentences",
	"medium": "1-2 paragraphs",
	"long":   "3-4 paragraphs",
}

// Summarize generates a summary, optional critique, and tag/category labels
// for one article, honoring the owner's preferences. Content is stripped of
// HTML before it reaches the model.
func (s *Summarizer) Summarize(ctx context.Context, title, content string, prefs Preferences) (*Result, error) {
	hint, ok := lengthHints[prefs.SummaryLength]
	if !ok {
		hint = lengthHints["medium"]
	}
	focus := strings.TrimSpace(prefs.FocusAreas)
	if focus == "" {
		focus = "main points"
	}

	critiqueSection := ""
	if prefs.IncludeCritique {
		critiqueSection = "\nCritique: <a brief critical assessment of the article's arguments and evidence>"
	}

	prompt := fmt.Sprintf(`You are an article summarizer. Summarize the following article in %s, focusing on: %s.

Title: %s

Content: %s

Respond EXACTLY in this format, with one section per labeled line:
Summary: <the summary>%s
Tags: <3-5 short topical tags, comma-separated>
Categories: <1-3 broad categories, comma-separated>`,
		hint, focus, title, truncateText(s.stripHTML(content), 3000), critiqueSection)

	req := &api.GenerateRequest{
		Model:  s.model,
		Prompt: prompt,
		Stream: new(bool), // false
		Options: map[string]interface{}{
			"temperature": 0.3,
		},
	}

	var fullResponse strings.Builder
	err := s.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		fullResponse.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("article summarization failed: %w", err)
	}

	result := parseSections(fullResponse.String())
	if result.Summary == "" {
		return nil, fmt.Errorf("model response for %q contained no summary", title)
	}
	return result, nil
}

// parseSections splits model output on the labeled section headers. Labels
// are matched case-insensitively at line starts; a section body runs until
// the next label. A missing Critique section is fine.
func parseSections(text string) *Result {
	result := &Result{}
	current := ""
	var body strings.Builder

	flush := func() {
		value := strings.TrimSpace(body.String())
		body.Reset()
		switch current {
		case "summary":
			result.Summary = value
		case "critique":
			result.Critique = value
		case "tags":
			result.Tags = splitList(value)
		case "categories":
			result.Categories = splitList(value)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		matched := false
		for _, label := range []string{"summary", "critique", "tags", "categories"} {
			if strings.HasPrefix(lower, label+":") {
				flush()
				current = label
				body.WriteString(strings.TrimSpace(trimmed[len(label)+1:]))
				matched = true
				break
			}
		}
		if !matched && current != "" {
			body.WriteString("\n")
			body.WriteString(line)
		}
	}
	flush()
	return result
}

func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// stripHTML removes markup and resolves entities so the model sees plain
// text.
func (s *Summarizer) stripHTML(content string) string {
	stripped := s.policy.Sanitize(content)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// truncateText truncates text to maxLen characters.
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
