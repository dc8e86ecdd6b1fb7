package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/oracle"
)

const (
	maxOracleInputChars = 8000
	maxOracleCandidates = 15
	oracleMaxTokens     = 2048
)

const extractionSystemPrompt = `You extract market pricing evidence from web content.
Respond with a JSON array only, no prose and no code fences. Each element is an object with keys:
"title" (string, required), "rawText" (verbatim supporting sentence), "publishedDate" (YYYY-MM-DD or null),
"metric" (short item or index name), "value" (number or null), "unit" (e.g. sqm, sqft, piece, set, index).
Return [] when the content holds no pricing evidence. Never invent numbers.`

// llmExtractor asks the oracle for structured candidates and falls back to
// the heuristic scan when the oracle is unavailable or returns nothing.
type llmExtractor struct {
	src      evidence.SourceDescriptor
	oracle   oracle.Oracle
	fallback heuristicExtractor
	logger   *zap.Logger
}

func (l llmExtractor) Extract(ctx context.Context, raw evidence.RawFetchResult, hint *time.Time) []evidence.Candidate {
	if !oracle.Configured(l.oracle) {
		return l.fallback.Extract(ctx, raw, hint)
	}
	content := raw.Body
	if !raw.IsJSON {
		content = VisibleText(raw.Body)
	}
	content = truncateRunes(content, maxOracleInputChars)

	out, err := l.oracle.Complete(ctx, oracle.Request{
		System:    extractionSystemPrompt,
		Prompt:    buildExtractionPrompt(l.src, raw.URL, content, hint),
		MaxTokens: oracleMaxTokens,
	})
	if err != nil {
		l.logger.Warn("oracle extraction failed; using heuristic scan", zap.Error(err))
		return l.fallback.Extract(ctx, raw, hint)
	}
	sourceURL := raw.URL
	if sourceURL == "" {
		sourceURL = l.src.BaseURL
	}
	candidates := ParseOracleCandidates(out, l.src, sourceURL)
	if len(candidates) == 0 {
		l.logger.Debug("oracle returned no candidates; using heuristic scan")
		return l.fallback.Extract(ctx, raw, hint)
	}
	return candidates
}

func buildExtractionPrompt(src evidence.SourceDescriptor, url, content string, hint *time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s (%s)\nCategory: %s\nGeography: %s\n", src.Name, url, src.Category, src.Geography)
	if src.Currency != "" {
		fmt.Fprintf(&b, "Currency: %s\n", src.Currency)
	}
	if hint != nil {
		fmt.Fprintf(&b, "Focus on content published or updated after %s; older items were captured already.\n",
			hint.UTC().Format("2006-01-02"))
	}
	b.WriteString("\nContent:\n")
	b.WriteString(content)
	return b.String()
}

// ParseOracleCandidates decodes an oracle reply into validated candidates.
// Malformed output yields an empty slice; at most 15 candidates are kept.
func ParseOracleCandidates(reply string, src evidence.SourceDescriptor, sourceURL string) []evidence.Candidate {
	body := extractJSONArray(reply)
	if body == "" {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil
	}
	out := make([]evidence.Candidate, 0, len(items))
	for _, item := range items {
		if len(out) >= maxOracleCandidates {
			break
		}
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := evidence.Candidate{
			Title:         stringField(obj, "title"),
			RawText:       stringField(obj, "rawText", "raw_text", "text"),
			PublishedDate: dateField(obj, "publishedDate", "published_date", "date"),
			Category:      src.Category,
			Geography:     src.Geography,
			SourceURL:     sourceURL,
			Metric:        stringField(obj, "metric", "item", "itemName"),
			Value:         numberField(obj, "value", "price"),
			Unit:          stringField(obj, "unit"),
		}
		if c.Validate() != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func extractJSONArray(reply string) string {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func numberField(obj map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return &v
		case string:
			cleaned := strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), "$€£")
			if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
}

func dateField(obj map[string]any, keys ...string) *time.Time {
	raw := stringField(obj, keys...)
	if raw == "" {
		return nil
	}
	return ParseDate(raw)
}

// ParseDate accepts the date shapes commonly emitted by oracles and feeds.
func ParseDate(raw string) *time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
