package connector

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

const (
	maxHeuristicCandidates = 50
	itemContextChars       = 80
	maxItemWords           = 5
	snippetRadius          = 80
)

// priceRe matches a currency amount followed by a per-unit suffix, e.g.
// "$45.50 per sqm", "£12/m2", "EUR 1,200 per set".
var priceRe = regexp.MustCompile(
	`(?i)(?:US\$|USD|EUR|GBP|CAD|AUD|[$€£])\s?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)` +
		`\s*(?:/|per|a|an)\s*` +
		`(sq\.?\s?m\b|m2|m²|sqm\b|sq\.?\s?ft\b|sqft\b|ft2|ft²|square\s+met(?:er|re)s?\b|square\s+f(?:oo|ee)t\b|pieces?\b|pcs?\b|units?\b|sets?\b|each\b)`,
)

// heuristicExtractor scans visible text for price-like patterns near unit
// keywords.
type heuristicExtractor struct {
	src evidence.SourceDescriptor
}

func (h heuristicExtractor) Extract(_ context.Context, raw evidence.RawFetchResult, _ *time.Time) []evidence.Candidate {
	text := raw.Body
	if !raw.IsJSON {
		text = VisibleText(raw.Body)
	}
	sourceURL := raw.URL
	if sourceURL == "" {
		sourceURL = h.src.BaseURL
	}
	return scanPrices(text, h.src, sourceURL, nil, maxHeuristicCandidates)
}

// PriceHint is one price-like match found in free text.
type PriceHint struct {
	Item    string
	Value   float64
	Unit    string
	Snippet string
}

// ScanPriceHints returns the price-like matches of text in order.
func ScanPriceHints(text string, limit int) []PriceHint {
	var hints []PriceHint
	seen := make(map[string]struct{})
	prevEnd := 0
	for _, m := range priceRe.FindAllStringSubmatchIndex(text, -1) {
		before := text[prevEnd:m[0]]
		prevEnd = m[1]
		if limit > 0 && len(hints) >= limit {
			break
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(text[m[2]:m[3]], ",", ""), 64)
		if err != nil || value <= 0 {
			continue
		}
		item := precedingItem(before)
		if item == "" {
			continue
		}
		unit := NormalizeUnit(text[m[4]:m[5]])
		key := strings.ToLower(item) + "|" + unit + "|" + strconv.FormatFloat(value, 'f', -1, 64)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		hints = append(hints, PriceHint{
			Item:    item,
			Value:   value,
			Unit:    unit,
			Snippet: snippetAround(text, m[0], m[1]),
		})
	}
	return hints
}

func scanPrices(text string, src evidence.SourceDescriptor, sourceURL string, published *time.Time, limit int) []evidence.Candidate {
	hints := ScanPriceHints(text, limit)
	out := make([]evidence.Candidate, 0, len(hints))
	for _, h := range hints {
		value := h.Value
		out = append(out, evidence.Candidate{
			Title:         h.Item,
			RawText:       h.Snippet,
			PublishedDate: published,
			Category:      src.Category,
			Geography:     src.Geography,
			SourceURL:     sourceURL,
			Metric:        h.Item,
			Value:         &value,
			Unit:          h.Unit,
		})
	}
	return out
}

// precedingItem takes up to maxItemWords words immediately before a price,
// stopping at sentence or cell boundaries.
func precedingItem(before string) string {
	if len(before) > itemContextChars {
		start := len(before) - itemContextChars
		for start < len(before) && !utf8.RuneStart(before[start]) {
			start++
		}
		before = before[start:]
	}
	if idx := strings.LastIndexAny(before, ".;|\n\t•·"); idx >= 0 {
		_, size := utf8.DecodeRuneInString(before[idx:])
		before = before[idx+size:]
	}
	words := strings.FieldsFunc(before, func(r rune) bool {
		return unicode.IsSpace(r) || r == ':' || r == '-' || r == '–' || r == '—' || r == ','
	})
	for len(words) > 0 && isFiller(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) > maxItemWords {
		words = words[len(words)-maxItemWords:]
	}
	item := strings.TrimSpace(strings.Join(words, " "))
	if !strings.ContainsFunc(item, unicode.IsLetter) {
		return ""
	}
	return item
}

func isFiller(w string) bool {
	switch strings.ToLower(w) {
	case "from", "now", "at", "only", "costs", "cost", "is", "are", "price", "priced", "for", "about", "around", "approx", "approximately", "typically":
		return true
	default:
		return false
	}
}

func snippetAround(text string, start, end int) string {
	lo := start - snippetRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + snippetRadius
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}
