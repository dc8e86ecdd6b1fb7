package connector

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

const maxFeedCandidates = 50

// feedExtractor turns RSS/Atom items into candidates. Price hints come from
// a heuristic scan of each item's text.
type feedExtractor struct {
	src    evidence.SourceDescriptor
	parser *gofeed.Parser
	logger *zap.Logger
}

func newFeedExtractor(src evidence.SourceDescriptor, logger *zap.Logger) feedExtractor {
	return feedExtractor{src: src, parser: gofeed.NewParser(), logger: logger}
}

func (f feedExtractor) Extract(_ context.Context, raw evidence.RawFetchResult, hint *time.Time) []evidence.Candidate {
	feed, err := f.parser.ParseString(raw.Body)
	if err != nil {
		f.logger.Warn("failed to parse feed", zap.Error(err))
		return nil
	}
	base := raw.URL
	if base == "" {
		base = f.src.BaseURL
	}
	out := make([]evidence.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(out) >= maxFeedCandidates {
			break
		}
		if item == nil {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if hint != nil && published != nil && published.Before(*hint) {
			continue
		}
		text := item.Description
		if text == "" {
			text = item.Content
		}
		text = VisibleText(text)

		c := evidence.Candidate{
			Title:         strings.TrimSpace(item.Title),
			RawText:       text,
			PublishedDate: utcPtr(published),
			Category:      f.src.Category,
			Geography:     f.src.Geography,
			SourceURL:     resolveLink(base, item.Link),
		}
		if hints := ScanPriceHints(c.Title+". "+text, 1); len(hints) > 0 {
			value := hints[0].Value
			c.Metric = hints[0].Item
			c.Value = &value
			c.Unit = hints[0].Unit
		}
		if c.Validate() != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func resolveLink(base, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return base
	}
	ref, err := url.Parse(link)
	if err != nil {
		return base
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return link
	}
	return baseURL.ResolveReference(ref).String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
