package connector

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/freshness"
)

// ErrNoMetric is returned when a candidate carries no usable metric label.
var ErrNoMetric = errors.New("connector: candidate has no metric label")

// Placeholder values applied when normalization fails.
const (
	PlaceholderConfidence = 0.20
	PlaceholderTag        = "normalization_fallback"
)

const (
	minConfidence = 0.20
	maxConfidence = 1.00
	freshBonus    = 0.10
	stalePenalty  = 0.15
	maxMetricLen  = 120
	maxSummaryLen = 280
)

// Reliability tiers by source identity. Unlisted sources are grade C.
var (
	gradeASources = map[string]struct{}{
		"ons-construction-materials": {},
		"bls-ppi-construction":       {},
		"eurostat-construction-cost": {},
		"census-construction-spend":  {},
		"statcan-building-costs":     {},
	}
	gradeBSources = map[string]struct{}{
		"rics-bcis-tender-index":      {},
		"nahb-cost-of-construction":   {},
		"agc-construction-inputs":     {},
		"builders-merchants-index":    {},
		"turner-building-cost-index":  {},
		"rlb-construction-cost-guide": {},
	}
)

var baseConfidence = map[evidence.Grade]float64{
	evidence.GradeA: 0.85,
	evidence.GradeB: 0.70,
	evidence.GradeC: 0.55,
}

// GradeFor returns the reliability grade of a source.
func GradeFor(sourceID string) evidence.Grade {
	id := strings.ToLower(strings.TrimSpace(sourceID))
	if _, ok := gradeASources[id]; ok {
		return evidence.GradeA
	}
	if _, ok := gradeBSources[id]; ok {
		return evidence.GradeB
	}
	return evidence.GradeC
}

// Confidence scores an observation of the given grade. Dated observations
// within 90 days gain a bonus; undated ones or those older than 365 days
// are penalized.
func Confidence(grade evidence.Grade, published *time.Time, now time.Time) float64 {
	score, ok := baseConfidence[grade]
	if !ok {
		score = baseConfidence[evidence.GradeC]
	}
	switch {
	case published == nil:
		score -= stalePenalty
	default:
		switch freshness.Classify(now.Sub(*published)) {
		case freshness.Fresh:
			score += freshBonus
		case freshness.Stale:
			score -= stalePenalty
		}
	}
	return math.Max(minConfidence, math.Min(maxConfidence, score))
}

// NormalizeMetric lowercases, collapses whitespace and trims punctuation.
func NormalizeMetric(s string) string {
	s = strings.ToLower(collapseSpace(s))
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	})
	return truncateRunes(s, maxMetricLen)
}

var unitAliases = map[string]string{
	"sqm": "sqm", "m2": "sqm", "m²": "sqm", "sq m": "sqm", "sq. m": "sqm", "square metre": "sqm", "square meter": "sqm",
	"sqft": "sqft", "sq ft": "sqft", "sq. ft": "sqft", "ft2": "sqft", "ft²": "sqft", "square foot": "sqft", "square feet": "sqft",
	"piece": "piece", "pieces": "piece", "pc": "piece", "pcs": "piece", "each": "piece", "ea": "piece",
	"unit": "unit", "units": "unit",
	"set": "set", "sets": "set",
}

// NormalizeUnit maps unit spellings onto a canonical token.
func NormalizeUnit(u string) string {
	key := strings.ToLower(collapseSpace(strings.TrimSuffix(strings.TrimSpace(u), ".")))
	if canonical, ok := unitAliases[key]; ok {
		return canonical
	}
	return key
}

// Normalize deterministically turns a candidate into normalized evidence.
func Normalize(src evidence.SourceDescriptor, c evidence.Candidate, now time.Time) (evidence.Normalized, error) {
	metric := NormalizeMetric(c.Metric)
	if metric == "" {
		metric = NormalizeMetric(c.Title)
	}
	if metric == "" {
		return evidence.Normalized{}, ErrNoMetric
	}

	var value *float64
	if c.Value != nil && !math.IsNaN(*c.Value) && !math.IsInf(*c.Value, 0) && *c.Value > 0 {
		v := *c.Value
		value = &v
	}

	grade := GradeFor(src.ID)
	tags := []string{"method:" + string(src.Method), "grade:" + string(grade)}
	if c.PublishedDate == nil {
		tags = append(tags, "undated")
	}
	if value != nil {
		tags = append(tags, "priced")
	}

	return evidence.Normalized{
		Metric:     metric,
		Value:      value,
		Unit:       NormalizeUnit(c.Unit),
		Confidence: Confidence(grade, c.PublishedDate, now),
		Grade:      grade,
		Summary:    summarize(c),
		Tags:       tags,
	}, nil
}

// Placeholder is the low-confidence stand-in used when normalization fails.
func Placeholder(c evidence.Candidate) evidence.Normalized {
	metric := NormalizeMetric(c.Metric)
	if metric == "" {
		metric = NormalizeMetric(c.Title)
	}
	if metric == "" {
		metric = "unlabeled"
	}
	return evidence.Normalized{
		Metric:     metric,
		Unit:       NormalizeUnit(c.Unit),
		Confidence: PlaceholderConfidence,
		Grade:      evidence.GradeC,
		Summary:    summarize(c),
		Tags:       []string{PlaceholderTag},
	}
}

func summarize(c evidence.Candidate) string {
	text := collapseSpace(c.RawText)
	if text == "" {
		text = collapseSpace(c.Title)
	}
	if len([]rune(text)) > maxSummaryLen {
		return truncateRunes(text, maxSummaryLen-3) + "..."
	}
	return text
}
