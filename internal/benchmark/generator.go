// Package benchmark turns grouped evidence into confidence-weighted benchmark
// range proposals.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/freshness"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
)

// Config tunes eligibility and the publish gate.
type Config struct {
	MinGroupSize      int
	MinPublishRecords int
	MinSources        int
	MinConfidence     int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{MinGroupSize: 3, MinPublishRecords: 5, MinSources: 2, MinConfidence: 40}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinGroupSize <= 0 {
		c.MinGroupSize = d.MinGroupSize
	}
	if c.MinPublishRecords <= 0 {
		c.MinPublishRecords = d.MinPublishRecords
	}
	if c.MinSources <= 0 {
		c.MinSources = d.MinSources
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	return c
}

// Store is the persistence needed by the generator.
type Store interface {
	ListRecords(ctx context.Context, filter evidence.RecordFilter) ([]evidence.Record, error)
	InsertProposal(ctx context.Context, p evidence.BenchmarkProposal) error
}

// Options scopes a generation pass. An empty Category covers everything.
type Options struct {
	Category   string
	Categories []string
	RunID      string
}

// Generator computes and appends benchmark proposals.
type Generator struct {
	cfg    Config
	store  Store
	ids    evidence.IDGenerator
	clock  evidence.Clock
	logger *zap.Logger
}

// NewGenerator builds a Generator.
func NewGenerator(cfg Config, store Store, ids evidence.IDGenerator, clock evidence.Clock, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg.withDefaults(), store: store, ids: ids, clock: clock, logger: logger.Named("benchmark")}
}

// ReliabilityWeight maps a grade to its weighting factor.
func ReliabilityWeight(g evidence.Grade) float64 {
	switch g {
	case evidence.GradeA:
		return 3
	case evidence.GradeB:
		return 2
	default:
		return 1
	}
}

// Percentile returns the nearest-rank value sorted[floor(n*p)], clamped to
// the last index. sorted must be ascending and non-empty.
func Percentile(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Generate recomputes every eligible category:unit group and appends a new
// proposal for each. Prior proposals are never modified.
func (g *Generator) Generate(ctx context.Context, opts Options) ([]evidence.BenchmarkProposal, error) {
	filter := evidence.RecordFilter{Categories: opts.Categories}
	if opts.Category != "" {
		filter.Categories = []string{opts.Category}
	}
	recs, err := g.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	groups := make(map[string][]evidence.Record)
	for _, r := range recs {
		if r.PriceTypical == nil || *r.PriceTypical <= 0 || math.IsNaN(*r.PriceTypical) || math.IsInf(*r.PriceTypical, 0) {
			continue
		}
		key := r.Category + ":" + r.Unit
		groups[key] = append(groups[key], r)
	}
	keys := make([]string, 0, len(groups))
	for k, members := range groups {
		if len(members) < g.cfg.MinGroupSize {
			g.logger.Debug("skipping small group", zap.String("benchmark_key", k), zap.Int("records", len(members)))
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		out  []evidence.BenchmarkProposal
		errs []error
	)
	for _, k := range keys {
		p, err := g.Propose(k, groups[k], opts.RunID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.store.InsertProposal(ctx, p); err != nil {
			g.logger.Error("failed to persist proposal", zap.String("benchmark_key", k), zap.Error(err))
			errs = append(errs, fmt.Errorf("persist proposal %s: %w", k, err))
			continue
		}
		metrics.ObserveProposal(string(p.Recommendation))
		out = append(out, p)
	}
	g.logger.Info("benchmark proposals generated",
		zap.Int("groups", len(keys)),
		zap.Int("proposals", len(out)),
		zap.String("run_id", opts.RunID),
	)
	return out, errors.Join(errs...)
}

// Propose computes a proposal for one group of priced records.
func (g *Generator) Propose(key string, group []evidence.Record, runID string) (evidence.BenchmarkProposal, error) {
	if len(group) == 0 {
		return evidence.BenchmarkProposal{}, fmt.Errorf("benchmark %s: empty group", key)
	}
	id, err := g.ids.NewID()
	if err != nil {
		return evidence.BenchmarkProposal{}, fmt.Errorf("proposal id: %w", err)
	}
	now := g.clock.Now()

	prices := make([]float64, 0, len(group))
	sources := make(map[string]struct{})
	var (
		rel            evidence.ReliabilityDist
		rec            evidence.RecencyDist
		weighted, wsum float64
	)
	for _, r := range group {
		price := *r.PriceTypical
		prices = append(prices, price)
		sources[r.SourceRegistryID] = struct{}{}

		switch r.ReliabilityGrade {
		case evidence.GradeA:
			rel.A++
		case evidence.GradeB:
			rel.B++
		default:
			rel.C++
		}
		switch freshness.Classify(now.Sub(r.CaptureDate)) {
		case freshness.Fresh:
			rec.Recent++
		case freshness.Aging:
			rec.Mid++
		default:
			rec.Old++
		}

		w := ReliabilityWeight(r.ReliabilityGrade) * freshness.WeightAt(r.CaptureDate, now)
		weighted += price * w
		wsum += w
	}
	sort.Float64s(prices)

	p50 := Percentile(prices, 0.50)
	mean := p50
	if wsum > 0 {
		mean = weighted / wsum
	}

	category, unit := splitKey(key)
	p := evidence.BenchmarkProposal{
		ID:              id,
		BenchmarkKey:    key,
		Category:        category,
		Unit:            unit,
		ProposedP25:     Percentile(prices, 0.25),
		ProposedP50:     p50,
		ProposedP75:     Percentile(prices, 0.75),
		WeightedMean:    mean,
		EvidenceCount:   len(group),
		SourceDiversity: len(sources),
		ReliabilityDist: rel,
		RecencyDist:     rec,
		RunID:           runID,
		CreatedAt:       now,
	}
	p.ConfidenceScore = Score(p.EvidenceCount, p.SourceDiversity, rel.A, rec.Recent)
	p.Recommendation, p.RejectionReason = g.recommend(p)
	return p, nil
}

// Score computes the 0-100 confidence score of a group.
func Score(records, sources, gradeA, recent int) int {
	score := 50
	switch {
	case records >= 10:
		score += 15
	case records >= 5:
		score += 10
	}
	switch {
	case sources >= 3:
		score += 15
	case sources >= 2:
		score += 10
	}
	if records > 0 {
		if float64(gradeA)/float64(records) >= 0.5 {
			score += 10
		}
		if float64(recent)/float64(records) >= 0.5 {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (g *Generator) recommend(p evidence.BenchmarkProposal) (evidence.Recommendation, string) {
	switch {
	case p.EvidenceCount < g.cfg.MinPublishRecords:
		return evidence.RecommendReject, fmt.Sprintf("insufficient evidence: %d records, need at least %d",
			p.EvidenceCount, g.cfg.MinPublishRecords)
	case p.SourceDiversity < g.cfg.MinSources:
		return evidence.RecommendReject, fmt.Sprintf("insufficient source diversity: %d sources, need at least %d",
			p.SourceDiversity, g.cfg.MinSources)
	case p.ConfidenceScore < g.cfg.MinConfidence:
		return evidence.RecommendReject, fmt.Sprintf("confidence too low: %d, need at least %d",
			p.ConfidenceScore, g.cfg.MinConfidence)
	default:
		return evidence.RecommendPublish, ""
	}
}

func splitKey(key string) (string, string) {
	i := strings.LastIndex(key, ":")
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}
