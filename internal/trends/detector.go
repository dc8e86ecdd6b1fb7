package trends

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
	"github.com/JakeFAU/evidence-ingest/internal/oracle"
)

const narrativeSystemPrompt = `You write short factual market commentary.
Answer with exactly three sentences of plain text. Use only the figures provided. No advice, no speculation.`

// Options scopes a trend run.
type Options struct {
	Categories []string
	RunID      string
}

// Detector computes and persists trend snapshots.
type Detector struct {
	records    evidence.RecordStore
	snapshots  evidence.TrendStore
	oracle     oracle.Oracle
	ids        evidence.IDGenerator
	clock      evidence.Clock
	windowDays int
	logger     *zap.Logger
}

// NewDetector wires a Detector. A nil oracle disables narratives.
func NewDetector(
	records evidence.RecordStore,
	snapshots evidence.TrendStore,
	o oracle.Oracle,
	ids evidence.IDGenerator,
	clock evidence.Clock,
	windowDays int,
	logger *zap.Logger,
) *Detector {
	if o == nil {
		o = oracle.None{}
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		records:    records,
		snapshots:  snapshots,
		oracle:     o,
		ids:        ids,
		clock:      clock,
		windowDays: windowDays,
		logger:     logger.Named("trends"),
	}
}

type seriesKey struct {
	metric    string
	category  string
	geography string
}

// Run groups priced records by (item, category, geography) and persists a
// snapshot for every series with at least two points. Persistence errors
// are collected; the remaining series are still processed.
func (d *Detector) Run(ctx context.Context, opts Options) ([]evidence.TrendSnapshot, error) {
	recs, err := d.records.ListRecords(ctx, evidence.RecordFilter{Categories: opts.Categories})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	groups := make(map[seriesKey][]Point)
	for _, r := range recs {
		if r.PriceTypical == nil {
			continue
		}
		key := seriesKey{metric: r.ItemName, category: r.Category, geography: r.Geography}
		groups[key] = append(groups[key], Point{
			Date:     r.CaptureDate,
			Value:    *r.PriceTypical,
			Grade:    r.ReliabilityGrade,
			SourceID: r.SourceRegistryID,
		})
	}
	keys := make([]seriesKey, 0, len(groups))
	for k, pts := range groups {
		if len(pts) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].geography < keys[j].geography
	})

	var (
		out  []evidence.TrendSnapshot
		errs []error
	)
	for _, k := range keys {
		snap, err := d.Compute(ctx, k.metric, k.category, k.geography, groups[k], opts.RunID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.snapshots.InsertTrendSnapshot(ctx, snap); err != nil {
			d.logger.Error("failed to persist trend snapshot", zap.String("metric", k.metric), zap.Error(err))
			errs = append(errs, fmt.Errorf("persist trend %s/%s: %w", k.category, k.metric, err))
			continue
		}
		metrics.ObserveAnomalies(len(snap.Anomalies))
		out = append(out, snap)
	}
	d.logger.Info("trend run completed", zap.Int("series", len(keys)), zap.Int("snapshots", len(out)))
	return out, errors.Join(errs...)
}

// Compute builds a snapshot for one series anchored at the current time.
func (d *Detector) Compute(ctx context.Context, metric, category, geography string, points []Point, runID string) (evidence.TrendSnapshot, error) {
	if len(points) < 2 {
		return evidence.TrendSnapshot{}, fmt.Errorf("trend %s: at least two points required", metric)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return evidence.TrendSnapshot{}, fmt.Errorf("trend id: %w", err)
	}
	now := d.clock.Now()
	dir := DetectDirection(points, d.windowDays, now)

	sources := make(map[string]struct{})
	gradeA := 0
	for _, p := range points {
		sources[p.SourceID] = struct{}{}
		if p.Grade == evidence.GradeA {
			gradeA++
		}
	}
	anomalies := FlagAnomalies(points, d.windowDays)
	if anomalies == nil {
		anomalies = []evidence.Anomaly{}
	}

	snap := evidence.TrendSnapshot{
		ID:             id,
		Metric:         metric,
		Category:       category,
		Geography:      geography,
		PointCount:     len(points),
		GradeACount:    gradeA,
		SourceCount:    len(sources),
		CurrentMA:      dir.CurrentMA,
		PreviousMA:     dir.PreviousMA,
		PercentChange:  dir.PercentChange,
		Direction:      dir.Direction,
		Anomalies:      anomalies,
		Confidence:     Confidence(points),
		MovingAverages: MovingAverage(points, d.windowDays),
		WindowDays:     d.windowDays,
		RunID:          runID,
		ComputedAt:     now,
	}
	snap.Narrative = d.narrative(ctx, snap)
	return snap, nil
}

func (d *Detector) narrative(ctx context.Context, snap evidence.TrendSnapshot) *string {
	if !oracle.Configured(d.oracle) {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Series: %s (%s, %s)\n", snap.Metric, snap.Category, snap.Geography)
	fmt.Fprintf(&b, "Points: %d from %d sources, confidence %s\n", snap.PointCount, snap.SourceCount, snap.Confidence)
	fmt.Fprintf(&b, "Direction over %d days: %s\n", snap.WindowDays, snap.Direction)
	if snap.CurrentMA != nil {
		fmt.Fprintf(&b, "Current average: %.2f\n", *snap.CurrentMA)
	}
	if snap.PreviousMA != nil {
		fmt.Fprintf(&b, "Previous average: %.2f\n", *snap.PreviousMA)
	}
	if snap.PercentChange != nil {
		fmt.Fprintf(&b, "Change: %.1f%%\n", *snap.PercentChange*100)
	}
	fmt.Fprintf(&b, "Anomalies: %d\n", len(snap.Anomalies))
	b.WriteString("Write exactly three factual sentences summarizing this series.")

	out, err := d.oracle.Complete(ctx, oracle.Request{System: narrativeSystemPrompt, Prompt: b.String(), MaxTokens: 300})
	if err != nil {
		d.logger.Debug("trend narrative unavailable", zap.String("metric", snap.Metric), zap.Error(err))
		return nil
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return nil
	}
	return &text
}
