// Package changes detects price movements between consecutive evidence
// records of the same item and source.
package changes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
)

const (
	significantThreshold = 0.10
	notableThreshold     = 0.05

	// InsightConfidence is attached to every synthesized insight.
	InsightConfidence = 0.85
)

// Change directions.
const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
)

// Store is the persistence needed by the detector.
type Store interface {
	LatestBefore(ctx context.Context, itemName, sourceID string, before time.Time) (evidence.Record, error)
	InsertPriceChange(ctx context.Context, ev evidence.PriceChangeEvent) error
	InsertInsight(ctx context.Context, in evidence.Insight) error
}

// Detector compares a new record with its predecessor.
type Detector struct {
	store  Store
	ids    evidence.IDGenerator
	clock  evidence.Clock
	logger *zap.Logger
}

// NewDetector builds a Detector.
func NewDetector(store Store, ids evidence.IDGenerator, clock evidence.Clock, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, ids: ids, clock: clock, logger: logger.Named("changes")}
}

// Classify maps a fractional change to a severity.
func Classify(changePct float64) evidence.Severity {
	abs := math.Abs(changePct)
	switch {
	case abs >= significantThreshold:
		return evidence.SeveritySignificant
	case abs >= notableThreshold:
		return evidence.SeverityNotable
	case abs > 0:
		return evidence.SeverityMinor
	default:
		return evidence.SeverityNone
	}
}

// Detect compares rec with the most recent strictly earlier record of the
// same item and source. It returns nil when there is nothing to report.
func (d *Detector) Detect(ctx context.Context, rec evidence.Record) (*evidence.PriceChangeEvent, error) {
	if rec.PriceTypical == nil {
		return nil, nil
	}
	prev, err := d.store.LatestBefore(ctx, rec.ItemName, rec.SourceRegistryID, rec.CaptureDate)
	if errors.Is(err, evidence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load previous record: %w", err)
	}
	if prev.PriceTypical == nil || *prev.PriceTypical == 0 {
		return nil, nil
	}
	oldPrice, newPrice := *prev.PriceTypical, *rec.PriceTypical
	if oldPrice == newPrice {
		return nil, nil
	}
	pct := (newPrice - oldPrice) / math.Abs(oldPrice)
	severity := Classify(pct)
	if severity == evidence.SeverityNone {
		return nil, nil
	}

	id, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("change id: %w", err)
	}
	direction := DirectionIncrease
	if pct < 0 {
		direction = DirectionDecrease
	}
	ev := evidence.PriceChangeEvent{
		ID:               id,
		RecordID:         rec.RecordID,
		PreviousRecordID: prev.RecordID,
		ItemName:         rec.ItemName,
		Category:         rec.Category,
		SourceID:         rec.SourceRegistryID,
		PreviousPrice:    oldPrice,
		NewPrice:         newPrice,
		ChangePct:        pct,
		ChangeDirection:  direction,
		Severity:         severity,
		DetectedAt:       d.clock.Now(),
	}
	if err := d.store.InsertPriceChange(ctx, ev); err != nil {
		return nil, fmt.Errorf("persist price change: %w", err)
	}
	metrics.ObservePriceChange(string(severity))
	d.logger.Info("price change detected",
		zap.String("item", ev.ItemName),
		zap.String("source_id", ev.SourceID),
		zap.Float64("change_pct", pct),
		zap.String("severity", string(severity)),
	)

	if severity == evidence.SeverityMinor {
		return &ev, nil
	}
	insight, err := d.insightFor(ev)
	if err != nil {
		return &ev, err
	}
	if err := d.store.InsertInsight(ctx, insight); err != nil {
		return &ev, fmt.Errorf("persist insight: %w", err)
	}
	return &ev, nil
}

func (d *Detector) insightFor(ev evidence.PriceChangeEvent) (evidence.Insight, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return evidence.Insight{}, fmt.Errorf("insight id: %w", err)
	}
	in := evidence.Insight{
		ID:         id,
		Confidence: InsightConfidence,
		ItemName:   ev.ItemName,
		Category:   ev.Category,
		SourceID:   ev.SourceID,
		EventID:    ev.ID,
		CreatedAt:  ev.DetectedAt,
	}
	pct := math.Abs(ev.ChangePct) * 100
	if ev.ChangeDirection == DirectionIncrease {
		in.Type = evidence.InsightCostPressure
		in.Title = fmt.Sprintf("Cost pressure: %s up %.1f%%", ev.ItemName, pct)
		in.Summary = fmt.Sprintf("%s rose from %.2f to %.2f (%s change) at source %s.",
			ev.ItemName, ev.PreviousPrice, ev.NewPrice, ev.Severity, ev.SourceID)
	} else {
		in.Type = evidence.InsightMarketOpportunity
		in.Title = fmt.Sprintf("Market opportunity: %s down %.1f%%", ev.ItemName, pct)
		in.Summary = fmt.Sprintf("%s fell from %.2f to %.2f (%s change) at source %s.",
			ev.ItemName, ev.PreviousPrice, ev.NewPrice, ev.Severity, ev.SourceID)
	}
	return in, nil
}
