// Package alerts publishes notable price changes and anomalous trends.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
)

// Alert kinds.
const (
	KindPriceChange  = "price_change"
	KindTrendAnomaly = "trend_anomaly"
)

// Alert is the payload pushed to the publisher.
type Alert struct {
	Kind       string            `json:"kind"`
	EntityID   string            `json:"entity_id"`
	ItemName   string            `json:"item_name"`
	Category   string            `json:"category"`
	Geography  string            `json:"geography,omitempty"`
	SourceID   string            `json:"source_id,omitempty"`
	Severity   evidence.Severity `json:"severity,omitempty"`
	ChangePct  *float64          `json:"change_pct,omitempty"`
	Anomalies  int               `json:"anomalies,omitempty"`
	Message    string            `json:"message"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Source lists the artifacts eligible for alerting.
type Source interface {
	ListPriceChanges(ctx context.Context, since time.Time) ([]evidence.PriceChangeEvent, error)
	ListTrendSnapshots(ctx context.Context, since time.Time) ([]evidence.TrendSnapshot, error)
}

// Sweeper publishes alerts for recent artifacts.
type Sweeper struct {
	source    Source
	publisher evidence.Publisher
	topic     string
	logger    *zap.Logger
}

// NewSweeper builds a Sweeper publishing to topic.
func NewSweeper(source Source, publisher evidence.Publisher, topic string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{source: source, publisher: publisher, topic: topic, logger: logger.Named("alerts")}
}

// Sweep publishes one alert per notable or significant price change and per
// anomalous trend snapshot recorded at or after since. Publish failures are
// collected and the sweep continues. It returns the number published.
func (s *Sweeper) Sweep(ctx context.Context, since time.Time) (int, error) {
	changes, err := s.source.ListPriceChanges(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list price changes: %w", err)
	}
	snaps, err := s.source.ListTrendSnapshots(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list trend snapshots: %w", err)
	}

	var pending []Alert
	for _, ev := range changes {
		if ev.Severity != evidence.SeverityNotable && ev.Severity != evidence.SeveritySignificant {
			continue
		}
		pending = append(pending, changeAlert(ev))
	}
	for _, snap := range snaps {
		if len(snap.Anomalies) == 0 {
			continue
		}
		pending = append(pending, anomalyAlert(snap))
	}

	published := 0
	var errs []error
	for _, a := range pending {
		id, err := s.publisher.Publish(ctx, s.topic, a)
		if err != nil {
			s.logger.Warn("alert publish failed", zap.String("kind", a.Kind), zap.String("entity_id", a.EntityID), zap.Error(err))
			errs = append(errs, fmt.Errorf("publish %s %s: %w", a.Kind, a.EntityID, err))
			continue
		}
		published++
		metrics.ObserveAlertPublished()
		s.logger.Debug("alert published", zap.String("kind", a.Kind), zap.String("message_id", id))
	}
	return published, errors.Join(errs...)
}

func changeAlert(ev evidence.PriceChangeEvent) Alert {
	pct := ev.ChangePct
	return Alert{
		Kind:       KindPriceChange,
		EntityID:   ev.ID,
		ItemName:   ev.ItemName,
		Category:   ev.Category,
		SourceID:   ev.SourceID,
		Severity:   ev.Severity,
		ChangePct:  &pct,
		Message:    fmt.Sprintf("%s %s %.1f%% (%.2f -> %.2f)", ev.ItemName, ev.ChangeDirection, pct*100, ev.PreviousPrice, ev.NewPrice),
		OccurredAt: ev.DetectedAt,
	}
}

func anomalyAlert(snap evidence.TrendSnapshot) Alert {
	return Alert{
		Kind:       KindTrendAnomaly,
		EntityID:   snap.ID,
		ItemName:   snap.Metric,
		Category:   snap.Category,
		Geography:  snap.Geography,
		ChangePct:  snap.PercentChange,
		Anomalies:  len(snap.Anomalies),
		Message:    fmt.Sprintf("%s (%s) has %d anomalous observation(s), trend %s", snap.Metric, snap.Geography, len(snap.Anomalies), snap.Direction),
		OccurredAt: snap.ComputedAt,
	}
}

// AlertKind exposes the kind as a message attribute.
func (a Alert) AlertKind() string { return a.Kind }
