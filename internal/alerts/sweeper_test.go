package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/publisher/memory"
)

type fakeSource struct {
	changes []evidence.PriceChangeEvent
	snaps   []evidence.TrendSnapshot
	err     error
	since   time.Time
}

func (f *fakeSource) ListPriceChanges(_ context.Context, since time.Time) ([]evidence.PriceChangeEvent, error) {
	f.since = since
	return f.changes, f.err
}

func (f *fakeSource) ListTrendSnapshots(context.Context, time.Time) ([]evidence.TrendSnapshot, error) {
	return f.snaps, nil
}

func TestSweepPublishesNotableChangesAndAnomalies(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		changes: []evidence.PriceChangeEvent{
			{ID: "c1", ItemName: "rebar", Severity: evidence.SeveritySignificant, ChangePct: 0.15, ChangeDirection: "increase"},
			{ID: "c2", ItemName: "sand", Severity: evidence.SeverityMinor, ChangePct: 0.01},
			{ID: "c3", ItemName: "glass", Severity: evidence.SeverityNotable, ChangePct: -0.06, ChangeDirection: "decrease"},
		},
		snaps: []evidence.TrendSnapshot{
			{ID: "t1", Metric: "tiles", Anomalies: []evidence.Anomaly{{Value: 150}}},
			{ID: "t2", Metric: "paint"},
		},
	}
	pub := memory.New()
	n, err := NewSweeper(src, pub, "evidence-alerts", zap.NewNop()).Sweep(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, since, src.since)

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "evidence-alerts", msgs[0].Topic)
	first, ok := msgs[0].Payload.(Alert)
	require.True(t, ok)
	require.Equal(t, KindPriceChange, first.Kind)
	require.Equal(t, "c1", first.EntityID)
	last := msgs[2].Payload.(Alert)
	require.Equal(t, KindTrendAnomaly, last.Kind)
	require.Equal(t, 1, last.Anomalies)
}

func TestSweepContinuesAfterPublishFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{changes: []evidence.PriceChangeEvent{
		{ID: "c1", Severity: evidence.SeveritySignificant},
		{ID: "c2", Severity: evidence.SeverityNotable},
	}}
	pub := memory.New()
	pub.FailNext(errors.New("unavailable"))
	n, err := NewSweeper(src, pub, "alerts", nil).Sweep(context.Background(), time.Time{})
	require.ErrorContains(t, err, "unavailable")
	require.Equal(t, 1, n)
	require.Len(t, pub.Messages(), 1)
}

func TestSweepListFailure(t *testing.T) {
	t.Parallel()

	_, err := NewSweeper(&fakeSource{err: errors.New("db")}, memory.New(), "alerts", nil).Sweep(context.Background(), time.Time{})
	require.ErrorContains(t, err, "list price changes")
}
