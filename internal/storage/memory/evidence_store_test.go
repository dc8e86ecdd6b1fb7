package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

var base = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func sample(id, item, source string, at time.Time, price float64) evidence.Record {
	p := price
	return evidence.Record{
		RecordID:         id,
		SourceRegistryID: source,
		SourceURL:        "https://example.com/" + source,
		Category:         "flooring",
		ItemName:         item,
		PriceTypical:     &p,
		CaptureDate:      at,
		Tags:             []string{"grade:A"},
	}
}

func TestInsertRecordIsUniquePerDay(t *testing.T) {
	t.Parallel()

	store := NewEvidenceStore()
	ctx := context.Background()

	ok, err := store.InsertRecord(ctx, sample("EV-1", "oak", "a", base, 10))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.InsertRecord(ctx, sample("EV-2", "oak", "a", base.Add(5*time.Hour), 11))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.InsertRecord(ctx, sample("EV-3", "oak", "a", base.Add(24*time.Hour), 11))
	require.NoError(t, err)
	require.True(t, ok)

	exists, err := store.RecordExists(ctx, evidence.DedupKey{SourceURL: "https://example.com/a", ItemName: "oak", Day: base.Add(time.Hour)})
	require.NoError(t, err)
	require.True(t, exists)
}

func TestConcurrentDuplicateInsertsStoreOneRecord(t *testing.T) {
	t.Parallel()

	store := NewEvidenceStore()
	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.InsertRecord(context.Background(), sample("EV", "oak", "a", base, 10))
			if err == nil && ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), inserted.Load())
	recs, err := store.ListRecords(context.Background(), evidence.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestLatestBeforeAndFilters(t *testing.T) {
	t.Parallel()

	store := NewEvidenceStore()
	ctx := context.Background()
	for _, r := range []evidence.Record{
		sample("EV-1", "oak", "a", base, 10),
		sample("EV-2", "oak", "a", base.AddDate(0, 0, 2), 12),
		sample("EV-3", "oak", "b", base.AddDate(0, 0, 3), 99),
		sample("EV-4", "oak", "a", base.AddDate(0, 0, 4), 13),
	} {
		_, err := store.InsertRecord(ctx, r)
		require.NoError(t, err)
	}

	prev, err := store.LatestBefore(ctx, "oak", "a", base.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.Equal(t, "EV-2", prev.RecordID)

	_, err = store.LatestBefore(ctx, "oak", "a", base)
	require.ErrorIs(t, err, evidence.ErrNotFound)

	recs, err := store.ListRecords(ctx, evidence.RecordFilter{SourceID: "a", Since: base.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	recs[0].Tags[0] = "mutated"
	*recs[0].PriceTypical = -1

	again, err := store.ListRecords(ctx, evidence.RecordFilter{Categories: []string{"flooring"}})
	require.NoError(t, err)
	require.Len(t, again, 4)
	require.Equal(t, "grade:A", again[1].Tags[0])
	require.InDelta(t, 12.0, *again[1].PriceTypical, 1e-9)

	none, err := store.ListRecords(ctx, evidence.RecordFilter{Categories: []string{"roofing"}})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRunStateAndHistory(t *testing.T) {
	t.Parallel()

	store := NewEvidenceStore()
	ctx := context.Background()

	_, err := store.GetSourceState(ctx, "a")
	require.ErrorIs(t, err, evidence.ErrNotFound)
	require.NoError(t, store.UpsertSourceState(ctx, evidence.SourceState{SourceID: "a", RecordCount: 3}))
	st, err := store.GetSourceState(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 3, st.RecordCount)

	_, err = store.GetRunReport(ctx, "run-1")
	require.ErrorIs(t, err, evidence.ErrNotFound)
	require.NoError(t, store.SaveRunReport(ctx, evidence.RunReport{RunID: "run-1", EvidenceCreated: 2}))
	report, err := store.GetRunReport(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 2, report.EvidenceCreated)

	require.NoError(t, store.InsertProposal(ctx, evidence.BenchmarkProposal{ID: "p1", Category: "flooring"}))
	require.NoError(t, store.InsertProposal(ctx, evidence.BenchmarkProposal{ID: "p2", Category: "roofing"}))
	all, err := store.ListProposals(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	floors, err := store.ListProposals(ctx, "flooring")
	require.NoError(t, err)
	require.Len(t, floors, 1)

	require.NoError(t, store.InsertPriceChange(ctx, evidence.PriceChangeEvent{ID: "old", DetectedAt: base.Add(-time.Hour)}))
	require.NoError(t, store.InsertPriceChange(ctx, evidence.PriceChangeEvent{ID: "new", DetectedAt: base}))
	changes, err := store.ListPriceChanges(ctx, base)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "new", changes[0].ID)

	require.NoError(t, store.InsertTrendSnapshot(ctx, evidence.TrendSnapshot{ID: "t", ComputedAt: base}))
	snaps, err := store.ListTrendSnapshots(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Empty(t, snaps)

	require.NoError(t, store.AppendAudit(ctx, evidence.AuditEntry{Action: "ingestion.run"}))
	require.Len(t, store.Audit(), 1)
	require.NoError(t, store.Ping(ctx))
}
