package postgres

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

var captured = time.Date(2026, 5, 1, 14, 30, 0, 0, time.UTC)

var recordCols = []string{
	"record_id", "source_registry_id", "source_url", "category", "geography", "item_name",
	"price_typical", "unit", "currency", "capture_date", "reliability_grade", "confidence_score",
	"extracted_snippet", "publisher", "title", "tags", "run_id", "created_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func sampleRecord() evidence.Record {
	price := 42.5
	return evidence.Record{
		RecordID:         "EV-20260501-ABCDEF12",
		SourceRegistryID: "bls-ppi-construction",
		SourceURL:        "https://example.com/ppi",
		Category:         "materials",
		Geography:        "US",
		ItemName:         "ready mix concrete",
		PriceTypical:     &price,
		Unit:             "unit",
		Currency:         "USD",
		CaptureDate:      captured,
		ReliabilityGrade: evidence.GradeA,
		ConfidenceScore:  95,
		Title:            "Ready mix concrete",
		Tags:             []string{"grade:A"},
		RunID:            "run-1",
		CreatedAt:        captured,
	}
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestInsertRecordReportsDuplicates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := sampleRecord()
	args := []any{
		rec.RecordID, rec.SourceRegistryID, rec.SourceURL, rec.Category, rec.Geography, rec.ItemName,
		rec.PriceTypical, rec.Unit, rec.Currency, rec.CaptureDate, "A", rec.ConfidenceScore,
		rec.ExtractedSnippet, rec.Publisher, rec.Title, []byte(`["grade:A"]`), rec.RunID, rec.CreatedAt,
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO evidence_records").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO evidence_records").WillReturnError(errors.New("connection refused"))

	_, err := store.InsertRecord(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "insert evidence record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordExists(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://example.com/ppi", "ready mix concrete", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.RecordExists(context.Background(), evidence.DedupKey{
		SourceURL: "https://example.com/ppi",
		ItemName:  "ready mix concrete",
		Day:       captured,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestBefore(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	price := 40.0
	rows := pgxmock.NewRows(recordCols).AddRow(
		"EV-1", "bls-ppi-construction", "https://example.com/ppi", "materials", "US", "ready mix concrete",
		&price, "unit", "USD", captured.AddDate(0, 0, -7), "A", 90,
		"snippet", "BLS", "Ready mix concrete", []byte(`["grade:A","priced"]`), "run-0", captured.AddDate(0, 0, -7),
	)
	mock.ExpectQuery("FROM evidence_records").
		WithArgs("ready mix concrete", "bls-ppi-construction", captured).
		WillReturnRows(rows)
	mock.ExpectQuery("FROM evidence_records").
		WithArgs("ready mix concrete", "bls-ppi-construction", captured).
		WillReturnError(pgx.ErrNoRows)

	prev, err := store.LatestBefore(context.Background(), "ready mix concrete", "bls-ppi-construction", captured)
	require.NoError(t, err)
	require.Equal(t, "EV-1", prev.RecordID)
	require.Equal(t, evidence.GradeA, prev.ReliabilityGrade)
	require.Equal(t, []string{"grade:A", "priced"}, prev.Tags)
	require.InDelta(t, 40.0, *prev.PriceTypical, 1e-9)

	_, err = store.LatestBefore(context.Background(), "ready mix concrete", "bls-ppi-construction", captured)
	require.ErrorIs(t, err, evidence.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsBuildsFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	since := captured.AddDate(0, -1, 0)
	mock.ExpectQuery(`WHERE category = ANY\(\$1\) AND source_registry_id = \$2 AND capture_date >= \$3 ORDER BY capture_date`).
		WithArgs([]string{"materials"}, "bls-ppi-construction", since).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			"EV-2", "bls-ppi-construction", "https://example.com/ppi", "materials", "US", "rebar",
			nil, "", "USD", captured, "B", 70,
			"", "", "Rebar", []byte(`[]`), "run-1", captured,
		))

	recs, err := store.ListRecords(context.Background(), evidence.RecordFilter{
		Categories: []string{"materials"},
		SourceID:   "bls-ppi-construction",
		Since:      since,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Nil(t, recs[0].PriceTypical)
	require.Equal(t, evidence.GradeB, recs[0].ReliabilityGrade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	last := captured
	mock.ExpectQuery("FROM source_state").
		WithArgs("ons-construction-materials").
		WillReturnRows(pgxmock.NewRows([]string{
			"source_id", "last_scraped_at", "last_status", "record_count", "consecutive_failures", "last_successful_fetch",
		}).AddRow("ons-construction-materials", &last, "success", 12, 0, &last))
	mock.ExpectQuery("FROM source_state").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO source_state").
		WithArgs("ons-construction-materials", &last, "failed", 12, 1, &last).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	st, err := store.GetSourceState(context.Background(), "ons-construction-materials")
	require.NoError(t, err)
	require.Equal(t, evidence.HealthSuccess, st.LastStatus)
	require.Equal(t, 12, st.RecordCount)

	_, err = store.GetSourceState(context.Background(), "missing")
	require.ErrorIs(t, err, evidence.ErrNotFound)

	st.LastStatus = evidence.HealthFailed
	st.ConsecutiveFailures = 1
	require.NoError(t, store.UpsertSourceState(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndGetRunReport(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	report := evidence.RunReport{
		RunID:      "run-1",
		Trigger:    evidence.TriggerCLI,
		StartedAt:  captured,
		FinishedAt: captured.Add(time.Minute),
		PerSource: []evidence.HealthRecord{
			{RunID: "run-1", SourceID: "a", Status: evidence.HealthSuccess, CheckedAt: captured},
			{RunID: "run-1", SourceID: "b", Status: evidence.HealthFailed, ErrorType: evidence.ErrorTypeHTTP, CheckedAt: captured},
		},
	}
	mock.ExpectExec("INSERT INTO ingestion_runs").
		WithArgs("run-1", "cli", "", report.StartedAt, report.FinishedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO connector_health").
		WithArgs("run-1", "a", "success", 0, 0, 0, "", "", int64(0), "", captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO connector_health").
		WithArgs("run-1", "b", "failed", 0, 0, 0, "", "http_error", int64(0), "", captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT report FROM ingestion_runs").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow([]byte(`{"run_id":"run-1","evidence_created":3}`)))

	require.NoError(t, store.SaveRunReport(context.Background(), report))
	got, err := store.GetRunReport(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, 3, got.EvidenceCreated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertArtifacts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO price_changes").
		WithArgs("chg-1", "EV-2", "EV-1", "rebar", "materials", "a", 100.0, 115.0, 0.15, "increase", "significant", captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO insights").
		WithArgs("ins-1", "cost_pressure", "t", "s", 0.85, "rebar", "materials", "a", "chg-1", captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO trend_snapshots").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO benchmark_proposals").
		WithArgs("p-1", "floors:sqm", "floors", "sqm", 99.0, 101.0, 102.0, 110.0, 6, 3,
			[]byte(`{"A":3,"B":2,"C":1}`), []byte(`{"recent":6,"mid":0,"old":0}`), 95, "publish", "", "run-1", captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("ingestion.run", "cli-user", "ingestion_run", "run-1", []byte(`{"created":3}`), captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, store.InsertPriceChange(ctx, evidence.PriceChangeEvent{
		ID: "chg-1", RecordID: "EV-2", PreviousRecordID: "EV-1", ItemName: "rebar", Category: "materials",
		SourceID: "a", PreviousPrice: 100, NewPrice: 115, ChangePct: 0.15, ChangeDirection: "increase",
		Severity: evidence.SeveritySignificant, DetectedAt: captured,
	}))
	require.NoError(t, store.InsertInsight(ctx, evidence.Insight{
		ID: "ins-1", Type: evidence.InsightCostPressure, Title: "t", Summary: "s", Confidence: 0.85,
		ItemName: "rebar", Category: "materials", SourceID: "a", EventID: "chg-1", CreatedAt: captured,
	}))
	require.NoError(t, store.InsertTrendSnapshot(ctx, evidence.TrendSnapshot{ID: "t-1", Metric: "tiles", ComputedAt: captured}))
	require.NoError(t, store.InsertProposal(ctx, evidence.BenchmarkProposal{
		ID: "p-1", BenchmarkKey: "floors:sqm", Category: "floors", Unit: "sqm",
		ProposedP25: 99, ProposedP50: 101, ProposedP75: 102, WeightedMean: 110,
		EvidenceCount: 6, SourceDiversity: 3,
		ReliabilityDist: evidence.ReliabilityDist{A: 3, B: 2, C: 1},
		RecencyDist:     evidence.RecencyDist{Recent: 6},
		ConfidenceScore: 95, Recommendation: evidence.RecommendPublish, RunID: "run-1", CreatedAt: captured,
	}))
	require.NoError(t, store.AppendAudit(ctx, evidence.AuditEntry{
		Action: "ingestion.run", ActorID: "cli-user", EntityType: "ingestion_run", EntityID: "run-1",
		Details: map[string]any{"created": 3}, At: captured,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProposalsAndChanges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM benchmark_proposals WHERE category = \$1 ORDER BY created_at`).
		WithArgs("floors").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "benchmark_key", "category", "unit", "proposed_p25", "proposed_p50", "proposed_p75",
			"weighted_mean", "evidence_count", "source_diversity", "reliability_dist", "recency_dist",
			"confidence_score", "recommendation", "rejection_reason", "run_id", "created_at",
		}).AddRow("p-1", "floors:sqm", "floors", "sqm", 99.0, 101.0, 102.0, 110.0, 6, 3,
			[]byte(`{"A":3,"B":2,"C":1}`), []byte(`{"recent":6}`), 95, "publish", "", "run-1", captured))
	mock.ExpectQuery("FROM price_changes").
		WithArgs(captured).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "record_id", "previous_record_id", "item_name", "category", "source_id",
			"previous_price", "new_price", "change_pct", "change_direction", "severity", "detected_at",
		}).AddRow("chg-1", "EV-2", "EV-1", "rebar", "materials", "a", 100.0, 115.0, 0.15, "increase", "significant", captured))

	proposals, err := store.ListProposals(context.Background(), "floors")
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	require.Equal(t, evidence.ReliabilityDist{A: 3, B: 2, C: 1}, proposals[0].ReliabilityDist)
	require.Equal(t, evidence.RecommendPublish, proposals[0].Recommendation)

	changes, err := store.ListPriceChanges(context.Background(), captured)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, evidence.SeveritySignificant, changes[0].Severity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	fsys, err := Migrations()
	require.NoError(t, err)
	matches, err := fs.Glob(fsys, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	body, err := fs.ReadFile(fsys, matches[0])
	require.NoError(t, err)
	require.Contains(t, string(body), "-- +goose Up")
	require.Contains(t, string(body), "evidence_records_dedup_idx")
}

func TestMigrateValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Migrate(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "dsn is required")
	_, err = Migrate(context.Background(), Config{DSN: "postgres://localhost/db", Schema: "bad-name;"}, nil)
	require.ErrorContains(t, err, "invalid schema")
}
