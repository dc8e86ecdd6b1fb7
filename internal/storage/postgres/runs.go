package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

// GetSourceState returns the scheduling state of a source or evidence.ErrNotFound.
func (s *Store) GetSourceState(ctx context.Context, sourceID string) (evidence.SourceState, error) {
	const query = `
SELECT source_id, last_scraped_at, last_status, record_count, consecutive_failures, last_successful_fetch
FROM source_state
WHERE source_id = $1`
	var (
		st     evidence.SourceState
		status string
	)
	err := s.pool.QueryRow(ctx, query, sourceID).Scan(
		&st.SourceID, &st.LastScrapedAt, &status, &st.RecordCount, &st.ConsecutiveFailures, &st.LastSuccessfulFetch,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return evidence.SourceState{}, evidence.ErrNotFound
	}
	if err != nil {
		return evidence.SourceState{}, fmt.Errorf("load source state: %w", err)
	}
	st.LastStatus = evidence.HealthStatus(status)
	return st, nil
}

// UpsertSourceState writes the scheduling state of a source.
func (s *Store) UpsertSourceState(ctx context.Context, st evidence.SourceState) error {
	const query = `
INSERT INTO source_state (
	source_id, last_scraped_at, last_status, record_count, consecutive_failures, last_successful_fetch
) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source_id) DO UPDATE SET
	last_scraped_at = EXCLUDED.last_scraped_at,
	last_status = EXCLUDED.last_status,
	record_count = EXCLUDED.record_count,
	consecutive_failures = EXCLUDED.consecutive_failures,
	last_successful_fetch = EXCLUDED.last_successful_fetch`
	_, err := s.pool.Exec(ctx, query,
		st.SourceID, st.LastScrapedAt, string(st.LastStatus), st.RecordCount, st.ConsecutiveFailures, st.LastSuccessfulFetch,
	)
	if err != nil {
		return fmt.Errorf("upsert source state: %w", err)
	}
	return nil
}

// SaveRunReport upserts the run row and appends one health row per connector.
func (s *Store) SaveRunReport(ctx context.Context, report evidence.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	const runQuery = `
INSERT INTO ingestion_runs (run_id, trigger, actor_id, started_at, finished_at, report)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	report = EXCLUDED.report`
	if _, err := s.pool.Exec(ctx, runQuery,
		report.RunID, string(report.Trigger), report.ActorID, report.StartedAt, report.FinishedAt, body,
	); err != nil {
		return fmt.Errorf("save run report: %w", err)
	}

	const healthQuery = `
INSERT INTO connector_health (
	run_id, source_id, status, records_extracted, records_inserted, duplicates_skipped,
	error_message, error_type, duration_ms, snapshot_uri, checked_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (run_id, source_id) DO NOTHING`
	for _, h := range report.PerSource {
		if _, err := s.pool.Exec(ctx, healthQuery,
			h.RunID, h.SourceID, string(h.Status), h.RecordsExtracted, h.RecordsInserted, h.DuplicatesSkipped,
			h.ErrorMessage, string(h.ErrorType), h.DurationMs, h.SnapshotURI, h.CheckedAt,
		); err != nil {
			return fmt.Errorf("save connector health %s: %w", h.SourceID, err)
		}
	}
	return nil
}

// GetRunReport returns a stored run report or evidence.ErrNotFound.
func (s *Store) GetRunReport(ctx context.Context, runID string) (evidence.RunReport, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM ingestion_runs WHERE run_id = $1`, runID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return evidence.RunReport{}, evidence.ErrNotFound
	}
	if err != nil {
		return evidence.RunReport{}, fmt.Errorf("load run report: %w", err)
	}
	var report evidence.RunReport
	if err := json.Unmarshal(body, &report); err != nil {
		return evidence.RunReport{}, fmt.Errorf("decode run report: %w", err)
	}
	return report, nil
}

// AppendAudit appends an audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry evidence.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	const query = `
INSERT INTO audit_log (action, actor_id, entity_type, entity_id, details, at)
VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := s.pool.Exec(ctx, query,
		entry.Action, entry.ActorID, entry.EntityType, entry.EntityID, details, entry.At,
	); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
