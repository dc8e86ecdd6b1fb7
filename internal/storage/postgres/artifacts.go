package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

// InsertPriceChange appends a price change event.
func (s *Store) InsertPriceChange(ctx context.Context, ev evidence.PriceChangeEvent) error {
	const query = `
INSERT INTO price_changes (
	id, record_id, previous_record_id, item_name, category, source_id,
	previous_price, new_price, change_pct, change_direction, severity, detected_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.RecordID, ev.PreviousRecordID, ev.ItemName, ev.Category, ev.SourceID,
		ev.PreviousPrice, ev.NewPrice, ev.ChangePct, ev.ChangeDirection, string(ev.Severity), ev.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert price change: %w", err)
	}
	return nil
}

// InsertInsight appends an insight.
func (s *Store) InsertInsight(ctx context.Context, in evidence.Insight) error {
	const query = `
INSERT INTO insights (
	id, type, title, summary, confidence, item_name, category, source_id, event_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.pool.Exec(ctx, query,
		in.ID, string(in.Type), in.Title, in.Summary, in.Confidence,
		in.ItemName, in.Category, in.SourceID, in.EventID, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// ListPriceChanges returns events detected at or after since.
func (s *Store) ListPriceChanges(ctx context.Context, since time.Time) ([]evidence.PriceChangeEvent, error) {
	const query = `
SELECT id, record_id, previous_record_id, item_name, category, source_id,
	previous_price, new_price, change_pct, change_direction, severity, detected_at
FROM price_changes
WHERE detected_at >= $1
ORDER BY detected_at`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list price changes: %w", err)
	}
	defer rows.Close()
	var out []evidence.PriceChangeEvent
	for rows.Next() {
		var (
			ev       evidence.PriceChangeEvent
			severity string
		)
		if err := rows.Scan(
			&ev.ID, &ev.RecordID, &ev.PreviousRecordID, &ev.ItemName, &ev.Category, &ev.SourceID,
			&ev.PreviousPrice, &ev.NewPrice, &ev.ChangePct, &ev.ChangeDirection, &severity, &ev.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan price change: %w", err)
		}
		ev.Severity = evidence.Severity(severity)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price changes: %w", err)
	}
	return out, nil
}

// InsertTrendSnapshot appends a trend snapshot.
func (s *Store) InsertTrendSnapshot(ctx context.Context, snap evidence.TrendSnapshot) error {
	anomalies, err := json.Marshal(snap.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	averages, err := json.Marshal(snap.MovingAverages)
	if err != nil {
		return fmt.Errorf("marshal moving averages: %w", err)
	}
	const query = `
INSERT INTO trend_snapshots (
	id, metric, category, geography, point_count, grade_a_count, source_count,
	current_ma, previous_ma, percent_change, direction, anomalies, confidence,
	narrative, moving_averages, window_days, run_id, computed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`
	_, err = s.pool.Exec(ctx, query,
		snap.ID, snap.Metric, snap.Category, snap.Geography, snap.PointCount, snap.GradeACount, snap.SourceCount,
		snap.CurrentMA, snap.PreviousMA, snap.PercentChange, string(snap.Direction), anomalies, string(snap.Confidence),
		snap.Narrative, averages, snap.WindowDays, snap.RunID, snap.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trend snapshot: %w", err)
	}
	return nil
}

// ListTrendSnapshots returns snapshots computed at or after since.
func (s *Store) ListTrendSnapshots(ctx context.Context, since time.Time) ([]evidence.TrendSnapshot, error) {
	const query = `
SELECT id, metric, category, geography, point_count, grade_a_count, source_count,
	current_ma, previous_ma, percent_change, direction, anomalies, confidence,
	narrative, moving_averages, window_days, run_id, computed_at
FROM trend_snapshots
WHERE computed_at >= $1
ORDER BY computed_at`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list trend snapshots: %w", err)
	}
	defer rows.Close()
	var out []evidence.TrendSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend snapshots: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (evidence.TrendSnapshot, error) {
	var (
		snap                  evidence.TrendSnapshot
		direction, confidence string
		anomalies, averages   []byte
	)
	if err := row.Scan(
		&snap.ID, &snap.Metric, &snap.Category, &snap.Geography, &snap.PointCount, &snap.GradeACount, &snap.SourceCount,
		&snap.CurrentMA, &snap.PreviousMA, &snap.PercentChange, &direction, &anomalies, &confidence,
		&snap.Narrative, &averages, &snap.WindowDays, &snap.RunID, &snap.ComputedAt,
	); err != nil {
		return evidence.TrendSnapshot{}, fmt.Errorf("scan trend snapshot: %w", err)
	}
	snap.Direction = evidence.Direction(direction)
	snap.Confidence = evidence.TrendConfidence(confidence)
	if err := decodeJSON(anomalies, &snap.Anomalies); err != nil {
		return evidence.TrendSnapshot{}, fmt.Errorf("decode anomalies: %w", err)
	}
	if err := decodeJSON(averages, &snap.MovingAverages); err != nil {
		return evidence.TrendSnapshot{}, fmt.Errorf("decode moving averages: %w", err)
	}
	return snap, nil
}

// InsertProposal appends a benchmark proposal. Proposals are never updated.
func (s *Store) InsertProposal(ctx context.Context, p evidence.BenchmarkProposal) error {
	reliability, err := json.Marshal(p.ReliabilityDist)
	if err != nil {
		return fmt.Errorf("marshal reliability distribution: %w", err)
	}
	recency, err := json.Marshal(p.RecencyDist)
	if err != nil {
		return fmt.Errorf("marshal recency distribution: %w", err)
	}
	const query = `
INSERT INTO benchmark_proposals (
	id, benchmark_key, category, unit, proposed_p25, proposed_p50, proposed_p75,
	weighted_mean, evidence_count, source_diversity, reliability_dist, recency_dist,
	confidence_score, recommendation, rejection_reason, run_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err = s.pool.Exec(ctx, query,
		p.ID, p.BenchmarkKey, p.Category, p.Unit, p.ProposedP25, p.ProposedP50, p.ProposedP75,
		p.WeightedMean, p.EvidenceCount, p.SourceDiversity, reliability, recency,
		p.ConfidenceScore, string(p.Recommendation), p.RejectionReason, p.RunID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert benchmark proposal: %w", err)
	}
	return nil
}

// ListProposals returns the proposal history, optionally for one category.
func (s *Store) ListProposals(ctx context.Context, category string) ([]evidence.BenchmarkProposal, error) {
	query := `
SELECT id, benchmark_key, category, unit, proposed_p25, proposed_p50, proposed_p75,
	weighted_mean, evidence_count, source_diversity, reliability_dist, recency_dist,
	confidence_score, recommendation, rejection_reason, run_id, created_at
FROM benchmark_proposals`
	var args []any
	if category != "" {
		query += " WHERE category = $1"
		args = append(args, category)
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list benchmark proposals: %w", err)
	}
	defer rows.Close()
	var out []evidence.BenchmarkProposal
	for rows.Next() {
		var (
			p                    evidence.BenchmarkProposal
			reliability, recency []byte
			recommendation       string
		)
		if err := rows.Scan(
			&p.ID, &p.BenchmarkKey, &p.Category, &p.Unit, &p.ProposedP25, &p.ProposedP50, &p.ProposedP75,
			&p.WeightedMean, &p.EvidenceCount, &p.SourceDiversity, &reliability, &recency,
			&p.ConfidenceScore, &recommendation, &p.RejectionReason, &p.RunID, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan benchmark proposal: %w", err)
		}
		p.Recommendation = evidence.Recommendation(recommendation)
		if err := decodeJSON(reliability, &p.ReliabilityDist); err != nil {
			return nil, fmt.Errorf("decode reliability distribution: %w", err)
		}
		if err := decodeJSON(recency, &p.RecencyDist); err != nil {
			return nil, fmt.Errorf("decode recency distribution: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate benchmark proposals: %w", err)
	}
	return out, nil
}

func decodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
