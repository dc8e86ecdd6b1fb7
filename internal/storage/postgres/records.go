package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

const recordColumns = `record_id, source_registry_id, source_url, category, geography, item_name,
	price_typical, unit, currency, capture_date, reliability_grade, confidence_score,
	extracted_snippet, publisher, title, tags, run_id, created_at`

// InsertRecord writes rec. The unique index on (source_url, item_name,
// capture_day) turns a concurrent duplicate into a no-op.
func (s *Store) InsertRecord(ctx context.Context, rec evidence.Record) (bool, error) {
	tags, err := json.Marshal(nonNilStrings(rec.Tags))
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}
	const query = `
INSERT INTO evidence_records (` + recordColumns + `, capture_day)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (source_url, item_name, capture_day) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.RecordID,
		rec.SourceRegistryID,
		rec.SourceURL,
		rec.Category,
		rec.Geography,
		rec.ItemName,
		rec.PriceTypical,
		rec.Unit,
		rec.Currency,
		rec.CaptureDate,
		string(rec.ReliabilityGrade),
		rec.ConfidenceScore,
		rec.ExtractedSnippet,
		rec.Publisher,
		rec.Title,
		tags,
		rec.RunID,
		rec.CreatedAt,
		evidence.CaptureDay(rec.CaptureDate),
	)
	if err != nil {
		return false, fmt.Errorf("insert evidence record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordExists reports whether the dedup key is taken.
func (s *Store) RecordExists(ctx context.Context, key evidence.DedupKey) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1 FROM evidence_records
	WHERE source_url = $1 AND item_name = $2 AND capture_day = $3
)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, key.SourceURL, key.ItemName, evidence.CaptureDay(key.Day)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check evidence record: %w", err)
	}
	return exists, nil
}

// LatestBefore returns the newest record of (itemName, sourceID) captured
// strictly before before, or evidence.ErrNotFound.
func (s *Store) LatestBefore(ctx context.Context, itemName, sourceID string, before time.Time) (evidence.Record, error) {
	const query = `
SELECT ` + recordColumns + `
FROM evidence_records
WHERE item_name = $1 AND source_registry_id = $2 AND capture_date < $3
ORDER BY capture_date DESC
LIMIT 1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, itemName, sourceID, before))
	if errors.Is(err, pgx.ErrNoRows) {
		return evidence.Record{}, evidence.ErrNotFound
	}
	if err != nil {
		return evidence.Record{}, fmt.Errorf("load previous record: %w", err)
	}
	return rec, nil
}

// ListRecords returns matching records ordered by capture date.
func (s *Store) ListRecords(ctx context.Context, filter evidence.RecordFilter) ([]evidence.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if len(filter.Categories) > 0 {
		add("category = ANY($%d)", filter.Categories)
	}
	if filter.SourceID != "" {
		add("source_registry_id = $%d", filter.SourceID)
	}
	if filter.ItemName != "" {
		add("item_name = $%d", filter.ItemName)
	}
	if !filter.Since.IsZero() {
		add("capture_date >= $%d", filter.Since)
	}
	query := "SELECT " + recordColumns + " FROM evidence_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY capture_date"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evidence records: %w", err)
	}
	defer rows.Close()
	var out []evidence.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (evidence.Record, error) {
	var (
		rec   evidence.Record
		grade string
		tags  []byte
	)
	err := row.Scan(
		&rec.RecordID,
		&rec.SourceRegistryID,
		&rec.SourceURL,
		&rec.Category,
		&rec.Geography,
		&rec.ItemName,
		&rec.PriceTypical,
		&rec.Unit,
		&rec.Currency,
		&rec.CaptureDate,
		&grade,
		&rec.ConfidenceScore,
		&rec.ExtractedSnippet,
		&rec.Publisher,
		&rec.Title,
		&tags,
		&rec.RunID,
		&rec.CreatedAt,
	)
	if err != nil {
		return evidence.Record{}, err
	}
	rec.ReliabilityGrade = evidence.Grade(grade)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return evidence.Record{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return rec, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
