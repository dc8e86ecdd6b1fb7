package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/connector"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
	"github.com/JakeFAU/evidence-ingest/internal/telemetry"
)

// connectorResult is the outcome of one connector within a run.
type connectorResult struct {
	health     evidence.HealthRecord
	state      evidence.SourceState
	errors     []string
	categories map[string]struct{}
	// notStarted marks connectors the run never reached.
	notStarted bool
}

func (o *Orchestrator) runConnector(ctx context.Context, runID string, t task) (res connectorResult) {
	metrics.IncActiveConnectors()
	defer metrics.DecActiveConnectors()

	src := t.conn.Source()
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "orchestrator.connector",
		trace.WithAttributes(attribute.String("run_id", runID), attribute.String("source_id", src.ID)))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID), zap.String("source_id", src.ID))
	start := o.deps.Clock.Now()
	res = connectorResult{
		health:     evidence.HealthRecord{RunID: runID, SourceID: src.ID},
		state:      t.state,
		categories: map[string]struct{}{},
	}
	defer func() {
		if res.health.Status == "" {
			return
		}
		o.finish(&res, start)
		span.SetAttributes(
			attribute.String("status", string(res.health.Status)),
			attribute.Int("records_inserted", res.health.RecordsInserted),
		)
		if res.health.Status == evidence.HealthFailed {
			span.SetStatus(codes.Error, res.health.ErrorMessage)
		}
		logger.Info("connector finished",
			zap.String("status", string(res.health.Status)),
			zap.Int("extracted", res.health.RecordsExtracted),
			zap.Int("created", res.health.RecordsInserted),
			zap.Int("skipped", res.health.DuplicatesSkipped),
		)
	}()
	// Records stored before a panic stay counted in the result.
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("connector panic: %v", r)
			logger.Error("connector panicked", zap.String("panic", fmt.Sprint(r)))
			res.health.Status = evidence.HealthFailed
			res.health.ErrorMessage = msg
			res.health.ErrorType = ClassifyError(msg)
			res.errors = append(res.errors, fmt.Sprintf("%s: %s", src.ID, msg))
		}
	}()

	raw := t.conn.Fetch(ctx)
	if raw.Failed() {
		msg := fetchFailure(raw)
		res.health.Status = evidence.HealthFailed
		res.health.ErrorMessage = msg
		res.health.ErrorType = ClassifyError(msg)
		res.errors = append(res.errors, fmt.Sprintf("%s: %s", src.ID, msg))
		logger.Warn("fetch failed", zap.String("error", msg), zap.Int("status", raw.StatusCode))
		return res
	}
	res.health.SnapshotURI = o.archive(ctx, src, raw, logger)

	for _, cand := range t.conn.Extract(ctx, raw, t.state.LastSuccessfulFetch) {
		if err := cand.Validate(); err != nil {
			metrics.ObserveRecord(src.ID, "invalid")
			continue
		}
		res.health.RecordsExtracted++

		rec, err := o.buildRecord(t.conn, src, cand, raw.FetchedAt, runID)
		if err != nil {
			o.recordFailure(&res, logger, "build record", err)
			continue
		}
		exists, err := o.deps.Store.RecordExists(ctx, rec.Key())
		if err != nil {
			o.recordFailure(&res, logger, "duplicate check", err)
			continue
		}
		if exists {
			res.health.DuplicatesSkipped++
			metrics.ObserveRecord(src.ID, "duplicate")
			continue
		}
		inserted, err := o.deps.Store.InsertRecord(ctx, rec)
		if err != nil {
			o.recordFailure(&res, logger, "insert record", err)
			continue
		}
		if !inserted {
			res.health.DuplicatesSkipped++
			metrics.ObserveRecord(src.ID, "duplicate")
			continue
		}
		res.health.RecordsInserted++
		res.categories[rec.Category] = struct{}{}
		metrics.ObserveRecord(src.ID, "created")
		o.detectChange(ctx, rec, logger)
	}

	if res.health.RecordsInserted > 0 {
		res.health.Status = evidence.HealthSuccess
	} else {
		res.health.Status = evidence.HealthPartial
	}
	return res
}

// panicked converts a panic that escaped runConnector, such as one raised by
// Source, into a failed result.
func (o *Orchestrator) panicked(runID string, t task, recovered any) connectorResult {
	return o.failedResult(runID, t, fmt.Sprintf("connector panic: %v", recovered))
}

// canceled records a connector that was still queued when the run's context
// ended.
func (o *Orchestrator) canceled(runID string, t task, cause error) connectorResult {
	msg := "connector canceled before start"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	res := o.failedResult(runID, t, msg)
	res.notStarted = true
	return res
}

func (o *Orchestrator) failedResult(runID string, t task, msg string) connectorResult {
	id := safeSourceID(t.conn)
	res := connectorResult{
		health: evidence.HealthRecord{
			RunID:        runID,
			SourceID:     id,
			Status:       evidence.HealthFailed,
			ErrorMessage: msg,
			ErrorType:    ClassifyError(msg),
		},
		state:  t.state,
		errors: []string{fmt.Sprintf("%s: %s", id, msg)},
	}
	o.finish(&res, o.deps.Clock.Now())
	return res
}

func safeSourceID(conn connector.Connector) (id string) {
	defer func() {
		if recover() != nil {
			id = "unknown"
		}
	}()
	return conn.Source().ID
}

func (o *Orchestrator) finish(res *connectorResult, start time.Time) {
	now := o.deps.Clock.Now()
	res.health.CheckedAt = now
	res.health.DurationMs = now.Sub(start).Milliseconds()
	metrics.ObserveConnector(res.health.SourceID, string(res.health.Status), now.Sub(start))
}

func (o *Orchestrator) recordFailure(res *connectorResult, logger *zap.Logger, op string, err error) {
	metrics.ObserveRecord(res.health.SourceID, "failed")
	logger.Warn("evidence persistence failed", zap.String("op", op), zap.Error(err))
	res.errors = append(res.errors, fmt.Sprintf("%s: %s: %v", res.health.SourceID, op, err))
}

func (o *Orchestrator) detectChange(ctx context.Context, rec evidence.Record, logger *zap.Logger) {
	if o.deps.Changes == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("change detection panicked", zap.String("record_id", rec.RecordID), zap.Any("panic", r))
		}
	}()
	if _, err := o.deps.Changes.Detect(ctx, rec); err != nil {
		logger.Warn("change detection failed", zap.String("record_id", rec.RecordID), zap.Error(err))
	}
}

// buildRecord normalizes cand and shapes it into a record. Normalization
// errors and panics degrade to the low-confidence placeholder.
func (o *Orchestrator) buildRecord(conn connector.Connector, src evidence.SourceDescriptor, cand evidence.Candidate, fetchedAt time.Time, runID string) (evidence.Record, error) {
	norm := normalizeSafely(conn, cand)
	rec := shapeRecord(src, cand, norm, fetchedAt, runID, o.deps.Clock.Now())
	id, err := o.deps.IDs.NewRecordID(rec.CaptureDate)
	if err != nil {
		return evidence.Record{}, fmt.Errorf("generate record id: %w", err)
	}
	rec.RecordID = id
	return rec, nil
}

func normalizeSafely(conn connector.Connector, cand evidence.Candidate) (norm evidence.Normalized) {
	defer func() {
		if recover() != nil {
			norm = connector.Placeholder(cand)
		}
	}()
	n, err := conn.Normalize(cand)
	if err != nil {
		return connector.Placeholder(cand)
	}
	return n
}

func shapeRecord(src evidence.SourceDescriptor, cand evidence.Candidate, norm evidence.Normalized, fetchedAt time.Time, runID string, now time.Time) evidence.Record {
	captured := fetchedAt
	if cand.PublishedDate != nil {
		captured = *cand.PublishedDate
	}
	if captured.IsZero() {
		captured = now
	}
	return evidence.Record{
		SourceRegistryID: src.ID,
		SourceURL:        cand.SourceURL,
		Category:         firstNonEmpty(cand.Category, src.Category),
		Geography:        firstNonEmpty(cand.Geography, src.Geography),
		ItemName:         norm.Metric,
		PriceTypical:     norm.Value,
		Unit:             norm.Unit,
		Currency:         src.Currency,
		CaptureDate:      captured.UTC(),
		ReliabilityGrade: norm.Grade,
		ConfidenceScore:  int(math.Round(norm.Confidence * 100)),
		ExtractedSnippet: norm.Summary,
		Publisher:        firstNonEmpty(src.Publisher, src.Name),
		Title:            strings.TrimSpace(cand.Title),
		Tags:             norm.Tags,
		RunID:            runID,
		CreatedAt:        now,
	}
}

// archive stores the raw body in the blob store and returns its URI. Failures
// are logged and yield an empty URI.
func (o *Orchestrator) archive(ctx context.Context, src evidence.SourceDescriptor, raw evidence.RawFetchResult, logger *zap.Logger) string {
	if !o.cfg.ArchiveRaw || o.deps.Blobs == nil || o.deps.Snapshots == nil || raw.Body == "" {
		return ""
	}
	ext, contentType := "html", raw.ContentType
	if raw.IsJSON {
		ext = "json"
	}
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
		if raw.IsJSON {
			contentType = "application/json"
		}
	}
	path, err := o.deps.Snapshots.SnapshotPath(src.ID, raw.FetchedAt, []byte(raw.Body), ext)
	if err != nil {
		logger.Warn("snapshot path failed", zap.Error(err))
		return ""
	}
	uri, err := o.deps.Blobs.PutObject(ctx, path, contentType, strings.NewReader(raw.Body))
	if err != nil {
		logger.Warn("raw snapshot archive failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func fetchFailure(raw evidence.RawFetchResult) string {
	switch {
	case raw.Error != "" && raw.StatusCode >= 400:
		return fmt.Sprintf("http status %d: %s", raw.StatusCode, raw.Error)
	case raw.Error != "":
		return raw.Error
	default:
		return fmt.Sprintf("http status %d", raw.StatusCode)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
