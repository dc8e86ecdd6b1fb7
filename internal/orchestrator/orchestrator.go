// Package orchestrator runs source connectors on a bounded pool, persists
// their evidence and triggers the downstream analysis passes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/evidence-ingest/internal/benchmark"
	"github.com/JakeFAU/evidence-ingest/internal/connector"
	"github.com/JakeFAU/evidence-ingest/internal/dispatcher"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/telemetry"
	"github.com/JakeFAU/evidence-ingest/internal/trends"
)

// AuditActionRun is the audit action written for every ingestion run.
const AuditActionRun = "ingestion.run"

const tracerName = "evidence-ingest/orchestrator"

// Config tunes the orchestrator.
type Config struct {
	PoolSize     int
	ArchiveRaw   bool
	PreviewLimit int
	// PreloadConcurrency bounds the checkpoint preload fan-out.
	PreloadConcurrency int
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{PoolSize: dispatcher.DefaultPoolSize, ArchiveRaw: true, PreviewLimit: 5, PreloadConcurrency: 8}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.PreviewLimit <= 0 {
		c.PreviewLimit = d.PreviewLimit
	}
	if c.PreloadConcurrency <= 0 {
		c.PreloadConcurrency = d.PreloadConcurrency
	}
	return c
}

// IDGenerator produces run, artifact and record identifiers.
type IDGenerator interface {
	NewID() (string, error)
	NewRecordID(at time.Time) (string, error)
}

// SnapshotNamer derives the object path of an archived raw payload.
type SnapshotNamer interface {
	SnapshotPath(sourceID string, fetchedAt time.Time, body []byte, ext string) (string, error)
}

// ChangeDetector is invoked for every newly stored record.
type ChangeDetector interface {
	Detect(ctx context.Context, rec evidence.Record) (*evidence.PriceChangeEvent, error)
}

// BenchmarkGenerator proposes benchmark ranges.
type BenchmarkGenerator interface {
	Generate(ctx context.Context, opts benchmark.Options) ([]evidence.BenchmarkProposal, error)
}

// TrendRunner computes trend snapshots.
type TrendRunner interface {
	Run(ctx context.Context, opts trends.Options) ([]evidence.TrendSnapshot, error)
}

// AlertSweeper publishes alerts for artifacts produced since a point in time.
type AlertSweeper interface {
	Sweep(ctx context.Context, since time.Time) (int, error)
}

// Deps are the orchestrator's collaborators. Store, IDs and Clock are
// required; the rest are optional.
type Deps struct {
	Store      evidence.Store
	IDs        IDGenerator
	Clock      evidence.Clock
	Changes    ChangeDetector
	Benchmarks BenchmarkGenerator
	Trends     TrendRunner
	Alerts     AlertSweeper
	Blobs      evidence.BlobStore
	Snapshots  SnapshotNamer
	Logger     *zap.Logger
}

// RunRequest describes one ingestion run.
type RunRequest struct {
	// RunID is optional; one is generated when empty.
	RunID      string
	Connectors []connector.Connector
	Trigger    evidence.Trigger
	ActorID    string
}

// Orchestrator coordinates ingestion runs.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.IDs == nil:
		return nil, errors.New("orchestrator: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg.withDefaults(), deps: deps, logger: logger.Named("orchestrator")}, nil
}

// RunIngestion runs the connectors under a freshly generated run ID.
func (o *Orchestrator) RunIngestion(ctx context.Context, connectors []connector.Connector, trigger evidence.Trigger, actorID string) (evidence.RunReport, error) {
	return o.Run(ctx, RunRequest{Connectors: connectors, Trigger: trigger, ActorID: actorID})
}

// RunSingleConnector runs one connector with the full run contract.
func (o *Orchestrator) RunSingleConnector(ctx context.Context, conn connector.Connector, trigger evidence.Trigger, actorID string) (evidence.RunReport, error) {
	return o.Run(ctx, RunRequest{Connectors: []connector.Connector{conn}, Trigger: trigger, ActorID: actorID})
}

type task struct {
	idx   int
	conn  connector.Connector
	state evidence.SourceState
}

// Run executes an ingestion run. Connector failures are recorded in the
// report; only checkpoint preload and report persistence failures are
// returned as errors.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (evidence.RunReport, error) {
	runID := req.RunID
	if runID == "" {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			return evidence.RunReport{}, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = evidence.TriggerManual
	}
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("run_id", runID), attribute.String("trigger", string(trigger))))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID))
	started := o.deps.Clock.Now()
	report := evidence.RunReport{
		RunID:            runID,
		Trigger:          trigger,
		ActorID:          req.ActorID,
		StartedAt:        started,
		SourcesAttempted: len(req.Connectors),
		PerSource:        []evidence.HealthRecord{},
		Errors:           []string{},
	}
	logger.Info("ingestion run started", zap.Int("connectors", len(req.Connectors)), zap.String("trigger", string(trigger)))

	tasks, err := o.preload(ctx, req.Connectors)
	if err != nil {
		return report, err
	}

	var (
		mu      sync.Mutex
		results []connectorResult
		handled = make([]bool, len(tasks))
	)
	collect := func(t task, res connectorResult) {
		mu.Lock()
		results = append(results, res)
		handled[t.idx] = true
		mu.Unlock()
	}
	err = dispatcher.Drain(ctx, tasks, o.cfg.PoolSize,
		func(ctx context.Context, t task) {
			collect(t, o.runConnector(ctx, runID, t))
		},
		func(t task, recovered any) {
			collect(t, o.panicked(runID, t, recovered))
		},
		logger,
	)
	if err != nil {
		return report, fmt.Errorf("dispatch connectors: %w", err)
	}
	// Connectors left queued when ctx ended still get a health record.
	for _, t := range tasks {
		if !handled[t.idx] {
			results = append(results, o.canceled(runID, t, ctx.Err()))
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].health.SourceID < results[j].health.SourceID })
	categories := map[string]struct{}{}
	for _, res := range results {
		h := res.health
		report.PerSource = append(report.PerSource, h)
		report.EvidenceExtracted += h.RecordsExtracted
		report.EvidenceCreated += h.RecordsInserted
		report.EvidenceSkipped += h.DuplicatesSkipped
		if h.Status == evidence.HealthFailed {
			report.SourcesFailed++
		} else {
			report.SourcesSucceeded++
		}
		report.Errors = append(report.Errors, res.errors...)
		for c := range res.categories {
			categories[c] = struct{}{}
		}
		if res.notStarted {
			continue
		}
		if err := o.updateState(ctx, res); err != nil {
			logger.Warn("source state update failed", zap.String("source_id", h.SourceID), zap.Error(err))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: state update: %v", h.SourceID, err))
		}
	}

	if report.EvidenceCreated > 0 {
		o.downstream(ctx, &report, sortedKeys(categories), started)
	}

	report.FinishedAt = o.deps.Clock.Now()
	span.SetAttributes(
		attribute.Int("sources_failed", report.SourcesFailed),
		attribute.Int("evidence_created", report.EvidenceCreated),
	)
	if err := o.deps.Store.SaveRunReport(ctx, report); err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("save run report: %w", err)
	}
	o.audit(ctx, report)
	logger.Info("ingestion run finished",
		zap.Int("succeeded", report.SourcesSucceeded),
		zap.Int("failed", report.SourcesFailed),
		zap.Int("created", report.EvidenceCreated),
		zap.Int("skipped", report.EvidenceSkipped),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// preload loads the scheduling checkpoint of every connector's source.
func (o *Orchestrator) preload(ctx context.Context, connectors []connector.Connector) ([]task, error) {
	tasks := make([]task, len(connectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PreloadConcurrency)
	for i, conn := range connectors {
		tasks[i].idx = i
		tasks[i].conn = conn
		g.Go(func() error {
			st, err := o.checkpoint(gctx, conn.Source().ID)
			if err != nil {
				return err
			}
			tasks[i].state = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// checkpoint returns the persisted state of a source, or an empty state when
// none exists yet.
func (o *Orchestrator) checkpoint(ctx context.Context, sourceID string) (evidence.SourceState, error) {
	st, err := o.deps.Store.GetSourceState(ctx, sourceID)
	switch {
	case errors.Is(err, evidence.ErrNotFound):
		return evidence.SourceState{SourceID: sourceID}, nil
	case err != nil:
		return evidence.SourceState{}, fmt.Errorf("load checkpoint for %s: %w", sourceID, err)
	}
	return st, nil
}

func (o *Orchestrator) updateState(ctx context.Context, res connectorResult) error {
	h := res.health
	st := res.state
	st.SourceID = h.SourceID
	checked := h.CheckedAt
	st.LastScrapedAt = &checked
	st.LastStatus = h.Status
	st.RecordCount = h.RecordsInserted
	if h.Status == evidence.HealthFailed {
		st.ConsecutiveFailures++
	} else {
		st.ConsecutiveFailures = 0
		st.LastSuccessfulFetch = &checked
	}
	return o.deps.Store.UpsertSourceState(ctx, st)
}

func (o *Orchestrator) downstream(ctx context.Context, report *evidence.RunReport, categories []string, since time.Time) {
	if o.deps.Benchmarks != nil {
		o.isolate(report, "benchmark", func() error {
			props, err := o.deps.Benchmarks.Generate(ctx, benchmark.Options{Categories: categories, RunID: report.RunID})
			report.ProposalsCreated = len(props)
			return err
		})
	}
	if o.deps.Trends != nil {
		o.isolate(report, "trends", func() error {
			snaps, err := o.deps.Trends.Run(ctx, trends.Options{Categories: categories, RunID: report.RunID})
			report.TrendsComputed = len(snaps)
			return err
		})
	}
	if o.deps.Alerts != nil {
		o.isolate(report, "alerts", func() error {
			n, err := o.deps.Alerts.Sweep(ctx, since)
			report.AlertsPublished = n
			return err
		})
	}
}

// isolate runs a downstream pass, folding its error or panic into the report.
func (o *Orchestrator) isolate(report *evidence.RunReport, pass string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("downstream pass panicked", zap.String("pass", pass), zap.Any("panic", r))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: panic: %v", pass, r))
		}
	}()
	if err := fn(); err != nil {
		o.logger.Warn("downstream pass failed", zap.String("pass", pass), zap.Error(err))
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", pass, err))
	}
}

func (o *Orchestrator) audit(ctx context.Context, report evidence.RunReport) {
	entry := evidence.AuditEntry{
		Action:     AuditActionRun,
		ActorID:    report.ActorID,
		EntityType: "ingestion_run",
		EntityID:   report.RunID,
		Details: map[string]any{
			"trigger":            string(report.Trigger),
			"sources_attempted":  report.SourcesAttempted,
			"sources_failed":     report.SourcesFailed,
			"evidence_created":   report.EvidenceCreated,
			"evidence_skipped":   report.EvidenceSkipped,
			"evidence_extracted": report.EvidenceExtracted,
		},
		At: report.FinishedAt,
	}
	if err := o.deps.Store.AppendAudit(ctx, entry); err != nil {
		o.logger.Warn("audit append failed", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
