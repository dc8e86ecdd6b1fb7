// Package connector binds a source descriptor to a fetch primitive and an
// extraction strategy.
package connector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/oracle"
)

// Connector is the per-source contract used by the orchestrator.
type Connector interface {
	Source() evidence.SourceDescriptor
	Fetch(ctx context.Context) evidence.RawFetchResult
	// Extract turns a successful fetch into candidates. hint is the
	// last-successful-fetch checkpoint, nil on first run.
	Extract(ctx context.Context, raw evidence.RawFetchResult, hint *time.Time) []evidence.Candidate
	Normalize(c evidence.Candidate) (evidence.Normalized, error)
}

// Extractor is one extraction strategy.
type Extractor interface {
	Extract(ctx context.Context, raw evidence.RawFetchResult, hint *time.Time) []evidence.Candidate
}

// Deps are the collaborators shared by all connectors.
type Deps struct {
	Fetcher evidence.Fetcher
	Oracle  oracle.Oracle
	Clock   evidence.Clock
	Logger  *zap.Logger
}

// SourceConnector is the standard Connector implementation.
type SourceConnector struct {
	src       evidence.SourceDescriptor
	fetcher   evidence.Fetcher
	extractor Extractor
	clock     evidence.Clock
}

// New builds a connector whose strategy is chosen by the source's scrape method.
func New(src evidence.SourceDescriptor, deps Deps) (*SourceConnector, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("connector %s: fetcher is required", src.ID)
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("connector %s: clock is required", src.ID)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("connector").With(zap.String("source_id", src.ID))

	heuristic := heuristicExtractor{src: src}
	var extractor Extractor
	switch src.Method {
	case evidence.MethodLLM:
		o := deps.Oracle
		if o == nil {
			o = oracle.None{}
		}
		extractor = llmExtractor{src: src, oracle: o, fallback: heuristic, logger: logger}
	case evidence.MethodHeuristic:
		extractor = heuristic
	case evidence.MethodFeed:
		extractor = newFeedExtractor(src, logger)
	default:
		return nil, fmt.Errorf("connector %s: unknown scrape method %q", src.ID, src.Method)
	}
	return &SourceConnector{src: src, fetcher: deps.Fetcher, extractor: extractor, clock: deps.Clock}, nil
}

// NewWithExtractor builds a connector with an explicit strategy.
func NewWithExtractor(src evidence.SourceDescriptor, fetcher evidence.Fetcher, extractor Extractor, clock evidence.Clock) *SourceConnector {
	return &SourceConnector{src: src, fetcher: fetcher, extractor: extractor, clock: clock}
}

// Source returns the descriptor this connector reads.
func (c *SourceConnector) Source() evidence.SourceDescriptor {
	return c.src
}

// Fetch delegates to the compliant fetch primitive.
func (c *SourceConnector) Fetch(ctx context.Context) evidence.RawFetchResult {
	return c.fetcher.Fetch(ctx, c.src)
}

// Extract runs the configured strategy.
func (c *SourceConnector) Extract(ctx context.Context, raw evidence.RawFetchResult, hint *time.Time) []evidence.Candidate {
	return c.extractor.Extract(ctx, raw, hint)
}

// Normalize applies the deterministic normalization rules.
func (c *SourceConnector) Normalize(candidate evidence.Candidate) (evidence.Normalized, error) {
	return Normalize(c.src, candidate, c.clock.Now())
}
