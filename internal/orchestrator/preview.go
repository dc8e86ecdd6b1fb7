package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/connector"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

// Preview is the result of a dry-run scrape. Nothing is persisted.
type Preview struct {
	SourceID   string             `json:"source_id"`
	URL        string             `json:"url"`
	StatusCode int                `json:"status_code"`
	Error      string             `json:"error,omitempty"`
	ErrorType  evidence.ErrorType `json:"error_type,omitempty"`
	Extracted  int                `json:"extracted"`
	Valid      int                `json:"valid"`
	Records    []evidence.Record  `json:"records"`
}

// TestScrape fetches, extracts and normalizes without persisting, returning
// at most the configured number of preview records.
func (o *Orchestrator) TestScrape(ctx context.Context, conn connector.Connector) Preview {
	src := conn.Source()
	raw := conn.Fetch(ctx)
	p := Preview{SourceID: src.ID, URL: raw.URL, StatusCode: raw.StatusCode, Records: []evidence.Record{}}
	if raw.Failed() {
		p.Error = fetchFailure(raw)
		p.ErrorType = ClassifyError(p.Error)
		return p
	}
	hint := src.LastSuccessfulFetch
	if st, err := o.checkpoint(ctx, src.ID); err != nil {
		o.logger.Warn("test scrape checkpoint unavailable", zap.String("source_id", src.ID), zap.Error(err))
	} else {
		hint = st.LastSuccessfulFetch
	}
	candidates := conn.Extract(ctx, raw, hint)
	p.Extracted = len(candidates)
	now := o.deps.Clock.Now()
	for _, cand := range candidates {
		if cand.Validate() != nil {
			continue
		}
		p.Valid++
		if len(p.Records) >= o.cfg.PreviewLimit {
			continue
		}
		p.Records = append(p.Records, shapeRecord(src, cand, normalizeSafely(conn, cand), raw.FetchedAt, "", now))
	}
	o.logger.Info("test scrape finished",
		zap.String("source_id", src.ID),
		zap.Int("extracted", p.Extracted),
		zap.Int("valid", p.Valid),
	)
	return p
}
