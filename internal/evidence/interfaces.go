package evidence

import (
	"context"
	"io"
	"time"
)

// RecordFilter narrows record queries. Zero values match everything.
type RecordFilter struct {
	Categories []string
	SourceID   string
	ItemName   string
	Since      time.Time
}

// RecordStore persists evidence records.
type RecordStore interface {
	// InsertRecord stores rec unless its dedup key already exists. The
	// boolean reports whether a row was written.
	InsertRecord(ctx context.Context, rec Record) (bool, error)
	RecordExists(ctx context.Context, key DedupKey) (bool, error)
	// LatestBefore returns the most recent record of (itemName, sourceID)
	// captured strictly before the given time, or ErrNotFound.
	LatestBefore(ctx context.Context, itemName, sourceID string, before time.Time) (Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
}

// ChangeStore persists price changes and derived insights.
type ChangeStore interface {
	InsertPriceChange(ctx context.Context, ev PriceChangeEvent) error
	InsertInsight(ctx context.Context, in Insight) error
	ListPriceChanges(ctx context.Context, since time.Time) ([]PriceChangeEvent, error)
}

// TrendStore persists trend snapshots.
type TrendStore interface {
	InsertTrendSnapshot(ctx context.Context, snap TrendSnapshot) error
	ListTrendSnapshots(ctx context.Context, since time.Time) ([]TrendSnapshot, error)
}

// ProposalStore persists benchmark proposals. History is append-only.
type ProposalStore interface {
	InsertProposal(ctx context.Context, p BenchmarkProposal) error
	ListProposals(ctx context.Context, category string) ([]BenchmarkProposal, error)
}

// SourceStateStore persists scheduling checkpoints.
type SourceStateStore interface {
	GetSourceState(ctx context.Context, sourceID string) (SourceState, error)
	UpsertSourceState(ctx context.Context, st SourceState) error
}

// RunStore persists run reports, health records and audit entries.
type RunStore interface {
	SaveRunReport(ctx context.Context, report RunReport) error
	GetRunReport(ctx context.Context, runID string) (RunReport, error)
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	RecordStore
	ChangeStore
	TrendStore
	ProposalStore
	SourceStateStore
	RunStore
	Ping(ctx context.Context) error
	Close()
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore persists raw payloads and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes alert payloads to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Fetcher performs one compliant fetch cycle for a source. Failures are
// encoded in the result.
type Fetcher interface {
	Fetch(ctx context.Context, src SourceDescriptor) RawFetchResult
}
