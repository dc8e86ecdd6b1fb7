package evidence

import "time"

// Trigger records what started an ingestion run.
type Trigger string

// Run triggers.
const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
	TriggerCLI       Trigger = "cli"
)

// HealthStatus is the per-connector outcome of a run.
type HealthStatus string

// Connector health statuses.
const (
	HealthSuccess HealthStatus = "success"
	HealthPartial HealthStatus = "partial"
	HealthFailed  HealthStatus = "failed"
)

// ErrorType classifies a connector failure.
type ErrorType string

// Connector error types.
const (
	ErrorTypeNone    ErrorType = ""
	ErrorTypeDNS     ErrorType = "dns_failure"
	ErrorTypeTimeout ErrorType = "timeout"
	ErrorTypeHTTP    ErrorType = "http_error"
	ErrorTypeParse   ErrorType = "parse_error"
	ErrorTypeLLM     ErrorType = "llm_error"
	ErrorTypeUnknown ErrorType = "unknown"
)

// HealthRecord captures one connector's outcome within a run.
type HealthRecord struct {
	RunID             string       `json:"run_id"`
	SourceID          string       `json:"source_id"`
	Status            HealthStatus `json:"status"`
	RecordsExtracted  int          `json:"records_extracted"`
	RecordsInserted   int          `json:"records_inserted"`
	DuplicatesSkipped int          `json:"duplicates_skipped"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	ErrorType         ErrorType    `json:"error_type,omitempty"`
	DurationMs        int64        `json:"duration_ms"`
	SnapshotURI       string       `json:"snapshot_uri,omitempty"`
	CheckedAt         time.Time    `json:"checked_at"`
}

// RunReport summarizes an ingestion run.
type RunReport struct {
	RunID             string         `json:"run_id"`
	Trigger           Trigger        `json:"trigger"`
	ActorID           string         `json:"actor_id,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	SourcesAttempted  int            `json:"sources_attempted"`
	SourcesSucceeded  int            `json:"sources_succeeded"`
	SourcesFailed     int            `json:"sources_failed"`
	EvidenceExtracted int            `json:"evidence_extracted"`
	EvidenceCreated   int            `json:"evidence_created"`
	EvidenceSkipped   int            `json:"evidence_skipped"`
	PerSource         []HealthRecord `json:"per_source"`
	Errors            []string       `json:"errors"`
	ProposalsCreated  int            `json:"proposals_created"`
	TrendsComputed    int            `json:"trends_computed"`
	AlertsPublished   int            `json:"alerts_published"`
}

// SourceState is the persisted scheduling metadata of a source.
type SourceState struct {
	SourceID            string       `json:"source_id"`
	LastScrapedAt       *time.Time   `json:"last_scraped_at,omitempty"`
	LastStatus          HealthStatus `json:"last_status,omitempty"`
	RecordCount         int          `json:"record_count"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastSuccessfulFetch *time.Time   `json:"last_successful_fetch,omitempty"`
}

// AuditEntry is an append-only audit log line.
type AuditEntry struct {
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}
