// Package evidence defines the domain types shared by the ingestion pipeline.
package evidence

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("evidence: not found")

// Grade is the coarse reliability tier assigned per source identity.
type Grade string

// Reliability grades.
const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// ScrapeMethod selects the extraction strategy of a connector.
type ScrapeMethod string

// Supported scrape methods.
const (
	MethodLLM       ScrapeMethod = "llm"
	MethodHeuristic ScrapeMethod = "heuristic"
	MethodFeed      ScrapeMethod = "feed"
)

// Valid reports whether m is a known scrape method.
func (m ScrapeMethod) Valid() bool {
	switch m {
	case MethodLLM, MethodHeuristic, MethodFeed:
		return true
	default:
		return false
	}
}

// SourceDescriptor describes one external source and its scheduling checkpoint.
type SourceDescriptor struct {
	ID                  string        `json:"id" yaml:"id"`
	Name                string        `json:"name" yaml:"name"`
	BaseURL             string        `json:"base_url" yaml:"base_url"`
	Category            string        `json:"category" yaml:"category"`
	Geography           string        `json:"geography" yaml:"geography"`
	Method              ScrapeMethod  `json:"method" yaml:"method"`
	Currency            string        `json:"currency" yaml:"currency"`
	Publisher           string        `json:"publisher" yaml:"publisher"`
	PolitenessDelay     time.Duration `json:"politeness_delay" yaml:"politeness_delay"`
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	LastSuccessfulFetch *time.Time    `json:"last_successful_fetch,omitempty" yaml:"-"`
	ConsecutiveFailures int           `json:"consecutive_failures" yaml:"-"`
}

// FetchErrorKind classifies why a fetch failed.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchErrNone           FetchErrorKind = ""
	FetchErrRobotsBlocked  FetchErrorKind = "robots_blocked"
	FetchErrNetwork        FetchErrorKind = "network"
	FetchErrHTTPStatus     FetchErrorKind = "http_status"
	FetchErrBlockedContent FetchErrorKind = "blocked_content"
)

// RawFetchResult is the outcome of a single fetch cycle. Failures are encoded
// in Error and ErrorKind rather than returned.
type RawFetchResult struct {
	URL         string         `json:"url"`
	FetchedAt   time.Time      `json:"fetched_at"`
	Body        string         `json:"-"`
	ContentType string         `json:"content_type,omitempty"`
	IsJSON      bool           `json:"is_json"`
	StatusCode  int            `json:"status_code"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   FetchErrorKind `json:"error_kind,omitempty"`
	Attempts    int            `json:"attempts"`
	UserAgent   string         `json:"user_agent,omitempty"`
}

// Failed reports a hard failure: an encoded error or an HTTP status >= 400.
func (r RawFetchResult) Failed() bool {
	return r.Error != "" || r.StatusCode >= 400
}

// Candidate is an extracted, not yet normalized, observation.
type Candidate struct {
	Title         string     `json:"title"`
	RawText       string     `json:"raw_text"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Category      string     `json:"category"`
	Geography     string     `json:"geography"`
	SourceURL     string     `json:"source_url"`
	Metric        string     `json:"metric,omitempty"`
	Value         *float64   `json:"value,omitempty"`
	Unit          string     `json:"unit,omitempty"`
}

// Validate enforces the minimal candidate schema.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("candidate title is required")
	}
	u, err := url.Parse(c.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("candidate source url must be an absolute http(s) url")
	}
	return nil
}

// Normalized is a candidate after deterministic normalization.
type Normalized struct {
	Metric     string   `json:"metric"`
	Value      *float64 `json:"value,omitempty"`
	Unit       string   `json:"unit"`
	Confidence float64  `json:"confidence"`
	Grade      Grade    `json:"grade"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
}

// Record is a persisted evidence observation. Records are never updated.
type Record struct {
	RecordID         string    `json:"record_id"`
	SourceRegistryID string    `json:"source_registry_id"`
	SourceURL        string    `json:"source_url"`
	Category         string    `json:"category"`
	Geography        string    `json:"geography"`
	ItemName         string    `json:"item_name"`
	PriceTypical     *float64  `json:"price_typical,omitempty"`
	Unit             string    `json:"unit"`
	Currency         string    `json:"currency"`
	CaptureDate      time.Time `json:"capture_date"`
	ReliabilityGrade Grade     `json:"reliability_grade"`
	ConfidenceScore  int       `json:"confidence_score"`
	ExtractedSnippet string    `json:"extracted_snippet"`
	Publisher        string    `json:"publisher"`
	Title            string    `json:"title"`
	Tags             []string  `json:"tags"`
	RunID            string    `json:"run_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// CaptureDay truncates t to its UTC calendar day.
func CaptureDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// DedupKey identifies a record for duplicate detection.
type DedupKey struct {
	SourceURL string
	ItemName  string
	Day       time.Time
}

// Key returns the dedup key of the record.
func (r Record) Key() DedupKey {
	return DedupKey{SourceURL: r.SourceURL, ItemName: r.ItemName, Day: CaptureDay(r.CaptureDate)}
}

// Severity grades a price change.
type Severity string

// Price change severities.
const (
	SeverityNone        Severity = "none"
	SeverityMinor       Severity = "minor"
	SeverityNotable     Severity = "notable"
	SeveritySignificant Severity = "significant"
)

// PriceChangeEvent records a price movement between two records of the same
// item and source.
type PriceChangeEvent struct {
	ID               string    `json:"id"`
	RecordID         string    `json:"record_id"`
	PreviousRecordID string    `json:"previous_record_id"`
	ItemName         string    `json:"item_name"`
	Category         string    `json:"category"`
	SourceID         string    `json:"source_id"`
	PreviousPrice    float64   `json:"previous_price"`
	NewPrice         float64   `json:"new_price"`
	ChangePct        float64   `json:"change_pct"`
	ChangeDirection  string    `json:"change_direction"`
	Severity         Severity  `json:"severity"`
	DetectedAt       time.Time `json:"detected_at"`
}

// InsightType labels synthesized insights.
type InsightType string

// Insight types.
const (
	InsightCostPressure      InsightType = "cost_pressure"
	InsightMarketOpportunity InsightType = "market_opportunity"
)

// Insight is a synthesized observation derived from a price change.
type Insight struct {
	ID         string      `json:"id"`
	Type       InsightType `json:"type"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Confidence float64     `json:"confidence"`
	ItemName   string      `json:"item_name"`
	Category   string      `json:"category"`
	SourceID   string      `json:"source_id"`
	EventID    string      `json:"event_id"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Direction describes the movement of a series.
type Direction string

// Trend directions.
const (
	DirectionRising       Direction = "rising"
	DirectionFalling      Direction = "falling"
	DirectionStable       Direction = "stable"
	DirectionInsufficient Direction = "insufficient_data"
)

// TrendConfidence grades how much data backs a trend.
type TrendConfidence string

// Trend confidence levels.
const (
	TrendConfidenceHigh         TrendConfidence = "high"
	TrendConfidenceMedium       TrendConfidence = "medium"
	TrendConfidenceLow          TrendConfidence = "low"
	TrendConfidenceInsufficient TrendConfidence = "insufficient"
)

// MovingAveragePoint is a point of a smoothed series.
type MovingAveragePoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	MA    float64   `json:"ma"`
}

// Anomaly is an observation that deviates from its moving average.
type Anomaly struct {
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
	MA       float64   `json:"ma"`
	Residual float64   `json:"residual"`
	ZScore   float64   `json:"z_score"`
	SourceID string    `json:"source_id"`
}

// TrendSnapshot summarizes a (metric, category, geography) series.
type TrendSnapshot struct {
	ID             string               `json:"id"`
	Metric         string               `json:"metric"`
	Category       string               `json:"category"`
	Geography      string               `json:"geography"`
	PointCount     int                  `json:"point_count"`
	GradeACount    int                  `json:"grade_a_count"`
	SourceCount    int                  `json:"source_count"`
	CurrentMA      *float64             `json:"current_ma,omitempty"`
	PreviousMA     *float64             `json:"previous_ma,omitempty"`
	PercentChange  *float64             `json:"percent_change,omitempty"`
	Direction      Direction            `json:"direction"`
	Anomalies      []Anomaly            `json:"anomalies"`
	Confidence     TrendConfidence      `json:"confidence"`
	Narrative      *string              `json:"narrative,omitempty"`
	MovingAverages []MovingAveragePoint `json:"moving_averages"`
	WindowDays     int                  `json:"window_days"`
	RunID          string               `json:"run_id"`
	ComputedAt     time.Time            `json:"computed_at"`
}

// Recommendation is the verdict of a benchmark proposal.
type Recommendation string

// Proposal recommendations.
const (
	RecommendPublish Recommendation = "publish"
	RecommendReject  Recommendation = "reject"
)

// ReliabilityDist counts records per grade.
type ReliabilityDist struct {
	A int `json:"A"`
	B int `json:"B"`
	C int `json:"C"`
}

// RecencyDist counts records per age bucket.
type RecencyDist struct {
	Recent int `json:"recent"`
	Mid    int `json:"mid"`
	Old    int `json:"old"`
}

// BenchmarkProposal is a candidate benchmark range. Proposals are append-only.
type BenchmarkProposal struct {
	ID              string          `json:"id"`
	BenchmarkKey    string          `json:"benchmark_key"`
	Category        string          `json:"category"`
	Unit            string          `json:"unit"`
	ProposedP25     float64         `json:"proposed_p25"`
	ProposedP50     float64         `json:"proposed_p50"`
	ProposedP75     float64         `json:"proposed_p75"`
	WeightedMean    float64         `json:"weighted_mean"`
	EvidenceCount   int             `json:"evidence_count"`
	SourceDiversity int             `json:"source_diversity"`
	ReliabilityDist ReliabilityDist `json:"reliability_dist"`
	RecencyDist     RecencyDist     `json:"recency_dist"`
	ConfidenceScore int             `json:"confidence_score"`
	Recommendation  Recommendation  `json:"recommendation"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	RunID           string          `json:"run_id"`
	CreatedAt       time.Time       `json:"created_at"`
}
