package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

// EvidenceStore keeps every pipeline artifact in process. It is safe for
// concurrent use and enforces record uniqueness by dedup key.
type EvidenceStore struct {
	mu        sync.RWMutex
	records   []evidence.Record
	keys      map[evidence.DedupKey]struct{}
	changes   []evidence.PriceChangeEvent
	insights  []evidence.Insight
	trends    []evidence.TrendSnapshot
	proposals []evidence.BenchmarkProposal
	states    map[string]evidence.SourceState
	runs      map[string]evidence.RunReport
	audit     []evidence.AuditEntry
}

var _ evidence.Store = (*EvidenceStore)(nil)

// NewEvidenceStore constructs an empty EvidenceStore.
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{
		keys:   make(map[evidence.DedupKey]struct{}),
		states: make(map[string]evidence.SourceState),
		runs:   make(map[string]evidence.RunReport),
	}
}

// Ping always succeeds.
func (s *EvidenceStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *EvidenceStore) Close() {}

// InsertRecord appends rec unless its dedup key is already taken.
func (s *EvidenceStore) InsertRecord(_ context.Context, rec evidence.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = struct{}{}
	s.records = append(s.records, copyRecord(rec))
	return true, nil
}

// RecordExists reports whether key is taken.
func (s *EvidenceStore) RecordExists(_ context.Context, key evidence.DedupKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key.Day = evidence.CaptureDay(key.Day)
	_, ok := s.keys[key]
	return ok, nil
}

// LatestBefore returns the newest record of (itemName, sourceID) captured
// strictly before before.
func (s *EvidenceStore) LatestBefore(_ context.Context, itemName, sourceID string, before time.Time) (evidence.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  evidence.Record
		found bool
	)
	for _, r := range s.records {
		if r.ItemName != itemName || r.SourceRegistryID != sourceID || !r.CaptureDate.Before(before) {
			continue
		}
		if !found || r.CaptureDate.After(best.CaptureDate) {
			best, found = r, true
		}
	}
	if !found {
		return evidence.Record{}, evidence.ErrNotFound
	}
	return copyRecord(best), nil
}

// ListRecords returns matching records ordered by capture date.
func (s *EvidenceStore) ListRecords(_ context.Context, filter evidence.RecordFilter) ([]evidence.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evidence.Record
	for _, r := range s.records {
		if len(filter.Categories) > 0 && !slices.Contains(filter.Categories, r.Category) {
			continue
		}
		if filter.SourceID != "" && r.SourceRegistryID != filter.SourceID {
			continue
		}
		if filter.ItemName != "" && r.ItemName != filter.ItemName {
			continue
		}
		if !filter.Since.IsZero() && r.CaptureDate.Before(filter.Since) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CaptureDate.Before(out[j].CaptureDate) })
	return out, nil
}

// InsertPriceChange appends ev.
func (s *EvidenceStore) InsertPriceChange(_ context.Context, ev evidence.PriceChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, ev)
	return nil
}

// InsertInsight appends in.
func (s *EvidenceStore) InsertInsight(_ context.Context, in evidence.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, in)
	return nil
}

// Insights returns every stored insight.
func (s *EvidenceStore) Insights() []evidence.Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.insights)
}

// ListPriceChanges returns events detected at or after since.
func (s *EvidenceStore) ListPriceChanges(_ context.Context, since time.Time) ([]evidence.PriceChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evidence.PriceChangeEvent
	for _, ev := range s.changes {
		if !ev.DetectedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// InsertTrendSnapshot appends snap.
func (s *EvidenceStore) InsertTrendSnapshot(_ context.Context, snap evidence.TrendSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trends = append(s.trends, snap)
	return nil
}

// ListTrendSnapshots returns snapshots computed at or after since.
func (s *EvidenceStore) ListTrendSnapshots(_ context.Context, since time.Time) ([]evidence.TrendSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evidence.TrendSnapshot
	for _, snap := range s.trends {
		if !snap.ComputedAt.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

// InsertProposal appends p.
func (s *EvidenceStore) InsertProposal(_ context.Context, p evidence.BenchmarkProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = append(s.proposals, p)
	return nil
}

// ListProposals returns the proposal history, optionally for one category.
func (s *EvidenceStore) ListProposals(_ context.Context, category string) ([]evidence.BenchmarkProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evidence.BenchmarkProposal
	for _, p := range s.proposals {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetSourceState returns the scheduling state of a source or ErrNotFound.
func (s *EvidenceStore) GetSourceState(_ context.Context, sourceID string) (evidence.SourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sourceID]
	if !ok {
		return evidence.SourceState{}, evidence.ErrNotFound
	}
	return st, nil
}

// UpsertSourceState replaces the scheduling state of a source.
func (s *EvidenceStore) UpsertSourceState(_ context.Context, st evidence.SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.SourceID] = st
	return nil
}

// SaveRunReport stores or replaces a run report.
func (s *EvidenceStore) SaveRunReport(_ context.Context, report evidence.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.PerSource = slices.Clone(report.PerSource)
	report.Errors = slices.Clone(report.Errors)
	s.runs[report.RunID] = report
	return nil
}

// GetRunReport returns a stored run report or ErrNotFound.
func (s *EvidenceStore) GetRunReport(_ context.Context, runID string) (evidence.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.runs[runID]
	if !ok {
		return evidence.RunReport{}, evidence.ErrNotFound
	}
	return report, nil
}

// AppendAudit appends an audit entry.
func (s *EvidenceStore) AppendAudit(_ context.Context, entry evidence.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// Audit returns the audit log.
func (s *EvidenceStore) Audit() []evidence.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}

func copyRecord(r evidence.Record) evidence.Record {
	r.Tags = slices.Clone(r.Tags)
	if r.PriceTypical != nil {
		v := *r.PriceTypical
		r.PriceTypical = &v
	}
	return r
}
