package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/connector"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/orchestrator"
)

// RunStatus is the lifecycle state of a queued run.
type RunStatus string

// Run lifecycle states.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunJob is a queued ingestion run.
type RunJob struct {
	RunID     string           `json:"run_id"`
	SourceIDs []string         `json:"source_ids"`
	Category  string           `json:"category,omitempty"`
	Trigger   evidence.Trigger `json:"trigger"`
	ActorID   string           `json:"actor_id,omitempty"`
	Submitted time.Time        `json:"submitted"`
}

// RunState is the tracked state of a run job.
type RunState struct {
	RunID      string     `json:"run_id"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	Submitted  time.Time  `json:"submitted"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunTracker records the lifecycle of run jobs submitted through the API.
type RunTracker struct {
	mu   sync.RWMutex
	runs map[string]RunState
}

// NewRunTracker returns an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{runs: make(map[string]RunState)}
}

func (t *RunTracker) queued(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[id] = RunState{RunID: id, Status: RunQueued, Submitted: at}
}

func (t *RunTracker) started(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.runs[id]
	st.RunID, st.Status, st.StartedAt = id, RunRunning, &at
	t.runs[id] = st
}

func (t *RunTracker) finished(id string, at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.runs[id]
	st.RunID, st.FinishedAt = id, &at
	st.Status = RunCompleted
	if err != nil {
		st.Status, st.Error = RunFailed, err.Error()
	}
	t.runs[id] = st
}

func (t *RunTracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, id)
}

// Get returns the tracked state of a run.
func (t *RunTracker) Get(id string) (RunState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.runs[id]
	return st, ok
}

// ProcessRun executes a queued run job. It is the handler of the run worker.
func (s *Server) ProcessRun(ctx context.Context, job RunJob) {
	logger := s.logger.With(zap.String("run_id", job.RunID))
	s.runs.started(job.RunID, s.clock.Now())

	conns, err := s.buildConnectors(job.SourceIDs, job.Category)
	if err != nil {
		logger.Warn("run setup failed", zap.Error(err))
		s.runs.finished(job.RunID, s.clock.Now(), err)
		return
	}
	report, err := s.runner.Run(ctx, orchestrator.RunRequest{
		RunID:      job.RunID,
		Connectors: conns,
		Trigger:    job.Trigger,
		ActorID:    job.ActorID,
	})
	if err != nil {
		logger.Error("run failed", zap.Error(err))
	} else {
		logger.Info("run completed", zap.Int("created", report.EvidenceCreated), zap.Int("failed_sources", report.SourcesFailed))
	}
	s.runs.finished(job.RunID, s.clock.Now(), err)
}

// RunPanicked marks a run failed after its handler panicked.
func (s *Server) RunPanicked(job RunJob, recovered any) {
	s.runs.finished(job.RunID, s.clock.Now(), fmt.Errorf("run panicked: %v", recovered))
}

func (s *Server) buildConnectors(ids []string, category string) ([]connector.Connector, error) {
	var descs []evidence.SourceDescriptor
	if len(ids) == 0 {
		descs = s.registry.Enabled(category)
	} else {
		selected, err := s.registry.Select(ids)
		if err != nil {
			return nil, err
		}
		descs = selected
	}
	conns := make([]connector.Connector, 0, len(descs))
	for _, d := range descs {
		c, err := s.connectors(d)
		if err != nil {
			return nil, fmt.Errorf("build connector %s: %w", d.ID, err)
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func (s *Server) enqueueRun(ctx context.Context, job RunJob) error {
	s.runs.queued(job.RunID, job.Submitted)
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, job); err != nil {
		s.runs.forget(job.RunID)
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}
