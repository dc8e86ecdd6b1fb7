package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/sources"
)

type sourceView struct {
	evidence.SourceDescriptor
	State *evidence.SourceState `json:"state,omitempty"`
}

type runRequest struct {
	SourceIDs []string `json:"source_ids"`
	Category  string   `json:"category"`
	ActorID   string   `json:"actor_id"`
}

type runResponse struct {
	RunState
	Report *evidence.RunReport `json:"report,omitempty"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	out := make([]sourceView, 0, s.registry.Len())
	for _, d := range s.registry.All() {
		if category != "" && !strings.EqualFold(d.Category, category) {
			continue
		}
		view := sourceView{SourceDescriptor: d}
		st, err := s.store.GetSourceState(r.Context(), d.ID)
		switch {
		case err == nil:
			view.State = &st
		case !errors.Is(err, evidence.ErrNotFound):
			s.logger.Warn("source state lookup failed", zap.String("source_id", d.ID), zap.Error(err))
		}
		out = append(out, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := s.registry.Select(req.SourceIDs); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.queueRun(w, r, req.SourceIDs, req.Category, req.ActorID)
}

func (s *Server) runSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	if _, err := s.registry.Get(id); err != nil {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	s.queueRun(w, r, []string{id}, "", r.Header.Get("X-Actor-ID"))
}

func (s *Server) queueRun(w http.ResponseWriter, r *http.Request, ids []string, category, actor string) {
	runID, err := s.ids.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate run id")
		return
	}
	job := RunJob{
		RunID:     runID,
		SourceIDs: ids,
		Category:  category,
		Trigger:   evidence.TriggerAPI,
		ActorID:   actor,
		Submitted: s.clock.Now(),
	}
	if err := s.enqueueRun(r.Context(), job); err != nil {
		s.logger.Warn("run enqueue failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": string(RunQueued)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	report, err := s.store.GetRunReport(r.Context(), runID)
	switch {
	case err == nil:
		resp := runResponse{RunState: RunState{RunID: runID, Status: RunCompleted}, Report: &report}
		if st, ok := s.runs.Get(runID); ok {
			resp.RunState = st
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	case !errors.Is(err, evidence.ErrNotFound):
		s.logger.Error("run report lookup failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run report")
		return
	}
	if st, ok := s.runs.Get(runID); ok {
		s.writeJSON(w, http.StatusOK, runResponse{RunState: st})
		return
	}
	s.writeError(w, http.StatusNotFound, "run not found")
}

func (s *Server) testSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	src, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, sources.ErrUnknownSource) {
			s.writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st, err := s.store.GetSourceState(r.Context(), id); err == nil {
		src.LastSuccessfulFetch = st.LastSuccessfulFetch
		src.ConsecutiveFailures = st.ConsecutiveFailures
	}
	conn, err := s.connectors(src)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.runner.TestScrape(r.Context(), conn))
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	props, err := s.store.ListProposals(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.logger.Error("list proposals failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list proposals")
		return
	}
	if props == nil {
		props = []evidence.BenchmarkProposal{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"proposals": props})
}
