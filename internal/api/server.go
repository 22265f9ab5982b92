// Package api exposes the HTTP surface: session and response management,
// job-creating triggers, and polling endpoints for job progress and results.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"interview-pipeline/internal/config"
	"interview-pipeline/internal/models"
	"interview-pipeline/internal/ratelimit"
	"interview-pipeline/internal/store"
	"interview-pipeline/internal/telemetry"
)

// Server wires HTTP handlers over the store. Jobs are created here; all
// processing happens in the worker.
type Server struct {
	cfg     config.Config
	store   store.Store
	limiter *ratelimit.TriggerLimiter
	log     *slog.Logger
}

// New constructs the API server. limiter may be nil, which disables trigger
// rate limiting.
func New(cfg config.Config, st store.Store, limiter *ratelimit.TriggerLimiter, log *slog.Logger) *Server {
	return &Server{cfg: cfg, store: st, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/sessions", s.handleCreateSession)
	r.Post("/sessions/{id}/responses", s.handleCreateResponse)
	r.Post("/sessions/{id}/complete", s.handleCompleteSession)
	r.Get("/sessions/{id}/feedback-job", s.handleFeedbackJob)
	r.Get("/sessions/{id}/feedback", s.handleFeedback)

	r.Post("/responses/{id}/audio", s.handleUploadAudio)
	r.Get("/responses/{id}/transcription-job", s.handleTranscriptionJob)
	r.Get("/responses/{id}", s.handleGetResponse)

	return r
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	session := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.SessionInProgress,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.log.Error("create session", "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type createResponseRequest struct {
	Question   string `json:"question"`
	AnswerText string `json:"answer_text"`
}

func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req createResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.notFoundOr500(w, err, "session not found")
		return
	}
	if session.Status != models.SessionInProgress {
		http.Error(w, "session is not in progress", http.StatusConflict)
		return
	}

	resp := models.Response{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		UserID:     session.UserID,
		Question:   req.Question,
		AnswerText: req.AnswerText,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateResponse(r.Context(), resp); err != nil {
		s.log.Error("create response", "session", sessionID, "error", err)
		http.Error(w, "failed to create response", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type triggerResponse struct {
	Job     models.JobSnapshot `json:"job"`
	Created bool               `json:"created"`
}

// handleCompleteSession marks the session completed and creates its feedback
// job. Repeat calls return the existing job rather than a duplicate.
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := userFromRequest(r)
	if !s.allowTrigger(w, r, userID) {
		return
	}

	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.notFoundOr500(w, err, "session not found")
		return
	}
	if session.Status == models.SessionAbandoned {
		http.Error(w, "session was abandoned", http.StatusConflict)
		return
	}

	if _, err := s.store.CompleteSession(r.Context(), sessionID); err != nil {
		s.log.Error("complete session", "session", sessionID, "error", err)
		http.Error(w, "failed to complete session", http.StatusInternalServerError)
		return
	}

	job, created, err := s.store.FindOrCreateJob(r.Context(), store.CreateJobParams{
		Kind:        models.KindFeedback,
		SubjectID:   sessionID,
		UserID:      session.UserID,
		MaxAttempts: s.cfg.JobMaxAttempts,
		Metadata:    map[string]any{"provider": s.cfg.FeedbackProvider},
	})
	if err != nil {
		s.log.Error("create feedback job", "session", sessionID, "error", err)
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}
	if created {
		telemetry.JobsCreated.WithLabelValues(models.KindFeedback).Inc()
		s.log.Info("feedback job created", "job", job.ID, "session", sessionID, "user", userID)
	}
	writeJSON(w, http.StatusAccepted, triggerResponse{Job: job.Snapshot(), Created: created})
}

type uploadAudioRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language"`
}

// handleUploadAudio records the uploaded audio location and creates the
// transcription job for the response.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	responseID := chi.URLParam(r, "id")
	userID := userFromRequest(r)
	if !s.allowTrigger(w, r, userID) {
		return
	}

	var req uploadAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.AudioURL == "" {
		http.Error(w, "audio_url is required", http.StatusBadRequest)
		return
	}

	resp, err := s.store.GetResponse(r.Context(), responseID)
	if err != nil {
		s.notFoundOr500(w, err, "response not found")
		return
	}
	if err := s.store.SetResponseAudio(r.Context(), responseID, req.AudioURL); err != nil {
		s.log.Error("set response audio", "response", responseID, "error", err)
		http.Error(w, "failed to record audio", http.StatusInternalServerError)
		return
	}

	metadata := map[string]any{"provider": s.cfg.TranscriptionProvider}
	if req.Language != "" {
		metadata["language"] = req.Language
	}
	job, created, err := s.store.FindOrCreateJob(r.Context(), store.CreateJobParams{
		Kind:        models.KindTranscription,
		SubjectID:   responseID,
		UserID:      resp.UserID,
		MaxAttempts: s.cfg.JobMaxAttempts,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Error("create transcription job", "response", responseID, "error", err)
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}
	if created {
		telemetry.JobsCreated.WithLabelValues(models.KindTranscription).Inc()
		s.log.Info("transcription job created", "job", job.ID, "response", responseID, "user", userID)
	}
	writeJSON(w, http.StatusAccepted, triggerResponse{Job: job.Snapshot(), Created: created})
}

func (s *Server) handleFeedbackJob(w http.ResponseWriter, r *http.Request) {
	s.writeJobSnapshot(w, r, models.KindFeedback, chi.URLParam(r, "id"))
}

func (s *Server) handleTranscriptionJob(w http.ResponseWriter, r *http.Request) {
	s.writeJobSnapshot(w, r, models.KindTranscription, chi.URLParam(r, "id"))
}

func (s *Server) writeJobSnapshot(w http.ResponseWriter, r *http.Request, kind, subjectID string) {
	job, err := s.store.GetJobBySubject(r.Context(), kind, subjectID)
	if err != nil {
		s.notFoundOr500(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetFeedbackReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFoundOr500(w, err, "feedback not ready")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.GetResponse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFoundOr500(w, err, "response not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// allowTrigger applies the per-user token bucket to job-creating endpoints.
// Polling endpoints are never limited.
func (s *Server) allowTrigger(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), userID)
	if err != nil {
		s.log.Error("rate limit check", "user", userID, "error", err)
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, msg, http.StatusNotFound)
		return
	}
	s.log.Error("store lookup", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func userFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
