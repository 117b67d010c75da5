// Package api exposes the inbound chat webhook, the job triggers and the
// operational endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/conversation"
	"immo-alerts/internal/scheduler"
	"immo-alerts/internal/search"
	"immo-alerts/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, phone, text string) (*conversation.Result, error)
}

type JobRunner interface {
	Jobs() []string
	Trigger(name string) error
	Status(name string) (scheduler.Status, error)
}

type MatchMarker interface {
	MarkViewed(ctx context.Context, id string) error
	MarkInterested(ctx context.Context, id string) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type Deps struct {
	Conversation MessageHandler
	Jobs         JobRunner
	Matches      MatchMarker
	Search       Searcher // optional
	Checks       map[string]CheckFunc
	VerifyToken  string
}

type Server struct {
	deps   Deps
	logger logger.Logger
	mux    *http.ServeMux
}

const readyTimeout = 2 * time.Second

func NewServer(deps Deps, log logger.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /webhook/messages", s.handleVerify)
	s.mux.HandleFunc("POST /webhook/messages", s.handleWebhook)
	s.mux.HandleFunc("GET /jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /jobs/{name}", s.handleJobStatus)
	s.mux.HandleFunc("POST /jobs/{name}/run", s.handleRunJob)
	s.mux.HandleFunc("POST /matches/{id}/viewed", s.handleMatchFeedback(false))
	s.mux.HandleFunc("POST /matches/{id}/interested", s.handleMatchFeedback(true))
	s.mux.HandleFunc("GET /listings/search", s.handleSearch)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routed handler wrapped with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.logRequests(s.mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
		cancel()
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	out := make([]scheduler.Status, 0)
	for _, name := range s.deps.Jobs.Jobs() {
		if st, err := s.deps.Jobs.Status(name); err == nil {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.Status(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleRunJob is fire-and-forget; callers poll GET /jobs/{name}.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Jobs.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrNotStarted) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"job": name, "status": "scheduler stopped"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "accepted"})
}

func (s *Server) handleMatchFeedback(interested bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var err error
		if interested {
			err = s.deps.Matches.MarkInterested(r.Context(), id)
		} else {
			err = s.deps.Matches.MarkViewed(r.Context(), id)
		}
		if errors.Is(err, store.ErrNotFound) {
			err = apperrors.NewNotFoundError("match", id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.Normalize(err)
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{"path": r.URL.Path, "errorCode": stdErr.Code, "error": err})
	}
	writeJSON(w, status, map[string]interface{}{"error": stdErr})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeMalformedPayload:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeJobUnknown:
		return http.StatusNotFound
	case apperrors.ErrCodeJobAlreadyRunning:
		return http.StatusConflict
	case apperrors.ErrCodeLockUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeSearchIndexFailed, apperrors.ErrCodeDeliveryFailed, apperrors.ErrCodeDeliveryTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
