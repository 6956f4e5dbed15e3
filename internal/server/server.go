// Package server exposes the render core over HTTP: job submission, job
// status, host capabilities and the per-user event stream.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/daninc24/thumbnailcreator/internal/composition"
	"github.com/daninc24/thumbnailcreator/internal/encoder"
	"github.com/daninc24/thumbnailcreator/internal/event"
	"github.com/daninc24/thumbnailcreator/internal/job"
)

// Server wires HTTP handlers to the render service.
type Server struct {
	svc      *job.Service
	enc      *encoder.Encoder
	bus      event.Bus
	logger   *slog.Logger
	validate *validator.Validate
}

// New creates a Server.
func New(svc *job.Service, enc *encoder.Encoder, bus event.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:      svc,
		enc:      enc,
		bus:      bus,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers all handlers on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/render", s.handleRender)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

// renderRequest is the submission payload. The composition itself is validated
// by the model; only the envelope is checked here.
type renderRequest struct {
	UserID      string                  `json:"userId" validate:"required"`
	Composition composition.Composition `json:"composition" validate:"required"`
}

type renderResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// handleRender accepts a render request and returns the job id immediately;
// all further progress is delivered out of band on the user's event channel.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := s.svc.Submit(req.UserID, &req.Composition)
	if err != nil {
		var verr *composition.ValidationError
		switch {
		case errors.As(err, &verr):
			s.writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, job.ErrQuotaExceeded):
			s.writeError(w, http.StatusTooManyRequests, "render quota exceeded")
		case errors.Is(err, job.ErrQueueFull), errors.Is(err, job.ErrClosed):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("submit failed", slog.String("error", err.Error()))
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, renderResponse{JobID: j.ID, Status: string(j.Status)})
}

type jobResponse struct {
	JobID       string `json:"jobId"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	FramesDone  int    `json:"framesDone"`
	TotalFrames int    `json:"totalFrames"`
	OutputPath  string `json:"outputPath,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.svc.GetJob(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse{
		JobID:       j.ID,
		Status:      string(j.Status),
		Progress:    j.Progress,
		FramesDone:  j.FramesDone,
		TotalFrames: j.TotalFrames,
		OutputPath:  j.OutputPath,
		Error:       j.Error,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.enc.Capabilities())
}

// handleEvents streams a user's render events as newline-delimited JSON until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user query parameter required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.bus.Subscribe(userID)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
