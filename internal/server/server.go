// Package server exposes the copilot over HTTP.
//
// Routes:
//
//	POST   /v1/rag             answer one utterance ({session_id?, query, include_docs?})
//	DELETE /v1/sessions/{id}   end a call and drop its session state
//	GET    /v1/stream          WebSocket: one text frame per utterance in,
//	                           one JSON response frame out
//
// /healthz, /readyz and /metrics are mounted when configured.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/health"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/observe"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/pipeline"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
)

// maxBodyBytes bounds a POST /v1/rag body.
const maxBodyBytes = 64 << 10

// Answerer answers utterances of a call. [*pipeline.Pipeline] satisfies it.
type Answerer interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	EndSession(id string) error
}

// Server routes HTTP and WebSocket traffic to an [Answerer].
type Server struct {
	rag            Answerer
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	origins        []string
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics wraps every route in [observe.Middleware] and serves h on
// /metrics when h is non-nil.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = h
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New returns a Server answering with rag.
func New(rag Answerer, opts ...Option) *Server {
	s := &Server{rag: rag}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/rag", s.handleRAG)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// ragRequest is the body of POST /v1/rag and of JSON stream frames.
type ragRequest struct {
	SessionID   string `json:"session_id"`
	Query       string `json:"query"`
	IncludeDocs *bool  `json:"include_docs"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	w.Header().Set("X-Session-ID", req.SessionID)

	resp, err := s.rag.Run(r.Context(), pipeline.Request{
		SessionID:   req.SessionID,
		Query:       req.Query,
		IncludeDocs: req.IncludeDocs,
	})
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			observe.Logger(r.Context()).Error("rag request failed", "session_id", req.SessionID, "err", err)
		}
		writeJSON(w, status, errorBody{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rag.EndSession(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errorStatus maps a pipeline error to an HTTP status and a client message.
// Internal details stay in the log.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return http.StatusBadRequest, "query is required"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(context.Background()).Warn("server: encode response failed", "err", err)
	}
}
