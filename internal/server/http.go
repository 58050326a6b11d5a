package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/presence"
	"github.com/alfredjeanlab/traceql/internal/query"
)

// MaxIngestBytes bounds the size of a single submission body.
const MaxIngestBytes = 1 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When corsOrigin is non-empty, responses carry CORS headers for it.
func (s *Server) NewHTTPHandler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /trace/{traceId}", s.handleTrace)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /stream/sse", s.handleEventStream)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return RecoveryMiddleware(s.log, CORSMiddleware(corsOrigin, s.instrument(mux)))
}

// ingestResponse is the body of a successful POST /ingest.
type ingestResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	OK     bool               `json:"ok"`
	Error  string             `json:"error"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

// handleIngest handles POST /ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxIngestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	e, err := s.Ingest(r.Context(), body)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{OK: true, ID: e.ID})
}

// eventsResponse is the body of GET /events.
type eventsResponse struct {
	Items []*model.Event `json:"items"`
}

// handleEvents handles GET /events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	items, err := s.Events(r.Context(), query.ParseFilter(r.URL.Query()))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Items: items})
}

// handleTrace handles GET /trace/{traceId}.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	res, err := s.Trace(r.Context(), r.PathValue("traceId"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// servicesResponse is the body of GET /services.
type servicesResponse struct {
	Items []presence.Entry `json:"items"`
}

// handleServices handles GET /services. The optional "active" parameter is a
// duration such as "5m"; only services seen within it are listed.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	var within time.Duration
	if raw := r.URL.Query().Get("active"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid active duration")
			return
		}
		within = d
	}
	writeJSON(w, http.StatusOK, servicesResponse{Items: s.Services(within)})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeFailure maps an operation error to its HTTP response.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Fields: verr.Errors,
		})
		return
	}
	var serr *model.StorageError
	if errors.As(err, &serr) {
		s.log.Error("storage failure", "op", serr.Op, "error", serr.Err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	s.log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
