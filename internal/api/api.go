package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joescharf/isq/internal/authz"
	"github.com/joescharf/isq/internal/logger"
	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/response"
	"github.com/joescharf/isq/internal/search"
	"github.com/joescharf/isq/internal/store"
)

// Request headers.
const (
	// HeaderUser carries the authenticated login, set by the trusted proxy in front of the server.
	HeaderUser      = "X-Forwarded-User"
	HeaderRequestID = "X-Request-Id"
)

// Server provides the REST API handlers.
type Server struct {
	engine *search.Engine
	store  store.Reader
}

// NewServer creates a new API server.
func NewServer(e *search.Engine, s store.Reader) *Server {
	return &Server{engine: e, store: s}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/issues/search", s.searchIssues)
	mux.HandleFunc("GET /api/issues/search/schema", s.searchSchema)
	mux.HandleFunc("POST /api/issues/reindex", s.reindex)

	mux.HandleFunc("GET /api/webservices/list", s.listWebServices)
	mux.HandleFunc("GET /api/webservices/response_example", s.responseExample)

	return requestMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestMiddleware tags the request context with a request id and the caller login.
func requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := logger.WithLogFields(r.Context(), logger.LogFields{
			RequestID: logger.Ptr(requestID),
			Login:     logger.Ptr(strings.TrimSpace(r.Header.Get(HeaderUser))),
			Surface:   logger.Ptr("http"),
			Component: "isq.api",
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorMessage struct {
	Msg string `json:"msg"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string][]errorMessage{"errors": {{Msg: msg}}})
}

// writeSearchError maps engine errors to status codes.
func writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *search.ValidationError
	var berr *search.BackendError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &berr):
		writeError(w, http.StatusServiceUnavailable, "search index unavailable")
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) caller(r *http.Request) (models.Caller, error) {
	return authz.LoadCaller(r.Context(), s.store, strings.TrimSpace(r.Header.Get(HeaderUser)))
}

// --- Issues ---

func (s *Server) searchIssues(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	res, err := s.engine.Search(r.Context(), caller, r.URL.Query())
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response.Compose(res))
}

func (s *Server) searchSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response.Schema())
}

func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	if !caller.IsLoggedIn() {
		writeError(w, http.StatusUnauthorized, "Authentication is required")
		return
	}
	admin, err := s.engine.IsAdmin(r.Context(), caller)
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	if !admin {
		writeError(w, http.StatusForbidden, "Insufficient privileges")
		return
	}

	n, err := s.engine.Reindex(r.Context())
	if err != nil {
		writeSearchError(w, r, &search.BackendError{Op: "reindex", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed": n})
}

// --- Web services ---

type webService struct {
	Path        string                    `json:"path"`
	Since       string                    `json:"since"`
	Description string                    `json:"description"`
	Actions     []search.ActionDefinition `json:"actions"`
}

func (s *Server) listWebServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]webService{
		"webServices": {{
			Path:        "api/issues",
			Since:       "3.6",
			Description: "Read issues",
			Actions:     []search.ActionDefinition{search.Definition()},
		}},
	})
}

func (s *Server) responseExample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	def := search.Definition()
	if q.Get("controller") != "api/issues" || q.Get("action") != def.Key {
		writeError(w, http.StatusNotFound, "no response example for this action")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"format":  "json",
		"example": json.RawMessage(def.ResponseExample),
	})
}
