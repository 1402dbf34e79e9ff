// Package debug provides an HTTP server for driving interview sessions
// during development and testing.
package debug

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/talentloop/interviewgraph/graph"
	"github.com/talentloop/interviewgraph/interview"
	"github.com/talentloop/interviewgraph/log"
)

// Server exposes the interview engine over HTTP:
//
//	POST   /sessions/{id}/messages  start or resume a session
//	GET    /sessions/{id}           introspect session state
//	DELETE /sessions/{id}           abandon a session
type Server struct {
	engine *interview.Engine
	router *mux.Router
}

// New creates a debug server over an interview engine.
func New(engine *interview.Engine) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
	}
	s.router.HandleFunc("/sessions/{id}/messages", s.handleMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}", s.handleGetState).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	return s
}

// Handler returns the root handler with CORS enabled, ready for
// http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

type messageRequest struct {
	JobTitle string `json:"job_title,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := s.engine.StartOrResume(r.Context(), sessionID, req.JobTitle, req.Answer)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNoCheckpoint):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrInvalidResume),
		errors.Is(err, graph.ErrSessionIDRequired),
		errors.Is(err, interview.ErrJobTitleRequired):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrConcurrentResume),
		errors.Is(err, graph.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
