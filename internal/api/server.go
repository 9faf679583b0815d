package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parlo-app/parlo/internal/orchestrator"
	"github.com/parlo-app/parlo/internal/session"
)

// Responder is the orchestrator surface the route handlers need.
type Responder interface {
	Respond(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

type Server struct {
	router    *chi.Mux
	port      int
	token     string
	responder Responder
	logger    *slog.Logger
}

func NewServer(port int, token string, responder Responder, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		token:     token,
		responder: responder,
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/parlo/status", s.status)
	router.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/v1/speaking/respond", s.respond)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// requireAuth rejects requests without a valid bearer token. The speaking
// pipeline acts on behalf of a signed-in learner, so an unauthenticated call
// is always a client bug.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || bearer == "" || (s.token != "" && bearer != s.token) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type respondRequest struct {
	SpeakingSessionID      string          `json:"speakingSessionId"`
	UserInput              string          `json:"userInput"`
	Scenario               string          `json:"scenario"`
	Level                  string          `json:"level"`
	Voice                  string          `json:"voice"`
	IsInitial              bool            `json:"isInitial"`
	PotentialGrammarErrors json.RawMessage `json:"potentialGrammarErrors"`
	UserName               string          `json:"userName"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var missing []string
	if req.SpeakingSessionID == "" {
		missing = append(missing, "speakingSessionId")
	}
	if req.Scenario == "" {
		missing = append(missing, "scenario")
	}
	if req.Level == "" {
		missing = append(missing, "level")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing required fields", strings.Join(missing, ", "))
		return
	}

	resp, err := s.responder.Respond(r.Context(), orchestrator.Request{
		SessionID:     req.SpeakingSessionID,
		UserInput:     req.UserInput,
		Scenario:      req.Scenario,
		Level:         req.Level,
		Voice:         req.Voice,
		IsInitial:     req.IsInitial,
		GrammarErrors: req.PotentialGrammarErrors,
		UserName:      req.UserName,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found", req.SpeakingSessionID)
		case errors.Is(err, orchestrator.ErrGenerationFailed):
			// Provider internals stay in the logs, not the client error.
			writeError(w, http.StatusInternalServerError, "failed to generate response", "")
		default:
			s.logger.Error("respond handler failed", "session_id", req.SpeakingSessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "parlo",
		"status":  "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, map[string]string{"error": msg, "details": details})
}
