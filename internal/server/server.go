// Package server exposes the chat loop over HTTP with server-sent event
// streaming.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/semaphore"

	"github.com/user/datachat/internal/memory"
	"github.com/user/datachat/internal/orchestrator"
	"github.com/user/datachat/internal/store"
	"github.com/user/datachat/pkg/llm"
)

// Server wires the orchestration loop, data store, and session memory into
// HTTP handlers. The semaphore bounds concurrent chat runs.
type Server struct {
	loop       *orchestrator.Loop
	store      *store.Store
	memory     *memory.Store
	sem        *semaphore.Weighted
	gptEnabled bool
}

func New(loop *orchestrator.Loop, st *store.Store, mem *memory.Store, maxConcurrent int, gptEnabled bool) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Server{
		loop:       loop,
		store:      st,
		memory:     mem,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		gptEnabled: gptEnabled,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/agent-chat", s.handleAgentChat)
	r.Get("/memory", s.handleGetMemory)
	r.Post("/memory", s.handleAddFact)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"tables":      s.store.Counts(),
		"gpt_enabled": s.gptEnabled,
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	SessionID string        `json:"session_id"`
}

func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages is required"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}

	history := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server busy"})
		return
	}
	defer s.sem.Release(1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range s.loop.Run(r.Context(), history, sessionID) {
		if err := writeJSONFrame(w, event); err != nil {
			slog.Warn("client disconnected mid-stream", "session_id", sessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	sess, err := s.memory.Get(sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"memory":     sess,
	})
}

type factRequest struct {
	SessionID string `json:"session_id"`
	Fact      string `json:"fact"`
}

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	var req factRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Fact) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fact is required"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}
	if err := s.memory.AddFact(sessionID, req.Fact); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
