// Package server exposes the answer pipeline over HTTP. The chat route
// streams newline-delimited JSON events as the answer is generated.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sammcj/answer-engine/internal/config"
	"github.com/sammcj/answer-engine/internal/history"
	"github.com/sammcj/answer-engine/internal/llm"
	"github.com/sammcj/answer-engine/internal/pipeline"
	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
)

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Message struct {
		MessageID string `json:"messageId"`
		ChatID    string `json:"chatId"`
		Content   string `json:"content"`
	} `json:"message"`
	OptimizationMode   string      `json:"optimizationMode"`
	History            [][2]string `json:"history"`
	SystemInstructions string      `json:"systemInstructions"`
	ChatModel          string      `json:"chatModel"`
}

// chatEvent is one NDJSON line of the streamed response.
type chatEvent struct {
	Type        string          `json:"type"`
	Data        any             `json:"data,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	Sources     []search.Result `json:"sources,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
}

// Server wires the pipeline and history store into HTTP handlers.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *history.Store
	logger   *logrus.Logger
}

// New creates a server. store may be nil when persistence is disabled.
func New(p *pipeline.Pipeline, store *history.Store, logger *logrus.Logger) *Server {
	return &Server{pipeline: p, store: store, logger: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"}, s.logger)
		return
	}
	if strings.TrimSpace(req.Message.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message content is required"}, s.logger)
		return
	}

	chatID := req.Message.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}
	userMessageID := req.Message.MessageID
	if userMessageID == "" {
		userMessageID = uuid.NewString()
	}
	assistantMessageID := uuid.NewString()

	if s.store != nil {
		title := req.Message.Content
		if r := []rune(title); len(r) > 100 {
			title = string(r[:100])
		}
		if err := s.store.EnsureChat(r.Context(), chatID, title); err != nil {
			s.logger.WithError(err).Warn("Failed to create chat record")
		} else if err := s.store.RecordUserMessage(r.Context(), chatID, userMessageID, req.Message.Content); err != nil {
			s.logger.WithError(err).Warn("Failed to persist user message")
		}
	}

	preq := pipeline.Request{
		ChatID:             chatID,
		MessageID:          assistantMessageID,
		Query:              req.Message.Content,
		History:            historyMessages(req.History),
		Mode:               config.ParseOptimizationMode(req.OptimizationMode),
		SystemInstructions: req.SystemInstructions,
		ChatModel:          req.ChatModel,
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"}, s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range s.pipeline.Run(r.Context(), preq) {
		var line chatEvent
		switch ev.Type {
		case pipeline.EventData:
			line = chatEvent{Type: "message", Data: ev.Data, MessageID: assistantMessageID}
		case pipeline.EventSources:
			line = chatEvent{Type: "sources", Sources: ev.Sources, Suggestions: ev.Suggestions, MessageID: assistantMessageID}
		case pipeline.EventEnd:
			line = chatEvent{Type: "messageEnd", MessageID: assistantMessageID}
		case pipeline.EventError:
			line = chatEvent{Type: "error", Data: ev.Err, MessageID: assistantMessageID}
		}
		if err := enc.Encode(line); err != nil {
			s.logger.WithError(err).Debug("Client disconnected during stream")
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is disabled"}, s.logger)
		return
	}
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list chats")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list chats"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats}, s.logger)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is disabled"}, s.logger)
		return
	}
	msgs, err := s.store.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.WithError(err).Error("Failed to load chat messages")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load chat"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, s.logger)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is disabled"}, s.logger)
		return
	}
	if err := s.store.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		s.logger.WithError(err).Error("Failed to delete chat")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete chat"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, s.logger)
}

// historyMessages converts the wire history pairs ([role, content])
// into pipeline messages. Unknown roles are treated as user turns.
func historyMessages(pairs [][2]string) []pipeline.Message {
	msgs := make([]pipeline.Message, 0, len(pairs))
	for _, p := range pairs {
		role := llm.RoleUser
		if p[0] == "assistant" || p[0] == "ai" {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, pipeline.Message{Role: role, Content: p[1]})
	}
	return msgs
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *logrus.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Debug(fmt.Sprintf("Failed to write %d response", status))
	}
}
