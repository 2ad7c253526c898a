// Package server exposes the gateway's HTTP and websocket surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miraihub/mirai-gateway/internal/config"
	"github.com/miraihub/mirai-gateway/internal/orchestrator"
	"github.com/miraihub/mirai-gateway/internal/pubsub"
	"github.com/miraihub/mirai-gateway/internal/store"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	orch       *orchestrator.Orchestrator
	registry   *ConnectionRegistry
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// SendMessageRequest is the inbound message payload.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// CreateConversationRequest creates a new conversation.
type CreateConversationRequest struct {
	Title    string `json:"title"`
	UserUID  string `json:"user_uid,omitempty"`
	AgentUID string `json:"agent_uid,omitempty"`
}

// RateMessageRequest sets a message rating.
type RateMessageRequest struct {
	Rating string `json:"rating"`
}

// MessagesResponse lists a conversation's messages.
type MessagesResponse struct {
	ConversationUID string           `json:"conversation_uid"`
	Messages        []*store.Message `json:"messages"`
}

// New creates the gateway server.
func New(cfg *config.Config, st *store.Store, orch *orchestrator.Orchestrator, hub *pubsub.Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		orch:     orch,
		registry: NewConnectionRegistry(hub, logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/conversations", s.conversationsHandler)
	mux.HandleFunc("/api/v1/conversations/", s.conversationHandler)
	mux.HandleFunc("/api/v1/messages/", s.messageHandler)
	mux.HandleFunc("/ws/global", s.wsGlobalHandler)
	mux.HandleFunc("/ws/conversation/", s.wsConversationHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   "1.0.0",
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// conversationsHandler creates conversations.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), req.Title, req.UserUID, req.AgentUID)
	if err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// conversationHandler routes /api/v1/conversations/{id} and
// /api/v1/conversations/{id}/messages.
func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.getConversation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "messages":
		switch r.Method {
		case http.MethodGet:
			s.listMessages(w, r, parts[0])
		case http.MethodPost:
			s.sendMessage(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conv, err := s.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, id string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	messages, err := s.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "conversation", id, "error", err)
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ConversationUID: id, Messages: messages})
}

// sendMessage accepts a user message and acknowledges it immediately; the
// reply arrives over the conversation's websocket channel.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, id string) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}

	ack, err := s.orch.HandleUserMessage(r.Context(), id, req.Content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to accept message", "conversation", id, "error", err)
		http.Error(w, "Failed to accept message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// messageHandler routes /api/v1/messages/{id}/rating.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/messages/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "rating" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Rating != "up" && req.Rating != "down" && req.Rating != "" {
		http.Error(w, "rating must be up, down or empty", http.StatusBadRequest)
		return
	}

	err := s.store.UpdateMessageRating(r.Context(), parts[0], req.Rating)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to update rating", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) wsGlobalHandler(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, pubsub.GlobalChannel)
}

func (s *Server) wsConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/conversation/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	s.serveWS(w, r, pubsub.ConversationChannel(id))
}

// serveWS upgrades the connection, registers it on the channel and blocks
// reading until the client goes away. Inbound frames are discarded; messages
// are sent over the REST endpoint.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "channel", channel, "error", err)
		return
	}

	s.registry.Register(conn, channel)
	defer func() {
		s.registry.Unregister(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
