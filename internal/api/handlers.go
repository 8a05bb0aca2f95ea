// Package api provides HTTP handlers for Chatterbox control endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chatterbox-chat/chatterbox/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	result := map[string]interface{}{
		"listener_running": s.listener.IsListening(),
		"registrations":    s.listener.RegistrationCount(),
		"dedup_size":       s.seen.Len(),
		"poller_warmed":    s.poller.Warmed(),
		"last_check":       s.poller.LastCheck(),
	}
	if s.events != nil {
		result["active_alerts"] = len(s.events.Active())
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// checkHandler triggers one poll cycle immediately.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var userID string
	if s.session != nil {
		userID, _ = s.session.Get()
	}
	if err := s.poller.CheckOnce(r.Context(), userID); err != nil {
		slog.Error("Server.checkHandler: check failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Check failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Check completed", map[string]interface{}{
		"warmed": s.poller.Warmed(),
	}))
}

// notificationsHandler drains pending notification events.
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	drained := []models.Notification{}
	if s.events != nil {
	drain:
		for {
			select {
			case ev := <-s.events.Events():
				drained = append(drained, ev)
			default:
				break drain
			}
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(drained))
}

// sendMessageRequest is the body of POST /messages.
type sendMessageRequest struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	ImageURL   string `json:"image_url,omitempty"`
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodPost:
		s.sendMessage(w, r)
	case http.MethodGet:
		s.listMessages(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendMessage: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if req.SenderID == "" && s.session != nil {
		req.SenderID, _ = s.session.Get()
	}
	if req.SenderID == "" || req.ReceiverID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing sender or receiver"))
		return
	}

	var (
		msg *models.Message
		err error
	)
	if req.ImageURL != "" {
		msg, err = s.backend.SendImageMessage(r.Context(), req.SenderID, req.ReceiverID, req.ImageURL)
	} else {
		msg, err = s.backend.SendMessage(r.Context(), req.SenderID, req.ReceiverID, req.Content)
	}
	if err != nil {
		slog.Error("Server.sendMessage: send failed", "error", err, "receiverID", req.ReceiverID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendMessage: message sent", "messageID", msg.ID, "receiverID", req.ReceiverID)
	writeJSONResponse(w, http.StatusOK, models.Success(msg))
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: peer"))
		return
	}

	var userID string
	if s.session != nil {
		userID, _ = s.session.Get()
	}
	if userID == "" {
		writeJSONResponse(w, http.StatusConflict, models.Error("No active session"))
		return
	}

	msgs, err := s.backend.ListMessages(r.Context(), models.ConversationID(userID, peerID))
	if err != nil {
		slog.Error("Server.listMessages: read failed", "error", err, "peerID", peerID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// readRequest is the body of POST /read.
type readRequest struct {
	PeerID string `json:"peer_id"`
}

// readHandler marks a conversation read: the peer's alert is cleared and
// inbound messages are flagged seen.
func (s *Server) readHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req readRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.readHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.PeerID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: peer_id"))
		return
	}

	if err := s.listener.MarkConversationRead(r.Context(), req.PeerID); err != nil {
		slog.Error("Server.readHandler: mark read failed", "error", err, "peerID", req.PeerID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to mark conversation read"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation marked read", nil))
}
