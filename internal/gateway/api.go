// ABOUTME: HTTP API handlers for session control and chat pass-throughs
// ABOUTME: Every chat operation goes straight to the live client, nothing is persisted

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/whatsgate/whatsgate/internal/session"
	"github.com/whatsgate/whatsgate/internal/wa"
)

// defaultHistoryLimit bounds GET /api/chats/{id}/messages when no limit
// query parameter is given.
const defaultHistoryLimit = 50

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Phase    string       `json:"phase"`
	HasQR    bool         `json:"has_qr"`
	Identity *wa.Identity `json:"identity"`
	Uptime   string       `json:"uptime"`
}

// QRResponse is the JSON response for GET /api/qr. QR is base64 of the raw
// payload as delivered by the client.
type QRResponse struct {
	QR string `json:"qr"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Body   string `json:"body"`
}

// SendMediaRequest is the JSON request body for POST /api/messages/media.
// Data carries the attachment base64-encoded.
type SendMediaRequest struct {
	ChatID   string `json:"chat_id"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// TypingRequest is the JSON request body for POST /api/chats/{id}/typing.
// An empty body means start typing.
type TypingRequest struct {
	Typing *bool `json:"typing"`
}

// CreateGroupRequest is the JSON request body for POST /api/groups.
type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

// ParticipantsRequest is the JSON request body for group participant
// operations.
type ParticipantsRequest struct {
	Participants []string `json:"participants"`
}

// handleStatus handles GET /api/status.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := g.machine.CurrentStatus()
	snap := g.stats.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Phase:    status.Phase.String(),
		HasQR:    status.HasQR(),
		Identity: status.Identity,
		Uptime:   snap.Uptime().Truncate(1e9).String(),
	})
}

// handleQR handles GET /api/qr. Answers 404 unless a QR payload is pending.
func (g *Gateway) handleQR(w http.ResponseWriter, r *http.Request) {
	status := g.machine.CurrentStatus()
	if !status.HasQR() {
		writeError(w, http.StatusNotFound, "qr not available")
		return
	}
	writeJSON(w, http.StatusOK, QRResponse{
		QR: base64.StdEncoding.EncodeToString([]byte(status.QR)),
	})
}

// handleStats handles GET /api/stats.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.stats.Snapshot())
}

// handleSessionStart handles POST /api/session/start. Idempotent: a start
// request while a launch is in flight or the session is live is absorbed.
func (g *Gateway) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	g.machine.RequestStart()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "starting",
		"phase":  g.machine.CurrentStatus().Phase.String(),
	})
}

// handleSessionRestart handles POST /api/session/restart.
func (g *Gateway) handleSessionRestart(w http.ResponseWriter, r *http.Request) {
	g.machine.RequestRestart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

// handleSessionLogout handles POST /api/session/logout. Only a ready
// session can log out; anything else answers 412.
func (g *Gateway) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if err := g.machine.RequestLogout(); err != nil {
		if errors.Is(err, session.ErrNotReady) {
			writeError(w, http.StatusPreconditionFailed, "not_ready")
			return
		}
		g.logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleSendMessage handles POST /api/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request, client wa.Client) {
	var req SendMessageRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChatID == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "chat_id and body are required")
		return
	}

	msg, err := client.SendText(r.Context(), req.ChatID, req.Body)
	if err != nil {
		g.stats.Error()
		g.logger.Error("send failed", "chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusBadGateway, "send failed")
		return
	}

	g.stats.MessageSent()
	writeJSON(w, http.StatusCreated, msg)
}

// handleSendMedia handles POST /api/messages/media.
func (g *Gateway) handleSendMedia(w http.ResponseWriter, r *http.Request, client wa.Client) {
	var req SendMediaRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChatID == "" || req.Data == "" {
		writeError(w, http.StatusBadRequest, "chat_id and data are required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "data must be base64")
		return
	}

	media := wa.Media{
		Filename: req.Filename,
		MimeType: req.MimeType,
		Data:     data,
	}
	msg, err := client.SendMedia(r.Context(), req.ChatID, media, req.Caption)
	if err != nil {
		g.stats.Error()
		g.logger.Error("media send failed", "chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusBadGateway, "send failed")
		return
	}

	g.stats.MessageSent()
	writeJSON(w, http.StatusCreated, msg)
}

// handleListChats handles GET /api/chats.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request, client wa.Client) {
	chats, err := client.Chats(r.Context())
	if err != nil {
		g.logger.Error("listing chats failed", "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// handleChatMessages handles GET /api/chats/{id}/messages with an optional
// ?limit= query parameter.
func (g *Gateway) handleChatMessages(w http.ResponseWriter, r *http.Request, client wa.Client) {
	chatID := r.PathValue("id")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := client.ChatMessages(r.Context(), chatID, limit)
	if err != nil {
		g.logger.Error("fetching chat history failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id":  chatID,
		"messages": messages,
	})
}

// handleTyping handles POST /api/chats/{id}/typing.
func (g *Gateway) handleTyping(w http.ResponseWriter, r *http.Request, client wa.Client) {
	chatID := r.PathValue("id")

	typing := true
	var req TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Typing != nil {
		typing = *req.Typing
	}

	if err := client.SetTyping(r.Context(), chatID, typing); err != nil {
		g.logger.Error("typing update failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMarkRead handles POST /api/chats/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request, client wa.Client) {
	chatID := r.PathValue("id")
	if err := client.MarkRead(r.Context(), chatID); err != nil {
		g.logger.Error("mark read failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListContacts handles GET /api/contacts.
func (g *Gateway) handleListContacts(w http.ResponseWriter, r *http.Request, client wa.Client) {
	contacts, err := client.Contacts(r.Context())
	if err != nil {
		g.logger.Error("listing contacts failed", "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

// handleCreateGroup handles POST /api/groups.
func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request, client wa.Client) {
	var req CreateGroupRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || len(req.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "name and participants are required")
		return
	}

	group, err := client.CreateGroup(r.Context(), req.Name, req.Participants)
	if err != nil {
		g.logger.Error("group creation failed", "name", req.Name, "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// handleAddParticipants handles POST /api/groups/{id}/participants.
func (g *Gateway) handleAddParticipants(w http.ResponseWriter, r *http.Request, client wa.Client) {
	g.mutateParticipants(w, r, client.AddParticipants)
}

// handleRemoveParticipants handles DELETE /api/groups/{id}/participants.
func (g *Gateway) handleRemoveParticipants(w http.ResponseWriter, r *http.Request, client wa.Client) {
	g.mutateParticipants(w, r, client.RemoveParticipants)
}

func (g *Gateway) mutateParticipants(w http.ResponseWriter, r *http.Request, op func(context.Context, string, []string) error) {
	groupID := r.PathValue("id")

	var req ParticipantsRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "participants are required")
		return
	}

	if err := op(r.Context(), groupID, req.Participants); err != nil {
		g.logger.Error("participant update failed", "group_id", groupID, "error", err)
		writeError(w, http.StatusBadGateway, "client error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON request body into dst with a uniform error.
func decodeBody(r io.Reader, dst any) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
