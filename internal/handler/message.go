package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/middleware"
)

// Relay is the outbound-message slice of the gateway core. Callers are
// authenticated per account by the session token middleware.
type Relay interface {
	SendText(ctx context.Context, userID, accountID, target, body string) (string, error)
	SendMedia(ctx context.Context, userID, accountID, target, mediaURL, caption string) (string, error)
}

type MessageHandler struct {
	relay Relay
}

func NewMessageHandler(relay Relay) *MessageHandler {
	return &MessageHandler{relay: relay}
}

func (h *MessageHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/text", h.SendText)
	r.Post("/media", h.SendMedia)

	return r
}

type sendTextRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendMediaRequest struct {
	To       string `json:"to"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

// POST /api/messages/text
func (h *MessageHandler) SendText(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetSessionClaims(r.Context())

	var req sendTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, apperrors.MissingRequired("to"))
		return
	}
	if req.Message == "" {
		writeError(w, apperrors.MissingRequired("message"))
		return
	}

	messageID, err := h.relay.SendText(r.Context(), claims.UserID, claims.AccountID, req.To, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().
		Str("accountId", claims.AccountID).
		Str("messageId", messageID).
		Msg("text message relayed")

	writeJSON(w, http.StatusOK, sendResponse{MessageID: messageID, To: req.To})
}

// POST /api/messages/media
func (h *MessageHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetSessionClaims(r.Context())

	var req sendMediaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, apperrors.MissingRequired("to"))
		return
	}

	messageID, err := h.relay.SendMedia(r.Context(), claims.UserID, claims.AccountID, req.To, req.MediaURL, req.Caption)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().
		Str("accountId", claims.AccountID).
		Str("messageId", messageID).
		Msg("media message relayed")

	writeJSON(w, http.StatusOK, sendResponse{MessageID: messageID, To: req.To})
}
