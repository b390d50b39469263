package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/middleware"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/whatsapp"
)

// Gateway is the session-lifecycle slice of the gateway core.
type Gateway interface {
	Create(ctx context.Context, userID, accountID string, usePairingCode bool) (*whatsapp.CreateResult, error)
	Destroy(ctx context.Context, userID, accountID string) error
	StatusForUser(ctx context.Context, userID string) ([]whatsapp.SessionStatus, error)
	SetWebhookURL(ctx context.Context, userID, accountID string, url *string) error
	RequestArtifact(userID, accountID string, mode model.PairingMode) error
}

type SessionHandler struct {
	core Gateway
}

func NewSessionHandler(core Gateway) *SessionHandler {
	return &SessionHandler{core: core}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Delete("/{accountId}", h.Destroy)
	r.Put("/{accountId}/webhook", h.SetWebhook)
	r.Post("/{accountId}/pairing", h.RequestPairing)

	return r
}

type createSessionRequest struct {
	AccountID      string `json:"accountId"`
	UsePairingCode bool   `json:"usePairingCode"`
}

// POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, apperrors.MissingRequired("accountId"))
		return
	}

	result, err := h.core.Create(r.Context(), user.UserID, req.AccountID, req.UsePairingCode)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().
		Str("userId", user.UserID).
		Str("accountId", result.AccountID).
		Bool("alreadyActive", result.AlreadyActive).
		Msg("session create requested")

	status := http.StatusCreated
	if result.AlreadyActive {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	statuses, err := h.core.StatusForUser(r.Context(), user.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": statuses})
}

// DELETE /api/sessions/{accountId}
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	accountID := chi.URLParam(r, "accountId")

	if err := h.core.Destroy(r.Context(), user.UserID, accountID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

type webhookRequest struct {
	WebhookURL *string `json:"webhookUrl"`
}

// PUT /api/sessions/{accountId}/webhook
func (h *SessionHandler) SetWebhook(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.core.SetWebhookURL(r.Context(), user.UserID, accountID, req.WebhookURL); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"webhookUrl": req.WebhookURL})
}

type pairingRequest struct {
	Mode model.PairingMode `json:"mode"`
}

// POST /api/sessions/{accountId}/pairing
func (h *SessionHandler) RequestPairing(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req pairingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = model.PairingModeQR
	}
	if mode != model.PairingModeQR && mode != model.PairingModeCode {
		writeError(w, apperrors.InvalidInput("mode", "must be QR or CODE"))
		return
	}

	if err := h.core.RequestArtifact(user.UserID, accountID, mode); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}
