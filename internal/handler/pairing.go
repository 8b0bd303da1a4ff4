package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/beamchat/link-server-go/internal/errors"
	"github.com/beamchat/link-server-go/internal/middleware"
	"github.com/beamchat/link-server-go/internal/model"
	"github.com/beamchat/link-server-go/internal/service"
)

type PairingHandler struct {
	pairingService *service.PairingService
	sessionService *service.SessionService
	requireSession func(http.Handler) http.Handler
	rateLimit      func(http.Handler) http.Handler
	isProduction   bool
}

func NewPairingHandler(
	pairingService *service.PairingService,
	sessionService *service.SessionService,
	requireSession func(http.Handler) http.Handler,
	rateLimit func(http.Handler) http.Handler,
	isProduction bool,
) *PairingHandler {
	return &PairingHandler{
		pairingService: pairingService,
		sessionService: sessionService,
		requireSession: requireSession,
		rateLimit:      rateLimit,
		isProduction:   isProduction,
	}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Initiator side: no session exists yet, so these stay unauthenticated.
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/", h.Create)
		r.Post("/exchange", h.Exchange)
	})
	r.Get("/{sessionID}/status", h.Status)

	// Approver side: the caller proves "I am user U" with their own
	// persistent session before they may approve anything.
	r.Group(func(r chi.Router) {
		r.Use(h.requireSession)
		r.Post("/validate", h.Validate)
	})

	return r
}

// POST /v1/pair
func (h *PairingHandler) Create(w http.ResponseWriter, r *http.Request) {
	result, err := h.pairingService.Create(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to create pairing session")
		writeError(w, apperrors.Internal("Failed to create pairing session"))
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/pair/{sessionID}/status
func (h *PairingHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionID"))
		return
	}

	result, err := h.pairingService.Status(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type validateRequest struct {
	SessionID string           `json:"sessionId"`
	Challenge string           `json:"challenge"`
	Device    model.DeviceInfo `json:"deviceInfo"`
}

// POST /v1/pair/validate
func (h *PairingHandler) Validate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.SessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}
	if req.Challenge == "" {
		writeError(w, apperrors.MissingRequired("challenge"))
		return
	}

	if err := h.pairingService.Approve(r.Context(), req.SessionID, req.Challenge, user.ID, req.Device); err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok &&
			(appErr.Code == apperrors.ErrCodeStore || appErr.Code == apperrors.ErrCodeInternal) {
			log.Error().Err(err).Str("sessionId", req.SessionID).Msg("approve failed")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type exchangeRequest struct {
	SessionID string `json:"sessionId"`
	AuthCode  string `json:"authCode"`
}

// POST /v1/pair/exchange
func (h *PairingHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.SessionID == "" || req.AuthCode == "" {
		writeError(w, apperrors.MissingRequired("sessionId and authCode"))
		return
	}

	result, err := h.sessionService.Exchange(r.Context(), req.SessionID, req.AuthCode)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code != apperrors.ErrCodeCodeGone {
			log.Error().Err(err).Str("sessionId", req.SessionID).Msg("exchange failed")
		}
		writeError(w, err)
		return
	}

	middleware.SetSessionCookie(w, result.Token, result.TTL, h.isProduction)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"userId": result.UserID,
	})
}
