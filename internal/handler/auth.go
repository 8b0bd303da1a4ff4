package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/beamchat/link-server-go/internal/errors"
	"github.com/beamchat/link-server-go/internal/middleware"
	"github.com/beamchat/link-server-go/internal/service"
)

// AuthHandler serves the authenticated session surface. Establishing the
// first session (the passkey ceremony) lives in the credential service;
// here we only read, refresh and revoke.
type AuthHandler struct {
	sessionService *service.SessionService
	requireSession func(http.Handler) http.Handler
}

func NewAuthHandler(sessionService *service.SessionService, requireSession func(http.Handler) http.Handler) *AuthHandler {
	return &AuthHandler{
		sessionService: sessionService,
		requireSession: requireSession,
	}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(h.requireSession)
	r.Get("/me", h.Me)
	r.Post("/logout", h.Logout)

	return r
}

// GET /v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	session := middleware.GetSession(r.Context())
	if user == nil || session == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": user,
		"session": map[string]any{
			"device":    session.Device,
			"createdAt": time.UnixMilli(session.CreatedAt).UTC().Format(time.RFC3339),
			"lastSeen":  time.UnixMilli(session.LastSeen).UTC().Format(time.RFC3339),
		},
	})
}

// POST /v1/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tokenHash := middleware.GetSessionHash(r.Context())
	if tokenHash == "" {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	if err := h.sessionService.Logout(r.Context(), tokenHash); err != nil {
		log.Error().Err(err).Msg("logout failed")
		writeError(w, err)
		return
	}

	middleware.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
