package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beamchat/link-server-go/internal/model"
	"github.com/beamchat/link-server-go/internal/repository"
	"github.com/beamchat/link-server-go/internal/util"
)

// SessionCookie holds the opaque persistent session token. HttpOnly: the
// token never crosses into script-accessible storage.
const SessionCookie = "sid"

type contextKey string

const (
	UserContextKey        contextKey = "user"
	SessionContextKey     contextKey = "session"
	SessionHashContextKey contextKey = "sessionHash"
)

func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

func GetSession(ctx context.Context) *model.AppSession {
	if session, ok := ctx.Value(SessionContextKey).(*model.AppSession); ok {
		return session
	}
	return nil
}

// GetSessionHash returns the token hash of the caller's persistent session,
// used by logout to revoke exactly the presenting session.
func GetSessionHash(ctx context.Context) string {
	if hash, ok := ctx.Value(SessionHashContextKey).(string); ok {
		return hash
	}
	return ""
}

// SessionMiddleware authenticates requests against the persistent session
// store. Endpoints behind it serve already-linked devices only; the pairing
// surface stays outside it by design.
type SessionMiddleware struct {
	sessionRepo repository.AppSessionRepository
	userRepo    repository.UserRepository
	sessionTTL  time.Duration
	secret      string
}

func NewSessionMiddleware(
	sessionRepo repository.AppSessionRepository,
	userRepo repository.UserRepository,
	sessionTTL time.Duration,
	secret string,
) *SessionMiddleware {
	return &SessionMiddleware{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		sessionTTL:  sessionTTL,
		secret:      secret,
	}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		tokenHash := util.HashToken(m.secret, cookie.Value)
		session, err := m.sessionRepo.Find(r.Context(), tokenHash)
		if err != nil {
			log.Error().Err(err).Msg("session middleware: store error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Session validation failed",
			})
			return
		}

		if session == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		user, err := m.userRepo.FindByID(r.Context(), session.UserID)
		if err != nil || user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		// Sliding expiry; failures only shorten the session's life.
		if err := m.sessionRepo.Touch(r.Context(), tokenHash, m.sessionTTL); err != nil {
			log.Warn().Err(err).Msg("session middleware: ttl refresh failed")
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, UserContextKey, user)
		ctx = context.WithValue(ctx, SessionContextKey, session)
		ctx = context.WithValue(ctx, SessionHashContextKey, tokenHash)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SetSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
