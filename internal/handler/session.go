package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "session_id"

type sessionKey struct{}

// SessionID returns the session bound to the request context.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// sessions binds every request to a session, issuing a fresh cookie when the
// client has none or presents a malformed one.
func (h *Handler) sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(h.cfg.CookieName); err == nil && uuid.Validate(c.Value) == nil {
			id = c.Value
		} else {
			id = uuid.NewString()
		}

		// Refresh on every request so the cookie outlives an active cart.
		http.SetCookie(w, &http.Cookie{
			Name:     h.cfg.CookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(h.cfg.CookieTTL.Seconds()),
			HttpOnly: true,
			Secure:   h.cfg.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := context.WithValue(r.Context(), sessionKey{}, id)
		ctx = zctx.With(ctx, zap.String("session_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
