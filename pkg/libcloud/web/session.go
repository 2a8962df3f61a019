package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/tendant/libcloud/pkg/libcloud"
)

type contextKey int

const sessionKey contextKey = iota

// sessionCookie is the cookie jwtauth.TokenFromCookie reads.
const sessionCookie = "jwt"

// session is the per-request state: the logged in user and pending flashes.
type session struct {
	user     *libcloud.User
	flashes  []Flash
	hadFlash bool
}

func sessionFrom(ctx context.Context) *session {
	if sess, ok := ctx.Value(sessionKey).(*session); ok {
		return sess
	}
	return &session{}
}

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(ctx context.Context) *libcloud.User {
	return sessionFrom(ctx).user
}

// loadSession resolves the verified session token to a user and reads
// pending flash messages.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := &session{}
		sess.flashes, sess.hadFlash = readFlashes(r)

		token, claims, err := jwtauth.FromContext(ctx)
		if err == nil && token != nil {
			if sub, ok := claims["sub"].(string); ok {
				if id, err := uuid.Parse(sub); err == nil {
					user, err := s.service.GetUser(ctx, id)
					switch {
					case err == nil:
						sess.user = user
					case !errors.Is(err, libcloud.ErrNotFound):
						s.logger.ErrorContext(ctx, "failed to load session user", "user_id", id, "error", err)
					}
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, sess)))
	})
}

// requireLogin redirects anonymous requests to the login page.
func (s *Server) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r.Context()) == nil {
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// startSession issues a signed session token for user.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *libcloud.User) error {
	claims := map[string]interface{}{"sub": user.ID.String()}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, s.config.SessionTTL)

	_, token, err := s.auth.Encode(claims)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	sessionFrom(r.Context()).user = user
	return nil
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	sessionFrom(r.Context()).user = nil
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
