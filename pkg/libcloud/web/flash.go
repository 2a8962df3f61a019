package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookie = "flash"

// Flash levels, matching the CSS classes of the layout.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Flash is a one-time message shown on the next rendered page.
type Flash struct {
	Level string `json:"l"`
	Text  string `json:"t"`
}

func readFlashes(r *http.Request) ([]Flash, bool) {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, true
	}
	var flashes []Flash
	if err := json.Unmarshal(raw, &flashes); err != nil {
		return nil, true
	}
	return flashes, true
}

func (s *Server) writeFlashes(w http.ResponseWriter, flashes []Flash) {
	c := &http.Cookie{
		Name:     flashCookie,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if len(flashes) == 0 {
		c.MaxAge = -1
	} else {
		raw, _ := json.Marshal(flashes)
		c.Value = base64.RawURLEncoding.EncodeToString(raw)
	}
	http.SetCookie(w, c)
}

// flash queues a message for the next rendered page.
func (s *Server) flash(r *http.Request, level, text string) {
	sess := sessionFrom(r.Context())
	sess.flashes = append(sess.flashes, Flash{Level: level, Text: text})
}

// redirect sends the client to target, carrying pending flashes in a cookie.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, target string) {
	sess := sessionFrom(r.Context())
	if len(sess.flashes) > 0 || sess.hadFlash {
		s.writeFlashes(w, sess.flashes)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
