package web

import (
	"errors"
	"net/http"

	"github.com/tendant/libcloud/pkg/libcloud"
)

// Home shows the landing page; logged in users see their recent content
// and libraries.
func (s *Server) Home(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	p := page{Title: "Home"}
	if user != nil {
		summary, err := s.service.Home(r.Context(), user.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		p.Data = summary
	}
	s.render(w, r, http.StatusOK, "home", p)
}

// RegisterForm shows the registration form
func (s *Server) RegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", page{Title: "Register"})
}

// Register creates an account and logs it in
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f registerForm
	if err := decodeForm(r, &f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.service.Register(r.Context(), libcloud.RegisterRequest{
		Username:  f.Username,
		Email:     f.Email,
		Password1: f.Password1,
		Password2: f.Password2,
	})
	if err != nil {
		verr, ok := asValidation(err)
		if !ok {
			s.fail(w, r, err)
			return
		}
		s.flash(r, LevelError, "Unsuccessful registration. Invalid information.")
		form := r.PostForm
		form.Del("password1")
		form.Del("password2")
		s.render(w, r, http.StatusBadRequest, "register", page{Title: "Register", Errors: verr, Form: form})
		return
	}

	if err := s.startSession(w, r, user); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash(r, LevelSuccess, "Registration successful.")
	s.redirect(w, r, "/")
}

// LoginForm shows the login form
func (s *Server) LoginForm(w http.ResponseWriter, r *http.Request) {
	form := make(map[string][]string)
	if next := r.URL.Query().Get("next"); next != "" {
		form["next"] = []string{next}
	}
	s.render(w, r, http.StatusOK, "login", page{Title: "Log in", Form: form})
}

// Login authenticates the submitted credentials
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f loginForm
	if err := decodeForm(r, &f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.service.Authenticate(r.Context(), f.Username, f.Password)
	if err != nil {
		if !errors.Is(err, libcloud.ErrInvalidCredentials) {
			s.fail(w, r, err)
			return
		}
		s.flash(r, LevelError, "Invalid username or password.")
		form := r.PostForm
		form.Del("password")
		s.render(w, r, http.StatusUnauthorized, "login", page{Title: "Log in", Form: form})
		return
	}

	if err := s.startSession(w, r, user); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash(r, LevelInfo, "You are now logged in as "+user.Username+".")
	s.redirect(w, r, safeNext(f.Next))
}

// Logout ends the session
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r)
	s.flash(r, LevelInfo, "You have successfully logged out.")
	s.redirect(w, r, "/")
}
