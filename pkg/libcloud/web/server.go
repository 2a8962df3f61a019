// Package web serves the HTML interface of the content catalogue.
package web

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/libcloud/pkg/libcloud"
)

// Config holds the web layer settings
type Config struct {
	SessionSecret  string
	SessionTTL     time.Duration
	MaxUploadBytes int64
	SecureCookies  bool
	RequestTimeout time.Duration
}

// Server handles HTTP requests for the catalogue
type Server struct {
	service   libcloud.Service
	logger    *slog.Logger
	auth      *jwtauth.JWTAuth
	config    Config
	templates *templates
}

// NewServer creates the web server. An empty session secret is replaced by a
// random one, which invalidates sessions on restart.
func NewServer(service libcloud.Service, config Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 14 * 24 * time.Hour
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}

	secret := []byte(config.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		logger.Warn("no session secret configured, using a random one")
	}

	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}

	return &Server{
		service:   service,
		logger:    logger.With("component", "web"),
		auth:      jwtauth.New("HS256", secret, nil),
		config:    config,
		templates: tmpl,
	}, nil
}

// Routes returns the application router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "OK")
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(s.auth))
		r.Use(s.loadSession)

		r.Get("/", s.Home)
		r.Get("/register", s.RegisterForm)
		r.Post("/register", s.Register)
		r.Get("/login", s.LoginForm)
		r.Post("/login", s.Login)
		r.Get("/logout", s.Logout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireLogin)

			r.Get("/attachment-types", s.AttachmentTypes)
			r.Post("/attachment-types", s.CreateAttachmentType)

			r.Get("/content-types", s.ContentTypes)
			r.Get("/content-types/new", s.ContentTypeForm)
			r.Post("/content-types/new", s.CreateContentType)
			r.Get("/content-types/{id}", s.ContentTypeDetail)

			r.Get("/libraries", s.Libraries)
			r.Get("/libraries/new", s.LibraryForm)
			r.Post("/libraries/new", s.CreateLibrary)
			r.Get("/libraries/{id}", s.LibraryDetail)

			r.Get("/content", s.ContentList)
			r.Get("/content/new", s.PickContentType)
			r.Get("/content/new/{contentTypeID}", s.ContentForm)
			r.Post("/content/new/{contentTypeID}", s.CreateContent)
			r.Get("/content/{id}", s.ContentDetail)
			r.Get("/content/{id}/library", s.LibraryReassignForm)
			r.Post("/content/{id}/library", s.ReassignLibrary)
			r.Get("/content/{id}/attachments/new", s.AttachmentForm)
			r.Post("/content/{id}/attachments/new", s.CreateAttachment)

			// every method lands on the redirect except GET
			r.HandleFunc("/media/{userPrefix}/{filename}", s.redirectToDownload)
			r.Get("/media/{userPrefix}/{filename}", s.Download)
		})
	})

	return r
}
