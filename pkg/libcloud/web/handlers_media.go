package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/libcloud/pkg/libcloud"
)

// Download streams a stored file of the current user as an attachment.
// A missing file is reported with a flash message on the home page.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "userPrefix")
	filename := chi.URLParam(r, "filename")

	rc, meta, err := s.service.OpenFile(r.Context(), CurrentUser(r.Context()), namespace, filename)
	if err != nil {
		if errors.Is(err, libcloud.ErrFileNotFound) {
			s.flash(r, LevelError, filename+" doesn't exist.")
			s.redirect(w, r, "/")
			return
		}
		s.fail(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = meta.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		s.logger.WarnContext(r.Context(), "download interrupted", "key", meta.Key, "error", err)
	}
}

// redirectToDownload sends non-GET requests for a file to its download URL.
func (s *Server) redirectToDownload(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, r.URL.Path, http.StatusFound)
}
