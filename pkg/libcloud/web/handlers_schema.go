package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/libcloud/pkg/libcloud"
)

const (
	defaultFeatureRows = 5
	attachmentRows     = 3
)

// AttachmentTypes lists the user's attachment types next to the create form
func (s *Server) AttachmentTypes(w http.ResponseWriter, r *http.Request) {
	s.renderAttachmentTypes(w, r, http.StatusOK, nil, nil)
}

func (s *Server) renderAttachmentTypes(w http.ResponseWriter, r *http.Request, status int, verr *libcloud.ValidationError, form map[string][]string) {
	user := CurrentUser(r.Context())
	types, err := s.service.ListAttachmentTypes(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, status, "attachment_types", page{Title: "Attachment types", Errors: verr, Form: form, Data: types})
}

// CreateAttachmentType handles the attachment type form
func (s *Server) CreateAttachmentType(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f nameForm
	if err := decodeForm(r, &f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := CurrentUser(r.Context())
	at, err := s.service.CreateAttachmentType(r.Context(), user.ID, f.Name)
	if err != nil {
		if verr, ok := asValidation(err); ok {
			s.renderAttachmentTypes(w, r, http.StatusBadRequest, verr, r.PostForm)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.flash(r, LevelSuccess, "attachment type "+at.Name+" has been created")
	s.redirect(w, r, "/attachment-types")
}

// ContentTypes lists the user's content types
func (s *Server) ContentTypes(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	types, err := s.service.ListContentTypes(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "content_types", page{Title: "Content types", Data: types})
}

// contentTypeFormData feeds the content type form
type contentTypeFormData struct {
	AttachmentTypes []*libcloud.AttachmentType
	Rows            int
}

// featureRows reads the number of feature rows to show from the rows
// parameter, bounded by MaxFeatureRows.
func featureRows(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultFeatureRows
	}
	if n > libcloud.MaxFeatureRows {
		return libcloud.MaxFeatureRows
	}
	return n
}

// ContentTypeForm shows the content type form
func (s *Server) ContentTypeForm(w http.ResponseWriter, r *http.Request) {
	s.renderContentTypeForm(w, r, http.StatusOK, featureRows(r.URL.Query().Get("rows")), nil, nil)
}

func (s *Server) renderContentTypeForm(w http.ResponseWriter, r *http.Request, status, rows int, verr *libcloud.ValidationError, form map[string][]string) {
	user := CurrentUser(r.Context())
	types, err := s.service.ListAttachmentTypes(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, status, "content_type_form", page{
		Title:  "New content type",
		Errors: verr,
		Form:   form,
		Data:   contentTypeFormData{AttachmentTypes: types, Rows: rows},
	})
}

// CreateContentType creates a content type with its feature rows
func (s *Server) CreateContentType(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f contentTypeForm
	if err := decodeForm(r, &f, featureRowList); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := CurrentUser(r.Context())
	req := libcloud.CreateContentTypeRequest{
		OwnerID: user.ID,
		Name:    f.Name,
	}
	for _, id := range r.PostForm[libcloud.FieldAttachmentList] {
		req.AttachmentTypeIDs = append(req.AttachmentTypeIDs, parseID(id))
	}
	for _, row := range f.Features {
		req.Features = append(req.Features, libcloud.FeatureDeclaration{
			Name:     row.Name,
			Type:     row.Type,
			Required: row.Required,
		})
	}

	ct, err := s.service.CreateContentType(r.Context(), req)
	if err != nil {
		if verr, ok := asValidation(err); ok {
			rows := featureRows(r.PostForm.Get("rows"))
			if len(f.Features) > rows {
				rows = len(f.Features)
			}
			s.renderContentTypeForm(w, r, http.StatusBadRequest, rows, verr, r.PostForm)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.flash(r, LevelSuccess, "content type "+ct.Name+" has been created")
	s.redirect(w, r, "/content-types/"+ct.ID.String())
}

// ContentTypeDetail shows a content type with its features
func (s *Server) ContentTypeDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, r)
		return
	}
	user := CurrentUser(r.Context())
	details, err := s.service.GetContentType(r.Context(), user.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "content_type_detail", page{Title: details.ContentType.Name, Data: details})
}

// Libraries lists the user's libraries with their content counts
func (s *Server) Libraries(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	libs, err := s.service.ListLibraries(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "libraries", page{Title: "Libraries", Data: libs})
}

// LibraryForm shows the library form
func (s *Server) LibraryForm(w http.ResponseWriter, r *http.Request) {
	s.renderLibraryForm(w, r, http.StatusOK, nil, nil)
}

func (s *Server) renderLibraryForm(w http.ResponseWriter, r *http.Request, status int, verr *libcloud.ValidationError, form map[string][]string) {
	user := CurrentUser(r.Context())
	types, err := s.service.ListContentTypes(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, status, "library_form", page{Title: "New library", Errors: verr, Form: form, Data: types})
}

// CreateLibrary handles the library form
func (s *Server) CreateLibrary(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f libraryForm
	if err := decodeForm(r, &f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := CurrentUser(r.Context())
	lib, err := s.service.CreateLibrary(r.Context(), libcloud.CreateLibraryRequest{
		OwnerID:       user.ID,
		Name:          f.Name,
		ContentTypeID: parseID(f.ContentType),
	})
	if err != nil {
		if verr, ok := asValidation(err); ok {
			s.renderLibraryForm(w, r, http.StatusBadRequest, verr, r.PostForm)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.flash(r, LevelSuccess, "library "+lib.Name+" has been created")
	s.redirect(w, r, "/libraries/"+lib.ID.String())
}

// LibraryDetail shows a library and its content
func (s *Server) LibraryDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, r)
		return
	}
	user := CurrentUser(r.Context())
	details, err := s.service.GetLibrary(r.Context(), user.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "library_detail", page{Title: details.Library.Name, Data: details})
}
