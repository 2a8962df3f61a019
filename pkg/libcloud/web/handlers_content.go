package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/libcloud/pkg/libcloud"
)

// ContentList lists the user's content
func (s *Server) ContentList(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	contents, err := s.service.ListContent(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "content_list", page{Title: "Content", Data: contents})
}

// PickContentType asks which content type the new content has
func (s *Server) PickContentType(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	types, err := s.service.ListContentTypes(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "content_pick_type", page{Title: "New content", Data: types})
}

// contentFormData feeds the dynamic content form
type contentFormData struct {
	ContentType *libcloud.ContentTypeDetails
	Libraries   []*libcloud.Library
	Rows        int
}

// ContentForm shows the form generated from a content type
func (s *Server) ContentForm(w http.ResponseWriter, r *http.Request) {
	s.renderContentForm(w, r, http.StatusOK, nil, nil)
}

func (s *Server) renderContentForm(w http.ResponseWriter, r *http.Request, status int, verr *libcloud.ValidationError, form map[string][]string) {
	id, err := uuid.Parse(chi.URLParam(r, "contentTypeID"))
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
	libs, err := s.service.LibraryChoices(r.Context(), user.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rows := 0
	if len(details.AttachmentTypes) > 0 {
		rows = attachmentRows
	}
	s.render(w, r, status, "content_form", page{
		Title:  "New " + details.ContentType.Name,
		Errors: verr,
		Form:   form,
		Data:   contentFormData{ContentType: details, Libraries: libs, Rows: rows},
	})
}

// CreateContent handles the dynamic content form
func (s *Server) CreateContent(w http.ResponseWriter, r *http.Request) {
	contentTypeID, err := uuid.Parse(chi.URLParam(r, "contentTypeID"))
	if err != nil {
		s.notFound(w, r)
		return
	}
	if err := s.parseMultipart(w, r); err != nil {
		s.badUpload(w, r, err)
		return
	}
	files := &uploads{r: r}
	defer files.close()

	var f contentForm
	if err := decodeForm(r, &f, attachmentRowList); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := CurrentUser(r.Context())
	req := libcloud.CreateContentRequest{
		CreatorID:     user.ID,
		ContentTypeID: contentTypeID,
		LibraryID:     optionalID(f.Library),
		Features:      make(map[uuid.UUID]string, len(f.Features)),
	}
	for key, value := range f.Features {
		req.Features[parseID(key)] = value
	}
	if req.File, err = files.get(libcloud.FieldFile); err != nil {
		s.fail(w, r, err)
		return
	}
	for i, row := range f.Attachments {
		a := libcloud.AttachmentUpload{TypeID: parseID(row.Type)}
		if a.File, err = files.get(libcloud.AttachmentField(i) + "." + libcloud.FieldFile); err != nil {
			s.fail(w, r, err)
			return
		}
		req.Attachments = append(req.Attachments, a)
	}

	content, err := s.service.CreateContent(r.Context(), req)
	if err != nil {
		if verr, ok := asValidation(err); ok {
			s.renderContentForm(w, r, http.StatusBadRequest, verr, r.PostForm)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.flash(r, LevelSuccess, "content has been created.")
	s.redirect(w, r, "/content/"+content.ID.String())
}

// ContentDetail shows content with its features and attachments
func (s *Server) ContentDetail(w http.ResponseWriter, r *http.Request) {
	details, ok := s.contentDetails(w, r)
	if !ok {
		return
	}
	s.render(w, r, http.StatusOK, "content_detail", page{Title: details.Content.Filename(), Data: details})
}

// contentDetails loads the content named by the id URL parameter, writing
// the error response itself when that fails.
func (s *Server) contentDetails(w http.ResponseWriter, r *http.Request) (*libcloud.ContentDetails, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, r)
		return nil, false
	}
	user := CurrentUser(r.Context())
	details, err := s.service.GetContent(r.Context(), user.ID, id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return details, true
}

// reassignFormData feeds the library reassignment form
type reassignFormData struct {
	Content   *libcloud.ContentDetails
	Libraries []*libcloud.Library
}

// LibraryReassignForm shows the library reassignment form
func (s *Server) LibraryReassignForm(w http.ResponseWriter, r *http.Request) {
	details, ok := s.contentDetails(w, r)
	if !ok {
		return
	}
	form := make(map[string][]string)
	if details.Content.LibraryID != nil {
		form[libcloud.FieldLibrary] = []string{details.Content.LibraryID.String()}
	}
	s.renderReassignForm(w, r, http.StatusOK, details, nil, form)
}

func (s *Server) renderReassignForm(w http.ResponseWriter, r *http.Request, status int, details *libcloud.ContentDetails, verr *libcloud.ValidationError, form map[string][]string) {
	libs, err := s.service.LibraryChoices(r.Context(), details.Content.CreatorID, details.Content.ContentTypeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, status, "content_library_form", page{
		Title:  "Move " + details.Content.Filename(),
		Errors: verr,
		Form:   form,
		Data:   reassignFormData{Content: details, Libraries: libs},
	})
}

// ReassignLibrary moves content into another library
func (s *Server) ReassignLibrary(w http.ResponseWriter, r *http.Request) {
	details, ok := s.contentDetails(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var f reassignForm
	if err := decodeForm(r, &f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := CurrentUser(r.Context())
	content, err := s.service.ReassignLibrary(r.Context(), libcloud.ReassignLibraryRequest{
		UserID:    user.ID,
		ContentID: details.Content.ID,
		LibraryID: optionalID(strings.TrimSpace(f.Library)),
	})
	if err != nil {
		if verr, ok := asValidation(err); ok {
			s.renderReassignForm(w, r, http.StatusBadRequest, details, verr, r.PostForm)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.flash(r, LevelSuccess, "library has been updated.")
	s.redirect(w, r, "/content/"+content.ID.String())
}

// attachmentFormData feeds the attachment form
type attachmentFormData struct {
	Content         *libcloud.ContentDetails
	AttachmentTypes []*libcloud.AttachmentType
}

// AttachmentForm shows the form adding one attachment
func (s *Server) AttachmentForm(w http.ResponseWriter, r *http.Request) {
	details, ok := s.contentDetails(w, r)
	if !ok {
		return
	}
	s.renderAttachmentForm(w, r, http.StatusOK, details, nil, nil)
}

func (s *Server) renderAttachmentForm(w http.ResponseWriter, r *http.Request, status int, details *libcloud.ContentDetails, verr *libcloud.ValidationError, form map[string][]string) {
	ct, err := s.service.GetContentType(r.Context(), details.Content.CreatorID, details.Content.ContentTypeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, status, "attachment_form", page{
		Title:  "Attach to " + details.Content.Filename(),
		Errors: verr,
		Form:   form,
		Data:   attachmentFormData{Content: details, AttachmentTypes: ct.AttachmentTypes},
	})
}

// CreateAttachment adds an attachment to content
func (s *Server) CreateAttachment(w http.ResponseWriter, r *http.Request) {
	details, ok := s.contentDetails(w, r)
	if !ok {
		return
	}
	if err := s.parseMultipart(w, r); err != nil {
		s.badUpload(w, r, err)
		return
	}
	files := &uploads{r: r}
	defer files.close()

	var f attachmentForm
	if err := decodeForm(r, &f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, err := files.get(libcloud.FieldFile)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	user := CurrentUser(r.Context())
	_, err = s.service.CreateAttachment(r.Context(), libcloud.CreateAttachmentRequest{
		UserID:    user.ID,
		ContentID: details.Content.ID,
		TypeID:    parseID(f.Type),
		File:      file,
	})
	if err != nil {
		if verr, ok := asValidation(err); ok {
			s.renderAttachmentForm(w, r, http.StatusBadRequest, details, verr, r.PostForm)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.flash(r, LevelSuccess, "attachment has been created.")
	s.redirect(w, r, "/content/"+details.Content.ID.String())
}

// badUpload answers a multipart body that could not be read.
func (s *Server) badUpload(w http.ResponseWriter, r *http.Request, err error) {
	if isTooLarge(err) {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
