package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ajg/form"
	"github.com/google/uuid"
	"github.com/tendant/libcloud/pkg/libcloud"
)

// Form bodies. Nested rows use ajg/form's dotted keys, e.g. feature.0.name.

type registerForm struct {
	Username  string `form:"username"`
	Email     string `form:"email"`
	Password1 string `form:"password1"`
	Password2 string `form:"password2"`
}

type loginForm struct {
	Username string `form:"username"`
	Password string `form:"password"`
	Next     string `form:"next"`
}

type nameForm struct {
	Name string `form:"name"`
}

type featureRow struct {
	Name     string `form:"name"`
	Type     string `form:"type"`
	Required bool   `form:"required"`
}

type contentTypeForm struct {
	Name     string       `form:"name"`
	Features []featureRow `form:"feature"`
}

type libraryForm struct {
	Name        string `form:"name"`
	ContentType string `form:"type"`
}

type attachmentRow struct {
	Type string `form:"type"`
}

type contentForm struct {
	Library     string            `form:"library"`
	Features    map[string]string `form:"feature"`
	Attachments []attachmentRow   `form:"attachment"`
}

type reassignForm struct {
	Library string `form:"library"`
}

type attachmentForm struct {
	Type string `form:"type"`
}

// rowList is a slice field posted as <name>.<index>.<field>. ajg/form sizes
// the slice from the highest index it sees, so indexes are checked against
// max before decoding.
type rowList struct {
	name string
	max  int
}

var (
	featureRowList    = rowList{name: "feature", max: libcloud.MaxFeatureRows}
	attachmentRowList = rowList{name: "attachment", max: libcloud.MaxAttachmentRows}
)

var errRowIndex = errors.New("row index out of range")

func (l rowList) check(values url.Values) error {
	prefix := l.name + "."
	for key := range values {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		index, _, _ := strings.Cut(rest, ".")
		n, err := strconv.Atoi(index)
		if err != nil || n < 0 || n >= l.max {
			return fmt.Errorf("%s: %w", key, errRowIndex)
		}
	}
	return nil
}

// decodeForm fills dst from the parsed request body after checking the
// indexes of the given row lists.
func decodeForm(r *http.Request, dst interface{}, rows ...rowList) error {
	for _, l := range rows {
		if err := l.check(r.PostForm); err != nil {
			return err
		}
	}
	d := form.NewDecoder(nil)
	d.IgnoreUnknownKeys(true)
	return d.DecodeValues(dst, r.PostForm)
}

// parseID turns a submitted ID into a UUID. Unparseable input becomes
// uuid.Nil, which the service reports as an invalid choice.
func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// optionalID is parseID for optional selects; an empty value means none.
func optionalID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := parseID(s)
	return &id
}

const multipartMemory = 8 << 20

// parseMultipart limits and parses an upload form.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	return r.ParseMultipartForm(multipartMemory)
}

// uploads tracks files opened from a multipart form.
type uploads struct {
	r     *http.Request
	files []multipart.File
}

// get opens the file submitted as field; nil when none was sent.
func (u *uploads) get(field string) (*libcloud.Upload, error) {
	if u.r.MultipartForm == nil {
		return nil, nil
	}
	headers := u.r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	u.files = append(u.files, f)
	return &libcloud.Upload{Filename: fh.Filename, Size: fh.Size, Reader: f}, nil
}

func (u *uploads) close() {
	for _, f := range u.files {
		_ = f.Close()
	}
	if u.r.MultipartForm != nil {
		_ = u.r.MultipartForm.RemoveAll()
	}
}

// isTooLarge reports whether a body exceeded MaxUploadBytes.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
