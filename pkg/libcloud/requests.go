package libcloud

import (
	"io"
	"strconv"

	"github.com/google/uuid"
)

// Request DTOs

// RegisterRequest contains the registration form fields
type RegisterRequest struct {
	Username  string
	Email     string
	Password1 string
	Password2 string
}

// CreateContentTypeRequest contains the content type form and its feature rows
type CreateContentTypeRequest struct {
	OwnerID           uuid.UUID
	Name              string
	AttachmentTypeIDs []uuid.UUID
	Features          []FeatureDeclaration
}

// CreateLibraryRequest contains the library form fields
type CreateLibraryRequest struct {
	OwnerID       uuid.UUID
	Name          string
	ContentTypeID uuid.UUID
}

// Upload is a submitted file
type Upload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// AttachmentUpload is one attachment row of a form
type AttachmentUpload struct {
	TypeID uuid.UUID
	File   *Upload
}

// CreateContentRequest contains the dynamic content form. Features maps a
// ContentTypeFeature ID to the raw submitted value.
type CreateContentRequest struct {
	CreatorID     uuid.UUID
	ContentTypeID uuid.UUID
	LibraryID     *uuid.UUID
	File          *Upload
	Features      map[uuid.UUID]string
	Attachments   []AttachmentUpload
}

// CreateAttachmentRequest adds one attachment to existing content
type CreateAttachmentRequest struct {
	UserID    uuid.UUID
	ContentID uuid.UUID
	TypeID    uuid.UUID
	File      *Upload
}

// ReassignLibraryRequest moves content to another library, or out of any
// library when LibraryID is nil
type ReassignLibraryRequest struct {
	UserID    uuid.UUID
	ContentID uuid.UUID
	LibraryID *uuid.UUID
}

// Form field names used in ValidationError.Fields.
const (
	FieldUsername       = "username"
	FieldEmail          = "email"
	FieldPassword1      = "password1"
	FieldPassword2      = "password2"
	FieldName           = "name"
	FieldContentType    = "type"
	FieldFile           = "file"
	FieldLibrary        = "library"
	FieldAttachmentType = "type"
	FieldAttachmentList = "attachment_types"
)

// FeatureField is the error key of a feature value row.
func FeatureField(featureID uuid.UUID) string {
	return "feature." + featureID.String()
}

// DeclarationField is the error key prefix of a feature declaration row.
func DeclarationField(i int) string {
	return "feature." + strconv.Itoa(i)
}

// AttachmentField is the error key prefix of an attachment row.
func AttachmentField(i int) string {
	return "attachment." + strconv.Itoa(i)
}
