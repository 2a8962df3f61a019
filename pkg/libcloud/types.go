package libcloud

import (
	"path"
	"time"

	"github.com/google/uuid"
)

// SentinelUsername is the account that inherits content of deleted users.
const SentinelUsername = "deleted"

// Form limits
const (
	MaxUsernameLength      = 150
	MaxAttachmentTypeName  = 40
	MaxContentTypeName     = 40
	MaxFeatureNameLength   = 50
	MaxLibraryNameLength   = 50
	MaxFeatureValueLength  = 100
	MaxStringFeatureLength = 50
	MaxFeatureRows         = 20
	MaxAttachmentRows      = 20
	MinPasswordLength      = 8
	RecentContentLimit     = 5
)

// User is an account owning schema and instance rows.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Namespace is the blob key prefix that holds the user's uploads.
func (u *User) Namespace() string {
	return "user_" + u.Username
}

// AttachmentType names a kind of secondary file, e.g. "subtitles".
type AttachmentType struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentType is a user defined schema for content.
type ContentType struct {
	ID                uuid.UUID   `json:"id"`
	OwnerID           uuid.UUID   `json:"owner_id"`
	Name              string      `json:"name"`
	AttachmentTypeIDs []uuid.UUID `json:"attachment_type_ids"`
	CreatedAt         time.Time   `json:"created_at"`
}

// AllowsAttachmentType reports whether attachments of the given type may be
// attached to content of this type.
func (ct *ContentType) AllowsAttachmentType(id uuid.UUID) bool {
	for _, allowed := range ct.AttachmentTypeIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// ContentTypeFeature declares a typed custom field on a content type.
type ContentTypeFeature struct {
	ID            uuid.UUID   `json:"id"`
	ContentTypeID uuid.UUID   `json:"content_type_id"`
	Name          string      `json:"name"`
	Type          FeatureType `json:"type"`
	Required      bool        `json:"required"`
	Position      int         `json:"position"`
}

// Library groups content of a single content type.
type Library struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Name          string    `json:"name"`
	ContentTypeID uuid.UUID `json:"content_type_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// LibrarySummary is a library with the number of content rows placed in it.
type LibrarySummary struct {
	Library
	ContentCount int `json:"content_count"`
}

// Content is an uploaded file of a given content type.
type Content struct {
	ID            uuid.UUID  `json:"id"`
	CreatorID     uuid.UUID  `json:"creator_id"`
	ContentTypeID uuid.UUID  `json:"content_type_id"`
	FileKey       string     `json:"file_key"`
	LibraryID     *uuid.UUID `json:"library_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Filename is the base name of the stored file.
func (c *Content) Filename() string {
	return path.Base(c.FileKey)
}

// CheckLibrary validates that lib, when set, holds content of the same type.
func (c *Content) CheckLibrary(lib *Library) error {
	if lib == nil {
		return nil
	}
	if lib.ContentTypeID != c.ContentTypeID {
		return ErrLibraryContentTypeMismatch
	}
	return nil
}

// ContentFeature is the value of a feature for one piece of content.
type ContentFeature struct {
	ID        uuid.UUID `json:"id"`
	ContentID uuid.UUID `json:"content_id"`
	FeatureID uuid.UUID `json:"feature_id"`
	Value     string    `json:"value"`
}

// Attachment is a secondary file attached to content.
type Attachment struct {
	ID               uuid.UUID `json:"id"`
	ContentID        uuid.UUID `json:"content_id"`
	AttachmentTypeID uuid.UUID `json:"attachment_type_id"`
	FileKey          string    `json:"file_key"`
	CreatedAt        time.Time `json:"created_at"`
}

// Filename is the base name of the stored file.
func (a *Attachment) Filename() string {
	return path.Base(a.FileKey)
}

// ContentTypeDetails is a content type with its features and allowed
// attachment types resolved.
type ContentTypeDetails struct {
	ContentType     *ContentType
	Features        []*ContentTypeFeature
	AttachmentTypes []*AttachmentType
}

// FeatureValue pairs a declared feature with its stored value.
type FeatureValue struct {
	Feature *ContentTypeFeature
	Value   string
}

// AttachmentDetails is an attachment with its type resolved.
type AttachmentDetails struct {
	Attachment *Attachment
	Type       *AttachmentType
}

// ContentDetails is everything the content page shows.
type ContentDetails struct {
	Content     *Content
	Creator     *User
	ContentType *ContentType
	Library     *Library
	Features    []FeatureValue
	Attachments []AttachmentDetails
}

// LibraryDetails is a library with its content listed.
type LibraryDetails struct {
	Library     *Library
	ContentType *ContentType
	Contents    []*Content
}

// HomeSummary is shown on the landing page for a logged in user.
type HomeSummary struct {
	RecentContent []*Content
	Libraries     []*LibrarySummary
}
