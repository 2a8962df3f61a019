package libcloud

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for file storage backends. Backends return
// an error wrapping ErrFileNotFound for missing keys.
type BlobStore interface {
	// Upload writes the reader to key, replacing any existing object
	Upload(ctx context.Context, key string, reader io.Reader) error

	// Download opens the object stored at key
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored at key
	Delete(ctx context.Context, key string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, key string) (*ObjectMeta, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// Repository defines the interface for catalogue persistence. Listing
// methods are always scoped to an owner.
type Repository interface {
	// WithTx runs fn against a transactional view of the repository. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// User operations
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Attachment type operations
	CreateAttachmentType(ctx context.Context, at *AttachmentType) error
	GetAttachmentType(ctx context.Context, id uuid.UUID) (*AttachmentType, error)
	ListAttachmentTypes(ctx context.Context, ownerID uuid.UUID) ([]*AttachmentType, error)
	DeleteAttachmentType(ctx context.Context, id uuid.UUID) error

	// Content type operations
	CreateContentType(ctx context.Context, ct *ContentType) error
	GetContentType(ctx context.Context, id uuid.UUID) (*ContentType, error)
	ListContentTypes(ctx context.Context, ownerID uuid.UUID) ([]*ContentType, error)
	DeleteContentType(ctx context.Context, id uuid.UUID) error
	CreateContentTypeFeature(ctx context.Context, f *ContentTypeFeature) error
	ListContentTypeFeatures(ctx context.Context, contentTypeID uuid.UUID) ([]*ContentTypeFeature, error)

	// Library operations
	CreateLibrary(ctx context.Context, lib *Library) error
	GetLibrary(ctx context.Context, id uuid.UUID) (*Library, error)
	ListLibraries(ctx context.Context, ownerID uuid.UUID) ([]*LibrarySummary, error)
	DeleteLibrary(ctx context.Context, id uuid.UUID) error

	// Content operations
	CreateContent(ctx context.Context, content *Content) error
	GetContent(ctx context.Context, id uuid.UUID) (*Content, error)
	ListContent(ctx context.Context, creatorID uuid.UUID, limit int) ([]*Content, error)
	ListLibraryContent(ctx context.Context, libraryID uuid.UUID) ([]*Content, error)
	UpdateContentLibrary(ctx context.Context, contentID uuid.UUID, libraryID *uuid.UUID) error
	ReassignContent(ctx context.Context, fromUserID, toUserID uuid.UUID) error
	CreateContentFeature(ctx context.Context, cf *ContentFeature) error
	ListContentFeatures(ctx context.Context, contentID uuid.UUID) ([]*ContentFeature, error)
	CreateAttachment(ctx context.Context, a *Attachment) error
	ListAttachments(ctx context.Context, contentID uuid.UUID) ([]*Attachment, error)
}

// EventSink receives notifications about created and deleted rows
type EventSink interface {
	UserRegistered(ctx context.Context, user *User)
	ContentTypeCreated(ctx context.Context, ct *ContentType, features int)
	ContentCreated(ctx context.Context, content *Content, features, attachments int)
	AttachmentCreated(ctx context.Context, a *Attachment)
	UserDeleted(ctx context.Context, username string)
}
