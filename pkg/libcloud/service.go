package libcloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service defines the main interface of the content catalogue. Every
// operation taking an owner or user ID only sees rows owned by that user.
type Service interface {
	// Account operations
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Authenticate(ctx context.Context, username, password string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	DeleteUser(ctx context.Context, username string) error

	// Schema operations
	CreateAttachmentType(ctx context.Context, ownerID uuid.UUID, name string) (*AttachmentType, error)
	ListAttachmentTypes(ctx context.Context, ownerID uuid.UUID) ([]*AttachmentType, error)
	CreateContentType(ctx context.Context, req CreateContentTypeRequest) (*ContentType, error)
	ListContentTypes(ctx context.Context, ownerID uuid.UUID) ([]*ContentType, error)
	GetContentType(ctx context.Context, ownerID, id uuid.UUID) (*ContentTypeDetails, error)

	// Library operations
	CreateLibrary(ctx context.Context, req CreateLibraryRequest) (*Library, error)
	ListLibraries(ctx context.Context, ownerID uuid.UUID) ([]*LibrarySummary, error)
	GetLibrary(ctx context.Context, ownerID, id uuid.UUID) (*LibraryDetails, error)
	LibraryChoices(ctx context.Context, ownerID, contentTypeID uuid.UUID) ([]*Library, error)

	// Content operations
	CreateContent(ctx context.Context, req CreateContentRequest) (*Content, error)
	ListContent(ctx context.Context, creatorID uuid.UUID) ([]*Content, error)
	GetContent(ctx context.Context, userID, id uuid.UUID) (*ContentDetails, error)
	ReassignLibrary(ctx context.Context, req ReassignLibraryRequest) (*Content, error)
	CreateAttachment(ctx context.Context, req CreateAttachmentRequest) (*Attachment, error)
	Home(ctx context.Context, userID uuid.UUID) (*HomeSummary, error)

	// File access
	OpenFile(ctx context.Context, user *User, namespace, filename string) (io.ReadCloser, *ObjectMeta, error)
}

// service implements the Service interface
type service struct {
	repository   Repository
	blobStore    BlobStore
	eventSink    EventSink
	logger       *slog.Logger
	passwordCost int
	now          func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the storage backend for uploaded files
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithPasswordCost sets the bcrypt cost used for new passwords
func WithPasswordCost(cost int) Option {
	return func(s *service) {
		s.passwordCost = cost
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		passwordCost: bcrypt.DefaultCost,
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}
