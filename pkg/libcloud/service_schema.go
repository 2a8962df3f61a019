package libcloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// validateName trims name and records a field error when it is empty or too long.
func validateName(verr *ValidationError, field, name string, max int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		verr.Add(field, MsgRequired)
	} else if n := utf8.RuneCountInString(name); n > max {
		verr.Add(field, fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", max, n))
	}
	return name
}

// Attachment type operations

func (s *service) CreateAttachmentType(ctx context.Context, ownerID uuid.UUID, name string) (*AttachmentType, error) {
	verr := NewValidationError()
	name = validateName(verr, FieldName, name, MaxAttachmentTypeName)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	at := &AttachmentType{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.repository.CreateAttachmentType(ctx, at); err != nil {
		return nil, &OpError{Op: "create attachment type", ID: at.ID, Err: err}
	}
	return at, nil
}

func (s *service) ListAttachmentTypes(ctx context.Context, ownerID uuid.UUID) ([]*AttachmentType, error) {
	return s.repository.ListAttachmentTypes(ctx, ownerID)
}

// Content type operations

func (s *service) CreateContentType(ctx context.Context, req CreateContentTypeRequest) (*ContentType, error) {
	verr := NewValidationError()
	name := validateName(verr, FieldName, req.Name, MaxContentTypeName)

	seen := make(map[uuid.UUID]bool, len(req.AttachmentTypeIDs))
	var allowed []uuid.UUID
	for _, id := range req.AttachmentTypeIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		at, err := s.repository.GetAttachmentType(ctx, id)
		if err != nil || at.OwnerID != req.OwnerID {
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, &OpError{Op: "get attachment type", ID: id, Err: err}
			}
			verr.Add(FieldAttachmentList, fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", id))
			continue
		}
		allowed = append(allowed, id)
	}

	type declared struct {
		name     string
		typ      FeatureType
		required bool
	}
	var features []declared
	for i, d := range req.Features {
		if d.isBlank() {
			continue
		}
		if i >= MaxFeatureRows {
			verr.Add("", fmt.Sprintf("Please submit at most %d features.", MaxFeatureRows))
			break
		}
		t := d.validate(verr, DeclarationField(i))
		features = append(features, declared{name: strings.TrimSpace(d.Name), typ: t, required: d.Required})
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	ct := &ContentType{
		ID:                uuid.New(),
		OwnerID:           req.OwnerID,
		Name:              name,
		AttachmentTypeIDs: allowed,
		CreatedAt:         s.now(),
	}
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.CreateContentType(ctx, ct); err != nil {
			return &OpError{Op: "create content type", ID: ct.ID, Err: err}
		}
		for i, d := range features {
			f := &ContentTypeFeature{
				ID:            uuid.New(),
				ContentTypeID: ct.ID,
				Name:          d.name,
				Type:          d.typ,
				Required:      d.required,
				Position:      i,
			}
			if err := tx.CreateContentTypeFeature(ctx, f); err != nil {
				return &OpError{Op: "create content type feature", ID: f.ID, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eventSink.ContentTypeCreated(ctx, ct, len(features))
	return ct, nil
}

func (s *service) ListContentTypes(ctx context.Context, ownerID uuid.UUID) ([]*ContentType, error) {
	return s.repository.ListContentTypes(ctx, ownerID)
}

func (s *service) GetContentType(ctx context.Context, ownerID, id uuid.UUID) (*ContentTypeDetails, error) {
	ct, err := s.ownedContentType(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	features, err := s.repository.ListContentTypeFeatures(ctx, ct.ID)
	if err != nil {
		return nil, &OpError{Op: "list features", ID: ct.ID, Err: err}
	}
	details := &ContentTypeDetails{ContentType: ct, Features: features}
	for _, atID := range ct.AttachmentTypeIDs {
		at, err := s.repository.GetAttachmentType(ctx, atID)
		if err != nil {
			return nil, &OpError{Op: "get attachment type", ID: atID, Err: err}
		}
		details.AttachmentTypes = append(details.AttachmentTypes, at)
	}
	return details, nil
}

// ownedContentType loads a content type and hides it from other users.
func (s *service) ownedContentType(ctx context.Context, ownerID, id uuid.UUID) (*ContentType, error) {
	ct, err := s.repository.GetContentType(ctx, id)
	if err != nil {
		return nil, err
	}
	if ct.OwnerID != ownerID {
		return nil, ErrContentTypeNotFound
	}
	return ct, nil
}

// Library operations

func (s *service) CreateLibrary(ctx context.Context, req CreateLibraryRequest) (*Library, error) {
	verr := NewValidationError()
	name := validateName(verr, FieldName, req.Name, MaxLibraryNameLength)

	if req.ContentTypeID == uuid.Nil {
		verr.Add(FieldContentType, MsgRequired)
	} else if _, err := s.ownedContentType(ctx, req.OwnerID, req.ContentTypeID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		verr.Add(FieldContentType, MsgInvalidChoice)
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	lib := &Library{
		ID:            uuid.New(),
		OwnerID:       req.OwnerID,
		Name:          name,
		ContentTypeID: req.ContentTypeID,
		CreatedAt:     s.now(),
	}
	if err := s.repository.CreateLibrary(ctx, lib); err != nil {
		return nil, &OpError{Op: "create library", ID: lib.ID, Err: err}
	}
	return lib, nil
}

func (s *service) ListLibraries(ctx context.Context, ownerID uuid.UUID) ([]*LibrarySummary, error) {
	return s.repository.ListLibraries(ctx, ownerID)
}

func (s *service) GetLibrary(ctx context.Context, ownerID, id uuid.UUID) (*LibraryDetails, error) {
	lib, err := s.ownedLibrary(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	ct, err := s.repository.GetContentType(ctx, lib.ContentTypeID)
	if err != nil {
		return nil, &OpError{Op: "get content type", ID: lib.ContentTypeID, Err: err}
	}
	contents, err := s.repository.ListLibraryContent(ctx, lib.ID)
	if err != nil {
		return nil, &OpError{Op: "list library content", ID: lib.ID, Err: err}
	}
	return &LibraryDetails{Library: lib, ContentType: ct, Contents: contents}, nil
}

// LibraryChoices lists the owner's libraries that accept content of the
// given content type.
func (s *service) LibraryChoices(ctx context.Context, ownerID, contentTypeID uuid.UUID) ([]*Library, error) {
	summaries, err := s.repository.ListLibraries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var libs []*Library
	for _, sum := range summaries {
		if sum.ContentTypeID == contentTypeID {
			lib := sum.Library
			libs = append(libs, &lib)
		}
	}
	return libs, nil
}

func (s *service) ownedLibrary(ctx context.Context, ownerID, id uuid.UUID) (*Library, error) {
	lib, err := s.repository.GetLibrary(ctx, id)
	if err != nil {
		return nil, err
	}
	if lib.OwnerID != ownerID {
		return nil, ErrLibraryNotFound
	}
	return lib, nil
}
