package libcloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// checkUpload records a field error for a missing or empty file.
func checkUpload(verr *ValidationError, field string, file *Upload) {
	switch {
	case file == nil || file.Reader == nil:
		verr.Add(field, MsgNoFile)
	case file.Size == 0:
		verr.Add(field, MsgEmptyFile)
	}
}

// CreateContent validates the dynamic content form and writes the content,
// its feature values and its attachments in one transaction. Nothing is
// persisted when any part fails.
func (s *service) CreateContent(ctx context.Context, req CreateContentRequest) (*Content, error) {
	creator, err := s.repository.GetUser(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}

	verr := NewValidationError()

	ct, err := s.ownedContentType(ctx, req.CreatorID, req.ContentTypeID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		verr.Add(FieldContentType, MsgInvalidChoice)
		return nil, verr
	}

	checkUpload(verr, FieldFile, req.File)

	var lib *Library
	if req.LibraryID != nil {
		lib, err = s.ownedLibrary(ctx, req.CreatorID, *req.LibraryID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			verr.Add(FieldLibrary, MsgInvalidChoice)
			lib = nil
		}
	}

	content := &Content{
		ID:            uuid.New(),
		CreatorID:     creator.ID,
		ContentTypeID: ct.ID,
		LibraryID:     req.LibraryID,
	}
	if err := content.CheckLibrary(lib); err != nil {
		verr.AddError(err)
	}

	features, err := s.repository.ListContentTypeFeatures(ctx, ct.ID)
	if err != nil {
		return nil, &OpError{Op: "list features", ID: ct.ID, Err: err}
	}
	declared := make(map[uuid.UUID]bool, len(features))
	var values []*ContentFeature
	for _, f := range features {
		declared[f.ID] = true
		raw := req.Features[f.ID]
		value, err := f.Clean(raw)
		if err != nil {
			verr.Add(FeatureField(f.ID), err.Error())
			continue
		}
		if f.Required || value != "" {
			values = append(values, &ContentFeature{
				ID:        uuid.New(),
				ContentID: content.ID,
				FeatureID: f.ID,
				Value:     value,
			})
		}
	}
	for id := range req.Features {
		if !declared[id] {
			verr.Add("", fmt.Sprintf("Feature %s does not belong to content type %s.", id, ct.Name))
		}
	}

	// Rows left untouched are skipped; error keys keep the submitted index.
	var attachments []AttachmentUpload
	for i, a := range req.Attachments {
		if a.TypeID == uuid.Nil && a.File == nil {
			continue
		}
		field := AttachmentField(i)
		if a.TypeID == uuid.Nil {
			verr.Add(field+"."+FieldAttachmentType, MsgRequired)
		} else if !ct.AllowsAttachmentType(a.TypeID) {
			verr.Add(field+"."+FieldAttachmentType, ErrAttachmentTypeNotAllowed.Error())
		}
		checkUpload(verr, field+"."+FieldFile, a.File)
		attachments = append(attachments, a)
	}
	if len(attachments) > MaxAttachmentRows {
		verr.Add("", fmt.Sprintf("Please submit at most %d attachments.", MaxAttachmentRows))
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var written []string
	taken := make(map[string]bool)
	err = s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if lib != nil {
			current, err := tx.GetLibrary(ctx, lib.ID)
			if err != nil {
				return &OpError{Op: "get library", ID: lib.ID, Err: err}
			}
			if err := content.CheckLibrary(current); err != nil {
				return err
			}
		}

		key, err := s.store(ctx, ContentKey(creator, req.File.Filename), req.File.Reader, taken)
		if err != nil {
			return err
		}
		written = append(written, key)

		now := s.now()
		content.FileKey = key
		content.CreatedAt = now
		content.UpdatedAt = now
		if err := tx.CreateContent(ctx, content); err != nil {
			return &OpError{Op: "create content", ID: content.ID, Err: err}
		}

		for _, v := range values {
			if err := tx.CreateContentFeature(ctx, v); err != nil {
				return &OpError{Op: "create content feature", ID: v.ID, Err: err}
			}
		}

		for _, a := range attachments {
			attachment, err := s.attach(ctx, tx, content, ct, a, taken)
			if attachment != nil {
				written = append(written, attachment.FileKey)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, written)
		return nil, err
	}

	s.eventSink.ContentCreated(ctx, content, len(values), len(attachments))
	return content, nil
}

// attach uploads an attachment file and inserts its row. The returned
// attachment is non-nil once the file was written, even when the insert fails.
func (s *service) attach(ctx context.Context, tx Repository, content *Content, ct *ContentType, a AttachmentUpload, taken map[string]bool) (*Attachment, error) {
	if !ct.AllowsAttachmentType(a.TypeID) {
		return nil, ErrAttachmentTypeNotAllowed
	}
	key, err := s.store(ctx, AttachmentKey(content.FileKey, a.File.Filename), a.File.Reader, taken)
	if err != nil {
		return nil, err
	}
	attachment := &Attachment{
		ID:               uuid.New(),
		ContentID:        content.ID,
		AttachmentTypeID: a.TypeID,
		FileKey:          key,
		CreatedAt:        s.now(),
	}
	if err := tx.CreateAttachment(ctx, attachment); err != nil {
		return attachment, &OpError{Op: "create attachment", ID: attachment.ID, Err: err}
	}
	return attachment, nil
}

// store writes reader under a free key derived from key.
func (s *service) store(ctx context.Context, key string, reader io.Reader, taken map[string]bool) (string, error) {
	key, err := s.availableKey(ctx, key, taken)
	if err != nil {
		return "", err
	}
	if err := s.blobStore.Upload(ctx, key, reader); err != nil {
		return "", &StorageError{Key: key, Op: "upload", Err: err}
	}
	taken[key] = true
	return key, nil
}

// discard removes blobs written by a rolled back transaction.
func (s *service) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobStore.Delete(ctx, key); err != nil && !errors.Is(err, ErrFileNotFound) {
			s.logger.WarnContext(ctx, "Failed to remove orphaned file", "key", key, "error", err)
		}
	}
}

func (s *service) ListContent(ctx context.Context, creatorID uuid.UUID) ([]*Content, error) {
	return s.repository.ListContent(ctx, creatorID, 0)
}

func (s *service) GetContent(ctx context.Context, userID, id uuid.UUID) (*ContentDetails, error) {
	content, err := s.ownedContent(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	details := &ContentDetails{Content: content}
	if details.Creator, err = s.repository.GetUser(ctx, content.CreatorID); err != nil {
		return nil, &OpError{Op: "get creator", ID: content.CreatorID, Err: err}
	}
	if details.ContentType, err = s.repository.GetContentType(ctx, content.ContentTypeID); err != nil {
		return nil, &OpError{Op: "get content type", ID: content.ContentTypeID, Err: err}
	}
	if content.LibraryID != nil {
		if details.Library, err = s.repository.GetLibrary(ctx, *content.LibraryID); err != nil {
			return nil, &OpError{Op: "get library", ID: *content.LibraryID, Err: err}
		}
	}

	features, err := s.repository.ListContentTypeFeatures(ctx, content.ContentTypeID)
	if err != nil {
		return nil, &OpError{Op: "list features", ID: content.ContentTypeID, Err: err}
	}
	values, err := s.repository.ListContentFeatures(ctx, content.ID)
	if err != nil {
		return nil, &OpError{Op: "list content features", ID: content.ID, Err: err}
	}
	byFeature := make(map[uuid.UUID]string, len(values))
	for _, v := range values {
		byFeature[v.FeatureID] = v.Value
	}
	for _, f := range features {
		details.Features = append(details.Features, FeatureValue{Feature: f, Value: byFeature[f.ID]})
	}

	attachments, err := s.repository.ListAttachments(ctx, content.ID)
	if err != nil {
		return nil, &OpError{Op: "list attachments", ID: content.ID, Err: err}
	}
	for _, a := range attachments {
		at, err := s.repository.GetAttachmentType(ctx, a.AttachmentTypeID)
		if err != nil {
			return nil, &OpError{Op: "get attachment type", ID: a.AttachmentTypeID, Err: err}
		}
		details.Attachments = append(details.Attachments, AttachmentDetails{Attachment: a, Type: at})
	}
	return details, nil
}

func (s *service) ownedContent(ctx context.Context, userID, id uuid.UUID) (*Content, error) {
	content, err := s.repository.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if content.CreatorID != userID {
		return nil, ErrContentNotFound
	}
	return content, nil
}

// ReassignLibrary moves content into another library of its creator.
func (s *service) ReassignLibrary(ctx context.Context, req ReassignLibraryRequest) (*Content, error) {
	content, err := s.ownedContent(ctx, req.UserID, req.ContentID)
	if err != nil {
		return nil, err
	}

	verr := NewValidationError()
	var lib *Library
	if req.LibraryID != nil {
		lib, err = s.repository.GetLibrary(ctx, *req.LibraryID)
		switch {
		case errors.Is(err, ErrNotFound):
			verr.Add(FieldLibrary, MsgInvalidChoice)
		case err != nil:
			return nil, &OpError{Op: "get library", ID: *req.LibraryID, Err: err}
		case lib.OwnerID != content.CreatorID:
			verr.Add(FieldLibrary, ErrInvalidLibrary.Error())
		default:
			if err := content.CheckLibrary(lib); err != nil {
				verr.AddError(err)
			}
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if err := s.repository.UpdateContentLibrary(ctx, content.ID, req.LibraryID); err != nil {
		return nil, &OpError{Op: "update content library", ID: content.ID, Err: err}
	}
	content.LibraryID = req.LibraryID
	content.UpdatedAt = s.now()
	return content, nil
}

// CreateAttachment adds one attachment to existing content. The attachment
// type must be in the allow-list of the content's type.
func (s *service) CreateAttachment(ctx context.Context, req CreateAttachmentRequest) (*Attachment, error) {
	content, err := s.ownedContent(ctx, req.UserID, req.ContentID)
	if err != nil {
		return nil, err
	}
	ct, err := s.repository.GetContentType(ctx, content.ContentTypeID)
	if err != nil {
		return nil, &OpError{Op: "get content type", ID: content.ContentTypeID, Err: err}
	}

	verr := NewValidationError()
	if req.TypeID == uuid.Nil {
		verr.Add(FieldAttachmentType, MsgRequired)
	} else if !ct.AllowsAttachmentType(req.TypeID) {
		verr.Add(FieldAttachmentType, ErrAttachmentTypeNotAllowed.Error())
	}
	checkUpload(verr, FieldFile, req.File)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var attachment *Attachment
	err = s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		attachment, err = s.attach(ctx, tx, content, ct, AttachmentUpload{TypeID: req.TypeID, File: req.File}, map[string]bool{})
		return err
	})
	if err != nil {
		if attachment != nil {
			s.discard(ctx, []string{attachment.FileKey})
		}
		return nil, err
	}

	s.eventSink.AttachmentCreated(ctx, attachment)
	return attachment, nil
}

func (s *service) Home(ctx context.Context, userID uuid.UUID) (*HomeSummary, error) {
	recent, err := s.repository.ListContent(ctx, userID, RecentContentLimit)
	if err != nil {
		return nil, &OpError{Op: "list recent content", ID: userID, Err: err}
	}
	libs, err := s.repository.ListLibraries(ctx, userID)
	if err != nil {
		return nil, &OpError{Op: "list libraries", ID: userID, Err: err}
	}
	return &HomeSummary{RecentContent: recent, Libraries: libs}, nil
}

// OpenFile opens a stored file inside the requesting user's namespace.
func (s *service) OpenFile(ctx context.Context, user *User, namespace, filename string) (io.ReadCloser, *ObjectMeta, error) {
	if user == nil || namespace != user.Namespace() {
		return nil, nil, ErrFileNotFound
	}
	if filename == "" || filename == "." || filename == ".." || strings.ContainsAny(filename, "/\\") {
		return nil, nil, ErrFileNotFound
	}
	key := namespace + "/" + filename

	meta, err := s.blobStore.GetObjectMeta(ctx, key)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, &StorageError{Key: key, Op: "stat", Err: err}
	}
	rc, err := s.blobStore.Download(ctx, key)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, &StorageError{Key: key, Op: "download", Err: err}
	}
	return rc, meta, nil
}
