package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/libcloud/pkg/libcloud"
)

var errMissingReference = errors.New("referenced record not found")

var _ libcloud.Repository = (*Repository)(nil)

// state holds every table. Rows are stored as private copies.
type state struct {
	users           map[uuid.UUID]*libcloud.User
	attachmentTypes map[uuid.UUID]*libcloud.AttachmentType
	contentTypes    map[uuid.UUID]*libcloud.ContentType
	features        map[uuid.UUID]*libcloud.ContentTypeFeature
	libraries       map[uuid.UUID]*libcloud.Library
	contents        map[uuid.UUID]*libcloud.Content
	contentFeatures map[uuid.UUID]*libcloud.ContentFeature
	attachments     map[uuid.UUID]*libcloud.Attachment
	order           map[uuid.UUID]int64 // insertion sequence of every row
	seq             int64
}

func newState() *state {
	return &state{
		users:           make(map[uuid.UUID]*libcloud.User),
		attachmentTypes: make(map[uuid.UUID]*libcloud.AttachmentType),
		contentTypes:    make(map[uuid.UUID]*libcloud.ContentType),
		features:        make(map[uuid.UUID]*libcloud.ContentTypeFeature),
		libraries:       make(map[uuid.UUID]*libcloud.Library),
		contents:        make(map[uuid.UUID]*libcloud.Content),
		contentFeatures: make(map[uuid.UUID]*libcloud.ContentFeature),
		attachments:     make(map[uuid.UUID]*libcloud.Attachment),
		order:           make(map[uuid.UUID]int64),
	}
}

func cloneRows[T any](m map[uuid.UUID]*T) map[uuid.UUID]*T {
	out := make(map[uuid.UUID]*T, len(m))
	for k, v := range m {
		c := *v
		out[k] = &c
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		users:           cloneRows(s.users),
		attachmentTypes: cloneRows(s.attachmentTypes),
		contentTypes:    cloneRows(s.contentTypes),
		features:        cloneRows(s.features),
		libraries:       cloneRows(s.libraries),
		contents:        cloneRows(s.contents),
		contentFeatures: cloneRows(s.contentFeatures),
		attachments:     cloneRows(s.attachments),
		order:           make(map[uuid.UUID]int64, len(s.order)),
		seq:             s.seq,
	}
	for _, ct := range c.contentTypes {
		ct.AttachmentTypeIDs = slices.Clone(ct.AttachmentTypeIDs)
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	return c
}

func (s *state) insert(id uuid.UUID) {
	s.seq++
	s.order[id] = s.seq
}

type db struct {
	mu   sync.RWMutex
	txMu sync.Mutex // held for the whole of a transaction
	data *state
}

// Repository implements libcloud.Repository using in-memory storage
type Repository struct {
	*db
	inTx bool
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{db: &db{data: newState()}}
}

// lock takes the write lock. Writes outside a transaction first wait for
// the running transaction, so its rollback never discards them.
func (r *Repository) lock() (unlock func()) {
	if !r.inTx {
		r.txMu.Lock()
	}
	r.mu.Lock()
	return func() {
		r.mu.Unlock()
		if !r.inTx {
			r.txMu.Unlock()
		}
	}
}

// WithTx snapshots the state and restores it when fn fails. Nested calls
// join the running transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx libcloud.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.data.clone()
	r.mu.RUnlock()

	if err := fn(ctx, &Repository{db: r.db, inTx: true}); err != nil {
		r.mu.Lock()
		r.data = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// sortByOrder sorts rows by insertion sequence.
func sortByOrder[T any](d *state, rows []*T, id func(*T) uuid.UUID, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := d.order[id(rows[i])], d.order[id(rows[j])]
		if desc {
			return a > b
		}
		return a < b
	})
}

// User operations

func (r *Repository) CreateUser(ctx context.Context, user *libcloud.User) error {
	defer r.lock()()

	for _, u := range r.data.users {
		if u.Username == user.Username {
			return libcloud.ErrUsernameTaken
		}
	}
	userCopy := *user
	userCopy.PasswordHash = slices.Clone(user.PasswordHash)
	r.data.users[user.ID] = &userCopy
	r.data.insert(user.ID)
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*libcloud.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.data.users[id]
	if !ok {
		return nil, libcloud.ErrUserNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*libcloud.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.data.users {
		if u.Username == username {
			userCopy := *u
			return &userCopy, nil
		}
	}
	return nil, libcloud.ErrUserNotFound
}

// DeleteUser removes the user and cascades to the user's attachment types,
// content types and libraries. It fails while content still names the user
// as creator.
func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	d := r.data
	if _, ok := d.users[id]; !ok {
		return libcloud.ErrUserNotFound
	}
	for _, c := range d.contents {
		if c.CreatorID == id {
			return fmt.Errorf("user %s still has content", id)
		}
	}
	for atID, at := range d.attachmentTypes {
		if at.OwnerID == id {
			d.deleteAttachmentType(atID)
		}
	}
	for ctID, ct := range d.contentTypes {
		if ct.OwnerID == id {
			d.deleteContentType(ctID)
		}
	}
	for libID, lib := range d.libraries {
		if lib.OwnerID == id {
			d.deleteLibrary(libID)
		}
	}
	delete(d.users, id)
	return nil
}

// Attachment type operations

func (r *Repository) CreateAttachmentType(ctx context.Context, at *libcloud.AttachmentType) error {
	defer r.lock()()

	if _, ok := r.data.users[at.OwnerID]; !ok {
		return errMissingReference
	}
	atCopy := *at
	r.data.attachmentTypes[at.ID] = &atCopy
	r.data.insert(at.ID)
	return nil
}

func (r *Repository) GetAttachmentType(ctx context.Context, id uuid.UUID) (*libcloud.AttachmentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	at, ok := r.data.attachmentTypes[id]
	if !ok {
		return nil, libcloud.ErrAttachmentTypeNotFound
	}
	atCopy := *at
	return &atCopy, nil
}

func (r *Repository) ListAttachmentTypes(ctx context.Context, ownerID uuid.UUID) ([]*libcloud.AttachmentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.AttachmentType
	for _, at := range r.data.attachmentTypes {
		if at.OwnerID == ownerID {
			atCopy := *at
			result = append(result, &atCopy)
		}
	}
	sortByOrder(r.data, result, func(a *libcloud.AttachmentType) uuid.UUID { return a.ID }, false)
	return result, nil
}

func (r *Repository) DeleteAttachmentType(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	if _, ok := r.data.attachmentTypes[id]; !ok {
		return libcloud.ErrAttachmentTypeNotFound
	}
	r.data.deleteAttachmentType(id)
	return nil
}

func (d *state) deleteAttachmentType(id uuid.UUID) {
	for aID, a := range d.attachments {
		if a.AttachmentTypeID == id {
			delete(d.attachments, aID)
		}
	}
	for _, ct := range d.contentTypes {
		ct.AttachmentTypeIDs = slices.DeleteFunc(ct.AttachmentTypeIDs, func(x uuid.UUID) bool { return x == id })
	}
	delete(d.attachmentTypes, id)
}

// Content type operations

func (r *Repository) CreateContentType(ctx context.Context, ct *libcloud.ContentType) error {
	defer r.lock()()

	if _, ok := r.data.users[ct.OwnerID]; !ok {
		return errMissingReference
	}
	for _, atID := range ct.AttachmentTypeIDs {
		if _, ok := r.data.attachmentTypes[atID]; !ok {
			return errMissingReference
		}
	}
	ctCopy := *ct
	ctCopy.AttachmentTypeIDs = slices.Clone(ct.AttachmentTypeIDs)
	r.data.contentTypes[ct.ID] = &ctCopy
	r.data.insert(ct.ID)
	return nil
}

func (r *Repository) GetContentType(ctx context.Context, id uuid.UUID) (*libcloud.ContentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ct, ok := r.data.contentTypes[id]
	if !ok {
		return nil, libcloud.ErrContentTypeNotFound
	}
	ctCopy := *ct
	ctCopy.AttachmentTypeIDs = slices.Clone(ct.AttachmentTypeIDs)
	return &ctCopy, nil
}

func (r *Repository) ListContentTypes(ctx context.Context, ownerID uuid.UUID) ([]*libcloud.ContentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.ContentType
	for _, ct := range r.data.contentTypes {
		if ct.OwnerID == ownerID {
			ctCopy := *ct
			ctCopy.AttachmentTypeIDs = slices.Clone(ct.AttachmentTypeIDs)
			result = append(result, &ctCopy)
		}
	}
	sortByOrder(r.data, result, func(c *libcloud.ContentType) uuid.UUID { return c.ID }, false)
	return result, nil
}

func (r *Repository) DeleteContentType(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	if _, ok := r.data.contentTypes[id]; !ok {
		return libcloud.ErrContentTypeNotFound
	}
	r.data.deleteContentType(id)
	return nil
}

func (d *state) deleteContentType(id uuid.UUID) {
	for cID, c := range d.contents {
		if c.ContentTypeID == id {
			d.deleteContent(cID)
		}
	}
	for libID, lib := range d.libraries {
		if lib.ContentTypeID == id {
			d.deleteLibrary(libID)
		}
	}
	for fID, f := range d.features {
		if f.ContentTypeID == id {
			for cfID, cf := range d.contentFeatures {
				if cf.FeatureID == fID {
					delete(d.contentFeatures, cfID)
				}
			}
			delete(d.features, fID)
		}
	}
	delete(d.contentTypes, id)
}

func (r *Repository) CreateContentTypeFeature(ctx context.Context, f *libcloud.ContentTypeFeature) error {
	defer r.lock()()

	if _, ok := r.data.contentTypes[f.ContentTypeID]; !ok {
		return errMissingReference
	}
	fCopy := *f
	r.data.features[f.ID] = &fCopy
	r.data.insert(f.ID)
	return nil
}

func (r *Repository) ListContentTypeFeatures(ctx context.Context, contentTypeID uuid.UUID) ([]*libcloud.ContentTypeFeature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.ContentTypeFeature
	for _, f := range r.data.features {
		if f.ContentTypeID == contentTypeID {
			fCopy := *f
			result = append(result, &fCopy)
		}
	}
	sortByOrder(r.data, result, func(f *libcloud.ContentTypeFeature) uuid.UUID { return f.ID }, false)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

// Library operations

func (r *Repository) CreateLibrary(ctx context.Context, lib *libcloud.Library) error {
	defer r.lock()()

	if _, ok := r.data.users[lib.OwnerID]; !ok {
		return errMissingReference
	}
	if _, ok := r.data.contentTypes[lib.ContentTypeID]; !ok {
		return errMissingReference
	}
	libCopy := *lib
	r.data.libraries[lib.ID] = &libCopy
	r.data.insert(lib.ID)
	return nil
}

func (r *Repository) GetLibrary(ctx context.Context, id uuid.UUID) (*libcloud.Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lib, ok := r.data.libraries[id]
	if !ok {
		return nil, libcloud.ErrLibraryNotFound
	}
	libCopy := *lib
	return &libCopy, nil
}

// ListLibraries returns the owner's libraries, most populated first.
func (r *Repository) ListLibraries(ctx context.Context, ownerID uuid.UUID) ([]*libcloud.LibrarySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[uuid.UUID]int)
	for _, c := range r.data.contents {
		if c.LibraryID != nil {
			counts[*c.LibraryID]++
		}
	}

	var result []*libcloud.LibrarySummary
	for _, lib := range r.data.libraries {
		if lib.OwnerID == ownerID {
			result = append(result, &libcloud.LibrarySummary{Library: *lib, ContentCount: counts[lib.ID]})
		}
	}
	sortByOrder(r.data, result, func(s *libcloud.LibrarySummary) uuid.UUID { return s.ID }, false)
	sort.SliceStable(result, func(i, j int) bool { return result[i].ContentCount > result[j].ContentCount })
	return result, nil
}

func (r *Repository) DeleteLibrary(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()

	if _, ok := r.data.libraries[id]; !ok {
		return libcloud.ErrLibraryNotFound
	}
	r.data.deleteLibrary(id)
	return nil
}

func (d *state) deleteLibrary(id uuid.UUID) {
	for _, c := range d.contents {
		if c.LibraryID != nil && *c.LibraryID == id {
			c.LibraryID = nil
		}
	}
	delete(d.libraries, id)
}

// Content operations

func copyContent(c *libcloud.Content) *libcloud.Content {
	contentCopy := *c
	if c.LibraryID != nil {
		libID := *c.LibraryID
		contentCopy.LibraryID = &libID
	}
	return &contentCopy
}

func (r *Repository) CreateContent(ctx context.Context, content *libcloud.Content) error {
	defer r.lock()()

	if _, ok := r.data.users[content.CreatorID]; !ok {
		return errMissingReference
	}
	if _, ok := r.data.contentTypes[content.ContentTypeID]; !ok {
		return errMissingReference
	}
	if content.LibraryID != nil {
		if _, ok := r.data.libraries[*content.LibraryID]; !ok {
			return errMissingReference
		}
	}
	r.data.contents[content.ID] = copyContent(content)
	r.data.insert(content.ID)
	return nil
}

func (r *Repository) GetContent(ctx context.Context, id uuid.UUID) (*libcloud.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.data.contents[id]
	if !ok {
		return nil, libcloud.ErrContentNotFound
	}
	return copyContent(c), nil
}

// ListContent returns the creator's content, newest first. A positive limit
// caps the number of rows.
func (r *Repository) ListContent(ctx context.Context, creatorID uuid.UUID, limit int) ([]*libcloud.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.Content
	for _, c := range r.data.contents {
		if c.CreatorID == creatorID {
			result = append(result, copyContent(c))
		}
	}
	sortByOrder(r.data, result, func(c *libcloud.Content) uuid.UUID { return c.ID }, true)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *Repository) ListLibraryContent(ctx context.Context, libraryID uuid.UUID) ([]*libcloud.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.Content
	for _, c := range r.data.contents {
		if c.LibraryID != nil && *c.LibraryID == libraryID {
			result = append(result, copyContent(c))
		}
	}
	sortByOrder(r.data, result, func(c *libcloud.Content) uuid.UUID { return c.ID }, true)
	return result, nil
}

func (r *Repository) UpdateContentLibrary(ctx context.Context, contentID uuid.UUID, libraryID *uuid.UUID) error {
	defer r.lock()()

	c, ok := r.data.contents[contentID]
	if !ok {
		return libcloud.ErrContentNotFound
	}
	if libraryID == nil {
		c.LibraryID = nil
		return nil
	}
	if _, ok := r.data.libraries[*libraryID]; !ok {
		return errMissingReference
	}
	id := *libraryID
	c.LibraryID = &id
	return nil
}

func (r *Repository) ReassignContent(ctx context.Context, fromUserID, toUserID uuid.UUID) error {
	defer r.lock()()

	if _, ok := r.data.users[toUserID]; !ok {
		return errMissingReference
	}
	for _, c := range r.data.contents {
		if c.CreatorID == fromUserID {
			c.CreatorID = toUserID
		}
	}
	return nil
}

func (d *state) deleteContent(id uuid.UUID) {
	for cfID, cf := range d.contentFeatures {
		if cf.ContentID == id {
			delete(d.contentFeatures, cfID)
		}
	}
	for aID, a := range d.attachments {
		if a.ContentID == id {
			delete(d.attachments, aID)
		}
	}
	delete(d.contents, id)
}

func (r *Repository) CreateContentFeature(ctx context.Context, cf *libcloud.ContentFeature) error {
	defer r.lock()()

	if _, ok := r.data.contents[cf.ContentID]; !ok {
		return errMissingReference
	}
	if _, ok := r.data.features[cf.FeatureID]; !ok {
		return errMissingReference
	}
	if len(cf.Value) > libcloud.MaxFeatureValueLength {
		return fmt.Errorf("value too long for feature %s", cf.FeatureID)
	}
	cfCopy := *cf
	r.data.contentFeatures[cf.ID] = &cfCopy
	r.data.insert(cf.ID)
	return nil
}

func (r *Repository) ListContentFeatures(ctx context.Context, contentID uuid.UUID) ([]*libcloud.ContentFeature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.ContentFeature
	for _, cf := range r.data.contentFeatures {
		if cf.ContentID == contentID {
			cfCopy := *cf
			result = append(result, &cfCopy)
		}
	}
	sortByOrder(r.data, result, func(cf *libcloud.ContentFeature) uuid.UUID { return cf.ID }, false)
	return result, nil
}

func (r *Repository) CreateAttachment(ctx context.Context, a *libcloud.Attachment) error {
	defer r.lock()()

	if _, ok := r.data.contents[a.ContentID]; !ok {
		return errMissingReference
	}
	if _, ok := r.data.attachmentTypes[a.AttachmentTypeID]; !ok {
		return errMissingReference
	}
	aCopy := *a
	r.data.attachments[a.ID] = &aCopy
	r.data.insert(a.ID)
	return nil
}

func (r *Repository) ListAttachments(ctx context.Context, contentID uuid.UUID) ([]*libcloud.Attachment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*libcloud.Attachment
	for _, a := range r.data.attachments {
		if a.ContentID == contentID {
			aCopy := *a
			result = append(result, &aCopy)
		}
	}
	sortByOrder(r.data, result, func(a *libcloud.Attachment) uuid.UUID { return a.ID }, false)
	return result, nil
}

// Stats reports row counts, used by tests to verify atomic writes.
type Stats struct {
	Users           int
	AttachmentTypes int
	ContentTypes    int
	Features        int
	Libraries       int
	Contents        int
	ContentFeatures int
	Attachments     int
}

// Stats returns the number of rows per table.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := r.data
	return Stats{
		Users:           len(d.users),
		AttachmentTypes: len(d.attachmentTypes),
		ContentTypes:    len(d.contentTypes),
		Features:        len(d.features),
		Libraries:       len(d.libraries),
		Contents:        len(d.contents),
		ContentFeatures: len(d.contentFeatures),
		Attachments:     len(d.attachments),
	}
}
