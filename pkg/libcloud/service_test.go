package libcloud_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/libcloud/pkg/libcloud"
	memoryrepo "github.com/tendant/libcloud/pkg/libcloud/repo/memory"
	memorystore "github.com/tendant/libcloud/pkg/libcloud/storage/memory"
	"golang.org/x/crypto/bcrypt"
)

// flakyStore fails uploads whose key contains failOn.
type flakyStore struct {
	*memorystore.Backend
	failOn string
}

func (s *flakyStore) Upload(ctx context.Context, key string, r io.Reader) error {
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		return errors.New("disk full")
	}
	return s.Backend.Upload(ctx, key, r)
}

type env struct {
	svc   libcloud.Service
	repo  *memoryrepo.Repository
	store *flakyStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := memoryrepo.New()
	store := &flakyStore{Backend: memorystore.New()}
	svc, err := libcloud.New(
		libcloud.WithRepository(repo),
		libcloud.WithBlobStore(store),
		libcloud.WithPasswordCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	return &env{svc: svc, repo: repo, store: store}
}

func (e *env) register(t *testing.T, username string) *libcloud.User {
	t.Helper()
	user, err := e.svc.Register(context.Background(), libcloud.RegisterRequest{
		Username:  username,
		Email:     username + "@example.com",
		Password1: "correct horse",
		Password2: "correct horse",
	})
	require.NoError(t, err)
	return user
}

type schema struct {
	subtitles *libcloud.AttachmentType
	poster    *libcloud.AttachmentType
	movie     *libcloud.ContentType
	length    *libcloud.ContentTypeFeature
	director  *libcloud.ContentTypeFeature
	films     *libcloud.Library
}

// movieSchema declares a "movie" type with a required Number and an
// optional String feature; only subtitles may be attached.
func (e *env) movieSchema(t *testing.T, user *libcloud.User) schema {
	t.Helper()
	ctx := context.Background()

	subtitles, err := e.svc.CreateAttachmentType(ctx, user.ID, "subtitles")
	require.NoError(t, err)
	poster, err := e.svc.CreateAttachmentType(ctx, user.ID, "poster")
	require.NoError(t, err)

	movie, err := e.svc.CreateContentType(ctx, libcloud.CreateContentTypeRequest{
		OwnerID:           user.ID,
		Name:              "movie",
		AttachmentTypeIDs: []uuid.UUID{subtitles.ID},
		Features: []libcloud.FeatureDeclaration{
			{Name: "length", Type: "Number", Required: true},
			{Name: "director", Type: "String"},
		},
	})
	require.NoError(t, err)
	details, err := e.svc.GetContentType(ctx, user.ID, movie.ID)
	require.NoError(t, err)
	require.Len(t, details.Features, 2)

	films, err := e.svc.CreateLibrary(ctx, libcloud.CreateLibraryRequest{OwnerID: user.ID, Name: "films", ContentTypeID: movie.ID})
	require.NoError(t, err)

	return schema{
		subtitles: subtitles,
		poster:    poster,
		movie:     movie,
		length:    details.Features[0],
		director:  details.Features[1],
		films:     films,
	}
}

func file(name, data string) *libcloud.Upload {
	return &libcloud.Upload{Filename: name, Size: int64(len(data)), Reader: strings.NewReader(data)}
}

func validationFields(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *libcloud.ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Fields
}

func TestService_Register(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	alice := e.register(t, "alice")
	assert.Equal(t, "user_alice", alice.Namespace())

	_, err := e.svc.Register(ctx, libcloud.RegisterRequest{
		Username: "alice", Email: "other@example.com", Password1: "correct horse", Password2: "correct horse",
	})
	assert.Contains(t, validationFields(t, err)[libcloud.FieldUsername], libcloud.ErrUsernameTaken.Error())

	_, err = e.svc.Register(ctx, libcloud.RegisterRequest{
		Username: libcloud.SentinelUsername, Email: "d@example.com", Password1: "correct horse", Password2: "correct horse",
	})
	assert.Contains(t, validationFields(t, err), libcloud.FieldUsername)

	_, err = e.svc.Register(ctx, libcloud.RegisterRequest{
		Username: "bob", Email: "bob", Password1: "12345678", Password2: "12345678",
	})
	fields := validationFields(t, err)
	assert.Contains(t, fields, libcloud.FieldEmail)
	assert.Equal(t, []string{"This password is entirely numeric."}, fields[libcloud.FieldPassword2])

	user, err := e.svc.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)

	_, err = e.svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, libcloud.ErrInvalidCredentials)
	_, err = e.svc.Authenticate(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, libcloud.ErrInvalidCredentials)
}

func TestService_CreateContentType(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")

	bobs, err := e.svc.CreateAttachmentType(ctx, bob.ID, "cover")
	require.NoError(t, err)

	before := e.repo.Stats()
	_, err = e.svc.CreateContentType(ctx, libcloud.CreateContentTypeRequest{
		OwnerID:           alice.ID,
		Name:              "book",
		AttachmentTypeIDs: []uuid.UUID{bobs.ID},
		Features:          []libcloud.FeatureDeclaration{{Name: "pages", Type: "1"}},
	})
	assert.Contains(t, validationFields(t, err), libcloud.FieldAttachmentList)
	assert.Equal(t, before, e.repo.Stats())

	_, err = e.svc.CreateContentType(ctx, libcloud.CreateContentTypeRequest{
		OwnerID:  alice.ID,
		Name:     "book",
		Features: []libcloud.FeatureDeclaration{{Name: "pages"}, {Name: "", Type: ""}, {Name: "isbn", Type: "9"}},
	})
	fields := validationFields(t, err)
	assert.Equal(t, []string{libcloud.MsgRequired}, fields[libcloud.DeclarationField(0)+".type"])
	assert.Contains(t, fields, libcloud.DeclarationField(2)+".type")
	assert.NotContains(t, fields, libcloud.DeclarationField(1)+".name")
	assert.Equal(t, before, e.repo.Stats())

	ct, err := e.svc.CreateContentType(ctx, libcloud.CreateContentTypeRequest{
		OwnerID:  alice.ID,
		Name:     "book",
		Features: []libcloud.FeatureDeclaration{{Name: "pages", Type: "1", Required: true}, {}, {Name: "read", Type: "3"}},
	})
	require.NoError(t, err)
	details, err := e.svc.GetContentType(ctx, alice.ID, ct.ID)
	require.NoError(t, err)
	require.Len(t, details.Features, 2)
	assert.Equal(t, "pages", details.Features[0].Name)
	assert.Equal(t, libcloud.FeatureBoolean, details.Features[1].Type)
	assert.Empty(t, details.AttachmentTypes)

	_, err = e.svc.GetContentType(ctx, bob.ID, ct.ID)
	assert.ErrorIs(t, err, libcloud.ErrNotFound)
}

func TestService_CreateContentRowCounts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	s := e.movieSchema(t, alice)

	tests := []struct {
		name        string
		features    map[uuid.UUID]string
		attachments int
		wantValues  int
	}{
		{"required only", map[uuid.UUID]string{s.length.ID: "90"}, 0, 1},
		{"optional blank", map[uuid.UUID]string{s.length.ID: "90", s.director.ID: "  "}, 1, 1},
		{"all features", map[uuid.UUID]string{s.length.ID: "1e2", s.director.ID: "Mann"}, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := e.repo.Stats()
			keys := len(e.store.Keys())

			req := libcloud.CreateContentRequest{
				CreatorID:     alice.ID,
				ContentTypeID: s.movie.ID,
				LibraryID:     &s.films.ID,
				File:          file("heat.mp4", "movie"),
				Features:      tt.features,
			}
			for i := 0; i < tt.attachments; i++ {
				req.Attachments = append(req.Attachments, libcloud.AttachmentUpload{TypeID: s.subtitles.ID, File: file("sub.srt", "subs")})
			}
			// untouched rows are ignored
			req.Attachments = append(req.Attachments, libcloud.AttachmentUpload{})

			content, err := e.svc.CreateContent(ctx, req)
			require.NoError(t, err)

			after := e.repo.Stats()
			assert.Equal(t, before.Contents+1, after.Contents)
			assert.Equal(t, before.ContentFeatures+tt.wantValues, after.ContentFeatures)
			assert.Equal(t, before.Attachments+tt.attachments, after.Attachments)
			assert.Len(t, e.store.Keys(), keys+1+tt.attachments)

			details, err := e.svc.GetContent(ctx, alice.ID, content.ID)
			require.NoError(t, err)
			assert.Equal(t, s.films.ID, details.Library.ID)
			assert.Len(t, details.Attachments, tt.attachments)
		})
	}

	contents, err := e.svc.ListContent(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contents, 3)
	// keys stay unique across uploads of the same filename
	seen := make(map[string]bool)
	for _, c := range contents {
		assert.False(t, seen[c.FileKey], c.FileKey)
		seen[c.FileKey] = true
		assert.True(t, strings.HasPrefix(c.FileKey, "user_alice/heat"))
	}
}

func TestService_CreateContentStoresNumbers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	s := e.movieSchema(t, alice)

	content, err := e.svc.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     alice.ID,
		ContentTypeID: s.movie.ID,
		File:          file("heat.mp4", "movie"),
		Features:      map[uuid.UUID]string{s.length.ID: "170.0"},
	})
	require.NoError(t, err)

	details, err := e.svc.GetContent(ctx, alice.ID, content.ID)
	require.NoError(t, err)
	require.Len(t, details.Features, 2)
	assert.Equal(t, "170", details.Features[0].Value)
	assert.Equal(t, "", details.Features[1].Value)
	assert.Nil(t, details.Library)
}

func TestService_CreateContentRejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	s := e.movieSchema(t, alice)

	book, err := e.svc.CreateContentType(ctx, libcloud.CreateContentTypeRequest{OwnerID: alice.ID, Name: "book"})
	require.NoError(t, err)
	shelf, err := e.svc.CreateLibrary(ctx, libcloud.CreateLibraryRequest{OwnerID: alice.ID, Name: "shelf", ContentTypeID: book.ID})
	require.NoError(t, err)

	valid := func() libcloud.CreateContentRequest {
		return libcloud.CreateContentRequest{
			CreatorID:     alice.ID,
			ContentTypeID: s.movie.ID,
			File:          file("heat.mp4", "movie"),
			Features:      map[uuid.UUID]string{s.length.ID: "90"},
		}
	}

	tests := []struct {
		name   string
		modify func(*libcloud.CreateContentRequest)
		check  func(t *testing.T, err error)
	}{
		{"library of another type", func(r *libcloud.CreateContentRequest) { r.LibraryID = &shelf.ID }, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, libcloud.ErrLibraryContentTypeMismatch)
		}},
		{"number is not numeric", func(r *libcloud.CreateContentRequest) { r.Features[s.length.ID] = "ninety" }, func(t *testing.T, err error) {
			assert.Equal(t, []string{libcloud.MsgInvalidNumber}, validationFields(t, err)[libcloud.FeatureField(s.length.ID)])
		}},
		{"required feature missing", func(r *libcloud.CreateContentRequest) { delete(r.Features, s.length.ID) }, func(t *testing.T, err error) {
			assert.Equal(t, []string{libcloud.MsgRequired}, validationFields(t, err)[libcloud.FeatureField(s.length.ID)])
		}},
		{"disallowed attachment type", func(r *libcloud.CreateContentRequest) {
			r.Attachments = []libcloud.AttachmentUpload{{TypeID: s.poster.ID, File: file("p.png", "png")}}
		}, func(t *testing.T, err error) {
			assert.Equal(t, []string{libcloud.ErrAttachmentTypeNotAllowed.Error()}, validationFields(t, err)[libcloud.AttachmentField(0)+".type"])
		}},
		{"attachment without file", func(r *libcloud.CreateContentRequest) {
			r.Attachments = []libcloud.AttachmentUpload{{}, {TypeID: s.subtitles.ID}}
		}, func(t *testing.T, err error) {
			assert.Equal(t, []string{libcloud.MsgNoFile}, validationFields(t, err)[libcloud.AttachmentField(1)+".file"])
		}},
		{"empty file", func(r *libcloud.CreateContentRequest) { r.File = file("heat.mp4", "") }, func(t *testing.T, err error) {
			assert.Equal(t, []string{libcloud.MsgEmptyFile}, validationFields(t, err)[libcloud.FieldFile])
		}},
		{"foreign feature", func(r *libcloud.CreateContentRequest) { r.Features[uuid.New()] = "x" }, func(t *testing.T, err error) {
			var verr *libcloud.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Len(t, verr.NonField, 1)
		}},
		{"other user's content type", func(r *libcloud.CreateContentRequest) { r.CreatorID = bob.ID }, func(t *testing.T, err error) {
			assert.Contains(t, validationFields(t, err), libcloud.FieldContentType)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := e.repo.Stats()
			req := valid()
			tt.modify(&req)

			_, err := e.svc.CreateContent(ctx, req)
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, before, e.repo.Stats())
			assert.Empty(t, e.store.Keys())
		})
	}
}

func TestService_CreateContentRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	s := e.movieSchema(t, alice)
	before := e.repo.Stats()

	e.store.failOn = "broken"
	_, err := e.svc.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     alice.ID,
		ContentTypeID: s.movie.ID,
		File:          file("heat.mp4", "movie"),
		Features:      map[uuid.UUID]string{s.length.ID: "90", s.director.ID: "Mann"},
		Attachments: []libcloud.AttachmentUpload{
			{TypeID: s.subtitles.ID, File: file("en.srt", "subs")},
			{TypeID: s.subtitles.ID, File: file("broken.srt", "subs")},
		},
	})
	require.Error(t, err)
	var storageErr *libcloud.StorageError
	assert.ErrorAs(t, err, &storageErr)

	assert.Equal(t, before, e.repo.Stats())
	assert.Empty(t, e.store.Keys())
}

func TestService_CrossUserIsolation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	s := e.movieSchema(t, alice)

	content, err := e.svc.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     alice.ID,
		ContentTypeID: s.movie.ID,
		File:          file("heat.mp4", "movie"),
		Features:      map[uuid.UUID]string{s.length.ID: "90"},
	})
	require.NoError(t, err)

	counts := func(id uuid.UUID) []int {
		ats, err := e.svc.ListAttachmentTypes(ctx, id)
		require.NoError(t, err)
		cts, err := e.svc.ListContentTypes(ctx, id)
		require.NoError(t, err)
		libs, err := e.svc.ListLibraries(ctx, id)
		require.NoError(t, err)
		contents, err := e.svc.ListContent(ctx, id)
		require.NoError(t, err)
		return []int{len(ats), len(cts), len(libs), len(contents)}
	}
	assert.Equal(t, []int{2, 1, 1, 1}, counts(alice.ID))
	assert.Equal(t, []int{0, 0, 0, 0}, counts(bob.ID))

	_, err = e.svc.GetContent(ctx, bob.ID, content.ID)
	assert.ErrorIs(t, err, libcloud.ErrNotFound)
	_, err = e.svc.GetLibrary(ctx, bob.ID, s.films.ID)
	assert.ErrorIs(t, err, libcloud.ErrNotFound)

	_, _, err = e.svc.OpenFile(ctx, bob, "user_alice", "heat.mp4")
	assert.ErrorIs(t, err, libcloud.ErrFileNotFound)
	_, _, err = e.svc.OpenFile(ctx, alice, "user_alice", "../heat.mp4")
	assert.ErrorIs(t, err, libcloud.ErrFileNotFound)

	rc, meta, err := e.svc.OpenFile(ctx, alice, "user_alice", "heat.mp4")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "movie", string(data))
	assert.Equal(t, int64(5), meta.Size)

	home, err := e.svc.Home(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, home.RecentContent, 1)
	require.Len(t, home.Libraries, 1)
	assert.Equal(t, 0, home.Libraries[0].ContentCount)
}

func TestService_ReassignLibrary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	s := e.movieSchema(t, alice)
	bobs := e.movieSchema(t, bob)

	content, err := e.svc.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     alice.ID,
		ContentTypeID: s.movie.ID,
		File:          file("heat.mp4", "movie"),
		Features:      map[uuid.UUID]string{s.length.ID: "90"},
	})
	require.NoError(t, err)

	moved, err := e.svc.ReassignLibrary(ctx, libcloud.ReassignLibraryRequest{UserID: alice.ID, ContentID: content.ID, LibraryID: &s.films.ID})
	require.NoError(t, err)
	assert.Equal(t, s.films.ID, *moved.LibraryID)

	_, err = e.svc.ReassignLibrary(ctx, libcloud.ReassignLibraryRequest{UserID: alice.ID, ContentID: content.ID, LibraryID: &bobs.films.ID})
	assert.Equal(t, []string{libcloud.ErrInvalidLibrary.Error()}, validationFields(t, err)[libcloud.FieldLibrary])

	_, err = e.svc.ReassignLibrary(ctx, libcloud.ReassignLibraryRequest{UserID: bob.ID, ContentID: content.ID, LibraryID: &bobs.films.ID})
	assert.ErrorIs(t, err, libcloud.ErrNotFound)

	moved, err = e.svc.ReassignLibrary(ctx, libcloud.ReassignLibraryRequest{UserID: alice.ID, ContentID: content.ID})
	require.NoError(t, err)
	assert.Nil(t, moved.LibraryID)
}

func TestService_CreateAttachment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	s := e.movieSchema(t, alice)

	content, err := e.svc.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     alice.ID,
		ContentTypeID: s.movie.ID,
		File:          file("heat.mp4", "movie"),
		Features:      map[uuid.UUID]string{s.length.ID: "90"},
	})
	require.NoError(t, err)

	a, err := e.svc.CreateAttachment(ctx, libcloud.CreateAttachmentRequest{UserID: alice.ID, ContentID: content.ID, TypeID: s.subtitles.ID, File: file("en.srt", "subs")})
	require.NoError(t, err)
	assert.Equal(t, "user_alice/heat_en.srt", a.FileKey)

	_, err = e.svc.CreateAttachment(ctx, libcloud.CreateAttachmentRequest{UserID: alice.ID, ContentID: content.ID, TypeID: s.poster.ID, File: file("p.png", "png")})
	assert.ErrorIs(t, err, libcloud.ErrAttachmentTypeNotAllowed)

	e.store.failOn = "fr.srt"
	_, err = e.svc.CreateAttachment(ctx, libcloud.CreateAttachmentRequest{UserID: alice.ID, ContentID: content.ID, TypeID: s.subtitles.ID, File: file("fr.srt", "subs")})
	require.Error(t, err)

	assert.Equal(t, 1, e.repo.Stats().Attachments)
	assert.Equal(t, []string{"user_alice/heat.mp4", "user_alice/heat_en.srt"}, e.store.Keys())
}

func TestService_DeleteUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	bobs := e.movieSchema(t, bob)
	e.movieSchema(t, alice)

	_, err := e.svc.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     bob.ID,
		ContentTypeID: bobs.movie.ID,
		File:          file("heat.mp4", "movie"),
		Features:      map[uuid.UUID]string{bobs.length.ID: "90"},
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteUser(ctx, "alice"))

	_, err = e.svc.GetUser(ctx, alice.ID)
	assert.ErrorIs(t, err, libcloud.ErrNotFound)
	types, err := e.svc.ListContentTypes(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, types)

	// bob's rows are untouched
	contents, err := e.svc.ListContent(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, contents, 1)

	assert.ErrorIs(t, e.svc.DeleteUser(ctx, "alice"), libcloud.ErrNotFound)
	assert.Error(t, e.svc.DeleteUser(ctx, libcloud.SentinelUsername))

	_, err = e.svc.Authenticate(ctx, libcloud.SentinelUsername, "")
	assert.ErrorIs(t, err, libcloud.ErrInvalidCredentials)
}
