package web_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/libcloud/pkg/libcloud"
	memoryrepo "github.com/tendant/libcloud/pkg/libcloud/repo/memory"
	memorystore "github.com/tendant/libcloud/pkg/libcloud/storage/memory"
	"github.com/tendant/libcloud/pkg/libcloud/web"
	"golang.org/x/crypto/bcrypt"
)

type testApp struct {
	service libcloud.Service
	store   *memorystore.Backend
	handler http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := memorystore.New()
	svc, err := libcloud.New(
		libcloud.WithRepository(memoryrepo.New()),
		libcloud.WithBlobStore(store),
		libcloud.WithPasswordCost(bcrypt.MinCost),
	)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := web.NewServer(svc, web.Config{SessionSecret: "test-secret-test-secret-test-secret"}, logger)
	require.NoError(t, err)

	return &testApp{service: svc, store: store, handler: srv.Routes()}
}

// client keeps cookies between requests like a browser.
type client struct {
	t       *testing.T
	app     *testApp
	cookies map[string]*http.Cookie
}

func (a *testApp) client(t *testing.T) *client {
	return &client{t: t, app: a, cookies: make(map[string]*http.Cookie)}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	rec := httptest.NewRecorder()
	c.app.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (c *client) postForm(target string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

type upload struct {
	name string
	data string
}

func (c *client) postMultipart(target string, fields map[string]string, files map[string]upload) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(c.t, mw.WriteField(k, v))
	}
	for field, f := range files {
		fw, err := mw.CreateFormFile(field, f.name)
		require.NoError(c.t, err)
		_, err = io.WriteString(fw, f.data)
		require.NoError(c.t, err)
	}
	require.NoError(c.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

// register creates an account through the form and returns the user.
func (c *client) register(username string) *libcloud.User {
	rec := c.postForm("/register", url.Values{
		"username":  {username},
		"email":     {username + "@example.com"},
		"password1": {"correct horse"},
		"password2": {"correct horse"},
	})
	require.Equal(c.t, http.StatusFound, rec.Code, rec.Body.String())
	c.get("/")

	user, err := c.app.service.Authenticate(context.Background(), username, "correct horse")
	require.NoError(c.t, err)
	return user
}

func TestServer_Healthz(t *testing.T) {
	app := newTestApp(t)
	rec := app.client(t).get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_RequiresLogin(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	for _, path := range []string{"/content", "/libraries", "/content-types/new", "/attachment-types"} {
		rec := c.get(path)
		assert.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, "/login?next="+url.QueryEscape(path), rec.Header().Get("Location"))
	}

	rec := c.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/register"`)
}

func TestServer_RegisterLoginLogout(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	rec := c.postForm("/register", url.Values{
		"username":  {"alice"},
		"email":     {"alice@example.com"},
		"password1": {"correct horse"},
		"password2": {"correct horse"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = c.get("/")
	assert.Contains(t, rec.Body.String(), "Registration successful.")
	assert.Contains(t, rec.Body.String(), "alice")

	// the flash is shown once
	rec = c.get("/")
	assert.NotContains(t, rec.Body.String(), "Registration successful.")

	rec = c.get("/logout")
	require.Equal(t, http.StatusFound, rec.Code)
	rec = c.get("/")
	assert.Contains(t, rec.Body.String(), "You have successfully logged out.")
	assert.Equal(t, http.StatusFound, c.get("/content").Code)

	rec = c.postForm("/login", url.Values{"username": {"alice"}, "password": {"wrong password"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password.")

	rec = c.postForm("/login", url.Values{"username": {"alice"}, "password": {"correct horse"}, "next": {"/libraries"}})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/libraries", rec.Header().Get("Location"))
	rec = c.get("/libraries")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You are now logged in as alice.")
}

func TestServer_LoginIgnoresOffsiteNext(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	c.register("alice")
	c.get("/logout")

	rec := c.postForm("/login", url.Values{"username": {"alice"}, "password": {"correct horse"}, "next": {"//evil.example.com"}})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestServer_RegisterInvalid(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)

	rec := c.postForm("/register", url.Values{
		"username":  {"alice"},
		"email":     {"not an email"},
		"password1": {"correct horse"},
		"password2": {"battery staple"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Unsuccessful registration. Invalid information.")
	assert.Contains(t, body, "Enter a valid email address.")
	assert.Contains(t, body, `value="alice"`)
	assert.NotContains(t, body, "correct horse")

	_, err := app.service.Authenticate(context.Background(), "alice", "correct horse")
	assert.ErrorIs(t, err, libcloud.ErrInvalidCredentials)
}

func TestServer_SchemaForms(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	alice := c.register("alice")
	ctx := context.Background()

	rec := c.postForm("/attachment-types", url.Values{"name": {"subtitles"}})
	require.Equal(t, http.StatusFound, rec.Code)
	rec = c.get("/attachment-types")
	assert.Contains(t, rec.Body.String(), "attachment type subtitles has been created")

	types, err := app.service.ListAttachmentTypes(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, types, 1)

	rec = c.postForm("/attachment-types", url.Values{"name": {""}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), libcloud.MsgRequired)

	rec = c.get("/content-types/new?rows=50")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="feature.19.name"`)
	assert.NotContains(t, rec.Body.String(), `name="feature.20.name"`)

	rec = c.postForm("/content-types/new", url.Values{
		"name":               {"movie"},
		"attachment_types":   {types[0].ID.String()},
		"feature.0.name":     {"length"},
		"feature.0.type":     {"1"},
		"feature.0.required": {"true"},
		"feature.1.name":     {"director"},
		"feature.1.type":     {"2"},
		"feature.2.name":     {""},
		"feature.2.type":     {""},
	})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	cts, err := app.service.ListContentTypes(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, cts, 1)
	assert.Equal(t, "/content-types/"+cts[0].ID.String(), rec.Header().Get("Location"))

	details, err := app.service.GetContentType(ctx, alice.ID, cts[0].ID)
	require.NoError(t, err)
	require.Len(t, details.Features, 2)
	assert.Equal(t, libcloud.FeatureNumber, details.Features[0].Type)
	assert.True(t, details.Features[0].Required)
	assert.Equal(t, libcloud.FeatureString, details.Features[1].Type)
	assert.False(t, details.Features[1].Required)
	require.Len(t, details.AttachmentTypes, 1)

	rec = c.get("/content-types/" + cts[0].ID.String())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "director")

	rec = c.postForm("/content-types/new", url.Values{
		"name":           {"broken"},
		"feature.0.name": {"size"},
		"feature.0.type": {"7"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Select a valid choice.")

	rec = c.postForm("/libraries/new", url.Values{"name": {"films"}, "type": {cts[0].ID.String()}})
	require.Equal(t, http.StatusFound, rec.Code)
	rec = c.get(rec.Header().Get("Location"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "films")
	assert.Contains(t, rec.Body.String(), "movie")

	rec = c.postForm("/libraries/new", url.Values{"name": {"films"}, "type": {"not-a-uuid"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type contentFixture struct {
	user    *libcloud.User
	atype   *libcloud.AttachmentType
	ctype   *libcloud.ContentType
	feature *libcloud.ContentTypeFeature
	library *libcloud.Library
}

func seedSchema(t *testing.T, app *testApp, user *libcloud.User) contentFixture {
	t.Helper()
	ctx := context.Background()

	at, err := app.service.CreateAttachmentType(ctx, user.ID, "subtitles")
	require.NoError(t, err)
	ct, err := app.service.CreateContentType(ctx, libcloud.CreateContentTypeRequest{
		OwnerID:           user.ID,
		Name:              "movie",
		AttachmentTypeIDs: []uuid.UUID{at.ID},
		Features:          []libcloud.FeatureDeclaration{{Name: "length", Type: "Number", Required: true}},
	})
	require.NoError(t, err)
	details, err := app.service.GetContentType(ctx, user.ID, ct.ID)
	require.NoError(t, err)
	lib, err := app.service.CreateLibrary(ctx, libcloud.CreateLibraryRequest{OwnerID: user.ID, Name: "films", ContentTypeID: ct.ID})
	require.NoError(t, err)

	return contentFixture{user: user, atype: at, ctype: ct, feature: details.Features[0], library: lib}
}

func TestServer_CreateContentAndDownload(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	f := seedSchema(t, app, c.register("alice"))
	ctx := context.Background()

	rec := c.postMultipart("/content/new/"+f.ctype.ID.String(), map[string]string{
		"library":                           f.library.ID.String(),
		libcloud.FeatureField(f.feature.ID): "90",
		"attachment.0.type":                 f.atype.ID.String(),
		"attachment.1.type":                 "",
	}, map[string]upload{
		"file":              {name: "heat.mp4", data: "movie bytes"},
		"attachment.0.file": {name: "en.srt", data: "subtitle bytes"},
	})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "/content/"))

	rec = c.get(location)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "content has been created.")
	assert.Contains(t, body, "heat.mp4")
	assert.Contains(t, body, "90")
	assert.Contains(t, body, "/media/user_alice/heat_en.srt")

	contents, err := app.service.ListContent(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.NotNil(t, contents[0].LibraryID)
	assert.Equal(t, f.library.ID, *contents[0].LibraryID)

	rec = c.get("/media/user_alice/heat.mp4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=heat.mp4", rec.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
	assert.Equal(t, "movie bytes", rec.Body.String())

	rec = c.get("/media/user_alice/heat_en.srt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "subtitle bytes", rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/media/user_alice/heat.mp4", nil)
	rec = c.do(req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/media/user_alice/heat.mp4", rec.Header().Get("Location"))
}

func TestServer_CreateContentInvalid(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	f := seedSchema(t, app, c.register("alice"))

	rec := c.postMultipart("/content/new/"+f.ctype.ID.String(), map[string]string{
		libcloud.FeatureField(f.feature.ID): "ninety",
	}, map[string]upload{
		"file": {name: "heat.mp4", data: "movie bytes"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), libcloud.MsgInvalidNumber)
	assert.Contains(t, rec.Body.String(), `value="ninety"`)

	rec = c.postMultipart("/content/new/"+f.ctype.ID.String(), map[string]string{
		libcloud.FeatureField(f.feature.ID): "90",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), libcloud.MsgNoFile)

	contents, err := app.service.ListContent(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, contents)
	assert.Empty(t, app.store.Keys())
}

func TestServer_RejectsRowIndexesPastLimit(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	f := seedSchema(t, app, c.register("alice"))
	ctx := context.Background()

	rec := c.postMultipart("/content/new/"+f.ctype.ID.String(), map[string]string{
		libcloud.FeatureField(f.feature.ID): "90",
		"attachment.2000000000.type":        f.atype.ID.String(),
	}, map[string]upload{
		"file": {name: "heat.mp4", data: "movie bytes"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	contents, err := app.service.ListContent(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, contents)
	assert.Empty(t, app.store.Keys())

	before, err := app.service.ListContentTypes(ctx, f.user.ID)
	require.NoError(t, err)
	for _, key := range []string{"feature.20.name", "feature.-1.name", "feature.x.name"} {
		rec = c.postForm("/content-types/new", url.Values{"name": {"song"}, key: {"length"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, key)
	}
	after, err := app.service.ListContentTypes(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestServer_MissingMedia(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	c.register("alice")

	rec := c.get("/media/user_alice/missing.txt")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	rec = c.get("/")
	assert.Contains(t, rec.Body.String(), "missing.txt doesn&#39;t exist.")
}

func TestServer_OtherUsersRows(t *testing.T) {
	app := newTestApp(t)
	alice := app.client(t)
	f := seedSchema(t, app, alice.register("alice"))

	content, err := app.service.CreateContent(context.Background(), libcloud.CreateContentRequest{
		CreatorID:     f.user.ID,
		ContentTypeID: f.ctype.ID,
		File:          &libcloud.Upload{Filename: "heat.mp4", Size: 3, Reader: strings.NewReader("abc")},
		Features:      map[uuid.UUID]string{f.feature.ID: "1"},
	})
	require.NoError(t, err)

	bob := app.client(t)
	bob.register("bob")

	assert.Equal(t, http.StatusNotFound, bob.get("/content/"+content.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, bob.get("/content-types/"+f.ctype.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, bob.get("/libraries/"+f.library.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, bob.get("/content/new/"+f.ctype.ID.String()).Code)
	assert.Equal(t, http.StatusNotFound, bob.get("/content/not-a-uuid").Code)

	rec := bob.get("/media/user_alice/heat.mp4")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	// the redirect leaves a flash naming the file; read it before listing
	rec = bob.get("/")
	assert.Contains(t, rec.Body.String(), "heat.mp4 doesn&#39;t exist.")

	rec = bob.get("/content")
	assert.NotContains(t, rec.Body.String(), "heat.mp4")
	assert.NotContains(t, rec.Body.String(), content.ID.String())
}

func TestServer_ReassignAndAttach(t *testing.T) {
	app := newTestApp(t)
	c := app.client(t)
	f := seedSchema(t, app, c.register("alice"))
	ctx := context.Background()

	content, err := app.service.CreateContent(ctx, libcloud.CreateContentRequest{
		CreatorID:     f.user.ID,
		ContentTypeID: f.ctype.ID,
		File:          &libcloud.Upload{Filename: "heat.mp4", Size: 3, Reader: strings.NewReader("abc")},
		Features:      map[uuid.UUID]string{f.feature.ID: "1"},
	})
	require.NoError(t, err)
	base := "/content/" + content.ID.String()

	rec := c.get(base + "/library")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "films")

	rec = c.postForm(base+"/library", url.Values{"library": {f.library.ID.String()}})
	require.Equal(t, http.StatusFound, rec.Code)
	details, err := app.service.GetContent(ctx, f.user.ID, content.ID)
	require.NoError(t, err)
	require.NotNil(t, details.Library)
	assert.Equal(t, f.library.ID, details.Library.ID)

	other, err := app.service.CreateContentType(ctx, libcloud.CreateContentTypeRequest{OwnerID: f.user.ID, Name: "book"})
	require.NoError(t, err)
	shelf, err := app.service.CreateLibrary(ctx, libcloud.CreateLibraryRequest{OwnerID: f.user.ID, Name: "shelf", ContentTypeID: other.ID})
	require.NoError(t, err)
	rec = c.postForm(base+"/library", url.Values{"library": {shelf.ID.String()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), libcloud.ErrLibraryContentTypeMismatch.Error())

	rec = c.postForm(base+"/library", url.Values{"library": {""}})
	require.Equal(t, http.StatusFound, rec.Code)
	details, err = app.service.GetContent(ctx, f.user.ID, content.ID)
	require.NoError(t, err)
	assert.Nil(t, details.Library)

	rec = c.get(base + "/attachments/new")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subtitles")

	rec = c.postMultipart(base+"/attachments/new", map[string]string{"type": f.atype.ID.String()}, map[string]upload{
		"file": {name: "fr.srt", data: "sous-titres"},
	})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, base, rec.Header().Get("Location"))

	foreign, err := app.service.CreateAttachmentType(ctx, f.user.ID, "poster")
	require.NoError(t, err)
	rec = c.postMultipart(base+"/attachments/new", map[string]string{"type": foreign.ID.String()}, map[string]upload{
		"file": {name: "poster.png", data: "png"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), libcloud.ErrAttachmentTypeNotAllowed.Error())

	details, err = app.service.GetContent(ctx, f.user.ID, content.ID)
	require.NoError(t, err)
	require.Len(t, details.Attachments, 1)
	assert.Equal(t, "user_alice/heat_fr.srt", details.Attachments[0].Attachment.FileKey)
}
