package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/libcloud/pkg/libcloud"
)

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements libcloud.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ libcloud.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// WithTx runs fn inside a transaction. Nested calls become savepoints.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx libcloud.Repository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx})
	})
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "username") {
				return libcloud.ErrUsernameTaken
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "22001": // string_data_right_truncation
			return fmt.Errorf("value too long in %s", operation)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// notFound maps pgx.ErrNoRows to the given sentinel.
func (r *Repository) notFound(operation string, err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return r.handlePostgresError(operation, err)
}

// exec runs a statement that must touch at least one row.
func (r *Repository) exec(ctx context.Context, operation string, sentinel error, query string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return r.handlePostgresError(operation, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel
	}
	return nil
}

// User operations

func (r *Repository) CreateUser(ctx context.Context, user *libcloud.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create user", err)
	}
	return nil
}

const userColumns = `id, username, email, password_hash, created_at`

func scanUser(row pgx.Row) (*libcloud.User, error) {
	var u libcloud.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*libcloud.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, r.notFound("get user", err, libcloud.ErrUserNotFound)
	}
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*libcloud.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, r.notFound("get user by username", err, libcloud.ErrUserNotFound)
	}
	return u, nil
}

func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "delete user", libcloud.ErrUserNotFound, `DELETE FROM users WHERE id = $1`, id)
}

// Attachment type operations

func (r *Repository) CreateAttachmentType(ctx context.Context, at *libcloud.AttachmentType) error {
	query := `
		INSERT INTO attachment_types (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, at.ID, at.OwnerID, at.Name, at.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create attachment type", err)
	}
	return nil
}

func (r *Repository) GetAttachmentType(ctx context.Context, id uuid.UUID) (*libcloud.AttachmentType, error) {
	query := `SELECT id, owner_id, name, created_at FROM attachment_types WHERE id = $1`

	var at libcloud.AttachmentType
	err := r.db.QueryRow(ctx, query, id).Scan(&at.ID, &at.OwnerID, &at.Name, &at.CreatedAt)
	if err != nil {
		return nil, r.notFound("get attachment type", err, libcloud.ErrAttachmentTypeNotFound)
	}
	return &at, nil
}

func (r *Repository) ListAttachmentTypes(ctx context.Context, ownerID uuid.UUID) ([]*libcloud.AttachmentType, error) {
	query := `
		SELECT id, owner_id, name, created_at FROM attachment_types
		WHERE owner_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list attachment types", err)
	}
	defer rows.Close()

	var result []*libcloud.AttachmentType
	for rows.Next() {
		var at libcloud.AttachmentType
		if err := rows.Scan(&at.ID, &at.OwnerID, &at.Name, &at.CreatedAt); err != nil {
			return nil, r.handlePostgresError("scan attachment type", err)
		}
		result = append(result, &at)
	}
	return result, rows.Err()
}

func (r *Repository) DeleteAttachmentType(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "delete attachment type", libcloud.ErrAttachmentTypeNotFound, `DELETE FROM attachment_types WHERE id = $1`, id)
}

// Content type operations

func (r *Repository) CreateContentType(ctx context.Context, ct *libcloud.ContentType) error {
	query := `
		INSERT INTO content_types (id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, ct.ID, ct.OwnerID, ct.Name, ct.CreatedAt); err != nil {
		return r.handlePostgresError("create content type", err)
	}

	for i, atID := range ct.AttachmentTypeIDs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO content_type_attachment_types (content_type_id, attachment_type_id, position)
			VALUES ($1, $2, $3)`, ct.ID, atID, i)
		if err != nil {
			return r.handlePostgresError("link attachment type", err)
		}
	}
	return nil
}

func (r *Repository) attachmentTypeIDs(ctx context.Context, contentTypeID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT attachment_type_id FROM content_type_attachment_types
		WHERE content_type_id = $1 ORDER BY position`

	rows, err := r.db.Query(ctx, query, contentTypeID)
	if err != nil {
		return nil, r.handlePostgresError("list content type attachment types", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, r.handlePostgresError("scan attachment type id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) GetContentType(ctx context.Context, id uuid.UUID) (*libcloud.ContentType, error) {
	query := `SELECT id, owner_id, name, created_at FROM content_types WHERE id = $1`

	var ct libcloud.ContentType
	err := r.db.QueryRow(ctx, query, id).Scan(&ct.ID, &ct.OwnerID, &ct.Name, &ct.CreatedAt)
	if err != nil {
		return nil, r.notFound("get content type", err, libcloud.ErrContentTypeNotFound)
	}

	ct.AttachmentTypeIDs, err = r.attachmentTypeIDs(ctx, ct.ID)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (r *Repository) ListContentTypes(ctx context.Context, ownerID uuid.UUID) ([]*libcloud.ContentType, error) {
	query := `
		SELECT id, owner_id, name, created_at FROM content_types
		WHERE owner_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list content types", err)
	}

	var result []*libcloud.ContentType
	for rows.Next() {
		var ct libcloud.ContentType
		if err := rows.Scan(&ct.ID, &ct.OwnerID, &ct.Name, &ct.CreatedAt); err != nil {
			rows.Close()
			return nil, r.handlePostgresError("scan content type", err)
		}
		result = append(result, &ct)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list content types", err)
	}

	// the connection must be released before issuing follow-up queries on a tx
	for _, ct := range result {
		if ct.AttachmentTypeIDs, err = r.attachmentTypeIDs(ctx, ct.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *Repository) DeleteContentType(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "delete content type", libcloud.ErrContentTypeNotFound, `DELETE FROM content_types WHERE id = $1`, id)
}

func (r *Repository) CreateContentTypeFeature(ctx context.Context, f *libcloud.ContentTypeFeature) error {
	query := `
		INSERT INTO content_type_features (id, content_type_id, name, feature_type, required, position)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query, f.ID, f.ContentTypeID, f.Name, int(f.Type), f.Required, f.Position)
	if err != nil {
		return r.handlePostgresError("create content type feature", err)
	}
	return nil
}

func (r *Repository) ListContentTypeFeatures(ctx context.Context, contentTypeID uuid.UUID) ([]*libcloud.ContentTypeFeature, error) {
	query := `
		SELECT id, content_type_id, name, feature_type, required, position
		FROM content_type_features WHERE content_type_id = $1 ORDER BY position, id`

	rows, err := r.db.Query(ctx, query, contentTypeID)
	if err != nil {
		return nil, r.handlePostgresError("list content type features", err)
	}
	defer rows.Close()

	var result []*libcloud.ContentTypeFeature
	for rows.Next() {
		var f libcloud.ContentTypeFeature
		var featureType int
		if err := rows.Scan(&f.ID, &f.ContentTypeID, &f.Name, &featureType, &f.Required, &f.Position); err != nil {
			return nil, r.handlePostgresError("scan content type feature", err)
		}
		f.Type = libcloud.FeatureType(featureType)
		result = append(result, &f)
	}
	return result, rows.Err()
}

// Library operations

func (r *Repository) CreateLibrary(ctx context.Context, lib *libcloud.Library) error {
	query := `
		INSERT INTO libraries (id, owner_id, name, content_type_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, lib.ID, lib.OwnerID, lib.Name, lib.ContentTypeID, lib.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create library", err)
	}
	return nil
}

func (r *Repository) GetLibrary(ctx context.Context, id uuid.UUID) (*libcloud.Library, error) {
	query := `SELECT id, owner_id, name, content_type_id, created_at FROM libraries WHERE id = $1`

	var lib libcloud.Library
	err := r.db.QueryRow(ctx, query, id).Scan(&lib.ID, &lib.OwnerID, &lib.Name, &lib.ContentTypeID, &lib.CreatedAt)
	if err != nil {
		return nil, r.notFound("get library", err, libcloud.ErrLibraryNotFound)
	}
	return &lib, nil
}

func (r *Repository) ListLibraries(ctx context.Context, ownerID uuid.UUID) ([]*libcloud.LibrarySummary, error) {
	query := `
		SELECT l.id, l.owner_id, l.name, l.content_type_id, l.created_at, COUNT(c.id)
		FROM libraries l
		LEFT JOIN contents c ON c.library_id = l.id
		WHERE l.owner_id = $1
		GROUP BY l.id
		ORDER BY COUNT(c.id) DESC, l.created_at, l.id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list libraries", err)
	}
	defer rows.Close()

	var result []*libcloud.LibrarySummary
	for rows.Next() {
		var s libcloud.LibrarySummary
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.ContentTypeID, &s.CreatedAt, &s.ContentCount); err != nil {
			return nil, r.handlePostgresError("scan library", err)
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}

func (r *Repository) DeleteLibrary(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "delete library", libcloud.ErrLibraryNotFound, `DELETE FROM libraries WHERE id = $1`, id)
}

// Content operations

const contentColumns = `id, creator_id, content_type_id, file_key, library_id, created_at, updated_at`

func scanContent(row pgx.Row) (*libcloud.Content, error) {
	var c libcloud.Content
	err := row.Scan(&c.ID, &c.CreatorID, &c.ContentTypeID, &c.FileKey, &c.LibraryID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) listContent(ctx context.Context, operation, query string, args ...interface{}) ([]*libcloud.Content, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	defer rows.Close()

	var result []*libcloud.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, r.handlePostgresError(operation, err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *Repository) CreateContent(ctx context.Context, content *libcloud.Content) error {
	query := `
		INSERT INTO contents (` + contentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		content.ID, content.CreatorID, content.ContentTypeID, content.FileKey,
		content.LibraryID, content.CreatedAt, content.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create content", err)
	}
	return nil
}

func (r *Repository) GetContent(ctx context.Context, id uuid.UUID) (*libcloud.Content, error) {
	c, err := scanContent(r.db.QueryRow(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = $1`, id))
	if err != nil {
		return nil, r.notFound("get content", err, libcloud.ErrContentNotFound)
	}
	return c, nil
}

func (r *Repository) ListContent(ctx context.Context, creatorID uuid.UUID, limit int) ([]*libcloud.Content, error) {
	query := `
		SELECT ` + contentColumns + ` FROM contents
		WHERE creator_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2::bigint, 0)`

	return r.listContent(ctx, "list content", query, creatorID, int64(limit))
}

func (r *Repository) ListLibraryContent(ctx context.Context, libraryID uuid.UUID) ([]*libcloud.Content, error) {
	query := `
		SELECT ` + contentColumns + ` FROM contents
		WHERE library_id = $1
		ORDER BY created_at DESC, id`

	return r.listContent(ctx, "list library content", query, libraryID)
}

func (r *Repository) UpdateContentLibrary(ctx context.Context, contentID uuid.UUID, libraryID *uuid.UUID) error {
	query := `UPDATE contents SET library_id = $2, updated_at = now() WHERE id = $1`
	return r.exec(ctx, "update content library", libcloud.ErrContentNotFound, query, contentID, libraryID)
}

func (r *Repository) ReassignContent(ctx context.Context, fromUserID, toUserID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE contents SET creator_id = $2 WHERE creator_id = $1`, fromUserID, toUserID)
	if err != nil {
		return r.handlePostgresError("reassign content", err)
	}
	return nil
}

func (r *Repository) CreateContentFeature(ctx context.Context, cf *libcloud.ContentFeature) error {
	query := `
		INSERT INTO content_features (id, content_id, feature_id, value)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, cf.ID, cf.ContentID, cf.FeatureID, cf.Value)
	if err != nil {
		return r.handlePostgresError("create content feature", err)
	}
	return nil
}

func (r *Repository) ListContentFeatures(ctx context.Context, contentID uuid.UUID) ([]*libcloud.ContentFeature, error) {
	query := `
		SELECT cf.id, cf.content_id, cf.feature_id, cf.value
		FROM content_features cf
		JOIN content_type_features f ON f.id = cf.feature_id
		WHERE cf.content_id = $1
		ORDER BY f.position, cf.id`

	rows, err := r.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, r.handlePostgresError("list content features", err)
	}
	defer rows.Close()

	var result []*libcloud.ContentFeature
	for rows.Next() {
		var cf libcloud.ContentFeature
		if err := rows.Scan(&cf.ID, &cf.ContentID, &cf.FeatureID, &cf.Value); err != nil {
			return nil, r.handlePostgresError("scan content feature", err)
		}
		result = append(result, &cf)
	}
	return result, rows.Err()
}

func (r *Repository) CreateAttachment(ctx context.Context, a *libcloud.Attachment) error {
	query := `
		INSERT INTO attachments (id, content_id, attachment_type_id, file_key, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, a.ID, a.ContentID, a.AttachmentTypeID, a.FileKey, a.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create attachment", err)
	}
	return nil
}

func (r *Repository) ListAttachments(ctx context.Context, contentID uuid.UUID) ([]*libcloud.Attachment, error) {
	query := `
		SELECT id, content_id, attachment_type_id, file_key, created_at
		FROM attachments WHERE content_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, r.handlePostgresError("list attachments", err)
	}
	defer rows.Close()

	var result []*libcloud.Attachment
	for rows.Next() {
		var a libcloud.Attachment
		if err := rows.Scan(&a.ID, &a.ContentID, &a.AttachmentTypeID, &a.FileKey, &a.CreatedAt); err != nil {
			return nil, r.handlePostgresError("scan attachment", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
