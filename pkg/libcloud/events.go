package libcloud

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// UserRegistered does nothing
func (n *NoopEventSink) UserRegistered(ctx context.Context, user *User) {}

// ContentTypeCreated does nothing
func (n *NoopEventSink) ContentTypeCreated(ctx context.Context, ct *ContentType, features int) {}

// ContentCreated does nothing
func (n *NoopEventSink) ContentCreated(ctx context.Context, content *Content, features, attachments int) {
}

// AttachmentCreated does nothing
func (n *NoopEventSink) AttachmentCreated(ctx context.Context, a *Attachment) {}

// UserDeleted does nothing
func (n *NoopEventSink) UserDeleted(ctx context.Context, username string) {}

// LogEventSink writes an audit line per event to a slog.Logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink logging to logger
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

func (s *LogEventSink) UserRegistered(ctx context.Context, user *User) {
	s.logger.InfoContext(ctx, "User registered", "user_id", user.ID, "username", user.Username)
}

func (s *LogEventSink) ContentTypeCreated(ctx context.Context, ct *ContentType, features int) {
	s.logger.InfoContext(ctx, "Content type created",
		"content_type_id", ct.ID, "owner_id", ct.OwnerID, "features", features,
		"attachment_types", len(ct.AttachmentTypeIDs))
}

func (s *LogEventSink) ContentCreated(ctx context.Context, content *Content, features, attachments int) {
	s.logger.InfoContext(ctx, "Content created",
		"content_id", content.ID, "creator_id", content.CreatorID, "key", content.FileKey,
		"features", features, "attachments", attachments)
}

func (s *LogEventSink) AttachmentCreated(ctx context.Context, a *Attachment) {
	s.logger.InfoContext(ctx, "Attachment created", "attachment_id", a.ID, "content_id", a.ContentID, "key", a.FileKey)
}

func (s *LogEventSink) UserDeleted(ctx context.Context, username string) {
	s.logger.InfoContext(ctx, "User deleted", "username", username)
}
