package libcloud

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeFilenameChars = regexp.MustCompile(`[^-\w.]`)

// CleanFilename reduces an uploaded file name to a safe base name.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

// ContentKey is the blob key of a content file owned by user.
func ContentKey(user *User, filename string) string {
	return user.Namespace() + "/" + CleanFilename(filename)
}

// AttachmentKey derives the key of an attachment file from its content's key.
func AttachmentKey(contentKey, filename string) string {
	stem := strings.TrimSuffix(contentKey, path.Ext(contentKey))
	return stem + "_" + CleanFilename(filename)
}

const maxKeyAttempts = 10

// availableKey returns key, or key with a random suffix before the
// extension when an object already exists there.
func (s *service) availableKey(ctx context.Context, key string, taken map[string]bool) (string, error) {
	candidate := key
	for i := 0; i < maxKeyAttempts; i++ {
		if !taken[candidate] {
			_, err := s.blobStore.GetObjectMeta(ctx, candidate)
			if errors.Is(err, ErrFileNotFound) {
				return candidate, nil
			}
			if err != nil {
				return "", &StorageError{Key: candidate, Op: "stat", Err: err}
			}
		}
		ext := path.Ext(key)
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
		candidate = strings.TrimSuffix(key, ext) + "_" + suffix + ext
	}
	return "", fmt.Errorf("no free key for %s after %d attempts", key, maxKeyAttempts)
}
