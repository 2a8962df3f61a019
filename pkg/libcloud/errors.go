package libcloud

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound is wrapped by every "not found" error below
	ErrNotFound = errors.New("not found")

	ErrUserNotFound           = fmt.Errorf("user %w", ErrNotFound)
	ErrAttachmentTypeNotFound = fmt.Errorf("attachment type %w", ErrNotFound)
	ErrContentTypeNotFound    = fmt.Errorf("content type %w", ErrNotFound)
	ErrLibraryNotFound        = fmt.Errorf("library %w", ErrNotFound)
	ErrContentNotFound        = fmt.Errorf("content %w", ErrNotFound)
	ErrFileNotFound           = fmt.Errorf("file %w", ErrNotFound)

	// ErrUsernameTaken indicates a registration with an existing username
	ErrUsernameTaken = errors.New("a user with that username already exists")

	// ErrInvalidCredentials indicates a failed login
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrLibraryContentTypeMismatch indicates content placed in a library of another content type
	ErrLibraryContentTypeMismatch = errors.New("chosen library has a different content type")

	// ErrAttachmentTypeNotAllowed indicates an attachment type outside the content type's allow-list
	ErrAttachmentTypeNotAllowed = errors.New("invalid attachment type")

	// ErrInvalidLibrary indicates a library not owned by the content's creator
	ErrInvalidLibrary = errors.New("invalid library")
)

// Field error messages shared by the forms.
const (
	MsgRequired      = "This field is required."
	MsgInvalidChoice = "Select a valid choice."
	MsgNoFile        = "No file was submitted."
	MsgEmptyFile     = "The submitted file is empty."
	MsgInvalidNumber = "Enter a number."
)

// ValidationError collects field level and non-field errors of a form
// submission. Nothing is persisted when a ValidationError is returned.
type ValidationError struct {
	Fields   map[string][]string
	NonField []string
}

// NewValidationError returns an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add records a message for field. An empty field is a non-field error.
func (e *ValidationError) Add(field, msg string) {
	if field == "" {
		e.NonField = append(e.NonField, msg)
		return
	}
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// AddError records err as a non-field error.
func (e *ValidationError) AddError(err error) {
	e.Add("", err.Error())
}

// Field returns the first message recorded for field.
func (e *ValidationError) Field(field string) string {
	if e == nil || len(e.Fields[field]) == 0 {
		return ""
	}
	return e.Fields[field][0]
}

// HasErrors reports whether any message was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && (len(e.Fields) > 0 || len(e.NonField) > 0)
}

// OrNil returns e when it carries errors and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields)+len(e.NonField))
	parts = append(parts, e.NonField...)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], " ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is match sentinel errors recorded as non-field messages.
func (e *ValidationError) Is(target error) bool {
	for _, msg := range e.NonField {
		if msg == target.Error() {
			return true
		}
	}
	for _, msgs := range e.Fields {
		for _, msg := range msgs {
			if msg == target.Error() {
				return true
			}
		}
	}
	return false
}

// OpError represents a failed repository or storage operation
type OpError struct {
	Op  string
	ID  uuid.UUID
	Err error
}

func (e *OpError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
