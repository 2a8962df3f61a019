package libcloud

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

func (s *service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	verr := NewValidationError()

	username := strings.TrimSpace(req.Username)
	switch {
	case username == "":
		verr.Add(FieldUsername, MsgRequired)
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		verr.Add(FieldUsername, fmt.Sprintf("Ensure this value has at most %d characters.", MaxUsernameLength))
	case !usernamePattern.MatchString(username):
		verr.Add(FieldUsername, "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	case username == SentinelUsername:
		verr.Add(FieldUsername, ErrUsernameTaken.Error())
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		verr.Add(FieldEmail, MsgRequired)
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		verr.Add(FieldEmail, "Enter a valid email address.")
	}

	if req.Password1 == "" {
		verr.Add(FieldPassword1, MsgRequired)
	}
	if req.Password2 == "" {
		verr.Add(FieldPassword2, MsgRequired)
	}
	if req.Password1 != "" && req.Password2 != "" {
		switch {
		case req.Password1 != req.Password2:
			verr.Add(FieldPassword2, "The two password fields didn't match.")
		case utf8.RuneCountInString(req.Password1) < MinPasswordLength:
			verr.Add(FieldPassword2, fmt.Sprintf("This password is too short. It must contain at least %d characters.", MinPasswordLength))
		case strings.Trim(req.Password1, "0123456789") == "":
			verr.Add(FieldPassword2, "This password is entirely numeric.")
		}
	}

	if _, ok := verr.Fields[FieldUsername]; !ok && username != "" {
		if _, err := s.repository.GetUserByUsername(ctx, username); err == nil {
			verr.Add(FieldUsername, ErrUsernameTaken.Error())
		} else if !errors.Is(err, ErrUserNotFound) {
			return nil, &OpError{Op: "lookup user", Err: err}
		}
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password1), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.repository.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			verr.Add(FieldUsername, ErrUsernameTaken.Error())
			return nil, verr
		}
		return nil, &OpError{Op: "create user", ID: user.ID, Err: err}
	}

	s.eventSink.UserRegistered(ctx, user)
	return user, nil
}

func (s *service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repository.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, &OpError{Op: "lookup user", Err: err}
	}
	if len(user.PasswordHash) == 0 {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repository.GetUser(ctx, id)
}

// DeleteUser removes an account. Content the user created is handed to the
// sentinel user first, then the user's schema and library rows cascade.
func (s *service) DeleteUser(ctx context.Context, username string) error {
	if username == SentinelUsername {
		return fmt.Errorf("the %q user cannot be deleted", SentinelUsername)
	}

	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		user, err := tx.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		sentinel, err := s.sentinelUser(ctx, tx)
		if err != nil {
			return err
		}
		if err := tx.ReassignContent(ctx, user.ID, sentinel.ID); err != nil {
			return &OpError{Op: "reassign content", ID: user.ID, Err: err}
		}
		if err := tx.DeleteUser(ctx, user.ID); err != nil {
			return &OpError{Op: "delete user", ID: user.ID, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.eventSink.UserDeleted(ctx, username)
	return nil
}

// sentinelUser returns the "deleted" user, creating it on first use. It has
// no password and cannot log in.
func (s *service) sentinelUser(ctx context.Context, repo Repository) (*User, error) {
	user, err := repo.GetUserByUsername(ctx, SentinelUsername)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	user = &User{
		ID:        uuid.New(),
		Username:  SentinelUsername,
		CreatedAt: s.now(),
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, &OpError{Op: "create sentinel user", Err: err}
	}
	return user, nil
}
