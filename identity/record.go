package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

type (
	// Record is the durable representation of one registered user.
	Record struct {
		Email    string
		EmailKey string

		FirstName   string
		LastName    string
		DateOfBirth string
		Gender      string
		Country     string

		// PasswordHash is empty for accounts without a password path
		PasswordHash string

		OAuthProvider string
		OAuthSubject  string

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Store keeps identity records keyed by their normalized email.
	//
	// Implementations must enforce email uniqueness at the storage layer,
	// two concurrent Create calls for the same email must result in exactly
	// one record and one DuplicateIdentity error.
	Store interface {
		Create(ctx context.Context, r Record) error
		Lookup(ctx context.Context, email string) (Record, error)
		LinkOAuth(ctx context.Context, email, provider, subject string) error
	}
)

var (
	errMissingEmail      = errors.New("identity: email is required")
	errMissingAuthMethod = errors.New("identity: record must have a password hash or a federated link")
	errPartialFederation = errors.New("identity: oauth provider and subject must be set together")
)

// NormalizeEmail returns the key used to compare emails.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r Record) HasPassword() bool {
	return r.PasswordHash != ""
}

func (r Record) HasFederation() bool {
	return r.OAuthProvider != "" && r.OAuthSubject != ""
}

// LinkedTo reports whether the record is federated with the given provider account
func (r Record) LinkedTo(provider, subject string) bool {
	return r.OAuthProvider == provider && r.OAuthSubject == subject
}

// Validate checks the invariants every stored record must satisfy.
func (r Record) Validate() error {
	if NormalizeEmail(r.Email) == "" {
		return errMissingEmail
	}
	if (r.OAuthProvider == "") != (r.OAuthSubject == "") {
		return errPartialFederation
	}
	if !r.HasPassword() && !r.HasFederation() {
		return errMissingAuthMethod
	}
	return nil
}

// Normalized returns a copy of r with EmailKey derived from Email.
func (r Record) Normalized() Record {
	r.Email = strings.TrimSpace(r.Email)
	r.EmailKey = NormalizeEmail(r.Email)
	return r
}
