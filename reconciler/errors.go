package reconciler

import "fmt"

type (
	// Kind is the short machine readable name of an expected failure.
	Kind string

	// Error is an expected failure the caller can act upon. Anything else
	// returned by the Reconciler is an internal fault.
	Error struct {
		Kind   Kind
		Detail string
		cause  error
	}
)

const (
	EmailAlreadyRegistered = Kind("email_already_registered")
	InvalidCredentials     = Kind("invalid_credentials")
	Unauthenticated        = Kind("unauthenticated")
	InvalidProviderToken   = Kind("invalid_provider_token")
	AccountMissing         = Kind("account_missing")
	IdentityConflict       = Kind("identity_conflict")
	InvalidInput           = Kind("invalid_input")
)

var (
	ErrEmailAlreadyRegistered = Error{Kind: EmailAlreadyRegistered}
	ErrInvalidCredentials     = Error{Kind: InvalidCredentials}
	ErrUnauthenticated        = Error{Kind: Unauthenticated}
	ErrInvalidProviderToken   = Error{Kind: InvalidProviderToken}
	ErrAccountMissing         = Error{Kind: AccountMissing}
	ErrIdentityConflict       = Error{Kind: IdentityConflict}
	ErrInvalidInput           = Error{Kind: InvalidInput}
)

var details = map[Kind]string{
	EmailAlreadyRegistered: "Email already registered",
	InvalidCredentials:     "Incorrect username or password",
	Unauthenticated:        "Could not validate credentials",
	InvalidProviderToken:   "Invalid provider token",
	AccountMissing:         "Account no longer exists",
	IdentityConflict:       "Provider account is linked to another email",
	InvalidInput:           "Invalid input",
}

func failure(kind Kind, cause error) Error {
	return Error{Kind: kind, Detail: details[kind], cause: cause}
}

func invalidInput(format string, args ...interface{}) Error {
	return Error{Kind: InvalidInput, Detail: fmt.Sprintf(format, args...)}
}

func (e Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = details[e.Kind]
	}
	if e.cause != nil {
		return fmt.Sprintf("%v: %v, cause %v", e.Kind, msg, e.cause)
	}
	return fmt.Sprintf("%v: %v", e.Kind, msg)
}

func (e Error) Unwrap() error {
	return e.cause
}

// Is matches any Error with the same Kind, an Error without a Kind
// matches every Error.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}
