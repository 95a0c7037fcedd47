package identity

import "fmt"

type (
	DuplicateIdentity struct {
		Email string
		// Field is the constraint that rejected the record (email or oauth_subject)
		Field string
	}

	NotFound struct {
		Email string
	}

	AlreadyLinked struct {
		Email    string
		Provider string
	}
)

func (d DuplicateIdentity) Error() string {
	if d.Field != "" && d.Field != "email" {
		return fmt.Sprintf("identity for %v conflicts on %v", d.Email, d.Field)
	}
	return fmt.Sprintf("identity %v already exists", d.Email)
}

func (n NotFound) Error() string {
	return fmt.Sprintf("identity %v not found", n.Email)
}

func (a AlreadyLinked) Error() string {
	return fmt.Sprintf("identity %v is already linked to provider %v", a.Email, a.Provider)
}

// Is makes errors.Is match on the error type, ignoring field values.
func (DuplicateIdentity) Is(target error) bool {
	_, ok := target.(DuplicateIdentity)
	return ok
}

func (NotFound) Is(target error) bool {
	_, ok := target.(NotFound)
	return ok
}

func (AlreadyLinked) Is(target error) bool {
	_, ok := target.(AlreadyLinked)
	return ok
}
