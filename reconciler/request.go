package reconciler

import (
	"net/mail"
	"strings"
	"time"

	"github.com/andrebq/idbox/identity"
)

const dateOfBirthLayout = "2006-01-02"

type (
	// SignupRequest carries the profile of a new password account.
	SignupRequest struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		DateOfBirth string `json:"date_of_birth"`
		Gender      string `json:"gender"`
		Country     string `json:"country"`
		Email       string `json:"email"`
		Password    string `json:"password"`
	}
)

func (s SignupRequest) trimmed() SignupRequest {
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	s.DateOfBirth = strings.TrimSpace(s.DateOfBirth)
	s.Gender = strings.TrimSpace(s.Gender)
	s.Country = strings.TrimSpace(s.Country)
	s.Email = strings.TrimSpace(s.Email)
	return s
}

func (s SignupRequest) validate() error {
	required := []struct {
		name, value string
	}{
		{"first_name", s.FirstName},
		{"last_name", s.LastName},
		{"date_of_birth", s.DateOfBirth},
		{"gender", s.Gender},
		{"country", s.Country},
		{"email", s.Email},
		{"password", s.Password},
	}
	for _, f := range required {
		if f.value == "" {
			return invalidInput("%v is required", f.name)
		}
	}
	if err := validEmail(s.Email); err != nil {
		return err
	}
	if _, err := time.Parse(dateOfBirthLayout, s.DateOfBirth); err != nil {
		return invalidInput("date_of_birth must use the YYYY-MM-DD format")
	}
	return nil
}

func (s SignupRequest) record(hash string) identity.Record {
	return identity.Record{
		Email:        s.Email,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		DateOfBirth:  s.DateOfBirth,
		Gender:       s.Gender,
		Country:      s.Country,
		PasswordHash: hash,
	}
}

// validEmail accepts a bare address, display names are rejected.
func validEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalidInput("email %q is not a valid address", email)
	}
	return nil
}
