package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/andrebq/idbox/identity"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s, cleanup := tempStore(ctx, t)
	defer cleanup()

	err := s.Create(ctx, identity.Record{
		Email:        "Alice@Example.com",
		FirstName:    "Alice",
		LastName:     "Liddell",
		DateOfBirth:  "1990-05-04",
		Gender:       "female",
		Country:      "UK",
		PasswordHash: "$argon2id$fake",
	})
	require.NoError(t, err)

	r, err := s.Lookup(ctx, "alice@EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, "Alice@Example.com", r.Email)
	require.Equal(t, "alice@example.com", r.EmailKey)
	require.Equal(t, "Liddell", r.LastName)
	require.Equal(t, "1990-05-04", r.DateOfBirth)
	require.True(t, r.HasPassword())
	require.False(t, r.HasFederation())
	require.False(t, r.CreatedAt.IsZero())

	_, err = s.Lookup(ctx, "nobody@example.com")
	require.True(t, errors.Is(err, identity.NotFound{}), "expecting NotFound got %v", err)
}

func TestDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	s, cleanup := tempStore(ctx, t)
	defer cleanup()

	rec := identity.Record{Email: "alice@example.com", PasswordHash: "h1"}
	require.NoError(t, s.Create(ctx, rec))
	err := s.Create(ctx, identity.Record{Email: "ALICE@example.com", OAuthProvider: "google", OAuthSubject: "1"})
	var dup identity.DuplicateIdentity
	require.True(t, errors.As(err, &dup), "expecting DuplicateIdentity got %v", err)
	require.Equal(t, "email", dup.Field)

	n, err := s.CountEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestConcurrentCreateHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	s, cleanup := tempStore(ctx, t)
	defer cleanup()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, identity.Record{Email: "race@example.com", PasswordHash: fmt.Sprintf("h%v", i)})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, identity.DuplicateIdentity{}):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, dup)
	n, err := s.CountEmail(ctx, "race@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCreateRejectsInvalidRecord(t *testing.T) {
	ctx := context.Background()
	s, cleanup := tempStore(ctx, t)
	defer cleanup()

	require.Error(t, s.Create(ctx, identity.Record{Email: "nomethod@example.com"}))
	n, err := s.CountEmail(ctx, "nomethod@example.com")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLinkOAuth(t *testing.T) {
	ctx := context.Background()
	s, cleanup := tempStore(ctx, t)
	defer cleanup()

	require.NoError(t, s.Create(ctx, identity.Record{Email: "alice@example.com", PasswordHash: "h"}))
	require.NoError(t, s.LinkOAuth(ctx, "Alice@example.com", "google", "sub-1"))

	r, err := s.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, r.HasPassword())
	require.True(t, r.LinkedTo("google", "sub-1"))

	err = s.LinkOAuth(ctx, "alice@example.com", "google", "sub-2")
	require.True(t, errors.Is(err, identity.AlreadyLinked{}), "expecting AlreadyLinked got %v", err)
	r, err = s.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "sub-1", r.OAuthSubject, "existing link must not be overwritten")

	err = s.LinkOAuth(ctx, "ghost@example.com", "google", "sub-3")
	require.True(t, errors.Is(err, identity.NotFound{}), "expecting NotFound got %v", err)

	require.NoError(t, s.Create(ctx, identity.Record{Email: "carol@example.com", PasswordHash: "h"}))
	err = s.LinkOAuth(ctx, "carol@example.com", "google", "sub-1")
	var dup identity.DuplicateIdentity
	require.True(t, errors.As(err, &dup), "expecting DuplicateIdentity got %v", err)
	require.Equal(t, "oauth_subject", dup.Field)
}

func TestVerifySchema(t *testing.T) {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "idbox-tests")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	db, err := sql.Open("sqlite3", filepath.Join(dir, "legacy.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `create table identities(email text, email_key text)`)
	require.NoError(t, err)

	err = verifySchema(ctx, db)
	require.True(t, errors.As(err, &MissingEmailConstraint{}), "expecting MissingEmailConstraint got %v", err)

	for _, ddl := range []string{
		`create unique index uidx_partial on identities(email_key) where email is not null`,
		`create unique index uidx_pair on identities(email_key, email)`,
	} {
		_, err = db.ExecContext(ctx, ddl)
		require.NoError(t, err)
		err = verifySchema(ctx, db)
		require.True(t, errors.As(err, &MissingEmailConstraint{}), "%v should not satisfy the email constraint, got %v", ddl, err)
	}

	_, err = db.ExecContext(ctx, `create unique index uidx_legacy on identities(email_key)`)
	require.NoError(t, err)
	require.NoError(t, verifySchema(ctx, db))
}

func tempStore(ctx context.Context, t *testing.T) (*Store, func()) {
	dir, err := os.MkdirTemp("", "idbox-tests")
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(ctx, filepath.Join(dir, "identities.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s, func() {
		err := s.Close()
		if err != nil {
			t.Log("unable to close store", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}
