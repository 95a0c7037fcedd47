// Package sqlstore keeps identity records in a sqlite database.
//
// Email uniqueness is enforced by a unique index on the normalized email,
// lookups go through an xxhash of the same key so the hot path hits a small
// integer index before comparing the full text.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andrebq/idbox/identity"
	"github.com/cespare/xxhash/v2"
	"github.com/mattn/go-sqlite3"
)

type (
	Store struct {
		db  *sql.DB
		now func() time.Time
	}
)

var _ identity.Store = (*Store)(nil)

const recordColumns = `email, email_key, first_name, last_name, date_of_birth, gender, country,
	password_hash, oauth_provider, oauth_subject, created_at, updated_at`

func openDatabase(ctx context.Context, file string) (*sql.DB, error) {
	if dir := filepath.Dir(file); dir != "." {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return nil, fmt.Errorf("unable to create directory %v to store identities, cause %w", dir, err)
		}
	}
	connstr := fmt.Sprintf("file:%v?_journal=wal&_busy_timeout=5000&_txlock=immediate&mode=rwc", file)
	conn, err := sql.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %v", file, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping identity database %v, cause %v", file, err)
	}
	return conn, nil
}

// Open loads (or creates) the identity database stored at file.
func Open(ctx context.Context, file string) (*Store, error) {
	conn, err := openDatabase(ctx, file)
	if err != nil {
		return nil, err
	}
	s := &Store{db: conn, now: time.Now}
	err = s.init(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to init identity database %v, cause %w", file, err)
	}
	err = verifySchema(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Create(ctx context.Context, r identity.Record) error {
	r = r.Normalized()
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction, cause %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `insert into identities(email, email_key, email_hash64, first_name, last_name, date_of_birth,
		gender, country, password_hash, oauth_provider, oauth_subject, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Email, r.EmailKey, emailHash(r.EmailKey),
		nullable(r.FirstName), nullable(r.LastName), nullable(r.DateOfBirth),
		nullable(r.Gender), nullable(r.Country), nullable(r.PasswordHash),
		nullable(r.OAuthProvider), nullable(r.OAuthSubject), now, now)
	if field, dup := uniqueViolation(err); dup {
		return identity.DuplicateIdentity{Email: r.Email, Field: field}
	} else if err != nil {
		return fmt.Errorf("unable to store identity %v, cause %w", r.Email, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit identity %v, cause %w", r.Email, err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, email string) (identity.Record, error) {
	key := identity.NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx, `select `+recordColumns+` from identities where email_hash64 = ? and email_key = ?`,
		emailHash(key), key)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Record{}, identity.NotFound{Email: email}
	} else if err != nil {
		return identity.Record{}, fmt.Errorf("unable to lookup identity %v, cause %w", email, err)
	}
	return r, nil
}

// LinkOAuth attaches the provider account to the record only when it has no
// federated link yet, an existing link is never overwritten.
func (s *Store) LinkOAuth(ctx context.Context, email, provider, subject string) error {
	if provider == "" || subject == "" {
		return errors.New("sqlstore: provider and subject are required to link an identity")
	}
	key := identity.NormalizeEmail(email)
	hash := emailHash(key)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction, cause %w", err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `update identities set oauth_provider = ?, oauth_subject = ?, updated_at = ?
		where email_hash64 = ? and email_key = ? and oauth_provider is null`,
		provider, subject, s.now().UTC(), hash, key)
	if field, dup := uniqueViolation(err); dup {
		return identity.DuplicateIdentity{Email: email, Field: field}
	} else if err != nil {
		return fmt.Errorf("unable to link identity %v to %v, cause %w", email, provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to link identity %v to %v, cause %w", email, provider, err)
	}
	if n == 0 {
		var current sql.NullString
		err = tx.QueryRowContext(ctx, `select oauth_provider from identities where email_hash64 = ? and email_key = ?`, hash, key).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return identity.NotFound{Email: email}
		} else if err != nil {
			return fmt.Errorf("unable to check current link of %v, cause %w", email, err)
		}
		return identity.AlreadyLinked{Email: email, Provider: current.String}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit link of %v, cause %w", email, err)
	}
	return nil
}

// CountEmail returns how many rows exist for the given email.
// Anything other than 0 or 1 means the uniqueness constraint is broken.
func (s *Store) CountEmail(ctx context.Context, email string) (int, error) {
	key := identity.NormalizeEmail(email)
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from identities where email_key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unable to count identities for %v, cause %w", email, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	for _, cmd := range []string{
		`create table if not exists identities(
			identity_id integer primary key autoincrement,
			email text not null,
			email_key text not null,
			email_hash64 integer not null,
			first_name text,
			last_name text,
			date_of_birth text,
			gender text,
			country text,
			password_hash text,
			oauth_provider text,
			oauth_subject text,
			created_at timestamp not null,
			updated_at timestamp not null,
			check (password_hash is not null or (oauth_provider is not null and oauth_subject is not null))
		)`,
		`create unique index if not exists uidx_identities_email_key
			on identities(email_key)`,
		`create index if not exists idx_identities_email_hash64
			on identities(email_hash64)`,
		`create unique index if not exists uidx_identities_oauth
			on identities(oauth_provider, oauth_subject)
			where oauth_provider is not null`,
	} {
		_, err := s.db.ExecContext(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (identity.Record, error) {
	var r identity.Record
	var first, last, dob, gender, country, hash, provider, subject sql.NullString
	err := row.Scan(&r.Email, &r.EmailKey, &first, &last, &dob, &gender, &country,
		&hash, &provider, &subject, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return identity.Record{}, err
	}
	r.FirstName = first.String
	r.LastName = last.String
	r.DateOfBirth = dob.String
	r.Gender = gender.String
	r.Country = country.String
	r.PasswordHash = hash.String
	r.OAuthProvider = provider.String
	r.OAuthSubject = subject.String
	return r, nil
}

func emailHash(key string) int64 {
	return int64(xxhash.Sum64String(key))
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// uniqueViolation reports whether err comes from a unique index and which
// field triggered it.
func uniqueViolation(err error) (string, bool) {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return "", false
	}
	if strings.Contains(sqlErr.Error(), "oauth_") {
		return "oauth_subject", true
	}
	return "email", true
}
