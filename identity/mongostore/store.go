// Package mongostore keeps identity records in a MongoDB collection.
//
// The collection carries a unique index on the normalized email and a
// partial unique index on the federated link, so the database itself
// decides the winner of concurrent signups.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrebq/idbox/identity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultDatabase is the default for Config.Database.
	DefaultDatabase = "idbox"

	// DefaultCollection is the default for Config.Collection.
	DefaultCollection = "identities"
)

type (
	// Config holds Store configuration.
	// A zero value is valid, see constants for default values.
	Config struct {
		Database   string
		Collection string
	}

	Store struct {
		coll *mongo.Collection
		now  func() time.Time
	}

	document struct {
		Email         string    `bson:"email"`
		EmailKey      string    `bson:"email_key"`
		FirstName     string    `bson:"first_name,omitempty"`
		LastName      string    `bson:"last_name,omitempty"`
		DateOfBirth   string    `bson:"date_of_birth,omitempty"`
		Gender        string    `bson:"gender,omitempty"`
		Country       string    `bson:"country,omitempty"`
		PasswordHash  string    `bson:"password_hash,omitempty"`
		OAuthProvider string    `bson:"oauth_provider,omitempty"`
		OAuthSubject  string    `bson:"oauth_subject,omitempty"`
		CreatedAt     time.Time `bson:"created_at"`
		UpdatedAt     time.Time `bson:"updated_at"`
	}
)

var _ identity.Store = (*Store)(nil)

// Connect dials uri and returns a Store on top of the new client.
// The caller owns the client and must disconnect it.
func Connect(ctx context.Context, uri string, cfg Config) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to mongodb, cause %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("unable to ping mongodb, cause %w", err)
	}
	s, err := New(ctx, client, cfg)
	if err != nil {
		client.Disconnect(context.Background())
		return nil, nil, err
	}
	return s, client, nil
}

// New creates the Store and makes sure the required indexes exist.
// This function panics if client is nil.
func New(ctx context.Context, client *mongo.Client, cfg Config) (*Store, error) {
	if client == nil {
		panic("client must be provided")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uidx_email_key"),
		},
		{
			Keys: bson.D{{Key: "oauth_provider", Value: 1}, {Key: "oauth_subject", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uidx_oauth").
				SetPartialFilterExpression(bson.M{"oauth_provider": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create identity indexes, cause %w", err)
	}
	return &Store{coll: coll, now: time.Now}, nil
}

func (s *Store) Create(ctx context.Context, r identity.Record) error {
	r = r.Normalized()
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	doc := toDocument(r)
	doc.CreatedAt, doc.UpdatedAt = now, now
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return identity.DuplicateIdentity{Email: r.Email, Field: duplicateField(err)}
	} else if err != nil {
		return fmt.Errorf("unable to store identity %v, cause %w", r.Email, err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, email string) (identity.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"email_key": identity.NormalizeEmail(email)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return identity.Record{}, identity.NotFound{Email: email}
	} else if err != nil {
		return identity.Record{}, fmt.Errorf("unable to lookup identity %v, cause %w", email, err)
	}
	return doc.record(), nil
}

// LinkOAuth is a single conditional update, the document is only modified
// when it carries no provider yet.
func (s *Store) LinkOAuth(ctx context.Context, email, provider, subject string) error {
	if provider == "" || subject == "" {
		return errors.New("mongostore: provider and subject are required to link an identity")
	}
	key := identity.NormalizeEmail(email)
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"email_key": key, "oauth_provider": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{
			"oauth_provider": provider,
			"oauth_subject":  subject,
			"updated_at":     s.now().UTC(),
		}})
	if mongo.IsDuplicateKeyError(err) {
		return identity.DuplicateIdentity{Email: email, Field: duplicateField(err)}
	} else if err != nil {
		return fmt.Errorf("unable to link identity %v to %v, cause %w", email, provider, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	current, err := s.Lookup(ctx, email)
	if err != nil {
		return err
	}
	return identity.AlreadyLinked{Email: email, Provider: current.OAuthProvider}
}

func toDocument(r identity.Record) document {
	return document{
		Email:         r.Email,
		EmailKey:      r.EmailKey,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		DateOfBirth:   r.DateOfBirth,
		Gender:        r.Gender,
		Country:       r.Country,
		PasswordHash:  r.PasswordHash,
		OAuthProvider: r.OAuthProvider,
		OAuthSubject:  r.OAuthSubject,
	}
}

func (d document) record() identity.Record {
	return identity.Record{
		Email:         d.Email,
		EmailKey:      d.EmailKey,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		DateOfBirth:   d.DateOfBirth,
		Gender:        d.Gender,
		Country:       d.Country,
		PasswordHash:  d.PasswordHash,
		OAuthProvider: d.OAuthProvider,
		OAuthSubject:  d.OAuthSubject,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func duplicateField(err error) string {
	if strings.Contains(err.Error(), "uidx_oauth") {
		return "oauth_subject"
	}
	return "email"
}
