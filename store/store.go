package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/hotaru-social/hotaru/types"
)

var tracer = otel.Tracer("store")

// Store is the persistent repository layer for the federation subsystem.
type Store struct {
	db *gorm.DB
}

// NewStore returns a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindLocalUserByUsername returns a local account by username.
func (s *Store) FindLocalUserByUsername(ctx context.Context, username string) (types.LocalUser, error) {
	ctx, span := tracer.Start(ctx, "StoreFindLocalUserByUsername")
	defer span.End()

	var user types.LocalUser
	result := s.db.WithContext(ctx).Where("username = ?", username).First(&user)
	return user, result.Error
}

// FindLocalUserByID returns a local account by primary key.
func (s *Store) FindLocalUserByID(ctx context.Context, id string) (types.LocalUser, error) {
	ctx, span := tracer.Start(ctx, "StoreFindLocalUserByID")
	defer span.End()

	var user types.LocalUser
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&user)
	return user, result.Error
}

// CreateLocalUser creates a local account.
func (s *Store) CreateLocalUser(ctx context.Context, user types.LocalUser) (types.LocalUser, error) {
	ctx, span := tracer.Start(ctx, "StoreCreateLocalUser")
	defer span.End()

	result := s.db.WithContext(ctx).Create(&user)
	return user, result.Error
}

// LoadSignerKey loads and parses the private key of a local account by its
// primary key, for rehydrating persisted delivery jobs.
func (s *Store) LoadSignerKey(ctx context.Context, signerID string) (*rsa.PrivateKey, error) {
	user, err := s.FindLocalUserByID(ctx, signerID)
	if err != nil {
		return nil, err
	}
	return LoadKey(user)
}

// LoadKey parses a local user's PEM-encoded RSA private key.
func LoadKey(user types.LocalUser) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(user.Privatekey))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the key")
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DER encoded private key: %s", err.Error())
	}

	return priv, nil
}
